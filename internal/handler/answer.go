package handler

import (
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"gatekeeper/internal/service"
)

// handleText routes chat messages into the answer path. Members without
// a pending challenge produce an ignored outcome, so ordinary chatter
// costs one store lookup and nothing else.
func (h *Handler) handleText(c tele.Context) error {
	sender := c.Sender()
	if sender == nil || c.Chat() == nil || sender.IsBot {
		return nil
	}

	text := strings.TrimSpace(c.Text())
	if text == "" || strings.HasPrefix(text, "/") {
		return nil
	}

	outcome, err := h.verifier.HandleAnswer(service.AnswerEvent{
		ChatID: c.Chat().ID,
		UserID: sender.ID,
		Text:   text,
	})
	if err != nil {
		// Transient store trouble: the member keeps their pending attempt
		// and the sweeper settles it if it never recovers.
		h.logger.Error("Failed to handle answer",
			zap.Int64("chat_id", c.Chat().ID),
			zap.Int64("user_id", sender.ID),
			zap.Error(err))
		return nil
	}

	switch outcome.Kind {
	case service.OutcomeVerified:
		return c.Send(h.messages.RenderSuccess(renderName(outcome)))
	case service.OutcomeRetry:
		return c.Send(h.messages.RenderRetry(renderName(outcome), outcome.Question, outcome.AttemptsLeft))
	}
	return nil
}
