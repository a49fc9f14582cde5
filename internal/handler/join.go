package handler

import (
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"gatekeeper/internal/service"
)

// handleUserJoined runs the admission gate for every member in a join
// update. One failing member must not keep the rest from being gated.
func (h *Handler) handleUserJoined(c tele.Context) error {
	msg := c.Message()
	if msg == nil || c.Chat() == nil {
		return nil
	}

	joined := msg.UsersJoined
	if len(joined) == 0 && msg.UserJoined != nil {
		joined = []tele.User{*msg.UserJoined}
	}

	for _, user := range joined {
		if user.ID == h.bot.Me.ID {
			continue
		}
		if err := h.processJoin(c, user); err != nil {
			h.logger.Error("Failed to handle join",
				zap.Int64("chat_id", c.Chat().ID),
				zap.Int64("user_id", user.ID),
				zap.Error(err))
		}
	}
	return nil
}

func (h *Handler) processJoin(c tele.Context, user tele.User) error {
	outcome, err := h.verifier.HandleJoin(service.JoinEvent{
		ChatID:      c.Chat().ID,
		UserID:      user.ID,
		DisplayName: displayName(user),
		Username:    user.Username,
		IsBot:       user.IsBot,
	})
	if err != nil {
		return err
	}

	switch outcome.Kind {
	case service.OutcomeReminded:
		// The challenge message itself is sent by the enforcer; only the
		// repeat of an already pending question is rendered here.
		return c.Send(h.messages.RenderWelcome(renderName(outcome), outcome.Question))
	case service.OutcomeBlocked:
		return c.Send(h.messages.RenderBotDetected(renderName(outcome), outcome.Username))
	}
	return nil
}

// handleUserLeft records departures. Leaving never resolves an attempt,
// so this is informational only.
func (h *Handler) handleUserLeft(c tele.Context) error {
	msg := c.Message()
	if msg == nil || msg.UserLeft == nil || c.Chat() == nil {
		return nil
	}
	if msg.UserLeft.ID == h.bot.Me.ID {
		return nil
	}

	err := h.verifier.HandleLeave(service.LeaveEvent{
		ChatID:      c.Chat().ID,
		UserID:      msg.UserLeft.ID,
		DisplayName: displayName(*msg.UserLeft),
	})
	if err != nil {
		h.logger.Error("Failed to handle leave",
			zap.Int64("chat_id", c.Chat().ID),
			zap.Int64("user_id", msg.UserLeft.ID),
			zap.Error(err))
	}
	return nil
}

// renderName picks a printable identity for chat messages: the display
// name, the handle, or the bare user reference as a last resort.
func renderName(o service.Outcome) string {
	if o.DisplayName != "" {
		return o.DisplayName
	}
	if o.Username != "" {
		return "@" + o.Username
	}
	return "new member"
}
