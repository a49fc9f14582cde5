package handler

import (
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"gatekeeper/internal/domain"
	"gatekeeper/internal/service"
)

// maxMessageLength is Telegram's hard cap on message text.
const maxMessageLength = 4096

// scanReportDetailLimit caps how many flagged members are itemized in
// the scan summary before collapsing into a count.
const scanReportDetailLimit = 10

// handleListBlocked renders the blocked roster for the current chat.
func (h *Handler) handleListBlocked(c tele.Context) error {
	blocked, err := h.admin.ListBlocked(c.Chat().ID)
	if err != nil {
		h.logger.Error("Failed to list blocked users",
			zap.Int64("chat_id", c.Chat().ID), zap.Error(err))
		return c.Send("Could not load the blocked list, try again later.")
	}

	if len(blocked) == 0 {
		return c.Send("No blocked users in this chat.")
	}

	return h.sendChunked(c, renderBlockedList(blocked))
}

// handleScanUsers re-runs detection over all stored members and reports
// what got flagged.
func (h *Handler) handleScanUsers(c tele.Context) error {
	if err := c.Send("Scanning stored members for automated accounts..."); err != nil {
		h.logger.Warn("Failed to send scan notice", zap.Error(err))
	}

	report, err := h.admin.Scan()
	if err != nil {
		h.logger.Error("Failed to scan users",
			zap.Int64("chat_id", c.Chat().ID), zap.Error(err))
		return c.Send("Scan failed, try again later.")
	}

	return h.sendChunked(c, renderScanReport(report))
}

// handleUnblock clears a blocked record by user id.
func (h *Handler) handleUnblock(c tele.Context) error {
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Usage: /unblock <user_id>")
	}

	userID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("Usage: /unblock <user_id>")
	}

	cleared, err := h.admin.Unblock(c.Chat().ID, userID)
	if err != nil {
		h.logger.Error("Failed to unblock user",
			zap.Int64("chat_id", c.Chat().ID), zap.Int64("user_id", userID), zap.Error(err))
		return c.Send("Could not unblock, try again later.")
	}
	if !cleared {
		return c.Send("That user is not blocked in this chat.")
	}

	return c.Send("User unblocked. They will be challenged again on their next join.")
}

func (h *Handler) sendChunked(c tele.Context, text string) error {
	for _, chunk := range chunkMessage(text, maxMessageLength) {
		if err := c.Send(chunk); err != nil {
			return err
		}
	}
	return nil
}

func renderBlockedList(blocked []domain.UserRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Blocked users (%d):\n", len(blocked))
	for _, u := range blocked {
		fmt.Fprintf(&b, "- %s, id %d\n", u.Label(), u.UserID)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderScanReport(r *service.ScanReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Scan complete: %d member(s) checked, %d flagged", r.Scanned, len(r.Flagged))
	if r.Errors > 0 {
		fmt.Fprintf(&b, ", %d error(s)", r.Errors)
	}

	if len(r.Flagged) == 0 {
		return b.String()
	}

	b.WriteString("\n\nBlocked:\n")
	for i, f := range r.Flagged {
		if i == scanReportDetailLimit {
			fmt.Fprintf(&b, "...and %d more", len(r.Flagged)-scanReportDetailLimit)
			break
		}
		record := domain.UserRecord{DisplayName: f.DisplayName, Username: f.Username}
		fmt.Fprintf(&b, "- %s, id %d: %s\n", record.Label(), f.UserID, f.Reason)
	}
	return strings.TrimRight(b.String(), "\n")
}

// chunkMessage splits text into pieces that fit the platform limit,
// preferring line boundaries. A single oversized line is split hard.
func chunkMessage(text string, limit int) []string {
	if len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	for _, line := range strings.Split(text, "\n") {
		for len(line) > limit {
			if current.Len() > 0 {
				chunks = append(chunks, current.String())
				current.Reset()
			}
			chunks = append(chunks, line[:limit])
			line = line[limit:]
		}

		extra := len(line)
		if current.Len() > 0 {
			extra++ // the joining newline
		}
		if current.Len()+extra > limit {
			chunks = append(chunks, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		}
		current.WriteString(line)
	}

	if current.Len() > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}
