package handler

import (
	"strings"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"gatekeeper/internal/config"
	"gatekeeper/internal/middleware"
	"gatekeeper/internal/service"
)

// Handler wires Telegram updates into the verification core and renders
// its outcomes back into the chat.
type Handler struct {
	bot      *tele.Bot
	verifier *service.VerificationService
	admin    *service.AdminService
	messages config.Messages
	logger   *zap.Logger
}

// NewHandler creates a new handler instance
func NewHandler(
	bot *tele.Bot,
	verifier *service.VerificationService,
	admin *service.AdminService,
	messages config.Messages,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		bot:      bot,
		verifier: verifier,
		admin:    admin,
		messages: messages,
		logger:   logger,
	}
}

// RegisterHandlers registers all bot handlers
func (h *Handler) RegisterHandlers() {
	adminOnly := middleware.AdminOnly(h.bot, h.logger)

	// Membership events
	h.bot.Handle(tele.OnUserJoined, h.handleUserJoined)
	h.bot.Handle(tele.OnUserLeft, h.handleUserLeft)

	// Challenge answers
	h.bot.Handle(tele.OnText, h.handleText)

	// Admin commands
	h.bot.Handle("/banned", h.handleListBlocked, adminOnly)
	h.bot.Handle("/listbanned", h.handleListBlocked, adminOnly)
	h.bot.Handle("/scanusers", h.handleScanUsers, adminOnly)
	h.bot.Handle("/unblock", h.handleUnblock, adminOnly)
}

// displayName joins first and last name the way Telegram shows them.
// The raw value is what detection sees; rendering falls back elsewhere.
func displayName(u tele.User) string {
	name := strings.TrimSpace(u.FirstName)
	if u.LastName != "" {
		name = strings.TrimSpace(name + " " + u.LastName)
	}
	return name
}
