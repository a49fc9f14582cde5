package telegram

import (
	"strconv"

	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"

	"gatekeeper/internal/config"
	"gatekeeper/internal/domain"
)

// Enforcer executes enforcement intents through the Telegram Bot API.
// It is the only place the verification core touches the platform, so
// every method maps one intent to one API call.
type Enforcer struct {
	bot         *tele.Bot
	messages    config.Messages
	adminChatID int64
	logger      *zap.Logger
}

// NewEnforcer creates a new enforcer. When adminChatID is zero, admin
// notifications go to the chat administrators' DMs instead.
func NewEnforcer(bot *tele.Bot, messages config.Messages, adminChatID int64, logger *zap.Logger) *Enforcer {
	return &Enforcer{
		bot:         bot,
		messages:    messages,
		adminChatID: adminChatID,
		logger:      logger,
	}
}

// SendChallenge posts the challenge into the chat and returns a handle
// to the sent message for later deletion.
func (e *Enforcer) SendChallenge(chatID, userID int64, displayName, question string) (domain.MessageRef, error) {
	msg, err := e.bot.Send(tele.ChatID(chatID), e.messages.RenderWelcome(displayName, question))
	if err != nil {
		return "", err
	}
	return domain.MessageRef(strconv.Itoa(msg.ID)), nil
}

// RestrictMember mutes a member until they verify.
func (e *Enforcer) RestrictMember(chatID, userID int64) error {
	return e.bot.Restrict(&tele.Chat{ID: chatID}, &tele.ChatMember{
		User:   &tele.User{ID: userID},
		Rights: tele.NoRights(),
	})
}

// LiftRestriction restores a verified member's default rights.
func (e *Enforcer) LiftRestriction(chatID, userID int64) error {
	return e.bot.Restrict(&tele.Chat{ID: chatID}, &tele.ChatMember{
		User:   &tele.User{ID: userID},
		Rights: tele.NoRestrictions(),
	})
}

// ExpelMember removes a member from the chat.
func (e *Enforcer) ExpelMember(chatID, userID int64) error {
	return e.bot.Ban(&tele.Chat{ID: chatID}, &tele.ChatMember{
		User: &tele.User{ID: userID},
	})
}

// DeleteMessage removes a previously sent challenge message.
func (e *Enforcer) DeleteMessage(chatID int64, ref domain.MessageRef) error {
	if ref == "" {
		return nil
	}
	return e.bot.Delete(tele.StoredMessage{
		MessageID: string(ref),
		ChatID:    chatID,
	})
}

// NotifyAdmins delivers text to the configured admin chat, or to each
// chat administrator's DM when none is configured. Individual DM
// failures are expected (admins may not have started the bot) and are
// only logged.
func (e *Enforcer) NotifyAdmins(chatID int64, text string) error {
	if e.adminChatID != 0 {
		_, err := e.bot.Send(tele.ChatID(e.adminChatID), text)
		return err
	}

	admins, err := e.bot.AdminsOf(&tele.Chat{ID: chatID})
	if err != nil {
		return err
	}

	for _, admin := range admins {
		if admin.User == nil || admin.User.IsBot {
			continue
		}
		if _, err := e.bot.Send(&tele.User{ID: admin.User.ID}, text); err != nil {
			e.logger.Debug("Admin notification skipped",
				zap.Int64("admin_id", admin.User.ID), zap.Error(err))
		}
	}
	return nil
}
