package middleware

import (
	"go.uber.org/zap"
	tele "gopkg.in/telebot.v3"
)

// AdminOnly creates middleware that limits a handler to group chat
// administrators.
func AdminOnly(bot *tele.Bot, logger *zap.Logger) tele.MiddlewareFunc {
	return func(next tele.HandlerFunc) tele.HandlerFunc {
		return func(c tele.Context) error {
			chat := c.Chat()
			sender := c.Sender()
			if chat == nil || sender == nil {
				return nil
			}

			if chat.Type == tele.ChatPrivate {
				return c.Send("This command only works inside a group chat.")
			}

			member, err := bot.ChatMemberOf(chat, sender)
			if err != nil {
				logger.Error("Failed to check member role",
					zap.Int64("chat_id", chat.ID), zap.Int64("user_id", sender.ID), zap.Error(err))
				return c.Send("Could not check permissions, try again later.")
			}

			if member.Role != tele.Creator && member.Role != tele.Administrator {
				return c.Send("Only administrators can use this command.")
			}

			return next(c)
		}
	}
}
