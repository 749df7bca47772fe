package utils

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"
)

// TelegramMessenger is the Telegram Bot API side of services.Messenger.
type TelegramMessenger struct {
	bot         *telego.Bot
	adminChatID int64
	log         *slog.Logger
}

func NewTelegramMessenger(token string, adminChatID int64, logger *slog.Logger) (*TelegramMessenger, error) {
	bot, err := telego.NewBot(token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	return &TelegramMessenger{bot: bot, adminChatID: adminChatID, log: logger}, nil
}

func (m *TelegramMessenger) IsChannelMember(ctx context.Context, platformID, chatID int64) (bool, error) {
	member, err := m.bot.GetChatMember(ctx, &telego.GetChatMemberParams{
		ChatID: tu.ID(chatID),
		UserID: platformID,
	})
	if err != nil {
		return false, fmt.Errorf("get chat member: %w", err)
	}
	switch member.MemberStatus() {
	case "creator", "administrator", "member":
		return true, nil
	case "restricted":
		if r, ok := member.(*telego.ChatMemberRestricted); ok {
			return r.IsMember, nil
		}
	}
	return false, nil
}

func (m *TelegramMessenger) SendMessage(ctx context.Context, platformID int64, text string) error {
	_, err := m.bot.SendMessage(ctx, tu.Message(tu.ID(platformID), text))
	return err
}

func (m *TelegramMessenger) SendGift(ctx context.Context, platformID int64, giftRef, text string) (bool, error) {
	if giftRef == "" {
		return false, errors.New("gift has no telegram reference")
	}
	err := m.bot.SendGift(ctx, &telego.SendGiftParams{
		UserID: platformID,
		GiftID: giftRef,
		Text:   text,
	})
	if err != nil {
		return false, err
	}
	return true, nil
}

func (m *TelegramMessenger) NotifyAdmin(ctx context.Context, text string) error {
	if m.adminChatID == 0 {
		m.log.Warn("admin notification dropped, ADMIN_CHAT_ID unset", "text", text)
		return nil
	}
	_, err := m.bot.SendMessage(ctx, tu.Message(tu.ID(m.adminChatID), text))
	return err
}

// LogMessenger stands in for Telegram when no bot token is configured. It
// treats every user as a member of every channel.
type LogMessenger struct {
	log *slog.Logger
}

func NewLogMessenger(logger *slog.Logger) *LogMessenger {
	return &LogMessenger{log: logger}
}

func (m *LogMessenger) IsChannelMember(_ context.Context, platformID, chatID int64) (bool, error) {
	return true, nil
}

func (m *LogMessenger) SendMessage(_ context.Context, platformID int64, text string) error {
	m.log.Info("message", "platform_id", platformID, "text", text)
	return nil
}

func (m *LogMessenger) SendGift(_ context.Context, platformID int64, giftRef, text string) (bool, error) {
	m.log.Info("gift", "platform_id", platformID, "gift", giftRef, "text", text)
	return true, nil
}

func (m *LogMessenger) NotifyAdmin(_ context.Context, text string) error {
	m.log.Info("admin notification", "text", text)
	return nil
}
