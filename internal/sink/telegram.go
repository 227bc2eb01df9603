package sink

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"
)

const telegramTextLimit = 4096

// TelegramConfig selects the chat (and optional forum topic) to post to.
type TelegramConfig struct {
	Token    string
	ChatID   int64
	ThreadID int
	APIURL   string // empty for the public Bot API

	// Timeout bounds each Bot API request. telebot calls take no context,
	// so this is the only limit on a send already in flight.
	Timeout time.Duration
}

// Telegram sends messages through the Bot API. It never polls for updates.
type Telegram struct {
	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram: token is required")
	}
	if cfg.ChatID == 0 {
		return nil, errors.New("telegram: chat_id is required")
	}
	client := newHTTPClient()
	if cfg.Timeout > 0 {
		client.Timeout = cfg.Timeout
	}
	b, err := tele.NewBot(tele.Settings{
		Token:   cfg.Token,
		URL:     cfg.APIURL,
		Offline: true,
		Client:  client,
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}
	return &Telegram{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Deliver(ctx context.Context, msg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.bot.Send(t.chat, fit(msg, telegramTextLimit), &tele.SendOptions{ThreadID: t.threadID})
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &RateLimitError{After: time.Duration(flood.RetryAfter) * time.Second, Err: err}
	}
	if errors.Is(err, tele.ErrUnauthorized) || errors.Is(err, tele.ErrChatNotFound) {
		return Permanent(fmt.Errorf("telegram: %w", err))
	}
	return fmt.Errorf("telegram: %w", err)
}

// Verify calls getMe to check the token.
func (t *Telegram) Verify(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := t.bot.Raw("getMe", map[string]string{}); err != nil {
		return fmt.Errorf("telegram: verify token: %w", err)
	}
	return nil
}
