// Package telegram connects the agent to the Telegram Bot API using long
// polling.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/channels"
	"github.com/osahq/osa/internal/config"
)

// Telegram caps messages at 4096 characters.
const maxMessageLen = 4096

// Channel is the Telegram adapter.
type Channel struct {
	bot   *telego.Bot
	cfg   config.TelegramConfig
	loop  channels.Runner
	allow channels.Allowlist
	gate  *channels.PlanGate
	log   *slog.Logger

	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

func New(cfg config.TelegramConfig, loop channels.Runner, log *slog.Logger) (*Channel, error) {
	bot, err := telego.NewBot(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create telegram bot: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		bot:   bot,
		cfg:   cfg,
		loop:  loop,
		allow: channels.Allowlist(cfg.AllowFrom),
		gate:  channels.NewPlanGate(),
		log:   log,
	}, nil
}

func (c *Channel) Name() string { return "telegram" }

// Start begins long polling for updates.
func (c *Channel) Start(ctx context.Context) error {
	pollCtx, cancel := context.WithCancel(ctx)
	c.pollCancel = cancel
	c.pollDone = make(chan struct{})

	updates, err := c.bot.UpdatesViaLongPolling(pollCtx, &telego.GetUpdatesParams{
		Timeout:        30,
		AllowedUpdates: []string{"message"},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("start long polling: %w", err)
	}

	c.log.Info("telegram bot connected", "username", c.bot.Username())

	go func() {
		defer close(c.pollDone)
		for {
			select {
			case <-pollCtx.Done():
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil {
					c.handleMessage(pollCtx, update.Message)
				}
			}
		}
	}()
	return nil
}

// Stop cancels polling and waits for the update goroutine to exit so
// Telegram releases the getUpdates lock before a new instance starts.
func (c *Channel) Stop(_ context.Context) error {
	if c.pollCancel != nil {
		c.pollCancel()
	}
	if c.pollDone != nil {
		select {
		case <-c.pollDone:
		case <-time.After(10 * time.Second):
			c.log.Warn("telegram polling goroutine did not exit within timeout")
		}
	}
	return nil
}

func (c *Channel) handleMessage(ctx context.Context, msg *telego.Message) {
	if msg.From == nil || msg.Text == "" {
		return
	}
	userID := strconv.FormatInt(msg.From.ID, 10)
	if !c.allow.Allows(userID, msg.From.Username) {
		c.log.Debug("telegram message rejected by allowlist", "user_id", userID)
		return
	}

	chatID := msg.Chat.ID
	chatKey := strconv.FormatInt(chatID, 10)
	sessionID := "telegram:" + chatKey

	if msg.Text == "/start" || msg.Text == "/help" {
		c.send(ctx, chatID, "Send me a message and I'll get to work. Use /stop to cancel a running request.")
		return
	}
	if msg.Text == "/stop" {
		if c.loop.Cancel(sessionID) {
			c.send(ctx, chatID, "Stopping.")
		}
		return
	}

	text := msg.Text
	approved := false
	if channels.IsApproval(text) {
		if original, ok := c.gate.Claim(chatKey); ok {
			text, approved = original, true
		}
	} else {
		c.gate.Clear(chatKey)
	}

	_ = c.bot.SendChatAction(ctx, tu.ChatAction(tu.ID(chatID), telego.ChatActionTyping))

	out := c.loop.ProcessMessage(ctx, agent.Request{
		SessionID:    sessionID,
		Channel:      "telegram",
		UserID:       userID,
		Text:         text,
		PlanApproved: approved,
	})
	if out.Kind == agent.OutcomePlan {
		c.gate.Offer(chatKey, text)
	}
	if reply, ok := channels.ReplyText(out); ok {
		c.send(ctx, chatID, reply)
	}
}

func (c *Channel) send(ctx context.Context, chatID int64, text string) {
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := c.bot.SendMessage(ctx, tu.Message(tu.ID(chatID), chunk)); err != nil {
			c.log.Warn("telegram send failed", "chat_id", chatID, "error", err)
			return
		}
	}
}
