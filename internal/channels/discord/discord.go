// Package discord connects the agent to Discord through the gateway
// websocket provided by discordgo.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"github.com/osahq/osa/internal/agent"
	"github.com/osahq/osa/internal/channels"
	"github.com/osahq/osa/internal/config"
)

// Discord caps messages at 2000 characters.
const maxMessageLen = 2000

// Channel is the Discord adapter. It answers DMs, and guild messages only
// when the bot is mentioned.
type Channel struct {
	session   *discordgo.Session
	cfg       config.DiscordConfig
	loop      channels.Runner
	allow     channels.Allowlist
	gate      *channels.PlanGate
	log       *slog.Logger
	botUserID string
}

func New(cfg config.DiscordConfig, loop channels.Runner, log *slog.Logger) (*Channel, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if log == nil {
		log = slog.Default()
	}
	return &Channel{
		session: session,
		cfg:     cfg,
		loop:    loop,
		allow:   channels.Allowlist(cfg.AllowFrom),
		gate:    channels.NewPlanGate(),
		log:     log,
	}, nil
}

func (c *Channel) Name() string { return "discord" }

func (c *Channel) Start(ctx context.Context) error {
	c.session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		c.handleMessage(ctx, m)
	})
	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	if c.session.State != nil && c.session.State.User != nil {
		c.botUserID = c.session.State.User.ID
	}
	c.log.Info("discord bot connected", "bot_user_id", c.botUserID)
	return nil
}

func (c *Channel) Stop(_ context.Context) error {
	return c.session.Close()
}

func (c *Channel) handleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == c.botUserID {
		return
	}
	if !c.allow.Allows(m.Author.ID, m.Author.Username) {
		c.log.Debug("discord message rejected by allowlist", "user_id", m.Author.ID)
		return
	}

	// Guild messages require a mention; DMs do not.
	text := m.Content
	if m.GuildID != "" {
		mentioned := false
		for _, u := range m.Mentions {
			if u.ID == c.botUserID {
				mentioned = true
				break
			}
		}
		if !mentioned {
			return
		}
		text = stripMention(text, c.botUserID)
	}
	if strings.TrimSpace(text) == "" {
		return
	}

	chatKey := m.ChannelID
	sessionID := "discord:" + chatKey

	approved := false
	if channels.IsApproval(text) {
		if original, ok := c.gate.Claim(chatKey); ok {
			text, approved = original, true
		}
	} else {
		c.gate.Clear(chatKey)
	}

	_ = c.session.ChannelTyping(m.ChannelID)

	out := c.loop.ProcessMessage(ctx, agent.Request{
		SessionID:    sessionID,
		Channel:      "discord",
		UserID:       m.Author.ID,
		Text:         text,
		PlanApproved: approved,
	})
	if out.Kind == agent.OutcomePlan {
		c.gate.Offer(chatKey, text)
	}
	if reply, ok := channels.ReplyText(out); ok {
		c.send(m.ChannelID, reply)
	}
}

func (c *Channel) send(channelID, text string) {
	for _, chunk := range channels.SplitMessage(text, maxMessageLen) {
		if _, err := c.session.ChannelMessageSend(channelID, chunk); err != nil {
			c.log.Warn("discord send failed", "channel_id", channelID, "error", err)
			return
		}
	}
}

// stripMention removes the bot's own mention tokens from guild messages.
func stripMention(text, botID string) string {
	text = strings.ReplaceAll(text, "<@"+botID+">", "")
	text = strings.ReplaceAll(text, "<@!"+botID+">", "")
	return strings.TrimSpace(text)
}
