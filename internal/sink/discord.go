package sink

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	discordAPIBase    = "https://discord.com/api/v10"
	discordMaxContent = 2000
)

// Discord posts messages to a channel through the bot REST API.
type Discord struct {
	token     string
	channelID string
	client    *http.Client
	baseURL   string
}

func NewDiscord(token, channelID string) (*Discord, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("discord: token is required")
	}
	if strings.TrimSpace(channelID) == "" {
		return nil, errors.New("discord: channel_id is required")
	}
	return &Discord{
		token:     token,
		channelID: channelID,
		client:    newHTTPClient(),
		baseURL:   discordAPIBase,
	}, nil
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) header() http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bot "+d.token)
	return h
}

func (d *Discord) Deliver(ctx context.Context, msg string) error {
	body := map[string]any{
		"content":          fit(msg, discordMaxContent),
		"allowed_mentions": map[string]any{"parse": []string{}},
	}
	url := fmt.Sprintf("%s/channels/%s/messages", d.baseURL, d.channelID)
	if err := doJSON(ctx, d.client, http.MethodPost, url, d.header(), body, nil); err != nil {
		return fmt.Errorf("discord: %w", err)
	}
	return nil
}

// Verify checks the token and that the bot can see the channel.
func (d *Discord) Verify(ctx context.Context) error {
	var me struct {
		Username string `json:"username"`
	}
	if err := doJSON(ctx, d.client, http.MethodGet, d.baseURL+"/users/@me", d.header(), nil, &me); err != nil {
		return fmt.Errorf("discord: verify token: %w", err)
	}
	var ch struct {
		ID      string `json:"id"`
		GuildID string `json:"guild_id"`
	}
	if err := doJSON(ctx, d.client, http.MethodGet, d.baseURL+"/channels/"+d.channelID, d.header(), nil, &ch); err != nil {
		return fmt.Errorf("discord: channel %s: %w", d.channelID, err)
	}
	if ch.GuildID == "" {
		return fmt.Errorf("discord: channel %s is not a guild channel", d.channelID)
	}
	return nil
}
