package alert

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/webhook"
)

// discordMessageLimit is the maximum content length Discord accepts per message.
const discordMessageLimit = 2000

type DiscordNotifier struct {
	client  webhook.Client
	timeout time.Duration
}

func NewDiscordNotifier(webhookURL string, timeout time.Duration) (*DiscordNotifier, error) {
	if strings.TrimSpace(webhookURL) == "" {
		return nil, errors.New("discord webhook url required")
	}
	client, err := webhook.NewWithURL(webhookURL)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DiscordNotifier{client: client, timeout: timeout}, nil
}

func (d *DiscordNotifier) Notify(ctx context.Context, msg string) error {
	if d == nil || d.client == nil {
		return nil
	}
	title, body, _ := strings.Cut(msg, "\n")
	if len(body) > discordMessageLimit {
		body = body[:discordMessageLimit]
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	_, err := d.client.CreateEmbeds([]discord.Embed{
		discord.NewEmbedBuilder().
			SetTitle(title).
			SetDescription(body).
			SetColor(0xff5500).
			Build(),
	}, rest.WithCtx(ctx))
	return err
}

func (d *DiscordNotifier) Close(ctx context.Context) {
	if d == nil || d.client == nil {
		return
	}
	d.client.Close(ctx)
}
