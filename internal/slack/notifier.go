package slack

import (
	"context"
	"fmt"
	"log"

	"github.com/slack-go/slack"

	"github.com/minewatch/minewatch/internal/database"
)

// Notifier posts mining alerts to a Slack channel
type Notifier struct {
	client   *slack.Client
	resolver *ChannelResolver
	channel  string
}

// NewNotifier creates a notifier for the given bot token and channel name or
// ID. It returns nil when either is empty, which disables notifications.
func NewNotifier(token, channel string, options ...slack.Option) *Notifier {
	if token == "" || channel == "" {
		log.Printf("SlackNotifier: Slack is disabled (token or channel not configured)")
		return nil
	}
	client := slack.New(token, options...)
	return &Notifier{
		client:   client,
		resolver: NewChannelResolver(client),
		channel:  channel,
	}
}

// NotifyAlert posts one alert with its detection summary
func (n *Notifier) NotifyAlert(ctx context.Context, alert *database.Alert, d *database.Detection) error {
	if n == nil {
		return nil
	}
	channelID, err := n.resolver.ResolveChannel(ctx, n.channel)
	if err != nil {
		return fmt.Errorf("failed to resolve alerts channel: %w", err)
	}

	_, ts, err := n.client.PostMessageContext(ctx, channelID,
		slack.MsgOptionText(alertFallback(alert, d), false),
		slack.MsgOptionBlocks(alertBlocks(alert, d)...),
	)
	if err != nil {
		return fmt.Errorf("failed to post alert %d: %w", alert.ID, err)
	}
	log.Printf("SlackNotifier: Posted alert %d to %s (ts=%s)", alert.ID, channelID, ts)
	return nil
}
