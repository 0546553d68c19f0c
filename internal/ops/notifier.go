// Package ops sends operational notifications to a Slack channel: model
// load failures at startup or via the admin load endpoint. It is a noop
// when no bot token is configured, so deployments without Slack pay
// nothing for it.
package ops

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Notifier posts gateway operational events to Slack.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. If botToken is empty, the notifier is a
// noop (logging only).
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled returns true if the notifier has a valid Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// ModelLoadFailed reports a failed model load. stage distinguishes a
// startup (eager) abort from an admin-triggered load.
func (n *Notifier) ModelLoadFailed(ctx context.Context, stage, modelID string, loadErr error) {
	text := fmt.Sprintf(":rotating_light: llmgate model load failed (%s): model=%s error=%v", stage, modelID, loadErr)
	n.post(ctx, text)
}

func (n *Notifier) post(ctx context.Context, text string) {
	if !n.IsEnabled() {
		n.logger.Debug("ops notifier disabled, skipping post", "text", text)
		return
	}

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionText(text, false))
	if err != nil {
		n.logger.Error("posting ops notification to slack", "error", err)
		return
	}
	n.logger.Info("posted ops notification to slack", "channel", n.channel)
}
