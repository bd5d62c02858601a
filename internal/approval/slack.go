package approval

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"
)

// slackClient is the subset of the Slack API the notifier needs.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// SlackNotifier dispatches approval requests to a Slack channel. Approve
// and reject buttons post back through the interaction webhook, which
// writes the decision file the protocol's poller picks up.
type SlackNotifier struct {
	client  slackClient
	channel string
}

// NewSlackNotifier creates a notifier posting to the given channel.
func NewSlackNotifier(token, channel string) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token),
		channel: channel,
	}
}

// Notify posts the approval request message.
func (n *SlackNotifier) Notify(ctx context.Context, req MutationRequest) error {
	text := fmt.Sprintf("*Approval required* (%s risk)\nOperation: `%s`\nResource: `%s`",
		req.RiskLevel, req.Operation, req.Resource)
	if req.Description != "" {
		text += "\n" + req.Description
	}
	if req.RollbackCommand != "" {
		text += fmt.Sprintf("\nRollback: `%s`", req.RollbackCommand)
	}

	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, text, false, false), nil, nil)
	approve := slack.NewButtonBlockElement("approve", req.ID,
		slack.NewTextBlockObject(slack.PlainTextType, "Approve", false, false))
	approve.Style = slack.StylePrimary
	reject := slack.NewButtonBlockElement("reject", req.ID,
		slack.NewTextBlockObject(slack.PlainTextType, "Reject", false, false))
	reject.Style = slack.StyleDanger
	actions := slack.NewActionBlock("approval_"+req.ID, approve, reject)

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(fmt.Sprintf("Approval required for %s on %s", req.Operation, req.Resource), false),
		slack.MsgOptionBlocks(section, actions))
	if err != nil {
		return fmt.Errorf("failed to post approval message: %w", err)
	}
	return nil
}
