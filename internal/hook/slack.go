package hook

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/raphi011/proberun/internal/model"
)

// SlackHook posts results with anomalies or failures and run errors to a
// slack channel.
type SlackHook struct {
	api             *slack.Client
	notifyChannelID string

	log *slog.Logger
}

func NewSlackHook(channelID, token string, log *slog.Logger, opts ...slack.Option) *SlackHook {
	return &SlackHook{
		api:             slack.New(token, opts...),
		notifyChannelID: channelID,
		log:             log,
	}
}

func (h *SlackHook) Name() string {
	return "Slack"
}

func (h *SlackHook) Init() error {
	_, err := h.api.AuthTest()
	if err != nil {
		return fmt.Errorf("invalid auth token: %w", err)
	}

	return nil
}

// ResultMessage renders the message for a finished result. It is empty if
// there is nothing to report.
func ResultMessage(result model.Result, measurements []model.Measurement) string {
	anomalies := []model.Measurement{}
	failed := 0

	for _, m := range measurements {
		if m.IsAnomaly {
			anomalies = append(anomalies, m)
		}
		if m.IsFailed {
			failed++
		}
	}

	if len(anomalies) == 0 && failed == 0 && result.FailureMessage == "" {
		return ""
	}

	msg := strings.Builder{}

	msg.WriteString(fmt.Sprintf("Result %d (%s) finished with %d anomalies and %d failed measurements.",
		result.ID, result.DescriptorName, len(anomalies), failed))

	if len(anomalies) > 0 {
		msg.WriteString("\n\nAnomalies:\n")

		for _, m := range anomalies {
			msg.WriteString(fmt.Sprintf("- %s (measurement %d)\n", m.TestName, m.ID))
		}
	}

	if result.FailureMessage != "" {
		msg.WriteString("\n\nFailures:\n")
		msg.WriteString(result.FailureMessage)
	}

	return msg.String()
}

func (h *SlackHook) ResultFinishedAsync(result model.Result, measurements []model.Measurement) {
	text := ResultMessage(result, measurements)
	if text == "" {
		return
	}

	h.post(text)
}

func (h *SlackHook) RunErrorAsync(err model.TestRunError) {
	h.post(fmt.Sprintf("Test run error: `%s`", err))
}

func (h *SlackHook) post(text string) {
	section := slack.NewSectionBlock(
		slack.NewTextBlockObject(
			"mrkdwn",
			text,
			false, false,
		),

		nil, nil)

	_, _, err := h.api.PostMessage(h.notifyChannelID, slack.MsgOptionBlocks(section))
	if err != nil {
		h.log.Error("unable to send slack message", "error", err)
	}
}
