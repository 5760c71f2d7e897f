package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harvestly/warden/pkg/model"
)

// SlackChannel sends alerts to a Slack incoming webhook.
type SlackChannel struct {
	webhookURL string
	channel    string
	client     *http.Client
}

// NewSlackChannel creates a Slack webhook channel.
func NewSlackChannel(webhookURL, channel string) (*SlackChannel, error) {
	if webhookURL == "" {
		return nil, fmt.Errorf("%w: slack requires a webhook url", ErrChannelConfig)
	}
	return &SlackChannel{
		webhookURL: webhookURL,
		channel:    channel,
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (s *SlackChannel) Name() string { return "slack" }

func (s *SlackChannel) Send(ctx context.Context, alert model.Alert) error {
	color := "#36a64f" // green
	switch alert.Level {
	case model.LevelWarning:
		color = "#ff9900" // orange
	case model.LevelError:
		color = "#ff0000" // red
	case model.LevelCritical:
		color = "#cc0000" // dark red
	}

	payload := slackPayload{
		Channel: s.channel,
		Attachments: []slackAttachment{
			{
				Color: color,
				Title: fmt.Sprintf("Warden: %s", alert.Title),
				Text:  alert.Message,
				Fields: []slackField{
					{Title: "Level", Value: string(alert.Level), Short: true},
					{Title: "Source", Value: alert.Source, Short: true},
					{Title: "Status", Value: string(alert.Status), Short: true},
					{Title: "Raised", Value: alert.CreatedAt.Format(time.RFC3339), Short: true},
				},
				Footer: "Warden",
				Ts:     alert.CreatedAt.Unix(),
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack alert: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("slack returned status %d", resp.StatusCode)
	}
	return nil
}

type slackPayload struct {
	Channel     string            `json:"channel,omitempty"`
	Attachments []slackAttachment `json:"attachments"`
}

type slackAttachment struct {
	Color  string       `json:"color"`
	Title  string       `json:"title"`
	Text   string       `json:"text,omitempty"`
	Fields []slackField `json:"fields"`
	Footer string       `json:"footer"`
	Ts     int64        `json:"ts"`
}

type slackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}
