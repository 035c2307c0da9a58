package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/james-alvey-42/nightshift/pkg/models"
)

// SlackSink posts completion messages to Slack via an incoming webhook.
// Tasks without routing metadata are skipped: they were not submitted
// through Slack.
type SlackSink struct {
	webhookURL string
	metadata   *MetadataStore
	httpClient *http.Client
}

// NewSlackSink creates a Slack sink over the given webhook and metadata
// store.
func NewSlackSink(webhookURL string, metadata *MetadataStore) *SlackSink {
	return &SlackSink{
		webhookURL: webhookURL,
		metadata:   metadata,
		httpClient: http.DefaultClient,
	}
}

func (s *SlackSink) Name() string { return "slack" }

// slackMessage is the webhook payload with Block Kit blocks.
type slackMessage struct {
	Text     string       `json:"text"`
	Channel  string       `json:"channel,omitempty"`
	ThreadTS string       `json:"thread_ts,omitempty"`
	Blocks   []slackBlock `json:"blocks,omitempty"`
}

type slackBlock struct {
	Type string     `json:"type"`
	Text *slackText `json:"text,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Send posts the summary when routing metadata exists for the task, then
// clears the metadata.
func (s *SlackSink) Send(summary *models.Summary) error {
	if s.webhookURL == "" {
		return nil
	}

	meta, err := s.metadata.Get(summary.TaskID)
	if err != nil {
		return err
	}
	if meta == nil {
		// Not a Slack-submitted task.
		return nil
	}

	// DMs route back to the submitting user, channels to the channel.
	channel := meta.ChannelID
	if strings.HasPrefix(channel, "D") {
		channel = meta.UserID
	}

	msg := slackMessage{
		Text:     fmt.Sprintf("Task %s %s", summary.TaskID, summary.Status),
		Channel:  channel,
		ThreadTS: meta.ThreadTS,
		Blocks:   FormatCompletionBlocks(summary),
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("slack marshal: %w", err)
	}

	resp, err := s.httpClient.Post(s.webhookURL, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("slack send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("slack API %d: %s", resp.StatusCode, string(respBody))
	}

	return s.metadata.Delete(summary.TaskID)
}

// FormatCompletionBlocks renders a summary as Slack Block Kit blocks.
func FormatCompletionBlocks(summary *models.Summary) []slackBlock {
	icon := ":white_check_mark:"
	if summary.Status != "success" {
		icon = ":x:"
	}

	var body strings.Builder
	fmt.Fprintf(&body, "*Status:* %s\n", strings.ToUpper(summary.Status))
	fmt.Fprintf(&body, "*Execution Time:* %.1fs\n", summary.ExecutionTime)
	if summary.TokenUsage > 0 {
		fmt.Fprintf(&body, "*Token Usage:* %d\n", summary.TokenUsage)
	}
	if summary.ErrorMessage != "" {
		fmt.Fprintf(&body, "*Error:* %s\n", summary.ErrorMessage)
	}

	writeBucket := func(label string, files []string) {
		if len(files) == 0 {
			return
		}
		fmt.Fprintf(&body, "*%s (%d):*\n", label, len(files))
		for _, f := range capFiles(files) {
			fmt.Fprintf(&body, "• %s\n", f)
		}
	}
	writeBucket("Created", summary.FileChanges.Created)
	writeBucket("Modified", summary.FileChanges.Modified)
	writeBucket("Deleted", summary.FileChanges.Deleted)

	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: fmt.Sprintf("%s Task %s", icon, summary.TaskID)},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: summary.Description},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: body.String()},
		},
	}

	if summary.ResponseText != "" {
		blocks = append(blocks, slackBlock{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: "```" + summary.ResponseText + "```"},
		})
	}
	return blocks
}
