// Package notifier posts scan and audit summaries to Slack.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/howtoharden/hth/pkg/audit"
	"github.com/howtoharden/hth/pkg/engine"
)

// maxListed caps how many failing controls or issues a message names.
const maxListed = 10

// SlackClient handles Slack notifications.
type SlackClient struct {
	WebhookURL string
	Channel    string // Optional: Override default channel
	HTTPClient *http.Client
}

// NewSlackClient initializes the Slack integration.
func NewSlackClient(webhookURL string, channel string) *SlackClient {
	return &SlackClient{
		WebhookURL: webhookURL,
		Channel:    channel,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Enabled reports whether a webhook is configured.
func (s *SlackClient) Enabled() bool {
	return s != nil && s.WebhookURL != ""
}

// SendScanReport posts a Block Kit summary of a scan.
func (s *SlackClient) SendScanReport(ctx context.Context, r engine.ScanReport) error {
	if !s.Enabled() {
		return nil
	}
	return s.send(ctx, s.scanPayload(r))
}

// SendAuditResult posts the issues found by one audit routine run.
func (s *SlackClient) SendAuditResult(ctx context.Context, target string, records int, issues []audit.Issue) error {
	if !s.Enabled() {
		return nil
	}
	return s.send(ctx, s.auditPayload(target, records, issues))
}

func (s *SlackClient) scanPayload(r engine.ScanReport) map[string]any {
	icon := ":large_green_circle:"
	if r.Summary.Failed > 0 || r.Summary.Errors > 0 {
		icon = ":red_circle:"
	}
	sum := r.Summary
	blocks := []map[string]any{
		header(fmt.Sprintf("%s %s hardening scan", icon, r.Vendor)),
		contextLine(fmt.Sprintf("*Scan Date:* %s | *Profile:* L%d", r.Timestamp.UTC().Format("2006-01-02 15:04 UTC"), r.ProfileLevel)),
		{"type": "divider"},
		{
			"type": "section",
			"fields": []map[string]any{
				mrkdwn(fmt.Sprintf("*Passed:*\n%d", sum.Passed)),
				mrkdwn(fmt.Sprintf("*Failed:*\n%d", sum.Failed)),
				mrkdwn(fmt.Sprintf("*Errors:*\n%d", sum.Errors)),
				mrkdwn(fmt.Sprintf("*Skipped:*\n%d", sum.Skipped)),
			},
		},
	}

	var lines []string
	for _, c := range r.Controls {
		if c.Status != engine.StatusFail && c.Status != engine.StatusError {
			continue
		}
		lines = append(lines, fmt.Sprintf("• `%s` %s (%s, %s)", c.ControlID, c.Title, c.Severity, c.Status))
	}
	if len(lines) > 0 {
		blocks = append(blocks, section("*Failing controls*\n"+joinCapped(lines)))
	}
	return s.wrap(blocks)
}

func (s *SlackClient) auditPayload(target string, records int, issues []audit.Issue) map[string]any {
	icon := ":large_green_circle:"
	if len(issues) > 0 {
		icon = ":red_circle:"
	}
	blocks := []map[string]any{
		header(fmt.Sprintf("%s Audit: %s", icon, target)),
		section(fmt.Sprintf("*%d* issues across *%d* records", len(issues), records)),
	}
	lines := make([]string, 0, len(issues))
	for _, i := range issues {
		lines = append(lines, fmt.Sprintf("• %s", i.String()))
	}
	if len(lines) > 0 {
		blocks = append(blocks, section(joinCapped(lines)))
	}
	return s.wrap(blocks)
}

func (s *SlackClient) wrap(blocks []map[string]any) map[string]any {
	payload := map[string]any{"blocks": blocks}
	if s.Channel != "" {
		payload["channel"] = s.Channel
	}
	return payload
}

func (s *SlackClient) send(ctx context.Context, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("received non-200 status from slack: %d", resp.StatusCode)
	}
	return nil
}

func header(text string) map[string]any {
	return map[string]any{"type": "header", "text": map[string]any{"type": "plain_text", "text": text}}
}

func section(text string) map[string]any {
	return map[string]any{"type": "section", "text": mrkdwn(text)}
}

func contextLine(text string) map[string]any {
	return map[string]any{"type": "context", "elements": []map[string]any{mrkdwn(text)}}
}

func mrkdwn(text string) map[string]any {
	return map[string]any{"type": "mrkdwn", "text": text}
}

func joinCapped(lines []string) string {
	out := ""
	for i, l := range lines {
		if i == maxListed {
			out += fmt.Sprintf("_...and %d more_", len(lines)-maxListed)
			break
		}
		out += l + "\n"
	}
	return out
}
