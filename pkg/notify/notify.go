// Package notify posts run summaries to a chat webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ethpandaops/buildstatsoor/pkg/stats"
)

const (
	// summarySeparator joins per-type fragments.
	summarySeparator = ", "

	// maxErrorBody caps how much of a failed response is kept in errors.
	maxErrorBody = 512
)

// Notifier delivers a text message.
type Notifier interface {
	// Enabled reports whether messages are actually delivered.
	Enabled() bool

	// Notify sends text. A disabled notifier returns nil.
	Notify(ctx context.Context, text string) error
}

// Options configures a webhook notifier.
type Options struct {
	WebhookURL string
	Timeout    time.Duration
	HTTPClient *http.Client
}

// New returns a Slack-compatible webhook notifier, or a no-op notifier
// when no webhook URL is configured.
func New(log logrus.FieldLogger, opts Options) Notifier {
	log = log.WithField("component", "notifier")

	if opts.WebhookURL == "" {
		return &noopNotifier{log: log}
	}

	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}

	return &webhookNotifier{
		log:    log,
		url:    opts.WebhookURL,
		client: client,
	}
}

type webhookNotifier struct {
	log    logrus.FieldLogger
	url    string
	client *http.Client
}

var _ Notifier = (*webhookNotifier)(nil)

type webhookPayload struct {
	Text string `json:"text"`
}

func (n *webhookNotifier) Enabled() bool {
	return true
}

func (n *webhookNotifier) Notify(ctx context.Context, text string) error {
	body, err := json.Marshal(webhookPayload{Text: text})
	if err != nil {
		return fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return fmt.Errorf("webhook returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	n.log.WithField("length", len(text)).Info("Notification sent")

	return nil
}

type noopNotifier struct {
	log logrus.FieldLogger
}

var _ Notifier = (*noopNotifier)(nil)

func (n *noopNotifier) Enabled() bool {
	return false
}

func (n *noopNotifier) Notify(_ context.Context, _ string) error {
	n.log.Debug("No webhook configured, skipping notification")

	return nil
}

// HoldMinutes converts an average hold time in days to minutes rounded to
// one decimal.
func HoldMinutes(days float64) float64 {
	return math.Round(days*24*60*10) / 10
}

// FormatHoldSummary renders per-type average hold times, e.g.
// "ios: 28.8 min, android: 3.0 min", behind an optional prefix.
func FormatHoldSummary(prefix string, types []stats.TypeStatistic) string {
	parts := make([]string, 0, len(types))

	for _, t := range types {
		parts = append(parts, t.Type+": "+
			strconv.FormatFloat(HoldMinutes(t.AvgHoldTime), 'f', 1, 64)+" min")
	}

	summary := strings.Join(parts, summarySeparator)

	if prefix == "" {
		return summary
	}

	return prefix + " " + summary
}
