package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Event is fired when a cycle finds CRITICAL issues or fails outright.
type Event struct {
	Time           time.Time      `json:"time"`
	CountsByLevel  map[string]int `json:"counts_by_level"`
	AffectedTables []string       `json:"affected_tables"`
	AutoFixed      bool           `json:"auto_fixed"`
	CycleError     string         `json:"cycle_error,omitempty"`
}

// Notifier receives structured events from the monitor loop.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// LogNotifier writes events to the structured log. The default channel
// when no webhook is configured.
type LogNotifier struct {
	Log *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev Event) error {
	log := n.Log
	if log == nil {
		log = zap.NewNop()
	}
	log.Warn("schema health event",
		zap.Any("counts", ev.CountsByLevel),
		zap.Strings("tables", ev.AffectedTables),
		zap.Bool("auto_fixed", ev.AutoFixed),
		zap.String("cycle_error", ev.CycleError),
	)
	return nil
}

// WebhookNotifier POSTs events as JSON with a bounded timeout.
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (n *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.Client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// Multi fans one event out to several notifiers, returning the first
// error after trying all of them.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) error {
	var firstErr error
	for _, n := range m {
		if err := n.Notify(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
