// Package webhook delivers governance event notifications to configured HTTP
// endpoints. Delivery is best-effort: failures are logged and never block the
// transaction that produced the event.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// Event is one outbound notification.
type Event struct {
	Type       string         `json:"type"`
	ProposalID string         `json:"proposal_id,omitempty"`
	ProjectID  string         `json:"project_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Data       map[string]any `json:"data,omitempty"`
}

// Dispatcher posts events to a fixed set of endpoint URLs.
type Dispatcher struct {
	endpoints  []string
	httpClient *http.Client
	log        *slog.Logger
}

// NewDispatcher creates a Dispatcher. An empty endpoint list disables
// delivery entirely.
func NewDispatcher(endpoints []string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		endpoints:  endpoints,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logger.With("adapter", "webhook"),
	}
}

// Dispatch sends the event to every endpoint. Each failure is logged and the
// remaining endpoints are still attempted; no error is returned to callers.
func (d *Dispatcher) Dispatch(ctx context.Context, event Event) {
	if len(d.endpoints) == 0 {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		d.log.ErrorContext(ctx, "webhook marshal failed",
			slog.String("event", event.Type), slog.String("error", err.Error()))
		return
	}

	for _, endpoint := range d.endpoints {
		if err := d.post(ctx, endpoint, body); err != nil {
			d.log.WarnContext(ctx, "webhook delivery failed",
				slog.String("event", event.Type),
				slog.String("endpoint", endpoint),
				slog.String("error", err.Error()),
			)
			continue
		}
		d.log.DebugContext(ctx, "webhook delivered",
			slog.String("event", event.Type), slog.String("endpoint", endpoint))
	}
}

// DispatchAsync fires the event from a goroutine with its own deadline, so
// callers inside a request or transaction never wait on the network.
func (d *Dispatcher) DispatchAsync(event Event) {
	if len(d.endpoints) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		d.Dispatch(ctx, event)
	}()
}

func (d *Dispatcher) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
