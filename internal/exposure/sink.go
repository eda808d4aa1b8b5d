package exposure

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/splitgate/splitgate/internal/store"
)

// Sink is a delivery channel for exposure and conversion events. Delivery
// is at-most-once from the tracker's point of view; sinks do not retry.
type Sink interface {
	Deliver(e store.Event) error
	Name() string
}

// LogSink writes events to the structured log. Useful in development and
// as a last-resort audit trail.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Deliver(e store.Event) error {
	s.logger.Info("analytics event",
		"kind", string(e.Kind),
		"experiment_id", e.ExperimentID,
		"variant_id", e.VariantID,
		"user_id", e.UserID,
		"path", e.Path,
	)
	return nil
}

// WebhookSink forwards events to an external analytics collector as JSON,
// optionally signed with an HMAC-SHA256 of the payload.
type WebhookSink struct {
	url    string
	secret string
	client *http.Client
}

func NewWebhookSink(url, secret string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Deliver(e store.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create event request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Splitgate/1.0")
	if s.secret != "" {
		req.Header.Set("X-Splitgate-Signature", computeHMAC(body, []byte(s.secret)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to deliver event: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("analytics collector returned %d", resp.StatusCode)
	}
	return nil
}

func computeHMAC(data, key []byte) string {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// StoreSink appends events to the persistent event log.
type StoreSink struct {
	events store.EventStore
}

func NewStoreSink(events store.EventStore) *StoreSink {
	return &StoreSink{events: events}
}

func (s *StoreSink) Name() string { return "store" }

func (s *StoreSink) Deliver(e store.Event) error {
	return s.events.InsertEvent(&e)
}

// Fanout delivers one event to every registered sink. Sink failures are
// logged and isolated; one failing sink never blocks the others.
type Fanout struct {
	mu     sync.Mutex
	sinks  []Sink
	logger *slog.Logger
}

func NewFanout(logger *slog.Logger, sinks ...Sink) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{sinks: sinks, logger: logger.With("component", "exposure.Fanout")}
}

// Add registers an additional delivery channel.
func (f *Fanout) Add(s Sink) {
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

// Deliver forwards the event to all sinks.
func (f *Fanout) Deliver(e store.Event) {
	f.mu.Lock()
	sinks := f.sinks
	f.mu.Unlock()

	for _, sink := range sinks {
		if err := sink.Deliver(e); err != nil {
			f.logger.Error("failed to deliver analytics event",
				"sink", sink.Name(),
				"kind", string(e.Kind),
				"experiment_id", e.ExperimentID,
				"error", err,
			)
		}
	}
}

// FuncSink adapts a callback into a Sink.
type FuncSink struct {
	name string
	fn   func(store.Event)
}

func NewFuncSink(name string, fn func(store.Event)) *FuncSink {
	return &FuncSink{name: name, fn: fn}
}

func (s *FuncSink) Name() string { return s.name }

func (s *FuncSink) Deliver(e store.Event) error {
	s.fn(e)
	return nil
}
