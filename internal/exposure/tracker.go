// Package exposure dedupes exposure notifications per viewing context and
// fans them out to the analytics sinks. A visitor "seeing" a variant is
// reported at most once per (experiment, variant) per viewing context; a
// navigation to a new context re-arms the pair. The tracker is an explicit
// state machine driven by TrackOnce and ResetContext, independent of any
// UI framework's lifecycle.
package exposure

import (
	"log/slog"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/splitgate/splitgate/internal/store"
)

// Meta carries the caller-supplied context of an exposure or conversion.
type Meta struct {
	UserID string
	Path   string
	Value  float64 // conversions only
}

// Tracker is the per-viewing-context exposure state machine. Safe for
// concurrent use.
type Tracker struct {
	fanout *Fanout
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	context string          // current viewing context (page path)
	exposed map[string]bool // "experimentID|variantID" -> exposed in this context
}

// NewTracker creates a Tracker delivering through the given fanout.
func NewTracker(fanout *Fanout, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if fanout == nil {
		fanout = NewFanout(logger)
	}
	return &Tracker{
		fanout:  fanout,
		logger:  logger.With("component", "exposure.Tracker"),
		now:     time.Now,
		exposed: make(map[string]bool),
	}
}

// ResetContext switches the viewing context (e.g. on navigation),
// re-arming every (experiment, variant) pair. Calling it with the current
// context is a no-op.
func (t *Tracker) ResetContext(context string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if context == t.context {
		return
	}
	t.context = context
	t.exposed = make(map[string]bool)
	t.logger.Debug("viewing context changed", "context", context)
}

// TrackOnce reports an exposure. The first call for a pair within the
// current viewing context forwards an event to the sinks; repeat calls
// are side-effect free.
func (t *Tracker) TrackOnce(experimentID, variantID string, meta Meta) {
	key := experimentID + "|" + variantID

	t.mu.Lock()
	if t.exposed[key] {
		t.mu.Unlock()
		return
	}
	t.exposed[key] = true
	t.mu.Unlock()

	t.fanout.Deliver(store.Event{
		ID:           ulid.Make().String(),
		Kind:         store.EventExposure,
		ExperimentID: experimentID,
		VariantID:    variantID,
		UserID:       meta.UserID,
		Path:         meta.Path,
		Timestamp:    t.now().UTC(),
	})
}

// TrackConversion reports a conversion event. Conversions are not deduped:
// a visitor can convert more than once per context.
func (t *Tracker) TrackConversion(experimentID, variantID string, meta Meta) {
	t.fanout.Deliver(store.Event{
		ID:           ulid.Make().String(),
		Kind:         store.EventConversion,
		ExperimentID: experimentID,
		VariantID:    variantID,
		UserID:       meta.UserID,
		Path:         meta.Path,
		Value:        meta.Value,
		Timestamp:    t.now().UTC(),
	})
}
