// Package store defines durable persistence for variant assignments and
// the exposure/conversion event log. The AssignmentStore interface keeps
// the persistence bridge independent of transport: HTTP cookies, SQLite,
// and an in-memory map are interchangeable backends.
package store

import (
	"time"

	"github.com/splitgate/splitgate/internal/experiment"
)

// AssignmentStore persists which variant a user landed in. A stored
// assignment is reused verbatim on later requests, which is what keeps
// assignments stable even when experiment weights change.
type AssignmentStore interface {
	// Get returns the stored variant ID for the pair, or "" when absent.
	Get(userID, experimentID string) (string, error)

	// Set durably records the assignment with the given TTL.
	Set(userID, experimentID, variantID string, ttl time.Duration) error
}

// EventKind distinguishes rows in the event log.
type EventKind string

const (
	EventExposure   EventKind = "exposure"
	EventConversion EventKind = "conversion"
)

// Event is one exposure or conversion observation forwarded by the
// tracker to the analytics sinks.
type Event struct {
	ID           string    `json:"id"`
	Kind         EventKind `json:"kind"`
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	UserID       string    `json:"user_id"`
	Path         string    `json:"path,omitempty"`
	Value        float64   `json:"value,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// EventStore appends and queries the analytics event log.
type EventStore interface {
	InsertEvent(e *Event) error
	ListEvents(experimentID string, kind EventKind, limit int) ([]*Event, error)
	CountEvents(experimentID string, kind EventKind) (map[string]int64, error)
}

// Stats summarizes stored state for the management API.
type Stats struct {
	Assignments int64 `json:"assignments"`
	Exposures   int64 `json:"exposures"`
	Conversions int64 `json:"conversions"`
}

// Store is the full persistence surface implemented by server-side
// backends. Cookie-backed stores implement only AssignmentStore.
type Store interface {
	AssignmentStore
	EventStore

	Initialize() error
	Close() error

	// ListAssignments returns all stored assignments for a user.
	ListAssignments(userID string) ([]*experiment.Assignment, error)

	// PruneExpired removes assignments whose TTL has lapsed and events
	// older than the retention window. Returns rows removed.
	PruneExpired() (int64, error)

	GetStats() (*Stats, error)
}
