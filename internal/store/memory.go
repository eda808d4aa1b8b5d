package store

import (
	"sort"
	"sync"
	"time"

	"github.com/splitgate/splitgate/internal/experiment"
)

// MemoryStore is an in-memory Store used in tests and for ephemeral
// deployments where durability across restarts is not needed.
type MemoryStore struct {
	mu          sync.RWMutex
	assignments map[string]memoryAssignment // key: userID + "\x00" + experimentID
	events      []*Event
}

type memoryAssignment struct {
	variantID  string
	assignedAt time.Time
	expiresAt  time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{assignments: make(map[string]memoryAssignment)}
}

func (m *MemoryStore) Initialize() error { return nil }
func (m *MemoryStore) Close() error      { return nil }

func memKey(userID, experimentID string) string {
	return userID + "\x00" + experimentID
}

func (m *MemoryStore) Get(userID, experimentID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.assignments[memKey(userID, experimentID)]
	if !ok || time.Now().After(a.expiresAt) {
		return "", nil
	}
	return a.variantID, nil
}

func (m *MemoryStore) Set(userID, experimentID, variantID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	m.assignments[memKey(userID, experimentID)] = memoryAssignment{
		variantID:  variantID,
		assignedAt: now,
		expiresAt:  now.Add(ttl),
	}
	return nil
}

func (m *MemoryStore) ListAssignments(userID string) ([]*experiment.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	prefix := userID + "\x00"
	var out []*experiment.Assignment
	for key, a := range m.assignments {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix && time.Now().Before(a.expiresAt) {
			out = append(out, &experiment.Assignment{
				ExperimentID: key[len(prefix):],
				VariantID:    a.variantID,
				UserID:       userID,
				AssignedAt:   a.assignedAt,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExperimentID < out[j].ExperimentID })
	return out, nil
}

func (m *MemoryStore) InsertEvent(e *Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *e
	m.events = append(m.events, &copied)
	return nil
}

func (m *MemoryStore) ListEvents(experimentID string, kind EventKind, limit int) ([]*Event, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Event
	for i := len(m.events) - 1; i >= 0 && len(out) < limit; i-- {
		e := m.events[i]
		if e.ExperimentID == experimentID && e.Kind == kind {
			copied := *e
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (m *MemoryStore) CountEvents(experimentID string, kind EventKind) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64)
	for _, e := range m.events {
		if e.ExperimentID == experimentID && e.Kind == kind {
			out[e.VariantID]++
		}
	}
	return out, nil
}

func (m *MemoryStore) PruneExpired() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var removed int64
	for key, a := range m.assignments {
		if now.After(a.expiresAt) {
			delete(m.assignments, key)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) GetStats() (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := &Stats{Assignments: int64(len(m.assignments))}
	for _, e := range m.events {
		switch e.Kind {
		case EventExposure:
			stats.Exposures++
		case EventConversion:
			stats.Conversions++
		}
	}
	return stats, nil
}
