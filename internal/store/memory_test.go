package store

import (
	"testing"
	"time"
)

func TestMemoryStore_GetSet(t *testing.T) {
	m := NewMemoryStore()

	got, err := m.Get("u1", "exp1")
	if err != nil || got != "" {
		t.Fatalf("empty store should return \"\", got %q err %v", got, err)
	}

	if err := m.Set("u1", "exp1", "control", time.Hour); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err = m.Get("u1", "exp1")
	if err != nil || got != "control" {
		t.Fatalf("expected control, got %q err %v", got, err)
	}

	// Different experiment, same user: independent.
	got, _ = m.Get("u1", "exp2")
	if got != "" {
		t.Errorf("expected no assignment for exp2, got %q", got)
	}
}

func TestMemoryStore_ExpiredAssignmentInvisible(t *testing.T) {
	m := NewMemoryStore()
	if err := m.Set("u1", "exp1", "control", -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if got, _ := m.Get("u1", "exp1"); got != "" {
		t.Errorf("expired assignment should be invisible, got %q", got)
	}

	removed, err := m.PruneExpired()
	if err != nil || removed != 1 {
		t.Errorf("expected 1 pruned row, got %d err %v", removed, err)
	}
}

func TestMemoryStore_ListAssignments(t *testing.T) {
	m := NewMemoryStore()
	_ = m.Set("u1", "exp-b", "v1", time.Hour)
	_ = m.Set("u1", "exp-a", "v2", time.Hour)
	_ = m.Set("u2", "exp-a", "v3", time.Hour)

	got, err := m.ListAssignments("u1")
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 assignments, got %d", len(got))
	}
	if got[0].ExperimentID != "exp-a" || got[1].ExperimentID != "exp-b" {
		t.Errorf("assignments not sorted by experiment: %+v", got)
	}
}

func TestMemoryStore_Events(t *testing.T) {
	m := NewMemoryStore()
	now := time.Now().UTC()

	for i, variant := range []string{"control", "control", "b"} {
		_ = m.InsertEvent(&Event{
			ID:           string(rune('a' + i)),
			Kind:         EventExposure,
			ExperimentID: "exp1",
			VariantID:    variant,
			UserID:       "u1",
			Timestamp:    now,
		})
	}
	_ = m.InsertEvent(&Event{
		ID: "z", Kind: EventConversion, ExperimentID: "exp1",
		VariantID: "control", UserID: "u1", Timestamp: now,
	})

	counts, err := m.CountEvents("exp1", EventExposure)
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if counts["control"] != 2 || counts["b"] != 1 {
		t.Errorf("unexpected counts %v", counts)
	}

	events, err := m.ListEvents("exp1", EventConversion, 10)
	if err != nil || len(events) != 1 {
		t.Fatalf("expected 1 conversion, got %d err %v", len(events), err)
	}

	stats, err := m.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.Exposures != 3 || stats.Conversions != 1 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
