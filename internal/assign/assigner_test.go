package assign

import (
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/splitgate/splitgate/internal/experiment"
)

func activeExperiment() *experiment.Experiment {
	return &experiment.Experiment{
		ID:     "exp1",
		Status: experiment.StatusActive,
		Variants: []experiment.Variant{
			{ID: "control", Weight: 50},
			{ID: "b", Weight: 50},
		},
	}
}

func TestAssign_Deterministic(t *testing.T) {
	a := NewAssigner(nil, nil)
	exp := activeExperiment()

	first := a.Assign("u1", exp)
	if first == nil {
		t.Fatal("expected an assignment")
	}
	if first.VariantID != "control" && first.VariantID != "b" {
		t.Fatalf("variant %q is not one of the experiment's variants", first.VariantID)
	}

	for i := 0; i < 5; i++ {
		got := a.Assign("u1", exp)
		if got == nil || got.VariantID != first.VariantID {
			t.Fatalf("call %d: expected %q every time, got %+v", i, first.VariantID, got)
		}
	}
}

func TestAssign_Distribution(t *testing.T) {
	a := NewAssigner(nil, nil)
	exp := &experiment.Experiment{
		ID:     "dist",
		Status: experiment.StatusActive,
		Variants: []experiment.Variant{
			{ID: "a", Weight: 50},
			{ID: "b", Weight: 30},
			{ID: "c", Weight: 20},
		},
	}

	const n = 10000
	counts := make(map[string]int)
	for i := 0; i < n; i++ {
		asg := a.Assign(fmt.Sprintf("user-%d", i), exp)
		if asg == nil {
			t.Fatalf("user-%d: unexpected nil assignment", i)
		}
		counts[asg.VariantID]++
	}

	want := map[string]float64{"a": 0.50, "b": 0.30, "c": 0.20}
	for id, expected := range want {
		observed := float64(counts[id]) / n
		if math.Abs(observed-expected) > 0.015 {
			t.Errorf("variant %s: observed %.3f, expected %.2f ± 0.015", id, observed, expected)
		}
	}
}

func TestAssign_InvalidWeightsReturnsNil(t *testing.T) {
	a := NewAssigner(nil, nil)
	for _, sum := range []int{90, 110} {
		exp := activeExperiment()
		exp.Variants[1].Weight = sum - 50
		if got := a.Assign("u1", exp); got != nil {
			t.Errorf("weight sum %d: expected nil, got %+v", sum, got)
		}
	}
}

func TestAssign_StatusGating(t *testing.T) {
	a := NewAssigner(nil, nil)
	for _, status := range []experiment.Status{experiment.StatusPaused, experiment.StatusCompleted} {
		exp := activeExperiment()
		exp.Status = status
		if got := a.Assign("u1", exp); got != nil {
			t.Errorf("status %s: expected nil, got %+v", status, got)
		}
	}
}

func TestAssign_DateGating(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	a := NewAssigner(nil, nil)
	a.now = func() time.Time { return now }

	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	exp := activeExperiment()
	exp.StartDate = &future
	if a.Assign("u1", exp) != nil {
		t.Error("start date in the future must gate assignment")
	}

	exp = activeExperiment()
	exp.EndDate = &past
	if a.Assign("u1", exp) != nil {
		t.Error("end date in the past must gate assignment")
	}
}

// Boundary convention: inclusive at both ends. An experiment is live from
// exactly StartDate through exactly EndDate.
func TestAssign_DateBoundariesInclusive(t *testing.T) {
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)
	a := NewAssigner(nil, nil)
	a.now = func() time.Time { return now }

	exp := activeExperiment()
	exp.StartDate = &now
	if a.Assign("u1", exp) == nil {
		t.Error("now == StartDate must be eligible")
	}

	exp = activeExperiment()
	exp.EndDate = &now
	if a.Assign("u1", exp) == nil {
		t.Error("now == EndDate must be eligible")
	}
}

func TestBucket_RangeAndStability(t *testing.T) {
	a := NewAssigner(nil, nil)
	for i := 0; i < 1000; i++ {
		user := fmt.Sprintf("user-%d", i)
		b := a.Bucket(user, "exp1")
		if b < 0 || b > 99 {
			t.Fatalf("bucket %d out of range", b)
		}
		if b != a.Bucket(user, "exp1") {
			t.Fatalf("bucket for %s not stable", user)
		}
	}
}

func TestPickVariant_DeclarationOrder(t *testing.T) {
	variants := []experiment.Variant{
		{ID: "a", Weight: 30},
		{ID: "b", Weight: 70},
	}

	if got := pickVariant(0, variants); got != "a" {
		t.Errorf("bucket 0: got %s, want a", got)
	}
	if got := pickVariant(29, variants); got != "a" {
		t.Errorf("bucket 29: got %s, want a", got)
	}
	if got := pickVariant(30, variants); got != "b" {
		t.Errorf("bucket 30: got %s, want b", got)
	}
	if got := pickVariant(99, variants); got != "b" {
		t.Errorf("bucket 99: got %s, want b", got)
	}
}
