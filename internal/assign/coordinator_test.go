package assign

import (
	"context"
	"testing"

	"github.com/splitgate/splitgate/internal/experiment"
	"github.com/splitgate/splitgate/internal/targeting"
)

// mockSource is an in-memory ExperimentSource for testing.
type mockSource struct {
	experiments map[string]*experiment.Experiment
}

func (m *mockSource) Fetch(_ context.Context, _ bool) map[string]*experiment.Experiment {
	return m.experiments
}

func newCoordinator(experiments ...*experiment.Experiment) *Coordinator {
	src := &mockSource{experiments: make(map[string]*experiment.Experiment)}
	for _, e := range experiments {
		src.experiments[e.ID] = e
	}
	return NewCoordinator(src, targeting.NewEvaluator(nil, nil), NewAssigner(nil, nil), nil)
}

func TestAssignOne(t *testing.T) {
	exp := activeExperiment()
	c := newCoordinator(exp)

	got := c.AssignOne(context.Background(), "u1", "exp1", nil)
	if got == nil {
		t.Fatal("expected an assignment")
	}
	if got.ExperimentID != "exp1" || got.UserID != "u1" {
		t.Errorf("unexpected assignment %+v", got)
	}

	if c.AssignOne(context.Background(), "u1", "nope", nil) != nil {
		t.Error("unknown experiment should return nil")
	}
}

func TestAssignOne_TargetingBeforeHashing(t *testing.T) {
	exp := activeExperiment()
	exp.TargetingRules = []experiment.TargetingRule{
		{Type: "country", Operator: experiment.OpEquals, Value: "DE"},
	}
	c := newCoordinator(exp)

	if c.AssignOne(context.Background(), "u1", "exp1", map[string]string{"country": "FR"}) != nil {
		t.Error("unqualified user must not be assigned")
	}
	if c.AssignOne(context.Background(), "u1", "exp1", map[string]string{"country": "DE"}) == nil {
		t.Error("qualified user should be assigned")
	}
}

func TestAssignAll_FaultIsolation(t *testing.T) {
	healthy := activeExperiment()

	broken := &experiment.Experiment{
		ID:     "broken",
		Status: experiment.StatusActive,
		Variants: []experiment.Variant{
			{ID: "a", Weight: 40},
			{ID: "b", Weight: 40}, // sums to 80
		},
	}

	paused := activeExperiment()
	paused.ID = "paused"
	paused.Status = experiment.StatusPaused

	c := newCoordinator(healthy, broken, paused)

	got := c.AssignAll(context.Background(), "u1", nil)
	if len(got) != 1 {
		t.Fatalf("expected exactly one assignment, got %d", len(got))
	}
	if got["exp1"] == nil {
		t.Error("healthy experiment should be assigned despite broken siblings")
	}
}
