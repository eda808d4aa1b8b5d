package assign

import (
	"context"
	"log/slog"

	"github.com/splitgate/splitgate/internal/experiment"
	"github.com/splitgate/splitgate/internal/targeting"
)

// ExperimentSource supplies the current assignable experiment set.
// Implemented by registry.Cache.
type ExperimentSource interface {
	Fetch(ctx context.Context, force bool) map[string]*experiment.Experiment
}

// Coordinator orchestrates qualification and bucketing across the current
// experiment set. Targeting is always evaluated before hashing so an
// ineligible user never receives an assignment.
type Coordinator struct {
	source    ExperimentSource
	evaluator *targeting.Evaluator
	assigner  *Assigner
	logger    *slog.Logger
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(source ExperimentSource, evaluator *targeting.Evaluator, assigner *Assigner, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		source:    source,
		evaluator: evaluator,
		assigner:  assigner,
		logger:    logger.With("component", "assign.Coordinator"),
	}
}

// AssignOne assigns the user to a single experiment by ID. Returns nil
// when the experiment is unknown, the user does not qualify, or the user
// is otherwise ineligible.
func (c *Coordinator) AssignOne(ctx context.Context, userID, experimentID string, attrs map[string]string) *experiment.Assignment {
	exp, ok := c.source.Fetch(ctx, false)[experimentID]
	if !ok {
		return nil
	}
	if !c.evaluator.Evaluate(exp, attrs) {
		return nil
	}
	return c.assigner.Assign(userID, exp)
}

// AssignAll assigns the user across the full experiment set, keyed by
// experiment ID. Ineligibility in one experiment never prevents
// assignment in another.
func (c *Coordinator) AssignAll(ctx context.Context, userID string, attrs map[string]string) map[string]*experiment.Assignment {
	experiments := c.source.Fetch(ctx, false)
	assignments := make(map[string]*experiment.Assignment)

	for id, exp := range experiments {
		if !c.evaluator.Evaluate(exp, attrs) {
			continue
		}
		if a := c.assigner.Assign(userID, exp); a != nil {
			assignments[id] = a
		}
	}

	c.logger.Debug("batch assignment complete",
		"user_id", userID,
		"experiments", len(experiments),
		"assigned", len(assignments),
	)
	return assignments
}
