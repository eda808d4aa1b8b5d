// Package experiment defines the experiment data model shared by the
// registry, assigner, and persistence layers, plus structural validation
// of experiment definitions fetched from the remote config source.
package experiment

import (
	"encoding/json"
	"time"
)

// Status describes an experiment's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

// Rule operators supported by the targeting evaluator.
const (
	OpEquals     = "equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
	OpCEL        = "cel"
)

// Variant is one arm of an experiment. Weight is a percentage allocation;
// weights across an experiment's variants must sum to exactly 100.
type Variant struct {
	ID     string          `json:"id"`
	Name   string          `json:"name,omitempty"`
	Weight int             `json:"weight"`
	Config json.RawMessage `json:"config,omitempty"`
}

// TargetingRule is a predicate restricting which visitors qualify for an
// experiment. Type names a key in the flat request context map; a missing
// key fails the rule (closed world).
type TargetingRule struct {
	Type     string `json:"type"`
	Operator string `json:"operator"`
	Value    string `json:"value"`
}

// Experiment is a named, time-boxed traffic split among variants.
type Experiment struct {
	ID                string          `json:"id"`
	Name              string          `json:"name,omitempty"`
	Status            Status          `json:"status"`
	Variants          []Variant       `json:"variants"`
	StartDate         *time.Time      `json:"start_date,omitempty"`
	EndDate           *time.Time      `json:"end_date,omitempty"`
	TargetingRules    []TargetingRule `json:"targeting_rules,omitempty"`
	MinimumSampleSize int             `json:"minimum_sample_size,omitempty"`
}

// Variant returns the variant with the given ID, or nil.
func (e *Experiment) Variant(id string) *Variant {
	for i := range e.Variants {
		if e.Variants[i].ID == id {
			return &e.Variants[i]
		}
	}
	return nil
}

// Assignment records which variant a user landed in. Once persisted for a
// (user, experiment) pair it is reused verbatim, even if the experiment's
// weights later change.
type Assignment struct {
	ExperimentID string    `json:"experiment_id"`
	VariantID    string    `json:"variant_id"`
	UserID       string    `json:"user_id"`
	AssignedAt   time.Time `json:"assigned_at"`
}
