// Package assign implements deterministic variant assignment: a user and
// an experiment hash to a stable bucket in [0,99], and the bucket falls
// into a variant according to the declared weight order. The same inputs
// always produce the same variant; this is the central correctness
// property of the subsystem.
package assign

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"

	"github.com/splitgate/splitgate/internal/experiment"
)

const bucketCount = 100

// Assigner computes variant assignments. It is stateless apart from its
// injected hash function and safe for concurrent use.
type Assigner struct {
	hasher Hasher
	logger *slog.Logger
	now    func() time.Time
}

// NewAssigner creates an Assigner. A nil hasher defaults to SHA-256.
func NewAssigner(hasher Hasher, logger *slog.Logger) *Assigner {
	if hasher == nil {
		hasher = SHA256Hasher{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Assigner{
		hasher: hasher,
		logger: logger.With("component", "assign.Assigner"),
		now:    time.Now,
	}
}

// Assign returns the variant assignment for the user, or nil when the
// user is not eligible: the experiment is not active, the current time is
// outside the experiment's date range, or the variant weights are invalid.
// Ineligibility is an expected outcome, not an error.
//
// Date boundaries are inclusive on both ends: an experiment is live from
// exactly StartDate through exactly EndDate.
func (a *Assigner) Assign(userID string, exp *experiment.Experiment) *experiment.Assignment {
	if exp.Status != experiment.StatusActive {
		return nil
	}

	now := a.now().UTC()
	if exp.StartDate != nil && now.Before(*exp.StartDate) {
		return nil
	}
	if exp.EndDate != nil && now.After(*exp.EndDate) {
		return nil
	}

	if sum, ok := experiment.ValidWeights(exp); !ok {
		a.logger.Error("invalid variant weights, skipping assignment",
			"experiment_id", exp.ID, "weight_sum", sum)
		return nil
	}

	bucket := a.Bucket(userID, exp.ID)
	variantID := pickVariant(bucket, exp.Variants)
	if variantID == "" {
		// Unreachable when weights sum to 100; guards a zero-variant slice.
		return nil
	}

	return &experiment.Assignment{
		ExperimentID: exp.ID,
		VariantID:    variantID,
		UserID:       userID,
		AssignedAt:   now,
	}
}

// Bucket hashes "userID:experimentID" and reduces the first 8 digest
// bytes to a bucket in [0,99].
func (a *Assigner) Bucket(userID, experimentID string) int {
	digest := a.hasher.Sum(fmt.Sprintf("%s:%s", userID, experimentID))
	prefix := binary.BigEndian.Uint64(digest[:8])
	return int(prefix % bucketCount)
}

// pickVariant walks the variants in declaration order, accumulating
// weight; the bucket belongs to the first variant whose cumulative weight
// exceeds it. Declaration order is significant: reordering variants moves
// bucket boundaries, so the registry never re-sorts them.
func pickVariant(bucket int, variants []experiment.Variant) string {
	cumulative := 0
	for _, v := range variants {
		cumulative += v.Weight
		if bucket < cumulative {
			return v.ID
		}
	}
	return ""
}
