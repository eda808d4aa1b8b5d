package web

import (
	"context"

	"github.com/splitgate/splitgate/internal/experiment"
)

// AssignmentsHeader carries the request's assignment map to the rendering
// layer as a JSON object of experiment ID -> variant ID.
const AssignmentsHeader = "X-Splitgate-Assignments"

type ctxKey struct{}

type requestState struct {
	userID      string
	assignments map[string]*experiment.Assignment
}

func withState(ctx context.Context, s *requestState) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

func stateFrom(ctx context.Context) *requestState {
	s, _ := ctx.Value(ctxKey{}).(*requestState)
	return s
}

// UserID returns the visitor identifier resolved by the Bridge for this
// request, or "" outside the middleware.
func UserID(ctx context.Context) string {
	if s := stateFrom(ctx); s != nil {
		return s.userID
	}
	return ""
}

// Assignments returns the full assignment map for this request.
func Assignments(ctx context.Context) map[string]*experiment.Assignment {
	if s := stateFrom(ctx); s != nil {
		return s.assignments
	}
	return nil
}

// GetVariant returns the variant the visitor is assigned to for the
// experiment, or "" when there is no assignment. Downstream handlers use
// this to choose content; absence degrades to the caller's default.
func GetVariant(ctx context.Context, experimentID string) string {
	if s := stateFrom(ctx); s != nil {
		if a, ok := s.assignments[experimentID]; ok {
			return a.VariantID
		}
	}
	return ""
}

// IsInVariant reports whether the visitor is assigned to the given
// variant of the experiment.
func IsInVariant(ctx context.Context, experimentID, variantID string) bool {
	return GetVariant(ctx, experimentID) == variantID
}
