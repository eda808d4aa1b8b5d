// Package web bridges experiment assignment to the HTTP request boundary.
// The Bridge middleware resolves (or mints) the visitor identifier, pins
// assignments in durable per-experiment cookies so repeat requests skip
// recomputation, and exposes the resulting assignment map to downstream
// handlers via the request context and a response header.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/splitgate/splitgate/internal/assign"
	"github.com/splitgate/splitgate/internal/experiment"
	"github.com/splitgate/splitgate/internal/store"
)

// DefaultTTL is the lifetime of the visitor cookie and every assignment
// cookie; roughly one year.
const DefaultTTL = 365 * 24 * time.Hour

// ContextFunc assembles the flat targeting context from a request.
type ContextFunc func(*http.Request) map[string]string

// Bridge is the request-boundary persistence middleware.
type Bridge struct {
	source      assign.ExperimentSource
	coordinator *assign.Coordinator
	backing     store.AssignmentStore // optional server-side mirror
	contextFn   ContextFunc
	ttl         time.Duration
	secure      bool
	logger      *slog.Logger
}

// NewBridge creates a Bridge. backing may be nil; when set, assignments
// are mirrored into it (e.g. the SQLite store) in addition to cookies,
// and consulted when the visitor arrives without assignment cookies.
func NewBridge(
	source assign.ExperimentSource,
	coordinator *assign.Coordinator,
	backing store.AssignmentStore,
	secure bool,
	logger *slog.Logger,
) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		source:      source,
		coordinator: coordinator,
		backing:     backing,
		contextFn:   RequestContext,
		ttl:         DefaultTTL,
		secure:      secure,
		logger:      logger.With("component", "web.Bridge"),
	}
}

// SetTTL overrides the assignment cookie lifetime.
func (b *Bridge) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		b.ttl = ttl
	}
}

// SetContextFunc replaces the default targeting-context assembly.
func (b *Bridge) SetContextFunc(fn ContextFunc) {
	if fn != nil {
		b.contextFn = fn
	}
}

// Middleware wraps next with assignment resolution. It never fails the
// request: on any internal degradation downstream handlers simply see an
// empty assignment map and render default content.
func (b *Bridge) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := b.resolveUserID(w, r)
		cookies := NewCookieStore(w, r, b.secure)
		attrs := b.contextFn(r)

		assignments := b.resolve(r.Context(), userID, cookies, attrs)

		if len(assignments) > 0 {
			w.Header().Set(AssignmentsHeader, serializeAssignments(assignments))
		}

		ctx := withState(r.Context(), &requestState{
			userID:      userID,
			assignments: assignments,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve walks the current experiment set. A cookie-pinned assignment is
// reused verbatim -- it stays stable even if the experiment's weights have
// since changed. Unpinned experiments go through targeting and hashing,
// and a fresh assignment is persisted with the long TTL.
func (b *Bridge) resolve(ctx context.Context, userID string, cookies *CookieStore, attrs map[string]string) map[string]*experiment.Assignment {
	experiments := b.source.Fetch(ctx, false)
	assignments := make(map[string]*experiment.Assignment, len(experiments))

	for id := range experiments {
		if variantID := b.pinned(userID, id, cookies); variantID != "" {
			assignments[id] = &experiment.Assignment{
				ExperimentID: id,
				VariantID:    variantID,
				UserID:       userID,
			}
			continue
		}

		a := b.coordinator.AssignOne(ctx, userID, id, attrs)
		if a == nil {
			continue
		}
		assignments[id] = a
		b.persist(userID, id, a.VariantID, cookies)
	}
	return assignments
}

func (b *Bridge) pinned(userID, experimentID string, cookies *CookieStore) string {
	if variantID, _ := cookies.Get(userID, experimentID); variantID != "" {
		return variantID
	}
	if b.backing != nil {
		variantID, err := b.backing.Get(userID, experimentID)
		if err != nil {
			b.logger.Warn("backing store read failed", "experiment_id", experimentID, "error", err)
			return ""
		}
		if variantID != "" {
			// Re-pin the cookie so the next request short-circuits.
			_ = cookies.Set(userID, experimentID, variantID, b.ttl)
		}
		return variantID
	}
	return ""
}

func (b *Bridge) persist(userID, experimentID, variantID string, cookies *CookieStore) {
	if err := cookies.Set(userID, experimentID, variantID, b.ttl); err != nil {
		b.logger.Warn("failed to set assignment cookie", "experiment_id", experimentID, "error", err)
	}
	if b.backing != nil {
		if err := b.backing.Set(userID, experimentID, variantID, b.ttl); err != nil {
			b.logger.Warn("backing store write failed", "experiment_id", experimentID, "error", err)
		}
	}
}

// resolveUserID returns the visitor's stable identifier, minting and
// persisting a ULID for first-time visitors.
func (b *Bridge) resolveUserID(w http.ResponseWriter, r *http.Request) string {
	if cookie, err := r.Cookie(UserCookie); err == nil && cookie.Value != "" {
		return cookie.Value
	}

	userID := ulid.Make().String()
	http.SetCookie(w, &http.Cookie{
		Name:     UserCookie,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(b.ttl.Seconds()),
		HttpOnly: true,
		Secure:   b.secure,
		SameSite: http.SameSiteLaxMode,
	})
	b.logger.Debug("minted visitor id", "user_id", userID)
	return userID
}

// RequestContext is the default targeting-context assembly: the URL path
// and host, query parameters, cookies, and a few common headers, all under
// prefixed keys so targeting rules can address them unambiguously.
func RequestContext(r *http.Request) map[string]string {
	attrs := map[string]string{
		"path": r.URL.Path,
		"host": r.Host,
	}
	for key, vals := range r.URL.Query() {
		if len(vals) > 0 {
			attrs["query."+key] = vals[0]
		}
	}
	for _, c := range r.Cookies() {
		attrs["cookie."+c.Name] = c.Value
	}
	for _, h := range []string{"User-Agent", "Accept-Language", "Referer"} {
		if v := r.Header.Get(h); v != "" {
			attrs["header."+strings.ToLower(h)] = v
		}
	}
	return attrs
}

func serializeAssignments(assignments map[string]*experiment.Assignment) string {
	flat := make(map[string]string, len(assignments))
	for id, a := range assignments {
		flat[id] = a.VariantID
	}
	data, err := json.Marshal(flat)
	if err != nil {
		return "{}"
	}
	return string(data)
}
