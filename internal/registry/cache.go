// Package registry caches experiment definitions fetched from the remote
// config store. The cache is the only process-wide mutable state in the
// subsystem: it is replaced wholesale on refresh (never mutated in place)
// and retained as a stale fallback when the store is unreachable, so page
// rendering never blocks on config fetch failures.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/splitgate/splitgate/internal/experiment"
)

// DefaultTTL is how long a fetched experiment set is considered fresh.
const DefaultTTL = 60 * time.Second

// Cache fetches, validates, and caches the experiment set. Safe for
// concurrent use. Concurrent refreshes may issue duplicate upstream
// fetches; the source is idempotent so the duplicates are tolerated
// rather than serialized behind a single-flight guard.
type Cache struct {
	source Source
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	data      map[string]*experiment.Experiment
	fetchedAt time.Time
	populated bool
}

// NewCache creates a Cache over the given source. A non-positive TTL
// defaults to DefaultTTL.
func NewCache(source Source, ttl time.Duration, logger *slog.Logger) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{
		source: source,
		ttl:    ttl,
		logger: logger.With("component", "registry.Cache"),
		now:    time.Now,
	}
}

// Fetch returns the current experiment set keyed by ID. A fresh cache is
// returned without I/O; otherwise the source is fetched and the cache
// replaced. On fetch or parse failure any previously populated cache --
// even an expired one -- is returned with a warning, and only a
// never-populated cache degrades to an empty map. The returned map must
// not be mutated by callers.
func (c *Cache) Fetch(ctx context.Context, force bool) map[string]*experiment.Experiment {
	c.mu.RLock()
	if !force && c.populated && c.now().Sub(c.fetchedAt) < c.ttl {
		data := c.data
		c.mu.RUnlock()
		return data
	}
	c.mu.RUnlock()

	payload, err := c.source.Fetch(ctx)
	if err != nil {
		return c.fallback(err)
	}

	parsed, err := parsePayload(payload, c.logger)
	if err != nil {
		return c.fallback(err)
	}

	c.mu.Lock()
	c.data = parsed
	c.fetchedAt = c.now()
	c.populated = true
	c.mu.Unlock()

	c.logger.Info("experiment set refreshed", "experiments", len(parsed))
	return parsed
}

// fallback returns the stale cache if one was ever populated, or an empty
// map otherwise. Fetch errors never propagate to callers.
func (c *Cache) fallback(err error) map[string]*experiment.Experiment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.populated {
		c.logger.Warn("experiment fetch failed, serving stale cache",
			"error", err,
			"age", c.now().Sub(c.fetchedAt).Round(time.Second).String(),
			"experiments", len(c.data),
		)
		return c.data
	}
	c.logger.Error("experiment fetch failed with no cache to fall back to", "error", err)
	return map[string]*experiment.Experiment{}
}

// Clear resets the cache to its never-populated state.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.data = nil
	c.fetchedAt = time.Time{}
	c.populated = false
	c.mu.Unlock()
}

// FetchedAt returns when the cache was last successfully refreshed, and
// whether it has ever been populated.
func (c *Cache) FetchedAt() (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.fetchedAt, c.populated
}

// wirePayload is the remote store's document shape.
type wirePayload struct {
	Experiments map[string]wireExperiment `json:"experiments"`
	LastUpdated string                    `json:"last_updated"`
}

// wireExperiment carries dates as ISO-8601 strings; they are normalized
// to time.Time during parsing.
type wireExperiment struct {
	ID                string                     `json:"id"`
	Name              string                     `json:"name"`
	Status            string                     `json:"status"`
	Variants          []experiment.Variant       `json:"variants"`
	StartDate         string                     `json:"start_date"`
	EndDate           string                     `json:"end_date"`
	TargetingRules    []experiment.TargetingRule `json:"targeting_rules"`
	MinimumSampleSize int                        `json:"minimum_sample_size"`
}

// ValidatePayload decodes a raw payload and validates each experiment
// independently, returning the accepted experiments plus one problem
// string per rejected experiment. Used by the cache and the CLI validator.
func ValidatePayload(payload []byte) (map[string]*experiment.Experiment, []string, error) {
	var wire wirePayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, nil, fmt.Errorf("malformed experiment payload: %w", err)
	}

	out := make(map[string]*experiment.Experiment, len(wire.Experiments))
	var problems []string
	for id, w := range wire.Experiments {
		exp, err := convertExperiment(id, w)
		if err == nil {
			err = experiment.Validate(exp)
		}
		if err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", id, err))
			continue
		}
		out[exp.ID] = exp
	}
	return out, problems, nil
}

// parsePayload decodes and validates the remote payload. A structurally
// invalid experiment is logged and excluded without aborting the rest.
func parsePayload(payload []byte, logger *slog.Logger) (map[string]*experiment.Experiment, error) {
	out, problems, err := ValidatePayload(payload)
	if err != nil {
		return nil, err
	}
	for _, p := range problems {
		logger.Warn("excluding invalid experiment", "detail", p)
	}
	return out, nil
}

func convertExperiment(id string, w wireExperiment) (*experiment.Experiment, error) {
	if w.ID == "" {
		w.ID = id
	}

	start, err := parseDate(w.StartDate)
	if err != nil {
		return nil, fmt.Errorf("experiment %s has bad start_date: %w", w.ID, err)
	}
	end, err := parseDate(w.EndDate)
	if err != nil {
		return nil, fmt.Errorf("experiment %s has bad end_date: %w", w.ID, err)
	}

	return &experiment.Experiment{
		ID:                w.ID,
		Name:              w.Name,
		Status:            experiment.Status(w.Status),
		Variants:          w.Variants,
		StartDate:         start,
		EndDate:           end,
		TargetingRules:    w.TargetingRules,
		MinimumSampleSize: w.MinimumSampleSize,
	}, nil
}

// parseDate accepts RFC 3339 timestamps and bare dates.
func parseDate(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unparseable date %q", s)
}
