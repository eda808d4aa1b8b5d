// Package targeting decides whether a visitor qualifies for an experiment.
// Rules are evaluated against a flat request-context map assembled by the
// caller (URL path, cookies, headers); the evaluator has no knowledge of
// where the values come from. All rules must pass (logical AND), and a
// rule referencing a missing context key fails.
package targeting

import (
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/splitgate/splitgate/internal/experiment"
)

// Evaluator evaluates targeting rules. It is safe for concurrent use;
// compiled regex and CEL programs are cached across evaluations.
type Evaluator struct {
	cel    *CELEvaluator
	logger *slog.Logger

	mu      sync.RWMutex
	regexes map[string]*regexp.Regexp // pattern -> compiled, nil entry = known bad
}

// NewEvaluator creates an Evaluator. The CEL sub-evaluator is optional;
// when nil, rules with the "cel" operator fail closed.
func NewEvaluator(cel *CELEvaluator, logger *slog.Logger) *Evaluator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Evaluator{
		cel:     cel,
		logger:  logger.With("component", "targeting.Evaluator"),
		regexes: make(map[string]*regexp.Regexp),
	}
}

// Evaluate reports whether the given context qualifies for the experiment.
// An experiment with no rules is open to everyone.
func (ev *Evaluator) Evaluate(exp *experiment.Experiment, ctx map[string]string) bool {
	for _, rule := range exp.TargetingRules {
		if !ev.matches(rule, ctx) {
			return false
		}
	}
	return true
}

func (ev *Evaluator) matches(rule experiment.TargetingRule, ctx map[string]string) bool {
	if rule.Operator == experiment.OpCEL {
		return ev.matchCEL(rule, ctx)
	}

	val, ok := ctx[rule.Type]
	if !ok {
		return false
	}

	switch rule.Operator {
	case experiment.OpEquals:
		return val == rule.Value
	case experiment.OpContains:
		return strings.Contains(val, rule.Value)
	case experiment.OpStartsWith:
		return strings.HasPrefix(val, rule.Value)
	case experiment.OpEndsWith:
		return strings.HasSuffix(val, rule.Value)
	case experiment.OpRegex:
		re := ev.compileRegex(rule.Value)
		if re == nil {
			return false
		}
		return re.MatchString(val)
	default:
		ev.logger.Warn("unknown targeting operator, rule fails closed",
			"operator", rule.Operator, "field", rule.Type)
		return false
	}
}

func (ev *Evaluator) matchCEL(rule experiment.TargetingRule, ctx map[string]string) bool {
	if ev.cel == nil {
		ev.logger.Warn("cel targeting rule but no CEL evaluator configured", "field", rule.Type)
		return false
	}
	ok, err := ev.cel.Matches(rule.Value, ctx)
	if err != nil {
		ev.logger.Warn("cel targeting rule failed closed", "expression", rule.Value, "error", err)
		return false
	}
	return ok
}

// compileRegex returns the compiled pattern from cache, compiling on first
// use. A malformed pattern is cached as nil so it is logged once, not on
// every request.
func (ev *Evaluator) compileRegex(pattern string) *regexp.Regexp {
	ev.mu.RLock()
	re, seen := ev.regexes[pattern]
	ev.mu.RUnlock()
	if seen {
		return re
	}

	compiled, err := regexp.Compile(pattern)
	if err != nil {
		ev.logger.Warn("malformed regex in targeting rule, rule fails closed",
			"pattern", pattern, "error", err)
		compiled = nil
	}

	ev.mu.Lock()
	ev.regexes[pattern] = compiled
	ev.mu.Unlock()
	return compiled
}
