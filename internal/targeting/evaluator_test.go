package targeting

import (
	"testing"

	"github.com/splitgate/splitgate/internal/experiment"
)

func expWithRules(rules ...experiment.TargetingRule) *experiment.Experiment {
	return &experiment.Experiment{
		ID:     "exp1",
		Status: experiment.StatusActive,
		Variants: []experiment.Variant{
			{ID: "control", Weight: 50},
			{ID: "b", Weight: 50},
		},
		TargetingRules: rules,
	}
}

func TestEvaluate_NoRulesIsOpen(t *testing.T) {
	ev := NewEvaluator(nil, nil)
	if !ev.Evaluate(expWithRules(), map[string]string{}) {
		t.Fatal("experiment with no rules should qualify everyone")
	}
}

func TestEvaluate_Operators(t *testing.T) {
	ev := NewEvaluator(nil, nil)
	ctx := map[string]string{
		"country": "DE",
		"path":    "/product/123",
		"ua":      "Mozilla/5.0 (mobile)",
	}

	tests := []struct {
		name string
		rule experiment.TargetingRule
		want bool
	}{
		{"equals match", experiment.TargetingRule{Type: "country", Operator: experiment.OpEquals, Value: "DE"}, true},
		{"equals miss", experiment.TargetingRule{Type: "country", Operator: experiment.OpEquals, Value: "FR"}, false},
		{"contains", experiment.TargetingRule{Type: "ua", Operator: experiment.OpContains, Value: "mobile"}, true},
		{"starts_with", experiment.TargetingRule{Type: "path", Operator: experiment.OpStartsWith, Value: "/product"}, true},
		{"ends_with", experiment.TargetingRule{Type: "path", Operator: experiment.OpEndsWith, Value: "/123"}, true},
		{"missing key fails closed", experiment.TargetingRule{Type: "plan", Operator: experiment.OpEquals, Value: "pro"}, false},
		{"unknown operator fails closed", experiment.TargetingRule{Type: "country", Operator: "gte", Value: "DE"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ev.Evaluate(expWithRules(tt.rule), ctx); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEvaluate_AndSemantics(t *testing.T) {
	ev := NewEvaluator(nil, nil)
	ctx := map[string]string{"country": "DE", "path": "/checkout"}

	match := experiment.TargetingRule{Type: "country", Operator: experiment.OpEquals, Value: "DE"}
	miss := experiment.TargetingRule{Type: "path", Operator: experiment.OpEquals, Value: "/home"}

	if ev.Evaluate(expWithRules(match, miss), ctx) {
		t.Error("one failing rule must fail the whole evaluation")
	}

	match2 := experiment.TargetingRule{Type: "path", Operator: experiment.OpStartsWith, Value: "/check"}
	if !ev.Evaluate(expWithRules(match, match2), ctx) {
		t.Error("two matching rules should pass")
	}
}

func TestEvaluate_Regex(t *testing.T) {
	ev := NewEvaluator(nil, nil)
	rule := experiment.TargetingRule{Type: "path", Operator: experiment.OpRegex, Value: `^/product/[0-9]+$`}

	if !ev.Evaluate(expWithRules(rule), map[string]string{"path": "/product/123"}) {
		t.Error("pattern should match /product/123")
	}
	if ev.Evaluate(expWithRules(rule), map[string]string{"path": "/product/abc"}) {
		t.Error("pattern should reject /product/abc")
	}
}

func TestEvaluate_MalformedRegexFailsClosed(t *testing.T) {
	ev := NewEvaluator(nil, nil)
	rule := experiment.TargetingRule{Type: "path", Operator: experiment.OpRegex, Value: `([`}

	// Evaluate twice: second call hits the cached nil entry.
	for i := 0; i < 2; i++ {
		if ev.Evaluate(expWithRules(rule), map[string]string{"path": "/anything"}) {
			t.Fatal("malformed regex must fail closed, not match")
		}
	}
}
