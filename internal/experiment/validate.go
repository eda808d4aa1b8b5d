package experiment

import "fmt"

// Validate checks the structural invariants of an experiment definition.
// It returns the first violation found. Callers (the registry) exclude
// invalid experiments from the assignable set rather than aborting.
func Validate(e *Experiment) error {
	if e.ID == "" {
		return fmt.Errorf("experiment has no id")
	}
	if len(e.Variants) < 2 {
		return fmt.Errorf("experiment %s has %d variants, need at least 2", e.ID, len(e.Variants))
	}

	seen := make(map[string]bool, len(e.Variants))
	sum := 0
	for _, v := range e.Variants {
		if v.ID == "" {
			return fmt.Errorf("experiment %s has a variant with no id", e.ID)
		}
		if seen[v.ID] {
			return fmt.Errorf("experiment %s has duplicate variant id %q", e.ID, v.ID)
		}
		seen[v.ID] = true
		if v.Weight < 0 || v.Weight > 100 {
			return fmt.Errorf("experiment %s variant %s has weight %d outside 0..100", e.ID, v.ID, v.Weight)
		}
		sum += v.Weight
	}
	if sum != 100 {
		return fmt.Errorf("experiment %s variant weights sum to %d, expected exactly 100", e.ID, sum)
	}

	if e.StartDate != nil && e.EndDate != nil && !e.StartDate.Before(*e.EndDate) {
		return fmt.Errorf("experiment %s start date %s is not before end date %s",
			e.ID, e.StartDate.Format("2006-01-02"), e.EndDate.Format("2006-01-02"))
	}

	switch e.Status {
	case StatusActive, StatusPaused, StatusCompleted:
	case "":
		return fmt.Errorf("experiment %s has no status", e.ID)
	default:
		return fmt.Errorf("experiment %s has unknown status %q", e.ID, e.Status)
	}

	return nil
}

// ValidWeights reports whether the variant weights sum to exactly 100.
// The assigner uses this as a cheap gate before bucketing; full structural
// validation happens at parse time in the registry.
func ValidWeights(e *Experiment) (int, bool) {
	sum := 0
	for _, v := range e.Variants {
		sum += v.Weight
	}
	return sum, sum == 100
}
