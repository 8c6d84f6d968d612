package gateway

import "strings"

// SelectModel implements the adaptive model-selection decision table from
// spec.md §4.3. Rows are evaluated in order; the first matching row wins.
// Only meaningful for the chat provider — the bot provider has a fixed
// model identifier (bot.ModelID).
func SelectModel(models ModelConfig, role string, complexity Complexity, intent Intent, queueDepth int) (model string, reason string) {
	normalizedRole := strings.ToLower(role)

	if normalizedRole == "fixer" {
		return models.Fixer, "fixer_pinned"
	}
	if !isBuilderFamily(role) {
		return models.Large, "planner_quality_pinned"
	}

	switch complexity {
	case ComplexityComplex:
		if intent == IntentCRUD || intent == IntentStatic || intent == IntentScaffold {
			return models.Mid, "complex_optimized_" + strings.ToLower(string(intent))
		}
		return models.Large, "complex_pinned_quality"

	case ComplexitySimple:
		switch {
		case queueDepth >= 3:
			return models.Small, "simple_queue_high"
		case queueDepth >= 2:
			return models.Mid, "simple_queue_medium"
		default:
			return models.Large, "simple_queue_low"
		}

	case ComplexityMedium:
		if queueDepth >= 3 {
			return models.Mid, "medium_queue_high"
		}
		if intent == IntentStatic {
			return models.Mid, "medium_optimized_static"
		}
		return models.Large, "medium_standard"

	default:
		// Unrecognized complexity value: treat as the non-builder pin to
		// keep SelectModel total, per the routing-laws invariant in
		// spec.md §8.
		return models.Large, "planner_quality_pinned"
	}
}
