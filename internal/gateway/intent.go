package gateway

import "strings"

// intentRules is the ordered, first-match rule list from spec.md §4.3.
var intentRules = []struct {
	substrs []string
	intent  Intent
}{
	{[]string{"scaffold", "boilerplate", "setup", "new project"}, IntentScaffold},
	{[]string{"crud", "form", "api", "list"}, IntentCRUD},
	{[]string{"static", "landing", "html only"}, IntentStatic},
	{[]string{"refactor", "optimize", "migration"}, IntentRefactor},
}

// DetectIntent classifies a prompt into exactly one Intent using
// case-insensitive substring matching, first rule wins.
func DetectIntent(prompt string) Intent {
	normalized := strings.ToLower(prompt)

	for _, rule := range intentRules {
		for _, s := range rule.substrs {
			if strings.Contains(normalized, s) {
				return rule.intent
			}
		}
	}

	return IntentGeneral
}
