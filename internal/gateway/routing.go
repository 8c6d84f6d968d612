package gateway

import "strings"

// supervisoryRoles map to the Polling Bot provider directly.
var supervisoryRoles = map[string]bool{
	"planner":  true,
	"frontend": true,
	"backend":  true,
	"devops":   true,
	"qa":       true,
	"android":  true,
	"ios":      true,
}

// executionRoles map to the Chat-Completions provider directly.
var executionRoles = map[string]bool{
	"builder":   true,
	"installer": true,
	"fixer":     true,
	"coder":     true,
	"executor":  true,
}

// substringFallback is the ordered table applied to unknown roles. Rules
// are evaluated in order; the first substring match wins.
var substringFallback = []struct {
	substrs []string
	kind    ProviderKind
}{
	{[]string{"plan", "architect"}, ProviderBot},
	{[]string{"front"}, ProviderBot},
	{[]string{"back"}, ProviderBot},
	{[]string{"devops", "deploy"}, ProviderBot},
	{[]string{"qa", "test", "quality"}, ProviderBot},
	{[]string{"android", "mobile"}, ProviderBot},
	{[]string{"ios", "apple", "swift"}, ProviderBot},
	{[]string{"build", "code", "install", "fix"}, ProviderChat},
}

// RoleProvider resolves a role name to its provider, per spec.md §4.3.
func RoleProvider(role string) ProviderKind {
	normalized := strings.ToLower(role)

	if supervisoryRoles[normalized] {
		return ProviderBot
	}
	if executionRoles[normalized] {
		return ProviderChat
	}

	for _, rule := range substringFallback {
		for _, s := range rule.substrs {
			if strings.Contains(normalized, s) {
				return rule.kind
			}
		}
	}

	return ProviderChat
}

// normalizedRole lowercases a role name for table lookups.
func normalizedRole(role string) string {
	return strings.ToLower(role)
}

// isBuilderFamily reports whether role is one of the three roles the
// model-selection table treats as "builder" (builder/coder/executor).
func isBuilderFamily(role string) bool {
	switch strings.ToLower(role) {
	case "builder", "coder", "executor":
		return true
	default:
		return false
	}
}
