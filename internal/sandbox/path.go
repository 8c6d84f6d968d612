package sandbox

import (
	"fmt"

	"github.com/kilnforge/orchestrator/internal/security"
)

var (
	pathValidator = security.NewCommandValidator()
	pathSanitizer = security.NewPathSanitizer()
)

// validateWorkspacePath rejects any path that would escape the
// container's per-session workspace directory, delegating to the
// CommandValidator shared with the rest of this system (spec.md §4.2:
// "implementations MUST reject paths that escape the workspace root").
// The rejected path is run through PathSanitizer before it's embedded in
// the returned error, since that error can end up in an execution event
// surfaced over the HTTP API — a host home directory or absolute path
// outside /workspace shouldn't be echoed back verbatim.
func validateWorkspacePath(path string) error {
	if err := pathValidator.ValidatePath(path); err != nil {
		return fmt.Errorf("sandbox: invalid path %s", pathSanitizer.Sanitize(path))
	}
	return nil
}

// quoteShell wraps s in single quotes for safe inclusion in a shell
// command, via the shared SanitizeForShell helper.
func quoteShell(s string) string {
	return security.SanitizeForShell(s)
}
