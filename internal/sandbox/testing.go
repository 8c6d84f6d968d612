package sandbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// TestResult is the outcome of the code-testing protocol (spec.md §4.2).
type TestResult struct {
	Success bool
	Errors  []string
}

// installTimeout and maxCheckedFiles are fixed by spec.md §4.2's code
// testing protocol.
const (
	installTimeout  = 120 * time.Second
	maxCheckedFiles = 10
)

// RunCodeTests runs the fixed three-step protocol against a freshly
// written workspace: optional `npm install --production`, syntax-check
// the first 10 JS/TS files in lexicographic order, and report collected
// errors.
func (m *Manager) RunCodeTests(ctx context.Context, sessionID string) (*TestResult, error) {
	errors := []string{}

	hasPackageJSON, err := m.ExecInContainer(ctx, sessionID, "test -f package.json", 5*time.Second)
	if err != nil {
		return nil, err
	}
	if hasPackageJSON.Success {
		installResult, err := m.ExecInContainer(ctx, sessionID, "npm install --production", installTimeout)
		if err != nil {
			return nil, err
		}
		if !installResult.Success {
			errors = append(errors, fmt.Sprintf("npm install failed: %s", tail(installResult.Output, 500)))
		}
	}

	files, err := m.findCheckableFiles(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	for _, f := range files {
		result, err := m.ExecInContainer(ctx, sessionID, fmt.Sprintf("node --check %s", quoteShell(f)), 10*time.Second)
		if err != nil {
			return nil, err
		}
		if !result.Success {
			errors = append(errors, fmt.Sprintf("Syntax error in %s: %s", f, result.Output))
		}
	}

	return &TestResult{Success: len(errors) == 0, Errors: errors}, nil
}

// findCheckableFiles enumerates *.js/*.ts files under the workspace and
// returns the first maxCheckedFiles in lexicographic order.
func (m *Manager) findCheckableFiles(ctx context.Context, sessionID string) ([]string, error) {
	result, err := m.ExecInContainer(ctx, sessionID,
		`find . -type f \( -name '*.js' -o -name '*.ts' \)`, 10*time.Second)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		return nil, nil
	}

	var files []string
	for _, line := range strings.Split(result.Output, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			files = append(files, trimmed)
		}
	}
	sort.Strings(files)
	if len(files) > maxCheckedFiles {
		files = files[:maxCheckedFiles]
	}
	return files, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
