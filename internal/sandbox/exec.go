package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/kilnforge/orchestrator/internal/sandbox/transport"
	"github.com/kilnforge/orchestrator/internal/security"
)

// outputScrubber redacts secret-shaped substrings (API keys, bearer
// tokens, private key blocks) from command output before it becomes
// part of an ExecResult — and, by extension, part of TestResult.Errors,
// which flows into execution events and the tracer. A build step that
// echoes an environment variable containing a credential should not
// leak it to anything reading Status/Details over HTTP.
var outputScrubber = security.NewScrubber()

// ExecInContainer runs cmd inside the session's container and returns
// its outcome. Per spec.md §4.2, a non-zero exit is part of the result,
// not an error — only transport failures are returned as errors.
func (m *Manager) ExecInContainer(ctx context.Context, sessionID, cmd string, timeout time.Duration) (*ExecResult, error) {
	container, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	if timeout <= 0 {
		timeout = transport.DefaultCommandTimeout
	}

	full := fmt.Sprintf("docker exec %s sh -c %s", quoteShell(container.Name), quoteShell(cmd))
	stdout, stderr, exitCode, err := m.transport.Run(ctx, full, timeout)
	if err != nil {
		return nil, err
	}

	output := stdout
	if stderr != "" {
		output += stderr
	}
	return &ExecResult{
		Success:  exitCode == 0,
		Output:   outputScrubber.Scrub(output),
		ExitCode: exitCode,
	}, nil
}

func (m *Manager) lookup(sessionID string) (*Container, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.containers[sessionID]
	if !ok || c.Status != StatusRunning {
		return nil, fmt.Errorf("sandbox: no running container for session %s", sessionID)
	}
	return c, nil
}
