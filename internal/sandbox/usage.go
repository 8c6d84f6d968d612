package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilnforge/orchestrator/internal/sandbox/transport"
)

// GetResourceUsage parses `docker stats --no-stream` defensively, per
// spec.md §4.2 — malformed or missing fields degrade to zero values
// rather than failing the call.
func (m *Manager) GetResourceUsage(ctx context.Context, sessionID string) (*ResourceUsage, error) {
	container, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	cmd := fmt.Sprintf("docker stats --no-stream --format %s %s",
		quoteShell("{{.CPUPerc}}|{{.MemUsage}}|{{.NetIO}}|{{.BlockIO}}"),
		quoteShell(container.Name))

	stdout, stderr, exitCode, err := m.transport.Run(ctx, cmd, transport.DefaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("sandbox: resource usage failed (exit %d): %s", exitCode, stderr)
	}

	usage := &ResourceUsage{Uptime: m.now().Sub(container.CreatedAt)}
	fields := strings.SplitN(strings.TrimSpace(stdout), "|", 4)
	if len(fields) > 0 {
		usage.CPU = fields[0]
	}
	if len(fields) > 1 {
		usage.Memory = fields[1]
	}
	if len(fields) > 2 {
		usage.Network = fields[2]
	}
	if len(fields) > 3 {
		usage.Disk = fields[3]
	}
	return usage, nil
}
