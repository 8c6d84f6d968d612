package sandbox

import (
	"context"
	"fmt"
	"strings"

	"github.com/kilnforge/orchestrator/internal/sandbox/transport"
)

// CreateSnapshot commits the session's container filesystem to a new,
// timestamped image, per spec.md §4.2.
func (m *Manager) CreateSnapshot(ctx context.Context, sessionID string) (*Snapshot, error) {
	container, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	now := m.now()
	imageName := fmt.Sprintf("orch-snapshot-%s-%d", sessionID, now.UnixMilli())
	cmd := fmt.Sprintf("docker commit %s %s", quoteShell(container.Name), quoteShell(imageName))

	stdout, stderr, exitCode, err := m.transport.Run(ctx, cmd, transport.SnapshotTimeout)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("sandbox: snapshot failed (exit %d): %s", exitCode, stderr)
	}

	return &Snapshot{
		Name:      imageName,
		ImageID:   strings.TrimSpace(stdout),
		Timestamp: now,
	}, nil
}
