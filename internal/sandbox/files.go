package sandbox

import (
	"context"
	"encoding/base64"
	"fmt"
	"path"
	"strings"

	"github.com/kilnforge/orchestrator/internal/sandbox/transport"
)

// WriteFile writes content to path inside the session's workspace,
// base64-encoding it host-side and decoding it via a shell pipeline
// in-container to avoid quoting hazards (spec.md §4.2's file-write
// encoding rule).
func (m *Manager) WriteFile(ctx context.Context, sessionID, filePath string, content []byte) error {
	if err := validateWorkspacePath(filePath); err != nil {
		return err
	}
	container, err := m.lookup(sessionID)
	if err != nil {
		return err
	}

	full := resolveWorkspacePath(container.WorkspaceDir, filePath)
	dir := path.Dir(full)
	encoded := base64.StdEncoding.EncodeToString(content)

	cmd := fmt.Sprintf("mkdir -p %s && printf '%%s' %s | base64 -d > %s",
		quoteShell(dir), quoteShell(encoded), quoteShell(full))
	full2 := fmt.Sprintf("docker exec %s sh -c %s", quoteShell(container.Name), quoteShell(cmd))

	_, stderr, exitCode, err := m.transport.Run(ctx, full2, transport.DefaultCommandTimeout)
	if err != nil {
		return err
	}
	if exitCode != 0 && !transport.IsWarningOnlyStderr(stderr) {
		return fmt.Errorf("sandbox: write file %s failed (exit %d): %s", filePath, exitCode, stderr)
	}
	return nil
}

// ReadFile reads path from the session's workspace.
func (m *Manager) ReadFile(ctx context.Context, sessionID, filePath string) ([]byte, error) {
	if err := validateWorkspacePath(filePath); err != nil {
		return nil, err
	}
	container, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	full := resolveWorkspacePath(container.WorkspaceDir, filePath)
	cmd := fmt.Sprintf("docker exec %s sh -c %s", quoteShell(container.Name), quoteShell("base64 "+quoteShell(full)))

	stdout, stderr, exitCode, err := m.transport.Run(ctx, cmd, transport.DefaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("sandbox: read file %s failed (exit %d): %s", filePath, exitCode, stderr)
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(stdout))
	if err != nil {
		return nil, fmt.Errorf("sandbox: decode file %s: %w", filePath, err)
	}
	return decoded, nil
}

// ListFiles lists the immediate entries of dir inside the session's
// workspace.
func (m *Manager) ListFiles(ctx context.Context, sessionID, dir string) ([]string, error) {
	if err := validateWorkspacePath(dir); err != nil {
		return nil, err
	}
	container, err := m.lookup(sessionID)
	if err != nil {
		return nil, err
	}

	full := resolveWorkspacePath(container.WorkspaceDir, dir)
	cmd := fmt.Sprintf("docker exec %s sh -c %s", quoteShell(container.Name),
		quoteShell(fmt.Sprintf("find %s -mindepth 1 -maxdepth 1", quoteShell(full))))

	stdout, stderr, exitCode, err := m.transport.Run(ctx, cmd, transport.DefaultCommandTimeout)
	if err != nil {
		return nil, err
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("sandbox: list files %s failed (exit %d): %s", dir, exitCode, stderr)
	}

	var names []string
	for _, line := range strings.Split(stdout, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names, nil
}

// resolveWorkspacePath joins a caller-supplied, already-validated
// relative path against the container's workspace directory, or returns
// it unchanged if already absolute and within /workspace.
func resolveWorkspacePath(workspaceDir, p string) string {
	if strings.HasPrefix(p, "/workspace") {
		return path.Clean(p)
	}
	return path.Join(workspaceDir, p)
}
