package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/kilnforge/orchestrator/internal/sandbox/transport"
)

// DestroyContainer removes the container for sessionID, releasing its
// queue slot and cancelling its lifetime timer. Idempotent: a second
// call for an already-destroyed (or never-created) session is a no-op
// returning the same observable result, per spec.md §8.
func (m *Manager) DestroyContainer(ctx context.Context, sessionID string, reason string) (*DestroyResult, error) {
	m.mu.Lock()
	container, ok := m.containers[sessionID]
	if !ok || container.Status == StatusDestroyed {
		m.mu.Unlock()
		return &DestroyResult{OK: true, Lifetime: 0}, nil
	}
	timer := m.timers[sessionID]
	release := m.releases[sessionID]
	name := container.Name
	createdAt := container.CreatedAt
	m.mu.Unlock()

	if timer != nil {
		timer.Stop()
	}

	cmd := fmt.Sprintf("docker rm -f %s", quoteShell(name))
	_, stderr, exitCode, err := m.transport.Run(ctx, cmd, transport.DefaultCommandTimeout)

	m.mu.Lock()
	defer m.mu.Unlock()
	container, ok = m.containers[sessionID]
	if !ok || container.Status == StatusDestroyed {
		// Raced with a concurrent destroy; still idempotent.
		return &DestroyResult{OK: true, Lifetime: 0}, nil
	}

	if err != nil {
		// A transport failure here is logged by the caller; the container
		// record is left running so a future destroy attempt (or the
		// reaper) can retry.
		return nil, err
	}
	if exitCode != 0 && !transport.IsWarningOnlyStderr(stderr) {
		return nil, fmt.Errorf("sandbox: destroy container failed (exit %d): %s", exitCode, stderr)
	}

	container.Status = StatusDestroyed
	container.DestroyReason = reason
	delete(m.timers, sessionID)
	delete(m.releases, sessionID)
	if release != nil {
		release()
	}

	return &DestroyResult{OK: true, Lifetime: m.now().Sub(createdAt)}, nil
}

// CleanupAll destroys every tracked container, per spec.md §4.2. It is
// the graceful-shutdown hook invoked from the CLI entrypoint.
func (m *Manager) CleanupAll(ctx context.Context) *CleanupResult {
	m.mu.Lock()
	sessionIDs := make([]string, 0, len(m.containers))
	for id, c := range m.containers {
		if c.Status == StatusRunning {
			sessionIDs = append(sessionIDs, id)
		}
	}
	m.mu.Unlock()

	result := &CleanupResult{Total: len(sessionIDs)}
	for _, id := range sessionIDs {
		if _, err := m.DestroyContainer(ctx, id, "shutdown"); err != nil {
			result.Failed++
			continue
		}
		result.OK++
	}
	return result
}

// HealthCheck probes the transport and remote engine.
func (m *Manager) HealthCheck(ctx context.Context) *HealthCheck {
	stdout, _, exitCode, err := m.transport.Run(ctx, "docker version --format '{{.Server.Version}}'", transport.DefaultCommandTimeout)
	if err != nil {
		return &HealthCheck{Healthy: false, Error: err.Error()}
	}
	if exitCode != 0 {
		return &HealthCheck{Healthy: false, Error: fmt.Sprintf("docker version exited %d", exitCode)}
	}
	return &HealthCheck{Healthy: true, EngineVersion: trimNewline(stdout)}
}

// Status returns a read-only projection of the manager's current state.
func (m *Manager) Status() *StatusReport {
	m.mu.Lock()
	defer m.mu.Unlock()

	containers := make([]Container, 0, len(m.containers))
	active := 0
	for _, c := range m.containers {
		containers = append(containers, *c)
		if c.Status == StatusRunning {
			active++
		}
	}

	return &StatusReport{
		Active:     active,
		Queued:     m.queue.depth(),
		Max:        m.maxConcurrent,
		Containers: containers,
	}
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}

// runReaper force-destroys containers older than MAX_EXECUTION_TIME plus
// ReaperGrace, with reason "stale" — a backstop for the per-container
// lifetime timer, per spec.md §4.2.
func (m *Manager) runReaperPass(ctx context.Context) int {
	m.mu.Lock()
	var stale []string
	threshold := MaxExecutionTime + ReaperGrace
	for id, c := range m.containers {
		if c.Status == StatusRunning && m.now().Sub(c.CreatedAt) > threshold {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		m.DestroyContainer(ctx, id, "stale")
	}
	return len(stale)
}

// RunReaper runs runReaperPass every ReaperInterval until stop is
// closed, mirroring internal/session.Store.RunReaper's shape.
func (m *Manager) RunReaper(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.runReaperPass(context.Background())
		case <-stop:
			return
		}
	}
}
