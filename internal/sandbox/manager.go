// Package sandbox implements the Sandbox Manager (spec.md §4.2): a pool
// of remote, resource-capped containers reached over a secure shell
// transport, with bounded concurrency, a hard per-container lifetime,
// and a background reaper.
package sandbox

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kilnforge/orchestrator/internal/sandbox/transport"
	"github.com/kilnforge/orchestrator/internal/security"
)

// containerSecurity is the fixed capability/pid hardening applied to
// every sandbox container, starting from the package's secure defaults.
// CPU/memory limits are cleared here since those are per-session
// (opts.CPULimit/MemoryLimit) and set directly in buildCreateCommand —
// leaving the defaults in place would duplicate --cpus/--memory flags
// and silently override the per-session values.
var containerSecurity = func() *security.ContainerSecurityOptions {
	o := security.DefaultContainerSecurityOptions()
	o.MemoryLimit = ""
	o.CPULimit = ""
	return o
}()

// Manager owns the process-wide container map and creation queue,
// mirroring the teacher's coarse-mutex discipline for shared state
// (internal/controller's container/session bookkeeping).
type Manager struct {
	mu         sync.Mutex
	containers map[string]*Container
	timers     map[string]*time.Timer
	releases   map[string]func()

	transport     transport.Transport
	queue         *containerQueue
	maxConcurrent int

	now func() time.Time
}

// New constructs a Manager bound to t, with the given concurrency cap
// (spec.md §6: MAX_CONCURRENT_CONTAINERS, default 3).
func New(t transport.Transport, maxConcurrent int) *Manager {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentContainers
	}
	return &Manager{
		containers:    make(map[string]*Container),
		timers:        make(map[string]*time.Timer),
		releases:      make(map[string]func()),
		transport:     t,
		queue:         newContainerQueue(maxConcurrent),
		maxConcurrent: maxConcurrent,
		now:           time.Now,
	}
}

// containerName derives the engine-visible name for a session's
// container.
func containerName(sessionID string) string {
	return "orch-" + sessionID
}

func workspaceDir(sessionID string) string {
	return "/workspace/" + sessionID
}

// CreateContainer provisions a new container for sessionID, queueing
// (FIFO) if the manager is already at its concurrency cap. Creation
// failure does not consume a pool slot, per spec.md §4.2.
func (m *Manager) CreateContainer(ctx context.Context, sessionID string, opts CreateOptions) (*Container, error) {
	release, err := m.queue.acquire(ctx)
	if err != nil {
		return nil, err
	}

	cmd := buildCreateCommand(sessionID, opts, m.now())
	stdout, stderr, exitCode, err := m.transport.Run(ctx, cmd, transport.CreateTimeout)
	if err != nil {
		release()
		return nil, err
	}
	if exitCode != 0 && !transport.IsWarningOnlyStderr(stderr) {
		release()
		return nil, fmt.Errorf("sandbox: create container failed (exit %d): %s", exitCode, firstNonEmpty(stderr, stdout))
	}

	container := &Container{
		SessionID:    sessionID,
		Name:         containerName(sessionID),
		Image:        Image,
		WorkspaceDir: workspaceDir(sessionID),
		CreatedAt:    m.now(),
		Status:       StatusRunning,
	}

	m.mu.Lock()
	m.containers[sessionID] = container
	m.timers[sessionID] = time.AfterFunc(MaxExecutionTime, func() {
		m.DestroyContainer(context.Background(), sessionID, "stale")
	})
	m.mu.Unlock()

	// release is intentionally not called on the success path — the slot
	// stays held until DestroyContainer runs.
	m.registerRelease(sessionID, release)

	return container, nil
}

// registerRelease records the queue-slot release func for sessionID,
// kept apart from Container itself so Container stays a plain data
// record safe to copy into status/details projections.
func (m *Manager) registerRelease(sessionID string, release func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.releases[sessionID] = release
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// buildCreateCommand composes the exact docker run invocation from
// spec.md §4.2. Capability/pid hardening comes from containerSecurity's
// ToDockerArgs, shared with the rest of this system's container-security
// policy rather than duplicated inline.
func buildCreateCommand(sessionID string, opts CreateOptions, now time.Time) string {
	cpu := firstNonEmptyStr(opts.CPULimit, DefaultCPULimit)
	mem := firstNonEmptyStr(opts.MemoryLimit, DefaultMemoryLimit)
	disk := firstNonEmptyStr(opts.DiskLimit, DefaultDiskLimit)
	name := containerName(sessionID)
	workspace := workspaceDir(sessionID)
	createdMS := now.UnixMilli()

	secArgs := strings.Join(containerSecurity.ToDockerArgs(), " ")

	return fmt.Sprintf(
		"docker run -d --name %s "+
			"--cpus=%s --memory=%s --storage-opt size=%s "+
			"--read-only "+
			"--tmpfs /tmp:rw,noexec,nosuid,size=%s "+
			"--tmpfs %s:rw,exec,nosuid,size=%s "+
			"-w %s "+
			"%s "+
			"--network none "+
			"--label session=%s --label created=%d "+
			"%s sleep infinity",
		quoteShell(name),
		quoteShell(cpu), quoteShell(mem), quoteShell(disk),
		quoteShell(TmpfsSize),
		quoteShell(workspace), quoteShell(WorkspaceTmpfsSize),
		quoteShell(workspace),
		secArgs,
		quoteShell(sessionID), createdMS,
		quoteShell(Image),
	)
}

func firstNonEmptyStr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
