package sandbox

import "time"

// Status is the lifecycle state of a Container.
type Status string

const (
	StatusRunning   Status = "running"
	StatusDestroyed Status = "destroyed"
)

// CreateOptions overrides the container creation policy's defaults.
// Zero values fall back to the package defaults.
type CreateOptions struct {
	CPULimit    string
	MemoryLimit string
	DiskLimit   string
}

// Container is the Sandbox Manager's record of one running (or
// recently-destroyed) engine container.
type Container struct {
	SessionID     string
	Name          string
	Image         string
	WorkspaceDir  string
	CreatedAt     time.Time
	Status        Status
	DestroyReason string
}

// ExecResult is the outcome of a command run inside a container.
// Non-zero exit is not an error — only transport failures are.
type ExecResult struct {
	Success  bool
	Output   string
	ExitCode int
}

// Snapshot records a committed image of a container's filesystem.
type Snapshot struct {
	Name      string
	ImageID   string
	Timestamp time.Time
}

// ResourceUsage is a best-effort, defensively-parsed snapshot of a
// container's resource consumption.
type ResourceUsage struct {
	CPU     string
	Memory  string
	Network string
	Disk    string
	Uptime  time.Duration
}

// DestroyResult is returned by DestroyContainer, idempotent across calls.
type DestroyResult struct {
	OK       bool
	Lifetime time.Duration
}

// CleanupResult summarizes a CleanupAll sweep.
type CleanupResult struct {
	Total  int
	OK     int
	Failed int
}

// HealthCheck reports whether the transport and remote engine are
// reachable.
type HealthCheck struct {
	Healthy       bool
	EngineVersion string
	Error         string
}

// StatusReport is the read-only projection of the manager's state.
type StatusReport struct {
	Active     int
	Queued     int
	Max        int
	Containers []Container
}
