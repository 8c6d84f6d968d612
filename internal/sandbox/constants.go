package sandbox

import "time"

// Container creation policy defaults, per spec.md §4.2. All are
// overridable via Config (internal/config), mirroring how the teacher
// makes its Docker resource knobs configurable.
const (
	Image              = "node:20-alpine"
	DefaultCPULimit    = "1"
	DefaultMemoryLimit = "2g"
	DefaultDiskLimit   = "10g"
	TmpfsSize          = "1g"
	WorkspaceTmpfsSize = "5g"
)

// Concurrency and lifetime, per spec.md §4.2/§5.
const (
	DefaultMaxConcurrentContainers = 3
	MaxQueuedCreations             = 64
	MaxExecutionTime               = 900 * time.Second
	ReaperInterval                 = 300 * time.Second
	ReaperGrace                    = 60 * time.Second
)
