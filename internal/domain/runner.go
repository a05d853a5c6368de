package domain

import "context"

// RunSpec describes one containerised run of the command-line engine.
type RunSpec struct {
	// Image is the container image holding the command-line engine.
	Image string `json:"image"`
	// Cmd is the command and its arguments.
	Cmd []string `json:"cmd"`
	// MountDir is a host directory mounted read-only at /data, or empty.
	MountDir string `json:"mount_dir,omitempty"`
	// MemoryLimit caps the container memory in bytes. Zero uses the runner default.
	MemoryLimit int64 `json:"memory_limit,omitempty"`
}

// ContainerRunner defines the contract for executing the command-line engine within an isolated container.
// Implementations handle the low-level container lifecycle.
type ContainerRunner interface {
	// Run executes spec and returns the combined output of the container.
	Run(ctx context.Context, spec RunSpec) (string, error)
}
