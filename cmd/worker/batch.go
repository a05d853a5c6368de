package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/dontdude/qdoas/internal/config"
	"github.com/dontdude/qdoas/internal/domain"
)

const batchTimeout = 10 * time.Minute

var (
	errMountDisabled = errors.New("batch mounts are disabled on this worker")
	errMountOutside  = errors.New("mount directory is outside the data root")
)

// batchRunner runs batch analyses arriving from remote clients. The image and memory cap come
// from the worker configuration, and mounts are confined to the configured data root.
type batchRunner struct {
	runner   domain.ContainerRunner
	image    string
	memory   int64
	dataRoot string
}

func newBatchRunner(runner domain.ContainerRunner, cfg config.WorkerConfig) (*batchRunner, error) {
	r := &batchRunner{runner: runner, image: cfg.BatchImage, memory: cfg.BatchMemory}
	if cfg.DataRoot == "" {
		return r, nil
	}
	root, err := filepath.Abs(cfg.DataRoot)
	if err != nil {
		return nil, fmt.Errorf("invalid data root %q: %w", cfg.DataRoot, err)
	}
	if root, err = filepath.EvalSymlinks(root); err != nil {
		return nil, fmt.Errorf("invalid data root %q: %w", cfg.DataRoot, err)
	}
	r.dataRoot = root
	return r, nil
}

func (r *batchRunner) Run(ctx context.Context, spec domain.RunSpec) (string, error) {
	mount, err := r.mount(spec.MountDir)
	if err != nil {
		return "", err
	}
	spec.Image = r.image
	spec.MountDir = mount
	if spec.MemoryLimit <= 0 || spec.MemoryLimit > r.memory {
		spec.MemoryLimit = r.memory
	}
	ctx, cancel := context.WithTimeout(ctx, batchTimeout)
	defer cancel()
	return r.runner.Run(ctx, spec)
}

// mount resolves dir, relative to the data root or absolute inside it, to the host directory
// to bind. Symlinks are followed before the containment check.
func (r *batchRunner) mount(dir string) (string, error) {
	if dir == "" {
		return "", nil
	}
	if r.dataRoot == "" {
		return "", errMountDisabled
	}
	path := dir
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.dataRoot, path)
	}
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return "", fmt.Errorf("mount directory %q: %w", dir, err)
	}
	rel, err := filepath.Rel(r.dataRoot, resolved)
	if err != nil || !filepath.IsLocal(rel) {
		return "", fmt.Errorf("%w: %s", errMountOutside, dir)
	}
	return resolved, nil
}
