package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/dontdude/qdoas/internal/domain"
)

// DefaultMemoryLimit caps a container when the run spec sets no limit.
const DefaultMemoryLimit = 512 * 1024 * 1024

// MountPoint is where RunSpec.MountDir appears inside the container.
const MountPoint = "/data"

// ErrNonZeroExit is returned when the command-line engine exits with a failure status.
var ErrNonZeroExit = errors.New("container exited with non-zero status")

// api is the subset of the Docker SDK client used by Client.
type api interface {
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig,
		networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
}

// Client wraps the official Docker SDK client.
type Client struct {
	cli    api
	logger *slog.Logger
}

var _ domain.ContainerRunner = (*Client)(nil)

// NewClient returns a Docker client verified with a ping. It fails fast when the daemon is
// unreachable.
func NewClient(ctx context.Context, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, fmt.Errorf("failed to connect to docker daemon: %w", err)
	}
	logger.Info("Docker Client initialized successfully")
	return &Client{cli: cli, logger: logger}, nil
}

// Run executes spec in an ephemeral container with no network and a memory limit, and returns
// its combined stdout and stderr. The container is removed in every case.
func (c *Client) Run(ctx context.Context, spec domain.RunSpec) (string, error) {
	if spec.Image == "" {
		return "", errors.New("run spec has no image")
	}

	c.logger.Info("Pulling image", "image", spec.Image)
	if reader, err := c.cli.ImagePull(ctx, spec.Image, image.PullOptions{}); err != nil {
		// The image may only exist locally.
		c.logger.Warn("Failed to pull image", "image", spec.Image, "error", err)
	} else {
		_, _ = io.Copy(io.Discard, reader)
		reader.Close()
	}

	memory := spec.MemoryLimit
	if memory <= 0 {
		memory = DefaultMemoryLimit
	}
	host := &container.HostConfig{
		NetworkMode: "none",
		Resources:   container.Resources{Memory: memory},
	}
	if spec.MountDir != "" {
		host.Binds = []string{spec.MountDir + ":" + MountPoint + ":ro"}
	}

	resp, err := c.cli.ContainerCreate(ctx, &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		WorkingDir: MountPoint,
	}, host, nil, nil, "")
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}
	c.logger.Info("Container created", "containerID", resp.ID)
	defer c.remove(resp.ID)

	if err := c.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	var status int64
	waitCh, errCh := c.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNotRunning)
	select {
	case err := <-errCh:
		if err != nil {
			return "", fmt.Errorf("failed waiting for container: %w", err)
		}
	case w := <-waitCh:
		if w.Error != nil {
			return "", fmt.Errorf("container wait error: %s", w.Error.Message)
		}
		status = w.StatusCode
	}

	out, err := c.logs(ctx, resp.ID)
	if err != nil {
		return "", err
	}
	if status != 0 {
		return out, fmt.Errorf("%w: %d", ErrNonZeroExit, status)
	}
	return out, nil
}

func (c *Client) logs(ctx context.Context, id string) (string, error) {
	rc, err := c.cli.ContainerLogs(ctx, id, container.LogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", fmt.Errorf("failed to read container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return stdout.String() + stderr.String(), nil
}

func (c *Client) remove(id string) {
	// The run context may already be cancelled.
	if err := c.cli.ContainerRemove(context.Background(), id, container.RemoveOptions{Force: true}); err != nil {
		c.logger.Error("Failed to remove container", "containerID", id, "error", err)
	}
}
