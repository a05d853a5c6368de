package docker

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/pkg/stdcopy"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/logger"
)

type fakeAPI struct {
	pullErr   error
	createErr error
	status    int64
	stdout    string
	stderr    string

	config  *container.Config
	host    *container.HostConfig
	removed []string
}

func (f *fakeAPI) ImagePull(context.Context, string, image.PullOptions) (io.ReadCloser, error) {
	if f.pullErr != nil {
		return nil, f.pullErr
	}
	return io.NopCloser(bytes.NewReader(nil)), nil
}

func (f *fakeAPI) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig,
	_ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	if f.createErr != nil {
		return container.CreateResponse{}, f.createErr
	}
	f.config, f.host = cfg, host
	return container.CreateResponse{ID: "c1"}, nil
}

func (f *fakeAPI) ContainerStart(context.Context, string, container.StartOptions) error { return nil }

func (f *fakeAPI) ContainerWait(context.Context, string, container.WaitCondition) (<-chan container.WaitResponse, <-chan error) {
	wait := make(chan container.WaitResponse, 1)
	wait <- container.WaitResponse{StatusCode: f.status}
	return wait, make(chan error)
}

func (f *fakeAPI) ContainerLogs(context.Context, string, container.LogsOptions) (io.ReadCloser, error) {
	var buf bytes.Buffer
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stdout).Write([]byte(f.stdout))
	_, _ = stdcopy.NewStdWriter(&buf, stdcopy.Stderr).Write([]byte(f.stderr))
	return io.NopCloser(&buf), nil
}

func (f *fakeAPI) ContainerRemove(_ context.Context, id string, _ container.RemoveOptions) error {
	f.removed = append(f.removed, id)
	return nil
}

func TestClient_Run(t *testing.T) {
	api := &fakeAPI{stdout: "record 1 ok\n", stderr: "warning: low signal\n"}
	c := &Client{cli: api, logger: logger.Discard()}

	out, err := c.Run(context.Background(), domain.RunSpec{
		Image:    "qdoas/doas_cl",
		Cmd:      []string{"doas_cl", "-c", "ws.xml"},
		MountDir: "/home/me/spectra",
	})
	require.NoError(t, err)
	assert.Equal(t, "record 1 ok\nwarning: low signal\n", out)

	assert.Equal(t, []string{"doas_cl", "-c", "ws.xml"}, []string(api.config.Cmd))
	assert.Equal(t, []string{"/home/me/spectra:/data:ro"}, api.host.Binds)
	assert.Equal(t, int64(DefaultMemoryLimit), api.host.Memory)
	assert.Equal(t, container.NetworkMode("none"), api.host.NetworkMode)
	assert.Equal(t, []string{"c1"}, api.removed)
}

func TestClient_RunNonZeroExit(t *testing.T) {
	api := &fakeAPI{status: 2, stderr: "cannot open file\n", pullErr: errors.New("offline")}
	c := &Client{cli: api, logger: logger.Discard()}

	out, err := c.Run(context.Background(), domain.RunSpec{Image: "local", MemoryLimit: 1 << 20})
	assert.ErrorIs(t, err, ErrNonZeroExit)
	assert.Equal(t, "cannot open file\n", out)
	assert.Equal(t, int64(1<<20), api.host.Memory)
	assert.Nil(t, api.host.Binds)
	assert.Equal(t, []string{"c1"}, api.removed)
}

func TestClient_RunErrors(t *testing.T) {
	c := &Client{cli: &fakeAPI{}, logger: logger.Discard()}
	_, err := c.Run(context.Background(), domain.RunSpec{})
	assert.Error(t, err)

	api := &fakeAPI{createErr: errors.New("no such image")}
	c = &Client{cli: api, logger: logger.Discard()}
	_, err = c.Run(context.Background(), domain.RunSpec{Image: "missing"})
	assert.ErrorContains(t, err, "no such image")
	assert.Empty(t, api.removed)
}
