package docker

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
)

// fakeDockerAPI implements the subset of Docker client methods used by Adapter.
type fakeDockerAPI struct {
	mu sync.Mutex

	missingImage bool
	startErr     error
	stopErr      error
	killErr      error
	execExit     int
	execRunning  int // number of inspects reporting Running before the exit code
	listed       []types.Container
	removeErrs   map[string]error
	logs         []byte

	pulled      []string
	createCfg   *container.Config
	createHost  *container.HostConfig
	creates     int
	removed     []string
	stopTimeout *int
	killSignal  string
	execCmd     []string
	listFilter  container.ListOptions
}

func (f *fakeDockerAPI) ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulled = append(f.pulled, refStr)
	f.missingImage = false
	return io.NopCloser(strings.NewReader(`{"status":"Downloaded newer image"}`)), nil
}

func (f *fakeDockerAPI) ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creates++
	if f.missingImage {
		return container.CreateResponse{}, errdefs.NotFound(errors.New("No such image: " + config.Image))
	}
	f.createCfg = config
	f.createHost = hostConfig
	return container.CreateResponse{ID: "abcdef0123456789"}, nil
}

func (f *fakeDockerAPI) ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error {
	return f.startErr
}

func (f *fakeDockerAPI) ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error) {
	if containerID == "missing" {
		return types.ContainerJSON{}, errdefs.NotFound(errors.New("No such container: missing"))
	}
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{
			ID:    containerID,
			Name:  "/eager_pg",
			State: &types.ContainerState{Running: true},
		},
		NetworkSettings: &types.NetworkSettings{
			NetworkSettingsBase: types.NetworkSettingsBase{
				Ports: nat.PortMap{
					"5432/tcp": []nat.PortBinding{
						{HostIP: "0.0.0.0", HostPort: "55432"},
						{HostIP: "::", HostPort: "55432"},
					},
				},
			},
		},
	}, nil
}

func (f *fakeDockerAPI) ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execCmd = options.Cmd
	return types.IDResponse{ID: "exec-1"}, nil
}

func (f *fakeDockerAPI) ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (types.HijackedResponse, error) {
	client, server := net.Pipe()
	server.Close()
	return types.HijackedResponse{
		Conn:   client,
		Reader: bufio.NewReader(strings.NewReader("1\n")),
	}, nil
}

func (f *fakeDockerAPI) ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.execRunning > 0 {
		f.execRunning--
		return container.ExecInspect{ExecID: execID, Running: true}, nil
	}
	return container.ExecInspect{ExecID: execID, ExitCode: f.execExit}, nil
}

func (f *fakeDockerAPI) ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopTimeout = options.Timeout
	return f.stopErr
}

func (f *fakeDockerAPI) ContainerKill(ctx context.Context, containerID, signal string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killSignal = signal
	return f.killErr
}

func (f *fakeDockerAPI) ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.logs)), nil
}

func (f *fakeDockerAPI) ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listFilter = options
	return f.listed, nil
}

func (f *fakeDockerAPI) ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, containerID)
	return f.removeErrs[containerID]
}

func (f *fakeDockerAPI) Close() error { return nil }

func testSpec() domain.ContainerSpec {
	return domain.Config{
		Database: "db",
		User:     "u",
		Password: "p",
		Port:     1234,
		Version:  "9.6",
	}.WithDefaults().ContainerSpec()
}

func TestCreateDetached(t *testing.T) {
	api := &fakeDockerAPI{}
	a := newAdapterWithClient(api, 0)

	id, err := a.CreateDetached(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, "abcdef0123456789", id)

	assert.Equal(t, "postgres:9.6", api.createCfg.Image)
	assert.Equal(t, []string{"POSTGRES_DB=db", "POSTGRES_PASSWORD=p", "POSTGRES_USER=u"}, api.createCfg.Env)
	assert.Contains(t, api.createCfg.ExposedPorts, nat.Port("5432/tcp"))
	assert.Contains(t, api.createCfg.Labels, domain.ManagedLabelKey)

	assert.True(t, api.createHost.AutoRemove)
	assert.Equal(t, nat.PortMap{"5432/tcp": []nat.PortBinding{{HostPort: "1234"}}}, api.createHost.PortBindings)
	assert.Empty(t, api.pulled)
}

func TestCreateDetachedAutoPort(t *testing.T) {
	api := &fakeDockerAPI{}
	a := newAdapterWithClient(api, 0)

	spec := domain.Config{}.WithDefaults().ContainerSpec()
	_, err := a.CreateDetached(context.Background(), spec)
	require.NoError(t, err)
	assert.Equal(t, nat.PortMap{"5432/tcp": []nat.PortBinding{{}}}, api.createHost.PortBindings)
}

func TestCreateDetachedPullsMissingImage(t *testing.T) {
	api := &fakeDockerAPI{missingImage: true}
	a := newAdapterWithClient(api, 0)

	_, err := a.CreateDetached(context.Background(), testSpec())
	require.NoError(t, err)
	assert.Equal(t, []string{"postgres:9.6"}, api.pulled)
	assert.Equal(t, 2, api.creates)
}

func TestCreateDetachedStartFailureRemoves(t *testing.T) {
	api := &fakeDockerAPI{startErr: errors.New("port is already allocated")}
	a := newAdapterWithClient(api, 0)

	_, err := a.CreateDetached(context.Background(), testSpec())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "port is already allocated")
	assert.Equal(t, []string{"abcdef0123456789"}, api.removed)
}

func TestInspectReadsBoundPort(t *testing.T) {
	a := newAdapterWithClient(&fakeDockerAPI{}, 0)

	state, err := a.Inspect(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, state.Running)
	assert.Equal(t, "/eager_pg", state.Name)
	assert.Equal(t, map[string]int{"5432/tcp": 55432}, state.Ports)
}

func TestInspectMissingIsGone(t *testing.T) {
	a := newAdapterWithClient(&fakeDockerAPI{}, 0)

	_, err := a.Inspect(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrContainerGone)
}

func TestExecReturnsExitCode(t *testing.T) {
	api := &fakeDockerAPI{execExit: 2, execRunning: 2}
	a := newAdapterWithClient(api, 0)

	argv := []string{"psql", "-qAt", "uri", "-c", "SELECT 1;"}
	code, err := a.Exec(context.Background(), "abc", argv)
	require.NoError(t, err)
	assert.Equal(t, 2, code)
	assert.Equal(t, argv, api.execCmd)
}

func TestExecCanceled(t *testing.T) {
	api := &fakeDockerAPI{execRunning: 1000}
	a := newAdapterWithClient(api, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_, err := a.Exec(ctx, "abc", []string{"true"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStopUsesTimeout(t *testing.T) {
	api := &fakeDockerAPI{}
	a := newAdapterWithClient(api, 3*time.Second)

	require.NoError(t, a.Stop(context.Background(), "abc"))
	require.NotNil(t, api.stopTimeout)
	assert.Equal(t, 3, *api.stopTimeout)
}

func TestStopAndKillGone(t *testing.T) {
	tests := []struct {
		name string
		err  error
		gone bool
	}{
		{"not found", errdefs.NotFound(errors.New("No such container")), true},
		{"conflict", errdefs.Conflict(errors.New("removal already in progress")), true},
		{"other", errors.New("connection refused"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeDockerAPI{stopErr: tt.err, killErr: tt.err}
			a := newAdapterWithClient(api, 0)

			stopErr := a.Stop(context.Background(), "abc")
			killErr := a.Kill(context.Background(), "abc")
			require.Error(t, stopErr)
			require.Error(t, killErr)
			assert.Equal(t, tt.gone, errors.Is(stopErr, domain.ErrContainerGone))
			assert.Equal(t, tt.gone, errors.Is(killErr, domain.ErrContainerGone))
			assert.Equal(t, "SIGKILL", api.killSignal)
		})
	}
}

func TestLogsDemultiplexes(t *testing.T) {
	var raw bytes.Buffer
	_, err := stdcopy.NewStdWriter(&raw, stdcopy.Stdout).Write([]byte("out line\n"))
	require.NoError(t, err)
	_, err = stdcopy.NewStdWriter(&raw, stdcopy.Stderr).Write([]byte("database system is ready to accept connections\n"))
	require.NoError(t, err)

	a := newAdapterWithClient(&fakeDockerAPI{logs: raw.Bytes()}, 0)
	rc, err := a.Logs(context.Background(), "abc")
	require.NoError(t, err)
	defer rc.Close()

	text, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "out line\ndatabase system is ready to accept connections\n", string(text))
}

func TestListAndRemoveManaged(t *testing.T) {
	api := &fakeDockerAPI{
		listed: []types.Container{
			{ID: "aaaaaaaaaaaaaaaa", Names: []string{"/pg_one"}, Image: "postgres:16", State: "running", Status: "Up 2 seconds"},
			{ID: "bbbbbbbbbbbbbbbb", Names: []string{"/pg_two"}, Image: "postgres:16", State: "exited"},
			{ID: "cccccccccccccccc", Names: []string{"/pg_three"}, Image: "postgres:16", State: "running"},
		},
		removeErrs: map[string]error{
			"bbbbbbbbbbbb": errdefs.NotFound(errors.New("No such container")),
			"cccccccccccc": errors.New("device busy"),
		},
	}
	a := newAdapterWithClient(api, 0)

	list, err := a.ListManaged(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, domain.Container{ID: "aaaaaaaaaaaa", Name: "pg_one", Image: "postgres:16", Status: "Up 2 seconds", State: "running"}, list[0])
	assert.Equal(t, []string{domain.ManagedLabelKey}, api.listFilter.Filters.Get("label"))
	assert.True(t, api.listFilter.All)

	n, err := a.RemoveManaged(context.Background())
	assert.Equal(t, 1, n)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "device busy")
	assert.Len(t, api.removed, 3)
}
