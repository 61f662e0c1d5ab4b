package docker

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"go.uber.org/multierr"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
	"github.com/melih/ephemeral-postgres/internal/core/ports"
	"github.com/melih/ephemeral-postgres/internal/logging"
)

const (
	execPollInterval   = 50 * time.Millisecond
	defaultStopTimeout = 10 * time.Second
	// stopGrace is added on top of the daemon-side stop timeout for the API call itself.
	stopGrace = 5 * time.Second
)

// dockerAPI is the subset of the Docker client the adapter uses.
type dockerAPI interface {
	ImagePull(ctx context.Context, refStr string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerInspect(ctx context.Context, containerID string) (types.ContainerJSON, error)
	ContainerExecCreate(ctx context.Context, containerID string, options container.ExecOptions) (types.IDResponse, error)
	ContainerExecAttach(ctx context.Context, execID string, config container.ExecStartOptions) (types.HijackedResponse, error)
	ContainerExecInspect(ctx context.Context, execID string) (container.ExecInspect, error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerKill(ctx context.Context, containerID, signal string) error
	ContainerLogs(ctx context.Context, containerID string, options container.LogsOptions) (io.ReadCloser, error)
	ContainerList(ctx context.Context, options container.ListOptions) ([]types.Container, error)
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Adapter implements ports.ContainerRuntime using Docker SDK
type Adapter struct {
	cli         dockerAPI
	stopTimeout time.Duration
	// PullProgress receives the image pull stream. Defaults to io.Discard.
	PullProgress io.Writer
}

var _ ports.ContainerRuntime = (*Adapter)(nil)

// NewAdapter creates a new Docker adapter instance configured from the environment
// (DOCKER_HOST, DOCKER_TLS_VERIFY, ...). A non-positive stopTimeout selects 10s.
func NewAdapter(stopTimeout time.Duration) (*Adapter, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newAdapterWithClient(cli, stopTimeout), nil
}

func newAdapterWithClient(cli dockerAPI, stopTimeout time.Duration) *Adapter {
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Adapter{cli: cli, stopTimeout: stopTimeout, PullProgress: io.Discard}
}

// Close closes the underlying Docker client.
func (a *Adapter) Close() error {
	return a.cli.Close()
}

// CreateDetached creates and starts a container, pulling the image first if the daemon
// does not have it. It returns once the container is started.
func (a *Adapter) CreateDetached(ctx context.Context, spec domain.ContainerSpec) (string, error) {
	if ctx == nil {
		return "", fmt.Errorf("context is nil")
	}
	cfg, hostCfg, err := containerConfig(spec)
	if err != nil {
		return "", err
	}

	resp, err := a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	if errdefs.IsNotFound(err) {
		logging.Get().Info().Str("image", spec.Image).Msg("image not present, pulling")
		if err := a.pullImage(ctx, spec.Image); err != nil {
			return "", err
		}
		resp, err = a.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, "")
	}
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if err := a.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		// The container was never started, so AutoRemove will not fire.
		cleanupCtx := context.WithoutCancel(ctx)
		if rmErr := a.cli.ContainerRemove(cleanupCtx, resp.ID, container.RemoveOptions{Force: true}); rmErr != nil {
			logging.Get().Error().Err(rmErr).Str("container", resp.ID).Msg("remove container after start failure")
		}
		return "", fmt.Errorf("failed to start container: %w", err)
	}
	return resp.ID, nil
}

func containerConfig(spec domain.ContainerSpec) (*container.Config, *container.HostConfig, error) {
	env := make([]string, 0, len(spec.Env))
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for key, hostPort := range spec.Ports {
		port, err := parsePort(key)
		if err != nil {
			return nil, nil, err
		}
		if hostPort < 0 || hostPort > 65535 {
			return nil, nil, fmt.Errorf("host port must be in range 0-65535: %d", hostPort)
		}
		binding := nat.PortBinding{}
		if hostPort > 0 {
			binding.HostPort = strconv.Itoa(hostPort)
		}
		exposed[port] = struct{}{}
		bindings[port] = []nat.PortBinding{binding}
	}

	cfg := &container.Config{
		Image:        spec.Image,
		Env:          env,
		ExposedPorts: exposed,
		Labels:       spec.Labels,
	}
	hostCfg := &container.HostConfig{
		PortBindings:  bindings,
		AutoRemove:    spec.AutoRemove,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	return cfg, hostCfg, nil
}

func parsePort(key string) (nat.Port, error) {
	proto, port := nat.SplitProtoPort(key)
	p, err := nat.NewPort(proto, port)
	if err != nil {
		return "", fmt.Errorf("invalid container port %q: %w", key, err)
	}
	return p, nil
}

func (a *Adapter) pullImage(ctx context.Context, ref string) error {
	reader, err := a.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer reader.Close()
	if _, err := io.Copy(a.PullProgress, reader); err != nil {
		return fmt.Errorf("failed to read pull output: %w", err)
	}
	return nil
}

// Inspect reads the live state of a container, including the host ports the daemon bound.
func (a *Adapter) Inspect(ctx context.Context, id string) (domain.ContainerState, error) {
	info, err := a.cli.ContainerInspect(ctx, id)
	if err != nil {
		return domain.ContainerState{}, wrapGone("failed to inspect container", err)
	}
	state := domain.ContainerState{Ports: map[string]int{}}
	if info.ContainerJSONBase != nil {
		state.ID = info.ID
		state.Name = info.Name
		state.Running = info.State != nil && info.State.Running
	}
	if info.NetworkSettings != nil {
		for port, bindings := range info.NetworkSettings.Ports {
			if hostPort, ok := firstHostPort(bindings); ok {
				state.Ports[string(port)] = hostPort
			}
		}
	}
	return state, nil
}

// firstHostPort returns the first usable host port. Docker reports one binding per address
// family when no host IP was requested; both carry the same port.
func firstHostPort(bindings []nat.PortBinding) (int, bool) {
	for _, b := range bindings {
		if b.HostPort == "" {
			continue
		}
		p, err := strconv.Atoi(b.HostPort)
		if err != nil || p == 0 {
			continue
		}
		return p, true
	}
	return 0, false
}

// Exec runs argv inside the container, waits for it to finish and returns its exit code.
func (a *Adapter) Exec(ctx context.Context, id string, argv []string) (int, error) {
	created, err := a.cli.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          argv,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return -1, wrapGone("exec create", err)
	}

	// Attaching starts the exec; the stream ends when the process exits.
	hijacked, err := a.cli.ContainerExecAttach(ctx, created.ID, container.ExecStartOptions{})
	if err != nil {
		return -1, fmt.Errorf("exec attach: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			hijacked.Close()
		case <-done:
		}
	}()
	_, copyErr := io.Copy(io.Discard, hijacked.Reader)
	close(done)
	hijacked.Close()
	if ctx.Err() != nil {
		return -1, ctx.Err()
	}
	if copyErr != nil {
		return -1, fmt.Errorf("exec read: %w", copyErr)
	}

	for {
		inspect, err := a.cli.ContainerExecInspect(ctx, created.ID)
		if err != nil {
			return -1, fmt.Errorf("exec inspect: %w", err)
		}
		if !inspect.Running {
			return inspect.ExitCode, nil
		}
		select {
		case <-ctx.Done():
			return -1, ctx.Err()
		case <-time.After(execPollInterval):
		}
	}
}

// Stop stops a running container. AutoRemove deletes it once stopped.
func (a *Adapter) Stop(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, a.stopTimeout+stopGrace)
	defer cancel()
	secs := int(a.stopTimeout.Seconds())
	if err := a.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		return wrapGone("failed to stop container", err)
	}
	return nil
}

// Kill sends SIGKILL to a container.
func (a *Adapter) Kill(ctx context.Context, id string) error {
	if err := a.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
		return wrapGone("failed to kill container", err)
	}
	return nil
}

// Logs returns the container's combined stdout and stderr as plain text.
func (a *Adapter) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     false,
		Timestamps: true,
	}
	raw, err := a.cli.ContainerLogs(ctx, id, options)
	if err != nil {
		return nil, wrapGone("failed to read container logs", err)
	}
	// Without a TTY the daemon multiplexes both streams; split them back into one text stream.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, raw)
		raw.Close()
		pw.CloseWithError(err)
	}()
	return pr, nil
}

// ListManaged returns every container, running or not, carrying the managed label.
func (a *Adapter) ListManaged(ctx context.Context) ([]domain.Container, error) {
	containers, err := a.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", domain.ManagedLabelKey)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	result := make([]domain.Container, 0, len(containers))
	for _, c := range containers {
		// Use the first name if available, remove slash
		name := ""
		if len(c.Names) > 0 {
			name = c.Names[0][1:]
		}
		id := c.ID
		if len(id) > 12 {
			id = id[:12]
		}
		result = append(result, domain.Container{
			ID:     id,
			Name:   name,
			Image:  c.Image,
			Status: c.Status,
			State:  c.State,
		})
	}
	return result, nil
}

// RemoveManaged force-removes every managed container.
func (a *Adapter) RemoveManaged(ctx context.Context) (int, error) {
	containers, err := a.ListManaged(ctx)
	if err != nil {
		return 0, err
	}
	var errs error
	removed := 0
	for _, c := range containers {
		err := a.cli.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true})
		switch {
		case err == nil:
			removed++
		case isGone(err):
			// Removed by AutoRemove in the meantime.
		default:
			errs = multierr.Append(errs, fmt.Errorf("remove container %s: %w", c.ID, err))
		}
	}
	return removed, errs
}

// isGone reports whether err means the container no longer exists or cannot be acted on
// because it is not running or already being removed.
func isGone(err error) bool {
	return errdefs.IsNotFound(err) || errdefs.IsConflict(err)
}

func wrapGone(msg string, err error) error {
	if isGone(err) {
		return fmt.Errorf("%s: %w: %w", msg, domain.ErrContainerGone, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
