// Package service implements the lifecycle of ephemeral postgres instances: create the
// container, track it, resolve its endpoint, wait for readiness and tear it down.
package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
	"github.com/melih/ephemeral-postgres/internal/core/ports"
	"github.com/melih/ephemeral-postgres/internal/core/readiness"
	"github.com/melih/ephemeral-postgres/internal/core/registry"
	"github.com/melih/ephemeral-postgres/internal/logging"
	"github.com/melih/ephemeral-postgres/internal/metrics"
)

// Prober waits until an instance accepts queries.
type Prober interface {
	WaitReady(ctx context.Context, inst *domain.Instance, probeURI string, timeout time.Duration) error
}

// Service is the lifecycle orchestrator. It implements ports.InstanceService.
type Service struct {
	runtime  ports.ContainerRuntime
	registry *registry.Registry
	prober   Prober
	now      func() time.Time
}

var _ ports.InstanceService = (*Service)(nil)

// New wires a service. A nil prober selects a readiness.Prober using the default interval.
func New(runtime ports.ContainerRuntime, reg *registry.Registry, prober Prober) *Service {
	if prober == nil {
		prober = readiness.NewProber(runtime, readiness.DefaultPollInterval)
	}
	return &Service{
		runtime:  runtime,
		registry: reg,
		prober:   prober,
		now:      time.Now,
	}
}

// Start creates a detached postgres container for cfg and returns the URI reachable from
// this host together with the instance handle.
//
// The handle is registered as soon as the runtime reports the container created, so a
// failure in any later step leaves it tracked for Stop or the exit hook. A readiness
// timeout returns the handle along with the *domain.ReadinessTimeoutError; the container
// keeps running.
func (s *Service) Start(ctx context.Context, cfg domain.Config) (string, *domain.Instance, error) {
	cfg = cfg.WithDefaults()
	if cfg.Labels == nil {
		cfg.Labels = map[string]string{}
	}
	if _, ok := cfg.Labels[domain.ManagedLabelKey]; !ok {
		cfg.Labels[domain.ManagedLabelKey] = strconv.Itoa(os.Getpid())
	}
	spec := cfg.ContainerSpec()
	log := logging.Get().With().Str("image", spec.Image).Logger()

	id, err := s.runtime.CreateDetached(ctx, spec)
	if err != nil {
		metrics.IncProvisioningFailed()
		return "", nil, &domain.ProvisioningError{Image: spec.Image, Err: err}
	}

	inst := &domain.Instance{
		ID:           id,
		Image:        spec.Image,
		InternalPort: domain.InternalPort,
		StartedAt:    s.now(),
		Config:       cfg,
	}
	s.registry.Register(inst)
	metrics.IncStarted()
	log = log.With().Str("container", id).Logger()

	state, err := s.runtime.Inspect(ctx, id)
	if err != nil {
		metrics.IncProvisioningFailed()
		return "", inst, &domain.ProvisioningError{Image: spec.Image, ContainerID: id, Err: fmt.Errorf("inspect container: %w", err)}
	}
	if !state.Running {
		metrics.IncProvisioningFailed()
		return "", inst, &domain.ProvisioningError{Image: spec.Image, ContainerID: id, Err: errors.New("container is not running")}
	}
	hostPort, ok := state.Ports[domain.PortKey()]
	if !ok || hostPort == 0 {
		metrics.IncProvisioningFailed()
		return "", inst, &domain.ProvisioningError{Image: spec.Image, ContainerID: id, Err: fmt.Errorf("no host port bound for %s", domain.PortKey())}
	}
	// inst is already visible through the registry; publish a filled-in copy instead of
	// writing its fields.
	resolved := *inst
	resolved.Name = strings.TrimPrefix(state.Name, "/")
	resolved.HostPort = hostPort
	resolved.URI = domain.BuildEndpoint(cfg.User, cfg.Password, domain.LoopbackHost, hostPort, cfg.Database)
	inst = &resolved
	s.registry.Register(inst)
	log.Info().Int("port", hostPort).Msg("postgres container started")

	if wait := cfg.Wait(); wait > 0 {
		if err := s.prober.WaitReady(ctx, inst, inst.ProbeURI(), wait); err != nil {
			return "", inst, err
		}
	}
	return inst.URI, inst, nil
}

// Stop stops the container behind inst and removes it from the registry. A container that
// is already gone counts as stopped, so calling Stop twice is fine. Any other failure is
// returned as *domain.TeardownError and the handle stays registered for the exit hook.
func (s *Service) Stop(ctx context.Context, inst *domain.Instance) error {
	if inst == nil {
		return nil
	}
	log := logging.Get().With().Str("container", inst.ID).Logger()
	err := s.runtime.Stop(ctx, inst.ID)
	switch {
	case err == nil:
		metrics.IncTeardown(metrics.OutcomeStopped)
		log.Info().Msg("postgres container stopped")
	case errors.Is(err, domain.ErrContainerGone):
		metrics.IncTeardown(metrics.OutcomeGone)
		log.Debug().Err(err).Msg("postgres container already gone")
	default:
		metrics.IncTeardown(metrics.OutcomeFailed)
		return &domain.TeardownError{ContainerID: inst.ID, Err: err}
	}
	s.registry.Unregister(inst.ID)
	return nil
}

// WithInstance starts an instance, passes its URI to fn and stops it when fn returns or
// panics. Teardown failures are logged, never returned: the caller sees fn's outcome.
// If Start fails after the container was created, that container is stopped too.
func (s *Service) WithInstance(ctx context.Context, cfg domain.Config, fn func(uri string) error) error {
	uri, inst, err := s.Start(ctx, cfg)
	if inst != nil {
		defer s.release(ctx, inst)
	}
	if err != nil {
		return err
	}
	return fn(uri)
}

// release is the scoped teardown boundary.
func (s *Service) release(ctx context.Context, inst *domain.Instance) {
	// The scope's own context may already be done; teardown must still happen.
	if err := s.Stop(context.WithoutCancel(ctx), inst); err != nil {
		logging.Get().Warn().Err(err).Str("container", inst.ID).Msg("scoped teardown failed")
	}
}

// Instances lists the registered instances.
func (s *Service) Instances() []*domain.Instance {
	return s.registry.List()
}

// Lookup returns the registered instance with the given container ID.
func (s *Service) Lookup(id string) (*domain.Instance, bool) {
	return s.registry.Get(id)
}

// Logs streams the container's output.
func (s *Service) Logs(ctx context.Context, id string) (io.ReadCloser, error) {
	return s.runtime.Logs(ctx, id)
}

// ListContainers lists every managed container known to the runtime, including ones left
// behind by processes that died without running their exit hook.
func (s *Service) ListContainers(ctx context.Context) ([]domain.Container, error) {
	return s.runtime.ListManaged(ctx)
}

// Reap force-removes every managed container and forgets all registered instances.
func (s *Service) Reap(ctx context.Context) (int, error) {
	n, err := s.runtime.RemoveManaged(ctx)
	if err != nil {
		return n, err
	}
	for _, inst := range s.registry.List() {
		s.registry.Unregister(inst.ID)
	}
	logging.Get().Info().Int("count", n).Msg("removed managed containers")
	return n, nil
}
