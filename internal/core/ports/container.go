package ports

import (
	"context"
	"io"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
)

// ContainerRuntime defines the container operations the lifecycle core depends on.
// This interface allows us to switch between Docker, Podman, or a fake in tests
// without changing the business logic.
type ContainerRuntime interface {
	// CreateDetached creates and starts a container and returns its ID without waiting for
	// the service inside to become ready.
	CreateDetached(ctx context.Context, spec domain.ContainerSpec) (string, error)
	// Inspect reads the live state of a container.
	Inspect(ctx context.Context, id string) (domain.ContainerState, error)
	// Exec runs argv inside the container and returns its exit code.
	Exec(ctx context.Context, id string, argv []string) (int, error)
	Stop(ctx context.Context, id string) error
	Kill(ctx context.Context, id string) error
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	// ListManaged lists every container carrying domain.ManagedLabelKey, including ones
	// leaked by other processes.
	ListManaged(ctx context.Context) ([]domain.Container, error)
	// RemoveManaged force-removes every managed container and reports how many were removed.
	RemoveManaged(ctx context.Context) (int, error)
}

// Killer is the subset of ContainerRuntime needed by the exit hook.
type Killer interface {
	Kill(ctx context.Context, id string) error
}

// Executor is the subset of ContainerRuntime needed by the readiness prober.
type Executor interface {
	Exec(ctx context.Context, id string, argv []string) (int, error)
}
