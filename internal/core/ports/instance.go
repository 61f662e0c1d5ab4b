package ports

import (
	"context"
	"io"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
)

// InstanceService is the lifecycle API offered to driving adapters such as the HTTP handler.
type InstanceService interface {
	Start(ctx context.Context, cfg domain.Config) (string, *domain.Instance, error)
	Stop(ctx context.Context, inst *domain.Instance) error
	Instances() []*domain.Instance
	Lookup(id string) (*domain.Instance, bool)
	Logs(ctx context.Context, id string) (io.ReadCloser, error)
	ListContainers(ctx context.Context) ([]domain.Container, error)
	Reap(ctx context.Context) (int, error)
}
