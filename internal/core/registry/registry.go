// Package registry tracks the containers started by this process so that none of them
// outlive it.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/multierr"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
	"github.com/melih/ephemeral-postgres/internal/core/ports"
	"github.com/melih/ephemeral-postgres/internal/logging"
	"github.com/melih/ephemeral-postgres/internal/metrics"
)

// Registry is a set of live instances keyed by container ID. It is safe for concurrent use.
type Registry struct {
	mu        sync.Mutex
	instances map[string]*domain.Instance
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{instances: make(map[string]*domain.Instance)}
}

var (
	defaultOnce     sync.Once
	defaultRegistry *Registry
)

// Default returns the process-wide registry, creating it on first use.
func Default() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = New()
	})
	return defaultRegistry
}

// Register adds inst. Registering an ID again replaces the entry.
func (r *Registry) Register(inst *domain.Instance) {
	r.mu.Lock()
	r.instances[inst.ID] = inst
	n := len(r.instances)
	r.mu.Unlock()
	metrics.SetLive(n)
}

// Unregister removes the instance with the given ID. Unknown IDs are ignored.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	delete(r.instances, id)
	n := len(r.instances)
	r.mu.Unlock()
	metrics.SetLive(n)
}

// Get returns the instance registered under id.
func (r *Registry) Get(id string) (*domain.Instance, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	inst, ok := r.instances[id]
	return inst, ok
}

// List returns a snapshot of the registered instances ordered by start time.
func (r *Registry) List() []*domain.Instance {
	r.mu.Lock()
	out := make([]*domain.Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Len reports the number of registered instances.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.instances)
}

// TeardownAll kills every registered instance. A failure on one instance never prevents
// the attempt on the next one. Instances that are already gone are not failures. The
// returned error combines the remaining failures as *domain.TeardownError values.
//
// Entries stay registered: the hook runs while the process is terminating.
func (r *Registry) TeardownAll(ctx context.Context, killer ports.Killer) error {
	var errs error
	for _, inst := range r.List() {
		log := logging.Get().With().Str("container", inst.ID).Logger()
		log.Debug().Msg("exit hook: cleaning up container")
		err := killer.Kill(ctx, inst.ID)
		switch {
		case err == nil:
			metrics.IncTeardown(metrics.OutcomeStopped)
		case errors.Is(err, domain.ErrContainerGone):
			metrics.IncTeardown(metrics.OutcomeGone)
			log.Debug().Err(err).Msg("exit hook: container already gone")
		default:
			metrics.IncTeardown(metrics.OutcomeFailed)
			errs = multierr.Append(errs, &domain.TeardownError{ContainerID: inst.ID, Err: err})
		}
	}
	return errs
}
