package readiness

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/melih/ephemeral-postgres/internal/core/domain"
	"github.com/melih/ephemeral-postgres/internal/core/ports"
	"github.com/melih/ephemeral-postgres/internal/logging"
	"github.com/melih/ephemeral-postgres/internal/metrics"
)

// DefaultPollInterval is the pause between two probes.
const DefaultPollInterval = 250 * time.Millisecond

// errNotReady is the failure recorded for a probe that ran but exited non-zero.
var errNotReady = errors.New("probe exited non-zero")

// ProbeCommand is the side-effect free round trip run inside the container.
func ProbeCommand(uri string) []string {
	return []string{"psql", "-qAt", uri, "-c", "SELECT 1;"}
}

// Prober polls an instance through the runtime exec primitive until postgres answers.
type Prober struct {
	exec     ports.Executor
	interval time.Duration
}

// NewProber returns a prober using the given poll interval. A non-positive interval selects
// DefaultPollInterval.
func NewProber(exec ports.Executor, interval time.Duration) *Prober {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Prober{exec: exec, interval: interval}
}

// WaitReady blocks until the probe command succeeds inside inst or timeout elapses. Running
// out of time yields a *domain.ReadinessTimeoutError carrying the last probe failure.
// Cancellation of ctx is returned as is.
func (p *Prober) WaitReady(ctx context.Context, inst *domain.Instance, probeURI string, timeout time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("timeout must be positive: %v", timeout)
	}
	log := logging.Get().With().Str("container", inst.ID).Logger()
	start := time.Now()

	retryCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	backoff := retry.WithMaxDuration(timeout, retry.NewConstant(p.interval))
	var lastErr error
	attempts := 0
	err := retry.Do(retryCtx, backoff, func(ctx context.Context) error {
		attempts++
		code, err := p.exec.Exec(ctx, inst.ID, ProbeCommand(probeURI))
		if err != nil {
			lastErr = err
			return retry.RetryableError(err)
		}
		if code != 0 {
			lastErr = fmt.Errorf("%w: exit code %d", errNotReady, code)
			return retry.RetryableError(lastErr)
		}
		return nil
	})
	elapsed := time.Since(start)
	if err == nil {
		metrics.ObserveReadinessWait(elapsed)
		log.Debug().Int("attempts", attempts).Dur("elapsed", elapsed).Msg("postgres ready")
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	metrics.IncReadinessTimeout()
	log.Warn().Int("attempts", attempts).Dur("elapsed", elapsed).Err(lastErr).Msg("postgres not ready before timeout")
	return &domain.ReadinessTimeoutError{ContainerID: inst.ID, Timeout: timeout, Err: lastErr}
}
