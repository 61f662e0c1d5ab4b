package registry

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/multierr"

	"github.com/melih/ephemeral-postgres/internal/core/ports"
	"github.com/melih/ephemeral-postgres/internal/logging"
)

// Hook tears down a registry when the process terminates. Go has no atexit: the hook runs
// either from an explicit Run call at the end of main or TestMain, or from the signal
// handler installed by Install.
type Hook struct {
	registry *Registry
	killer   ports.Killer
	timeout  time.Duration

	runOnce     sync.Once
	installOnce sync.Once

	notify func(c chan<- os.Signal, sig ...os.Signal)
	exit   func(code int)
}

// NewHook returns a hook that kills every instance of r through killer, bounded by timeout.
func NewHook(r *Registry, killer ports.Killer, timeout time.Duration) *Hook {
	return &Hook{
		registry: r,
		killer:   killer,
		timeout:  timeout,
		notify:   signal.Notify,
		exit:     os.Exit,
	}
}

// Run tears down every registered instance. Only the first call does anything.
func (h *Hook) Run() {
	h.runOnce.Do(func() {
		n := h.registry.Len()
		if n == 0 {
			return
		}
		logging.Get().Info().Int("count", n).Msg("exit hook: removing leftover containers")
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := h.registry.TeardownAll(ctx, h.killer); err != nil {
			for _, e := range multierr.Errors(err) {
				logging.Get().Warn().Err(e).Msg("exit hook: teardown failed")
			}
		}
	})
}

// Install registers a handler for SIGINT, SIGTERM and SIGHUP that runs the hook and exits
// with status 128+signal. Repeated calls are no-ops.
func (h *Hook) Install() {
	h.installOnce.Do(func() {
		sigs := make(chan os.Signal, 1)
		h.notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		go func() {
			sig := <-sigs
			logging.Get().Info().Str("signal", sig.String()).Msg("exit hook: signal received")
			h.Run()
			code := 1
			if s, ok := sig.(syscall.Signal); ok {
				code = 128 + int(s)
			}
			h.exit(code)
		}()
	})
}

var (
	defaultHookMu sync.Mutex
	defaultHook   *Hook
)

// InstallExitHook installs the process-wide hook bound to Default(). The first caller's
// killer and timeout win; later calls return the same hook.
func InstallExitHook(killer ports.Killer, timeout time.Duration) *Hook {
	defaultHookMu.Lock()
	defer defaultHookMu.Unlock()
	if defaultHook == nil {
		defaultHook = NewHook(Default(), killer, timeout)
		defaultHook.Install()
	}
	return defaultHook
}

// RunExitHook runs the process-wide hook if one was installed.
func RunExitHook() {
	defaultHookMu.Lock()
	h := defaultHook
	defaultHookMu.Unlock()
	if h != nil {
		h.Run()
	}
}
