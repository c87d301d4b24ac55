package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/robofleet/resmux/internal/broker/expirer"
	"github.com/robofleet/resmux/internal/broker/seed"
)

// App owns the long-lived runtime lifecycle (expirer, seed watcher, reload
// wiring) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	expirer      *expirer.Expirer
	seedWatcher  *seed.Watcher
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. The seed watcher may be nil when
// catalog watching is disabled.
func NewApp(logger zerolog.Logger, manager Manager, exp *expirer.Expirer, watcher *seed.Watcher) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		expirer:      exp,
		seedWatcher:  watcher,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is cancelled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}

	g, ctx := errgroup.WithContext(ctx)

	// Lease expirer: the broker is not correct without it, so it is not
	// optional and not best-effort.
	if a.expirer != nil {
		g.Go(func() error {
			a.expirer.Run(ctx)
			return nil
		})
	}

	// Catalog watcher is best-effort: startup should not fail if the file
	// cannot be watched.
	if a.seedWatcher != nil {
		g.Go(func() error {
			if err := a.seedWatcher.Start(ctx); err != nil {
				a.logger.Warn().Err(err).
					Str("event", "seed.watcher_start_failed").
					Msg("failed to start catalog watcher")
			}
			return nil
		})

		// SIGHUP trigger for manual reload.
		if a.reloadSignal != nil {
			g.Go(func() error {
				hupChan := make(chan os.Signal, 1)
				signal.Notify(hupChan, a.reloadSignal)
				defer signal.Stop(hupChan)

				for {
					select {
					case <-ctx.Done():
						return nil
					case <-hupChan:
						a.logger.Info().
							Str("event", "seed.reload_signal").
							Str("signal", a.reloadSignal.String()).
							Msg("received reload signal, reloading catalog")
						a.seedWatcher.ForceReload()
					}
				}
			})
		}
	}

	// Main server lifecycle.
	g.Go(func() error {
		err := a.manager.Start(ctx)
		if err != nil {
			_ = a.manager.Shutdown(context.Background())
		}
		return err
	})

	return g.Wait()
}
