package seed

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/robofleet/resmux/internal/audit"
	"github.com/robofleet/resmux/internal/broker/store"
	"github.com/robofleet/resmux/internal/log"
)

// Watcher re-applies catalog seeding when the YAML file changes on disk or a
// reload is forced (SIGHUP). Reloads are add-only: new definitions are
// inserted, existing rows and their leases stay untouched. A reload that
// fails validation logs and keeps the current catalog.
type Watcher struct {
	path     string
	store    store.Store
	audit    *audit.Logger
	watcher  *fsnotify.Watcher
	forceCh  chan struct{}
	debounce time.Duration
	logger   zerolog.Logger
}

// NewWatcher creates a watcher for the given catalog path.
func NewWatcher(path string, s store.Store, auditLog *audit.Logger) *Watcher {
	return &Watcher{
		path:     path,
		store:    s,
		audit:    auditLog,
		forceCh:  make(chan struct{}, 1),
		debounce: 500 * time.Millisecond,
		logger:   log.WithComponent("seed-watcher"),
	}
}

// Start begins watching the catalog file and blocks until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("seed: create watcher: %w", err)
	}
	w.watcher = watcher
	defer func() { _ = watcher.Close() }()

	if err := watcher.Add(w.path); err != nil {
		return fmt.Errorf("seed: watch %s: %w", w.path, err)
	}

	w.logger.Info().
		Str(log.FieldEvent, "seed.watcher_started").
		Str("path", w.path).
		Msg("watching resource catalog for changes")

	var debounceTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			w.logger.Info().Str(log.FieldEvent, "seed.watcher_stopped").Msg("seed watcher stopped")
			return nil

		case <-w.forceCh:
			w.reload(ctx, "signal")

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			// Write and Create cover vim, nano and plain writes.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(w.debounce, func() {
					w.reload(ctx, "file")
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).
				Str(log.FieldEvent, "seed.watcher_error").
				Msg("seed watcher error")
		}
	}
}

// ForceReload triggers an immediate reload, used by the SIGHUP handler.
// Non-blocking; coalesces with an already pending reload.
func (w *Watcher) ForceReload() {
	select {
	case w.forceCh <- struct{}{}:
	default:
	}
}

func (w *Watcher) reload(ctx context.Context, trigger string) {
	defs, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).
			Str(log.FieldEvent, "seed.reload_failed").
			Str("trigger", trigger).
			Msg("catalog reload failed, keeping current catalog")
		return
	}

	added, err := Apply(ctx, w.store, defs)
	if err != nil {
		w.logger.Error().Err(err).
			Str(log.FieldEvent, "seed.reload_failed").
			Str("trigger", trigger).
			Msg("catalog reload could not be applied")
		return
	}

	w.logger.Info().
		Str(log.FieldEvent, "seed.reloaded").
		Str("trigger", trigger).
		Int("defined", len(defs)).
		Int("added", added).
		Msg("resource catalog reloaded")
	if w.audit != nil {
		w.audit.CatalogSeeded("reload:"+trigger, added, len(defs))
	}
}
