package stage

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"json-validator-service/internal/observability/logging"
)

// Watcher reloads a stage whenever its schema file changes on disk.
type Watcher struct {
	stage    *Stage
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	logger   zerolog.Logger
}

// NewWatcher watches path for changes. The parent directory is watched so
// that editors which replace the file by rename are picked up.
func NewWatcher(st *Stage, path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve schema path: %w", err)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		stage:    st,
		path:     abs,
		debounce: debounce,
		fsw:      fsw,
		logger:   logging.WithComponent("schema-watcher").With().Str("path", abs).Logger(),
	}, nil
}

// Run processes file events until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	w.logger.Info().Msg("Watching schema file for changes")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.matches(ev) {
				pending = time.After(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")

		case <-pending:
			pending = nil
			w.reload(ctx)
		}
	}
}

func (w *Watcher) matches(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) reload(ctx context.Context) {
	if err := w.stage.Reload(ctx); err != nil {
		w.logger.Error().Err(err).Str("state", w.stage.State().String()).Msg("Schema reload failed")
		return
	}
	w.logger.Info().Str("state", w.stage.State().String()).Msg("Schema reload finished")
}
