package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"genforge/internal/core/domain"
)

// OnChangeFunc is called with the freshly loaded configuration after the
// config file changes on disk.
type OnChangeFunc func(cfg *domain.AppConfig)

// Watcher reloads the config file when it changes. Editors tend to write
// files as remove+rename, so the parent directory is watched and events
// are debounced before reloading.
type Watcher struct {
	logger   *slog.Logger
	path     string
	debounce time.Duration

	mu       sync.Mutex
	onChange []OnChangeFunc

	fsw *fsnotify.Watcher
}

func NewWatcher(logger *slog.Logger, path string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		logger:   logger.With("component", "config_watcher"),
		path:     path,
		debounce: 200 * time.Millisecond,
		fsw:      fsw,
	}, nil
}

// OnChange registers a callback invoked on every successful reload.
func (w *Watcher) OnChange(fn OnChangeFunc) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onChange = append(w.onChange, fn)
}

// Start watches until the context is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
	w.logger.Info("config watcher started", "path", w.path)
}

func (w *Watcher) Close() error {
	return w.fsw.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				fire = timer.C
			} else {
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watch error", "error", err)
		case <-fire:
			timer = nil
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Warn("config reload failed, keeping previous settings", "error", err)
		return
	}

	w.logger.Info("config reloaded",
		"backend", cfg.Backend.Kind,
		"max_processes", cfg.MaxConcurrentProcesses,
	)

	w.mu.Lock()
	callbacks := append([]OnChangeFunc(nil), w.onChange...)
	w.mu.Unlock()
	for _, fn := range callbacks {
		fn(cfg)
	}
}
