package config

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"whatskeeper/internal/models"

	"github.com/sirupsen/logrus"
)

// Watcher hot-reloads config.json. It holds an immutable snapshot in a
// single atomic slot: readers dereference the current snapshot and
// never observe a partially written document.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *logrus.Logger

	snapshot atomic.Pointer[models.Config]

	mu        sync.Mutex
	callbacks []func(*models.Config)
}

// NewWatcher loads the initial snapshot from path.
func NewWatcher(path string, interval time.Duration, logger *logrus.Logger) *Watcher {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	w := &Watcher{
		path:     path,
		interval: interval,
		logger:   logger,
	}
	w.snapshot.Store(Load(path, logger))
	return w
}

// Snapshot returns the current configuration snapshot.
func (w *Watcher) Snapshot() *models.Config {
	return w.snapshot.Load()
}

// OnChange registers a callback invoked after every reload.
func (w *Watcher) OnChange(cb func(*models.Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// Start polls the file's modification time until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	var lastMod time.Time
	if stat, err := os.Stat(w.path); err == nil {
		lastMod = stat.ModTime()
	}

	w.logger.WithField("path", w.path).Info("Configuration watcher started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Configuration watcher stopping")
			return
		case <-ticker.C:
			stat, err := os.Stat(w.path)
			if err != nil {
				continue
			}
			if !stat.ModTime().After(lastMod) {
				continue
			}
			lastMod = stat.ModTime()

			// Small delay so an in-flight write settles.
			time.Sleep(100 * time.Millisecond)
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	snapshot := Load(w.path, w.logger)
	w.snapshot.Store(snapshot)
	w.logger.Info("Configuration reloaded")

	w.mu.Lock()
	callbacks := make([]func(*models.Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, cb := range callbacks {
		go func(cb func(*models.Config)) {
			defer func() {
				if r := recover(); r != nil {
					w.logger.WithField("panic", r).Error("Config change callback panicked")
				}
			}()
			cb(snapshot)
		}(cb)
	}
}
