package policyfile

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Sentinel-Gate/aiwaf/internal/domain/policy"
)

// DefaultDebounce is how long the watcher waits after the last change
// before reloading.
const DefaultDebounce = 500 * time.Millisecond

// Reloader accepts a new policy. service.PolicyRuntime implements it.
type Reloader interface {
	Reload(ctx context.Context, p policy.SecurityPolicy) error
}

// Watcher reloads the policy file into a Reloader when it changes. A file
// that fails to parse or validate is logged and the active policy is kept.
type Watcher struct {
	path     string
	target   Reloader
	logger   *slog.Logger
	debounce time.Duration
	watcher  *fsnotify.Watcher
	lastHash string
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce overrides DefaultDebounce.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithInitialHash skips a reload whose contents match hash.
func WithInitialHash(hash string) WatcherOption {
	return func(w *Watcher) { w.lastHash = hash }
}

// NewWatcher watches the directory containing path, so editors that replace
// the file by rename are still seen.
func NewWatcher(path string, target Reloader, logger *slog.Logger, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve policy path: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(abs), err)
	}

	w := &Watcher{
		path:     abs,
		target:   target,
		logger:   logger,
		debounce: DefaultDebounce,
		watcher:  fw,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run blocks until ctx is cancelled, reloading after changes settle.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				timer.Reset(w.debounce)
			}

		case <-timer.C:
			w.reload(ctx)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("policy file watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload(ctx context.Context) {
	loaded, err := Load(w.path)
	if err != nil {
		w.logger.Error("policy hot-reload failed, keeping active policy", "path", w.path, "error", err)
		return
	}
	if loaded.Hash == w.lastHash {
		return
	}
	if err := w.target.Reload(ctx, loaded.Policy); err != nil {
		w.logger.Error("policy hot-reload rejected, keeping active policy", "path", w.path, "error", err)
		return
	}
	w.lastHash = loaded.Hash
	w.logger.Info("policy hot-reloaded", "path", w.path, "hash", loaded.Hash)
}
