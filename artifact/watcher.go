package artifact

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/fsnotify/fsnotify"
)

// WatchConfig configures external-edit watching of the workspace directory.
type WatchConfig struct {
	// Enabled controls whether file watching is active.
	Enabled bool `yaml:"enabled"`

	// DebounceDelay is how long to wait for more changes before reloading.
	DebounceDelay time.Duration `yaml:"debounce_delay"`

	// ExcludeGlobs lists doublestar patterns (relative to the workspace)
	// whose matches are ignored even if they shadow an artifact file name.
	ExcludeGlobs []string `yaml:"exclude_globs"`
}

// DefaultWatchConfig returns default watch configuration.
func DefaultWatchConfig() WatchConfig {
	return WatchConfig{
		Enabled:       false,
		DebounceDelay: 500 * time.Millisecond,
		ExcludeGlobs:  []string{".git/**", "**/*.tmp"},
	}
}

// Watcher reloads artifact files edited outside the tool. A reload updates
// store content without a version bump, which marks the kind dirty for every
// session so the next turn resends it in full.
type Watcher struct {
	config  WatchConfig
	dir     string
	store   *Store
	watcher *fsnotify.Watcher
	logger  *slog.Logger

	pendingMu sync.Mutex
	pending   map[Kind]struct{}
}

// NewWatcher creates a watcher over the workspace directory.
func NewWatcher(config WatchConfig, dir string, store *Store, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if config.DebounceDelay <= 0 {
		config.DebounceDelay = 500 * time.Millisecond
	}
	return &Watcher{
		config:  config,
		dir:     dir,
		store:   store,
		watcher: fsw,
		logger:  logger,
		pending: make(map[Kind]struct{}),
	}, nil
}

// Start begins watching. It returns after the watch is registered; event
// processing runs until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.processEvents(ctx)

	w.logger.Info("artifact watcher started",
		"dir", w.dir,
		"debounce", w.config.DebounceDelay)
	return nil
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) processEvents(ctx context.Context) {
	ticker := time.NewTicker(w.config.DebounceDelay)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			kind := w.kindFor(event.Name)
			if kind == "" {
				continue
			}
			w.pendingMu.Lock()
			w.pending[kind] = struct{}{}
			w.pendingMu.Unlock()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			w.flushPending()
		}
	}
}

// kindFor maps an event path to a tracked kind, honoring exclude globs.
func (w *Watcher) kindFor(path string) Kind {
	rel, err := filepath.Rel(w.dir, path)
	if err != nil {
		return ""
	}
	for _, pattern := range w.config.ExcludeGlobs {
		if ok, _ := doublestar.Match(pattern, filepath.ToSlash(rel)); ok {
			return ""
		}
	}
	return KindForFileName(filepath.Base(rel))
}

func (w *Watcher) flushPending() {
	w.pendingMu.Lock()
	if len(w.pending) == 0 {
		w.pendingMu.Unlock()
		return
	}
	kinds := make([]Kind, 0, len(w.pending))
	for k := range w.pending {
		kinds = append(kinds, k)
	}
	w.pending = make(map[Kind]struct{})
	w.pendingMu.Unlock()

	for _, k := range kinds {
		path := filepath.Join(w.dir, k.FileName())
		data, err := os.ReadFile(path)
		if err != nil {
			w.logger.Warn("reload after external edit failed", "kind", k, "error", err)
			continue
		}
		if err := w.store.SetContent(k, string(data)); err != nil {
			w.logger.Warn("store update after external edit failed", "kind", k, "error", err)
			continue
		}
		w.logger.Info("artifact reloaded after external edit", "kind", k)
	}
}
