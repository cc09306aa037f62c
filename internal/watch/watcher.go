// Package watch feeds file system changes under a project into the overlay
// and triggers rebuilds once the changes settle.
package watch

import (
	"context"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"ngweave/internal/config"
	"ngweave/internal/logging"
	"ngweave/internal/vfs"
)

// ChangeFunc is called once per settled batch with the changed paths,
// sorted. It runs on the watcher goroutine; batches never overlap.
type ChangeFunc func(ctx context.Context, paths []string)

// Watcher watches a directory tree recursively.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	overlay     *vfs.Overlay
	root        string
	ignore      []string
	onChange    ChangeFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	tick        time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats Stats
}

// Stats tracks watcher activity.
type Stats struct {
	FilesCreated  int
	FilesModified int
	FilesDeleted  int
	Batches       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
	LastEventType string
}

// New creates a watcher over root. Settled paths are invalidated in overlay
// before onChange runs, so the next build reads them from disk.
func New(root string, overlay *vfs.Overlay, cfg config.WatchConfig, onChange ChangeFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	debounce := cfg.GetDebounce()
	tick := debounce / 2
	if tick > 100*time.Millisecond {
		tick = 100 * time.Millisecond
	}
	if tick < 5*time.Millisecond {
		tick = 5 * time.Millisecond
	}
	return &Watcher{
		watcher:     fw,
		overlay:     overlay,
		root:        filepath.Clean(root),
		ignore:      cfg.IgnorePatterns,
		onChange:    onChange,
		debounceMap: make(map[string]time.Time),
		debounceDur: debounce,
		tick:        tick,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start adds the directory tree and begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	n, err := w.addTree(w.root, false)
	if err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Watch("watching %d directories under %s", n, w.root)

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryWatch).Error("error closing watcher: %v", err)
	}
	logging.Watch("stopped")
}

// IsWatching reports whether the event loop is running.
func (w *Watcher) IsWatching() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}

// Stats returns a copy of the activity counters.
func (w *Watcher) Stats() Stats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// WatchedDirs returns the directories currently registered.
func (w *Watcher) WatchedDirs() []string {
	dirs := w.watcher.WatchList()
	sort.Strings(dirs)
	return dirs
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.WatchDebug("context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryWatch).Error("watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-ticker.C:
			w.flush(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if w.ignored(event.Name) {
		return
	}

	var eventType string
	switch {
	case event.Op&fsnotify.Create != 0:
		eventType = "create"
	case event.Op&fsnotify.Write != 0:
		eventType = "modify"
	case event.Op&fsnotify.Remove != 0:
		eventType = "delete"
	case event.Op&fsnotify.Rename != 0:
		eventType = "rename"
	default:
		return
	}

	if eventType == "create" {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			// Files created before the watch lands are picked up by the walk.
			if _, err := w.addTree(event.Name, true); err != nil {
				logging.Get(logging.CategoryWatch).Warn("failed to watch %s: %v", event.Name, err)
			}
			return
		}
	}

	logging.WatchDebug("%s event for %s", eventType, event.Name)

	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.stats.LastEventType = eventType
	switch eventType {
	case "create":
		w.stats.FilesCreated++
	case "modify":
		w.stats.FilesModified++
	default:
		w.stats.FilesDeleted++
	}
	w.debounceMap[filepath.ToSlash(event.Name)] = time.Now()
}

// flush hands paths that have been quiet for the debounce window to the
// overlay and the change callback.
func (w *Watcher) flush(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for p, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, p)
			delete(w.debounceMap, p)
		}
	}
	if len(settled) > 0 {
		w.stats.Batches++
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	sort.Strings(settled)
	for _, p := range settled {
		w.overlay.Invalidate(p)
	}
	logging.Watch("%d files changed", len(settled))
	if w.onChange != nil {
		w.onChange(ctx, settled)
	}
}

// addTree registers dir and every non-ignored directory below it. With
// queue set, files already present are recorded as created.
func (w *Watcher) addTree(dir string, queue bool) (int, error) {
	added := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Directories removed mid-walk are skipped.
			if os.IsNotExist(err) && p != dir {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			if queue && !w.ignored(p) {
				w.mu.Lock()
				w.debounceMap[filepath.ToSlash(p)] = time.Now()
				w.mu.Unlock()
			}
			return nil
		}
		if p != w.root && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := w.watcher.Add(p); err != nil {
			return err
		}
		added++
		return nil
	})
	return added, err
}

// ignored matches p against the ignore patterns by base name or by the
// path relative to the root.
func (w *Watcher) ignored(p string) bool {
	rel, err := filepath.Rel(w.root, p)
	if err != nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	base := path.Base(rel)
	for _, pattern := range w.ignore {
		if pattern == base || pattern == rel || strings.HasPrefix(rel, pattern+"/") {
			return true
		}
		if ok, _ := path.Match(pattern, base); ok {
			return true
		}
	}
	return false
}
