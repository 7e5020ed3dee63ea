// Package watcher observes the content root for filesystem changes and
// coalesces them into debounced change ticks.
package watcher

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/metrics"
)

// DefaultDebounce is the quiet period after the last relevant event
// before a change tick fires.
const DefaultDebounce = 500 * time.Millisecond

// Config configures a Watcher.
type Config struct {
	// Root is the content directory watched recursively.
	Root string
	// Extensions is the lowercase set of file extensions (without dot)
	// that qualify as relevant.
	Extensions map[string]struct{}
	// IgnoreDirs is the set of directory names pruned from watching.
	IgnoreDirs map[string]struct{}
	// Debounce overrides DefaultDebounce when positive.
	Debounce time.Duration
	// OnTick is invoked once per coalesced change burst.
	OnTick func()
}

// Watcher turns raw fsnotify events into at most one tick per burst of
// changes. It is resilient: watch install failures on subdirectories are
// logged and skipped, never fatal.
type Watcher struct {
	root     string
	exts     map[string]struct{}
	ignore   map[string]struct{}
	debounce time.Duration
	onTick   func()

	mu      sync.Mutex
	fw      *fsnotify.Watcher
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// New creates a Watcher. It does not start watching; call Start.
func New(cfg Config) *Watcher {
	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		root:     cfg.Root,
		exts:     cfg.Extensions,
		ignore:   cfg.IgnoreDirs,
		debounce: debounce,
		onTick:   cfg.OnTick,
	}
}

// Running reports whether the watcher is active.
func (w *Watcher) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Start installs recursive watches on the content root and launches the
// event loop. Starting an already-running watcher is a no-op.
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return nil
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.root); err != nil {
		_ = fw.Close()
		return err
	}
	w.installSubdirWatches(fw, w.root)

	w.fw = fw
	w.done = make(chan struct{})
	w.running = true
	w.wg.Add(1)
	go w.loop(fw, w.done)

	logging.Info("file watcher started", zap.String("root", w.root))
	return nil
}

// stopJoinTimeout bounds how long Stop waits for the event loop to exit.
const stopJoinTimeout = 5 * time.Second

// Stop tears down the watches and waits for the event loop to exit. The
// wait is bounded; the watcher counts as stopped either way. Stopping a
// stopped watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.done)
	_ = w.fw.Close()
	w.fw = nil
	w.mu.Unlock()

	joined := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(joined)
	}()
	select {
	case <-joined:
		logging.Info("file watcher stopped")
	case <-time.After(stopJoinTimeout):
		logging.Warn("file watcher loop did not exit in time")
	}
}

// installSubdirWatches walks below dir adding a watch per subdirectory,
// pruning ignored and hidden directories. Individual failures are logged
// and skipped.
func (w *Watcher) installSubdirWatches(fw *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logging.Warn("skipping unreadable path", zap.String("path", path), zap.Error(err))
			return filepath.SkipDir
		}
		if !d.IsDir() {
			return nil
		}
		name := d.Name()
		if path != dir {
			if strings.HasPrefix(name, ".") {
				return filepath.SkipDir
			}
			if _, ignored := w.ignore[name]; ignored {
				return filepath.SkipDir
			}
			if err := fw.Add(path); err != nil {
				logging.Warn("failed to watch directory",
					zap.String("path", path), zap.Error(err))
				return filepath.SkipDir
			}
		}
		return nil
	})
}

func (w *Watcher) loop(fw *fsnotify.Watcher, done chan struct{}) {
	defer w.wg.Done()

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				metrics.RecordDiscardedEvent()
				continue
			}
			// New directories need their own watches before files land
			// inside them.
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := fw.Add(ev.Name); err == nil {
						w.installSubdirWatches(fw, ev.Name)
					}
				}
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)

		case <-timer.C:
			metrics.RecordWatcherTick()
			logging.Debug("change tick", zap.String("root", w.root))
			if w.onTick != nil {
				w.onTick()
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			logging.Warn("watcher error", zap.Error(err))

		case <-done:
			return
		}
	}
}

// relevant reports whether a raw event should contribute to a change
// tick. Attribute-only events, hidden or ignored path components, and
// files of uninteresting types are all discarded.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}

	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false
	}
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		if part == "" || part == "." {
			continue
		}
		if strings.HasPrefix(part, ".") {
			return false
		}
		if _, ignored := w.ignore[part]; ignored {
			return false
		}
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(ev.Name), "."))
	if _, ok := w.exts[ext]; ok {
		return true
	}
	if info, err := os.Stat(ev.Name); err == nil {
		return info.IsDir()
	}
	// Removed or renamed-away paths can no longer be stat'ed. Without a
	// recognized extension, assume a directory went away: the tree shape
	// changed either way.
	return ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 && ext == ""
}
