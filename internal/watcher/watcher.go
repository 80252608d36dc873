// Package watcher recursively watches engine roots for changes and
// debounces significant events into rescan triggers (spec §4.10).
package watcher

import (
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	debounceSlide   = 900 * time.Millisecond
	debounceHardCap = 5 * time.Second
	pollInterval    = 100 * time.Millisecond
)

// Watcher watches one or more engine roots and calls onRescan once a
// debounce window closes, either by sliding to idle or by hitting the
// hard cap.
type Watcher struct {
	onRescan func()
	fsw      *fsnotify.Watcher

	mu         sync.Mutex
	firstEvent time.Time
	deadline   time.Time
	pending    bool

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// New creates a watcher that calls onRescan after a debounce window
// closes following one or more significant filesystem events.
func New(onRescan func()) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &Watcher{
		onRescan: onRescan,
		fsw:      fsw,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		now:      time.Now,
	}, nil
}

// WatchRecursive adds root and every subdirectory beneath it to the
// watch list, tolerating inaccessible entries.
func (w *Watcher) WatchRecursive(root string) (watched, unwatched int, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if addErr := w.fsw.Add(path); addErr != nil {
				unwatched++
			} else {
				watched++
			}
		}
		return nil
	})
	return watched, unwatched, err
}

// Start begins processing events in a background goroutine.
func (w *Watcher) Start() {
	go w.loop()
}

// Stop halts the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
		<-w.done
		w.fsw.Close()
	})
}

func (w *Watcher) loop() {
	defer close(w.done)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Printf("watcher error: %v", err)
		case <-ticker.C:
			w.maybeFire()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if event.Op&fsnotify.Create != 0 {
		w.watchIfDir(event.Name)
	}

	// Access-only (Chmod) events are ignored outright.
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	// Empty-path events (some platforms) force a rescan regardless of
	// the significance filter.
	if event.Name == "" {
		w.scheduleRescan()
		return
	}
	if !isSignificant(event.Name) {
		return
	}
	w.scheduleRescan()
}

func (w *Watcher) watchIfDir(path string) {
	info, err := os.Stat(path)
	if err != nil || !info.IsDir() {
		return
	}
	_ = w.fsw.Add(path)
}

// scheduleRescan opens or slides the debounce window: the deadline is
// always now+900ms, clamped to no later than firstEvent+5s.
func (w *Watcher) scheduleRescan() {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	if !w.pending {
		w.pending = true
		w.firstEvent = now
	}

	deadline := now.Add(debounceSlide)
	hardCap := w.firstEvent.Add(debounceHardCap)
	if deadline.After(hardCap) {
		deadline = hardCap
	}
	w.deadline = deadline
}

func (w *Watcher) maybeFire() {
	w.mu.Lock()
	if !w.pending || w.now().Before(w.deadline) {
		w.mu.Unlock()
		return
	}
	w.pending = false
	w.mu.Unlock()

	w.onRescan()
}

// isSignificant implements spec §4.10's event filter: a path is
// significant iff it is a *.jsonl file, is named sessions-index.json
// or logs.json, or is a session-*.json file under a chats/ ancestor.
func isSignificant(path string) bool {
	base := filepath.Base(path)
	switch {
	case strings.HasSuffix(base, ".jsonl"):
		return true
	case base == "sessions-index.json" || base == "logs.json":
		return true
	case strings.HasPrefix(base, "session-") && strings.HasSuffix(base, ".json"):
		return hasChatsAncestor(path)
	default:
		return false
	}
}

func hasChatsAncestor(path string) bool {
	dir := filepath.Dir(path)
	for {
		if filepath.Base(dir) == "chats" {
			return true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return false
		}
		dir = parent
	}
}
