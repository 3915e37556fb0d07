package store

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ReloadEvent reports that an entity set's on-disk state changed outside
// this process and should be reloaded (spec.md §4.6).
type ReloadEvent struct {
	// EntitySet is the set whose directory or flat file changed.
	EntitySet string
	// PublicKey is the affected document's key in directory mode, or empty
	// in flat mode (the whole log is reloaded).
	PublicKey string
}

// watcher observes the data directory for edits made by something other
// than this process (a text editor, git checkout, another process) and
// reports them as [ReloadEvent]s. It suppresses events for paths this
// process just wrote itself, since every local mutation already updates
// the in-memory index directly and doesn't need a round trip through the
// filesystem to be reflected.
//
// fsnotify does not watch subtrees recursively, so watcher walks the tree
// at startup and adds every directory explicitly, then adds newly created
// directories as they're observed.
type watcher struct {
	fsnw   *fsnotify.Watcher
	logger *slog.Logger
	root   string

	skipWindow time.Duration

	mu        sync.Mutex
	selfPaths map[string]time.Time

	events chan ReloadEvent
	done   chan struct{}
}

func newWatcher(root string, skipWindow time.Duration, logger *slog.Logger) (*watcher, error) {
	fsnw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, withContext(err, "", "")
	}

	w := &watcher{
		fsnw:       fsnw,
		logger:     logger,
		root:       root,
		skipWindow: skipWindow,
		selfPaths:  make(map[string]time.Time),
		events:     make(chan ReloadEvent, 64),
		done:       make(chan struct{}),
	}

	if err := w.addTree(root); err != nil {
		_ = fsnw.Close()
		return nil, err
	}

	go w.loop()

	return w, nil
}

func (w *watcher) addTree(dir string) error {
	if err := w.fsnw.Add(dir); err != nil {
		return withContext(err, "", "")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		// A directory that vanished between the listing and the add is not
		// fatal to watch setup; the watcher will simply have nothing to
		// report under it.
		return nil
	}

	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), stagingPrefix) {
			if err := w.addTree(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}

	return nil
}

// markSelfWrite records that path was just written by this process, so the
// next fsnotify event it produces is suppressed rather than re-triggering
// a reload of data we already applied in memory.
func (w *watcher) markSelfWrite(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.prune()
	w.selfPaths[path] = time.Now()
}

// prune drops self-write markers older than skipWindow. Caller holds mu.
func (w *watcher) prune() {
	if len(w.selfPaths) == 0 {
		return
	}

	cutoff := time.Now().Add(-w.skipWindow)

	for p, t := range w.selfPaths {
		if t.Before(cutoff) {
			delete(w.selfPaths, p)
		}
	}
}

func (w *watcher) isSelfWrite(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, ok := w.selfPaths[path]
	if !ok {
		return false
	}

	if time.Since(t) > w.skipWindow {
		delete(w.selfPaths, path)
		return false
	}

	delete(w.selfPaths, path)

	return true
}

func (w *watcher) loop() {
	defer close(w.done)

	for {
		select {
		case ev, ok := <-w.fsnw.Events:
			if !ok {
				return
			}

			w.handle(ev)
		case err, ok := <-w.fsnw.Errors:
			if !ok {
				return
			}

			if w.logger != nil {
				w.logger.Warn("store: watcher error", "error", err)
			}
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil {
		return
	}

	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) == 0 || parts[0] == "." || parts[0] == "" {
		return
	}

	setName := parts[0]

	if strings.HasPrefix(setName, stagingPrefix) {
		return
	}

	if ev.Has(fsnotify.Create) {
		if info, statErr := os.Stat(ev.Name); statErr == nil && info.IsDir() {
			_ = w.addTree(ev.Name)
		}
	}

	if w.isSelfWrite(ev.Name) {
		return
	}

	publicKey := ""
	if len(parts) >= 2 && !strings.HasPrefix(parts[1], stagingPrefix) {
		publicKey = parts[1]
	}

	select {
	case w.events <- ReloadEvent{EntitySet: setName, PublicKey: publicKey}:
	default:
		// A full event buffer means a refresh is already pending for this
		// store; dropping a duplicate notification is harmless since the
		// subscriber reloads the whole set's current state, not a diff.
	}
}

// Events returns the channel of reconciliation-worthy filesystem changes.
func (w *watcher) Events() <-chan ReloadEvent {
	return w.events
}

func (w *watcher) Close() error {
	err := w.fsnw.Close()
	<-w.done
	close(w.events)

	return err
}
