package evolve

import (
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"forgecore/internal/logging"
)

// RuleWatcher watches a directory of .mg rule fragments and hot-reloads the
// Controller's drift rule program whenever one changes, debounced the same
// way the teacher's internal/core/mangle_watcher.go batches rapid saves —
// scoped down to reload-on-change only, with no repair-interceptor pass
// (that concern belongs to the authoring tool, not the running controller).
type RuleWatcher struct {
	mu          sync.Mutex
	watcher     *fsnotify.Watcher
	dir         string
	reload      func() error
	debounceDur time.Duration
	debounce    map[string]time.Time
	stopCh      chan struct{}
	doneCh      chan struct{}
}

// NewRuleWatcher builds a watcher over dir that calls reload whenever a .mg
// file inside it settles after a write. The directory is created if absent.
func NewRuleWatcher(dir string, reload func() error) (*RuleWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &RuleWatcher{
		watcher:     w,
		dir:         dir,
		reload:      reload,
		debounceDur: 500 * time.Millisecond,
		debounce:    make(map[string]time.Time),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start runs the watch loop in a goroutine until Stop is called.
func (w *RuleWatcher) Start() {
	go w.run()
}

// Stop halts the watch loop and releases the underlying fsnotify handle.
func (w *RuleWatcher) Stop() {
	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *RuleWatcher) run() {
	defer close(w.doneCh)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
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
			logging.EvolveWarn("rule watcher error: %v", err)
		case <-ticker.C:
			w.processDebounced()
		}
	}
}

func (w *RuleWatcher) handleEvent(event fsnotify.Event) {
	if !strings.HasSuffix(event.Name, ".mg") {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	w.mu.Lock()
	w.debounce[event.Name] = time.Now()
	w.mu.Unlock()
}

func (w *RuleWatcher) processDebounced() {
	w.mu.Lock()
	now := time.Now()
	var settled []string
	for path, at := range w.debounce {
		if now.Sub(at) >= w.debounceDur {
			settled = append(settled, path)
			delete(w.debounce, path)
		}
	}
	w.mu.Unlock()

	if len(settled) == 0 {
		return
	}
	logging.Evolve("reloading drift rules after change to %v", settled)
	if err := w.reload(); err != nil {
		logging.EvolveWarn("drift rule reload failed: %v", err)
	}
}
