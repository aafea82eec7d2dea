// Package watch observes a configuration directory and emits debounced
// change batches. It is only an event producer: deciding what to resync and
// actually resyncing belong to the caller, so detection cadence stays
// decoupled from the sync engine.
package watch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher batches YAML changes under one directory.
type Watcher struct {
	// Events delivers one sorted batch of changed paths per quiet period.
	Events <-chan []string

	dir      string
	debounce time.Duration
	log      *zap.Logger
	fw       *fsnotify.Watcher
	events   chan []string

	mu      sync.Mutex
	pending map[string]bool
	timer   *time.Timer
}

// New watches dir for YAML edits, batching rapid bursts into a single event
// after the debounce window goes quiet.
func New(dir string, debounce time.Duration, log *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	events := make(chan []string, 1)
	w := &Watcher{
		Events:   events,
		dir:      dir,
		debounce: debounce,
		log:      log,
		fw:       fw,
		events:   events,
		pending:  map[string]bool{},
	}
	return w, nil
}

// Run processes filesystem events until ctx is done or the watcher closes.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("Watching for configuration changes", zap.String("dir", w.dir))
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.fw.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			w.mark(ev.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("Watcher error", zap.Error(err))
		}
	}
}

// Close stops the underlying watcher. Pending batches are dropped.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
	return w.fw.Close()
}

func relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	ext := strings.ToLower(filepath.Ext(ev.Name))
	return ext == ".yaml" || ext == ".yml"
}

func (w *Watcher) mark(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[path] = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	w.pending = map[string]bool{}
	w.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	sort.Strings(batch)
	select {
	case w.events <- batch:
	default:
		// The consumer is mid-rebuild; it will reload the full config on the
		// next batch anyway, so dropping this one loses nothing.
	}
}
