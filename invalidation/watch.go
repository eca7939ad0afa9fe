package invalidation

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/pawsitivecheck/querycache/cache"
)

// Watcher reloads a dependency map file when it changes and hands every
// valid revision to apply. A revision that fails to parse or validate is
// logged and skipped, so the last good map stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	apply    func(*DependencyMap)
	logger   cache.Logger
	debounce time.Duration

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	reloads  atomic.Int64
	rejected atomic.Int64
}

// NewWatcher prepares a watcher for path. Typical use passes
// Coordinator.SetDependencyMap as apply.
func NewWatcher(path string, apply func(*DependencyMap), logger cache.Logger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = cache.NewNoOpLogger()
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		apply:    apply,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the file's directory, which also catches editors that
// replace the file instead of writing it in place. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", w.path, err)
	}
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("Watching dependency map", "path", w.path)
	return nil
}

// Reloads reports how many revisions were applied and how many rejected.
func (w *Watcher) Reloads() (applied, rejected int64) {
	return w.reloads.Load(), w.rejected.Load()
}

// Close stops the watcher. It is safe to call more than once.
func (w *Watcher) Close() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.wg.Wait()
		err = w.watcher.Close()
	})
	return err
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			// Saves arrive as bursts of write/create events.
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Dependency map watch error", "path", w.path, "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return false
	}
	name, err := filepath.Abs(event.Name)
	return err == nil && name == w.path
}

func (w *Watcher) reload() {
	m, err := LoadDependencyMap(w.path)
	if err != nil {
		w.rejected.Add(1)
		w.logger.Warn("Dependency map reload rejected", "path", w.path, "error", err)
		return
	}
	w.reloads.Add(1)
	w.apply(m)
	w.logger.Info("Dependency map reloaded", "path", w.path, "version", m.Version, "families", len(m.AllFamilies()))
}
