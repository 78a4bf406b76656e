package oracle

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 200 * time.Millisecond

// AreaWatcher reloads a service-area file into a static oracle whenever the
// file changes. A file that fails to parse leaves the previous list active.
type AreaWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	target  *Static
	logger  *slog.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// WatchServiceAreas starts watching path. The parent directory is watched so
// that editors which replace the file by rename are still seen.
func WatchServiceAreas(path string, target *Static, logger *slog.Logger) (*AreaWatcher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve service areas path: %w", err)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create service areas watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	w := &AreaWatcher{
		watcher: fw,
		path:    abs,
		target:  target,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go w.run()

	logger.Info("Watching service areas file", "path", abs)
	return w, nil
}

// Close stops the watcher and waits for its loop to exit.
func (w *AreaWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.watcher.Close()
		<-w.done
	})
	return err
}

func (w *AreaWatcher) run() {
	defer close(w.done)

	var (
		timer   *time.Timer
		timerCh <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Saves often arrive as several events; reload once they settle.
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
			} else {
				timer.Reset(reloadDebounce)
			}
			timerCh = timer.C

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Service areas watcher error", "error", err)

		case <-timerCh:
			timerCh = nil
			w.reload()
		}
	}
}

func (w *AreaWatcher) reload() {
	areas, err := LoadServiceAreas(w.path)
	if err != nil {
		w.logger.Warn("Keeping previous service areas", "path", w.path, "error", err)
		return
	}
	w.target.SetAreas(areas)
	w.logger.Info("Reloaded service areas", "path", w.path, "areas", len(areas.Areas))
}
