package mirror

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rjeczalik/notify"
)

const eventBufferSize = 256

// FilterCallback returns true if the event for this path should be dropped
// before dispatch.
type FilterCallback func(path string) bool

// FileWatcher subscribes to recursive OS filesystem notifications on the
// source root and forwards events one at a time in delivery order. There is
// no coalescing: a burst of N events yields N dispatches.
type FileWatcher struct {
	watchDir  string
	events    chan notify.EventInfo
	rawEvents chan notify.EventInfo
	done      chan struct{}
	wg        sync.WaitGroup

	filter   FilterCallback
	filterMu sync.RWMutex
}

func NewFileWatcher(watchDir string) *FileWatcher {
	return &FileWatcher{
		watchDir: watchDir,
		done:     make(chan struct{}),
	}
}

// FilterPaths sets a callback that drops raw events before they reach the
// dispatcher. The callback should return true to ignore the event.
func (fw *FileWatcher) FilterPaths(callback FilterCallback) {
	fw.filterMu.Lock()
	defer fw.filterMu.Unlock()
	fw.filter = callback
}

func (fw *FileWatcher) Start(ctx context.Context) error {
	slog.Info("file watcher start", "dir", fw.watchDir)

	fw.rawEvents = make(chan notify.EventInfo, eventBufferSize)
	fw.events = make(chan notify.EventInfo, eventBufferSize)

	recursivePath := fw.watchDir + "/..."
	if err := notify.Watch(recursivePath, fw.rawEvents, notify.Create|notify.Write|notify.Remove|notify.Rename); err != nil {
		return err
	}

	fw.wg.Add(1)
	go fw.forwardEvents(ctx)

	return nil
}

func (fw *FileWatcher) Stop() {
	slog.Info("file watcher stopping")

	close(fw.done)

	// notify.Stop closes its subscription; the raw channel stays ours
	if fw.rawEvents != nil {
		notify.Stop(fw.rawEvents)
	}

	fw.wg.Wait()
	slog.Info("file watcher stopped")
}

func (fw *FileWatcher) Events() <-chan notify.EventInfo {
	return fw.events
}

// forwardEvents applies the filter callback and hands events to the
// dispatcher strictly in arrival order.
func (fw *FileWatcher) forwardEvents(ctx context.Context) {
	defer func() {
		fw.wg.Done()
		close(fw.events)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.done:
			return
		case event, ok := <-fw.rawEvents:
			if !ok {
				return
			}

			fw.filterMu.RLock()
			filter := fw.filter
			fw.filterMu.RUnlock()
			if filter != nil && filter(event.Path()) {
				continue
			}

			select {
			case fw.events <- event:
				slog.Debug("file watcher", "event", event.Event(), "path", event.Path())
			default:
				slog.Warn("file watcher dropped event", "reason", "channel full", "path", event.Path())
			}
		}
	}
}
