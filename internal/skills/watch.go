package skills

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch hot-reloads the skill set when files under the skills directory
// change. It debounces bursts of events (editors write several) and
// returns when ctx is cancelled. A missing directory disables watching
// without error.
func (l *Loader) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(l.dir); err != nil {
		l.log.Debug("skills dir not watchable", "dir", l.dir, "error", err)
		return nil
	}
	// Watch each skill subdirectory too; fsnotify is not recursive.
	for _, sk := range l.All() {
		_ = watcher.Add(filepath.Dir(sk.Path))
	}

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.log.Warn("skills watcher error", "error", err)
		case <-pending:
			pending = nil
			if err := l.Load(); err != nil {
				l.log.Warn("skills reload failed", "error", err)
				continue
			}
			for _, sk := range l.All() {
				_ = watcher.Add(filepath.Dir(sk.Path))
			}
			l.log.Info("skills reloaded", "count", len(l.All()))
		}
	}
}
