package dirstore

import (
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
)

// watcher invalidates cache entries when another process rewrites a
// collection file under BaseDir. The store's own atomic writes are
// recognized by mtime: right after a write the cache entry's mtime matches
// the file, so events whose stat agrees with the cache are ignored.
type watcher struct {
	fw   *fsnotify.Watcher
	done chan struct{}
}

func startWatcher(s *Store) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := fw.Add(s.cfg.BaseDir); err != nil {
		_ = fw.Close()

		return nil, err
	}

	w := &watcher{fw: fw, done: make(chan struct{})}

	go w.run(s)

	return w, nil
}

func (w *watcher) run(s *Store) {
	defer close(w.done)

	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}

			w.handle(s, event)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			s.log.Warn("file watcher error", "error", err)
		}
	}
}

func (w *watcher) handle(s *Store, event fsnotify.Event) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
		!event.Has(fsnotify.Rename) && !event.Has(fsnotify.Remove) {
		return
	}

	name, found := strings.CutSuffix(filepath.Base(event.Name), collectionExt)
	if !found || validateName(name) != nil {
		return
	}

	if mtime, ok := s.cache.mtimeOf(name); ok && !mtime.IsZero() {
		if fi, err := s.fsys.Stat(event.Name); err == nil && fi.ModTime().Equal(mtime) {
			return
		}
	}

	s.cache.invalidate(name)
	s.log.Debug("invalidated collection after external change", "collection", name)
}

// stop closes the watcher and waits for the event loop to drain.
func (w *watcher) stop() error {
	err := w.fw.Close()
	<-w.done

	return err
}
