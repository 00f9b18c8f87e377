package assets

import (
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/cockroachdb/errors"
	"github.com/fsnotify/fsnotify"
)

// Watcher reports writes to a fixed set of files. The parent directories are
// watched rather than the files, since editors and compilers often replace a
// file instead of writing to it.
type Watcher struct {
	fsnotify *fsnotify.Watcher
	files    map[string]bool
	logger   *log.Logger

	changes chan string
	done    chan struct{}
	wg      sync.WaitGroup
}

func Watch(logger *log.Logger, files ...string) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "create file watcher")
	}

	w := &Watcher{
		fsnotify: fsWatch,
		files:    make(map[string]bool),
		logger:   logger,
		changes:  make(chan string, 1),
		done:     make(chan struct{}),
	}

	dirs := make(map[string]bool)
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			fsWatch.Close()
			return nil, errors.Wrapf(err, "resolve %s", file)
		}
		w.files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	for dir := range dirs {
		if err := fsWatch.Add(dir); err != nil {
			fsWatch.Close()
			return nil, errors.Wrapf(err, "watch %s", dir)
		}
	}

	w.wg.Add(1)
	go w.run()
	return w, nil
}

// Changes delivers the path of a changed file. Changes that arrive while a
// previous one is still unread are coalesced.
func (w *Watcher) Changes() <-chan string {
	return w.changes
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if e.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}

			abs, err := filepath.Abs(e.Name)
			if err != nil || !w.files[abs] {
				continue
			}

			w.logger.Debug("watched file changed", "path", e.Name, "op", e.Op.String())
			select {
			case w.changes <- e.Name:
			default:
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			w.logger.Warn("file watcher error", "err", err)

		case <-w.done:
			return
		}
	}
}

func (w *Watcher) Close() error {
	close(w.done)
	err := w.fsnotify.Close()
	w.wg.Wait()
	return errors.Wrap(err, "close file watcher")
}
