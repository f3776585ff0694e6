package diaglog

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// configWatcher reloads a configuration file on change and applies it via
// Reconfigure. A file that fails to parse or validate leaves the active
// snapshot untouched and is reported through the error handler.
type configWatcher struct {
	watcher *fsnotify.Watcher
	path    string
	done    chan struct{}
	wg      sync.WaitGroup
}

// WatchConfigFile starts watching path for runtime reconfiguration. The
// containing directory is watched so editors that replace the file
// (rename-over) are still seen.
func (e *Emitter) WatchConfigFile(path string) error {
	if e.watcher != nil {
		return newConfigError("watch", errAlreadyWatching)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return newConfigError("watch", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return newConfigError("watch", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return newConfigError("watch", err)
	}

	w := &configWatcher{
		watcher: fw,
		path:    abs,
		done:    make(chan struct{}),
	}
	e.watcher = w

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case event, ok := <-fw.Events:
				if !ok {
					return
				}
				if event.Name != abs {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				cfg, err := LoadConfigFile(abs)
				if err != nil {
					e.collector.TrackConfigError()
					e.errorHandler(err)
					continue
				}
				if err := e.Reconfigure(cfg); err != nil {
					e.errorHandler(err)
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				e.errorHandler(newConfigError("watch", err))
			case <-w.done:
				return
			}
		}
	}()

	return nil
}

func (w *configWatcher) stop() {
	close(w.done)
	w.watcher.Close()
	w.wg.Wait()
}
