package jsonfile

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a Database when another process appends to its files.
type Watcher struct {
	fw   *fsnotify.Watcher
	db   *Database
	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Watch starts watching the database directory. Reload errors are logged
// and the watcher keeps running; the bad line is retried on the next event.
// The watcher stops when ctx is done or Stop is called.
func (d *Database) Watch(ctx context.Context) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("jsonfile: watch: %w", err)
	}
	if err := fw.Add(d.dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("jsonfile: watch %s: %w", d.dir, err)
	}

	w := &Watcher{fw: fw, db: d, done: make(chan struct{})}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			switch filepath.Base(event.Name) {
			case WorkloadFile, RecordFile:
			default:
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			added, err := w.db.Reload()
			if err != nil {
				w.db.log.Error().Err(err).Str("file", event.Name).Msg("reload after change failed")
				continue
			}
			if added > 0 {
				w.db.log.Debug().Int("added", added).Msg("reloaded tuning records")
			}

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.db.log.Warn().Err(err).Msg("file watcher error")

		case <-ctx.Done():
			return

		case <-w.done:
			return
		}
	}
}

// Stop ends watching and waits for the event loop to exit.
// Safe to call multiple times.
func (w *Watcher) Stop() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.fw.Close()
		w.wg.Wait()
	})
	return err
}
