// Package watch keeps a store in step with a directory of USFM and USX
// files.
package watch

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/fsnotify.v1"

	"github.com/jnterry/awoken-bible-usfm/core/errors"
	"github.com/jnterry/awoken-bible-usfm/core/usfm/parser"
	"github.com/jnterry/awoken-bible-usfm/internal/logging"
	"github.com/jnterry/awoken-bible-usfm/internal/source"
	"github.com/jnterry/awoken-bible-usfm/internal/store"
)

// Event describes one ingested file.
type Event struct {
	Path        string
	Book        string
	Digest      string
	Chapters    int
	Diagnostics int
	Skipped     bool // the stored book is already current
	Err         error
}

// Options configures a Watcher.
type Options struct {
	Workers  int
	Debounce time.Duration

	// OnIngest is called after every ingest attempt, including skipped and
	// failed ones.
	OnIngest func(Event)
}

// Ingest parses the file at path and saves the book, unless the book stored
// from path was parsed from identical content.
func Ingest(ctx context.Context, st *store.Store, path string, workers int) (Event, error) {
	ev := Event{Path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		return ev, errors.NewIO("read", path, err)
	}
	ev.Digest = store.Digest(data)

	current, err := st.IsCurrent(ctx, path, ev.Digest)
	if err != nil {
		return ev, err
	}
	if current {
		ev.Skipped = true
		return ev, nil
	}

	format := source.FormatOf(path)
	markers, err := source.TokenizeFile(path, format, data)
	if err != nil {
		return ev, err
	}

	res, err := parser.ParseBookContext(ctx, markers, parser.Options{Workers: workers})
	if err != nil {
		return ev, err
	}
	ev.Diagnostics = len(res.AllErrors())
	if res.Book != nil {
		ev.Book = res.Book.ID
		ev.Chapters = len(res.Book.Chapters)
	}

	if _, err := st.SaveBook(ctx, store.Source{Path: path, Format: format, Data: data}, res); err != nil {
		return ev, errors.Wrapf(err, "saving %s", path)
	}
	return ev, nil
}

// IngestDir ingests every source file directly inside dir, in name order.
// Per-file failures are reported in the events; the error is only set when
// dir cannot be read or ctx is done.
func IngestDir(ctx context.Context, st *store.Store, dir string, workers int) ([]Event, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.NewIO("read directory", dir, err)
	}

	var events []Event
	for _, entry := range entries {
		if entry.IsDir() || !source.IsSource(entry.Name()) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return events, err
		}
		ev, err := Ingest(ctx, st, filepath.Join(dir, entry.Name()), workers)
		ev.Err = err
		events = append(events, ev)
	}
	return events, nil
}

// Watcher re-ingests source files in a directory when they change. Changes
// to a file within the debounce interval are ingested once.
type Watcher struct {
	dir   string
	store *store.Store
	opts  Options
}

// New creates a watcher for dir.
func New(dir string, st *store.Store, opts Options) *Watcher {
	return &Watcher{dir: filepath.Clean(dir), store: st, opts: opts}
}

// Run ingests the files already in the directory, then watches it until
// ctx is done. Removing a file leaves its stored book in place.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating watcher")
	}
	defer fw.Close()

	// Watch before the first scan so no change falls between the two.
	if err := fw.Add(w.dir); err != nil {
		return errors.Wrapf(err, "watching directory %s", w.dir)
	}
	logging.Info("watching", "dir", w.dir, "debounce", w.opts.Debounce.String())

	events, err := IngestDir(ctx, w.store, w.dir, w.opts.Workers)
	for _, ev := range events {
		w.report(ev)
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	return w.watchLoop(ctx, fw)
}

func (w *Watcher) watchLoop(ctx context.Context, fw *fsnotify.Watcher) error {
	pending := make(map[string]bool)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !source.IsSource(event.Name) {
				continue
			}

			switch {
			case event.Op&fsnotify.Create == fsnotify.Create,
				event.Op&fsnotify.Write == fsnotify.Write:
				pending[event.Name] = true
				timer.Reset(w.opts.Debounce)

			case event.Op&fsnotify.Remove == fsnotify.Remove,
				event.Op&fsnotify.Rename == fsnotify.Rename:
				delete(pending, event.Name)
				logging.Info("source removed", "path", event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			logging.Warn("watch error", "dir", w.dir, "error", err)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for path := range pending {
				paths = append(paths, path)
			}
			sort.Strings(paths)
			clear(pending)

			for _, path := range paths {
				if _, err := os.Stat(path); err != nil {
					// Gone again before the debounce ran out.
					continue
				}
				ev, err := Ingest(ctx, w.store, path, w.opts.Workers)
				ev.Err = err
				w.report(ev)
			}
		}
	}
}

func (w *Watcher) report(ev Event) {
	switch {
	case ev.Err != nil:
		logging.Warn("ingest failed", "path", ev.Path, "error", ev.Err)
	case ev.Skipped:
		logging.Debug("source unchanged", "path", ev.Path, "digest", ev.Digest)
	default:
		logging.IngestEvent(ev.Path, ev.Book, ev.Digest, "chapters", ev.Chapters, "diagnostics", ev.Diagnostics)
	}
	if w.opts.OnIngest != nil {
		w.opts.OnIngest(ev)
	}
}
