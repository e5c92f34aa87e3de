// Package artifacts tracks files the agent writes into a session's outputs
// directory during an invocation, so the final UI update can list them.
package artifacts

import (
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher observes one outputs directory for the duration of an invocation.
// Detection is best-effort: filesystem events are collected live, and a
// directory re-scan on Close catches anything the event stream missed.
type Watcher struct {
	dir      string
	baseline map[string]struct{}

	fw   *fsnotify.Watcher
	done chan struct{}

	mu      sync.Mutex
	created map[string]struct{}
}

// Watch snapshots dir and begins collecting create events. A failure to set
// up the event watcher is not fatal; the Close re-scan still works.
func Watch(dir string) (*Watcher, error) {
	baseline, err := scan(dir)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		dir:      dir,
		baseline: baseline,
		created:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}

	fw, err := fsnotify.NewWatcher()
	if err == nil {
		if err := fw.Add(dir); err == nil {
			w.fw = fw
			go w.collect()
		} else {
			fw.Close()
		}
	}

	return w, nil
}

// collect records Create and Write events until Close.
func (w *Watcher) collect() {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write) {
				w.mu.Lock()
				w.created[filepath.Base(ev.Name)] = struct{}{}
				w.mu.Unlock()
			}
		case _, ok := <-w.fw.Errors:
			if !ok {
				return
			}
		}
	}
}

// Close stops watching and returns the names of files that appeared since
// Watch, sorted.
func (w *Watcher) Close() []string {
	close(w.done)
	if w.fw != nil {
		w.fw.Close()
	}

	found := make(map[string]struct{})

	w.mu.Lock()
	for name := range w.created {
		if _, existed := w.baseline[name]; existed {
			continue
		}
		// Events also fire for directories and for files deleted again
		// before the invocation ended.
		info, err := os.Stat(filepath.Join(w.dir, name))
		if err != nil || info.IsDir() {
			continue
		}
		found[name] = struct{}{}
	}
	w.mu.Unlock()

	// Re-scan catches files written while the event watcher was unavailable.
	if current, err := scan(w.dir); err == nil {
		for name := range current {
			if _, existed := w.baseline[name]; !existed {
				found[name] = struct{}{}
			}
		}
	}

	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// scan lists the regular files directly under dir.
func scan(dir string) (map[string]struct{}, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	files := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		files[e.Name()] = struct{}{}
	}
	return files, nil
}
