package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"git.home.luguber.info/inful/focusguard/internal/logfields"
	"git.home.luguber.info/inful/focusguard/internal/schema"
)

// FileStore keeps all values in one JSON object file. Writes replace the file
// atomically. Other processes may write the same file; the change stream picks their
// writes up through filesystem notifications.
type FileStore struct {
	path string
	opts options

	mu     sync.Mutex
	closed bool

	watch     *fanout
	watchOnce sync.Once
	watchErr  error
	watcher   *fsnotify.Watcher
	watching  atomic.Bool

	seenMu   sync.Mutex
	lastSeen map[string]any
}

// NewFileStore opens (without creating) the store file at path.
func NewFileStore(path string, opts ...Option) (*FileStore, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve store path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	return &FileStore{path: abs, opts: applyOptions(opts), watch: newFanout()}, nil
}

// Path returns the absolute path of the store file.
func (f *FileStore) Path() string { return f.path }

func (f *FileStore) read() (map[string]any, error) {
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, unavailable("read store file", err)
	}
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var values map[string]any
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, corrupt("parse store file", err)
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, nil
}

// load reads the file for a caller that needs a usable map. A file that cannot be parsed
// is renamed aside and the store continues empty, so the next write replaces it.
func (f *FileStore) load() (map[string]any, error) {
	values, err := f.read()
	if err == nil || !errors.Is(err, ErrStoreCorrupt) {
		return values, err
	}
	aside := fmt.Sprintf("%s.corrupt-%s", f.path, time.Now().UTC().Format("20060102T150405.000000000"))
	if renameErr := os.Rename(f.path, aside); renameErr != nil {
		return nil, unavailable("move corrupt store file aside", renameErr)
	}
	f.opts.logger.Warn("Moved corrupt store file aside",
		logfields.Path(f.path),
		slog.String("moved_to", aside),
		logfields.Error(err))
	return map[string]any{}, nil
}

func (f *FileStore) write(values map[string]any) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return unavailable("encode store file", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(f.path), "."+filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return unavailable("create temporary store file", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return unavailable("write temporary store file", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return unavailable("close temporary store file", err)
	}
	if err := os.Rename(tmpPath, f.path); err != nil {
		_ = os.Remove(tmpPath)
		return unavailable("replace store file", err)
	}
	return nil
}

func (f *FileStore) GetAll(ctx context.Context) (schema.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil, ErrStoreClosed
	}
	values, err := f.load()
	if err != nil {
		return nil, err
	}
	return schema.Record(values), nil
}

func (f *FileStore) Get(ctx context.Context, keys []string) (schema.Record, error) {
	all, err := f.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(schema.Record, len(keys))
	for _, key := range keys {
		if v, ok := all[key]; ok {
			out[key] = v
		}
	}
	return out, nil
}

func (f *FileStore) Set(ctx context.Context, values schema.Record) error {
	for key, v := range values {
		if _, err := encodeValue(key, v); err != nil {
			return err
		}
	}
	return f.modify(func(current map[string]any) {
		for key, v := range values {
			current[key] = v
		}
	})
}

func (f *FileStore) Remove(ctx context.Context, keys []string) error {
	return f.modify(func(current map[string]any) {
		for _, key := range keys {
			delete(current, key)
		}
	})
}

func (f *FileStore) modify(apply func(map[string]any)) error {
	if err := f.modifyLocked(apply); err != nil {
		return err
	}
	f.refresh()
	return nil
}

func (f *FileStore) modifyLocked(apply func(map[string]any)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrStoreClosed
	}
	current, err := f.load()
	if err != nil {
		return err
	}
	apply(current)
	return f.write(current)
}

// Watch starts filesystem notifications on the store's directory on first use.
func (f *FileStore) Watch(ctx context.Context) (<-chan []Change, error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	if closed {
		return nil, ErrStoreClosed
	}
	f.watchOnce.Do(func() { f.watchErr = f.startWatcher() })
	if f.watchErr != nil {
		return nil, f.watchErr
	}
	return f.watch.subscribe(ctx)
}

func (f *FileStore) startWatcher() error {
	initial, err := f.read()
	if err != nil {
		initial = map[string]any{}
	}
	f.seenMu.Lock()
	f.lastSeen = initial
	f.seenMu.Unlock()

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return unavailable("create file watcher", err)
	}
	// The directory is watched rather than the file because atomic writes replace it.
	if err := w.Add(filepath.Dir(f.path)); err != nil {
		_ = w.Close()
		return unavailable("watch store directory", err)
	}
	f.mu.Lock()
	f.watcher = w
	f.mu.Unlock()
	f.watching.Store(true)
	go f.watchLoop(w)
	return nil
}

func (f *FileStore) watchLoop(w *fsnotify.Watcher) {
	name := filepath.Base(f.path)
	for {
		select {
		case event, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				f.refresh()
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			f.opts.logger.Warn("Store file watcher error", logfields.Path(f.path), logfields.Error(err))
		}
	}
}

// refresh re-reads the file and publishes whatever differs from the last read.
func (f *FileStore) refresh() {
	if !f.watching.Load() {
		return
	}

	f.seenMu.Lock()
	if info, err := os.Stat(f.path); err == nil && info.Size() == 0 {
		// Truncated by an in-place writer that has not written yet.
		f.seenMu.Unlock()
		return
	}
	next, err := f.read()
	if err != nil {
		f.seenMu.Unlock()
		// A half-written file from a non-atomic writer; the next event retries.
		f.opts.logger.Debug("Skipping unreadable store file", logfields.Path(f.path), logfields.Error(err))
		return
	}
	changes := diffSnapshots(f.lastSeen, next)
	f.lastSeen = next
	if len(changes) > 0 {
		f.watch.publish(changes)
	}
	f.seenMu.Unlock()

	if len(changes) > 0 {
		f.opts.logger.Debug("Store file changed", logfields.Path(f.path), slog.Int("changes", len(changes)))
	}
}

func (f *FileStore) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return nil
	}
	f.closed = true
	f.watching.Store(false)
	f.watch.close()
	if f.watcher != nil {
		return f.watcher.Close()
	}
	return nil
}
