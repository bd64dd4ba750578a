// Package watcher imports capture files dropped into watched directories, using
// fsnotify with per-file debouncing.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/atsume/internal/fetch"
	"github.com/hyperjump/atsume/internal/pipeline"
)

const defaultDebounce = 400 * time.Millisecond

// Importer replays one capture file into the store.
type Importer interface {
	Import(ctx context.Context, path, modelID string) (*pipeline.RunReport, error)
}

// Watcher watches drop directories and imports capture files as they settle.
// A file placed in a direct subdirectory of a root is attributed to the model named
// by that subdirectory, e.g. <root>/12345/page-1.json.
type Watcher struct {
	roots      []string
	extensions []string
	importer   Importer
	debounce   time.Duration
	onImport   func(path string, rep *pipeline.RunReport, err error)
	logger     *zap.Logger

	mu       sync.Mutex
	fsw      *fsnotify.Watcher
	ctx      context.Context
	pending  map[string]*time.Timer
	imported map[string]time.Time // path -> mod time of the last import
	done     chan struct{}
	started  bool
	stopOnce sync.Once

	importMu sync.Mutex
	inflight sync.WaitGroup
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is imported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) { w.debounce = d }
}

// OnImport registers a callback run after every import attempt.
func OnImport(fn func(path string, rep *pipeline.RunReport, err error)) Option {
	return func(w *Watcher) { w.onImport = fn }
}

// New returns a watcher over roots. extensions filters candidate files; empty means
// every replayable capture type.
func New(roots, extensions []string, importer Importer, opts ...Option) *Watcher {
	w := &Watcher{
		extensions: extensions,
		importer:   importer,
		debounce:   defaultDebounce,
		logger:     zap.NewNop(),
		pending:    make(map[string]*time.Timer),
		imported:   make(map[string]time.Time),
		done:       make(chan struct{}),
	}
	for _, r := range roots {
		if abs, err := filepath.Abs(r); err == nil {
			w.roots = append(w.roots, filepath.Clean(abs))
		}
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start creates missing roots, begins watching and returns. Imports run until ctx is
// cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.fsw = fsw
	for _, root := range w.roots {
		if err := w.addTreeLocked(root, true); err != nil {
			_ = fsw.Close()
			w.fsw = nil
			return err
		}
	}
	w.ctx = ctx
	w.started = true
	w.logger.Info("watching drop directories", zap.Strings("roots", w.roots), zap.Strings("extensions", w.extensions))
	go w.run(ctx, fsw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if w.rootOf(path) == "" {
		return
	}
	w.logger.Debug("watch event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			w.mu.Lock()
			if w.fsw != nil {
				if err := w.addTreeLocked(path, false); err != nil {
					w.logger.Warn("failed to watch new directory", zap.String("path", path), zap.Error(err))
				}
			}
			w.mu.Unlock()
			w.syncDirectory(path)
			return
		}
		if w.accepts(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.mu.Lock()
		if t, ok := w.pending[path]; ok {
			t.Stop()
			delete(w.pending, path)
		}
		delete(w.imported, path)
		w.mu.Unlock()
	}
}

// addTreeLocked watches dir and its subdirectories. create makes dir when missing.
func (w *Watcher) addTreeLocked(dir string, create bool) error {
	if create {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

// rootOf returns the watched root containing path, or "".
func (w *Watcher) rootOf(path string) string {
	clean := filepath.Clean(path)
	for _, root := range w.roots {
		if root == clean || inDir(root, clean) {
			return root
		}
	}
	return ""
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (w *Watcher) accepts(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") || !fetch.IsCapture(path) {
		return false
	}
	return matchExtension(path, w.extensions)
}

func matchExtension(path string, extensions []string) bool {
	if len(extensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	for _, e := range extensions {
		if strings.TrimPrefix(strings.ToLower(e), ".") == ext {
			return true
		}
	}
	return false
}

// ModelIDFor returns the model a dropped file belongs to: the name of the direct
// subdirectory of root holding it, or "" for files directly in root or deeper.
func ModelIDFor(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return ""
	}
	parts := strings.Split(filepath.ToSlash(rel), "/")
	if len(parts) != 2 || parts[0] == ".." {
		return ""
	}
	return parts[0]
}

// schedule imports path once it has been quiet for the debounce interval.
func (w *Watcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return
	}
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.importFile(path)
	})
}

// importFile imports path unless an unchanged copy was already imported. Imports are
// serialized so the store sees one writer.
func (w *Watcher) importFile(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return
	}
	w.mu.Lock()
	ctx := w.ctx
	if !w.started || ctx == nil {
		w.mu.Unlock()
		return
	}
	if last, ok := w.imported[path]; ok && last.Equal(info.ModTime()) {
		w.mu.Unlock()
		return
	}
	w.inflight.Add(1)
	w.mu.Unlock()
	defer w.inflight.Done()

	w.importMu.Lock()
	defer w.importMu.Unlock()
	if ctx.Err() != nil {
		return
	}
	modelID := ModelIDFor(w.rootOf(path), path)
	rep, err := w.importer.Import(ctx, path, modelID)
	if err != nil {
		w.logger.Warn("capture import failed", zap.String("path", path), zap.Error(err))
	} else {
		w.mu.Lock()
		w.imported[path] = info.ModTime()
		w.mu.Unlock()
		w.logger.Info("capture imported",
			zap.String("path", path),
			zap.String("model_id", modelID),
			zap.Int("stored", rep.Stored),
			zap.Int("new", rep.New))
	}
	if w.onImport != nil {
		w.onImport(path, rep, err)
	}
}

func (w *Watcher) syncDirectory(root string) {
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if w.accepts(path) {
			w.importFile(path)
		}
		return nil
	})
}

// SyncExisting imports every capture already present under the roots. Call it after
// Start to pick up files dropped while the watcher was down.
func (w *Watcher) SyncExisting() {
	for _, root := range w.roots {
		w.syncDirectory(root)
	}
}

// Directories returns the watched roots.
func (w *Watcher) Directories() []string {
	return append([]string(nil), w.roots...)
}

// Stop stops watching, cancels pending imports and waits for a running import to end.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.fsw.Close()
	w.fsw = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
	w.inflight.Wait()
}
