package files

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
)

const defaultDebounce = 400 * time.Millisecond

// InboxWatcher watches drop directories for spreadsheets and hands each
// settled .xlsx file to a callback. Writes are debounced so a workbook being
// copied in is only picked up once it stops changing.
type InboxWatcher struct {
	roots     []string
	recursive bool
	onFile    func(path string)
	debounce  time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	pending  map[string]*time.Timer
	started  bool
	done     chan struct{}
	stopOnce sync.Once
}

// NewInboxWatcher creates a watcher over roots. onFile is called with the
// path of each new or rewritten .xlsx file.
func NewInboxWatcher(roots []string, recursive bool, onFile func(path string), logger *zap.Logger) *InboxWatcher {
	return &InboxWatcher{
		roots:     roots,
		recursive: recursive,
		onFile:    onFile,
		debounce:  defaultDebounce,
		logger:    logger,
		pending:   make(map[string]*time.Timer),
		done:      make(chan struct{}),
	}
}

// Start begins watching. It runs until ctx is cancelled or Stop is called.
// Missing roots are created.
func (w *InboxWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.mu.Unlock()
		return err
	}
	w.watcher = watcher
	w.started = true
	for _, root := range w.roots {
		if err := w.addRootLocked(root); err != nil {
			_ = w.watcher.Close()
			w.watcher = nil
			w.started = false
			w.mu.Unlock()
			return err
		}
	}
	w.mu.Unlock()

	w.logger.Info("inbox watcher started",
		zap.Strings("roots", w.roots), zap.Bool("recursive", w.recursive))
	go w.run(ctx)
	return nil
}

func (w *InboxWatcher) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Debug("inbox watcher error", zap.Error(err))
			}
		}
	}
}

func (w *InboxWatcher) handleEvent(ev fsnotify.Event) {
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			if w.recursive {
				w.watchSubtree(ev.Name)
			}
			return
		}
		if isSpreadsheet(ev.Name) {
			w.schedule(ev.Name)
		}
	case fsnotify.Remove, fsnotify.Rename:
		w.cancel(ev.Name)
	}
}

// schedule arms (or re-arms) the debounce timer for path.
func (w *InboxWatcher) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.logger.Debug("inbox file settled", zap.String("path", path))
		if w.onFile != nil {
			w.onFile(path)
		}
	})
}

func (w *InboxWatcher) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
}

func (w *InboxWatcher) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	if !w.recursive {
		return w.watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.watcher.Add(path)
		}
		return nil
	})
}

func (w *InboxWatcher) watchSubtree(dir string) {
	w.mu.Lock()
	watcher := w.watcher
	w.mu.Unlock()
	if watcher == nil {
		return
	}
	filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if err := watcher.Add(path); err != nil {
				w.logger.Debug("inbox watcher failed to add directory",
					zap.String("path", path), zap.Error(err))
			}
		}
		return nil
	})
}

// SyncExisting hands every spreadsheet already present under the roots to
// the callback. Call after Start to pick up files dropped while the process
// was down.
func (w *InboxWatcher) SyncExisting() {
	w.mu.Lock()
	roots := append([]string(nil), w.roots...)
	onFile := w.onFile
	w.mu.Unlock()
	for _, root := range roots {
		filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() {
				return err
			}
			if isSpreadsheet(path) && onFile != nil {
				onFile(path)
			}
			return nil
		})
	}
}

// Stop stops the watcher and drops any pending timers.
func (w *InboxWatcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}

func isSpreadsheet(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".xlsx") &&
		!strings.HasPrefix(filepath.Base(path), "~$") // Excel lock files
}
