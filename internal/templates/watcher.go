package templates

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/refineflow/orchestrator/internal/metrics"
)

// Watcher reloads a template directory into a Composer when files change.
// A directory that fails to load leaves the previous templates active.
type Watcher struct {
	dir      string
	composer *Composer
	logger   *zap.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	mu      sync.Mutex
	started bool
	done    chan struct{}
}

// NewWatcher creates a watcher for dir. Call Start to begin watching.
func NewWatcher(dir string, composer *Composer, logger *zap.Logger) (*Watcher, error) {
	if dir == "" {
		return nil, fmt.Errorf("template directory cannot be empty")
	}
	if composer == nil {
		return nil, fmt.Errorf("composer cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		dir:      dir,
		composer: composer,
		logger:   logger,
		debounce: 200 * time.Millisecond,
		watcher:  fw,
		done:     make(chan struct{}),
	}, nil
}

// Start watches the directory until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return fmt.Errorf("failed to watch template directory: %w", err)
	}
	w.started = true
	go w.watchLoop(ctx)

	w.logger.Info("Template watcher started", zap.String("template_dir", w.dir))
	return nil
}

// Stop closes the underlying watcher and waits for the loop to exit.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	started := w.started
	w.started = false
	w.mu.Unlock()

	err := w.watcher.Close()
	if started {
		<-w.done
	}
	return err
}

// Reload loads the directory and swaps it into the composer.
func (w *Watcher) Reload() error {
	reg, err := LoadRegistry(w.dir)
	if err == nil {
		err = w.composer.Swap(reg)
	}
	if err != nil {
		metrics.TemplateReloads.WithLabelValues("error").Inc()
		w.logger.Error("Template reload failed, keeping previous templates",
			zap.String("template_dir", w.dir),
			zap.Error(err),
		)
		return err
	}
	metrics.TemplateReloads.WithLabelValues("ok").Inc()
	w.logger.Info("Templates reloaded", zap.String("template_dir", w.dir), zap.Int("templates", len(reg.Entries())))
	return nil
}

func (w *Watcher) watchLoop(ctx context.Context) {
	defer close(w.done)

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isYAML(filepath.Base(event.Name)) {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Template file changed",
				zap.String("file", event.Name),
				zap.String("op", event.Op.String()),
			)
			pending = time.After(w.debounce)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("Template watcher error", zap.Error(err))
		case <-pending:
			pending = nil
			_ = w.Reload()
		}
	}
}
