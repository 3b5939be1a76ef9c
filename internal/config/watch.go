package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/MJE43/arcade-scoregate/internal/anticheat"
)

// RulesWatcher reloads the anticheat section of a config file whenever the
// file changes and publishes it to an AtomicRules. Other sections are only
// read at startup.
type RulesWatcher struct {
	path    string
	target  *anticheat.AtomicRules
	logger  *log.Logger
	watcher *fsnotify.Watcher
	// reloaded is signalled after every reload attempt; used by tests.
	reloaded chan error
}

// NewRulesWatcher watches the directory holding path, since editors often
// replace files by rename rather than writing in place.
func NewRulesWatcher(path string, target *anticheat.AtomicRules, logger *log.Logger) (*RulesWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating file watcher: %w", err)
	}
	if err := w.Add(filepath.Dir(abs)); err != nil {
		w.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(abs), err)
	}
	return &RulesWatcher{path: abs, target: target, logger: logger, watcher: w}, nil
}

// Run processes file events until ctx is cancelled.
func (w *RulesWatcher) Run(ctx context.Context) error {
	defer w.watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			err := w.reload()
			if err != nil {
				w.logger.Printf("anticheat rules reload failed path=%s err=%v", w.path, err)
			}
			if w.reloaded != nil {
				w.reloaded <- err
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Printf("config watcher error: %v", err)
		}
	}
}

func (w *RulesWatcher) reload() error {
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	if err := cfg.AntiCheat.Validate(); err != nil {
		return err
	}
	w.target.Store(cfg.AntiCheat)
	w.logger.Printf("anticheat rules reloaded %s", cfg.AntiCheat)
	return nil
}
