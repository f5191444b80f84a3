package monitor

import (
	"context"
	"errors"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// watchTargets expands the scan paths into every nested directory, since
// fsnotify watches are non-recursive. Unwalkable entries are logged and
// skipped, like the static scan does.
func (m *Monitor) watchTargets() []string {
	var dirs []string
	for _, root := range m.scanPaths {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				m.log.Warn("cannot watch path", zap.String("path", path), zap.Error(err))
				return nil
			}
			if !d.IsDir() {
				return nil
			}
			name := d.Name()
			if name == ".git" || name == "vendor" || name == "node_modules" {
				return filepath.SkipDir
			}
			dirs = append(dirs, path)
			return nil
		})
		if err != nil {
			m.log.Warn("cannot watch path", zap.String("path", root), zap.Error(err))
		}
	}
	return dirs
}

// Watch runs an early cycle whenever source files under the scan paths
// change, debounced so a burst of saves triggers one cycle. It runs until
// the context is cancelled and complements, not replaces, the fixed
// interval loop.
func (m *Monitor) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	for _, dir := range m.watchTargets() {
		if err := watcher.Add(dir); err != nil {
			m.log.Warn("cannot watch path", zap.String("path", dir), zap.Error(err))
		}
	}

	var debounce *time.Timer
	trigger := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			ext := filepath.Ext(ev.Name)
			if ext != ".go" && ext != ".sql" {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(2*time.Second, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.log.Warn("watcher error", zap.Error(err))
		case <-trigger:
			m.log.Info("source change detected, running early cycle")
			if _, err := m.RunCycle(ctx); err != nil && !errors.Is(err, ErrCycleInProgress) {
				m.log.Error("early cycle failed", zap.Error(err))
			}
		}
	}
}
