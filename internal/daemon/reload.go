package daemon

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/logging"
)

// WatchConfig reloads path whenever it changes and hands valid configs to
// apply. The parent directory is watched so editor rename-and-replace saves
// are seen. Invalid configs are logged and skipped.
func WatchConfig(ctx context.Context, path string, log *zap.SugaredLogger, apply func(*config.Config)) (*fsnotify.Watcher, error) {
	log = logging.OrNop(log)
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("watching %s: %w", dir, err)
	}

	name := filepath.Clean(path)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name || !ev.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, err := config.Load(path)
				if err != nil {
					log.Warnf("config change ignored: %v", err)
					continue
				}
				log.Infof("config %s changed, applying at next cycle", path)
				apply(cfg)
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Warnf("config watcher: %v", err)
			}
		}
	}()
	return w, nil
}
