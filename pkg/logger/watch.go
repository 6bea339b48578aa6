package logger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// reloadDebounce batches the burst of events editors emit for a single save
const reloadDebounce = 200 * time.Millisecond

// WatchLevel re-applies LOG_LEVEL from envFile whenever the file changes.
// It blocks until ctx is done. A missing file is not an error: there is nothing to watch.
func WatchLevel(ctx context.Context, envFile string) error {
	abs, err := filepath.Abs(envFile)
	if err != nil {
		return fmt.Errorf("resolve env file: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		GetLogger().Debug("Env file not present, log level watcher disabled", zap.String("path", abs))
		return nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: editors often replace the file instead of writing it in place
	if err := w.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	var timer *time.Timer
	reload := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != abs || !ev.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				select {
				case reload <- struct{}{}:
				default:
				}
			})
		case <-reload:
			applyLevelFrom(abs)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			GetLogger().Warn("Log level watcher error", zap.Error(err))
		}
	}
}

func applyLevelFrom(path string) {
	values, err := godotenv.Read(path)
	if err != nil {
		GetLogger().Warn("Failed to re-read env file", zap.String("path", path), zap.Error(err))
		return
	}
	raw, ok := values["LOG_LEVEL"]
	if !ok {
		return
	}
	next := ParseLevel(raw)
	if next == Level() {
		return
	}
	SetLevel(next)
	GetLogger().Info("Log level changed", zap.String("level", next.String()))
}
