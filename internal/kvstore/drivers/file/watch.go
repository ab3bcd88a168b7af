package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settle is how long Watch waits for a burst of events to finish. One Save
// rewrites several keys.
const settle = 50 * time.Millisecond

// Watch calls onChange whenever the file for key is written, replaced or
// removed, by this process or any other. Events arriving within a short window
// are coalesced into one call. It blocks until ctx is done.
func (s *Store) Watch(ctx context.Context, key string, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Atomic writes rename over the file, so watch the directory
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", s.dir, err)
	}

	pending := time.NewTimer(settle)
	pending.Stop()
	defer pending.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(evt.Name) != key {
				continue
			}
			logger.Debug("store file changed", "name", evt.Name, "op", evt.Op.String())
			pending.Reset(settle)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Error("file notification error", "error", err)

		case <-pending.C:
			onChange()
		}
	}
}
