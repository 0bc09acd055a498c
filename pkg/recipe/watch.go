package recipe

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// DefaultWatchDelay is how long a watcher waits for changes to settle.
const DefaultWatchDelay = 300 * time.Millisecond

// Watcher calls a function whenever files under a set of recipe paths change.
type Watcher struct {
	delay  time.Duration
	logger zerolog.Logger
}

// NewWatcher creates a watcher. A zero delay uses DefaultWatchDelay.
func NewWatcher(delay time.Duration, logger zerolog.Logger) *Watcher {
	if delay <= 0 {
		delay = DefaultWatchDelay
	}
	return &Watcher{
		delay:  delay,
		logger: logger.With().Str("component", "recipe-watcher").Logger(),
	}
}

// Watch blocks until ctx is done, calling onChange once per burst of changes.
// Directories are watched recursively; directories created later are added.
// Errors from onChange are logged and watching continues.
func (w *Watcher) Watch(ctx context.Context, paths []string, onChange func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	for _, path := range paths {
		if err := addRecursive(watcher, path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
	}
	w.logger.Info().Strs("paths", paths).Msg("Watching recipes")

	fire := make(chan struct{}, 1)
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ignored(event.Name) {
				continue
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := addRecursive(watcher, event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch directory")
					}
				}
			}
			w.logger.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Recipe file changed")

			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.delay, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})

		case <-fire:
			if err := onChange(ctx); err != nil {
				w.logger.Error().Err(err).Msg("Reload failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("Watcher error")
		}
	}
}

func addRecursive(watcher *fsnotify.Watcher, root string) error {
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return watcher.Add(root)
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return watcher.Add(path)
		}
		return nil
	})
}

// ignored reports editor swap and hidden files.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, "~") || strings.HasSuffix(base, ".swp")
}
