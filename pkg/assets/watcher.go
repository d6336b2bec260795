package assets

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reports changes to library directories.
type Watcher struct {
	libraries []*Library
	logger    zerolog.Logger
	delay     time.Duration
	watcher   *fsnotify.Watcher
}

// NewWatcher creates a watcher over the given libraries. Change bursts within
// delay are reported once per library.
func NewWatcher(libraries []*Library, delay time.Duration, logger zerolog.Logger) *Watcher {
	if delay <= 0 {
		delay = 500 * time.Millisecond
	}
	return &Watcher{libraries: libraries, logger: logger, delay: delay}
}

// Watch blocks until ctx is done, calling onChange with a library ID after its
// files settle. Callbacks run one at a time on the calling goroutine; an error
// from onChange is logged and watching continues.
func (w *Watcher) Watch(ctx context.Context, onChange func(ctx context.Context, libraryID string) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	w.watcher = watcher
	defer watcher.Close()

	for _, lib := range w.libraries {
		if err := w.addTree(lib.Root); err != nil {
			return fmt.Errorf("watching library %s: %w", lib.ID, err)
		}
	}
	w.logger.Info().Int("libraries", len(w.libraries)).Msg("Started watching libraries")

	fire := make(chan string)
	timers := make(map[string]*time.Timer)
	defer func() {
		for _, t := range timers {
			t.Stop()
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
			lib := w.libraryFor(event.Name)
			if lib == nil || event.Op == fsnotify.Chmod {
				continue
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(event.Name); err != nil {
						w.logger.Warn().Err(err).Str("path", event.Name).Msg("Failed to watch new directory")
					}
				}
			}

			w.logger.Debug().Str("library", lib.ID).Str("file", event.Name).Str("op", event.Op.String()).Msg("Library file changed")

			id := lib.ID
			if t, ok := timers[id]; ok {
				t.Stop()
			}
			timers[id] = time.AfterFunc(w.delay, func() {
				select {
				case fire <- id:
				case <-ctx.Done():
				}
			})

		case id := <-fire:
			delete(timers, id)
			if err := onChange(ctx, id); err != nil {
				w.logger.Error().Err(err).Str("library", id).Msg("Library change handler failed")
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("Watcher error")
		}
	}
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && skipDirs[d.Name()] {
			return filepath.SkipDir
		}
		return w.watcher.Add(path)
	})
}

func (w *Watcher) libraryFor(path string) *Library {
	for _, lib := range w.libraries {
		root := filepath.Clean(lib.Root)
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return lib
		}
	}
	return nil
}
