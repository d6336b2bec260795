package assets

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestWatcherReportsLibraryChanges(t *testing.T) {
	lib := &Library{ID: "core", Root: t.TempDir()}
	w := NewWatcher([]*Library{lib}, 20*time.Millisecond, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changed := make(chan string, 1)
	done := make(chan error, 1)
	go func() {
		done <- w.Watch(ctx, func(_ context.Context, id string) error {
			select {
			case changed <- id:
			default:
			}
			return nil
		})
	}()

	// Keep writing until the watcher has registered and fired.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case id := <-changed:
			require.Equal(t, "core", id)
			cancel()
			require.NoError(t, <-done)
			return
		case <-ticker.C:
			writeFile(t, lib.Root, "doc.md", time.Now().String())
		case <-ctx.Done():
			t.Fatal("watcher did not report the change")
		}
	}
}
