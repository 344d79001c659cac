package shm

import (
	"context"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WaitForSegment blocks until the named segment exists or ctx is done.
// A consumer that starts before its producer uses this instead of failing:
// per the channel lifecycle contract, an absent channel means "not yet
// available", never "error".
//
// Creation is detected through an fsnotify watch on the shared memory
// directory, with a slow poll as fallback in case the create event raced
// the watch registration.
func WaitForSegment(ctx context.Context, name string) error {
	path := Path(name)
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		// No inotify available; fall back to polling only.
		return pollForSegment(ctx, path)
	}
	defer watcher.Close()
	if err := watcher.Add(Dir); err != nil {
		return pollForSegment(ctx, path)
	}

	// Re-check after the watch is in place to close the startup race.
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return pollForSegment(ctx, path)
			}
			if event.Name == path && event.Op&fsnotify.Create == fsnotify.Create {
				return nil
			}
		case <-watcher.Errors:
			// Watcher errors are not fatal, the ticker still covers us.
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func pollForSegment(ctx context.Context, path string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := os.Stat(path); err == nil {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
