package file_store

import (
	"context"
	"log"
	"os"

	"github.com/fsnotify/fsnotify"
)

/*
Watch reports every change to the storage directory, including those made
through the store itself; callers that only care about outside edits (files
copied in by hand) have to filter. Bursts of events collapse into a single
pending signal on the returned channel, which is closed once ctx is cancelled.
The directory is created if it does not exist yet.
*/
func (fs *Store) Watch(ctx context.Context) (<-chan struct{}, error) {

	if err := os.MkdirAll(fs.dir, 0755); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	if err := watcher.Add(fs.dir); err != nil {
		watcher.Close()
		return nil, err
	}

	changed := make(chan struct{}, 1)

	go func() {

		defer close(changed)
		defer watcher.Close()

		for {

			select {

			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:

				if !ok {
					return
				}

				if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}

				select {
				case changed <- struct{}{}:
				default:
				}

			case err, ok := <-watcher.Errors:

				if !ok {
					return
				}

				log.Printf("\nStorage watch error: %v\n", err)

			}

		}

	}()

	return changed, nil
}
