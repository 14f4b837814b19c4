// Package watcher reloads the knowledge base when its dataset file changes.
//
// A FileWatcher watches the dataset's parent directory with fsnotify, so
// editors that save by rename are still seen, and falls back to polling when
// fsnotify cannot be initialized. Events are debounced so a burst of writes
// triggers one reload. A Reloader consumes the batches, re-seeds the store
// and then clears the result cache.
//
// Usage:
//
//	w, err := watcher.NewFileWatcher(watcher.DefaultOptions())
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//	go w.Start(ctx, "knowledge.yaml")
//
//	r := watcher.NewReloader(w, reseed, engine)
//	r.Run(ctx)
package watcher
