// Package watcher turns file system activity under a project's roots into
// change-tracker updates.
//
// HybridWatcher watches with fsnotify and falls back to polling where
// fsnotify is unavailable (network mounts, some container volumes).
// Events are debounced into batches, filtered with the project's ignore
// policy, and applied by a Feed:
//
//	w, err := watcher.NewHybridWatcher(watcher.OptionsFromConfig(cfg, policy))
//	if err != nil {
//	    return err
//	}
//	defer w.Stop()
//
//	go func() { _ = w.Start(ctx, roots...) }()
//
//	feed := &watcher.Feed{ProjectID: p.ID, Changes: tracker, Schedule: schedule}
//	feed.Consume(ctx, w.Events(), w.Errors())
package watcher
