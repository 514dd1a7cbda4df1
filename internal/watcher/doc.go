// Package watcher emits filesystem change events for watched document
// roots.
//
// The hybrid watcher prefers fsnotify and falls back to mtime polling
// when the platform cannot deliver native events (some network mounts
// and container volumes). Raw events pass through a debouncer that
// coalesces bursts per path, so a save that touches a file three times
// surfaces as one event. Batches arrive on Events(); consumers feed
// them to the sync engine.
//
// Paths matching .gitignore rules or the ignore patterns in Options are
// filtered out. Edits to .gitignore itself and to the .alicerag.yaml
// config file surface as dedicated operations so the consumer can
// reconcile the index instead of re-indexing a single file.
package watcher
