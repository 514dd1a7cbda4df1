// Package preflight validates the host before the engine starts:
// free disk space, available memory, write access to the data
// directory, file descriptor limits, and the embedding sidecar.
//
// Checks are cheap and side-effect free, so commands run them on
// every cold start. A marker file in the data directory records a
// passing run and lets warm starts skip the work:
//
//	if preflight.NeedsCheck(dataDir) {
//		results := preflight.New().RunAll(ctx, dataDir)
//		if preflight.HasCriticalFailures(results) {
//			// refuse to start
//		}
//		_ = preflight.MarkPassed(dataDir)
//	}
package preflight
