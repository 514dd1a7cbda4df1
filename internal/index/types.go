// Package index implements the sync engine: incremental indexing of
// files and directories into the metadata store, keyword index, and
// vector index, plus removal, clearing, and cross-store consistency
// checking. The metadata store is the source of truth; the vector
// index is rebuilt from it after every batch mutation.
package index

// Report is the outcome of one IndexPaths run.
type Report struct {
	// Indexed counts files that were parsed, embedded, and committed.
	Indexed int

	// Skipped counts files that were unchanged, unsupported,
	// oversized, or failed to process.
	Skipped int
}

// RemoveReport is the outcome of one RemovePaths run.
type RemoveReport struct {
	// Removed counts documents deleted from the store.
	Removed int
}

// Stage identifies a sync pipeline phase for progress reporting.
type Stage string

const (
	StageScanning  Stage = "scanning"
	StageChunking  Stage = "chunking"
	StageEmbedding Stage = "embedding"
	StageIndexing  Stage = "indexing"
)

// ProgressEvent is one progress update from a sync run.
type ProgressEvent struct {
	Stage   Stage
	Current int
	Total   int
	Path    string
}

// Reporter receives progress updates. Updates fire from the indexing
// loop, so implementations must be cheap and must not block.
type Reporter interface {
	Update(ev ProgressEvent)
}

type noopReporter struct{}

func (noopReporter) Update(ProgressEvent) {}
