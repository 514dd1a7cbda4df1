package mcp

// SearchDocsInput defines the input schema for the search_docs tool.
type SearchDocsInput struct {
	Query string `json:"query" jsonschema:"the search query to execute"`
	Limit int    `json:"limit,omitempty" jsonschema:"maximum number of results, default 10"`
}

// SearchDocsOutput defines the output schema for the search_docs tool.
type SearchDocsOutput struct {
	Results []SearchResultOutput `json:"results" jsonschema:"list of search results"`
}

// SearchResultOutput is a single search result with its source location.
type SearchResultOutput struct {
	Path    string  `json:"path" jsonschema:"absolute path of the source document"`
	Title   string  `json:"title,omitempty" jsonschema:"document title"`
	Page    int     `json:"page,omitempty" jsonschema:"1-based page number for paginated formats"`
	Section string  `json:"section,omitempty" jsonschema:"nearest enclosing heading"`
	Content string  `json:"content" jsonschema:"matched text"`
	Score   float64 `json:"score" jsonschema:"relevance score between 0 and 1"`
}

// IndexPathsInput defines the input schema for the index_paths tool.
type IndexPathsInput struct {
	Paths []string `json:"paths" jsonschema:"files or directories to index, directories are walked recursively"`
}

// IndexPathsOutput defines the output schema for the index_paths tool.
type IndexPathsOutput struct {
	Indexed    int   `json:"indexed" jsonschema:"files parsed, embedded, and committed"`
	Skipped    int   `json:"skipped" jsonschema:"files unchanged, unsupported, or failed"`
	DurationMs int64 `json:"duration_ms" jsonschema:"wall clock duration in milliseconds"`
}

// RemovePathsInput defines the input schema for the remove_paths tool.
type RemovePathsInput struct {
	Paths []string `json:"paths" jsonschema:"files or directories to remove from the index"`
}

// RemovePathsOutput defines the output schema for the remove_paths tool.
type RemovePathsOutput struct {
	Removed int `json:"removed" jsonschema:"documents deleted from the index"`
}

// ClearIndexInput defines the input schema for the clear_index tool.
type ClearIndexInput struct{}

// ClearIndexOutput defines the output schema for the clear_index tool.
type ClearIndexOutput struct {
	Cleared bool `json:"cleared" jsonschema:"true when the index was emptied"`
}

// GetStatsInput defines the input schema for the get_stats tool.
type GetStatsInput struct{}

// GetStatsOutput defines the output schema for the get_stats tool.
type GetStatsOutput struct {
	DataDir        string            `json:"data_dir" jsonschema:"directory holding the index"`
	Documents      int               `json:"documents" jsonschema:"number of indexed documents"`
	Chunks         int               `json:"chunks" jsonschema:"number of indexed chunks"`
	Vectors        int               `json:"vectors" jsonschema:"number of stored vectors"`
	Health         string            `json:"health" jsonschema:"store health summary"`
	KeywordBackend string            `json:"keyword_backend" jsonschema:"active keyword index backend"`
	SizeBytes      int64             `json:"size_bytes" jsonschema:"total on-disk size of the index"`
	Embeddings     EmbeddingInfo     `json:"embeddings" jsonschema:"embedder configuration and live state"`
	Indexing       *IndexingProgress `json:"indexing,omitempty" jsonschema:"background indexing progress, absent when no run was started"`
}

// EmbeddingInfo reports the live embedder state. Clients use Degraded
// to decide how much to trust semantic ranking.
type EmbeddingInfo struct {
	Provider   string `json:"provider" jsonschema:"active embedding provider, service or static"`
	Model      string `json:"model" jsonschema:"active embedding model"`
	Dimensions int    `json:"dimensions" jsonschema:"embedding dimension"`
	Status     string `json:"status" jsonschema:"ready or unavailable"`
	Degraded   bool   `json:"degraded" jsonschema:"true when hash-based static embeddings are active"`
}

// IndexingProgress reports a background indexing run.
type IndexingProgress struct {
	Status         string  `json:"status" jsonschema:"idle, indexing, ready, or error"`
	Stage          string  `json:"stage,omitempty" jsonschema:"scanning, chunking, embedding, or indexing"`
	FilesTotal     int     `json:"files_total" jsonschema:"files discovered by the run"`
	FilesProcessed int     `json:"files_processed" jsonschema:"files completed so far"`
	ProgressPct    float64 `json:"progress_pct" jsonschema:"completion percentage"`
	ElapsedSeconds int     `json:"elapsed_seconds" jsonschema:"seconds since the run started"`
	Error          string  `json:"error,omitempty" jsonschema:"failure message when status is error"`
}
