// Package rag is the engine facade: one struct that owns every storage
// and index handle over a data directory and exposes the retrieval API
// the CLI and the MCP server are built on.
//
// The engine is single-writer. Across processes a flock lock file in
// the data directory makes a second engine fail fast at initialization;
// within the process, mutating operations run behind an exclusive lock
// and queries behind a shared one.
package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pmbstyle/alicerag/internal/chunk"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/embed"
	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/index"
	"github.com/pmbstyle/alicerag/internal/parse"
	"github.com/pmbstyle/alicerag/internal/scanner"
	"github.com/pmbstyle/alicerag/internal/search"
	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/telemetry"
)

// Engine ties the metadata store, vector index, keyword index, sync
// engine, and retriever together over one data directory.
type Engine struct {
	cfg      *config.Config
	dataDir  string
	embedder embed.Embedder
	metrics  *telemetry.QueryMetrics
	reporter index.Reporter

	mu             sync.RWMutex
	initialized    bool
	ownMetrics     bool
	lock           *store.WriterLock
	meta           *store.SQLiteStore
	vectors        *store.VectorIndex
	keyword        store.KeywordIndex
	keywordBackend string
	syncer         *index.Syncer
	retriever      *search.Retriever
	checker        *index.Checker
}

// Option configures the engine.
type Option func(*Engine)

// WithMetrics attaches a query telemetry collector. Every search is
// recorded on it; the collector stays owned by the caller.
func WithMetrics(m *telemetry.QueryMetrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithReporter attaches a progress reporter for indexing runs.
func WithReporter(r index.Reporter) Option {
	return func(e *Engine) {
		e.reporter = r
	}
}

// New creates an engine over the configured data directory. Nothing is
// opened until InitializeStore. The embedder is injected so the caller
// decides the provider and owns its lifecycle.
func New(cfg *config.Config, embedder embed.Embedder, opts ...Option) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}

	dataDir := cfg.DataDir
	if dataDir == "" {
		dataDir = config.DefaultDataDir()
	}

	e := &Engine{
		cfg:      cfg,
		dataDir:  dataDir,
		embedder: embedder,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// DataDir returns the engine's data directory.
func (e *Engine) DataDir() string {
	return e.dataDir
}

// InitializeStore opens the data directory and every handle over it:
// writer lock, metadata database, keyword index, and vector index.
// Idempotent; a second call returns nil. Fails without touching
// anything further when another process holds the lock or the store
// was built with a different embedding dimension.
func (e *Engine) InitializeStore(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return nil
	}

	if err := store.EnsureDataDir(e.dataDir); err != nil {
		return alerrors.New(alerrors.ErrCodeDataDir, "failed to create data directory", err)
	}

	lock := store.NewWriterLock(e.dataDir)
	acquired, err := lock.TryLock()
	if err != nil {
		return alerrors.New(alerrors.ErrCodeDataDir, "failed to acquire writer lock", err)
	}
	if !acquired {
		return alerrors.New(alerrors.ErrCodeStoreLocked,
			"data directory is locked by another process", nil).
			WithDetail("lock_file", lock.Path()).
			WithSuggestion("stop the other alicerag process, or point data_dir at a separate directory")
	}

	meta, err := store.NewSQLiteStore(e.dataDir, e.cfg.Search.ExtraStopwords)
	if err != nil {
		_ = lock.Unlock()
		return err
	}

	if err := checkEmbeddingIdentity(ctx, meta, e.embedder); err != nil {
		_ = meta.Close()
		_ = lock.Unlock()
		return err
	}

	backend := e.cfg.Search.KeywordBackend
	if backend == "" {
		backend = store.DetectKeywordBackend(e.dataDir)
	}
	keyword, err := store.NewKeywordIndex(backend, meta, e.dataDir, e.cfg.Search.ExtraStopwords)
	if err != nil {
		_ = meta.Close()
		_ = lock.Unlock()
		return err
	}

	vectors := store.NewVectorIndex(e.dataDir, store.DefaultVectorIndexConfig(e.embedder.Dimensions()))
	if err := vectors.Initialize(ctx, meta); err != nil {
		_ = keyword.Close()
		_ = meta.Close()
		_ = lock.Unlock()
		return err
	}

	parsers := parse.NewRegistryWithOptions(parse.RegistryOptions{
		ParseTimeout: config.DurationOr(e.cfg.Sync.ParseTimeout, parse.DefaultParseTimeout),
	})

	syncer, err := index.New(index.Config{
		Metadata: meta,
		Vectors:  vectors,
		Keyword:  keyword,
		Embedder: e.embedder,
		Parsers:  parsers,
		Chunking: chunk.Options{
			MaxTokens:        e.cfg.Chunking.MaxTokens,
			OverlapTokens:    e.cfg.Chunking.OverlapTokens,
			PageOverlapChars: e.cfg.Chunking.PageOverlapChars,
		},
		MaxFileSize:      e.cfg.MaxFileSizeBytes(),
		ExcludePatterns:  e.cfg.Paths.Exclude,
		RespectGitignore: true,
		Reporter:         e.reporter,
	})
	if err != nil {
		_ = keyword.Close()
		_ = meta.Close()
		_ = lock.Unlock()
		return err
	}

	e.lock = lock
	e.meta = meta
	e.vectors = vectors
	e.keyword = keyword
	e.keywordBackend = backend
	e.syncer = syncer
	e.retriever = search.NewRetriever(meta, vectors, keyword,
		search.WithRRFConstant(e.cfg.Search.RRFConstant))
	e.checker = index.NewChecker(meta, vectors, keyword)
	e.initialized = true

	slog.Info("engine_initialized",
		"data_dir", e.dataDir,
		"keyword_backend", backend,
		"embedding_model", e.embedder.ModelName(),
		"dimensions", e.embedder.Dimensions())
	return nil
}

// checkEmbeddingIdentity compares the store's recorded embedding
// identity with the configured embedder. A dimension change makes
// every stored vector unusable, so it is an error; a model change at
// the same dimension is allowed with a warning, since the index shape
// still works even though old and new vectors should not be mixed for
// long.
func checkEmbeddingIdentity(ctx context.Context, meta *store.SQLiteStore, embedder embed.Embedder) error {
	dims := embedder.Dimensions()
	model := embedder.ModelName()

	storedDim, err := meta.GetState(ctx, store.StateKeyEmbeddingDim)
	if err != nil {
		return err
	}
	storedModel, err := meta.GetState(ctx, store.StateKeyEmbeddingModel)
	if err != nil {
		return err
	}

	writeIdentity := func() error {
		if err := meta.SetState(ctx, store.StateKeyEmbeddingDim, strconv.Itoa(dims)); err != nil {
			return err
		}
		return meta.SetState(ctx, store.StateKeyEmbeddingModel, model)
	}

	if storedDim == "" {
		return writeIdentity()
	}

	prev, err := strconv.Atoi(storedDim)
	if err != nil {
		slog.Warn("embedding_state_unreadable", "stored", storedDim)
		return writeIdentity()
	}

	if prev != dims {
		return alerrors.New(alerrors.ErrCodeDimensionMismatch,
			fmt.Sprintf("index was built with %d-dimensional embeddings, the configured embedder produces %d", prev, dims), nil).
			WithDetail("stored_model", storedModel).
			WithDetail("current_model", model).
			WithSuggestion("run 'alicerag clear' and re-index, or restore the previous embeddings configuration")
	}

	if storedModel != model {
		slog.Warn("embedding_model_changed", "stored", storedModel, "current", model)
		return meta.SetState(ctx, store.StateKeyEmbeddingModel, model)
	}
	return nil
}

// IndexOptions controls an IndexPaths call.
type IndexOptions struct {
	// Recursive walks directories all the way down instead of only
	// their first level.
	Recursive bool
}

// IndexPaths incrementally indexes the given files and directories:
// new and changed files are parsed, chunked, embedded, and stored;
// unchanged files are skipped; files that vanished from under the
// targets are pruned. Per-file failures are counted, not fatal.
func (e *Engine) IndexPaths(ctx context.Context, paths []string, opts IndexOptions) (*index.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.syncer.IndexPaths(ctx, paths, opts.Recursive)
}

// RemovePaths drops every indexed document at or under the given paths
// from the store and both indices. Files on disk are untouched.
func (e *Engine) RemovePaths(ctx context.Context, paths []string) (*index.RemoveReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.syncer.RemovePaths(ctx, paths)
}

// Reconcile re-syncs the given roots against a fresh recursive scan:
// documents that became ignored or excluded leave the index, files
// that became visible enter it. Watch mode calls this when .gitignore
// or the config file changes.
func (e *Engine) Reconcile(ctx context.Context, paths []string) (*index.ReconcileReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.syncer.Reconcile(ctx, paths, true)
}

// ReconcileOnStartup reconciles the roots only when the ignore rules
// changed since the last completed sync. Returns nil when nothing
// changed.
func (e *Engine) ReconcileOnStartup(ctx context.Context, paths []string) (*index.ReconcileReport, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.syncer.ReconcileOnStartup(ctx, paths, true)
}

// Search runs hybrid retrieval. A request with text but no vector gets
// the text embedded when the embedding service is available; an embed
// failure degrades the query to keyword-only instead of failing it.
func (e *Engine) Search(ctx context.Context, req search.Request) ([]*search.Result, error) {
	start := time.Now()

	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}

	if req.TopK <= 0 {
		req.TopK = e.cfg.Search.TopK
	}

	text := strings.TrimSpace(req.Text)
	if !req.KeywordOnly && len(req.Vector) == 0 && text != "" && e.embedder.Available(ctx) {
		vec, err := e.embedder.Embed(ctx, text)
		if err != nil {
			slog.Warn("query_embed_failed", "error", err)
		} else {
			req.Vector = vec
		}
	}

	results, err := e.retriever.Search(ctx, req)
	if err != nil {
		return nil, err
	}

	if e.metrics != nil {
		e.metrics.Record(telemetry.QueryEvent{
			Query:       text,
			Type:        telemetry.Classify(len(req.Vector) > 0, text != ""),
			ResultCount: len(results),
			Latency:     time.Since(start),
			Timestamp:   time.Now(),
		})
	}
	return results, nil
}

// Clear empties the document tables and both indices. The embedding
// identity state survives, so the store stays bound to its embedder.
func (e *Engine) Clear(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.syncer.Clear(ctx)
}

// Stats returns a point-in-time summary of the store.
func (e *Engine) Stats(ctx context.Context) (*store.StoreInfo, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return store.CollectInfo(ctx, e.meta, e.vectors, e.dataDir, e.keywordBackend)
}

// Documents lists every indexed document ordered by path.
func (e *Engine) Documents(ctx context.Context) ([]*store.Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.meta.ListDocuments(ctx)
}

// DocumentByPath returns the indexed document for an absolute path, or
// nil when the path is not indexed.
func (e *Engine) DocumentByPath(ctx context.Context, path string) (*store.Document, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.meta.GetDocumentByPath(ctx, path)
}

// DocumentChunks returns one document's chunks in chunk order.
func (e *Engine) DocumentChunks(ctx context.Context, docID int64) ([]*store.ChunkDetail, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	ids, err := e.meta.ChunkIDsByDoc(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	return e.meta.GetChunksByIDs(ctx, ids)
}

// Check audits store and index consistency without mutating anything.
func (e *Engine) Check(ctx context.Context) (*index.CheckResult, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	return e.checker.Check(ctx)
}

// Repair fixes the repairable issues found by Check.
func (e *Engine) Repair(ctx context.Context, issues []index.Issue) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return err
	}
	return e.checker.Repair(ctx, issues)
}

// Compact reclaims metadata database space and rebuilds the vector
// index from the stored embeddings.
func (e *Engine) Compact(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return err
	}
	if err := e.meta.Compact(ctx); err != nil {
		return err
	}
	return e.vectors.RebuildFromStore(ctx, e.meta)
}

// EnableQueryMetrics builds a query telemetry collector persisted in
// the metadata database and attaches it to the engine. Call after
// InitializeStore. The collector is owned by the engine and flushed on
// Close. Callers that want a private collector pass WithMetrics at
// construction instead; with one already attached this returns it.
func (e *Engine) EnableQueryMetrics() (*telemetry.QueryMetrics, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.requireInitialized(); err != nil {
		return nil, err
	}
	if e.metrics != nil {
		return e.metrics, nil
	}

	ts, err := telemetry.NewSQLiteStore(e.meta.DB())
	if err != nil {
		return nil, err
	}
	e.metrics = telemetry.NewQueryMetrics(ts)
	e.ownMetrics = true
	return e.metrics, nil
}

// Scanner returns the sync engine's file scanner, so watch mode can
// invalidate its gitignore cache. Nil before initialization.
func (e *Engine) Scanner() *scanner.Scanner {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.syncer == nil {
		return nil
	}
	return e.syncer.Scanner()
}

// Close releases every handle the engine opened and the writer lock,
// including a collector from EnableQueryMetrics. The injected embedder
// and a WithMetrics collector stay with their creators. Safe to call
// more than once.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return nil
	}
	e.initialized = false

	var errs []error
	if e.ownMetrics && e.metrics != nil {
		if err := e.metrics.Close(); err != nil {
			errs = append(errs, err)
		}
		e.metrics = nil
		e.ownMetrics = false
	}
	if err := e.keyword.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.vectors.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.meta.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.lock.Unlock(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (e *Engine) requireInitialized() error {
	if !e.initialized {
		return alerrors.New(alerrors.ErrCodeInternal, "engine is not initialized", nil).
			WithSuggestion("call InitializeStore before any other operation")
	}
	return nil
}
