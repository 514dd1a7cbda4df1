package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/embed"
	"github.com/pmbstyle/alicerag/internal/rag"
	"github.com/pmbstyle/alicerag/internal/store"
)

// embedderStartupTimeout bounds the service readiness probe at
// construction, so a wedged sidecar fails fast instead of hanging the
// command.
const embedderStartupTimeout = 15 * time.Second

// loadConfig loads configuration for the working directory and
// applies the --data-dir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(".")
	if err != nil {
		return nil, err
	}
	if dataDirFlag != "" {
		abs, err := filepath.Abs(dataDirFlag)
		if err != nil {
			return nil, fmt.Errorf("resolve data dir: %w", err)
		}
		cfg.DataDir = abs
	}
	return cfg, nil
}

// effectiveProvider resolves the embedding provider name, honoring
// --offline.
func effectiveProvider(cfg *config.Config, offline bool) string {
	if offline {
		return string(embed.ProviderStatic)
	}
	return string(embed.ParseProvider(cfg.Embeddings.Provider))
}

// newEmbedder builds the configured embedder.
func newEmbedder(ctx context.Context, cfg *config.Config, offline bool) (embed.Embedder, error) {
	provider := embed.ParseProvider(cfg.Embeddings.Provider)
	if offline {
		provider = embed.ProviderStatic
	}

	startCtx, cancel := context.WithTimeout(ctx, embedderStartupTimeout)
	defer cancel()

	return embed.NewEmbedder(startCtx, embed.Options{
		Provider:       provider,
		Endpoint:       cfg.Embeddings.Endpoint,
		Model:          cfg.Embeddings.Model,
		Dimensions:     cfg.Embeddings.Dimensions,
		RequestTimeout: config.DurationOr(cfg.Embeddings.RequestTimeout, 30*time.Second),
		CacheSize:      cfg.Embeddings.CacheSize,
	})
}

// newDetachedEmbedder builds the configured embedder without probing
// the service. Operations that never embed (remove, clear, compact)
// use it so they neither require a running service nor disturb the
// stored embedding identity.
func newDetachedEmbedder(ctx context.Context, cfg *config.Config) (embed.Embedder, error) {
	return embed.NewEmbedder(ctx, embed.Options{
		Provider:           embed.ParseProvider(cfg.Embeddings.Provider),
		Endpoint:           cfg.Embeddings.Endpoint,
		Model:              cfg.Embeddings.Model,
		Dimensions:         cfg.Embeddings.Dimensions,
		RequestTimeout:     config.DurationOr(cfg.Embeddings.RequestTimeout, 30*time.Second),
		CacheSize:          cfg.Embeddings.CacheSize,
		SkipReadinessCheck: true,
	})
}

// openEngine builds and initializes an engine over the configured
// data directory. The returned cleanup closes the engine and the
// embedder.
func openEngine(ctx context.Context, cfg *config.Config, offline bool, opts ...rag.Option) (*rag.Engine, embed.Embedder, func(), error) {
	embedder, err := newEmbedder(ctx, cfg, offline)
	if err != nil {
		return nil, nil, nil, err
	}
	engine, cleanup, err := openEngineWith(ctx, cfg, embedder, opts...)
	if err != nil {
		return nil, nil, nil, err
	}
	return engine, embedder, cleanup, nil
}

// openEngineDetached is openEngine with a non-probing embedder, for
// commands that only mutate or inspect the store.
func openEngineDetached(ctx context.Context, cfg *config.Config, opts ...rag.Option) (*rag.Engine, func(), error) {
	embedder, err := newDetachedEmbedder(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	return openEngineWith(ctx, cfg, embedder, opts...)
}

// openEngineWith initializes an engine over an already-built embedder,
// taking ownership of it: the returned cleanup closes both.
func openEngineWith(ctx context.Context, cfg *config.Config, embedder embed.Embedder, opts ...rag.Option) (*rag.Engine, func(), error) {
	engine, err := rag.New(cfg, embedder, opts...)
	if err != nil {
		_ = embedder.Close()
		return nil, nil, err
	}
	if err := engine.InitializeStore(ctx); err != nil {
		_ = embedder.Close()
		return nil, nil, err
	}

	cleanup := func() {
		if err := engine.Close(); err != nil {
			slog.Warn("engine_close_failed", "error", err)
		}
		if err := embedder.Close(); err != nil {
			slog.Warn("embedder_close_failed", "error", err)
		}
	}
	return engine, cleanup, nil
}

// indexExists reports whether a metadata database exists under
// dataDir.
func indexExists(dataDir string) bool {
	return fileExists(store.MetadataPath(dataDir))
}

// fileExists checks if a file exists.
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// runInitialIndex indexes the configured include paths without any
// terminal output, recording progress in the status file.
func runInitialIndex(ctx context.Context, cfg *config.Config, offline bool) error {
	tracker := async.NewTracker(cfg.DataDir)
	engine, _, cleanup, err := openEngine(ctx, cfg, offline, rag.WithReporter(tracker))
	if err != nil {
		return err
	}
	defer cleanup()

	tracker.StartRun()
	report, err := engine.IndexPaths(ctx, cfg.Paths.Include, rag.IndexOptions{Recursive: true})
	tracker.Done(err)
	if err != nil {
		return err
	}

	slog.Info("initial_index_done", "indexed", report.Indexed, "skipped", report.Skipped)
	return nil
}
