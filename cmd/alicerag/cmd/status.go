package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/pmbstyle/alicerag/internal/async"
	"github.com/pmbstyle/alicerag/internal/config"
	"github.com/pmbstyle/alicerag/internal/daemon"
	"github.com/pmbstyle/alicerag/internal/store"
	"github.com/pmbstyle/alicerag/internal/ui"
)

// syncStalledAfter is how long a claimed-indexing status file can go
// without updates before status reports it as stalled.
const syncStalledAfter = 5 * time.Minute

func newStatusCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show index health and status",
		Long: `Display information about the current index including:
  - Number of indexed documents and chunks
  - Last indexing time
  - Storage sizes (metadata, keyword, vectors)
  - Embedder status (provider, model, availability)
  - Watcher status (if running)`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(cmd.Context(), cmd, jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func runStatus(ctx context.Context, cmd *cobra.Command, jsonOutput bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !indexExists(cfg.DataDir) {
		return fmt.Errorf("no index found in %s\nRun 'alicerag index <path>' to create one", cfg.DataDir)
	}

	info, err := collectStatus(ctx, cfg)
	if err != nil {
		return fmt.Errorf("collect status: %w", err)
	}

	renderer := ui.NewStatusRenderer(cmd.OutOrStdout(), ui.DetectNoColor())
	if jsonOutput {
		return renderer.RenderJSON(info)
	}
	return renderer.Render(info)
}

// collectStatus reads everything without taking the writer lock, so it
// works while serve or watch owns the data directory.
func collectStatus(ctx context.Context, cfg *config.Config) (ui.StatusInfo, error) {
	dataDir := cfg.DataDir
	info := ui.StatusInfo{DataDir: dataDir}

	meta, err := store.NewSQLiteStore(dataDir, cfg.Search.ExtraStopwords)
	if err != nil {
		return info, fmt.Errorf("open metadata store: %w", err)
	}
	defer func() { _ = meta.Close() }()

	docs, chunks, err := meta.Stats(ctx)
	if err != nil {
		return info, err
	}
	info.Documents = docs
	info.Chunks = chunks

	if _, maxCreated, err := meta.ChunkStats(ctx); err == nil && maxCreated > 0 {
		info.LastIndexed = time.Unix(0, maxCreated)
	}

	// The fingerprint sidecar carries the vector count, so the HNSW
	// graph itself never has to be loaded here.
	if fp, err := store.ReadFingerprint(dataDir); err == nil {
		info.Vectors = fp.Count
	}

	info.MetadataSize = getFileSize(store.MetadataPath(dataDir))
	info.KeywordSize = getDirSize(store.KeywordBlevePath(dataDir))
	info.VectorSize = getFileSize(store.VectorIndexPath(dataDir)) + getFileSize(store.VectorMetaPath(dataDir))
	info.TotalSize = info.MetadataSize + info.KeywordSize + info.VectorSize

	info.KeywordBackend = store.DetectKeywordBackend(dataDir)

	info.EmbedderBackend = effectiveProvider(cfg, false)
	info.EmbedderModel = cfg.Embeddings.Model
	info.EmbedderStatus = probeEmbedder(ctx, cfg)

	watchClient := daemon.NewClient(daemon.DefaultConfig(dataDir))
	if watchClient.IsRunning() {
		info.WatcherStatus = "running"
	} else {
		info.WatcherStatus = "stopped"
	}

	if snap, err := async.ReadStatus(dataDir); err == nil {
		info.SyncStatus = describeSync(snap)
	}

	return info, nil
}

// probeEmbedder reports whether the configured embedder answers. The
// probe is bounded so status stays fast when the service is down.
func probeEmbedder(ctx context.Context, cfg *config.Config) string {
	embedder, err := newDetachedEmbedder(ctx, cfg)
	if err != nil {
		return "error"
	}
	defer func() { _ = embedder.Close() }()

	probeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if embedder.Available(probeCtx) {
		return "ready"
	}
	return "offline"
}

// describeSync renders the persisted sync snapshot as one line.
func describeSync(snap *async.Snapshot) string {
	switch snap.Status {
	case async.StatusIndexing:
		if snap.Stalled(time.Now(), syncStalledAfter) {
			return fmt.Sprintf("stalled (no update for %s)", time.Since(snap.UpdatedAt).Round(time.Second))
		}
		if snap.FilesTotal > 0 {
			return fmt.Sprintf("%s %d/%d files", snap.Stage, snap.FilesProcessed, snap.FilesTotal)
		}
		return snap.Stage
	case async.StatusError:
		return "last run failed: " + snap.Error
	default:
		return ""
	}
}

// getFileSize returns the size of a file in bytes, zero if missing.
func getFileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	return info.Size()
}

// getDirSize returns the total size of all files under a directory.
func getDirSize(path string) int64 {
	var size int64
	_ = filepath.WalkDir(path, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				size += info.Size()
			}
		}
		return nil
	})
	return size
}
