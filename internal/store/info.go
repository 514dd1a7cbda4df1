package store

import (
	"context"
	"io/fs"
	"path/filepath"
)

// StoreInfo is a point-in-time summary of everything under the data
// directory, as shown by the stats and status commands.
type StoreInfo struct {
	Documents      int    `json:"documents"`
	Chunks         int    `json:"chunks"`
	Vectors        int    `json:"vectors"`
	Health         string `json:"health"`
	KeywordBackend string `json:"keyword_backend"`
	DataDir        string `json:"data_dir"`
	SizeBytes      int64  `json:"size_bytes"`
}

// CollectInfo gathers counts from the metadata store and vector
// index plus the on-disk footprint of the data directory.
func CollectInfo(ctx context.Context, meta MetadataStore, vector *VectorIndex, dataDir, keywordBackend string) (*StoreInfo, error) {
	docs, chunks, err := meta.Stats(ctx)
	if err != nil {
		return nil, err
	}

	info := &StoreInfo{
		Documents:      docs,
		Chunks:         chunks,
		Health:         meta.Health().String(),
		KeywordBackend: keywordBackend,
		DataDir:        dataDir,
	}
	if vector != nil {
		info.Vectors = vector.Count()
	}
	if dataDir != "" {
		info.SizeBytes = dirSize(dataDir)
	}
	return info, nil
}

// dirSize sums regular file sizes under root. Errors on individual
// entries are skipped so a racing delete cannot fail the whole stats
// call.
func dirSize(root string) int64 {
	var total int64
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.Type().IsRegular() {
			if info, err := d.Info(); err == nil {
				total += info.Size()
			}
		}
		return nil
	})
	return total
}
