package store

import (
	"bufio"
	"context"
	"encoding/gob"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/coder/hnsw"
)

// indexFormatVersion is stored in the fingerprint sidecar. Bump it
// when the on-disk graph layout changes so old files rebuild instead
// of misloading.
const indexFormatVersion = 1

// VectorIndex is an HNSW nearest-neighbor index over chunk
// embeddings. It is a materialized view of the metadata store: the
// graph and its label mapping can always be rebuilt from the chunks
// table, and rebuilding is the only recovery path. Labels are dense
// positions 0..N-1 in ascending chunk id order and are never reused
// across mutations, because every mutation rebuilds the whole graph.
type VectorIndex struct {
	mu           sync.RWMutex
	graph        *hnsw.Graph[uint64]
	labelToChunk []int64
	fingerprint  Fingerprint
	cfg          VectorIndexConfig
	dataDir      string
	ready        bool
	closed       bool
}

// NewVectorIndex creates an unloaded index. No file I/O happens until
// Initialize. An empty dataDir keeps the index memory-only for tests.
func NewVectorIndex(dataDir string, cfg VectorIndexConfig) *VectorIndex {
	return &VectorIndex{
		dataDir: dataDir,
		cfg:     cfg,
	}
}

func (v *VectorIndex) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = v.cfg.M
	g.Ml = 0.25
	g.EfSearch = v.cfg.EfSearch
	return g
}

// Initialize brings the index in line with the metadata store. An
// empty store produces an empty persisted index. Otherwise the
// persisted graph is loaded and accepted only if its fingerprint and
// node count match the live chunk table; any mismatch, missing file,
// or load error falls through to a full rebuild.
func (v *VectorIndex) Initialize(ctx context.Context, meta MetadataStore) error {
	count, maxCreated, err := meta.ChunkStats(ctx)
	if err != nil {
		return fmt.Errorf("chunk stats: %w", err)
	}

	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return errClosed
	}

	if count == 0 {
		v.graph = v.newGraph()
		v.labelToChunk = nil
		v.fingerprint = Fingerprint{Version: indexFormatVersion, Dimensions: v.cfg.Dimensions}
		err := v.persistLocked()
		v.ready = err == nil
		v.mu.Unlock()
		return err
	}

	loadErr := v.loadLocked(count, maxCreated)
	if loadErr == nil {
		ids, idErr := meta.ChunkIDsOrdered(ctx)
		if idErr == nil && len(ids) == count {
			v.labelToChunk = ids
			v.ready = true
			v.mu.Unlock()
			slog.Debug("vector_index_loaded", "vectors", count)
			return nil
		}
		loadErr = fmt.Errorf("chunk id count %d does not match %d", len(ids), count)
	}
	v.mu.Unlock()

	slog.Info("vector_index_rebuild", "reason", loadErr.Error())
	return v.RebuildFromStore(ctx, meta)
}

// ReadFingerprint decodes the fingerprint sidecar without opening the
// graph. Status surfaces use it to report the vector count while
// another process holds the writer lock.
func ReadFingerprint(dataDir string) (Fingerprint, error) {
	f, err := os.Open(VectorMetaPath(dataDir))
	if err != nil {
		return Fingerprint{}, err
	}
	defer f.Close()

	var fp Fingerprint
	if err := gob.NewDecoder(f).Decode(&fp); err != nil {
		return Fingerprint{}, fmt.Errorf("decode fingerprint: %w", err)
	}
	return fp, nil
}

// loadLocked reads the fingerprint sidecar and the graph file,
// validating both against the live store before accepting them.
func (v *VectorIndex) loadLocked(count int, maxCreated int64) error {
	if v.dataDir == "" {
		return fmt.Errorf("no persisted index")
	}

	metaFile, err := os.Open(VectorMetaPath(v.dataDir))
	if err != nil {
		return fmt.Errorf("open fingerprint: %w", err)
	}
	var fp Fingerprint
	decodeErr := gob.NewDecoder(metaFile).Decode(&fp)
	metaFile.Close()
	if decodeErr != nil {
		return fmt.Errorf("decode fingerprint: %w", decodeErr)
	}

	switch {
	case fp.Version != indexFormatVersion:
		return fmt.Errorf("index format version %d, want %d", fp.Version, indexFormatVersion)
	case fp.Dimensions != v.cfg.Dimensions:
		return fmt.Errorf("index dimensions %d, want %d", fp.Dimensions, v.cfg.Dimensions)
	case fp.Count != count || fp.MaxCreatedAt != maxCreated:
		return fmt.Errorf("index is stale: fingerprint (%d, %d) vs store (%d, %d)",
			fp.Count, fp.MaxCreatedAt, count, maxCreated)
	}

	f, err := os.Open(VectorIndexPath(v.dataDir))
	if err != nil {
		return fmt.Errorf("open graph: %w", err)
	}
	defer f.Close()

	g := v.newGraph()
	if err := g.Import(bufio.NewReader(f)); err != nil {
		return fmt.Errorf("import graph: %w", err)
	}
	if g.Len() != count {
		return fmt.Errorf("graph has %d nodes, store has %d chunks", g.Len(), count)
	}

	v.graph = g
	v.fingerprint = fp
	return nil
}

// RebuildFromStore reconstructs the whole graph from the chunks
// table. It is idempotent: the same store contents always produce the
// same labels, mapping, and fingerprint.
func (v *VectorIndex) RebuildFromStore(ctx context.Context, meta MetadataStore) error {
	vectors, err := meta.ChunksOrderedByID(ctx)
	if err != nil {
		return fmt.Errorf("read chunks: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errClosed
	}

	g := v.newGraph()
	labels := make([]int64, len(vectors))
	var maxCreated int64

	for i, cv := range vectors {
		if err := ctx.Err(); err != nil {
			return err
		}
		vec := cv.Embedding
		switch {
		case len(vec) == 0:
			vec = make([]float32, v.cfg.Dimensions)
		case len(vec) != v.cfg.Dimensions:
			return ErrDimensionMismatch{Expected: v.cfg.Dimensions, Got: len(vec)}
		default:
			vec = append([]float32(nil), vec...)
		}
		normalizeVectorInPlace(vec)
		g.Add(hnsw.MakeNode(uint64(i), vec))
		labels[i] = cv.ID
		if cv.CreatedAt > maxCreated {
			maxCreated = cv.CreatedAt
		}
	}

	v.graph = g
	v.labelToChunk = labels
	v.fingerprint = Fingerprint{
		Version:      indexFormatVersion,
		Dimensions:   v.cfg.Dimensions,
		Count:        len(vectors),
		MaxCreatedAt: maxCreated,
	}
	if err := v.persistLocked(); err != nil {
		return err
	}
	v.ready = true
	slog.Info("vector_index_rebuilt", "vectors", len(vectors))
	return nil
}

// Search returns up to k nearest chunks by cosine similarity. k is
// clamped to the live vector count; an empty index returns no
// matches.
func (v *VectorIndex) Search(ctx context.Context, query []float32, k int) ([]*VectorMatch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(query) != v.cfg.Dimensions {
		return nil, ErrDimensionMismatch{Expected: v.cfg.Dimensions, Got: len(query)}
	}

	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.closed {
		return nil, errClosed
	}
	if !v.ready {
		return nil, fmt.Errorf("vector index is not initialized")
	}

	if n := v.graph.Len(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil
	}

	normalized := append([]float32(nil), query...)
	normalizeVectorInPlace(normalized)

	nodes := v.graph.Search(normalized, k)

	matches := make([]*VectorMatch, 0, len(nodes))
	for _, node := range nodes {
		if node.Key >= uint64(len(v.labelToChunk)) {
			continue
		}
		dist := v.graph.Distance(normalized, node.Value)
		matches = append(matches, &VectorMatch{
			ChunkID:  v.labelToChunk[node.Key],
			Distance: dist,
			Score:    distanceToScore(dist),
		})
	}
	return matches, nil
}

// Count returns the number of vectors in the live graph.
func (v *VectorIndex) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.graph == nil {
		return 0
	}
	return v.graph.Len()
}

// Dimensions returns the embedding dimension the index accepts.
func (v *VectorIndex) Dimensions() int {
	return v.cfg.Dimensions
}

// Ready reports whether the index has been initialized or rebuilt.
func (v *VectorIndex) Ready() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.ready
}

// Fingerprint returns the fingerprint of the live graph.
func (v *VectorIndex) Fingerprint() Fingerprint {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.fingerprint
}

// Reset replaces the graph with an empty one and persists it.
func (v *VectorIndex) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errClosed
	}

	v.graph = v.newGraph()
	v.labelToChunk = nil
	v.fingerprint = Fingerprint{Version: indexFormatVersion, Dimensions: v.cfg.Dimensions}
	if err := v.persistLocked(); err != nil {
		return err
	}
	v.ready = true
	return nil
}

// Close marks the index closed. The graph is already persisted by the
// mutation that produced it, so Close writes nothing.
func (v *VectorIndex) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closed = true
	v.ready = false
	return nil
}

// persistLocked writes the graph and its fingerprint sidecar with
// tmp-then-rename so a crash mid-write leaves the previous files
// intact.
func (v *VectorIndex) persistLocked() error {
	if v.dataDir == "" {
		return nil
	}

	graphPath := VectorIndexPath(v.dataDir)
	if err := writeAtomic(graphPath, func(w *bufio.Writer) error {
		return v.graph.Export(w)
	}); err != nil {
		return fmt.Errorf("persist graph: %w", err)
	}

	metaPath := VectorMetaPath(v.dataDir)
	if err := writeAtomic(metaPath, func(w *bufio.Writer) error {
		return gob.NewEncoder(w).Encode(v.fingerprint)
	}); err != nil {
		return fmt.Errorf("persist fingerprint: %w", err)
	}
	return nil
}

func writeAtomic(path string, write func(w *bufio.Writer) error) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	w := bufio.NewWriter(f)
	if err := write(w); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// normalizeVectorInPlace scales a vector to unit length. Zero vectors
// are left untouched.
func normalizeVectorInPlace(vec []float32) {
	var sum float64
	for _, x := range vec {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	norm := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= norm
	}
}

// distanceToScore maps cosine distance (0..2) to a similarity score
// in [0, 1].
func distanceToScore(dist float32) float32 {
	score := 1 - dist/2
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
