package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
)

// bleveBatchSize bounds how many chunks go into one bleve batch.
const bleveBatchSize = 500

// bleveChunk is the document shape stored in the bleve index.
type bleveChunk struct {
	Text string `json:"text"`
}

// BleveKeywordIndex is the file-backed keyword backend. Unlike the
// SQLite backend it has no triggers watching the chunks table, so the
// sync engine feeds it explicitly on every mutation.
type BleveKeywordIndex struct {
	mu        sync.RWMutex
	index     bleve.Index
	path      string
	closed    bool
	stopwords map[string]struct{}
}

var _ KeywordIndex = (*BleveKeywordIndex)(nil)

// NewBleveKeywordIndex opens (or creates) the bleve index at path.
// An empty path opens an in-memory index for tests. An index that
// fails validation is deleted and recreated empty rather than left
// to fail every query.
func NewBleveKeywordIndex(path string, extraStopwords []string) (*BleveKeywordIndex, error) {
	b := &BleveKeywordIndex{
		path:      path,
		stopwords: DefaultStopwordSet(extraStopwords),
	}

	if path == "" {
		idx, err := bleve.NewMemOnly(buildBleveMapping())
		if err != nil {
			return nil, fmt.Errorf("create keyword index: %w", err)
		}
		b.index = idx
		return b, nil
	}

	if _, err := os.Stat(path); err == nil && !validateBleveDir(path) {
		slog.Warn("keyword_index_corrupted", "path", path)
		os.RemoveAll(path)
	}

	idx, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) {
		idx, err = bleve.New(path, buildBleveMapping())
	} else if err != nil {
		slog.Warn("keyword_index_unreadable", "path", path, "error", err)
		os.RemoveAll(path)
		idx, err = bleve.New(path, buildBleveMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open keyword index: %w", err)
	}
	b.index = idx
	return b, nil
}

// validateBleveDir checks that the index metadata file exists and
// parses. A directory that fails this is a half-written or damaged
// index.
func validateBleveDir(path string) bool {
	data, err := os.ReadFile(filepath.Join(path, "index_meta.json"))
	if err != nil {
		return false
	}
	var meta struct {
		Storage string `json:"storage"`
	}
	return json.Unmarshal(data, &meta) == nil
}

func buildBleveMapping() *mapping.IndexMappingImpl {
	textField := bleve.NewTextFieldMapping()
	textField.Store = false
	textField.IncludeTermVectors = false
	textField.IncludeInAll = false

	chunkMapping := bleve.NewDocumentMapping()
	chunkMapping.AddFieldMappingsAt("text", textField)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = chunkMapping
	return m
}

// IndexChunks adds or replaces chunk texts, batched to keep memory
// bounded on large documents.
func (b *BleveKeywordIndex) IndexChunks(ctx context.Context, chunks []*Chunk) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	batch := b.index.NewBatch()
	for i, c := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := batch.Index(strconv.FormatInt(c.ID, 10), bleveChunk{Text: c.Text}); err != nil {
			return fmt.Errorf("batch chunk %d: %w", c.ID, err)
		}
		if batch.Size() >= bleveBatchSize || i == len(chunks)-1 {
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("index batch: %w", err)
			}
			batch = b.index.NewBatch()
		}
	}
	return nil
}

// DeleteChunks removes chunks by id.
func (b *BleveKeywordIndex) DeleteChunks(ctx context.Context, chunkIDs []int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	batch := b.index.NewBatch()
	for i, id := range chunkIDs {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch.Delete(strconv.FormatInt(id, 10))
		if batch.Size() >= bleveBatchSize || i == len(chunkIDs)-1 {
			if err := b.index.Batch(batch); err != nil {
				return fmt.Errorf("delete batch: %w", err)
			}
			batch = b.index.NewBatch()
		}
	}
	return nil
}

// Search tokenizes the query and runs a prefix disjunction, returning
// chunk ids ranked best first. Queries with no usable terms return no
// matches.
func (b *BleveKeywordIndex) Search(ctx context.Context, queryText string, topK int) ([]*KeywordMatch, error) {
	terms := ExtractQueryTerms(queryText, b.stopwords)
	if len(terms) == 0 || topK <= 0 {
		return nil, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, errClosed
	}

	disjunction := bleve.NewDisjunctionQuery()
	for _, term := range terms {
		pq := bleve.NewPrefixQuery(term)
		pq.SetField("text")
		disjunction.AddQuery(pq)
	}

	req := bleve.NewSearchRequest(disjunction)
	req.Size = topK
	res, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword search: %w", err)
	}

	matches := make([]*KeywordMatch, 0, len(res.Hits))
	for i, hit := range res.Hits {
		chunkID, err := strconv.ParseInt(hit.ID, 10, 64)
		if err != nil {
			continue
		}
		matches = append(matches, &KeywordMatch{ChunkID: chunkID, Rank: i + 1})
	}
	return matches, nil
}

// Clear deletes the index contents by recreating it empty.
func (b *BleveKeywordIndex) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errClosed
	}

	b.index.Close()
	var (
		idx bleve.Index
		err error
	)
	if b.path == "" {
		idx, err = bleve.NewMemOnly(buildBleveMapping())
	} else {
		if err := os.RemoveAll(b.path); err != nil {
			return fmt.Errorf("remove keyword index: %w", err)
		}
		idx, err = bleve.New(b.path, buildBleveMapping())
	}
	if err != nil {
		return fmt.Errorf("recreate keyword index: %w", err)
	}
	b.index = idx
	return nil
}

func (b *BleveKeywordIndex) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
