package search

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	alerrors "github.com/pmbstyle/alicerag/internal/errors"
	"github.com/pmbstyle/alicerag/internal/store"
)

// Retriever runs hybrid retrieval against a vector index and a keyword
// backend, then resolves fused chunk ids through the metadata store.
type Retriever struct {
	resolver ChunkResolver
	vectors  VectorSearcher
	keyword  KeywordSearcher
	rrfK     int
}

// RetrieverOption configures the retriever.
type RetrieverOption func(*Retriever)

// WithRRFConstant overrides the RRF smoothing constant. Values below 1
// keep the default.
func WithRRFConstant(k int) RetrieverOption {
	return func(r *Retriever) {
		if k > 0 {
			r.rrfK = k
		}
	}
}

// NewRetriever wires the retriever to its three collaborators.
func NewRetriever(resolver ChunkResolver, vectors VectorSearcher, keyword KeywordSearcher, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		resolver: resolver,
		vectors:  vectors,
		keyword:  keyword,
		rrfK:     rrfK,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Search runs both ranking branches for the request and returns the
// fused top results with metadata. A request with no usable vector and
// no text returns empty. When one branch fails but the other can still
// serve, the failure is logged and the surviving results are used.
func (r *Retriever) Search(ctx context.Context, req Request) ([]*Result, error) {
	topK := req.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	text := strings.TrimSpace(req.Text)
	useVector := len(req.Vector) > 0 &&
		len(req.Vector) == r.vectors.Dimensions() &&
		r.vectors.Count() > 0
	useKeyword := text != ""

	if !useVector && !useKeyword {
		return []*Result{}, nil
	}

	breadth := candidateBreadth(topK)

	var (
		vecMatches []*store.VectorMatch
		kwMatches  []*store.KeywordMatch
		vecErr     error
		kwErr      error
	)

	g, gctx := errgroup.WithContext(ctx)
	if useVector {
		g.Go(func() error {
			var err error
			vecMatches, err = r.vectors.Search(gctx, req.Vector, breadth)
			if err != nil {
				vecErr = err
			}
			return nil
		})
	}
	if useKeyword {
		g.Go(func() error {
			var err error
			kwMatches, err = r.keyword.Search(gctx, text, breadth)
			if err != nil {
				kwErr = err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// A failed branch is tolerable only when the other one ran and
	// succeeded; otherwise nothing can serve the query.
	bothFailed := vecErr != nil && kwErr != nil
	onlyBranchFailed := (vecErr != nil && !useKeyword) || (kwErr != nil && !useVector)
	if bothFailed || onlyBranchFailed {
		return nil, alerrors.New(alerrors.ErrCodeSearchFailed,
			"search failed", errors.Join(vecErr, kwErr))
	}
	if vecErr != nil {
		slog.Warn("vector_branch_degraded", "error", vecErr)
	}
	if kwErr != nil {
		slog.Warn("keyword_branch_degraded", "error", kwErr)
	}

	fused := fuseRRF(vecMatches, kwMatches, r.rrfK)
	if len(fused) > topK {
		fused = fused[:topK]
	}
	if len(fused) == 0 {
		return []*Result{}, nil
	}

	ids := make([]int64, len(fused))
	for i, f := range fused {
		ids[i] = f.chunkID
	}
	details, err := r.resolver.GetChunksByIDs(ctx, ids)
	if err != nil {
		return nil, alerrors.New(alerrors.ErrCodeSearchFailed,
			"failed to resolve search results", err)
	}

	results := make([]*Result, 0, len(details))
	for i, d := range details {
		results = append(results, &Result{
			ChunkID: d.ChunkID,
			Text:    d.Text,
			Path:    d.Path,
			Title:   d.Title,
			Page:    d.Page,
			Section: d.Section,
			Score:   positionScore(i, topK),
		})
	}

	slog.Debug("hybrid_search",
		"top_k", topK,
		"breadth", breadth,
		"vector_candidates", len(vecMatches),
		"keyword_candidates", len(kwMatches),
		"results", len(results))

	return results, nil
}

// candidateBreadth returns how many candidates to request from each
// sub-ranker: max(topK*4, topK), capped at MaxCandidates.
func candidateBreadth(topK int) int {
	breadth := topK * 4
	if breadth < topK {
		breadth = topK
	}
	if breadth > MaxCandidates {
		breadth = MaxCandidates
	}
	return breadth
}

// positionScore is the presentation score for the result at a 0-based
// position: a linear decay from 1, floored at 0.
func positionScore(position, topK int) float64 {
	decay := float64(position) / float64(topK)
	if decay > 1 {
		decay = 1
	}
	return 1 - decay
}
