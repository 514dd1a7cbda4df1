package search

import (
	"sort"

	"github.com/pmbstyle/alicerag/internal/store"
)

// fusedChunk is one chunk id with its summed RRF score and the rank it
// held in each source list (1-based, 0 when absent).
type fusedChunk struct {
	chunkID     int64
	score       float64
	vectorRank  int
	keywordRank int
}

func (f *fusedChunk) inBoth() bool {
	return f.vectorRank > 0 && f.keywordRank > 0
}

// fuseRRF merges the two ranked lists with Reciprocal Rank Fusion: the
// item at 1-based rank r contributes 1/(k+r), contributions are summed
// per chunk id, and the result is sorted best first.
func fuseRRF(vec []*store.VectorMatch, kw []*store.KeywordMatch, k int) []*fusedChunk {
	if len(vec) == 0 && len(kw) == 0 {
		return nil
	}

	byID := make(map[int64]*fusedChunk, len(vec)+len(kw))
	get := func(id int64) *fusedChunk {
		if f, ok := byID[id]; ok {
			return f
		}
		f := &fusedChunk{chunkID: id}
		byID[id] = f
		return f
	}

	for i, m := range vec {
		f := get(m.ChunkID)
		f.vectorRank = i + 1
		f.score += 1.0 / float64(k+f.vectorRank)
	}
	for _, m := range kw {
		f := get(m.ChunkID)
		f.keywordRank = m.Rank
		f.score += 1.0 / float64(k+m.Rank)
	}

	fused := make([]*fusedChunk, 0, len(byID))
	for _, f := range byID {
		fused = append(fused, f)
	}
	sort.Slice(fused, func(i, j int) bool {
		return lessFused(fused[i], fused[j])
	})
	return fused
}

// lessFused reports whether a ranks before b. Score decides; ties go to
// chunks present in both lists, then to the lower chunk id, so the
// order is deterministic for any input.
func lessFused(a, b *fusedChunk) bool {
	if a.score != b.score {
		return a.score > b.score
	}
	if a.inBoth() != b.inBoth() {
		return a.inBoth()
	}
	return a.chunkID < b.chunkID
}
