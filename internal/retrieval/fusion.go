package retrieval

import (
	"sort"

	"github.com/plokeai/ploke/internal/store"
)

// DefaultRRFConstant is the standard RRF smoothing parameter. k=60 is
// empirically validated across domains (used by Azure AI Search,
// OpenSearch, etc.) and is the default used here.
const DefaultRRFConstant = 60

// Weights controls each source's contribution to the fused score.
type Weights struct {
	BM25     float64
	Semantic float64
}

// DefaultWeights gives the sparse and dense lists equal say.
func DefaultWeights() Weights {
	return Weights{BM25: 1, Semantic: 1}
}

// fusedResult is one candidate after RRF fusion, before hydration.
type fusedResult struct {
	id           string
	rrfScore     float64
	bm25Score    float64
	bm25Rank     int
	vecScore     float64
	vecRank      int
	inBothLists  bool
	matchedTerms []string
}

// rrfFusion combines BM25 and vector search results using Reciprocal Rank
// Fusion: RRF_score(d) = sum(weight_i / (k + rank_i)).
type rrfFusion struct {
	k int
}

func newRRFFusion(k int) *rrfFusion {
	if k <= 0 {
		k = DefaultRRFConstant
	}
	return &rrfFusion{k: k}
}

// fuse ranks bm25 and vec lists together. Documents appearing in only one
// list are scored as if they ranked at max(len(bm25),len(vec))+1 in the
// other, so a hit at the bottom of one list with no presence in the other
// doesn't outrank a hit that's mediocre in both.
func (f *rrfFusion) fuse(bm25 []*store.BM25Result, vec []*store.VectorResult, weights Weights) []*fusedResult {
	if len(bm25) == 0 && len(vec) == 0 {
		return nil
	}

	scores := make(map[string]*fusedResult, len(bm25)+len(vec))
	getOrCreate := func(id string) *fusedResult {
		if r, ok := scores[id]; ok {
			return r
		}
		r := &fusedResult{id: id}
		scores[id] = r
		return r
	}

	for rank, r := range bm25 {
		res := getOrCreate(r.DocID)
		res.bm25Score = r.Score
		res.bm25Rank = rank + 1
		res.matchedTerms = r.MatchedTerms
		res.rrfScore += weights.BM25 / float64(f.k+rank+1)
	}
	for rank, r := range vec {
		res := getOrCreate(r.ID)
		res.vecScore = float64(r.Score)
		res.vecRank = rank + 1
		res.rrfScore += weights.Semantic / float64(f.k+rank+1)
		if res.bm25Rank > 0 {
			res.inBothLists = true
		}
	}

	missingRank := len(bm25)
	if len(vec) > missingRank {
		missingRank = len(vec)
	}
	missingRank++
	for _, r := range scores {
		if r.bm25Rank == 0 && r.vecRank > 0 {
			r.rrfScore += weights.BM25 / float64(f.k+missingRank)
		}
		if r.vecRank == 0 && r.bm25Rank > 0 {
			r.rrfScore += weights.Semantic / float64(f.k+missingRank)
		}
	}

	out := make([]*fusedResult, 0, len(scores))
	for _, r := range scores {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return less(out[i], out[j]) })
	normalize(out)
	return out
}

// less orders by RRF score desc, then both-lists first, then BM25 score
// desc, then id asc, so ties resolve the same way on every run.
func less(a, b *fusedResult) bool {
	if a.rrfScore != b.rrfScore {
		return a.rrfScore > b.rrfScore
	}
	if a.inBothLists != b.inBothLists {
		return a.inBothLists
	}
	if a.bm25Score != b.bm25Score {
		return a.bm25Score > b.bm25Score
	}
	return a.id < b.id
}

func normalize(results []*fusedResult) {
	if len(results) == 0 || results[0].rrfScore == 0 {
		return
	}
	max := results[0].rrfScore
	for _, r := range results {
		r.rrfScore /= max
	}
}
