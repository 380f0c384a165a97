// Package bm25svc implements the BM25 sparse-index actor. A single
// goroutine owns the in-memory index and drains a command
// channel, so every IndexBatch/Search/Remove/FinalizeSeed call is
// linearized without a mutex -- the same single-consumer shape
// BackgroundIndexer uses for its own control loop.
package bm25svc

import (
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/codetok"
)

// Okapi BM25 constants, matching the defaults of the `bm25` crate this
// service's scoring is ported from (original_source bm25_index/mod.rs).
const (
	k1 = 1.2
	b  = 0.75
)

// DocMeta is the per-document bookkeeping persisted alongside the sparse
// embedding: token length (for avgdl) and the tracking hash that lets a
// caller detect a document was indexed against stale content.
type DocMeta struct {
	TokenLength  int
	TrackingHash uuid.UUID
}

// Doc is one unit of work for IndexBatch: an identified snippet plus its
// metadata.
type Doc struct {
	ID      uuid.UUID
	Meta    DocMeta
	Snippet string
}

// ScoredDoc is one ranked search hit.
type ScoredDoc struct {
	ID    uuid.UUID
	Score float64
}

type docEntry struct {
	termFreq map[string]int
	length   int
}

// engine is the unexported, single-owner BM25 index. All mutation and
// scoring happens on the Service's actor goroutine.
type engine struct {
	avgdl      float64
	docs       map[uuid.UUID]docEntry
	docFreq    map[string]int
	stagedMeta map[uuid.UUID]DocMeta
}

func newEngine(avgdl float64) *engine {
	return &engine{
		avgdl:      avgdl,
		docs:       make(map[uuid.UUID]docEntry),
		docFreq:    make(map[string]int),
		stagedMeta: make(map[uuid.UUID]DocMeta),
	}
}

func (e *engine) indexBatch(docs []Doc) int {
	for _, d := range docs {
		e.upsert(d)
	}
	return len(docs)
}

func (e *engine) upsert(d Doc) {
	if old, exists := e.docs[d.ID]; exists {
		e.decrementDocFreq(old)
	}

	tokens := codetok.Tokenize(d.Snippet)
	tf := make(map[string]int, len(tokens))
	for _, tok := range tokens {
		tf[tok]++
	}
	e.docs[d.ID] = docEntry{termFreq: tf, length: len(tokens)}
	for term := range tf {
		e.docFreq[term]++
	}

	meta := d.Meta
	if meta.TokenLength == 0 {
		meta.TokenLength = len(tokens)
	}
	e.stagedMeta[d.ID] = meta
}

func (e *engine) decrementDocFreq(old docEntry) {
	for term := range old.termFreq {
		if n := e.docFreq[term]; n <= 1 {
			delete(e.docFreq, term)
		} else {
			e.docFreq[term] = n - 1
		}
	}
}

func (e *engine) remove(id uuid.UUID) {
	old, exists := e.docs[id]
	if !exists {
		return
	}
	e.decrementDocFreq(old)
	delete(e.docs, id)
	delete(e.stagedMeta, id)
}

func (e *engine) search(query string, topK int) []ScoredDoc {
	terms := tokenizeQuery(query)
	n := float64(len(e.docs))

	type scored struct {
		id    uuid.UUID
		score float64
	}
	scores := make(map[uuid.UUID]float64)
	for _, term := range terms {
		df := e.docFreq[term]
		if df == 0 {
			continue
		}
		idf := idfOf(n, float64(df))
		for id, entry := range e.docs {
			tf := entry.termFreq[term]
			if tf == 0 {
				continue
			}
			norm := 1 - b + b*(float64(entry.length)/avgdlOrOne(e.avgdl))
			scores[id] += idf * (float64(tf) * (k1 + 1)) / (float64(tf) + k1*norm)
		}
	}

	results := make([]scored, 0, len(scores))
	for id, s := range scores {
		results = append(results, scored{id: id, score: s})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].score != results[j].score {
			return results[i].score > results[j].score
		}
		return results[i].id.String() < results[j].id.String() // deterministic tie-break
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}

	out := make([]ScoredDoc, len(results))
	for i, r := range results {
		out[i] = ScoredDoc{ID: r.id, Score: r.score}
	}
	return out
}

func idfOf(n, df float64) float64 {
	// Okapi BM25 IDF with the +1 inside the log to keep it non-negative
	// for terms present in every document, matching the `bm25` crate.
	return logNatural(1 + (n-df+0.5)/(df+0.5))
}

func avgdlOrOne(avgdl float64) float64 {
	if avgdl <= 0 {
		return 1
	}
	return avgdl
}

// computeAvgdlFromStaged recomputes avgdl from staged per-doc metadata,
// matching the corpus-seeding flow: index documents against a placeholder
// avgdl, then call FinalizeSeed once the whole corpus has been staged to
// fit the real value.
func (e *engine) computeAvgdlFromStaged() float64 {
	if len(e.stagedMeta) == 0 {
		return 0
	}
	var total int
	for _, m := range e.stagedMeta {
		total += m.TokenLength
	}
	return float64(total) / float64(len(e.stagedMeta))
}

func (e *engine) drainStagedMeta() map[uuid.UUID]DocMeta {
	drained := e.stagedMeta
	e.stagedMeta = make(map[uuid.UUID]DocMeta)
	return drained
}

// newFromCorpus builds an engine from a one-shot corpus, fitting avgdl
// from the corpus itself before indexing (mirrors Bm25Indexer::new_from_corpus).
func newFromCorpus(corpus []Doc) *engine {
	var total int
	for _, d := range corpus {
		if d.Meta.TokenLength == 0 {
			d.Meta.TokenLength = codetok.CountTokens(d.Snippet)
		}
		total += d.Meta.TokenLength
	}
	avgdl := 0.0
	if len(corpus) > 0 {
		avgdl = float64(total) / float64(len(corpus))
	}
	e := newEngine(avgdl)
	e.indexBatch(corpus)
	return e
}

func logNatural(x float64) float64 {
	return math.Log(x)
}

// tokenizeQuery trims a raw query the same way a snippet is tokenized, so
// term lookups hit the same keys index-side.
func tokenizeQuery(q string) []string {
	return codetok.Tokenize(strings.TrimSpace(q))
}
