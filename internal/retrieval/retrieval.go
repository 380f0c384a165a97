// Package retrieval turns a natural-language query into ranked, hydrated
// code snippets. A query is embedded once,
// run against the dense (HNSW) backend and then the sparse (BM25) one,
// fused with Reciprocal Rank Fusion, and the surviving hits are hydrated
// back into source snippets. Recent queries are served from an LRU cache
// rather than re-embedding and re-fusing.
package retrieval

import (
	"context"
	"fmt"
	"sort"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/bm25svc"
	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/embedprovider"
	"github.com/plokeai/ploke/internal/perr"
	"github.com/plokeai/ploke/internal/snippet"
	"github.com/plokeai/ploke/internal/store"
)

// defaultCacheSize bounds the number of distinct (query, topK) pairs kept
// warm; a cold repo's working set of queries rarely exceeds a few dozen
// in a single session.
const defaultCacheSize = 256

// overfetchFactor requests more candidates than topK from each backend
// before fusion, since RRF's ranking can promote a document that placed
// outside topK in one list but well inside the other.
const overfetchFactor = 4

// Hit is one ranked, hydrated search result.
type Hit struct {
	ItemID   uuid.UUID
	Kind     codeitem.Kind
	Name     string
	FilePath string
	Range    codeitem.ByteRange
	Snippet  string
	Score    float64 // normalized RRF score, 0-1
	InBoth   bool    // present in both the sparse and dense lists
}

// Config wires a Service to its collaborators. Sparse may be nil, in
// which case search degrades to dense-only (no fusion).
type Config struct {
	Engine   store.Engine
	Embedder embedprovider.Embedder
	Sparse   *bm25svc.Service
	Snippets *snippet.Reader
	Weights  Weights
	CacheSize int
}

// Service answers Search calls over one store.Engine.
type Service struct {
	engine   store.Engine
	embedder embedprovider.Embedder
	sparse   *bm25svc.Service
	snippets *snippet.Reader
	weights  Weights
	fusion   *rrfFusion
	cache    *lru.Cache[cacheKey, []Hit]
}

type cacheKey struct {
	query string
	topK  int
}

// New builds a retrieval Service from cfg.
func New(cfg Config) (*Service, error) {
	weights := cfg.Weights
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[cacheKey, []Hit](size)
	if err != nil {
		return nil, perr.RunFailed(fmt.Sprintf("create retrieval cache: %v", err))
	}
	return &Service{
		engine:   cfg.Engine,
		embedder: cfg.Embedder,
		sparse:   cfg.Sparse,
		snippets: cfg.Snippets,
		weights:  weights,
		fusion:   newRRFFusion(DefaultRRFConstant),
		cache:    cache,
	}, nil
}

// Search embeds query, fans it out to the dense and sparse backends,
// fuses the two ranked lists, and hydrates the top topK hits with their
// source snippets.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]Hit, error) {
	if topK <= 0 {
		topK = 10
	}
	key := cacheKey{query: query, topK: topK}
	if hits, ok := s.cache.Get(key); ok {
		return hits, nil
	}

	fetchK := topK * overfetchFactor

	vectors, err := s.embedder.ComputeBatch(ctx, []string{query})
	if err != nil {
		return nil, perr.RunFailed(fmt.Sprintf("embed query: %v", err))
	}
	if len(vectors) != 1 {
		return nil, perr.RunFailed("embedder returned no vector for query")
	}

	vecResults, err := s.engine.SearchKNN(ctx, vectors[0], fetchK)
	if err != nil {
		return nil, perr.Db(err)
	}

	var bm25Results []*store.BM25Result
	if s.sparse != nil {
		scored, err := s.sparse.Search(ctx, query, fetchK)
		if err != nil {
			return nil, perr.RunFailed(fmt.Sprintf("sparse search: %v", err))
		}
		bm25Results = make([]*store.BM25Result, len(scored))
		for i, sd := range scored {
			bm25Results[i] = &store.BM25Result{DocID: sd.ID.String(), Score: sd.Score}
		}
	}

	fused := s.fusion.fuse(bm25Results, vecResults, s.weights)
	if len(fused) > topK {
		fused = fused[:topK]
	}

	hits, err := s.hydrate(ctx, fused)
	if err != nil {
		return nil, err
	}

	s.cache.Add(key, hits)
	return hits, nil
}

// hydrate resolves fused candidate ids back into code items and their
// source snippets, preserving the fusion order.
func (s *Service) hydrate(ctx context.Context, fused []*fusedResult) ([]Hit, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(fused))
	order := make(map[uuid.UUID]int, len(fused))
	for i, f := range fused {
		id, err := uuid.Parse(f.id)
		if err != nil {
			continue
		}
		ids = append(ids, id)
		order[id] = i
	}

	items, err := s.engine.GetCodeItemsByIDs(ctx, ids)
	if err != nil {
		return nil, perr.Db(err)
	}

	fileCache := make(map[uuid.UUID]codeitem.FileNode)
	var requests []snippet.Request
	itemByID := make(map[uuid.UUID]codeitem.CodeItem, len(items))
	for _, item := range items {
		itemByID[item.ID] = item
		file, ok := fileCache[item.FileID]
		if !ok {
			file, err = s.engine.GetFileNodeByID(ctx, item.FileID)
			if err != nil {
				continue
			}
			fileCache[item.FileID] = file
		}
		if s.snippets != nil {
			requests = append(requests, snippet.Request{
				ID:               item.ID,
				FilePath:         file.Path,
				FileTrackingHash: file.TrackingHash,
				Range:            item.Range,
				Namespace:        file.Namespace,
			})
		}
	}

	snippetByID := make(map[uuid.UUID]string, len(requests))
	if s.snippets != nil && len(requests) > 0 {
		for _, res := range s.snippets.GetSnippets(ctx, requests) {
			if res.Err == nil {
				snippetByID[res.ID] = res.Content
			}
		}
	}

	hits := make([]Hit, 0, len(ids))
	for _, id := range ids {
		item, ok := itemByID[id]
		if !ok {
			continue
		}
		file := fileCache[item.FileID]
		f := fused[order[id]]
		hits = append(hits, Hit{
			ItemID:   item.ID,
			Kind:     item.Kind,
			Name:     item.Name,
			FilePath: file.Path,
			Range:    item.Range,
			Snippet:  snippetByID[item.ID],
			Score:    f.rrfScore,
			InBoth:   f.inBothLists,
		})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	return hits, nil
}
