package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plokeai/ploke/internal/bm25svc"
	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/codetok"
	"github.com/plokeai/ploke/internal/snippet"
	"github.com/plokeai/ploke/internal/store"
)

// stubEmbedder returns the same fixed vector for every input, so a test
// can steer which stored item looks closest without needing a
// real model.
type stubEmbedder struct {
	vec []float32
}

func (s *stubEmbedder) ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error) {
	out := make([][]float32, len(snippets))
	for i := range snippets {
		out[i] = s.vec
	}
	return out, nil
}
func (s *stubEmbedder) Dimensions() int   { return len(s.vec) }
func (s *stubEmbedder) ModelName() string { return "stub" }

func setupRetrievalTest(t *testing.T) (*store.SQLiteEngine, string, uuid.UUID) {
	t.Helper()
	e, err := store.OpenSQLiteEngine("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	ctx := context.Background()
	require.NoError(t, e.EnsureEmbeddingSetRelation(ctx))
	set := codeitem.EmbeddingSet{Provider: "local", Model: "m", Dimension: 3}
	require.NoError(t, e.PutEmbeddingSet(ctx, set))
	require.NoError(t, e.EnsureVectorEmbeddingRelation(ctx, set))

	dir := t.TempDir()
	namespace := uuid.New()
	return e, dir, namespace
}

func seedSearchableItem(t *testing.T, e *store.SQLiteEngine, sparse *bm25svc.Service, dir string, namespace uuid.UUID, name, content string, vec []float32) codeitem.CodeItem {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fileID := uuid.New()
	fileHash := codeitem.GenerateTrackingHash(namespace, path, codetok.Tokenize(content))
	require.NoError(t, e.UpsertFileNodes(ctx, []codeitem.FileNode{
		{ID: fileID, Path: path, TrackingHash: fileHash, Namespace: namespace},
	}))
	item := codeitem.CodeItem{
		ID:     uuid.New(),
		Kind:   codeitem.KindFunction,
		Name:   name,
		FileID: fileID,
		Range:  codeitem.ByteRange{Start: 0, End: len(content)},
	}
	require.NoError(t, e.UpsertCodeItems(ctx, []codeitem.CodeItem{item}))
	require.NoError(t, e.UpdateEmbeddingsBatch(ctx, []store.EmbeddingUpdate{{ID: item.ID, Vector: vec}}))

	if sparse != nil {
		_, err := sparse.IndexBatch(ctx, []bm25svc.Doc{{
			ID:      item.ID,
			Meta:    bm25svc.DocMeta{TokenLength: len(codetok.Tokenize(content)), TrackingHash: fileHash},
			Snippet: content,
		}})
		require.NoError(t, err)
	}
	return item
}

func TestSearch_ReturnsHydratedHitForClosestVector(t *testing.T) {
	// Given: two items, one whose embedding matches the query vector exactly
	e, dir, namespace := setupRetrievalTest(t)
	seedSearchableItem(t, e, nil, dir, namespace, "near.rs", "fn parse_widget() {}", []float32{1, 0, 0})
	seedSearchableItem(t, e, nil, dir, namespace, "far.rs", "fn unrelated() {}", []float32{0, 1, 0})

	svc, err := New(Config{
		Engine:   e,
		Embedder: &stubEmbedder{vec: []float32{1, 0, 0}},
		Snippets: snippet.NewReader(),
	})
	require.NoError(t, err)

	// When: searching
	hits, err := svc.Search(context.Background(), "widget parser", 5)

	// Then: the closer item ranks first and carries its source snippet
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "near.rs", filepath.Base(hits[0].FilePath))
	assert.Contains(t, hits[0].Snippet, "parse_widget")
}

func TestSearch_FusesSparseAndDenseHits(t *testing.T) {
	// Given: an item that ranks well in BM25 but not as the top vector hit,
	// indexed into both backends
	e, dir, namespace := setupRetrievalTest(t)
	sparse := bm25svc.Start(context.Background(), 1.0)
	defer sparse.Close()

	seedSearchableItem(t, e, sparse, dir, namespace, "a.rs", "fn alpha_widget_handler() {}", []float32{0.9, 0.1, 0})
	seedSearchableItem(t, e, sparse, dir, namespace, "b.rs", "fn totally_different() {}", []float32{1, 0, 0})

	svc, err := New(Config{
		Engine:   e,
		Embedder: &stubEmbedder{vec: []float32{1, 0, 0}},
		Sparse:   sparse,
		Snippets: snippet.NewReader(),
	})
	require.NoError(t, err)

	// When: searching with a query term that only matches a.rs's body
	hits, err := svc.Search(context.Background(), "alpha_widget_handler", 5)

	// Then: both items are returned (fusion didn't drop either list)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestSearch_CachesRepeatedQueries(t *testing.T) {
	// Given: a seeded store and one successful search
	e, dir, namespace := setupRetrievalTest(t)
	seedSearchableItem(t, e, nil, dir, namespace, "a.rs", "fn a() {}", []float32{1, 0, 0})

	svc, err := New(Config{
		Engine:   e,
		Embedder: &stubEmbedder{vec: []float32{1, 0, 0}},
		Snippets: snippet.NewReader(),
	})
	require.NoError(t, err)
	ctx := context.Background()
	first, err := svc.Search(ctx, "a", 5)
	require.NoError(t, err)

	// When: closing the engine (so a fresh query would fail) and repeating
	// the exact same query
	require.NoError(t, e.Close())
	second, err := svc.Search(ctx, "a", 5)

	// Then: the cached result is served without touching the engine again
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
