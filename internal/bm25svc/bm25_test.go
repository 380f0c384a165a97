package bm25svc

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_SearchRanksExactTermHigher(t *testing.T) {
	idA := uuid.New()
	idB := uuid.New()
	a := "fn add_one(x: i32) -> i32 { x + 1 }"
	b := "/// does something\nfn compute_answer() -> i32 { 42 }"

	e := newFromCorpus([]Doc{
		{ID: idA, Snippet: a},
		{ID: idB, Snippet: b},
	})

	results := e.search("compute", 10)
	require.NotEmpty(t, results)
	assert.Equal(t, idB, results[0].ID)

	results2 := e.search("add_one", 10)
	require.NotEmpty(t, results2)
	assert.Equal(t, idA, results2[0].ID)
}

func TestEngine_ScoresHigherForMatchingDocument(t *testing.T) {
	e := newEngine(10.0)
	idA := uuid.New()
	idB := uuid.New()
	a := "fn alpha() { println(\"hello\"); }"
	b := "fn beta() { println(\"compute\"); }"

	e.indexBatch([]Doc{
		{ID: idA, Snippet: a},
		{ID: idB, Snippet: b},
	})

	results := e.search("compute", 10)
	require.Len(t, results, 1)
	assert.Equal(t, idB, results[0].ID)
}

func TestEngine_RemoveDropsFromResults(t *testing.T) {
	e := newEngine(10.0)
	id := uuid.New()
	e.indexBatch([]Doc{{ID: id, Snippet: "fn unique_xylophone() {}"}})

	require.NotEmpty(t, e.search("xylophone", 10))
	e.remove(id)
	assert.Empty(t, e.search("xylophone", 10))
}

func TestEngine_ComputeAvgdlFromStaged(t *testing.T) {
	e := newEngine(10.0)
	s1 := "fn first_token() { let x = 1; }"
	s2 := "fn second_token_longer_name() { let y = 2; }"
	id1, id2 := uuid.New(), uuid.New()
	e.indexBatch([]Doc{
		{ID: id1, Snippet: s1},
		{ID: id2, Snippet: s2},
	})

	got := e.computeAvgdlFromStaged()
	m1 := e.stagedMeta[id1].TokenLength
	m2 := e.stagedMeta[id2].TokenLength
	expected := float64(m1+m2) / 2.0
	assert.InDelta(t, expected, got, 1e-9)
}

func TestService_IndexSearchFinalizeRoundtrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := Start(ctx, 10.0)
	defer svc.Close()

	id := uuid.New()
	snippet := "fn unique_xylophone_token() { let compute = 1; }"
	n, err := svc.IndexBatch(ctx, []Doc{{ID: id, Snippet: snippet}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := svc.Search(ctx, "xylophone", 5)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, id, results[0].ID)

	res, err := svc.FinalizeSeed(ctx)
	require.NoError(t, err)
	assert.Greater(t, res.Avgdl, 0.0)
	assert.Contains(t, res.Staged, id)
}

func TestService_RemoveRoundtrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := Start(ctx, 10.0)
	defer svc.Close()

	id := uuid.New()
	_, err := svc.IndexBatch(ctx, []Doc{{ID: id, Snippet: "fn once_only_marker() {}"}})
	require.NoError(t, err)

	require.NoError(t, svc.Remove(ctx, id))

	results, err := svc.Search(ctx, "once_only_marker", 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestEngine_AbsentTermYieldsNoResults(t *testing.T) {
	e := newFromCorpus([]Doc{{ID: uuid.New(), Snippet: "fn a() {}"}})
	results := e.search("nonexistent_term_xyz", 10)
	assert.Empty(t, results)
}
