package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plokeai/ploke/internal/codeitem"
)

func newTestEngine(t *testing.T) *SQLiteEngine {
	t.Helper()
	e, err := OpenSQLiteEngine("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestSQLiteEngine_EmbeddingSetRoundTrip(t *testing.T) {
	// Given: a fresh engine with no active embedding set
	e := newTestEngine(t)
	ctx := context.Background()

	_, ok, err := e.ActiveEmbeddingSet(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	// When: an embedding set is activated
	set := codeitem.EmbeddingSet{Provider: "local", Model: "nomic-embed-text", Dimension: 768}
	require.NoError(t, e.EnsureEmbeddingSetRelation(ctx))
	require.NoError(t, e.PutEmbeddingSet(ctx, set))
	require.NoError(t, e.EnsureVectorEmbeddingRelation(ctx, set))

	// Then: it round-trips and overwrites on repeated activation
	got, ok, err := e.ActiveEmbeddingSet(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, set, got)

	set2 := codeitem.EmbeddingSet{Provider: "openai", Model: "text-embedding-3-small", Dimension: 1536}
	require.NoError(t, e.PutEmbeddingSet(ctx, set2))
	got2, ok, err := e.ActiveEmbeddingSet(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, set2, got2)
}

func TestSQLiteEngine_UpsertAndCursorPagination(t *testing.T) {
	// Given: an engine with a handful of function items from one file
	e := newTestEngine(t)
	ctx := context.Background()
	namespace := uuid.New()
	fileID := uuid.New()

	require.NoError(t, e.UpsertFileNodes(ctx, []codeitem.FileNode{
		{ID: fileID, Path: "/repo/src/lib.rs", TrackingHash: uuid.New(), Namespace: namespace},
	}))

	var items []codeitem.CodeItem
	for i := 0; i < 5; i++ {
		items = append(items, codeitem.CodeItem{
			ID:     codeitem.ItemID(namespace, "/repo/src/lib.rs", codeitem.KindFunction, []string{"f", uuid.New().String()}),
			Kind:   codeitem.KindFunction,
			Name:   "f",
			FileID: fileID,
		})
	}
	require.NoError(t, e.UpsertCodeItems(ctx, items))

	// When: paging through with a batch size smaller than the total
	var seen []codeitem.CodeItem
	cursor := codeitem.IndexCursor{Kind: codeitem.KindFunction}
	for {
		page, err := e.GetRelWithCursor(ctx, codeitem.KindFunction, 2, cursor)
		require.NoError(t, err)
		if len(page) == 0 {
			break
		}
		seen = append(seen, page...)
		cursor = codeitem.IndexCursor{Kind: codeitem.KindFunction, After: page[len(page)-1].ID}
	}

	// Then: every item is visited exactly once, in ascending id order
	assert.Len(t, seen, 5)
	for i := 1; i < len(seen); i++ {
		assert.Less(t, seen[i-1].ID.String(), seen[i].ID.String())
	}
}

func TestSQLiteEngine_UpdateEmbeddingsBatchFeedsVectorStore(t *testing.T) {
	// Given: one unembedded code item and an active embedding set
	e := newTestEngine(t)
	ctx := context.Background()
	set := codeitem.EmbeddingSet{Provider: "local", Model: "m", Dimension: 4}
	require.NoError(t, e.EnsureEmbeddingSetRelation(ctx))
	require.NoError(t, e.PutEmbeddingSet(ctx, set))
	require.NoError(t, e.EnsureVectorEmbeddingRelation(ctx, set))

	fileID := uuid.New()
	require.NoError(t, e.UpsertFileNodes(ctx, []codeitem.FileNode{{ID: fileID, Path: "/a.rs", TrackingHash: uuid.New(), Namespace: uuid.New()}}))
	itemID := uuid.New()
	require.NoError(t, e.UpsertCodeItems(ctx, []codeitem.CodeItem{{ID: itemID, Kind: codeitem.KindFunction, Name: "f", FileID: fileID}}))

	n, err := e.CountUnembeddedNonFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// When: the item is embedded
	require.NoError(t, e.UpdateEmbeddingsBatch(ctx, []EmbeddingUpdate{{ID: itemID, Vector: []float32{0.1, 0.2, 0.3, 0.4}}}))

	// Then: the unembedded count drops and KNN finds it
	n, err = e.CountUnembeddedNonFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	results, err := e.SearchKNN(ctx, []float32{0.1, 0.2, 0.3, 0.4}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, itemID.String(), results[0].ID)
}

func TestSQLiteEngine_RetractEmbeddedFilesClearsVectorsForKind(t *testing.T) {
	// Given: a file with one embedded function and one embedded struct
	e := newTestEngine(t)
	ctx := context.Background()
	set := codeitem.EmbeddingSet{Provider: "local", Model: "m", Dimension: 3}
	require.NoError(t, e.EnsureEmbeddingSetRelation(ctx))
	require.NoError(t, e.PutEmbeddingSet(ctx, set))
	require.NoError(t, e.EnsureVectorEmbeddingRelation(ctx, set))

	fileID := uuid.New()
	require.NoError(t, e.UpsertFileNodes(ctx, []codeitem.FileNode{{ID: fileID, Path: "/a.rs", TrackingHash: uuid.New(), Namespace: uuid.New()}}))
	fnID, structID := uuid.New(), uuid.New()
	require.NoError(t, e.UpsertCodeItems(ctx, []codeitem.CodeItem{
		{ID: fnID, Kind: codeitem.KindFunction, Name: "f", FileID: fileID},
		{ID: structID, Kind: codeitem.KindStruct, Name: "S", FileID: fileID},
	}))
	require.NoError(t, e.UpdateEmbeddingsBatch(ctx, []EmbeddingUpdate{
		{ID: fnID, Vector: []float32{1, 0, 0}},
		{ID: structID, Vector: []float32{0, 1, 0}},
	}))

	// When: retracting only the function kind for that file
	require.NoError(t, e.RetractEmbeddedFiles(ctx, fileID, codeitem.KindFunction))

	// Then: only the function's embedding is cleared, the struct's survives
	n, err := e.CountUnembeddedNonFiles(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	results, err := e.SearchKNN(ctx, []float32{0, 1, 0}, 5)
	require.NoError(t, err)
	var sawStruct bool
	for _, r := range results {
		if r.ID == structID.String() {
			sawStruct = true
		}
		assert.NotEqual(t, fnID.String(), r.ID)
	}
	assert.True(t, sawStruct)
}

func TestSQLiteEngine_CrateAndPathQueries(t *testing.T) {
	// Given: a crate with two tracked files
	e := newTestEngine(t)
	ctx := context.Background()
	crateID := uuid.New()
	require.NoError(t, e.EnsureCrate(ctx, CrateInfo{ID: crateID, Name: "widgets", Root: "/repo"}))
	require.NoError(t, e.UpsertFileNodes(ctx, []codeitem.FileNode{
		{ID: uuid.New(), Path: "/repo/a.rs", TrackingHash: uuid.New(), Namespace: crateID},
		{ID: uuid.New(), Path: "/repo/b.rs", TrackingHash: uuid.New(), Namespace: crateID},
	}))

	// When / Then: the crate resolves by name and its files are listed
	id, err := e.GetCrateNameID(ctx, "widgets")
	require.NoError(t, err)
	assert.Equal(t, crateID, id)

	files, err := e.GetCrateFiles(ctx, "widgets")
	require.NoError(t, err)
	assert.Len(t, files, 2)

	info, err := e.GetPathInfo(ctx, "/repo/a.rs")
	require.NoError(t, err)
	assert.Equal(t, "/repo/a.rs", info.Path)
}

func TestSQLiteEngine_BackupAndRestoreRebuildsKNN(t *testing.T) {
	// Given: a populated engine backed up to a temp file
	dir := t.TempDir()
	e := newTestEngine(t)
	ctx := context.Background()
	set := codeitem.EmbeddingSet{Provider: "local", Model: "m", Dimension: 2}
	require.NoError(t, e.EnsureEmbeddingSetRelation(ctx))
	require.NoError(t, e.PutEmbeddingSet(ctx, set))
	require.NoError(t, e.EnsureVectorEmbeddingRelation(ctx, set))

	fileID := uuid.New()
	require.NoError(t, e.UpsertFileNodes(ctx, []codeitem.FileNode{{ID: fileID, Path: "/a.rs", TrackingHash: uuid.New(), Namespace: uuid.New()}}))
	itemID := uuid.New()
	require.NoError(t, e.UpsertCodeItems(ctx, []codeitem.CodeItem{{ID: itemID, Kind: codeitem.KindFunction, Name: "f", FileID: fileID}}))
	require.NoError(t, e.UpdateEmbeddingsBatch(ctx, []EmbeddingUpdate{{ID: itemID, Vector: []float32{1, 0}}}))

	backupPath := filepath.Join(dir, "snapshot.db")
	require.NoError(t, e.BackupTo(ctx, backupPath))

	// When: importing into a fresh, empty engine
	restored := newTestEngine(t)
	require.NoError(t, restored.ImportFromBackup(ctx, backupPath))

	// Then: relations and the KNN index are both available again
	files, err := restored.ListFileNodes(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	results, err := restored.SearchKNN(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, itemID.String(), results[0].ID)

	// And: importing into a non-empty target is rejected
	require.Error(t, restored.ImportFromBackup(ctx, backupPath))
}
