package orchestrator

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/plokeai/ploke/internal/bm25svc"
	"github.com/plokeai/ploke/internal/bus"
	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/codetok"
	"github.com/plokeai/ploke/internal/snippet"
	"github.com/plokeai/ploke/internal/store"
)

// fakeEmbedder returns a deterministic unit vector per snippet so tests
// can assert on exact update counts without a real provider.
type fakeEmbedder struct {
	dims int
	err  error
}

func (f *fakeEmbedder) ComputeBatch(ctx context.Context, snippets []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(snippets))
	for i := range snippets {
		vec := make([]float32, f.dims)
		vec[0] = 1
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int  { return f.dims }
func (f *fakeEmbedder) ModelName() string { return "fake" }

func setupOrchestratorTest(t *testing.T) (*store.SQLiteEngine, string, uuid.UUID) {
	t.Helper()
	e, err := store.OpenSQLiteEngine("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	dir := t.TempDir()
	ctx := context.Background()
	namespace := uuid.New()
	set := codeitem.EmbeddingSet{Provider: "local", Model: "m", Dimension: 4}
	require.NoError(t, e.EnsureEmbeddingSetRelation(ctx))
	require.NoError(t, e.PutEmbeddingSet(ctx, set))
	require.NoError(t, e.EnsureVectorEmbeddingRelation(ctx, set))
	return e, dir, namespace
}

func seedUnembeddedItem(t *testing.T, e *store.SQLiteEngine, dir string, namespace uuid.UUID, name, content string) codeitem.CodeItem {
	t.Helper()
	ctx := context.Background()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fileID := uuid.New()
	require.NoError(t, e.UpsertFileNodes(ctx, []codeitem.FileNode{
		{ID: fileID, Path: path, TrackingHash: codeitem.GenerateTrackingHash(namespace, path, codetok.Tokenize(content)), Namespace: namespace},
	}))
	item := codeitem.CodeItem{
		ID:     uuid.New(),
		Kind:   codeitem.KindFunction,
		Name:   name,
		FileID: fileID,
		Range:  codeitem.ByteRange{Start: 0, End: len(content)},
	}
	require.NoError(t, e.UpsertCodeItems(ctx, []codeitem.CodeItem{item}))
	return item
}

func TestIndexWorkspace_EmbedsAllUnembeddedItems(t *testing.T) {
	// Given: two unembedded items across two files
	e, dir, namespace := setupOrchestratorTest(t)
	seedUnembeddedItem(t, e, dir, namespace, "a.rs", "fn a() {}")
	seedUnembeddedItem(t, e, dir, namespace, "b.rs", "fn b() {}")

	sparse := bm25svc.Start(context.Background(), 1.0)
	defer sparse.Close()

	o := New(Config{
		Engine:    e,
		Embedder:  &fakeEmbedder{dims: 4},
		Sparse:    sparse,
		Snippets:  snippet.NewReader(),
		DataDir:   dir,
		BatchSize: 10,
	})

	// When: running one full index pass
	err := o.IndexWorkspace(context.Background(), namespace)

	// Then: the run completes and every item is embedded
	require.NoError(t, err)
	assert.Equal(t, Completed, o.Progress().Status)

	n, err := e.CountUnembeddedNonFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, o.Progress().RecentProcessed)
}

func TestIndexWorkspace_CancelStopsTheRun(t *testing.T) {
	// Given: an orchestrator whose control channel is pre-loaded with Cancel
	e, dir, namespace := setupOrchestratorTest(t)
	seedUnembeddedItem(t, e, dir, namespace, "a.rs", "fn a() {}")

	o := New(Config{
		Engine:    e,
		Embedder:  &fakeEmbedder{dims: 4},
		Snippets:  snippet.NewReader(),
		DataDir:   dir,
		BatchSize: 10,
	})
	o.Control(Cancel)

	// When: running
	err := o.IndexWorkspace(context.Background(), namespace)

	// Then: the run reports Cancelled rather than Completed, with no
	// batch written
	require.NoError(t, err)
	assert.Equal(t, Cancelled, o.Progress().Status)
}

func TestIndexWorkspace_RejectsConcurrentRuns(t *testing.T) {
	// Given: a lock file already held for this data directory
	e, dir, namespace := setupOrchestratorTest(t)
	seedUnembeddedItem(t, e, dir, namespace, "a.rs", "fn a() {}")

	first := New(Config{Engine: e, Embedder: &fakeEmbedder{dims: 4}, Snippets: snippet.NewReader(), DataDir: dir})
	require.NoError(t, os.MkdirAll(dir, 0o755))
	acquired, err := first.lock.TryLock()
	require.NoError(t, err)
	require.True(t, acquired)
	defer first.lock.Unlock()

	second := New(Config{Engine: e, Embedder: &fakeEmbedder{dims: 4}, Snippets: snippet.NewReader(), DataDir: dir})

	// When: a second run attempts to start against the same data dir
	err = second.IndexWorkspace(context.Background(), namespace)

	// Then: it is rejected rather than racing the first run
	require.Error(t, err)
}

func TestIndexWorkspace_ProviderErrorIsFatalAndPublishesFailedEvent(t *testing.T) {
	// Given: an embedder that always errors, and a subscriber on the
	// Realtime event lane
	e, dir, namespace := setupOrchestratorTest(t)
	seedUnembeddedItem(t, e, dir, namespace, "a.rs", "fn a() {}")

	events := bus.NewEventBus()
	realtime := events.Subscribe(bus.Realtime)

	o := New(Config{
		Engine:    e,
		Embedder:  &fakeEmbedder{dims: 4, err: errors.New("provider unreachable")},
		Snippets:  snippet.NewReader(),
		DataDir:   dir,
		BatchSize: 10,
		Events:    events,
	})

	// When: running
	err := o.IndexWorkspace(context.Background(), namespace)

	// Then: the run fails fatally rather than completing, and the failure
	// is broadcast on the event bus
	require.Error(t, err)
	assert.Equal(t, Failed, o.Progress().Status)

	var sawFailed bool
	for !sawFailed {
		select {
		case evt := <-realtime:
			if _, ok := evt.(bus.IndexingFailedEvent); ok {
				sawFailed = true
			}
		default:
			t.Fatal("expected an IndexingFailedEvent on the realtime lane")
		}
	}
}

func TestIndexWorkspace_CommandsTranslatesSaveDbIntoBackupEvent(t *testing.T) {
	// Given: an orchestrator whose command loop is running, and a
	// subscriber on the Background event lane
	e, dir, namespace := setupOrchestratorTest(t)

	events := bus.NewEventBus()
	background := events.Subscribe(bus.Background)

	o := New(Config{
		Engine:   e,
		Embedder: &fakeEmbedder{dims: 4},
		Snippets: snippet.NewReader(),
		DataDir:  dir,
		Events:   events,
	})
	cmds := bus.NewCommandBus(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() { o.Commands(ctx, cmds, namespace); close(done) }()

	// When: sending a SaveDbCmd through the bus
	backupPath := filepath.Join(dir, "backup")
	require.NoError(t, cmds.Send(bus.SaveDbCmd{Path: backupPath}))

	// Then: the command loop performs the backup and broadcasts the result
	evt := <-background
	saved, ok := evt.(bus.BackupDbEvent)
	require.True(t, ok, "expected a BackupDbEvent, got %T", evt)
	assert.Equal(t, backupPath, saved.Path)
	assert.NoError(t, saved.Err)

	cancel()
	<-done
}

func TestIndexWorkspace_DimensionMismatchIsWarnedNotWritten(t *testing.T) {
	// Given: an embedder that returns the wrong dimension
	e, dir, namespace := setupOrchestratorTest(t)
	seedUnembeddedItem(t, e, dir, namespace, "a.rs", "fn a() {}")

	o := New(Config{
		Engine:    e,
		Embedder:  &fakeEmbedder{dims: 3}, // engine's active set is dim 4
		Snippets:  snippet.NewReader(),
		DataDir:   dir,
		BatchSize: 10,
	})

	// When: running
	err := o.IndexWorkspace(context.Background(), namespace)

	// Then: the run still completes, but the mismatched vector was never
	// written
	require.NoError(t, err)
	n, err := e.CountUnembeddedNonFiles(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NotEmpty(t, o.Progress().Errors)
}
