// Package store is the persistence layer backing the code graph. It is
// treated abstractly as an engine over named relations
// (file nodes, code items, typed edges) with parameterized upsert
// scripts, vector KNN per embedding set, streaming cursors, and
// whole-database backup/restore. The concrete implementation is a
// SQLite-backed relation store (WAL mode, single writer) plus an
// in-process HNSW graph per embedding-set dimension for nearest-neighbor
// search; sparse (keyword) search is a separate actor-based engine in
// internal/bm25svc, not part of this package.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/codeitem"
)

// CurrentSchemaVersion is the current store schema version.
const CurrentSchemaVersion = 1

// EmbeddingUpdate is one row of a batch embedding write: a code item's id
// paired with its freshly computed dense vector.
type EmbeddingUpdate struct {
	ID     uuid.UUID
	Vector []float32
}

// CrateInfo identifies a crate/package root tracked by the store, used by
// the scanner and the backup path to resolve a name to its files.
type CrateInfo struct {
	ID   uuid.UUID
	Name string
	Root string
}

// Engine is the abstract persistence surface the orchestrator, scanner,
// and retrieval layer are written against. Every method runs inside the
// engine's own transaction.
type Engine interface {
	// Relation lifecycle for the active embedding set.
	EnsureEmbeddingSetRelation(ctx context.Context) error
	PutEmbeddingSet(ctx context.Context, set codeitem.EmbeddingSet) error
	EnsureVectorEmbeddingRelation(ctx context.Context, set codeitem.EmbeddingSet) error
	ActiveEmbeddingSet(ctx context.Context) (codeitem.EmbeddingSet, bool, error)

	// Ingestion: writing a fresh or updated graph snapshot.
	UpsertFileNodes(ctx context.Context, files []codeitem.FileNode) error
	UpsertCodeItems(ctx context.Context, items []codeitem.CodeItem) error
	UpsertRelations(ctx context.Context, relations []codeitem.Relation) error

	// Batch embedding progress, consumed by the indexer orchestrator.
	CountUnembeddedNonFiles(ctx context.Context) (int, error)
	GetRelWithCursor(ctx context.Context, kind codeitem.Kind, batchSize int, cursor codeitem.IndexCursor) ([]codeitem.CodeItem, error)
	UpdateEmbeddingsBatch(ctx context.Context, updates []EmbeddingUpdate) error
	RetractEmbeddedFiles(ctx context.Context, fileID uuid.UUID, kind codeitem.Kind) error

	// Metadata queries used by the change scanner and backup path.
	EnsureCrate(ctx context.Context, info CrateInfo) error
	GetCrateFiles(ctx context.Context, crate string) ([]codeitem.FileNode, error)
	GetPathInfo(ctx context.Context, path string) (codeitem.FileNode, error)
	GetCrateNameID(ctx context.Context, crate string) (uuid.UUID, error)
	ListFileNodes(ctx context.Context) ([]codeitem.FileNode, error)
	DeleteCodeItemsByFile(ctx context.Context, fileID uuid.UUID) error
	GetFileNodeByID(ctx context.Context, id uuid.UUID) (codeitem.FileNode, error)

	// Vector KNN, backed by the in-process HNSW graph for the active set.
	SearchKNN(ctx context.Context, query []float32, k int) ([]*VectorResult, error)

	// Hydration, used by the retrieval path to turn a fused hit's id back
	// into the code item it names.
	GetCodeItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]codeitem.CodeItem, error)

	// Whole-database backup/restore, off the hot path.
	BackupTo(ctx context.Context, path string) error
	ImportFromBackup(ctx context.Context, path string) error

	Close() error
}

// VectorResult represents a single vector search result.
type VectorResult struct {
	ID       string  // CodeItem ID (uuid string form)
	Distance float32 // Lower is more similar (0-2 for cosine)
	Score    float32 // Normalized similarity (0-1)
}

// VectorStoreConfig configures the vector store.
type VectorStoreConfig struct {
	Dimensions     int
	Metric         string // "cos" (cosine), "l2" (euclidean)
	M              int    // HNSW max connections per layer
	EfConstruction int    // HNSW build-time search width
	EfSearch       int    // HNSW query-time search width
}

// DefaultVectorStoreConfig returns sensible defaults for vector store.
func DefaultVectorStoreConfig(dimensions int) VectorStoreConfig {
	return VectorStoreConfig{
		Dimensions:     dimensions,
		Metric:         "cos",
		M:              32,
		EfConstruction: 128,
		EfSearch:       64,
	}
}

// VectorStore provides semantic search using HNSW algorithm over one
// fixed dimension. The engine keeps one instance per active embedding
// set's dimension.
type VectorStore interface {
	Add(ctx context.Context, ids []string, vectors [][]float32) error
	Search(ctx context.Context, query []float32, k int) ([]*VectorResult, error)
	Delete(ctx context.Context, ids []string) error
	AllIDs() []string
	Contains(id string) bool
	Count() int
	Save(path string) error
	Load(path string) error
	Close() error
}

// ErrDimensionMismatch indicates vector dimension mismatch.
type ErrDimensionMismatch struct {
	Expected int
	Got      int
}

func (e ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d (reindex with the matching embedding set)", e.Expected, e.Got)
}

// BM25Result represents a single sparse search result, as returned by
// internal/bm25svc's actor-based keyword index.
type BM25Result struct {
	DocID        string
	Score        float64
	MatchedTerms []string
}

// indexedAtNow stamps IndexedAt on a FileNode at upsert time when the
// caller left it zero.
func indexedAtNow() time.Time { return time.Now() }
