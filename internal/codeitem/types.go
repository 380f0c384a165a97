// Package codeitem defines the data model shared by every ploke component:
// CodeItem, FileNode, Relation, embeddings, and the cursor/change-tracking
// records the indexer pipeline moves between stages.
package codeitem

import (
	"time"

	"github.com/google/uuid"
)

// Kind is the closed set of primary node kinds the parser can emit.
type Kind string

const (
	KindFunction   Kind = "function"
	KindStruct     Kind = "struct"
	KindEnum       Kind = "enum"
	KindUnion      Kind = "union"
	KindTypeAlias  Kind = "type_alias"
	KindTrait      Kind = "trait"
	KindImpl       Kind = "impl"
	KindModule     Kind = "module"
	KindConst      Kind = "const"
	KindStatic     Kind = "static"
	KindMacro      Kind = "macro"
	KindImport     Kind = "import"
	KindMethod     Kind = "method"
)

// PrimaryKinds is the fixed ordering the orchestrator walks when building a
// batch: it must be stable across runs for cursor semantics to hold.
var PrimaryKinds = []Kind{
	KindFunction, KindStruct, KindEnum, KindUnion, KindTypeAlias,
	KindTrait, KindImpl, KindModule, KindConst, KindStatic,
	KindMacro, KindImport, KindMethod,
}

// ByteRange is a half-open [Start, End) byte span within a file.
type ByteRange struct {
	Start int
	End   int
}

// CodeItem is a uniquely-identified source construct.
type CodeItem struct {
	ID             uuid.UUID
	Kind           Kind
	Name           string
	ModulePath     []string // ordered sequence of segments
	FileID         uuid.UUID
	Range          ByteRange
	Docstring      string
	Body           string
	TrackingHash   uuid.UUID
	HasTrackingHash bool
	Embedding      []float32 // nil until computed
}

// ItemID derives the deterministic identifier from (namespace, file path,
// kind, qualified path) per the invariant in the data model: two snapshots
// of the same item must yield the same id.
func ItemID(namespace uuid.UUID, filePath string, kind Kind, qualifiedPath []string) uuid.UUID {
	seed := filePath + "\x1f" + string(kind) + "\x1f"
	for _, seg := range qualifiedPath {
		seed += seg + "\x1e"
	}
	return uuid.NewSHA1(namespace, []byte(seed))
}

// GenerateTrackingHash derives a content-addressed hash for a file: a
// UUID-v5 over the absolute path plus its tokenized contents. Two reads of
// unchanged content under the same namespace always yield the same hash,
// which is what lets the scanner and snippet reader detect drift without
// storing file bytes.
func GenerateTrackingHash(namespace uuid.UUID, absPath string, tokens []string) uuid.UUID {
	seed := absPath + "\x1f"
	for _, tok := range tokens {
		seed += tok + "\x1e"
	}
	return uuid.NewSHA1(namespace, []byte(seed))
}

// FileNode identifies a parsed source file.
type FileNode struct {
	ID            uuid.UUID
	Path          string // absolute
	TrackingHash  uuid.UUID
	Namespace     uuid.UUID
	RootDiverged  bool // recorded workspace root differs from the current focus root; stored and read back by the store, set by no caller in this module
	IndexedAt     time.Time
}

// RelationKind enumerates the typed directed edges between nodes. Module-
// level variants (ModuleItem/ModuleSubmodule/ModuleImport/ModuleExport) are
// reinstated as first-class variants rather than folded into Contains or
// ReExports (see DESIGN.md, Open Question 1): folding them would make
// semantically distinct edges collide under one discriminant and defeat
// duplicate detection.
type RelationKind string

const (
	RelContains             RelationKind = "contains"              // Module -> Primary
	RelResolvesToDefinition RelationKind = "resolves_to_definition" // Decl -> Defn
	RelReExports            RelationKind = "re_exports"             // Import -> Primary
	RelImplAssociatedItem   RelationKind = "impl_associated_item"    // Impl -> Method
	RelUses                 RelationKind = "uses"
	RelInherits             RelationKind = "inherits"
	RelFunctionParameter    RelationKind = "function_parameter"
	RelStructField          RelationKind = "struct_field"
	RelModuleItem           RelationKind = "module_item"
	RelModuleSubmodule      RelationKind = "module_submodule"
	RelModuleImport         RelationKind = "module_import"
	RelModuleExport         RelationKind = "module_export"
)

// Relation is a typed directed edge between two nodes.
type Relation struct {
	SourceID uuid.UUID
	TargetID uuid.UUID
	Kind     RelationKind
}

// Key returns a value suitable for deduplicating relations in a set;
// duplicate relations must be detectable, never silently dropped.
func (r Relation) Key() string {
	return r.SourceID.String() + "\x1f" + r.TargetID.String() + "\x1f" + string(r.Kind)
}

// RelationSet deduplicates relations and reports attempted duplicates so
// callers can treat them as the bug they are.
type RelationSet struct {
	byKey map[string]Relation
}

func NewRelationSet() *RelationSet {
	return &RelationSet{byKey: make(map[string]Relation)}
}

// Add inserts r, returning false if an identical relation was already
// present (a caller that expected uniqueness should treat false as a bug).
func (s *RelationSet) Add(r Relation) bool {
	k := r.Key()
	if _, exists := s.byKey[k]; exists {
		return false
	}
	s.byKey[k] = r
	return true
}

func (s *RelationSet) Len() int { return len(s.byKey) }

func (s *RelationSet) All() []Relation {
	out := make([]Relation, 0, len(s.byKey))
	for _, r := range s.byKey {
		out = append(out, r)
	}
	return out
}

// EmbeddingSet identifies the active (provider, model, dimension) tuple
// under which dense vectors were produced.
type EmbeddingSet struct {
	Provider  string
	Model     string
	Dimension int
}

// SparseDoc is the BM25 service's per-CodeItem staging record.
type SparseDoc struct {
	ID           uuid.UUID
	TokenLength  int
	TrackingHash uuid.UUID
}

// IndexCursor is the per-node-kind progress marker used by paged store
// reads: it must never move backwards within a run.
type IndexCursor struct {
	Kind Kind
	After uuid.UUID // zero value means "from the start"
}

// ChangeRecord is the per-file result of a rescan.
type ChangeRecord struct {
	FileID  uuid.UUID
	NewHash uuid.UUID
	Changed bool
}
