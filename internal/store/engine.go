package store

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/plokeai/ploke/internal/codeitem"
)

// SQLiteEngine implements Engine over a single SQLite database (WAL mode,
// single writer, see the pragma set in OpenSQLiteEngine) for relations,
// plus one in-process HNSWStore per active embedding-set dimension for
// KNN. The vector column on code_items is the durable copy the HNSW graph
// is rebuilt from after a restore; the graph itself is never the source
// of truth.
type SQLiteEngine struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	vector VectorStore // nil until an embedding set has been activated
}

var _ Engine = (*SQLiteEngine)(nil)

// OpenSQLiteEngine opens (creating if absent) the relation database at
// path and applies the WAL/single-writer pragma set.
func OpenSQLiteEngine(path string) (*SQLiteEngine, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create store directory: %w", err)
			}
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}

	e := &SQLiteEngine{db: db, path: path}
	if err := e.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *SQLiteEngine) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS embedding_set (
			id INTEGER PRIMARY KEY CHECK (id = 0),
			provider TEXT NOT NULL,
			model TEXT NOT NULL,
			dimension INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS crates (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			root TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS file_nodes (
			id TEXT PRIMARY KEY,
			path TEXT NOT NULL UNIQUE,
			tracking_hash TEXT NOT NULL,
			namespace TEXT NOT NULL,
			root_diverged INTEGER NOT NULL DEFAULT 0,
			indexed_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS code_items (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL,
			module_path TEXT NOT NULL,
			file_id TEXT NOT NULL,
			range_start INTEGER NOT NULL,
			range_end INTEGER NOT NULL,
			docstring TEXT NOT NULL,
			body TEXT NOT NULL,
			tracking_hash TEXT NOT NULL,
			has_tracking_hash INTEGER NOT NULL,
			embedding BLOB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_code_items_file_id ON code_items(file_id)`,
		`CREATE INDEX IF NOT EXISTS idx_code_items_kind ON code_items(kind)`,
		`CREATE TABLE IF NOT EXISTS relations (
			source_id TEXT NOT NULL,
			target_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			PRIMARY KEY (source_id, target_id, kind)
		)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (e *SQLiteEngine) EnsureEmbeddingSetRelation(ctx context.Context) error {
	// The CREATE TABLE IF NOT EXISTS in migrate already makes this
	// idempotent; this method exists so callers can rely on the relation
	// being present before PutEmbeddingSet without caring about migration
	// ordering.
	_, err := e.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS embedding_set (
		id INTEGER PRIMARY KEY CHECK (id = 0), provider TEXT NOT NULL, model TEXT NOT NULL, dimension INTEGER NOT NULL)`)
	return err
}

func (e *SQLiteEngine) PutEmbeddingSet(ctx context.Context, set codeitem.EmbeddingSet) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO embedding_set (id, provider, model, dimension) VALUES (0, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET provider=excluded.provider, model=excluded.model, dimension=excluded.dimension`,
		set.Provider, set.Model, set.Dimension)
	return err
}

func (e *SQLiteEngine) ActiveEmbeddingSet(ctx context.Context) (codeitem.EmbeddingSet, bool, error) {
	var set codeitem.EmbeddingSet
	row := e.db.QueryRowContext(ctx, `SELECT provider, model, dimension FROM embedding_set WHERE id = 0`)
	if err := row.Scan(&set.Provider, &set.Model, &set.Dimension); err != nil {
		if err == sql.ErrNoRows {
			return codeitem.EmbeddingSet{}, false, nil
		}
		return codeitem.EmbeddingSet{}, false, err
	}
	return set, true, nil
}

// EnsureVectorEmbeddingRelation creates (or recreates, if the dimension
// changed) the in-process HNSW graph sized for set's dimension. The
// vector-embedding relation is this graph plus the embedding BLOB column
// already present on code_items.
func (e *SQLiteEngine) EnsureVectorEmbeddingRelation(ctx context.Context, set codeitem.EmbeddingSet) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vs, err := NewHNSWStore(DefaultVectorStoreConfig(set.Dimension))
	if err != nil {
		return fmt.Errorf("create vector relation: %w", err)
	}
	e.vector = vs
	return nil
}

func (e *SQLiteEngine) UpsertFileNodes(ctx context.Context, files []codeitem.FileNode) error {
	if len(files) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO file_nodes (id, path, tracking_hash, namespace, root_diverged, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			path=excluded.path, tracking_hash=excluded.tracking_hash,
			namespace=excluded.namespace, root_diverged=excluded.root_diverged,
			indexed_at=excluded.indexed_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, f := range files {
		indexedAt := f.IndexedAt
		if indexedAt.IsZero() {
			indexedAt = indexedAtNow()
		}
		if _, err := stmt.ExecContext(ctx, f.ID.String(), f.Path, f.TrackingHash.String(), f.Namespace.String(), boolToInt(f.RootDiverged), indexedAt.Format(timeLayout)); err != nil {
			return fmt.Errorf("upsert file node %s: %w", f.Path, err)
		}
	}
	return tx.Commit()
}

func (e *SQLiteEngine) UpsertCodeItems(ctx context.Context, items []codeitem.CodeItem) error {
	if len(items) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO code_items (id, kind, name, module_path, file_id, range_start, range_end, docstring, body, tracking_hash, has_tracking_hash, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind=excluded.kind, name=excluded.name, module_path=excluded.module_path,
			file_id=excluded.file_id, range_start=excluded.range_start, range_end=excluded.range_end,
			docstring=excluded.docstring, body=excluded.body, tracking_hash=excluded.tracking_hash,
			has_tracking_hash=excluded.has_tracking_hash`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, it := range items {
		var embedding []byte
		if len(it.Embedding) > 0 {
			embedding = encodeFloats(it.Embedding)
		}
		if _, err := stmt.ExecContext(ctx, it.ID.String(), string(it.Kind), it.Name, strings.Join(it.ModulePath, "/"),
			it.FileID.String(), it.Range.Start, it.Range.End, it.Docstring, it.Body, it.TrackingHash.String(),
			boolToInt(it.HasTrackingHash), embedding); err != nil {
			return fmt.Errorf("upsert code item %s: %w", it.Name, err)
		}
	}
	return tx.Commit()
}

func (e *SQLiteEngine) UpsertRelations(ctx context.Context, relations []codeitem.Relation) error {
	if len(relations) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO relations (source_id, target_id, kind) VALUES (?, ?, ?)
		ON CONFLICT(source_id, target_id, kind) DO NOTHING`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range relations {
		if _, err := stmt.ExecContext(ctx, r.SourceID.String(), r.TargetID.String(), string(r.Kind)); err != nil {
			return fmt.Errorf("upsert relation: %w", err)
		}
	}
	return tx.Commit()
}

func (e *SQLiteEngine) CountUnembeddedNonFiles(ctx context.Context) (int, error) {
	var n int
	row := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM code_items WHERE embedding IS NULL`)
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

// GetRelWithCursor returns up to batchSize items of kind, ordered by id so
// that feeding back items.last().ID as the next cursor yields disjoint
// pages.
func (e *SQLiteEngine) GetRelWithCursor(ctx context.Context, kind codeitem.Kind, batchSize int, cursor codeitem.IndexCursor) ([]codeitem.CodeItem, error) {
	var rows *sql.Rows
	var err error
	if cursor.After == uuid.Nil {
		rows, err = e.db.QueryContext(ctx, `
			SELECT id, kind, name, module_path, file_id, range_start, range_end, docstring, body, tracking_hash, has_tracking_hash, embedding
			FROM code_items WHERE kind = ? ORDER BY id ASC LIMIT ?`, string(kind), batchSize)
	} else {
		rows, err = e.db.QueryContext(ctx, `
			SELECT id, kind, name, module_path, file_id, range_start, range_end, docstring, body, tracking_hash, has_tracking_hash, embedding
			FROM code_items WHERE kind = ? AND id > ? ORDER BY id ASC LIMIT ?`, string(kind), cursor.After.String(), batchSize)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []codeitem.CodeItem
	for rows.Next() {
		item, err := scanCodeItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (e *SQLiteEngine) UpdateEmbeddingsBatch(ctx context.Context, updates []EmbeddingUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `UPDATE code_items SET embedding = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, u := range updates {
		if _, err := stmt.ExecContext(ctx, encodeFloats(u.Vector), u.ID.String()); err != nil {
			return fmt.Errorf("update embedding %s: %w", u.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	e.mu.RLock()
	vs := e.vector
	e.mu.RUnlock()
	if vs == nil {
		return nil
	}
	ids := make([]string, len(updates))
	vectors := make([][]float32, len(updates))
	for i, u := range updates {
		ids[i] = u.ID.String()
		vectors[i] = u.Vector
	}
	return vs.Add(ctx, ids, vectors)
}

func (e *SQLiteEngine) RetractEmbeddedFiles(ctx context.Context, fileID uuid.UUID, kind codeitem.Kind) error {
	rows, err := e.db.QueryContext(ctx, `SELECT id FROM code_items WHERE file_id = ? AND kind = ?`, fileID.String(), string(kind))
	if err != nil {
		return err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	if _, err := e.db.ExecContext(ctx, `UPDATE code_items SET embedding = NULL WHERE file_id = ? AND kind = ?`, fileID.String(), string(kind)); err != nil {
		return err
	}

	e.mu.RLock()
	vs := e.vector
	e.mu.RUnlock()
	if vs == nil || len(ids) == 0 {
		return nil
	}
	return vs.Delete(ctx, ids)
}

func (e *SQLiteEngine) EnsureCrate(ctx context.Context, info CrateInfo) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO crates (id, name, root) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name=excluded.name, root=excluded.root`,
		info.ID.String(), info.Name, info.Root)
	return err
}

func (e *SQLiteEngine) GetCrateNameID(ctx context.Context, crate string) (uuid.UUID, error) {
	var id string
	row := e.db.QueryRowContext(ctx, `SELECT id FROM crates WHERE name = ?`, crate)
	if err := row.Scan(&id); err != nil {
		if err == sql.ErrNoRows {
			return uuid.Nil, fmt.Errorf("crate %q not found", crate)
		}
		return uuid.Nil, err
	}
	return uuid.Parse(id)
}

func (e *SQLiteEngine) GetCrateFiles(ctx context.Context, crate string) ([]codeitem.FileNode, error) {
	crateID, err := e.GetCrateNameID(ctx, crate)
	if err != nil {
		return nil, err
	}
	rows, err := e.db.QueryContext(ctx, `SELECT id, path, tracking_hash, namespace, root_diverged, indexed_at FROM file_nodes WHERE namespace = ?`, crateID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []codeitem.FileNode
	for rows.Next() {
		f, err := scanFileNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (e *SQLiteEngine) GetPathInfo(ctx context.Context, path string) (codeitem.FileNode, error) {
	row := e.db.QueryRowContext(ctx, `SELECT id, path, tracking_hash, namespace, root_diverged, indexed_at FROM file_nodes WHERE path = ?`, path)
	return scanFileNode(row)
}

func (e *SQLiteEngine) ListFileNodes(ctx context.Context) ([]codeitem.FileNode, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id, path, tracking_hash, namespace, root_diverged, indexed_at FROM file_nodes ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []codeitem.FileNode
	for rows.Next() {
		f, err := scanFileNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (e *SQLiteEngine) GetFileNodeByID(ctx context.Context, id uuid.UUID) (codeitem.FileNode, error) {
	row := e.db.QueryRowContext(ctx, `SELECT id, path, tracking_hash, namespace, root_diverged, indexed_at FROM file_nodes WHERE id = ?`, id.String())
	return scanFileNode(row)
}

// GetCodeItemsByIDs hydrates a set of fused search hits back into their
// code items, in an unspecified order; callers that need the original
// ranking re-sort by id.
func (e *SQLiteEngine) GetCodeItemsByIDs(ctx context.Context, ids []uuid.UUID) ([]codeitem.CodeItem, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "?"
		args[i] = id.String()
	}
	query := fmt.Sprintf(`SELECT id, kind, name, module_path, file_id, range_start, range_end, docstring, body, tracking_hash, has_tracking_hash, embedding
		FROM code_items WHERE id IN (%s)`, strings.Join(placeholders, ","))
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []codeitem.CodeItem
	for rows.Next() {
		item, err := scanCodeItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func (e *SQLiteEngine) DeleteCodeItemsByFile(ctx context.Context, fileID uuid.UUID) error {
	_, err := e.db.ExecContext(ctx, `DELETE FROM code_items WHERE file_id = ?`, fileID.String())
	return err
}

func (e *SQLiteEngine) SearchKNN(ctx context.Context, query []float32, k int) ([]*VectorResult, error) {
	e.mu.RLock()
	vs := e.vector
	e.mu.RUnlock()
	if vs == nil {
		return nil, fmt.Errorf("no active embedding set: vector relation not initialized")
	}
	return vs.Search(ctx, query, k)
}

// BackupTo writes a consistent snapshot of the relation database to path
// using SQLite's VACUUM INTO, and saves the current vector graph
// alongside it. Used outside the hot path.
func (e *SQLiteEngine) BackupTo(ctx context.Context, path string) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create backup directory: %w", err)
		}
	}
	_ = os.Remove(path)
	if _, err := e.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("backup relations: %w", err)
	}

	e.mu.RLock()
	vs := e.vector
	e.mu.RUnlock()
	if vs != nil {
		if err := vs.Save(path + ".hnsw"); err != nil {
			return fmt.Errorf("backup vector graph: %w", err)
		}
	}
	return nil
}

// ImportFromBackup restores the relation database and vector graph from a
// prior BackupTo. Must be called on an empty/fresh engine; the caller is
// responsible for rebuilding the KNN index afterward if the on-disk
// ".hnsw" companion is absent or stale.
func (e *SQLiteEngine) ImportFromBackup(ctx context.Context, path string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var n int
	row := e.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_nodes`)
	if err := row.Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("import_from_backup: target store is not empty")
	}

	if _, err := e.db.ExecContext(ctx, `ATTACH DATABASE ? AS backup`, path); err != nil {
		return fmt.Errorf("attach backup: %w", err)
	}
	defer e.db.ExecContext(ctx, `DETACH DATABASE backup`)

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	copies := []string{
		`INSERT INTO crates SELECT * FROM backup.crates`,
		`INSERT INTO file_nodes SELECT * FROM backup.file_nodes`,
		`INSERT INTO code_items SELECT * FROM backup.code_items`,
		`INSERT INTO relations SELECT * FROM backup.relations`,
		`INSERT INTO embedding_set SELECT * FROM backup.embedding_set`,
	}
	for _, stmt := range copies {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("restore table: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	set, ok, err := e.activeEmbeddingSetLocked(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	vs, err := NewHNSWStore(DefaultVectorStoreConfig(set.Dimension))
	if err != nil {
		return fmt.Errorf("rebuild vector relation: %w", err)
	}
	if hnswPath := path + ".hnsw"; fileExistsStore(hnswPath) {
		if err := vs.Load(hnswPath); err != nil {
			return fmt.Errorf("rebuild vector graph from backup: %w", err)
		}
	}
	e.vector = vs
	return nil
}

func (e *SQLiteEngine) activeEmbeddingSetLocked(ctx context.Context) (codeitem.EmbeddingSet, bool, error) {
	var set codeitem.EmbeddingSet
	row := e.db.QueryRowContext(ctx, `SELECT provider, model, dimension FROM embedding_set WHERE id = 0`)
	if err := row.Scan(&set.Provider, &set.Model, &set.Dimension); err != nil {
		if err == sql.ErrNoRows {
			return codeitem.EmbeddingSet{}, false, nil
		}
		return codeitem.EmbeddingSet{}, false, err
	}
	return set, true, nil
}

func (e *SQLiteEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.vector != nil {
		_ = e.vector.Close()
	}
	return e.db.Close()
}

const timeLayout = "2006-01-02T15:04:05.999999999Z07:00"

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func fileExistsStore(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCodeItem(r rowScanner) (codeitem.CodeItem, error) {
	var it codeitem.CodeItem
	var idStr, fileIDStr, trackingStr, modulePath string
	var hasTracking int
	var embedding []byte
	if err := r.Scan(&idStr, &it.Kind, &it.Name, &modulePath, &fileIDStr, &it.Range.Start, &it.Range.End,
		&it.Docstring, &it.Body, &trackingStr, &hasTracking, &embedding); err != nil {
		return codeitem.CodeItem{}, err
	}
	var err error
	if it.ID, err = uuid.Parse(idStr); err != nil {
		return codeitem.CodeItem{}, err
	}
	if it.FileID, err = uuid.Parse(fileIDStr); err != nil {
		return codeitem.CodeItem{}, err
	}
	if it.TrackingHash, err = uuid.Parse(trackingStr); err != nil {
		return codeitem.CodeItem{}, err
	}
	it.HasTrackingHash = hasTracking != 0
	if modulePath != "" {
		it.ModulePath = strings.Split(modulePath, "/")
	}
	if len(embedding) > 0 {
		it.Embedding = decodeFloats(embedding)
	}
	return it, nil
}

func scanFileNode(r rowScanner) (codeitem.FileNode, error) {
	var f codeitem.FileNode
	var idStr, trackingStr, namespaceStr, indexedAtStr string
	var rootDiverged int
	if err := r.Scan(&idStr, &f.Path, &trackingStr, &namespaceStr, &rootDiverged, &indexedAtStr); err != nil {
		return codeitem.FileNode{}, err
	}
	var err error
	if f.ID, err = uuid.Parse(idStr); err != nil {
		return codeitem.FileNode{}, err
	}
	if f.TrackingHash, err = uuid.Parse(trackingStr); err != nil {
		return codeitem.FileNode{}, err
	}
	if f.Namespace, err = uuid.Parse(namespaceStr); err != nil {
		return codeitem.FileNode{}, err
	}
	f.RootDiverged = rootDiverged != 0
	f.IndexedAt, err = parseTimeStore(indexedAtStr)
	return f, err
}

func encodeFloats(vec []float32) []byte {
	out := make([]byte, len(vec)*4)
	for i, f := range vec {
		bits := math.Float32bits(f)
		out[i*4] = byte(bits)
		out[i*4+1] = byte(bits >> 8)
		out[i*4+2] = byte(bits >> 16)
		out[i*4+3] = byte(bits >> 24)
	}
	return out
}

func decodeFloats(b []byte) []float32 {
	n := len(b) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := uint32(b[i*4]) | uint32(b[i*4+1])<<8 | uint32(b[i*4+2])<<16 | uint32(b[i*4+3])<<24
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func parseTimeStore(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}
