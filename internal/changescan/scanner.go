// Package changescan implements per-file tracking-hash recomputation,
// diffing against the store, and invalidation of stale
// embeddings. It mirrors the concurrency shape of the snippet reader
// (internal/snippet) -- one goroutine per file, bounded by a semaphore --
// and the hash/mtime diff the deleted internal/index coordinator used
// for gitignore-triggered reconciliation (its detectFileChanges),
// generalized from a size/mtime comparison to the content-addressed
// tracking hash this system uses instead.
package changescan

import (
	"context"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/codetok"
	"github.com/plokeai/ploke/internal/perr"
	"github.com/plokeai/ploke/internal/store"
)

// Parser re-derives the code graph for one file: its primary items and the
// typed edges between them. The scanner is deliberately parser-agnostic --
// the concrete source-language parser is a separate concern from hash
// diffing and store reconciliation -- so it depends on this interface
// rather than a concrete implementation.
type Parser interface {
	ParseFile(ctx context.Context, path string, fileID, namespace uuid.UUID) ([]codeitem.CodeItem, []codeitem.Relation, error)
}

const defaultMaxConcurrency = 50

// Scanner detects and reconciles changed files for one crate namespace.
type Scanner struct {
	engine         store.Engine
	parser         Parser
	maxConcurrency int
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithMaxConcurrency overrides the default per-file concurrency bound.
func WithMaxConcurrency(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxConcurrency = n
		}
	}
}

// New builds a Scanner over engine, using parser to rebuild the graph of
// any file found to have changed.
func New(engine store.Engine, parser Parser, opts ...Option) *Scanner {
	s := &Scanner{engine: engine, parser: parser, maxConcurrency: defaultMaxConcurrency}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Result is the outcome of one ScanForChange call. A nil Changed means "no
// changes" -- the one-shot reply the caller waits on.
type Result struct {
	Changed []codeitem.ChangeRecord
}

type fileCheck struct {
	file codeitem.FileNode
	rec  codeitem.ChangeRecord
	err  error
}

// ScanForChange recomputes the tracking hash of every file the store
// already knows about under namespace, diffs each against its stored
// hash, and for every file that changed: retracts embeddings of every
// item kind in that file, reparses it, and upserts the fresh graph. At
// return, every stored item whose file changed has a null dense
// embedding; the caller (the orchestrator) is responsible for scheduling
// the next indexing pass and updating the sparse service.
func (s *Scanner) ScanForChange(ctx context.Context, namespace uuid.UUID) (Result, error) {
	files, err := s.engine.ListFileNodes(ctx)
	if err != nil {
		return Result{}, perr.Db(err)
	}

	checks := make([]fileCheck, len(files))
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	for i, f := range files {
		wg.Add(1)
		go func(i int, f codeitem.FileNode) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				checks[i] = fileCheck{file: f, err: ctx.Err()}
				return
			}
			rec, err := rehash(f, namespace)
			checks[i] = fileCheck{file: f, rec: rec, err: err}
		}(i, f)
	}
	wg.Wait()

	var changed []fileCheck
	for _, c := range checks {
		if c.err != nil {
			// A single unreadable file (deleted mid-scan, permission
			// change) never aborts the rest of the scan.
			continue
		}
		if c.rec.Changed {
			changed = append(changed, c)
		}
	}

	if len(changed) == 0 {
		return Result{}, nil
	}

	records := make([]codeitem.ChangeRecord, 0, len(changed))
	for _, c := range changed {
		if err := s.reconcile(ctx, c, namespace); err != nil {
			return Result{}, err
		}
		records = append(records, c.rec)
	}

	return Result{Changed: records}, nil
}

func rehash(f codeitem.FileNode, namespace uuid.UUID) (codeitem.ChangeRecord, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		return codeitem.ChangeRecord{}, perr.FileOperation("read", f.Path, err)
	}
	tokens := codetok.Tokenize(string(raw))
	newHash := codeitem.GenerateTrackingHash(namespace, f.Path, tokens)
	return codeitem.ChangeRecord{
		FileID:  f.ID,
		NewHash: newHash,
		Changed: newHash != f.TrackingHash,
	}, nil
}

// reconcile retracts every primary kind's embeddings for the file, drops
// its old items outright, reparses it, and writes the fresh graph plus
// the file's new tracking hash.
func (s *Scanner) reconcile(ctx context.Context, c fileCheck, namespace uuid.UUID) error {
	for _, kind := range codeitem.PrimaryKinds {
		if err := s.engine.RetractEmbeddedFiles(ctx, c.file.ID, kind); err != nil {
			return perr.Db(err)
		}
	}
	if err := s.engine.DeleteCodeItemsByFile(ctx, c.file.ID); err != nil {
		return perr.Db(err)
	}

	items, relations, err := s.parser.ParseFile(ctx, c.file.Path, c.file.ID, namespace)
	if err != nil {
		return perr.ParseError(c.file.Path, err)
	}
	if err := s.engine.UpsertCodeItems(ctx, items); err != nil {
		return perr.Db(err)
	}
	if err := s.engine.UpsertRelations(ctx, relations); err != nil {
		return perr.Db(err)
	}

	updated := c.file
	updated.TrackingHash = c.rec.NewHash
	return s.engine.UpsertFileNodes(ctx, []codeitem.FileNode{updated})
}
