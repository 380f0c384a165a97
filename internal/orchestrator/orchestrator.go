// Package orchestrator implements the cursor-driven indexer that walks
// the store's unembedded items in batches, fans each batch out
// to the sparse and dense backends, and reports progress through a small
// state machine. The run lifecycle (lock file, stop/done channels) is
// grounded on internal/async.BackgroundIndexer's original shape; the
// control/progress model adds Pause/Resume/Cancel on top of a plain
// Indexing/Ready/Error state.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/gofrs/flock"

	"github.com/plokeai/ploke/internal/bm25svc"
	"github.com/plokeai/ploke/internal/bus"
	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/codetok"
	"github.com/plokeai/ploke/internal/embedprovider"
	"github.com/plokeai/ploke/internal/perr"
	"github.com/plokeai/ploke/internal/snippet"
	"github.com/plokeai/ploke/internal/store"
)

// DefaultBatchSize is the number of items collected per pass across all
// primary kinds before a dense/sparse round-trip is issued.
const DefaultBatchSize = 64

// Config wires an Orchestrator to its collaborators.
type Config struct {
	Engine    store.Engine
	Embedder  embedprovider.Embedder
	Sparse    *bm25svc.Service // nil disables sparse indexing for this run
	Snippets  *snippet.Reader
	DataDir   string // holds the exclusivity lock file
	BatchSize int
	Events    *bus.EventBus // nil disables broadcasting; Control() still works
}

// Orchestrator runs IndexWorkspace passes over one store.Engine.
type Orchestrator struct {
	engine    store.Engine
	embedder  embedprovider.Embedder
	sparse    *bm25svc.Service
	snippets  *snippet.Reader
	lock      *flock.Flock
	batchSize int
	events    *bus.EventBus

	mu       sync.Mutex
	state    State
	progress Progress
	notify   chan struct{}
	control  chan ControlMsg
}

// New builds an Orchestrator from cfg.
func New(cfg Config) *Orchestrator {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		engine:    cfg.Engine,
		embedder:  cfg.Embedder,
		sparse:    cfg.Sparse,
		snippets:  cfg.Snippets,
		lock:      flock.New(filepath.Join(cfg.DataDir, "indexing.lock")),
		batchSize: batchSize,
		events:    cfg.Events,
		state:     Idle,
		notify:    make(chan struct{}),
		control:   make(chan ControlMsg, 4),
	}
}

// Commands drains cmds until ctx is done, translating each bus command
// into the matching Control call, IndexWorkspace run, or backup/restore.
// ScanForChangeCmd has no case here: it is dropped and its Reply channel
// receives nothing. Intended to run on its own goroutine as the
// orchestrator's single command consumer.
func (o *Orchestrator) Commands(ctx context.Context, cmds *bus.CommandBus, namespace uuid.UUID) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd := <-cmds.Receive():
			switch c := cmd.(type) {
			case bus.IndexWorkspaceCmd:
				go func() { _ = o.IndexWorkspace(ctx, namespace) }()
			case bus.PauseCmd:
				o.Control(Pause)
			case bus.ResumeCmd:
				o.Control(Resume)
			case bus.CancelCmd:
				o.Control(Cancel)
			case bus.SaveDbCmd:
				err := o.engine.BackupTo(ctx, c.Path)
				if o.events != nil {
					o.events.Publish(bus.Background, bus.BackupDbEvent{Path: c.Path, Err: err})
				}
			case bus.LoadDbCmd:
				err := o.engine.ImportFromBackup(ctx, c.Crate)
				if o.events != nil {
					o.events.Publish(bus.Background, bus.LoadDbEvent{Crate: c.Crate, Err: err})
				}
			}
		}
	}
}

// publishProgress broadcasts p's terminal or status transition on the
// Realtime lane, if this Orchestrator was built with an event bus.
func (o *Orchestrator) publishProgress(p Progress) {
	if o.events == nil {
		return
	}
	switch p.Status {
	case Completed:
		o.events.Publish(bus.Realtime, bus.IndexingCompletedEvent{})
	case Failed:
		reason := ""
		if len(p.Errors) > 0 {
			reason = p.Errors[0]
		}
		o.events.Publish(bus.Realtime, bus.IndexingFailedEvent{Reason: reason})
	default:
		o.events.Publish(bus.Realtime, bus.IndexingStatusEvent{
			Status:          string(p.Status),
			RecentProcessed: p.RecentProcessed,
			NumNotProc:      p.NumNotProc,
			Errors:          p.Errors,
		})
	}
}

// Control sends a control message. Non-blocking: a full buffer drops the
// oldest intent rather than stalling the caller, since Pause/Resume/Cancel
// are idempotent level-triggers, not a queue of commands.
func (o *Orchestrator) Control(msg ControlMsg) {
	select {
	case o.control <- msg:
	default:
		select {
		case <-o.control:
		default:
		}
		o.control <- msg
	}
}

// Progress returns a snapshot of the current run state.
func (o *Orchestrator) Progress() Progress {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.progress
}

// Wait blocks until the progress snapshot changes, or ctx is done.
func (o *Orchestrator) Wait(ctx context.Context) {
	o.mu.Lock()
	ch := o.notify
	o.mu.Unlock()
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

func (o *Orchestrator) setProgress(p Progress) {
	o.mu.Lock()
	o.progress = p
	o.state = p.Status
	old := o.notify
	o.notify = make(chan struct{})
	o.mu.Unlock()
	close(old)
	o.publishProgress(p)
}

// IndexWorkspace runs one indexing pass to completion, holding an
// exclusive lock on the data directory for its duration so two runs never
// race on the same store.
func (o *Orchestrator) IndexWorkspace(ctx context.Context, namespace uuid.UUID) error {
	if err := os.MkdirAll(filepath.Dir(o.lock.Path()), 0o755); err != nil {
		return perr.RunFailed(fmt.Sprintf("create data directory: %v", err))
	}
	acquired, err := o.lock.TryLock()
	if err != nil {
		return perr.RunFailed(fmt.Sprintf("acquire index lock: %v", err))
	}
	if !acquired {
		return perr.RunFailed("an indexing run is already in progress")
	}
	defer o.lock.Unlock()

	numNotProc, err := o.engine.CountUnembeddedNonFiles(ctx)
	if err != nil {
		o.fail(fmt.Sprintf("count unembedded items: %v", err))
		return perr.Db(err)
	}

	files, err := o.engine.ListFileNodes(ctx)
	if err != nil {
		o.fail(fmt.Sprintf("list file nodes: %v", err))
		return perr.Db(err)
	}
	fileByID := make(map[uuid.UUID]codeitem.FileNode, len(files))
	for _, f := range files {
		fileByID[f.ID] = f
	}

	o.setProgress(Progress{Status: Running, NumNotProc: numNotProc})

	cursors := make(map[codeitem.Kind]codeitem.IndexCursor, len(codeitem.PrimaryKinds))
	var processed int
	var runErrors []string

	for {
		if done, err := o.pollControl(ctx); err != nil {
			return err
		} else if done {
			return nil
		}

		batch, exhausted, err := o.collectBatch(ctx, cursors)
		if err != nil {
			o.fail(err.Error())
			return err
		}
		if len(batch) == 0 {
			break
		}

		n, fileErrs, err := o.processBatch(ctx, batch, fileByID)
		if err != nil {
			o.fail(err.Error())
			return err
		}
		processed += n
		runErrors = append(runErrors, fileErrs...)

		o.setProgress(Progress{
			Status:          Running,
			RecentProcessed: processed,
			NumNotProc:      numNotProc,
			Errors:          append([]string(nil), runErrors...),
		})

		if exhausted {
			break
		}
	}

	if o.sparse != nil {
		if _, err := o.sparse.FinalizeSeed(ctx); err != nil {
			o.fail(fmt.Sprintf("finalize sparse seed: %v", err))
			return perr.RunFailed(fmt.Sprintf("finalize sparse seed: %v", err))
		}
	}

	o.setProgress(Progress{Status: Completed, RecentProcessed: processed, NumNotProc: numNotProc, Errors: runErrors})
	return nil
}

// pollControl checks the control channel without blocking, except while
// Paused (where it blocks until Resume or Cancel). It returns done=true
// once the run should stop (Cancelled), with the terminal state already
// published.
func (o *Orchestrator) pollControl(ctx context.Context) (done bool, err error) {
	select {
	case msg := <-o.control:
		switch msg {
		case Cancel:
			o.setProgress(Progress{Status: Cancelled})
			return true, nil
		case Pause:
			return o.waitForResume(ctx)
		case Resume:
			// Already running; a stray Resume is a no-op.
		}
	default:
	}
	return false, nil
}

func (o *Orchestrator) waitForResume(ctx context.Context) (done bool, err error) {
	o.setProgress(Progress{Status: Paused})
	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case msg := <-o.control:
			switch msg {
			case Resume:
				o.setProgress(Progress{Status: Running})
				return false, nil
			case Cancel:
				o.setProgress(Progress{Status: Cancelled})
				return true, nil
			case Pause:
				// Already paused.
			}
		}
	}
}

func (o *Orchestrator) fail(reason string) {
	o.setProgress(Progress{Status: Failed, Errors: []string{reason}})
}

// collectBatch pulls up to batchSize items total, walking PrimaryKinds in
// their fixed order and paging each kind's cursor forward. exhausted is
// true only when every kind's cursor returned an empty page, meaning a
// full pass found nothing left to embed.
func (o *Orchestrator) collectBatch(ctx context.Context, cursors map[codeitem.Kind]codeitem.IndexCursor) ([]codeitem.CodeItem, bool, error) {
	var batch []codeitem.CodeItem
	exhausted := true

	for _, kind := range codeitem.PrimaryKinds {
		remaining := o.batchSize - len(batch)
		if remaining <= 0 {
			exhausted = false
			break
		}
		cursor := cursors[kind]
		page, err := o.engine.GetRelWithCursor(ctx, kind, remaining, cursor)
		if err != nil {
			return nil, false, perr.Db(err)
		}
		if len(page) == 0 {
			continue
		}
		exhausted = false
		batch = append(batch, page...)
		cursors[kind] = codeitem.IndexCursor{Kind: kind, After: page[len(page)-1].ID}
	}

	return batch, exhausted, nil
}

// processBatch fetches snippets, forwards them to the sparse service,
// requests dense vectors, and writes both back. It returns the number of
// items successfully embedded and any per-item warnings collected along
// the way. A non-nil error means the provider or the store itself failed
// (as opposed to an individual snippet or item), which is fatal for the
// run: the caller aborts rather than continuing to the next batch.
func (o *Orchestrator) processBatch(ctx context.Context, batch []codeitem.CodeItem, fileByID map[uuid.UUID]codeitem.FileNode) (int, []string, error) {
	var warnings []string

	type aligned struct {
		item    codeitem.CodeItem
		snippet string
	}
	var requests []snippet.Request
	for _, item := range batch {
		file, ok := fileByID[item.FileID]
		if !ok {
			warnings = append(warnings, fmt.Sprintf("item %s: unknown file %s", item.ID, item.FileID))
			continue
		}
		requests = append(requests, snippet.Request{
			ID:               item.ID,
			FilePath:         file.Path,
			FileTrackingHash: file.TrackingHash,
			Range:            item.Range,
			Namespace:        file.Namespace,
		})
	}

	byID := make(map[uuid.UUID]codeitem.CodeItem, len(batch))
	for _, item := range batch {
		byID[item.ID] = item
	}

	var alignedItems []aligned
	if o.snippets != nil && len(requests) > 0 {
		results := o.snippets.GetSnippets(ctx, requests)
		for _, res := range results {
			if res.Err != nil {
				warnings = append(warnings, fmt.Sprintf("snippet %s: %v", res.ID, res.Err))
				continue
			}
			alignedItems = append(alignedItems, aligned{item: byID[res.ID], snippet: res.Content})
		}
	}

	if o.sparse != nil && len(alignedItems) > 0 {
		docs := make([]bm25svc.Doc, 0, len(alignedItems))
		for _, a := range alignedItems {
			file := fileByID[a.item.FileID]
			docs = append(docs, bm25svc.Doc{
				ID: a.item.ID,
				Meta: bm25svc.DocMeta{
					TokenLength:  len(codetok.Tokenize(a.snippet)),
					TrackingHash: file.TrackingHash,
				},
				Snippet: a.snippet,
			})
		}
		if _, err := o.sparse.IndexBatch(ctx, docs); err != nil {
			warnings = append(warnings, fmt.Sprintf("sparse index batch: %v", err))
		}
	}

	if len(alignedItems) == 0 {
		return 0, warnings, nil
	}

	snippets := make([]string, len(alignedItems))
	for i, a := range alignedItems {
		snippets[i] = a.snippet
	}
	vectors, err := o.embedder.ComputeBatch(ctx, snippets)
	if err != nil {
		return 0, warnings, perr.RunFailed(fmt.Sprintf("embed batch: %v", err))
	}

	dims := o.embedder.Dimensions()
	updates := make([]store.EmbeddingUpdate, 0, len(alignedItems))
	for i, a := range alignedItems {
		if i >= len(vectors) {
			break
		}
		if len(vectors[i]) != dims {
			warnings = append(warnings, fmt.Sprintf("item %s: embedding dimension %d != %d", a.item.ID, len(vectors[i]), dims))
			continue
		}
		updates = append(updates, store.EmbeddingUpdate{ID: a.item.ID, Vector: vectors[i]})
	}

	if err := o.engine.UpdateEmbeddingsBatch(ctx, updates); err != nil {
		return 0, warnings, perr.Db(err)
	}

	return len(updates), warnings, nil
}
