package bm25svc

import (
	"context"

	"github.com/google/uuid"
)

type indexCmd struct {
	docs []Doc
	resp chan int
}

type searchCmd struct {
	query string
	topK  int
	resp  chan []ScoredDoc
}

type removeCmd struct {
	id   uuid.UUID
	resp chan struct{}
}

type finalizeCmd struct {
	resp chan FinalizeResult
}

// FinalizeResult is the acknowledgement returned by FinalizeSeed: the
// recomputed avgdl and the drained staged metadata, ready for the caller
// to persist.
type FinalizeResult struct {
	Avgdl  float64
	Staged map[uuid.UUID]DocMeta
}

// Service is the running BM25 actor: one goroutine owns the engine and
// every exported method round-trips a command through a channel, so
// callers never need their own locking.
type Service struct {
	cmds   chan any
	stopCh chan struct{}
	done   chan struct{}
}

// Start launches the actor with an initial avgdl estimate (used while
// seeding, before FinalizeSeed fits the real value) and returns a handle.
// Call Close to stop it; ctx cancellation also stops it.
func Start(ctx context.Context, initialAvgdl float64) *Service {
	s := &Service{
		cmds:   make(chan any, 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(ctx, newEngine(initialAvgdl))
	return s
}

// StartFromCorpus builds the engine from a one-shot corpus (fitting avgdl
// immediately) and starts the actor over it.
func StartFromCorpus(ctx context.Context, corpus []Doc) *Service {
	s := &Service{
		cmds:   make(chan any, 64),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run(ctx, newFromCorpus(corpus))
	return s
}

func (s *Service) run(ctx context.Context, e *engine) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case raw := <-s.cmds:
			switch cmd := raw.(type) {
			case indexCmd:
				cmd.resp <- e.indexBatch(cmd.docs)
			case searchCmd:
				cmd.resp <- e.search(cmd.query, cmd.topK)
			case removeCmd:
				e.remove(cmd.id)
				close(cmd.resp)
			case finalizeCmd:
				e.avgdl = e.computeAvgdlFromStaged()
				cmd.resp <- FinalizeResult{Avgdl: e.avgdl, Staged: e.drainStagedMeta()}
			}
		}
	}
}

// IndexBatch indexes (or re-indexes) a batch of documents, returning how
// many were processed.
func (s *Service) IndexBatch(ctx context.Context, docs []Doc) (int, error) {
	resp := make(chan int, 1)
	if err := s.send(ctx, indexCmd{docs: docs, resp: resp}); err != nil {
		return 0, err
	}
	select {
	case n := <-resp:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Search returns the top-k scoring documents for query.
func (s *Service) Search(ctx context.Context, query string, topK int) ([]ScoredDoc, error) {
	resp := make(chan []ScoredDoc, 1)
	if err := s.send(ctx, searchCmd{query: query, topK: topK, resp: resp}); err != nil {
		return nil, err
	}
	select {
	case results := <-resp:
		return results, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Remove drops a document from the index, e.g. when its source file is
// deleted or the node is pruned by a rescan.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) error {
	resp := make(chan struct{})
	if err := s.send(ctx, removeCmd{id: id, resp: resp}); err != nil {
		return err
	}
	select {
	case <-resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FinalizeSeed recomputes avgdl from staged metadata and drains it for
// the caller to persist, ending the corpus-seeding phase.
func (s *Service) FinalizeSeed(ctx context.Context) (FinalizeResult, error) {
	resp := make(chan FinalizeResult, 1)
	if err := s.send(ctx, finalizeCmd{resp: resp}); err != nil {
		return FinalizeResult{}, err
	}
	select {
	case result := <-resp:
		return result, nil
	case <-ctx.Done():
		return FinalizeResult{}, ctx.Err()
	}
}

func (s *Service) send(ctx context.Context, cmd any) error {
	select {
	case s.cmds <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the actor goroutine and waits for it to exit. Safe to call
// once; a second call would panic on the already-closed stopCh (single
// owner, single shutdown).
func (s *Service) Close() {
	close(s.stopCh)
	<-s.done
}
