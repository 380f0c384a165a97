// Package snippet reads absolute byte-range slices of source files,
// validated against a recomputed
// tracking hash so a concurrently modified file fails loudly instead of
// returning a snippet that no longer matches what was indexed.
package snippet

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/codetok"
	"github.com/plokeai/ploke/internal/perr"
)

// Request is one snippet extraction request (mirrors a single CodeItem's
// byte range within a file). FileTrackingHash is the hash the caller last
// observed for this file; a mismatch against the freshly-read content is
// reported as ContentMismatch rather than silently returning stale bytes.
type Request struct {
	ID               uuid.UUID
	FilePath         string // must be absolute
	FileTrackingHash uuid.UUID
	Range            codeitem.ByteRange
	Namespace        uuid.UUID
}

// Result pairs a request's ID with either its extracted snippet or the
// error that occurred reading it. Batch processing isolates failures per
// request: one bad file never aborts the rest of the batch.
type Result struct {
	ID      uuid.UUID
	Content string
	Err     error
}

// defaultMaxConcurrency is the default semaphore width: a fixed 50, the
// floor of the original ploke-io policy (min(100, NOFILE/3), floor 50).
// The process' open-file limit is not read.
const defaultMaxConcurrency = 50

// Reader extracts and validates snippets, optionally restricted to an
// allowlist of root directories.
type Reader struct {
	roots          []string
	maxConcurrency int
}

// Option configures a Reader.
type Option func(*Reader)

// WithRoots restricts reads to paths under one of the given absolute root
// directories. A request for a path outside every root is rejected the
// same way a nonexistent file is: as a FileOperation error.
func WithRoots(roots []string) Option {
	return func(r *Reader) { r.roots = roots }
}

// WithMaxConcurrency overrides the default bounded-semaphore width.
func WithMaxConcurrency(n int) Option {
	return func(r *Reader) {
		if n > 0 {
			r.maxConcurrency = n
		}
	}
}

// NewReader builds a Reader with the given options.
func NewReader(opts ...Option) *Reader {
	r := &Reader{maxConcurrency: defaultMaxConcurrency}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetSnippets processes requests concurrently, grouped by file so each
// file is read and hashed exactly once, and returns results in the same
// order as requests. Concurrency across distinct files is bounded by the
// reader's semaphore; ctx cancellation stops issuing new file reads but
// in-flight ones still complete and report ctx.Err() for pending slots.
func (r *Reader) GetSnippets(ctx context.Context, requests []Request) []Result {
	results := make([]Result, len(requests))

	byFile := make(map[string][]int) // path -> indices into requests
	order := make([]string, 0)
	for i, req := range requests {
		if _, ok := byFile[req.FilePath]; !ok {
			order = append(order, req.FilePath)
		}
		byFile[req.FilePath] = append(byFile[req.FilePath], i)
	}
	sort.Strings(order) // deterministic scheduling order, not required by callers but aids reproducibility

	sem := make(chan struct{}, r.maxConcurrency)
	var wg sync.WaitGroup
	for _, path := range order {
		indices := byFile[path]
		wg.Add(1)
		go func(path string, indices []int) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				for _, idx := range indices {
					results[idx] = Result{ID: requests[idx].ID, Err: ctx.Err()}
				}
				return
			}
			r.processFile(path, requests, indices, results)
		}(path, indices)
	}
	wg.Wait()
	return results
}

func (r *Reader) processFile(path string, requests []Request, indices []int, results []Result) {
	content, hash, err := r.readAndHash(path, requests[indices[0]].Namespace)
	if err != nil {
		for _, idx := range indices {
			results[idx] = Result{ID: requests[idx].ID, Err: err}
		}
		return
	}

	for _, idx := range indices {
		req := requests[idx]
		if req.FileTrackingHash != hash {
			results[idx] = Result{ID: req.ID, Err: perr.ContentMismatch(path)}
			continue
		}
		snip, err := extractByteRange(content, req.Range.Start, req.Range.End, path)
		results[idx] = Result{ID: req.ID, Content: snip, Err: err}
	}
}

// readAndHash reads an absolute path, enforces the root allowlist, decodes
// UTF-8 strictly, and computes the tokenized tracking hash used for
// content-mismatch detection.
func (r *Reader) readAndHash(path string, namespace uuid.UUID) (string, uuid.UUID, error) {
	if !filepath.IsAbs(path) {
		return "", uuid.Nil, perr.FileOperation("read", path, errors.New("path must be absolute"))
	}
	if len(r.roots) > 0 && !pathWithinRoots(path, r.roots) {
		return "", uuid.Nil, perr.FileOperation("read", path, errors.New("path is outside configured roots"))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return "", uuid.Nil, perr.FileOperation("read", path, err)
	}
	if !utf8.Valid(raw) {
		return "", uuid.Nil, perr.Utf8(path, nil)
	}
	content := string(raw)

	tokens := codetok.Tokenize(content)
	hash := codeitem.GenerateTrackingHash(namespace, path, tokens)
	return content, hash, nil
}

func pathWithinRoots(path string, roots []string) bool {
	for _, root := range roots {
		if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// extractByteRange slices [start, end) out of content, requiring both
// bounds to land on UTF-8 rune boundaries (the original invariant the
// system was ported from: a byte offset that splits a multi-byte
// character must be rejected, not silently truncated).
func extractByteRange(content string, start, end int, path string) (string, error) {
	if start > end || end > len(content) {
		return "", perr.OutOfRange(fmt.Sprintf("byte range [%d,%d) out of bounds (len=%d) in %s", start, end, len(content), path))
	}
	if !isCharBoundary(content, start) || !isCharBoundary(content, end) {
		return "", perr.InvalidCharBoundary(fmt.Sprintf("byte range [%d,%d) splits a utf-8 rune in %s", start, end, path))
	}
	return content[start:end], nil
}

func isCharBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	// A byte is a continuation byte (not a boundary) iff its top two bits
	// are 10 (0x80-0xBF).
	return s[i]&0xC0 != 0x80
}

