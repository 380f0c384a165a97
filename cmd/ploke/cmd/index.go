package cmd

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/bm25svc"
	"github.com/plokeai/ploke/internal/codeitem"
	"github.com/plokeai/ploke/internal/codetok"
	"github.com/plokeai/ploke/internal/gitignore"
	"github.com/plokeai/ploke/internal/heuristicparse"
	"github.com/plokeai/ploke/internal/orchestrator"
)

func newIndexCmd() *cobra.Command {
	var batchSize int
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Walk the workspace, parse new files, and embed every unembedded item",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd.Context(), batchSize)
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "override the configured embedding batch size")
	return cmd
}

func runIndex(ctx context.Context, batchSize int) error {
	a, closer, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer closer()

	discovered, err := ingestNewFiles(ctx, a)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	a.log.Info("discovered new files", "count", discovered)

	if batchSize <= 0 {
		batchSize = a.cfg.Orchestrator.BatchSize
	}
	o := orchestrator.New(orchestrator.Config{
		Engine:    a.engine,
		Embedder:  a.embedder,
		Sparse:    a.sparse,
		Snippets:  a.snippets,
		DataDir:   a.cfg.Paths.DataDir,
		BatchSize: batchSize,
	})
	if err := o.IndexWorkspace(ctx, a.namespace); err != nil {
		return fmt.Errorf("index workspace: %w", err)
	}

	p := o.Progress()
	fmt.Printf("status=%s processed=%d errors=%d\n", p.Status, p.RecentProcessed, len(p.Errors))
	for _, e := range p.Errors {
		fmt.Println("  -", e)
	}
	return nil
}

// ignoredDirs are always skipped regardless of .gitignore contents: VCS
// metadata and the store's own data directory.
var ignoredDirs = []string{".git/", ".ploke/"}

// ingestNewFiles walks the workspace under a.root, skipping anything
// matched by .gitignore (plus ignoredDirs), and parses every Rust (.rs)
// file the store has never seen before. Already-known files are left to the
// change scanner, which diffs by content hash instead of by existence.
func ingestNewFiles(ctx context.Context, a *app) (int, error) {
	matcher := gitignore.New()
	for _, p := range ignoredDirs {
		matcher.AddPattern(p)
	}
	_ = matcher.AddFromFile(filepath.Join(a.root, ".gitignore"), a.root)

	parser := heuristicparse.New()
	discovered := 0

	walkErr := filepath.WalkDir(a.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(a.root, path)
		if relErr != nil {
			return relErr
		}
		if rel == "." {
			return nil
		}
		if matcher.Match(rel, d.IsDir()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".rs" {
			return nil
		}

		if _, err := a.engine.GetPathInfo(ctx, path); err == nil {
			return nil // already tracked; changescan owns reconciling it
		}

		if err := ingestFile(ctx, a, parser, path); err != nil {
			a.log.Warn("skipping unparsable file", "path", path, "error", err)
			return nil
		}
		discovered++
		return nil
	})
	if walkErr != nil {
		return discovered, walkErr
	}
	return discovered, nil
}

func ingestFile(ctx context.Context, a *app, parser *heuristicparse.Parser, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	content := string(raw)
	tokens := codetok.Tokenize(content)
	trackingHash := codeitem.GenerateTrackingHash(a.namespace, path, tokens)
	fileID := uuid.New()

	items, relations, err := parser.ParseFile(ctx, path, fileID, a.namespace)
	if err != nil {
		return err
	}

	if err := a.engine.UpsertFileNodes(ctx, []codeitem.FileNode{
		{ID: fileID, Path: path, TrackingHash: trackingHash, Namespace: a.namespace},
	}); err != nil {
		return err
	}
	if len(items) > 0 {
		if err := a.engine.UpsertCodeItems(ctx, items); err != nil {
			return err
		}
	}
	if len(relations) > 0 {
		if err := a.engine.UpsertRelations(ctx, relations); err != nil {
			return err
		}
	}

	if a.sparse == nil || len(items) == 0 {
		return nil
	}
	docs := make([]bm25svc.Doc, 0, len(items))
	for _, item := range items {
		snippetText := content[item.Range.Start:item.Range.End]
		docs = append(docs, bm25svc.Doc{
			ID:      item.ID,
			Meta:    bm25svc.DocMeta{TokenLength: codetok.CountTokens(snippetText), TrackingHash: trackingHash},
			Snippet: snippetText,
		})
	}
	_, err = a.sparse.IndexBatch(ctx, docs)
	return err
}
