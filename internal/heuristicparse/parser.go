// Package heuristicparse is a minimal stand-in for the source parser: a
// regex-driven scanner over Rust-shaped item signatures (fn, struct, enum,
// union, trait, impl, mod, const, static, macro_rules!) good enough to
// populate the code graph end to end without a full syn-based AST parser,
// which is treated as an external collaborator the core doesn't own.
package heuristicparse

import (
	"context"
	"os"
	"regexp"

	"github.com/google/uuid"

	"github.com/plokeai/ploke/internal/codeitem"
)

// itemPattern captures a Rust-shaped item's kind and name at the start of
// a line. It deliberately ignores visibility modifiers, generics, and
// attributes beyond what's needed to find the signature and its name.
var itemPattern = regexp.MustCompile(
	`(?m)^\s*(?:pub(?:\([^)]*\))?\s+)?(?:async\s+)?(?:unsafe\s+)?` +
		`(fn|struct|enum|union|trait|mod|const|static|macro_rules!)\s+([A-Za-z_][A-Za-z0-9_]*)`,
)

// implPattern recognizes "impl [Trait for] Type", binding the item to the
// type's own name since Go's codeitem model has no separate impl-target
// field.
var implPattern = regexp.MustCompile(`(?m)^\s*impl(?:<[^>]*>)?\s+(?:[A-Za-z_][A-Za-z0-9_:<>, ]*\s+for\s+)?([A-Za-z_][A-Za-z0-9_]*)`)

var kindByKeyword = map[string]codeitem.Kind{
	"fn":           codeitem.KindFunction,
	"struct":       codeitem.KindStruct,
	"enum":         codeitem.KindEnum,
	"union":        codeitem.KindUnion,
	"trait":        codeitem.KindTrait,
	"mod":          codeitem.KindModule,
	"const":        codeitem.KindConst,
	"static":       codeitem.KindStatic,
	"macro_rules!": codeitem.KindMacro,
}

// Parser implements changescan.Parser using itemPattern/implPattern.
type Parser struct{}

// New returns a Parser. It holds no state: every call reads path fresh.
func New() *Parser { return &Parser{} }

// ParseFile reads path and emits one CodeItem per recognized item
// signature, plus a ModuleItem relation from the file to each of them.
// Indented signatures (such as methods inside an impl block) are matched
// too, so items are not limited to the top level. Byte ranges run from the
// signature's start to the matching closing brace (or to the first ';' or
// end of line, for brace-less items like const/static).
func (p *Parser) ParseFile(ctx context.Context, path string, fileID, namespace uuid.UUID) ([]codeitem.CodeItem, []codeitem.Relation, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	text := string(raw)

	var items []codeitem.CodeItem
	var relations []codeitem.Relation
	seen := make(map[int]bool) // start offsets already claimed by itemPattern

	for _, m := range itemPattern.FindAllStringSubmatchIndex(text, -1) {
		select {
		case <-ctx.Done():
			return items, relations, ctx.Err()
		default:
		}
		start, keyword, name := m[0], text[m[2]:m[3]], text[m[4]:m[5]]
		kind, ok := kindByKeyword[keyword]
		if !ok {
			continue
		}
		end := closingRange(text, m[1])
		seen[start] = true
		item := newItem(namespace, path, fileID, kind, name, start, end)
		items = append(items, item)
		relations = append(relations, codeitem.Relation{
			SourceID: fileID,
			TargetID: item.ID,
			Kind:     codeitem.RelModuleItem,
		})
	}

	for _, m := range implPattern.FindAllStringSubmatchIndex(text, -1) {
		start, name := m[0], text[m[2]:m[3]]
		if seen[start] {
			continue
		}
		end := closingRange(text, m[1])
		item := newItem(namespace, path, fileID, codeitem.KindImpl, name, start, end)
		items = append(items, item)
		relations = append(relations, codeitem.Relation{
			SourceID: fileID,
			TargetID: item.ID,
			Kind:     codeitem.RelModuleItem,
		})
	}

	return items, relations, nil
}

func newItem(namespace uuid.UUID, path string, fileID uuid.UUID, kind codeitem.Kind, name string, start, end int) codeitem.CodeItem {
	return codeitem.CodeItem{
		ID:         codeitem.ItemID(namespace, path, kind, []string{name}),
		Kind:       kind,
		Name:       name,
		ModulePath: []string{name},
		FileID:     fileID,
		Range:      codeitem.ByteRange{Start: start, End: end},
	}
}

// closingRange scans forward from searchFrom for the item's opening brace
// and returns the offset just past its matching close brace. If a ';' or
// a newline comes before any brace (a brace-less item such as const or
// static), the range ends just past that ';' or at that newline instead.
func closingRange(text string, searchFrom int) int {
	depth := 0
	opened := false
	for i := searchFrom; i < len(text); i++ {
		switch text[i] {
		case '{':
			depth++
			opened = true
		case '}':
			depth--
			if opened && depth == 0 {
				return i + 1
			}
		case ';':
			if !opened {
				return i + 1
			}
		case '\n':
			if !opened {
				return i
			}
		}
	}
	return len(text)
}
