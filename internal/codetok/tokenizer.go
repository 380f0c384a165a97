// Package codetok implements the deterministic code-aware tokenizer shared
// by indexing and query paths. It has two halves: comments
// are tokenized as free text, code is tokenized as identifiers and symbols.
package codetok

import (
	"strings"
	"unicode"
)

// Tokenize splits source text into lowercased tokens following the rules:
// comments are processed first (split on non-alphanumeric runs), then code
// regions outside comments are split into identifier chunks (further split
// on underscore and case/digit boundaries) and single-character symbols.
// The result preserves document order between comment and code spans.
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/4+1)
	for _, seg := range splitSegments(text) {
		if seg.isComment {
			tokens = append(tokens, tokenizeComment(seg.text)...)
		} else {
			tokens = append(tokens, tokenizeCode(seg.text)...)
		}
	}
	return tokens
}

// CountTokens returns the same count as len(Tokenize(text)) without
// materializing the slice; the two must never disagree (tested property).
func CountTokens(text string) int {
	n := 0
	for _, seg := range splitSegments(text) {
		if seg.isComment {
			n += countComment(seg.text)
		} else {
			n += countCode(seg.text)
		}
	}
	return n
}

type segment struct {
	text      string
	isComment bool
}

// splitSegments walks the raw byte stream once, separating line comments
// (//, ///, //!), block comments (/* ... */, including an unterminated
// tail that runs to EOF), and everything else.
func splitSegments(text string) []segment {
	var segs []segment
	i := 0
	n := len(text)
	start := 0
	flushCode := func(end int) {
		if end > start {
			segs = append(segs, segment{text: text[start:end], isComment: false})
		}
	}
	for i < n {
		if text[i] == '/' && i+1 < n && text[i+1] == '/' {
			flushCode(i)
			j := i
			for j < n && text[j] != '\n' {
				j++
			}
			segs = append(segs, segment{text: text[i:j], isComment: true})
			i = j
			start = i
			continue
		}
		if text[i] == '/' && i+1 < n && text[i+1] == '*' {
			flushCode(i)
			j := i + 2
			closed := false
			for j+1 < n {
				if text[j] == '*' && text[j+1] == '/' {
					j += 2
					closed = true
					break
				}
				j++
			}
			if !closed {
				j = n
			}
			segs = append(segs, segment{text: text[i:j], isComment: true})
			i = j
			start = i
			continue
		}
		i++
	}
	flushCode(n)
	return segs
}

var nonAlnum = func(r rune) bool {
	return !(unicode.IsLetter(r) || unicode.IsDigit(r))
}

func tokenizeComment(text string) []string {
	var out []string
	for _, field := range strings.FieldsFunc(text, nonAlnum) {
		if field == "" {
			continue
		}
		out = append(out, strings.ToLower(field))
	}
	return out
}

func countComment(text string) int {
	n := 0
	for _, field := range strings.FieldsFunc(text, nonAlnum) {
		if field != "" {
			n++
		}
	}
	return n
}

func isIdentRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// tokenizeCode splits a non-comment code region into identifier chunks
// (further split on underscore and case/digit boundaries) and one-rune
// symbol tokens; whitespace is a plain separator.
func tokenizeCode(text string) []string {
	var out []string
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case isIdentRune(r):
			j := i
			for j < len(runes) && isIdentRune(runes[j]) {
				j++
			}
			out = append(out, splitIdentifier(string(runes[i:j]))...)
			i = j
		default:
			out = append(out, strings.ToLower(string(r)))
			i++
		}
	}
	return out
}

func countCode(text string) int {
	return len(tokenizeCode(text))
}

// splitIdentifier splits on '_' and then on case/digit boundaries:
// lower→upper, upper-run→lower (acronym tail), and digit↔non-digit.
func splitIdentifier(token string) []string {
	var result []string
	for _, part := range strings.Split(token, "_") {
		if part == "" {
			continue
		}
		result = append(result, splitBoundaries(part)...)
	}
	return result
}

func splitBoundaries(s string) []string {
	if s == "" {
		return nil
	}
	runes := []rune(s)
	var result []string
	var cur strings.Builder
	for i, r := range runes {
		if i > 0 && shouldBreak(runes, i) {
			if cur.Len() > 0 {
				result = append(result, strings.ToLower(cur.String()))
				cur.Reset()
			}
		}
		cur.WriteRune(r)
	}
	if cur.Len() > 0 {
		result = append(result, strings.ToLower(cur.String()))
	}
	return result
}

func shouldBreak(runes []rune, i int) bool {
	prev, cur := runes[i-1], runes[i]

	prevIsDigit, curIsDigit := unicode.IsDigit(prev), unicode.IsDigit(cur)
	if prevIsDigit != curIsDigit {
		return true
	}

	if unicode.IsUpper(cur) {
		prevIsLower := unicode.IsLower(prev)
		nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
		// lower→upper boundary, or the tail of an acronym run followed by
		// a lowercase letter (e.g. "HTTPHandler" breaks before "Handler").
		if prevIsLower || nextIsLower {
			return true
		}
	}
	return false
}
