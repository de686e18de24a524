// Package worddiff computes word-granularity diffs between two strings.
//
// Text is split into word, whitespace and punctuation tokens, each distinct
// token is assigned one rune, and the rune sequences are diffed with
// diff-match-patch. Working on tokens keeps edits from splitting words in
// half; offsets in the result are rune offsets into the original string.
package worddiff

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Kind string

const (
	KindKeep   Kind = "keep"
	KindDelete Kind = "delete"
	KindInsert Kind = "insert"
)

// Span is one segment of a diff. OldStart/OldEnd are rune offsets into the
// original text; insert spans are zero-width at their insertion point.
type Span struct {
	Kind     Kind   `json:"kind"`
	Text     string `json:"text"`
	OldStart int    `json:"oldStart"`
	OldEnd   int    `json:"oldEnd"`
}

// Compute diffs oldText against newText. Keep and delete spans partition
// oldText in order; keep and insert spans partition newText in order.
func Compute(oldText, newText string) []Span {
	if oldText == newText {
		if oldText == "" {
			return []Span{}
		}
		return []Span{{Kind: KindKeep, Text: oldText, OldStart: 0, OldEnd: utf8.RuneCountInString(oldText)}}
	}

	enc := newEncoder()
	a := enc.encode(Tokenize(oldText))
	b := enc.encode(Tokenize(newText))

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(a, b, false)

	spans := make([]Span, 0, len(diffs))
	oldPos := 0
	for _, d := range diffs {
		text := enc.decode(d.Text)
		if text == "" {
			continue
		}
		n := utf8.RuneCountInString(text)
		switch d.Type {
		case diffmatchpatch.DiffEqual:
			spans = append(spans, Span{Kind: KindKeep, Text: text, OldStart: oldPos, OldEnd: oldPos + n})
			oldPos += n
		case diffmatchpatch.DiffDelete:
			spans = append(spans, Span{Kind: KindDelete, Text: text, OldStart: oldPos, OldEnd: oldPos + n})
			oldPos += n
		case diffmatchpatch.DiffInsert:
			spans = append(spans, Span{Kind: KindInsert, Text: text, OldStart: oldPos, OldEnd: oldPos})
		}
	}
	return spans
}

// Changes keeps only the delete and insert spans, in order.
func Changes(spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, span := range spans {
		if span.Kind != KindKeep {
			out = append(out, span)
		}
	}
	return out
}

// OldText rebuilds the original string from keep and delete spans.
func OldText(spans []Span) string {
	var builder strings.Builder
	for _, span := range spans {
		if span.Kind != KindInsert {
			builder.WriteString(span.Text)
		}
	}
	return builder.String()
}

// NewText rebuilds the replacement string from keep and insert spans.
func NewText(spans []Span) string {
	var builder strings.Builder
	for _, span := range spans {
		if span.Kind != KindDelete {
			builder.WriteString(span.Text)
		}
	}
	return builder.String()
}

// Tokenize splits text into runs of word characters, runs of whitespace and
// single punctuation or symbol characters. Concatenating the tokens yields
// text.
func Tokenize(text string) []string {
	tokens := make([]string, 0, len(text)/4+1)
	start := -1
	var class tokenClass
	for i, r := range text {
		c := classify(r)
		if start >= 0 && c == class && c != classOther {
			continue
		}
		if start >= 0 {
			tokens = append(tokens, text[start:i])
		}
		start = i
		class = c
	}
	if start >= 0 {
		tokens = append(tokens, text[start:])
	}
	return tokens
}

type tokenClass int

const (
	classWord tokenClass = iota
	classSpace
	classOther
)

func classify(r rune) tokenClass {
	switch {
	case unicode.IsLetter(r), unicode.IsDigit(r), unicode.IsMark(r), r == '_':
		return classWord
	case unicode.IsSpace(r):
		return classSpace
	default:
		return classOther
	}
}

// encoder maps tokens to runes, skipping the surrogate range so every
// encoded rune survives a string round trip.
type encoder struct {
	index  map[string]rune
	tokens []string
}

func newEncoder() *encoder {
	return &encoder{index: make(map[string]rune)}
}

const (
	surrogateMin = 0xD800
	surrogateGap = 0x800
)

func (e *encoder) encode(tokens []string) []rune {
	out := make([]rune, len(tokens))
	for i, token := range tokens {
		r, ok := e.index[token]
		if !ok {
			n := rune(len(e.tokens))
			if n >= surrogateMin {
				n += surrogateGap
			}
			r = n
			e.index[token] = r
			e.tokens = append(e.tokens, token)
		}
		out[i] = r
	}
	return out
}

func (e *encoder) decode(encoded string) string {
	var builder strings.Builder
	for _, r := range encoded {
		idx := r
		if idx >= surrogateMin+surrogateGap {
			idx -= surrogateGap
		}
		builder.WriteString(e.tokens[idx])
	}
	return builder.String()
}
