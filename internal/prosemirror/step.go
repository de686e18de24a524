package prosemirror

import (
	"errors"
	"fmt"
)

var ErrInvalidRange = errors.New("invalid range")

// Step is one atomic, position-addressed document change.
type Step interface {
	Apply(doc *Node) (*Node, StepMap, error)
}

// ReplaceStep replaces the inline range [From, To) of a single textblock
// with Content.
type ReplaceStep struct {
	From    int
	To      int
	Content []*Node
}

func (s ReplaceStep) Apply(doc *Node) (*Node, StepMap, error) {
	_, start, err := doc.inlineRange(s.From, s.To)
	if err != nil {
		return nil, EmptyMap, err
	}
	for _, node := range s.Content {
		if node == nil || !node.IsInline() {
			return nil, EmptyMap, fmt.Errorf("%w: replace content must be inline", ErrInvalidRange)
		}
	}

	out := doc.Clone()
	target, _, _ := out.TextblockAt(s.From)
	size := target.ContentSize()
	left := sliceInline(target.Content, 0, s.From-start)
	right := sliceInline(target.Content, s.To-start, size)
	merged := make([]*Node, 0, len(left)+len(s.Content)+len(right))
	merged = append(merged, left...)
	for _, node := range s.Content {
		merged = append(merged, node.Clone())
	}
	merged = append(merged, right...)
	target.Content = joinInline(merged)

	return out, StepMap{Pos: s.From, OldSize: s.To - s.From, NewSize: InlineSize(s.Content)}, nil
}

// AddMarkStep adds Mark to every inline node in [From, To).
type AddMarkStep struct {
	From int
	To   int
	Mark Mark
}

func (s AddMarkStep) Apply(doc *Node) (*Node, StepMap, error) {
	out, err := updateInlineMarks(doc, s.From, s.To, func(marks []Mark) []Mark {
		return addMark(marks, s.Mark)
	})
	return out, EmptyMap, err
}

// RemoveMarkStep removes marks matching Mark from every inline node in
// [From, To). A pattern without attrs removes every mark of its type.
type RemoveMarkStep struct {
	From int
	To   int
	Mark Mark
}

func (s RemoveMarkStep) Apply(doc *Node) (*Node, StepMap, error) {
	out, err := updateInlineMarks(doc, s.From, s.To, func(marks []Mark) []Mark {
		return removeMark(marks, s.Mark)
	})
	return out, EmptyMap, err
}

func updateInlineMarks(doc *Node, from, to int, update func([]Mark) []Mark) (*Node, error) {
	if from < 0 || from > to || to > doc.ContentSize() {
		return nil, fmt.Errorf("%w: mark range %d-%d", ErrInvalidRange, from, to)
	}
	out := doc.Clone()
	out.Descendants(func(node *Node, pos int, _ *Node) bool {
		end := pos + node.NodeSize()
		if end <= from || pos >= to {
			return false
		}
		if !node.IsTextblock() {
			return !node.IsLeaf()
		}
		contentStart := pos + 1
		size := node.ContentSize()
		localFrom := max(from-contentStart, 0)
		localTo := min(to-contentStart, size)
		if localFrom >= localTo {
			return false
		}
		left := sliceInline(node.Content, 0, localFrom)
		middle := sliceInline(node.Content, localFrom, localTo)
		right := sliceInline(node.Content, localTo, size)
		for _, piece := range middle {
			piece.Marks = update(piece.Marks)
		}
		merged := make([]*Node, 0, len(left)+len(middle)+len(right))
		merged = append(merged, left...)
		merged = append(merged, middle...)
		merged = append(merged, right...)
		node.Content = joinInline(merged)
		return false
	})
	return out, nil
}

// InsertBlockStep inserts a block node at a position between blocks.
type InsertBlockStep struct {
	Pos  int
	Node *Node
}

func (s InsertBlockStep) Apply(doc *Node) (*Node, StepMap, error) {
	if s.Node == nil || s.Node.IsInline() {
		return nil, EmptyMap, fmt.Errorf("%w: inserted node must be a block", ErrInvalidRange)
	}
	out := doc.Clone()
	if !insertBlock(out, 0, s.Pos, s.Node.Clone()) {
		return nil, EmptyMap, fmt.Errorf("%w: no block boundary at %d", ErrInvalidRange, s.Pos)
	}
	return out, StepMap{Pos: s.Pos, NewSize: s.Node.NodeSize()}, nil
}

// DeleteBlockStep removes the block node that starts at Pos.
type DeleteBlockStep struct {
	Pos int
}

func (s DeleteBlockStep) Apply(doc *Node) (*Node, StepMap, error) {
	out := doc.Clone()
	size, ok := deleteBlock(out, 0, s.Pos)
	if !ok {
		return nil, EmptyMap, fmt.Errorf("%w: no block starts at %d", ErrInvalidRange, s.Pos)
	}
	return out, StepMap{Pos: s.Pos, OldSize: size}, nil
}

func insertBlock(parent *Node, base, pos int, block *Node) bool {
	offset := base
	for i, child := range parent.Content {
		if pos == offset {
			parent.Content = append(parent.Content[:i], append([]*Node{block}, parent.Content[i:]...)...)
			return true
		}
		size := child.NodeSize()
		if pos > offset && pos < offset+size && !child.IsLeaf() && !child.IsTextblock() {
			return insertBlock(child, offset+1, pos, block)
		}
		offset += size
	}
	if pos == offset {
		parent.Content = append(parent.Content, block)
		return true
	}
	return false
}

func deleteBlock(parent *Node, base, pos int) (int, bool) {
	offset := base
	for i, child := range parent.Content {
		size := child.NodeSize()
		if pos == offset && !child.IsInline() {
			parent.Content = append(parent.Content[:i], parent.Content[i+1:]...)
			return size, true
		}
		if pos > offset && pos < offset+size && !child.IsLeaf() && !child.IsTextblock() {
			return deleteBlock(child, offset+1, pos)
		}
		offset += size
	}
	return 0, false
}
