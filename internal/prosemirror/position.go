package prosemirror

import (
	"fmt"
	"strings"
)

// Descendants calls fn for every descendant of n with the position right
// before it. Returning false skips the node's children. Positions are
// relative to the start of n's content, so for a doc they are document
// positions.
func (n *Node) Descendants(fn func(node *Node, pos int, parent *Node) bool) {
	n.walk(0, fn)
}

func (n *Node) walk(base int, fn func(node *Node, pos int, parent *Node) bool) {
	pos := base
	for _, child := range n.Content {
		if fn(child, pos, n) && !child.IsLeaf() {
			child.walk(pos+1, fn)
		}
		pos += child.NodeSize()
	}
}

// TextblockAt finds the textblock whose content range contains pos and
// returns it along with the position where its content starts.
func (n *Node) TextblockAt(pos int) (*Node, int, bool) {
	var (
		found *Node
		start int
	)
	n.Descendants(func(node *Node, p int, _ *Node) bool {
		if found != nil {
			return false
		}
		if node.IsTextblock() {
			contentStart := p + 1
			if pos >= contentStart && pos <= contentStart+node.ContentSize() {
				found = node
				start = contentStart
			}
			return false
		}
		return pos > p && pos < p+node.NodeSize()
	})
	return found, start, found != nil
}

// TextBetween returns the text of inline content overlapping [from, to).
func (n *Node) TextBetween(from, to int) string {
	if to <= from {
		return ""
	}
	var builder strings.Builder
	n.Descendants(func(node *Node, pos int, _ *Node) bool {
		end := pos + node.NodeSize()
		if end <= from || pos >= to {
			return false
		}
		if node.IsText() {
			runes := []rune(node.Text)
			s := max(from-pos, 0)
			e := min(to-pos, len(runes))
			builder.WriteString(string(runes[s:e]))
			return false
		}
		if node.IsLeaf() {
			if node.IsInline() {
				builder.WriteString(leafText(node))
			}
			return false
		}
		return true
	})
	return builder.String()
}

// InlineSlice copies the inline nodes between from and to. Both positions
// must lie in the same textblock.
func (n *Node) InlineSlice(from, to int) ([]*Node, error) {
	tb, start, err := n.inlineRange(from, to)
	if err != nil {
		return nil, err
	}
	return sliceInline(tb.Content, from-start, to-start), nil
}

// MarksAround returns the marks of the inline node just before pos, or the
// one just after when pos is at the start of its textblock.
func (n *Node) MarksAround(pos int) []Mark {
	tb, start, ok := n.TextblockAt(pos)
	if !ok || len(tb.Content) == 0 {
		return nil
	}
	offset := pos - start
	target := offset - 1
	if target < 0 {
		target = 0
	}
	at := 0
	for _, child := range tb.Content {
		size := child.NodeSize()
		if target < at+size {
			out := make([]Mark, len(child.Marks))
			for i, m := range child.Marks {
				out[i] = m.Clone()
			}
			return out
		}
		at += size
	}
	return nil
}

func (n *Node) inlineRange(from, to int) (*Node, int, error) {
	if from > to {
		return nil, 0, fmt.Errorf("%w: from %d after to %d", ErrInvalidRange, from, to)
	}
	tb, start, ok := n.TextblockAt(from)
	if !ok {
		return nil, 0, fmt.Errorf("%w: no textblock at %d", ErrInvalidRange, from)
	}
	if to > start+tb.ContentSize() {
		return nil, 0, fmt.Errorf("%w: range %d-%d crosses textblock boundary", ErrInvalidRange, from, to)
	}
	return tb, start, nil
}

// sliceInline copies the inline nodes between the content offsets from and
// to, splitting text nodes at the edges. An empty range yields no nodes.
func sliceInline(children []*Node, from, to int) []*Node {
	out := make([]*Node, 0, len(children))
	offset := 0
	for _, child := range children {
		size := child.NodeSize()
		end := offset + size
		if end <= from || offset >= to {
			offset = end
			continue
		}
		if child.IsText() {
			runes := []rune(child.Text)
			s := max(from-offset, 0)
			e := min(to-offset, len(runes))
			if s >= e {
				offset = end
				continue
			}
			piece := child.Clone()
			piece.Text = string(runes[s:e])
			out = append(out, piece)
		} else {
			out = append(out, child.Clone())
		}
		offset = end
	}
	return out
}

// InlineSize is the number of positions a run of inline nodes occupies.
func InlineSize(nodes []*Node) int {
	size := 0
	for _, node := range nodes {
		if node != nil {
			size += node.NodeSize()
		}
	}
	return size
}

// InlineText flattens a run of inline nodes.
func InlineText(nodes []*Node) string {
	var builder strings.Builder
	for _, node := range nodes {
		if node != nil {
			node.writeText(&builder)
		}
	}
	return builder.String()
}
