package trackchanges

import (
	"errors"

	"redline/api/internal/prosemirror"
)

var ErrEmptyRange = errors.New("trackchanges: comment range is empty")

func commentMark(id string) prosemirror.Mark {
	return prosemirror.Mark{Type: markComment, Attrs: map[string]any{"commentId": id}}
}

// AddComment anchors comment id to [from, to). Comment text and threads are
// stored elsewhere; the document only carries the anchor.
func (e *Engine) AddComment(from, to int, id string) error {
	if from >= to {
		return ErrEmptyRange
	}
	return e.apply(func(tr *prosemirror.Transaction) error {
		return tr.AddMark(from, to, commentMark(id))
	})
}

// RemoveComment drops every anchor of comment id. It reports false when
// the comment is not anchored anywhere.
func (e *Engine) RemoveComment(id string) (bool, error) {
	doc, err := e.Doc()
	if err != nil {
		return false, err
	}
	ranges := FindComment(doc, id)
	if len(ranges) == 0 {
		return false, nil
	}
	err = e.apply(func(tr *prosemirror.Transaction) error {
		for _, r := range ranges {
			if err := tr.RemoveMark(r.From, r.To, commentMark(id)); err != nil {
				return err
			}
		}
		return nil
	})
	return err == nil, err
}

// FindComment returns the ranges anchored to comment id in document order.
func FindComment(doc *prosemirror.Node, id string) []Range {
	var out []Range
	pattern := commentMark(id)
	doc.Descendants(func(node *prosemirror.Node, pos int, _ *prosemirror.Node) bool {
		if !node.IsInline() {
			return true
		}
		if !node.HasMark(pattern) {
			return false
		}
		end := pos + node.NodeSize()
		if n := len(out); n > 0 && out[n-1].To == pos {
			out[n-1].To = end
		} else {
			out = append(out, Range{From: pos, To: end})
		}
		return false
	})
	return out
}

// CommentIDs lists the ids of every anchored comment in document order.
func CommentIDs(doc *prosemirror.Node) []string {
	var out []string
	seen := make(map[string]struct{})
	doc.Descendants(func(node *prosemirror.Node, _ int, _ *prosemirror.Node) bool {
		if !node.IsInline() {
			return true
		}
		for _, m := range node.Marks {
			if m.Type != markComment {
				continue
			}
			id := m.Attr("commentId")
			if _, ok := seen[id]; ok || id == "" {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
		return false
	})
	return out
}
