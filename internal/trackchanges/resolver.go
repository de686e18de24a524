package trackchanges

import "redline/api/internal/prosemirror"

// ParagraphIDAttr is the block attribute holding a paragraph's stable id.
const ParagraphIDAttr = "nodeId"

// Paragraph is a textblock addressed by its stable id. From and To are the
// content bounds in the document it was resolved from and expire with the
// next edit.
type Paragraph struct {
	ID   string `json:"paragraphId"`
	Type string `json:"type"`
	Text string `json:"text"`
	From int    `json:"from"`
	To   int    `json:"to"`
}

// FindParagraph returns the first textblock whose stable id equals id.
func FindParagraph(doc *prosemirror.Node, id string) (Paragraph, bool) {
	var (
		found Paragraph
		ok    bool
	)
	if doc == nil || id == "" {
		return found, false
	}
	doc.Descendants(func(node *prosemirror.Node, pos int, _ *prosemirror.Node) bool {
		if ok {
			return false
		}
		if !node.IsTextblock() {
			return !node.IsLeaf()
		}
		if node.Attr(ParagraphIDAttr) == id {
			found, ok = paragraphAt(node, pos), true
		}
		return false
	})
	return found, ok
}

// Paragraphs lists every textblock carrying a stable id in document order.
// Blocks without an id are skipped and never assigned one.
func Paragraphs(doc *prosemirror.Node) []Paragraph {
	var out []Paragraph
	if doc == nil {
		return out
	}
	doc.Descendants(func(node *prosemirror.Node, pos int, _ *prosemirror.Node) bool {
		if !node.IsTextblock() {
			return !node.IsLeaf()
		}
		if node.Attr(ParagraphIDAttr) != "" {
			out = append(out, paragraphAt(node, pos))
		}
		return false
	})
	return out
}

// BuildIndex snapshots every identified paragraph keyed by id. When an id
// appears twice the first block wins, matching FindParagraph.
func BuildIndex(doc *prosemirror.Node) map[string]Paragraph {
	index := make(map[string]Paragraph)
	for _, p := range Paragraphs(doc) {
		if _, exists := index[p.ID]; !exists {
			index[p.ID] = p
		}
	}
	return index
}

func paragraphAt(node *prosemirror.Node, pos int) Paragraph {
	from := pos + 1
	return Paragraph{
		ID:   node.Attr(ParagraphIDAttr),
		Type: node.Type,
		Text: node.TextContent(),
		From: from,
		To:   from + node.ContentSize(),
	}
}
