// Package prosemirror is an in-process model of the ProseMirror document
// tree: JSON-compatible nodes and marks, integer position addressing,
// position-based steps grouped into transactions, and an editor that runs
// pre-commit hooks before a transaction unit becomes the current document.
package prosemirror

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Node represents a node in the ProseMirror document tree
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []*Node        `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

const (
	TypeDoc            = "doc"
	TypeParagraph      = "paragraph"
	TypeHeading        = "heading"
	TypeCodeBlock      = "codeBlock"
	TypeText           = "text"
	TypeHardBreak      = "hardBreak"
	TypeImage          = "image"
	TypeHorizontalRule = "horizontalRule"
)

var textblockTypes = map[string]struct{}{
	TypeParagraph: {},
	TypeHeading:   {},
	TypeCodeBlock: {},
}

var inlineLeafTypes = map[string]struct{}{
	TypeHardBreak: {},
	TypeImage:     {},
	"mention":     {},
}

var blockLeafTypes = map[string]struct{}{
	TypeHorizontalRule: {},
}

var ErrInvalidDocument = errors.New("invalid document")

// NewDoc builds a doc node from block children.
func NewDoc(blocks ...*Node) *Node {
	return &Node{Type: TypeDoc, Content: compact(blocks)}
}

// NewParagraph builds a paragraph with an optional stable nodeId.
func NewParagraph(nodeID string, inline ...*Node) *Node {
	p := &Node{Type: TypeParagraph, Content: compact(inline)}
	if nodeID != "" {
		p.Attrs = map[string]any{"nodeId": nodeID}
	}
	return p
}

func compact(nodes []*Node) []*Node {
	var out []*Node
	for _, node := range nodes {
		if node != nil {
			out = append(out, node)
		}
	}
	return out
}

// NewText builds a text node. Empty text yields nil.
func NewText(text string, marks ...Mark) *Node {
	if text == "" {
		return nil
	}
	n := &Node{Type: TypeText, Text: text}
	if len(marks) > 0 {
		n.Marks = append([]Mark(nil), marks...)
	}
	return n
}

func (n *Node) IsText() bool {
	return n.Type == TypeText
}

func (n *Node) IsTextblock() bool {
	_, ok := textblockTypes[n.Type]
	return ok
}

func (n *Node) IsInline() bool {
	if n.IsText() {
		return true
	}
	_, ok := inlineLeafTypes[n.Type]
	return ok
}

// IsLeaf reports whether the node has no content positions of its own.
func (n *Node) IsLeaf() bool {
	if n.IsText() {
		return true
	}
	if _, ok := inlineLeafTypes[n.Type]; ok {
		return true
	}
	_, ok := blockLeafTypes[n.Type]
	return ok
}

// NodeSize is the number of positions the node occupies in its parent.
func (n *Node) NodeSize() int {
	switch {
	case n.IsText():
		return utf8.RuneCountInString(n.Text)
	case n.IsLeaf():
		return 1
	default:
		return n.ContentSize() + 2
	}
}

// ContentSize is the number of positions between the node's opening and
// closing tokens.
func (n *Node) ContentSize() int {
	size := 0
	for _, child := range n.Content {
		size += child.NodeSize()
	}
	return size
}

// Attr returns a string attribute or "".
func (n *Node) Attr(key string) string {
	if n == nil || n.Attrs == nil {
		return ""
	}
	value, _ := n.Attrs[key].(string)
	return value
}

// SetAttr sets an attribute, allocating the map on demand.
func (n *Node) SetAttr(key string, value any) {
	if n.Attrs == nil {
		n.Attrs = make(map[string]any)
	}
	n.Attrs[key] = value
}

// HasMark reports whether the node carries a mark matching pattern.
func (n *Node) HasMark(pattern Mark) bool {
	for _, m := range n.Marks {
		if m.Matches(pattern) {
			return true
		}
	}
	return false
}

// MarkOfType returns the first mark of the given type.
func (n *Node) MarkOfType(markType string) (Mark, bool) {
	for _, m := range n.Marks {
		if m.Type == markType {
			return m, true
		}
	}
	return Mark{}, false
}

// Clone returns a deep copy.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	clone := &Node{
		Type:  n.Type,
		Attrs: cloneAttrs(n.Attrs),
		Text:  n.Text,
	}
	if len(n.Marks) > 0 {
		clone.Marks = make([]Mark, len(n.Marks))
		for i, m := range n.Marks {
			clone.Marks[i] = m.Clone()
		}
	}
	if len(n.Content) > 0 {
		clone.Content = make([]*Node, len(n.Content))
		for i, child := range n.Content {
			clone.Content[i] = child.Clone()
		}
	}
	return clone
}

// TextContent flattens the node to text. Inline leaves contribute one rune
// each so that rune offsets line up with positions inside a textblock.
func (n *Node) TextContent() string {
	var builder strings.Builder
	n.writeText(&builder)
	return builder.String()
}

func (n *Node) writeText(builder *strings.Builder) {
	switch {
	case n.IsText():
		builder.WriteString(n.Text)
	case n.IsLeaf():
		builder.WriteString(leafText(n))
	default:
		for _, child := range n.Content {
			child.writeText(builder)
		}
	}
}

func leafText(n *Node) string {
	if n.Type == TypeHardBreak {
		return "\n"
	}
	return "\ufffc"
}

// Parse decodes a ProseMirror JSON document.
func Parse(raw []byte) (*Node, error) {
	var doc Node
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if doc.Type != TypeDoc {
		return nil, fmt.Errorf("%w: root type %q", ErrInvalidDocument, doc.Type)
	}
	doc.normalize()
	return &doc, nil
}

// normalize drops empty text nodes and joins adjacent text nodes that carry
// the same marks.
func (n *Node) normalize() {
	if n.IsLeaf() {
		return
	}
	if n.IsTextblock() {
		n.Content = joinInline(n.Content)
		return
	}
	for _, child := range n.Content {
		if child != nil {
			child.normalize()
		}
	}
}

func joinInline(nodes []*Node) []*Node {
	out := make([]*Node, 0, len(nodes))
	for _, node := range nodes {
		if node == nil || (node.IsText() && node.Text == "") {
			continue
		}
		if len(out) > 0 {
			last := out[len(out)-1]
			if last.IsText() && node.IsText() && SameMarkSet(last.Marks, node.Marks) {
				out[len(out)-1] = &Node{Type: TypeText, Text: last.Text + node.Text, Marks: last.Marks}
				continue
			}
		}
		out = append(out, node)
	}
	return out
}

func cloneAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
