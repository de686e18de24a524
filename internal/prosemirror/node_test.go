package prosemirror

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// p1 content spans 1-12, p2 content spans 14-20.
func sampleDoc() *Node {
	return NewDoc(
		NewParagraph("p1", NewText("Hello world")),
		NewParagraph("p2", NewText("Second")),
	)
}

func TestNodeSizes(t *testing.T) {
	doc := sampleDoc()

	assert.Equal(t, 21, doc.ContentSize())
	assert.Equal(t, 13, doc.Content[0].NodeSize())
	assert.Equal(t, 11, doc.Content[0].Content[0].NodeSize())
	assert.Equal(t, 1, (&Node{Type: TypeHardBreak}).NodeSize())
}

func TestTextBetween(t *testing.T) {
	doc := sampleDoc()

	tests := []struct {
		name     string
		from, to int
		expected string
	}{
		{name: "word", from: 1, to: 6, expected: "Hello"},
		{name: "whole doc", from: 0, to: 21, expected: "Hello worldSecond"},
		{name: "second paragraph", from: 14, to: 20, expected: "Second"},
		{name: "empty range", from: 5, to: 5, expected: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, doc.TextBetween(tt.from, tt.to))
		})
	}
}

func TestTextBetweenCountsRunes(t *testing.T) {
	doc := NewDoc(NewParagraph("p1", NewText("naïve café")))

	assert.Equal(t, "café", doc.TextBetween(7, 11))
	assert.Equal(t, 12, doc.ContentSize())
}

func TestTextblockAt(t *testing.T) {
	doc := sampleDoc()

	tb, start, ok := doc.TextblockAt(14)
	require.True(t, ok)
	assert.Equal(t, "p2", tb.Attr("nodeId"))
	assert.Equal(t, 14, start)

	tb, start, ok = doc.TextblockAt(12)
	require.True(t, ok)
	assert.Equal(t, "p1", tb.Attr("nodeId"))
	assert.Equal(t, 1, start)

	_, _, ok = doc.TextblockAt(13)
	assert.False(t, ok, "position between blocks is not inside a textblock")
}

func TestTextblockAtNested(t *testing.T) {
	doc := NewDoc(&Node{
		Type: "bulletList",
		Content: []*Node{{
			Type:    "listItem",
			Content: []*Node{NewParagraph("li", NewText("item"))},
		}},
	})

	tb, start, ok := doc.TextblockAt(3)
	require.True(t, ok)
	assert.Equal(t, "li", tb.Attr("nodeId"))
	assert.Equal(t, 3, start)
	assert.Equal(t, "item", doc.TextBetween(3, 7))
}

func TestInlineSliceKeepsMarks(t *testing.T) {
	bold := Mark{Type: "bold"}
	doc := NewDoc(NewParagraph("p1", NewText("plain "), NewText("bold", bold)))

	slice, err := doc.InlineSlice(4, 9)
	require.NoError(t, err)
	require.Len(t, slice, 2)
	assert.Equal(t, "in ", slice[0].Text)
	assert.Equal(t, "bo", slice[1].Text)
	assert.True(t, slice[1].HasMark(bold))

	_, err = doc.InlineSlice(4, 20)
	assert.ErrorIs(t, err, ErrInvalidRange)
}

func TestInlineSliceEmptyRange(t *testing.T) {
	doc := NewDoc(NewParagraph("p1", NewText("Hello world")))

	for _, pos := range []int{1, 6, 12} {
		slice, err := doc.InlineSlice(pos, pos)
		require.NoError(t, err)
		assert.Empty(t, slice, "collapsed range at %d", pos)
		assert.Zero(t, InlineSize(slice))
	}
}

func TestMarksAround(t *testing.T) {
	bold := Mark{Type: "bold"}
	doc := NewDoc(NewParagraph("p1", NewText("bold", bold), NewText(" tail")))

	assert.Equal(t, []Mark{bold}, doc.MarksAround(3))
	assert.Equal(t, []Mark{bold}, doc.MarksAround(1), "start of block uses the following node")
	assert.Empty(t, doc.MarksAround(7))
}

func TestParseNormalizesAndRoundTrips(t *testing.T) {
	raw := []byte(`{"type":"doc","content":[
		{"type":"paragraph","attrs":{"nodeId":"p1"},"content":[
			{"type":"text","text":"Hel"},
			{"type":"text","text":"lo"},
			{"type":"text","text":"","marks":[{"type":"bold"}]},
			{"type":"text","text":" there","marks":[{"type":"insertion","attrs":{"id":"ins-1","author":"AI"}}]}
		]}
	]}`)

	doc, err := Parse(raw)
	require.NoError(t, err)
	require.Len(t, doc.Content[0].Content, 2)
	assert.Equal(t, "Hello", doc.Content[0].Content[0].Text)

	encoded, err := json.Marshal(doc)
	require.NoError(t, err)
	again, err := Parse(encoded)
	require.NoError(t, err)
	assert.Equal(t, doc, again)
	assert.Equal(t, "ins-1", again.Content[0].Content[1].Marks[0].Attr("id"))
}

func TestParseRejectsNonDoc(t *testing.T) {
	_, err := Parse([]byte(`{"type":"paragraph"}`))
	assert.ErrorIs(t, err, ErrInvalidDocument)

	_, err = Parse([]byte(`not json`))
	assert.ErrorIs(t, err, ErrInvalidDocument)
}

func TestMarkSets(t *testing.T) {
	ins := Mark{Type: "insertion", Attrs: map[string]any{"id": "ins-1"}}
	other := Mark{Type: "insertion", Attrs: map[string]any{"id": "ins-2"}}

	assert.True(t, ins.Matches(Mark{Type: "insertion"}))
	assert.True(t, ins.Matches(Mark{Type: "insertion", Attrs: map[string]any{"id": "ins-1"}}))
	assert.False(t, ins.Matches(other))

	marks := addMark([]Mark{ins}, other)
	assert.Equal(t, []Mark{other}, marks, "same-type marks replace each other")

	c1 := Mark{Type: "comment", Attrs: map[string]any{"commentId": "c1"}}
	c2 := Mark{Type: "comment", Attrs: map[string]any{"commentId": "c2"}}
	assert.Len(t, addMark([]Mark{c1}, c2), 2, "comments stack")

	assert.True(t, SameMarkSet([]Mark{c1, c2}, []Mark{c2, c1}))
	assert.Nil(t, removeMark([]Mark{c1}, Mark{Type: "comment"}))
}
