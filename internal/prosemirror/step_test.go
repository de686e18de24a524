package prosemirror

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepMapAssociation(t *testing.T) {
	insertion := StepMap{Pos: 5, NewSize: 3}
	assert.Equal(t, 4, insertion.Map(4, 1))
	assert.Equal(t, 5, insertion.Map(5, -1))
	assert.Equal(t, 8, insertion.Map(5, 1))
	assert.Equal(t, 9, insertion.Map(6, -1))

	deletion := StepMap{Pos: 5, OldSize: 3}
	assert.Equal(t, 5, deletion.Map(5, 1))
	assert.Equal(t, 5, deletion.Map(6, 1))
	assert.Equal(t, 5, deletion.Map(8, -1))
	assert.Equal(t, 7, deletion.Map(10, 1))
	assert.True(t, deletion.Deleted(6))
	assert.False(t, deletion.Deleted(5))

	assert.Equal(t, 42, EmptyMap.Map(42, -1))
}

func TestMappingSlice(t *testing.T) {
	var m Mapping
	m.Append(StepMap{Pos: 1, NewSize: 2})
	m.Append(StepMap{Pos: 10, OldSize: 4})

	assert.Equal(t, 2, m.Len())
	assert.Equal(t, 8, m.Map(6, 1))
	assert.Equal(t, 6, m.Slice(1).Map(6, 1))
	assert.Equal(t, 0, m.Slice(5).Len())
}

func TestReplaceStep(t *testing.T) {
	tr := NewTransaction(sampleDoc())

	require.NoError(t, tr.Replace(7, 12, NewText("there")))
	assert.Equal(t, "Hello there", tr.Doc().Content[0].TextContent())

	require.NoError(t, tr.Replace(1, 6, NewText("Hi")))
	assert.Equal(t, "Hi there", tr.Doc().Content[0].TextContent())
	assert.Equal(t, "Hello world", tr.Before().Content[0].TextContent(), "steps never mutate earlier documents")
	assert.Equal(t, "Hello there", tr.DocBefore(1).Content[0].TextContent())

	mapping := tr.Mapping()
	assert.Equal(t, 11, mapping.Map(14, 1))
	assert.True(t, tr.DocChanged())
}

func TestReplaceStepRejectsInvalidRanges(t *testing.T) {
	tr := NewTransaction(sampleDoc())

	assert.ErrorIs(t, tr.Replace(10, 15), ErrInvalidRange)
	assert.ErrorIs(t, tr.Replace(6, 2), ErrInvalidRange)
	assert.ErrorIs(t, tr.Replace(13, 13, NewText("x")), ErrInvalidRange)
	assert.ErrorIs(t, tr.Replace(1, 1, NewParagraph("x")), ErrInvalidRange)
	assert.False(t, tr.DocChanged())
}

func TestReplaceJoinsTextWithSameMarks(t *testing.T) {
	tr := NewTransaction(sampleDoc())

	require.NoError(t, tr.InsertText(6, ","))
	require.Len(t, tr.Doc().Content[0].Content, 1)
	assert.Equal(t, "Hello, world", tr.Doc().Content[0].Content[0].Text)
}

func TestMarkSteps(t *testing.T) {
	bold := Mark{Type: "bold"}
	tr := NewTransaction(sampleDoc())

	require.NoError(t, tr.AddMark(1, 6, bold))
	p := tr.Doc().Content[0]
	require.Len(t, p.Content, 2)
	assert.True(t, p.Content[0].HasMark(bold))
	assert.False(t, p.Content[1].HasMark(bold))
	assert.Equal(t, 0, tr.Mapping().Map(0, 1))

	require.NoError(t, tr.AddMark(3, 17, Mark{Type: "italic"}))
	assert.Len(t, tr.Doc().Content[1].Content, 2, "marks span textblocks")

	require.NoError(t, tr.RemoveMark(0, 21, bold))
	for _, node := range tr.Doc().Content[0].Content {
		assert.False(t, node.HasMark(bold))
	}

	assert.ErrorIs(t, tr.AddMark(0, 99, bold), ErrInvalidRange)
}

func TestBlockSteps(t *testing.T) {
	tr := NewTransaction(sampleDoc())

	require.NoError(t, tr.InsertBlock(13, NewParagraph("p3", NewText("New"))))
	require.Len(t, tr.Doc().Content, 3)
	assert.Equal(t, "p3", tr.Doc().Content[1].Attr("nodeId"))
	assert.Equal(t, 19, tr.Mapping().Map(14, 1))

	require.NoError(t, tr.DeleteBlock(0))
	require.Len(t, tr.Doc().Content, 2)
	assert.Equal(t, "p3", tr.Doc().Content[0].Attr("nodeId"))

	assert.ErrorIs(t, tr.DeleteBlock(3), ErrInvalidRange)
	assert.ErrorIs(t, tr.InsertBlock(2, NewParagraph("x")), ErrInvalidRange)
	assert.ErrorIs(t, tr.InsertBlock(0, NewText("inline")), ErrInvalidRange)
}
