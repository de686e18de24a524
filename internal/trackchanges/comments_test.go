package trackchanges

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommentsAnchorWithoutTracking(t *testing.T) {
	engine, editor := newTestEngine(t, twoParagraphs())

	require.NoError(t, engine.AddComment(1, 6, "c1"))
	require.NoError(t, engine.AddComment(3, 17, "c2"))

	assert.Empty(t, markers(t, engine), "comments are not tracked changes")
	assert.Equal(t, []Range{{From: 1, To: 6}}, FindComment(editor.Doc(), "c1"))
	assert.Equal(t, []Range{{From: 3, To: 12}, {From: 14, To: 17}}, FindComment(editor.Doc(), "c2"))
	assert.Equal(t, []string{"c1", "c2"}, CommentIDs(editor.Doc()))

	removed, err := engine.RemoveComment("c1")
	require.NoError(t, err)
	assert.True(t, removed)
	assert.Empty(t, FindComment(editor.Doc(), "c1"))
	assert.Len(t, FindComment(editor.Doc(), "c2"), 2)

	removed, err = engine.RemoveComment("c1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestAddCommentRejectsEmptyRange(t *testing.T) {
	engine, _ := newTestEngine(t, twoParagraphs())

	assert.ErrorIs(t, engine.AddComment(4, 4, "c1"), ErrEmptyRange)
}

func TestTrackedTextKeepsComment(t *testing.T) {
	engine, editor := newTestEngine(t, twoParagraphs())
	require.NoError(t, engine.AddComment(7, 12, "c1"))

	require.NoError(t, engine.DeleteRange(7, 12))

	assert.Equal(t, []Range{{From: 7, To: 12}}, FindComment(editor.Doc(), "c1"))
	got := markers(t, engine)
	require.Len(t, got, 1)
	assert.Equal(t, "world", got[0].Text)
}
