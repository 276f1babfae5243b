package mega

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyMutations_NoneReturnsBase(t *testing.T) {
	t.Parallel()

	base := testTree(folder("a", "R", "a"))
	assert.Same(t, base, applyMutations(base, nil, testLogger(t)))
}

func TestApplyMutations_AddMoveRenameDelete(t *testing.T) {
	t.Parallel()

	base := testTree(
		folder("a", "R", "a"),
		folder("b", "R", "b"),
		file("x", "a", "x.txt", 1, baseTime),
		file("y", "b", "y.txt", 1, baseTime),
	)

	got := applyMutations(base, []mutation{
		{kind: mutAdd, node: file("new", "b", "new.txt", 5, baseTime)},
		{kind: mutMove, handle: "x", parent: "b", name: "moved.txt"},
		{kind: mutRename, handle: "b", name: "bee"},
		{kind: mutDelete, handle: "a"},
	}, testLogger(t))

	assert.Equal(t, "new", got.Stat("/Root/bee/new.txt").Handle)
	assert.Equal(t, "x", got.Stat("/Root/bee/moved.txt").Handle)
	assert.Nil(t, got.Stat("/Root/a"))
	assert.Nil(t, got.Node("a"))

	// The base snapshot is untouched.
	require.NotNil(t, base.Stat("/Root/a/x.txt"))
	assert.Equal(t, "b", base.Node("b").Name)
	assert.Nil(t, base.Node("new"))
}

func TestApplyMutations_DeleteRemovesSubtree(t *testing.T) {
	t.Parallel()

	base := testTree(
		folder("a", "R", "a"),
		folder("b", "a", "b"),
		file("x", "b", "x", 1, baseTime),
		file("keep", "R", "keep", 1, baseTime),
	)

	got := applyMutations(base, []mutation{{kind: mutDelete, handle: "a"}}, testLogger(t))

	assert.Nil(t, got.Node("b"))
	assert.Nil(t, got.Node("x"))
	assert.NotNil(t, got.Node("keep"))
	assert.Equal(t, base.Len()-3, got.Len())
}

func TestApplyMutations_MissingHandlesIgnored(t *testing.T) {
	t.Parallel()

	base := testTree(folder("a", "R", "a"))

	got := applyMutations(base, []mutation{
		{kind: mutMove, handle: "gone", parent: "R"},
		{kind: mutRename, handle: "gone", name: "z"},
		{kind: mutDelete, handle: "gone"},
	}, testLogger(t))

	assert.Equal(t, base.Len(), got.Len())
	assert.NotNil(t, got.Stat("/Root/a"))
}
