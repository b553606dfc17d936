package lexical

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "lexical"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })
	return ix
}

func TestAddAndSearch(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	require.NoError(t, ix.AddFile("src/a.py", "def handler(request):\n    return 200\n", 1, 10, []string{"handler"}))

	res, err := ix.Search("handler", 10, nil, 1)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "src/a.py", res.Results[0].Path)
	assert.Equal(t, 1, res.Results[0].Line)
	assert.Equal(t, int64(1), res.Results[0].ContextID)
	assert.Empty(t, res.FallbackReason)
}

func TestSearch_OneRowPerMatchingLine(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	content := "alpha handler one\nnothing here\nhandler again\n"
	require.NoError(t, ix.AddFile("src/m.py", content, 1, 1, nil))

	res, err := ix.Search("handler", 10, nil, 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, 1, res.Results[0].Line)
	assert.Equal(t, 3, res.Results[1].Line)
}

func TestSearch_ContextWindow(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	content := "line1\nline2\ntarget\nline4\nline5\n"
	require.NoError(t, ix.AddFile("f.txt", content, 1, 1, nil))

	res, err := ix.Search("target", 10, nil, 1)
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "line2\ntarget\nline4", res.Results[0].Snippet)
}

func TestSearch_ContextFilter(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	require.NoError(t, ix.AddFile("a.py", "needle in python", 1, 1, nil))
	require.NoError(t, ix.AddFile("b.js", "needle in javascript", 2, 2, nil))

	ctx := int64(2)
	res, err := ix.Search("needle", 10, &ctx, 0)
	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "b.js", res.Results[0].Path)
}

func TestSearch_SyntaxErrorFallback(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	require.NoError(t, ix.AddFile("a.py", "weird +content here", 1, 1, nil))

	// Unbalanced quote is a query syntax error; escaped retry recovers.
	res, err := ix.Search(`weird "unbalanced`, 10, nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.FallbackReason)
}

func TestStagedCommit(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)

	ix.StageFile("a.py", "staged content alpha", 1, 1, nil)
	ix.StageFile("b.py", "staged content beta", 1, 2, nil)
	assert.True(t, ix.HasStagedChanges())
	adds, removes := ix.StagedCount()
	assert.Equal(t, 2, adds)
	assert.Zero(t, removes)

	// Invisible until commit.
	res, err := ix.Search("staged", 10, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)

	n, err := ix.CommitStaged()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.False(t, ix.HasStagedChanges())

	res, err = ix.Search("staged", 10, nil, 0)
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
}

func TestStagedDiscard(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	ix.StageFile("a.py", "discard me", 1, 1, nil)
	ix.StageRemove("b.py")
	assert.Equal(t, 2, ix.DiscardStaged())
	assert.False(t, ix.HasStagedChanges())

	res, err := ix.Search("discard", 10, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestStagedRemove(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	require.NoError(t, ix.AddFile("a.py", "to be removed", 1, 1, nil))

	ix.StageRemove("a.py")
	_, err := ix.CommitStaged()
	require.NoError(t, err)

	res, err := ix.Search("removed", 10, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestSearchSymbolsAndPath(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	require.NoError(t, ix.AddFile("src/handlers.py", "def do_work():\n    pass\n", 1, 1, []string{"do_work"}))

	res, err := ix.SearchSymbols("do_work", 10, nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)

	res, err = ix.SearchPath("handlers", 10, nil, 0)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)
}

func TestDocCountAndUpdate(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	require.NoError(t, ix.AddFile("a.py", "first version", 1, 1, nil))
	require.NoError(t, ix.AddFile("a.py", "second version", 1, 1, nil))

	count, err := ix.DocCount()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), count, "re-adding a path replaces the document")

	res, err := ix.Search("first", 10, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestClear(t *testing.T) {
	t.Parallel()
	ix := newTestIndex(t)
	require.NoError(t, ix.AddFile("a.py", "something", 1, 1, nil))
	require.NoError(t, ix.Clear())
	count, err := ix.DocCount()
	require.NoError(t, err)
	assert.Zero(t, count)
}
