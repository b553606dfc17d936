package trellis

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/store"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
}

func openTestEngine(t *testing.T, root string) *Engine {
	t.Helper()
	engine, err := Open(root)
	require.NoError(t, err)
	t.Cleanup(func() { engine.Close() })
	return engine
}

func contextByFamily(t *testing.T, q *Query, family, root string) *Context {
	t.Helper()
	contexts, err := q.ListContexts()
	require.NoError(t, err)
	for _, c := range contexts {
		if c.LanguageFamily == family && c.RootPath == root {
			return c
		}
	}
	return nil
}

// S1: Python src layout.
func TestScenario_PythonSrcLayout(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pyproject.toml", "[project]\nname = \"mypkg\"\n")
	writeFile(t, root, "src/mypkg/__init__.py", "")
	writeFile(t, root, "src/mypkg/a.py", "def f(): pass\n")
	writeFile(t, root, "src/mypkg/b.py", "from mypkg.a import f\n")

	engine := openTestEngine(t, root)
	result, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)
	assert.Positive(t, result.FilesIndexed)

	q := engine.Query()
	pyCtx := contextByFamily(t, q, "python", "")
	require.NotNil(t, pyCtx, "one python context at repo root")

	for _, p := range []string{"src/mypkg/__init__.py", "src/mypkg/a.py", "src/mypkg/b.py"} {
		f, err := q.GetFileByPath(p)
		require.NoError(t, err)
		require.NotNil(t, f, p)
		assert.Equal(t, pyCtx.ID, f.ContextID, p)
	}

	defs, err := q.ListDefsByName(pyCtx.ID, "f", 10)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "function", defs[0].Kind)

	bFile, err := q.GetFileByPath("src/mypkg/b.py")
	require.NoError(t, err)
	imports, err := q.ListImports(bFile.ID)
	require.NoError(t, err)
	require.Len(t, imports, 1)
	assert.Equal(t, "mypkg.a", imports[0].SourceLiteral)
	assert.Equal(t, "f", imports[0].ImportedName)
	require.NotNil(t, imports[0].ResolvedPath)
	assert.Equal(t, "src/mypkg/a.py", *imports[0].ResolvedPath)
}

// S2: pnpm workspace authority.
func TestScenario_PnpmAuthority(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pnpm-workspace.yaml", "packages:\n  - packages/*\n")
	writeFile(t, root, "packages/included/package.json", `{"name": "included"}`)
	writeFile(t, root, "packages/included/index.js", "function inside() {}\n")
	writeFile(t, root, "other/package.json", `{"name": "outsider"}`)
	writeFile(t, root, "other/main.js", "function outside() {}\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	q := engine.Query()
	included := contextByFamily(t, q, "javascript", "packages/included")
	require.NotNil(t, included)
	assert.NotEqual(t, "detached", included.ProbeStatus)

	detached := contextByFamily(t, q, "javascript", "other")
	require.NotNil(t, detached)
	assert.Equal(t, "detached", detached.ProbeStatus)

	// Files under the detached root belong to the detached context, not
	// to the workspace root's context.
	f, err := q.GetFileByPath("other/main.js")
	require.NoError(t, err)
	require.NotNil(t, f)
	assert.Equal(t, detached.ID, f.ContextID)

	inc, err := q.GetFileByPath("packages/included/index.js")
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.Equal(t, included.ID, inc.ContextID)
}

// S3: Go module with config-augmented declared modules.
func TestScenario_GoModule(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "go.mod", "module example.com/app\n\ngo 1.23\n")
	writeFile(t, root, "cmd/main.go", `package main

import "example.com/app/pkg/util"

func main() { util.Do() }
`)
	writeFile(t, root, "pkg/util/u.go", "package util\n\nfunc Do() {}\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	q := engine.Query()
	mainFile, err := q.GetFileByPath("cmd/main.go")
	require.NoError(t, err)
	require.NotNil(t, mainFile)
	assert.Equal(t, "example.com/app/cmd", mainFile.DeclaredModule)

	utilFile, err := q.GetFileByPath("pkg/util/u.go")
	require.NoError(t, err)
	require.NotNil(t, utilFile)
	assert.Equal(t, "example.com/app/pkg/util", utilFile.DeclaredModule)

	imports, err := q.ListImports(mainFile.ID)
	require.NoError(t, err)
	var found bool
	for _, imp := range imports {
		if imp.SourceLiteral == "example.com/app/pkg/util" {
			require.NotNil(t, imp.ResolvedPath)
			assert.Equal(t, "pkg/util/u.go", *imp.ResolvedPath)
			found = true
		}
	}
	assert.True(t, found)
}

// S4: incremental edit keeps the uid and appends a snapshot.
func TestScenario_IncrementalEdit(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pyproject.toml", "")
	writeFile(t, root, "src/mypkg/__init__.py", "")
	writeFile(t, root, "src/mypkg/a.py", "def f():\n    return 1\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	q := engine.Query()
	pyCtx := contextByFamily(t, q, "python", "")
	require.NotNil(t, pyCtx)
	defs, err := q.ListDefsByName(pyCtx.ID, "f", 1)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	uid := defs[0].DefUID

	epoch1, err := q.CurrentEpoch()
	require.NoError(t, err)
	require.NotNil(t, epoch1)

	// Body edit, signature preserved.
	writeFile(t, root, "src/mypkg/a.py", "def f():\n    return 2\n")
	stats, err := engine.ReindexIncremental(context.Background(), []string{"src/mypkg/a.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesModified)

	defs, err = q.ListDefsByName(pyCtx.ID, "f", 1)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, uid, defs[0].DefUID, "body edits do not perturb the uid")

	epoch2, err := q.CurrentEpoch()
	require.NoError(t, err)
	require.Greater(t, epoch2.ID, epoch1.ID)

	history, err := q.SnapshotsForDef(uid)
	require.NoError(t, err)
	require.Len(t, history, 2, "a new snapshot per changed body, prior record retained")
	assert.Equal(t, epoch2.ID, history[0].EpochID)
	assert.Equal(t, epoch1.ID, history[1].EpochID)
	assert.NotEqual(t, history[0].BodyHash, history[1].BodyHash)
}

// S5: .cplignore edits re-evaluate membership.
func TestScenario_CplignoreChange(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "pyproject.toml", "")
	writeFile(t, root, "src/main.py", "def main(): pass\n")
	writeFile(t, root, "src/generated.py", "def generated_handler(): pass\n")
	writeFile(t, root, ".cplignore", "**/generated*.py\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	q := engine.Query()
	f, err := q.GetFileByPath("src/generated.py")
	require.NoError(t, err)
	assert.Nil(t, f, "ignored file has no rows")

	res, err := engine.Search(context.Background(), "generated_handler", SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, res.Results, "ignored file is not searchable")

	// Drop the pattern; an empty changed set still triggers
	// re-evaluation because the ignore file changed.
	writeFile(t, root, ".cplignore", "")
	stats, err := engine.ReindexIncremental(context.Background(), nil)
	require.NoError(t, err)
	assert.Positive(t, stats.FilesProcessed)

	f, err = q.GetFileByPath("src/generated.py")
	require.NoError(t, err)
	require.NotNil(t, f, "file becomes visible after the ignore edit")

	res, err = engine.Search(context.Background(), "generated_handler", SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)
}

// S6: language-filtered search.
func TestScenario_SearchLanguageFilter(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "src/a.py", "# the handler lives here\ndef handler(): pass\n")
	writeFile(t, root, "web/b.js", "// handler too\nfunction handler() {}\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	res, err := engine.Search(context.Background(), "handler", SearchOptions{
		Limit:           20,
		FilterLanguages: []string{"python"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Results)
	for _, r := range res.Results {
		assert.Equal(t, "src/a.py", r.Path)
	}
}

func TestEpochAtomicity(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "def f(): pass\n")
	writeFile(t, root, "b.py", "def g(): pass\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	q := engine.Query()
	epoch, err := q.CurrentEpoch()
	require.NoError(t, err)
	require.NotNil(t, epoch)

	files, err := q.ListFiles(0)
	require.NoError(t, err)
	require.NotEmpty(t, files)
	for _, f := range files {
		assert.GreaterOrEqual(t, f.LastSeenEpoch, epoch.ID, f.Path)
	}
}

func TestCancelledInitializeIsNoOp(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "def f(): pass\n")

	engine := openTestEngine(t, root)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := engine.Initialize(ctx, nil)
	require.Error(t, err)

	epoch, err := engine.Query().CurrentEpoch()
	require.NoError(t, err)
	assert.Nil(t, epoch, "a cancelled reindex publishes nothing")
}

func TestRemovedFileIsSoftRemoved(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "def f(): pass\n")
	writeFile(t, root, "b.py", "def g(): pass\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.py")))
	stats, err := engine.ReindexIncremental(context.Background(), []string{"b.py"})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)

	f, err := engine.Query().GetFileByPath("b.py")
	require.NoError(t, err)
	require.NotNil(t, f, "row kept for epoch history")
	assert.True(t, f.Missing)

	defs, err := engine.Query().ListDefsInFile(f.ID)
	require.NoError(t, err)
	assert.Empty(t, defs)

	res, err := engine.Search(context.Background(), "g", SearchOptions{Limit: 10})
	require.NoError(t, err)
	for _, r := range res.Results {
		assert.NotEqual(t, "b.py", r.Path)
	}
}

func TestReindexFullRebuilds(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "def f(): pass\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	stats, err := engine.ReindexFull(context.Background())
	require.NoError(t, err)
	assert.Positive(t, stats.FilesProcessed)

	q := engine.Query()
	f, err := q.GetFileByPath("a.py")
	require.NoError(t, err)
	require.NotNil(t, f)
	defs, err := q.ListDefsInFile(f.ID)
	require.NoError(t, err)
	assert.Len(t, defs, 1)

	res, err := engine.Search(context.Background(), "f", SearchOptions{Limit: 10})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Results)
}

func TestNoOpIncrementalReindex(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.py", "def f(): pass\n")

	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	epochBefore, err := engine.Query().CurrentEpoch()
	require.NoError(t, err)

	stats, err := engine.ReindexIncremental(context.Background(), nil)
	require.NoError(t, err)
	assert.Zero(t, stats.FilesProcessed)

	epochAfter, err := engine.Query().CurrentEpoch()
	require.NoError(t, err)
	assert.Equal(t, epochBefore.ID, epochAfter.ID, "no-op reindex publishes no epoch")
}

func TestProvenRefsAcrossQuerySurface(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "m.py", `
def helper():
    pass

def main():
    helper()
`)
	engine := openTestEngine(t, root)
	_, err := engine.Initialize(context.Background(), nil)
	require.NoError(t, err)

	q := engine.Query()
	f, err := q.GetFileByPath("m.py")
	require.NoError(t, err)
	require.NotNil(t, f)

	defs, err := q.ListDefsInFile(f.ID)
	require.NoError(t, err)
	var helperUID string
	for _, d := range defs {
		if d.Name == "helper" {
			helperUID = d.DefUID
		}
	}
	require.NotEmpty(t, helperUID)

	refs, err := q.ListProvenRefs(helperUID)
	require.NoError(t, err)
	require.NotEmpty(t, refs)
	for _, r := range refs {
		assert.Equal(t, store.TierProven, r.RefTier)
		assert.Equal(t, "helper", r.TokenText)
	}

	scopes, err := q.ListScopesInFile(f.ID)
	require.NoError(t, err)
	fileScopes := 0
	for _, sc := range scopes {
		if sc.Kind == store.ScopeFile {
			fileScopes++
			assert.Nil(t, sc.ParentScopeID)
		}
	}
	assert.Equal(t, 1, fileScopes)
}
