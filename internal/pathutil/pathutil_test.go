package pathutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "src/models/user", Normalize("src/utils/../models/user"))
	assert.Equal(t, "src/utils", Normalize("src/./utils"))
	assert.Equal(t, "a/b", Normalize("./a//b"))
	assert.Equal(t, "", Normalize(".."))
	assert.Equal(t, "b", Normalize("a/../../b"))
}

func TestToPosix(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "src/App/App.csproj", ToPosix(`src\App\App.csproj`))
	assert.Equal(t, "already/posix", ToPosix("already/posix"))
}

func TestDir(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "src/pkg", Dir("src/pkg/main.go"))
	assert.Equal(t, "", Dir("main.go"))
}

func TestStem(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "user", Stem("src/models/user.py"))
	assert.Equal(t, "Makefile", Stem("Makefile"))
}

func TestIsInside(t *testing.T) {
	t.Parallel()
	assert.True(t, IsInside("a/b/c", "a/b"))
	assert.True(t, IsInside("a/b", "a/b"))
	assert.True(t, IsInside("anything", ""))
	assert.False(t, IsInside("a/bc", "a/b"))
}

func TestRelativeTo(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "c", RelativeTo("a/b/c", "a/b"))
	assert.Equal(t, "", RelativeTo("a/b", "a/b"))
	assert.Equal(t, "a/b", RelativeTo("a/b", ""))
}

func TestIgnore_UniversalExcludes(t *testing.T) {
	t.Parallel()
	ig := NewIgnore("")
	assert.True(t, ig.Match("node_modules/react/index.js"))
	assert.True(t, ig.Match("pkg/vendor/lib.go"))
	assert.True(t, ig.Match(".git/HEAD"))
	assert.False(t, ig.Match("src/main.go"))
}

func TestIgnore_Patterns(t *testing.T) {
	t.Parallel()
	ig := NewIgnore("# generated files\n**/generated*.py\n*.tmp\n")
	assert.True(t, ig.Match("src/generated.py"))
	assert.True(t, ig.Match("src/generated_models.py"))
	assert.True(t, ig.Match("scratch.tmp"))
	assert.False(t, ig.Match("src/main.py"))
}

func TestIgnore_CannotReinclude(t *testing.T) {
	t.Parallel()
	// Universal excludes layer under .cplignore: negation cannot bring
	// them back.
	ig := NewIgnore("!node_modules/keep.js\n")
	assert.True(t, ig.Match("node_modules/keep.js"))
}

func TestLoadIgnore_Missing(t *testing.T) {
	t.Parallel()
	ig, err := LoadIgnore(t.TempDir())
	require.NoError(t, err)
	assert.False(t, ig.Match("src/main.go"))
	assert.True(t, ig.Match("dist/out.js"))
}
