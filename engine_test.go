package trellis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/store"
)

func TestAssignContexts_MostSpecificRootWins(t *testing.T) {
	t.Parallel()
	contexts := []*store.Context{
		{ID: 1, LanguageFamily: "javascript", RootPath: "", Tier: 1, IncludeSpec: []string{"**/*.js"}},
		{ID: 2, LanguageFamily: "javascript", RootPath: "packages/a", Tier: 2, IncludeSpec: []string{"**/*.js"}},
		{ID: 3, LanguageFamily: "config", RootPath: "", Tier: 3, IncludeSpec: []string{"**/*"}},
	}
	got := assignContexts([]string{
		"packages/a/index.js",
		"root.js",
		"README.md",
	}, contexts)

	assert.Equal(t, int64(2), got["packages/a/index.js"], "nested package beats the workspace root")
	assert.Equal(t, int64(1), got["root.js"])
	assert.Equal(t, int64(3), got["README.md"], "fallback catches unclaimed files")
}

func TestAssignContexts_ExcludeSpec(t *testing.T) {
	t.Parallel()
	contexts := []*store.Context{
		{ID: 1, LanguageFamily: "python", RootPath: "", Tier: 2,
			IncludeSpec: []string{"**/*.py"}, ExcludeSpec: []string{"**/build/**"}},
	}
	got := assignContexts([]string{"src/a.py", "build/gen.py"}, contexts)
	assert.Equal(t, int64(1), got["src/a.py"])
	_, claimed := got["build/gen.py"]
	assert.False(t, claimed)
}

func TestAssignContexts_TierBreaksRootTies(t *testing.T) {
	t.Parallel()
	contexts := []*store.Context{
		{ID: 1, LanguageFamily: "markdown", RootPath: "", Tier: 0, IncludeSpec: []string{"**/*.md"}},
		{ID: 2, LanguageFamily: "config", RootPath: "", Tier: 3, IncludeSpec: []string{"**/*"}},
	}
	got := assignContexts([]string{"docs/readme.md"}, contexts)
	assert.Equal(t, int64(1), got["docs/readme.md"], "ambient context beats the root fallback")
}

func TestEffectiveTier(t *testing.T) {
	t.Parallel()
	require.Less(t, effectiveTier(1), effectiveTier(2))
	require.Less(t, effectiveTier(2), effectiveTier(0))
	require.Less(t, effectiveTier(0), effectiveTier(3))
}

func TestIsBinary(t *testing.T) {
	t.Parallel()
	assert.False(t, isBinary([]byte("plain text\n")))
	assert.True(t, isBinary([]byte{0x89, 'P', 'N', 'G', 0x00, 0x01}))
}

func TestExtByCount(t *testing.T) {
	t.Parallel()
	got := extByCount([]string{"a.py", "b.py", "c.go", "Dockerfile"})
	assert.Equal(t, 2, got[".py"])
	assert.Equal(t, 1, got[".go"])
	assert.Equal(t, 1, got["Dockerfile"])
}
