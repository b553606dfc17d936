package langs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanguageForFile(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"src/main.go":       "go",
		"web/app.tsx":       "tsx",
		"web/app.ts":        "typescript",
		"lib/util.mjs":      "javascript",
		"pkg/mod.rs":        "rust",
		"a/b/c.py":          "python",
		"Dockerfile":        "dockerfile",
		"deploy/Dockerfile": "dockerfile",
		"Gemfile":           "ruby",
		"schema.sql":        "sql",
		"cfg.yaml":          "yaml",
		"Main.kt":           "kotlin",
		"Program.cs":        "csharp",
	}
	for path, want := range cases {
		got, ok := LanguageForFile(path)
		require.True(t, ok, "expected a language for %s", path)
		assert.Equal(t, want, got, path)
	}

	_, ok := LanguageForFile("binary.xyz123")
	assert.False(t, ok)
}

func TestFilenameBeatsExtension(t *testing.T) {
	t.Parallel()
	// Gemfile has no extension; Rakefile likewise.
	lang, ok := LanguageForFile("tools/Rakefile")
	require.True(t, ok)
	assert.Equal(t, "ruby", lang)
}

func TestFamilyForLanguage(t *testing.T) {
	t.Parallel()
	for lang, family := range map[string]string{
		"typescript": FamilyJavaScript,
		"tsx":        FamilyJavaScript,
		"kotlin":     FamilyJVM,
		"scala":      FamilyJVM,
		"csharp":     FamilyDotnet,
		"c":          FamilyCPP,
		"yaml":       FamilyJSONYAML,
	} {
		got, ok := FamilyForLanguage(lang)
		require.True(t, ok, lang)
		assert.Equal(t, family, got)
	}
}

func TestGrammar(t *testing.T) {
	t.Parallel()
	for _, lang := range []string{"go", "python", "typescript", "rust", "csharp", "ruby", "lua"} {
		g, ok := Grammar(lang)
		require.True(t, ok, lang)
		assert.NotNil(t, g)
	}
	_, ok := Grammar("haskell")
	assert.False(t, ok, "haskell has no bundled grammar")
}

func TestDefinitions(t *testing.T) {
	t.Parallel()
	goDef, ok := ByFamily(FamilyGo)
	require.True(t, ok)
	assert.Equal(t, []string{"go.work"}, goDef.WorkspaceMarkers)
	assert.Equal(t, []string{"go.mod"}, goDef.PackageMarkers)

	rustDef, ok := ByFamily(FamilyRust)
	require.True(t, ok)
	assert.Empty(t, rustDef.WorkspaceMarkers, "Cargo workspace detection is content-based")

	ambient := AmbientFamilies()
	assert.Contains(t, ambient, FamilyMarkdown)
	assert.Contains(t, ambient, FamilySQL)
	assert.Contains(t, ambient, FamilyJSONYAML)
	assert.NotContains(t, ambient, FamilyGo)
}

func TestIsDataLanguage(t *testing.T) {
	t.Parallel()
	assert.True(t, IsDataLanguage("json"))
	assert.True(t, IsDataLanguage("yaml"))
	assert.False(t, IsDataLanguage("go"))
}
