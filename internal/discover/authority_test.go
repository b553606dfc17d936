package discover

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/langs"
)

func applyAuthority(files map[string]string) AuthorityResult {
	paths, read := fakeTree(files)
	result := New(paths, read).DiscoverAll()
	return NewAuthority(read).Apply(result.Candidates)
}

func detachedRoots(result AuthorityResult) []string {
	var roots []string
	for _, c := range result.Detached {
		roots = append(roots, c.RootPath)
	}
	return roots
}

func pendingRoots(result AuthorityResult, family string) []string {
	var roots []string
	for _, c := range result.Pending {
		if c.LanguageFamily == family {
			roots = append(roots, c.RootPath)
		}
	}
	return roots
}

func TestAuthority_PnpmWorkspace(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"pnpm-workspace.yaml":            "packages:\n  - packages/*\n",
		"packages/included/package.json": `{"name": "included"}`,
		"other/package.json":             `{"name": "outsider"}`,
	})

	assert.Contains(t, pendingRoots(result, langs.FamilyJavaScript), "packages/included")
	require.Len(t, result.Detached, 1)
	assert.Equal(t, "other", result.Detached[0].RootPath)
	assert.Equal(t, ProbeDetached, result.Detached[0].ProbeStatus)
}

func TestAuthority_GoWork(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"go.work":              "go 1.23\n\nuse (\n\t./svc/api\n)\n",
		"svc/api/go.mod":       "module example.com/api\n",
		"svc/orphan/go.mod":    "module example.com/orphan\n",
	})

	assert.Contains(t, pendingRoots(result, langs.FamilyGo), "svc/api")
	assert.Equal(t, []string{"svc/orphan"}, detachedRoots(result))
}

func TestAuthority_CargoWorkspace(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"Cargo.toml":            "[workspace]\nmembers = [\"crates/*\"]\n",
		"crates/a/Cargo.toml":   "[package]\nname = \"a\"\n",
		"detached/Cargo.toml":   "[package]\nname = \"d\"\n",
	})

	assert.Contains(t, pendingRoots(result, langs.FamilyRust), "crates/a")
	assert.Equal(t, []string{"detached"}, detachedRoots(result))
}

func TestAuthority_GradleStrict(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"settings.gradle":     "include ':core'\ninclude ':app'\n",
		"core/build.gradle":   "",
		"app/build.gradle":    "",
		"extra/build.gradle":  "",
	})

	pending := pendingRoots(result, langs.FamilyJVM)
	assert.Contains(t, pending, "core")
	assert.Contains(t, pending, "app")
	assert.Equal(t, []string{"extra"}, detachedRoots(result))
}

func TestAuthority_GradleVariablesPermissive(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"settings.gradle":    "rootDir.listFiles().each { include \":${it.name}\" }\n",
		"extra/build.gradle": "",
	})
	assert.Empty(t, result.Detached, "variable interpolation makes gradle settings permissive")
}

func TestAuthority_MavenModules(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"pom.xml":          "<project><modules><module>core</module></modules></project>",
		"core/pom.xml":     "<project/>",
		"stray/pom.xml":    "<project/>",
	})

	assert.Contains(t, pendingRoots(result, langs.FamilyJVM), "core")
	assert.Equal(t, []string{"stray"}, detachedRoots(result))
}

func TestAuthority_SlnBackslashPaths(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"App.sln": `Project("{FAE04EC0-301F-11D3-BF4B-00C04F79EFBC}") = "App", "src\App\App.csproj", "{1234}"` + "\n",
		"src/App/App.csproj":   "<Project/>",
		"src/Other/Other.csproj": "<Project/>",
	})

	assert.Contains(t, pendingRoots(result, langs.FamilyDotnet), "src/App")
	assert.Equal(t, []string{"src/Other"}, detachedRoots(result))
}

func TestAuthority_NoMechanismPassesThrough(t *testing.T) {
	t.Parallel()
	result := applyAuthority(map[string]string{
		"pyproject.toml":       "",
		"nested/pyproject.toml": "",
	})
	assert.Empty(t, result.Detached)
	assert.Len(t, pendingRoots(result, langs.FamilyPython), 2)
}

func TestAuthority_MalformedConfigLenient(t *testing.T) {
	t.Parallel()
	// A YAML parse error leaves the glob set empty; with no globs the
	// group stays permissive and a warning is recorded.
	result := applyAuthority(map[string]string{
		"pnpm-workspace.yaml": "packages: [unclosed\n  - broken",
		"pkg/package.json":    `{"name": "pkg"}`,
	})
	assert.Empty(t, result.Detached)
	assert.NotEmpty(t, result.Warnings)
}

func TestMatchesAnyGlob(t *testing.T) {
	t.Parallel()
	assert.True(t, matchesAnyGlob("packages/a", []string{"packages/*"}))
	assert.True(t, matchesAnyGlob("packages/a", []string{"./packages/*"}))
	assert.True(t, matchesAnyGlob("packages/a", []string{"packages/a/**"}))
	assert.True(t, matchesAnyGlob("packages/a", []string{"packages/a"}))
	assert.True(t, matchesAnyGlob("packages/a/b", []string{"packages/a"}))
	assert.False(t, matchesAnyGlob("other/a", []string{"packages/*"}))
}
