// Package langs is the static language registry: for each language family
// it records file extensions, exact filenames, workspace/package marker
// files, include globs, the tree-sitter grammar, and whether the family is
// ambient (indexed at repo root without markers).
package langs

import (
	"path"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/bash"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/dockerfile"
	"github.com/smacker/go-tree-sitter/elixir"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/hcl"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/kotlin"
	"github.com/smacker/go-tree-sitter/lua"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/scala"
	"github.com/smacker/go-tree-sitter/sql"
	"github.com/smacker/go-tree-sitter/swift"
	"github.com/smacker/go-tree-sitter/toml"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
	"github.com/smacker/go-tree-sitter/yaml"
)

// MarkerTier distinguishes workspace fences from package roots.
type MarkerTier int

const (
	TierWorkspace MarkerTier = 1
	TierPackage   MarkerTier = 2
)

// Family is a language family name. Families group languages that share a
// workspace system (e.g. java/kotlin/scala under "jvm").
const (
	FamilyJavaScript = "javascript"
	FamilyPython     = "python"
	FamilyGo         = "go"
	FamilyRust       = "rust"
	FamilyJVM        = "jvm"
	FamilyDotnet     = "dotnet"
	FamilyCPP        = "cpp"
	FamilyRuby       = "ruby"
	FamilyPHP        = "php"
	FamilySwift      = "swift"
	FamilyElixir     = "elixir"
	FamilyLua        = "lua"
	FamilyHaskell    = "haskell"
	FamilySQL        = "sql"
	FamilyDocker     = "docker"
	FamilyMarkdown   = "markdown"
	FamilyJSONYAML   = "json_yaml"
	FamilyGraphQL    = "graphql"
	FamilyConfig     = "config"
)

// Definition describes one language family.
type Definition struct {
	Family           string
	WorkspaceMarkers []string
	PackageMarkers   []string
	IncludeSpec      []string
	Ambient          bool
	// Data families validate with the stricter data-file probe.
	Data bool
}

// definitions is ordered so discovery output is deterministic.
var definitions = []Definition{
	{
		Family: FamilyJavaScript,
		WorkspaceMarkers: []string{
			"pnpm-workspace.yaml", "lerna.json", "nx.json", "turbo.json", "rush.json",
		},
		PackageMarkers: []string{
			"package.json", "deno.json", "deno.jsonc", "tsconfig.json", "jsconfig.json",
		},
		IncludeSpec: []string{
			"**/*.js", "**/*.jsx", "**/*.mjs", "**/*.cjs",
			"**/*.ts", "**/*.tsx", "**/*.cts", "**/*.mts",
		},
	},
	{
		Family:           FamilyPython,
		WorkspaceMarkers: []string{"uv.lock", "poetry.lock", "Pipfile.lock"},
		PackageMarkers:   []string{"pyproject.toml", "setup.py", "setup.cfg", "requirements.txt", "Pipfile"},
		IncludeSpec:      []string{"**/*.py", "**/*.pyi", "**/*.pyw"},
	},
	{
		Family:           FamilyGo,
		WorkspaceMarkers: []string{"go.work"},
		PackageMarkers:   []string{"go.mod"},
		IncludeSpec:      []string{"**/*.go"},
	},
	{
		// Cargo.toml with [workspace] is upgraded to tier 1 after scan.
		Family:         FamilyRust,
		PackageMarkers: []string{"Cargo.toml"},
		IncludeSpec:    []string{"**/*.rs"},
	},
	{
		Family:           FamilyJVM,
		WorkspaceMarkers: []string{"settings.gradle", "settings.gradle.kts"},
		PackageMarkers:   []string{"build.gradle", "build.gradle.kts", "pom.xml", "build.sbt"},
		IncludeSpec:      []string{"**/*.java", "**/*.kt", "**/*.kts", "**/*.scala", "**/*.sc"},
	},
	{
		// .sln / .csproj markers are discovered via glob, not exact name.
		Family:      FamilyDotnet,
		IncludeSpec: []string{"**/*.cs", "**/*.fs", "**/*.fsx", "**/*.vb"},
	},
	{
		Family: FamilyCPP,
		PackageMarkers: []string{
			"CMakeLists.txt", "Makefile", "meson.build", "BUILD", "BUILD.bazel", "compile_commands.json",
		},
		IncludeSpec: []string{
			"**/*.cpp", "**/*.cc", "**/*.cxx", "**/*.c", "**/*.h", "**/*.hpp", "**/*.hxx",
		},
	},
	{
		Family:           FamilyRuby,
		WorkspaceMarkers: []string{"Gemfile.lock"},
		PackageMarkers:   []string{"Gemfile"},
		IncludeSpec:      []string{"**/*.rb", "**/*.rake"},
	},
	{
		Family:           FamilyPHP,
		WorkspaceMarkers: []string{"composer.lock"},
		PackageMarkers:   []string{"composer.json"},
		IncludeSpec:      []string{"**/*.php"},
	},
	{
		Family:         FamilySwift,
		PackageMarkers: []string{"Package.swift"},
		IncludeSpec:    []string{"**/*.swift"},
	},
	{
		Family:         FamilyElixir,
		PackageMarkers: []string{"mix.exs"},
		IncludeSpec:    []string{"**/*.ex", "**/*.exs"},
	},
	{
		Family:      FamilyLua,
		IncludeSpec: []string{"**/*.lua"},
	},
	{
		Family:         FamilyHaskell,
		PackageMarkers: []string{"stack.yaml", "cabal.project"},
		IncludeSpec:    []string{"**/*.hs"},
	},
	{
		Family:      FamilySQL,
		IncludeSpec: []string{"**/*.sql"},
		Ambient:     true,
		Data:        false,
	},
	{
		Family: FamilyDocker,
		IncludeSpec: []string{
			"**/Dockerfile", "**/*.Dockerfile", "**/docker-compose.yml", "**/docker-compose.yaml",
		},
		Ambient: true,
	},
	{
		Family:      FamilyMarkdown,
		IncludeSpec: []string{"**/*.md", "**/*.markdown", "**/*.mdx"},
		Ambient:     true,
		Data:        true,
	},
	{
		Family:      FamilyJSONYAML,
		IncludeSpec: []string{"**/*.json", "**/*.yaml", "**/*.yml", "**/*.toml", "**/*.jsonc"},
		Ambient:     true,
		Data:        true,
	},
	{
		Family:      FamilyGraphQL,
		IncludeSpec: []string{"**/*.graphql", "**/*.gql"},
		Ambient:     true,
	},
	{
		Family:      FamilyConfig,
		IncludeSpec: []string{"**/*.nix", "**/*.tf", "**/*.hcl", "**/*.sh", "**/*.bash"},
	},
}

// Definitions returns the full registry in deterministic order.
func Definitions() []Definition { return definitions }

// ByFamily returns the definition for a family.
func ByFamily(family string) (Definition, bool) {
	for _, d := range definitions {
		if d.Family == family {
			return d, true
		}
	}
	return Definition{}, false
}

// AmbientFamilies returns the families that always receive a repo-root
// context even without markers.
func AmbientFamilies() []string {
	var out []string
	for _, d := range definitions {
		if d.Ambient {
			out = append(out, d.Family)
		}
	}
	return out
}

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]string{
	".go":       "go",
	".ts":       "typescript",
	".mts":      "typescript",
	".cts":      "typescript",
	".tsx":      "tsx",
	".js":       "javascript",
	".jsx":      "javascript",
	".mjs":      "javascript",
	".cjs":      "javascript",
	".py":       "python",
	".pyi":      "python",
	".pyw":      "python",
	".rs":       "rust",
	".c":        "c",
	".h":        "c",
	".cpp":      "cpp",
	".cc":       "cpp",
	".cxx":      "cpp",
	".hpp":      "cpp",
	".hxx":      "cpp",
	".java":     "java",
	".kt":       "kotlin",
	".kts":      "kotlin",
	".scala":    "scala",
	".sc":       "scala",
	".cs":       "csharp",
	".php":      "php",
	".rb":       "ruby",
	".rake":     "ruby",
	".swift":    "swift",
	".ex":       "elixir",
	".exs":      "elixir",
	".lua":      "lua",
	".hs":       "haskell",
	".sql":      "sql",
	".yaml":     "yaml",
	".yml":      "yaml",
	".toml":     "toml",
	".sh":       "bash",
	".bash":     "bash",
	".tf":       "hcl",
	".hcl":      "hcl",
	".md":       "markdown",
	".markdown": "markdown",
	".mdx":      "markdown",
	".json":     "json",
	".jsonc":    "json",
}

// filenameToLanguage maps exact filenames, checked before extensions.
var filenameToLanguage = map[string]string{
	"Dockerfile": "dockerfile",
	"Makefile":   "make",
	"Gemfile":    "ruby",
	"Rakefile":   "ruby",
}

// languageToFamily groups languages into workspace families.
var languageToFamily = map[string]string{
	"javascript": FamilyJavaScript,
	"typescript": FamilyJavaScript,
	"tsx":        FamilyJavaScript,
	"python":     FamilyPython,
	"go":         FamilyGo,
	"rust":       FamilyRust,
	"java":       FamilyJVM,
	"kotlin":     FamilyJVM,
	"scala":      FamilyJVM,
	"csharp":     FamilyDotnet,
	"c":          FamilyCPP,
	"cpp":        FamilyCPP,
	"ruby":       FamilyRuby,
	"php":        FamilyPHP,
	"swift":      FamilySwift,
	"elixir":     FamilyElixir,
	"lua":        FamilyLua,
	"haskell":    FamilyHaskell,
	"sql":        FamilySQL,
	"dockerfile": FamilyDocker,
	"markdown":   FamilyMarkdown,
	"json":       FamilyJSONYAML,
	"yaml":       FamilyJSONYAML,
	"toml":       FamilyJSONYAML,
	"bash":       FamilyConfig,
	"hcl":        FamilyConfig,
	"make":       FamilyConfig,
}

// dataLanguages validate with the data-file probe instead of the code probe.
var dataLanguages = map[string]bool{
	"json":     true,
	"yaml":     true,
	"toml":     true,
	"markdown": true,
}

var (
	grammars     map[string]*sitter.Language
	grammarsOnce sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		grammars = map[string]*sitter.Language{
			"go":         golang.GetLanguage(),
			"typescript": typescript.GetLanguage(),
			"tsx":        tsx.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"python":     python.GetLanguage(),
			"rust":       rust.GetLanguage(),
			"c":          c.GetLanguage(),
			"cpp":        cpp.GetLanguage(),
			"java":       java.GetLanguage(),
			"kotlin":     kotlin.GetLanguage(),
			"scala":      scala.GetLanguage(),
			"csharp":     csharp.GetLanguage(),
			"php":        php.GetLanguage(),
			"ruby":       ruby.GetLanguage(),
			"swift":      swift.GetLanguage(),
			"elixir":     elixir.GetLanguage(),
			"lua":        lua.GetLanguage(),
			"sql":        sql.GetLanguage(),
			"yaml":       yaml.GetLanguage(),
			"toml":       toml.GetLanguage(),
			"bash":       bash.GetLanguage(),
			"hcl":        hcl.GetLanguage(),
			"dockerfile": dockerfile.GetLanguage(),
		}
	})
}

// LanguageForFile returns the canonical language name for a file path,
// checking exact filenames before extensions. Returns ("", false) if the
// file is not recognized.
func LanguageForFile(p string) (string, bool) {
	base := path.Base(p)
	if lang, ok := filenameToLanguage[base]; ok {
		return lang, true
	}
	ext := strings.ToLower(path.Ext(base))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// FamilyForLanguage returns the workspace family for a language name.
func FamilyForLanguage(lang string) (string, bool) {
	f, ok := languageToFamily[lang]
	return f, ok
}

// FamilyForFile is a convenience combining LanguageForFile and
// FamilyForLanguage.
func FamilyForFile(p string) (string, bool) {
	lang, ok := LanguageForFile(p)
	if !ok {
		return "", false
	}
	return FamilyForLanguage(lang)
}

// Grammar returns the tree-sitter grammar for a canonical language name.
// Families without a bundled grammar (haskell, graphql) return false and
// are indexed lexically only.
func Grammar(lang string) (*sitter.Language, bool) {
	initGrammars()
	g, ok := grammars[lang]
	return g, ok
}

// IsDataLanguage reports whether probe validation should use the
// data-file rule (zero errors, non-empty root) for this language.
func IsDataLanguage(lang string) bool { return dataLanguages[lang] }
