package resolve

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/trellis/internal/extract"
)

func TestResolvePython_SrcLayout(t *testing.T) {
	t.Parallel()
	r := New([]string{
		"pyproject.toml",
		"src/mypkg/__init__.py",
		"src/mypkg/a.py",
		"src/mypkg/b.py",
	}, nil)

	assert.Equal(t, "src/mypkg/a.py",
		r.Resolve("mypkg.a", extract.KindPythonFrom, "src/mypkg/b.py"))
	assert.Equal(t, "src/mypkg/__init__.py",
		r.Resolve("mypkg", extract.KindPythonImport, "src/mypkg/b.py"))
	assert.Empty(t, r.Resolve("os.path", extract.KindPythonImport, "src/mypkg/b.py"))
}

func TestResolvePython_Relative(t *testing.T) {
	t.Parallel()
	r := New([]string{
		"pkg/__init__.py",
		"pkg/a.py",
		"pkg/sub/__init__.py",
		"pkg/sub/c.py",
	}, nil)

	// from . import a  (importer pkg/sub/c.py: one dot = own package)
	assert.Equal(t, "pkg/sub/__init__.py", r.Resolve(".", extract.KindPythonFrom, "pkg/sub/c.py"))
	// from .. import a
	assert.Equal(t, "pkg/a.py", r.Resolve("..a", extract.KindPythonFrom, "pkg/sub/c.py"))
	// from . import something  (importer is __init__: package is itself)
	assert.Equal(t, "pkg/a.py", r.Resolve(".a", extract.KindPythonFrom, "pkg/__init__.py"))
}

func TestResolveJS(t *testing.T) {
	t.Parallel()
	r := New([]string{
		"web/app.ts",
		"web/util.ts",
		"web/components/index.tsx",
		"web/legacy.jsx",
	}, nil)

	assert.Equal(t, "web/util.ts", r.Resolve("./util", extract.KindJSImport, "web/app.ts"))
	// Extension remapping: './util.js' names './util.ts' on disk.
	assert.Equal(t, "web/util.ts", r.Resolve("./util.js", extract.KindJSImport, "web/app.ts"))
	// Directory import probes index files.
	assert.Equal(t, "web/components/index.tsx", r.Resolve("./components", extract.KindJSImport, "web/app.ts"))
	// Parent traversal.
	assert.Equal(t, "web/legacy.jsx", r.Resolve("../legacy", extract.KindJSRequire, "web/components/index.tsx"))
	// Bare specifiers are external packages.
	assert.Empty(t, r.Resolve("react", extract.KindJSImport, "web/app.ts"))
}

func TestResolveC(t *testing.T) {
	t.Parallel()
	r := New([]string{
		"src/main.c",
		"src/util.h",
		"include/api.h",
	}, nil)

	assert.Equal(t, "src/util.h", r.Resolve("util.h", extract.KindCInclude, "src/main.c"))
	assert.Equal(t, "include/api.h", r.Resolve("api.h", extract.KindCInclude, "src/main.c"))
}

func TestResolveLua(t *testing.T) {
	t.Parallel()
	r := New([]string{
		"src/app/init.lua",
		"lib/json.lua",
	}, nil)

	assert.Equal(t, "src/app/init.lua", r.Resolve("app", extract.KindLuaRequire, "main.lua"))
	assert.Equal(t, "lib/json.lua", r.Resolve("json", extract.KindLuaRequire, "main.lua"))
}

func TestResolveRuby(t *testing.T) {
	t.Parallel()
	r := New([]string{
		"lib/parser.rb",
		"app/models/user.rb",
		"bin/run.rb",
	}, nil)

	assert.Equal(t, "lib/parser.rb", r.Resolve("parser", extract.KindRubyRequire, "bin/run.rb"))
	assert.Equal(t, "app/models/user.rb", r.Resolve("models/user", extract.KindRubyRequire, "bin/run.rb"))
	assert.Equal(t, "lib/parser.rb", r.Resolve("../lib/parser", extract.KindRubyRequireRel, "bin/run.rb"))
}

func TestResolveDeclaration_Java(t *testing.T) {
	t.Parallel()
	r := New(
		[]string{"src/main/java/com/acme/io/Reader.java", "src/main/java/com/acme/io/Writer.java"},
		map[string]string{
			"src/main/java/com/acme/io/Reader.java": "com.acme.io",
			"src/main/java/com/acme/io/Writer.java": "com.acme.io",
		},
	)

	// Suffix 'Reader' disambiguates between files sharing the module.
	assert.Equal(t, "src/main/java/com/acme/io/Reader.java",
		r.Resolve("com.acme.io.Reader", extract.KindJavaImport, "src/main/java/com/acme/App.java"))
	assert.Equal(t, "src/main/java/com/acme/io/Writer.java",
		r.Resolve("com.acme.io.Writer", extract.KindJavaImport, "src/main/java/com/acme/App.java"))
}

func TestResolveDeclaration_Go(t *testing.T) {
	t.Parallel()
	r := New(
		[]string{"cmd/main.go", "pkg/util/u.go"},
		map[string]string{
			"cmd/main.go":    "example.com/app/cmd",
			"pkg/util/u.go":  "example.com/app/pkg/util",
		},
	)
	assert.Equal(t, "pkg/util/u.go",
		r.Resolve("example.com/app/pkg/util", extract.KindGoImport, "cmd/main.go"))
	assert.Empty(t, r.Resolve("fmt", extract.KindGoImport, "cmd/main.go"))
}

func TestResolveDeclaration_RustPrefixes(t *testing.T) {
	t.Parallel()
	r := New(
		[]string{"src/lib.rs", "src/auth/token.rs", "src/auth/mod.rs"},
		map[string]string{
			"src/lib.rs":        "my_crate",
			"src/auth/mod.rs":   "my_crate::auth",
			"src/auth/token.rs": "my_crate::auth::token",
		},
	)

	assert.Equal(t, "src/auth/token.rs",
		r.Resolve("crate::auth::token", extract.KindRustUse, "src/lib.rs"))
	// self:: resolves against the importer's module.
	assert.Equal(t, "src/auth/token.rs",
		r.Resolve("self::token", extract.KindRustUse, "src/auth/mod.rs"))
	// super:: climbs one level.
	assert.Equal(t, "src/auth/mod.rs",
		r.Resolve("super::auth", extract.KindRustUse, "src/auth/token.rs"))
}

func TestResolveDeclaration_PrefixMatchSymbol(t *testing.T) {
	t.Parallel()
	r := New(
		[]string{"lib/Effect.scala"},
		map[string]string{"lib/Effect.scala": "cats.effect"},
	)
	// Import of a symbol inside a declared module falls back to the
	// longest declared prefix.
	assert.Equal(t, "lib/Effect.scala",
		r.Resolve("cats.effect.IO", extract.KindScalaImport, "app/Main.scala"))
}

func TestConfigResolver_GoModule(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"go.mod": "module example.com/app\n\ngo 1.23\n",
	}
	read := func(p string) ([]byte, error) {
		if c, ok := files[p]; ok {
			return []byte(c), nil
		}
		return nil, nil
	}
	cfg := NewConfigResolver([]string{"go.mod", "cmd/main.go", "pkg/util/u.go"}, read)

	assert.Equal(t, "example.com/app/pkg/util", cfg.DeclaredModule("pkg/util/u.go", "go"))
	assert.Equal(t, "example.com/app/cmd", cfg.DeclaredModule("cmd/main.go", "go"))
}

func TestConfigResolver_NearestGoMod(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"go.mod":         "module example.com/root\n",
		"sub/go.mod":     "module example.com/sub\n",
	}
	read := func(p string) ([]byte, error) {
		if c, ok := files[p]; ok {
			return []byte(c), nil
		}
		return nil, nil
	}
	cfg := NewConfigResolver([]string{"go.mod", "sub/go.mod", "sub/x.go", "y.go"}, read)

	assert.Equal(t, "example.com/sub", cfg.DeclaredModule("sub/x.go", "go"))
	assert.Equal(t, "example.com/root", cfg.DeclaredModule("y.go", "go"))
}

func TestConfigResolver_RustCrate(t *testing.T) {
	t.Parallel()
	files := map[string]string{
		"Cargo.toml": "[package]\nname = \"my_crate\"\nversion = \"0.1.0\"\n",
	}
	read := func(p string) ([]byte, error) {
		if c, ok := files[p]; ok {
			return []byte(c), nil
		}
		return nil, nil
	}
	cfg := NewConfigResolver(
		[]string{"Cargo.toml", "src/lib.rs", "src/auth/token.rs", "src/auth/mod.rs"}, read,
	)

	assert.Equal(t, "my_crate", cfg.DeclaredModule("src/lib.rs", "rust"))
	assert.Equal(t, "my_crate::auth::token", cfg.DeclaredModule("src/auth/token.rs", "rust"))
	assert.Equal(t, "my_crate::auth", cfg.DeclaredModule("src/auth/mod.rs", "rust"))
	assert.Empty(t, cfg.DeclaredModule("src/lib.rs", "python"))
}
