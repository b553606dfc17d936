package resolve

import (
	"sort"
	"strings"

	"github.com/jward/trellis/internal/extract"
	"github.com/jward/trellis/internal/pathutil"
)

// jsExtensions are probed when resolving extensionless JS/TS imports.
var jsExtensions = []string{".ts", ".tsx", ".js", ".jsx", ".mjs", ".cjs", ".mts", ".cts"}

// Resolver maps (source_literal, import_kind, importer_path) triples to
// repository-relative file paths using one of five strategies dispatched
// by import kind: declaration match, path rewrite (Python), relative
// path (JS/TS, C/C++), config-augmented declaration match (Go, Rust),
// and require-path probing (Lua, Ruby).
type Resolver struct {
	allPaths map[string]bool

	// declared_module -> file paths (several files can share a module).
	moduleToPaths map[string][]string
	pathToModule  map[string]string

	// First crate segment seen in any Rust module, for crate:: rewrites.
	rustCratePrefix string

	// Dotted-module lookup for Python built from path rewrites at every
	// directory level (handles src/ layouts).
	pythonModuleToPath map[string]string

	// require-style lookup for Ruby: path with extension and common
	// prefixes stripped.
	rubyRequireToPath map[string]string
}

// New builds a Resolver over the full set of indexed file paths and
// their declared_module values.
func New(allPaths []string, declaredModules map[string]string) *Resolver {
	r := &Resolver{
		allPaths:           make(map[string]bool, len(allPaths)),
		moduleToPaths:      map[string][]string{},
		pathToModule:       declaredModules,
		pythonModuleToPath: map[string]string{},
		rubyRequireToPath:  map[string]string{},
	}
	for _, p := range allPaths {
		r.allPaths[p] = true
	}
	// Sort for deterministic candidate lists.
	var modPaths []string
	for fp := range declaredModules {
		modPaths = append(modPaths, fp)
	}
	sort.Strings(modPaths)
	for _, fp := range modPaths {
		mod := declaredModules[fp]
		r.moduleToPaths[mod] = append(r.moduleToPaths[mod], fp)
		if r.rustCratePrefix == "" && strings.Contains(mod, "::") {
			r.rustCratePrefix = strings.SplitN(mod, "::", 2)[0]
		}
	}

	sorted := append([]string(nil), allPaths...)
	sort.Strings(sorted)
	for _, fp := range sorted {
		for _, mod := range pythonModulesForPath(fp) {
			if _, taken := r.pythonModuleToPath[mod]; !taken {
				r.pythonModuleToPath[mod] = fp
			}
		}
		for _, req := range rubyRequiresForPath(fp) {
			if _, taken := r.rubyRequireToPath[req]; !taken {
				r.rubyRequireToPath[req] = fp
			}
		}
	}
	return r
}

// Resolve maps one import to a file path, or "" when unresolvable.
// Unresolvable is not an error: bare npm specifiers, stdlib modules and
// external packages all legitimately resolve to nothing.
func (r *Resolver) Resolve(sourceLiteral, importKind, importerPath string) string {
	if sourceLiteral == "" {
		return ""
	}
	switch importKind {
	case extract.KindPythonImport, extract.KindPythonFrom:
		return r.resolvePython(sourceLiteral, importerPath)
	case extract.KindJSImport, extract.KindJSRequire, extract.KindJSDynamicImport:
		return r.resolveJS(sourceLiteral, importerPath)
	case extract.KindCInclude:
		return r.resolveC(sourceLiteral, importerPath)
	case extract.KindLuaRequire:
		return r.resolveLua(sourceLiteral)
	case extract.KindRubyRequireRel:
		return r.resolveRubyRelative(sourceLiteral, importerPath)
	case extract.KindRubyRequire:
		if p, ok := r.rubyRequireToPath[sourceLiteral]; ok {
			return p
		}
		return r.resolveDeclaration(sourceLiteral, importKind, importerPath)
	default:
		return r.resolveDeclaration(sourceLiteral, importKind, importerPath)
	}
}

// --- Python ---

func (r *Resolver) resolvePython(sourceLiteral, importerPath string) string {
	literal := sourceLiteral

	// Relative imports resolve against the importer's package:
	// __init__.py is the package itself, other files are modules inside
	// their parent.
	if strings.HasPrefix(literal, ".") {
		importerMod := pythonPathToModule(importerPath)
		if importerMod == "" {
			return ""
		}
		stripped := strings.TrimLeft(literal, ".")
		dots := len(literal) - len(stripped)

		parts := strings.Split(importerMod, ".")
		if !strings.HasSuffix(importerPath, "__init__.py") {
			parts = parts[:len(parts)-1]
		}
		up := dots - 1
		if up > 0 {
			if up >= len(parts) {
				parts = nil
			} else {
				parts = parts[:len(parts)-up]
			}
		}
		switch {
		case len(parts) > 0 && stripped != "":
			literal = strings.Join(parts, ".") + "." + stripped
		case len(parts) > 0:
			literal = strings.Join(parts, ".")
		case stripped != "":
			literal = stripped
		default:
			return ""
		}
	}

	if p, ok := r.pythonModuleToPath[literal]; ok {
		return p
	}
	return ""
}

// pythonPathToModule converts a file path to its dotted module name.
func pythonPathToModule(fp string) string {
	if !strings.HasSuffix(fp, ".py") && !strings.HasSuffix(fp, ".pyi") {
		return ""
	}
	p := strings.TrimSuffix(strings.TrimSuffix(fp, ".pyi"), ".py")
	if strings.HasSuffix(p, "/__init__") {
		p = strings.TrimSuffix(p, "/__init__")
	} else {
		p = strings.TrimSuffix(p, "__init__")
	}
	if p == "" {
		return ""
	}
	return strings.ReplaceAll(p, "/", ".")
}

// pythonModulesForPath yields the dotted names a path answers to, one
// per leading directory stripped, so foo.bar resolves whether it lives
// at foo/bar.py or src/foo/bar.py.
func pythonModulesForPath(fp string) []string {
	full := pythonPathToModule(fp)
	if full == "" {
		return nil
	}
	parts := strings.Split(full, ".")
	var out []string
	for i := 0; i < len(parts); i++ {
		out = append(out, strings.Join(parts[i:], "."))
	}
	return out
}

// --- JS / TS ---

func (r *Resolver) resolveJS(sourceLiteral, importerPath string) string {
	if !strings.HasPrefix(sourceLiteral, ".") {
		return "" // bare specifier: external package
	}
	importerDir := pathutil.Dir(importerPath)
	resolved := pathutil.Normalize(importerDir + "/" + sourceLiteral)

	if r.allPaths[resolved] {
		return resolved
	}

	// TypeScript convention: './foo.js' may name './foo.ts' on disk.
	stem := resolved
	for _, ext := range []string{".js", ".jsx", ".mjs"} {
		if strings.HasSuffix(resolved, ext) {
			stem = strings.TrimSuffix(resolved, ext)
			break
		}
	}
	for _, ext := range jsExtensions {
		if candidate := stem + ext; r.allPaths[candidate] {
			return candidate
		}
	}
	for _, ext := range jsExtensions {
		if candidate := resolved + "/index" + ext; r.allPaths[candidate] {
			return candidate
		}
	}
	return ""
}

// --- C / C++ ---

func (r *Resolver) resolveC(sourceLiteral, importerPath string) string {
	importerDir := pathutil.Dir(importerPath)
	resolved := pathutil.Normalize(importerDir + "/" + sourceLiteral)
	if r.allPaths[resolved] {
		return resolved
	}
	if r.allPaths[sourceLiteral] {
		return sourceLiteral
	}
	for _, prefix := range []string{"include", "src", "lib", "third_party"} {
		if candidate := prefix + "/" + sourceLiteral; r.allPaths[candidate] {
			return candidate
		}
	}
	return ""
}

// --- Lua ---

func (r *Resolver) resolveLua(sourceLiteral string) string {
	rel := strings.ReplaceAll(sourceLiteral, ".", "/")
	for _, prefix := range []string{"", "src/", "lib/", "lua/"} {
		if candidate := prefix + rel + ".lua"; r.allPaths[candidate] {
			return candidate
		}
		if candidate := prefix + rel + "/init.lua"; r.allPaths[candidate] {
			return candidate
		}
	}
	return ""
}

// --- Ruby ---

func (r *Resolver) resolveRubyRelative(sourceLiteral, importerPath string) string {
	importerDir := pathutil.Dir(importerPath)
	resolved := pathutil.Normalize(importerDir + "/" + sourceLiteral)
	if r.allPaths[resolved] {
		return resolved
	}
	if candidate := resolved + ".rb"; r.allPaths[candidate] {
		return candidate
	}
	return ""
}

func rubyRequiresForPath(fp string) []string {
	if !strings.HasSuffix(fp, ".rb") {
		return nil
	}
	p := strings.TrimSuffix(fp, ".rb")
	out := []string{p}
	for _, prefix := range []string{"lib/", "app/", "src/"} {
		if strings.HasPrefix(p, prefix) {
			out = append(out, p[len(prefix):])
		}
	}
	return out
}

// --- Declaration match (Java, Kotlin, Scala, C#, Go, Rust, PHP, Elixir) ---

func (r *Resolver) resolveDeclaration(sourceLiteral, importKind, importerPath string) string {
	if importKind == extract.KindRustUse {
		sourceLiteral = r.normalizeRustSource(sourceLiteral, importerPath)
	}

	// Exact declared_module match wins.
	if paths, ok := r.moduleToPaths[sourceLiteral]; ok {
		return r.pickBestPath(paths, nil, importerPath)
	}

	// Longest-prefix match: the remaining suffix is a symbol inside the
	// module.
	sep := separatorForKind(importKind)
	parts := strings.Split(sourceLiteral, sep)
	for i := len(parts) - 1; i > 0; i-- {
		prefix := strings.Join(parts[:i], sep)
		if paths, ok := r.moduleToPaths[prefix]; ok {
			return r.pickBestPath(paths, parts[i:], importerPath)
		}
	}
	return ""
}

// pickBestPath disambiguates when several files share a declared_module:
// suffix's last segment against filename stems (case-insensitive), then
// substring containment of the joined suffix, then nearest by directory
// depth to the importer, then alphabetical.
func (r *Resolver) pickBestPath(paths []string, suffixParts []string, importerPath string) string {
	if len(paths) == 0 {
		return ""
	}
	if len(paths) == 1 {
		return paths[0]
	}

	if len(suffixParts) > 0 {
		target := strings.ToLower(suffixParts[len(suffixParts)-1])
		for _, p := range paths {
			if strings.ToLower(pathutil.Stem(p)) == target {
				return p
			}
		}
		if len(suffixParts) > 1 {
			var lowered []string
			for _, s := range suffixParts {
				lowered = append(lowered, strings.ToLower(s))
			}
			sub := strings.Join(lowered, "/")
			for _, p := range paths {
				if strings.Contains(strings.ToLower(p), sub) {
					return p
				}
			}
		}
	}

	// Nearest by directory depth to the importer, alphabetical tiebreak.
	importerDir := pathutil.Dir(importerPath)
	best := paths[0]
	bestShared := -1
	for _, p := range paths {
		shared := sharedDepth(pathutil.Dir(p), importerDir)
		if shared > bestShared || (shared == bestShared && p < best) {
			best = p
			bestShared = shared
		}
	}
	return best
}

func sharedDepth(a, b string) int {
	if a == b {
		return strings.Count(a, "/") + 1
	}
	as := strings.Split(a, "/")
	bs := strings.Split(b, "/")
	n := 0
	for n < len(as) && n < len(bs) && as[n] == bs[n] {
		n++
	}
	return n
}

// normalizeRustSource rewrites crate::, self:: and super:: prefixes to
// the importer's canonical module path before declaration matching.
func (r *Resolver) normalizeRustSource(sourceLiteral, importerPath string) string {
	if strings.HasPrefix(sourceLiteral, "crate::") {
		if r.rustCratePrefix != "" {
			return r.rustCratePrefix + sourceLiteral[len("crate"):]
		}
		return sourceLiteral
	}
	if strings.HasPrefix(sourceLiteral, "self::") || strings.HasPrefix(sourceLiteral, "super::") {
		importerMod, ok := r.pathToModule[importerPath]
		if !ok || importerMod == "" {
			return sourceLiteral
		}
		parts := strings.Split(importerMod, "::")
		if strings.HasPrefix(sourceLiteral, "self::") {
			return strings.Join(parts, "::") + sourceLiteral[len("self"):]
		}
		if len(parts) > 1 {
			return strings.Join(parts[:len(parts)-1], "::") + sourceLiteral[len("super"):]
		}
		return sourceLiteral
	}
	return sourceLiteral
}

// separatorForKind returns the module path separator for an import kind:
// :: for Rust, / for Go and ruby_require, '.' for the JVM/C#/PHP family.
func separatorForKind(importKind string) string {
	switch importKind {
	case extract.KindRustUse:
		return "::"
	case extract.KindGoImport, extract.KindRubyRequire:
		return "/"
	default:
		return "."
	}
}
