// Package resolve turns import source literals into repository-relative
// file paths. Resolution runs at index time over the full file set; the
// result is stored on each ImportFact so query-time lookups are O(1).
package resolve

import (
	"path"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"golang.org/x/mod/modfile"

	"github.com/jward/trellis/internal/pathutil"
)

// ReadFileFn reads a repo-relative file; nil content means absent.
type ReadFileFn func(path string) ([]byte, error)

// ConfigResolver caches parsed go.mod and Cargo.toml files and computes
// declared_module values for Go and Rust files by combining the config's
// root with the file's relative directory.
type ConfigResolver struct {
	filePaths []string
	readFile  ReadFileFn

	goMods     map[string]string // go.mod path -> module path
	cargoTomls map[string]string // Cargo.toml path -> crate name
}

// NewConfigResolver creates a resolver over the full file list.
func NewConfigResolver(filePaths []string, readFile ReadFileFn) *ConfigResolver {
	return &ConfigResolver{filePaths: filePaths, readFile: readFile}
}

// DeclaredModule computes the config-augmented declared_module for a Go
// or Rust file. Other languages return "".
func (c *ConfigResolver) DeclaredModule(filePath, language string) string {
	switch language {
	case "go":
		cfgPath, module, ok := c.nearestConfig(filePath, c.discoverGoMods())
		if !ok {
			return ""
		}
		return goModulePath(filePath, cfgPath, module)
	case "rust":
		cfgPath, crate, ok := c.nearestConfig(filePath, c.discoverCargoTomls())
		if !ok {
			return ""
		}
		return rustModulePath(filePath, cfgPath, crate)
	default:
		return ""
	}
}

func (c *ConfigResolver) discoverGoMods() map[string]string {
	if c.goMods != nil {
		return c.goMods
	}
	c.goMods = map[string]string{}
	for _, fp := range c.filePaths {
		if path.Base(fp) != "go.mod" {
			continue
		}
		data, err := c.readFile(fp)
		if err != nil || data == nil {
			continue
		}
		mf, err := modfile.ParseLax(fp, data, nil)
		if err != nil || mf.Module == nil {
			continue
		}
		c.goMods[fp] = mf.Module.Mod.Path
	}
	return c.goMods
}

func (c *ConfigResolver) discoverCargoTomls() map[string]string {
	if c.cargoTomls != nil {
		return c.cargoTomls
	}
	c.cargoTomls = map[string]string{}
	for _, fp := range c.filePaths {
		if path.Base(fp) != "Cargo.toml" {
			continue
		}
		data, err := c.readFile(fp)
		if err != nil || data == nil {
			continue
		}
		var doc struct {
			Package struct {
				Name string `toml:"name"`
			} `toml:"package"`
		}
		if err := toml.Unmarshal(data, &doc); err != nil || doc.Package.Name == "" {
			continue
		}
		c.cargoTomls[fp] = doc.Package.Name
	}
	return c.cargoTomls
}

// nearestConfig finds the deepest config whose directory contains the
// file.
func (c *ConfigResolver) nearestConfig(filePath string, configs map[string]string) (cfgPath, value string, ok bool) {
	fileDir := pathutil.Dir(filePath)
	bestDepth := -1
	for cp, v := range configs {
		cfgDir := pathutil.Dir(cp)
		if cfgDir != "" && fileDir != cfgDir && !strings.HasPrefix(fileDir, cfgDir+"/") {
			continue
		}
		depth := 0
		if cfgDir != "" {
			depth = strings.Count(cfgDir, "/") + 1
		}
		if depth > bestDepth {
			bestDepth = depth
			cfgPath, value, ok = cp, v, true
		}
	}
	return cfgPath, value, ok
}

// goModulePath combines the go.mod module path with the file's
// directory relative to the module root.
func goModulePath(filePath, goModPath, module string) string {
	modDir := pathutil.Dir(goModPath)
	fileDir := pathutil.Dir(filePath)

	var rel string
	switch {
	case modDir == "":
		rel = fileDir
	case fileDir == modDir:
		rel = ""
	case strings.HasPrefix(fileDir, modDir+"/"):
		rel = fileDir[len(modDir)+1:]
	default:
		return ""
	}
	if rel == "" {
		return module
	}
	return module + "/" + rel
}

// rustModulePath builds the crate-qualified module path: the src/
// prefix is dropped and lib.rs/main.rs/mod.rs contribute no terminal
// segment.
func rustModulePath(filePath, cargoTomlPath, crate string) string {
	cargoDir := pathutil.Dir(cargoTomlPath)
	fileDir := pathutil.Dir(filePath)
	stem := pathutil.Stem(filePath)

	var rel string
	switch {
	case cargoDir == "":
		rel = fileDir
	case fileDir == cargoDir:
		rel = ""
	case strings.HasPrefix(fileDir, cargoDir+"/"):
		rel = fileDir[len(cargoDir)+1:]
	default:
		return ""
	}
	if rel == "src" {
		rel = ""
	} else if strings.HasPrefix(rel, "src/") {
		rel = rel[4:]
	}

	parts := []string{crate}
	if rel != "" {
		parts = append(parts, strings.Split(rel, "/")...)
	}
	if stem != "lib" && stem != "main" && stem != "mod" {
		parts = append(parts, stem)
	}
	return strings.Join(parts, "::")
}
