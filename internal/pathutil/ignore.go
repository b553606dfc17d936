package pathutil

import (
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName is the per-repository ignore file, layered over the
// universal excludes. Patterns it contains can never re-include a
// universally excluded path.
const IgnoreFileName = ".cplignore"

// UniversalExcludeDirs are directory names excluded from every context
// and from marker scanning.
var UniversalExcludeDirs = []string{
	"node_modules", ".git", "target", "dist", "build", "vendor", "venv", "__pycache__",
}

// UniversalExcludeGlobs is the glob form applied to context exclude specs.
var UniversalExcludeGlobs = []string{
	"**/node_modules/**", "**/.git/**", "**/target/**", "**/dist/**",
	"**/build/**", "**/vendor/**", "**/venv/**", "**/__pycache__/**",
}

// IsUniversallyExcluded reports whether any path segment names a
// universally excluded directory.
func IsUniversallyExcluded(p string) bool {
	for _, seg := range strings.Split(ToPosix(p), "/") {
		for _, ex := range UniversalExcludeDirs {
			if seg == ex {
				return true
			}
		}
	}
	return false
}

// Ignore matches repository-relative POSIX paths against the layered
// exclusion rules: universal excludes first, then .cplignore patterns.
type Ignore struct {
	matcher *gitignore.GitIgnore
	// raw holds the source lines so the coordinator can hash them and
	// detect .cplignore edits between epochs.
	raw string
}

// LoadIgnore reads .cplignore from repoRoot. A missing file yields an
// Ignore that applies only the universal excludes.
func LoadIgnore(repoRoot string) (*Ignore, error) {
	data, err := os.ReadFile(filepath.Join(repoRoot, IgnoreFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return NewIgnore(""), nil
		}
		return nil, err
	}
	return NewIgnore(string(data)), nil
}

// NewIgnore builds an Ignore from raw .cplignore content ("" for none).
// Lines are fnmatch-style patterns, one per line, '#' comments allowed.
func NewIgnore(content string) *Ignore {
	var lines []string
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	ig := &Ignore{raw: content}
	if len(lines) > 0 {
		ig.matcher = gitignore.CompileIgnoreLines(lines...)
	}
	return ig
}

// Match reports whether p is excluded after layering.
func (ig *Ignore) Match(p string) bool {
	p = ToPosix(p)
	if IsUniversallyExcluded(p) {
		return true
	}
	if ig == nil || ig.matcher == nil {
		return false
	}
	return ig.matcher.MatchesPath(p)
}

// Raw returns the source content the matcher was built from.
func (ig *Ignore) Raw() string {
	if ig == nil {
		return ""
	}
	return ig.raw
}
