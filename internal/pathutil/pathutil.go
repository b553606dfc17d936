// Package pathutil provides POSIX-normalized path operations and the
// layered ignore matcher used across discovery and indexing. All paths
// handled by the index are repository-relative forward-slash strings,
// regardless of host OS.
package pathutil

import (
	"path"
	"strings"
)

// ToPosix converts a host path to forward slashes.
func ToPosix(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// Normalize resolves "." and ".." segments in a relative POSIX path.
// Unlike path.Clean it never produces a leading "..": segments popping
// past the root are dropped.
func Normalize(p string) string {
	var parts []string
	for _, seg := range strings.Split(ToPosix(p), "/") {
		switch seg {
		case "", ".":
		case "..":
			if len(parts) > 0 {
				parts = parts[:len(parts)-1]
			}
		default:
			parts = append(parts, seg)
		}
	}
	return strings.Join(parts, "/")
}

// Dir returns the POSIX directory of p with "" for the root (never ".").
func Dir(p string) string {
	d := path.Dir(ToPosix(p))
	if d == "." {
		return ""
	}
	return d
}

// Stem returns the filename without its extension.
func Stem(p string) string {
	base := path.Base(ToPosix(p))
	ext := path.Ext(base)
	return strings.TrimSuffix(base, ext)
}

// IsInside reports segment-safe containment of p under root. An empty
// root contains everything.
func IsInside(p, root string) bool {
	if root == "" {
		return true
	}
	return p == root || strings.HasPrefix(p, root+"/")
}

// RelativeTo returns p relative to root, or p unchanged when p is not
// under root. root=="" returns p.
func RelativeTo(p, root string) string {
	if root == "" {
		return p
	}
	if p == root {
		return ""
	}
	if strings.HasPrefix(p, root+"/") {
		return p[len(root)+1:]
	}
	return p
}

// Join joins a context root with a relative path, handling the empty root.
func Join(root, rel string) string {
	if root == "" {
		return rel
	}
	if rel == "" {
		return root
	}
	return root + "/" + rel
}
