package trellis

import (
	"bytes"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/jward/trellis/internal/pathutil"
)

// TreeReader is the working-tree collaborator: the core never walks the
// filesystem itself. Paths are repo-relative POSIX strings. ReadFile
// returns (nil, nil) for a missing file.
type TreeReader interface {
	ReadFile(path string) ([]byte, error)
	ListPaths() ([]string, error)
}

// GitReader stamps epochs and serves historical blobs to external
// collaborators. Implementations may return "" / nil when git is not
// available.
type GitReader interface {
	HeadSHA() string
	ReadBlobAt(ref, path string) ([]byte, error)
}

// osTreeReader is the production TreeReader backed by the OS walker. It
// skips universally excluded directories early.
type osTreeReader struct {
	root string
}

// NewOSTreeReader creates a TreeReader over a repository root on disk.
func NewOSTreeReader(root string) TreeReader {
	return &osTreeReader{root: root}
}

func (r *osTreeReader) ReadFile(path string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(r.root, filepath.FromSlash(path)))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (r *osTreeReader) ListPaths() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(r.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			name := d.Name()
			if p != r.root && (strings.HasPrefix(name, ".") || isExcludedDir(name)) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(r.root, p)
		if err != nil {
			return err
		}
		paths = append(paths, pathutil.ToPosix(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return paths, nil
}

func isExcludedDir(name string) bool {
	for _, ex := range pathutil.UniversalExcludeDirs {
		if name == ex {
			return true
		}
	}
	return false
}

// gitCLIReader shells out to the git binary for the HEAD sha and for
// blobs at a ref. Indexing does not use it to list files.
type gitCLIReader struct {
	root string
}

// NewGitCLIReader creates a GitReader backed by the git binary.
func NewGitCLIReader(root string) GitReader {
	return &gitCLIReader{root: root}
}

func (g *gitCLIReader) HeadSHA() string {
	cmd := exec.Command("git", "rev-parse", "HEAD")
	cmd.Dir = g.root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return ""
	}
	return strings.TrimSpace(stdout.String())
}

func (g *gitCLIReader) ReadBlobAt(ref, path string) ([]byte, error) {
	cmd := exec.Command("git", "show", ref+":"+path)
	cmd.Dir = g.root
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, err
	}
	return stdout.Bytes(), nil
}
