// Package parse wraps tree-sitter parsing: grammar selection from the
// language registry, whole-file parsing with a per-file timeout, and the
// probe validations used by context discovery.
package parse

import (
	"context"
	"errors"
	"fmt"
	"time"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/langs"
)

// ErrUnsupportedExtension is returned when no grammar maps to a file.
var ErrUnsupportedExtension = errors.New("unsupported file extension")

// DefaultTimeout bounds a single file parse. On timeout the file is
// recorded as parse-failed and the pipeline continues.
const DefaultTimeout = 30 * time.Second

// Result holds a parse tree plus structural metrics.
type Result struct {
	Tree       *sitter.Tree
	Language   string
	ErrorCount int
	TotalNodes int
	Root       *sitter.Node
	Source     []byte
}

// Close releases the underlying tree. The tree is transient: nothing
// references it after fact extraction.
func (r *Result) Close() {
	if r.Tree != nil {
		r.Tree.Close()
	}
}

// Validation is the outcome of a probe check.
type Validation struct {
	Valid         bool
	ErrorCount    int
	TotalNodes    int
	HasMeaningful bool
	ErrorRatio    float64
}

// Parser parses files using registry grammars. The grammar table is
// read-only after startup; a Parser may be shared across goroutines but
// each Parse call allocates its own tree-sitter parser, which keeps
// parsing goroutine-safe.
type Parser struct {
	timeout time.Duration
}

// NewParser creates a Parser with the default per-file timeout.
func NewParser() *Parser {
	return &Parser{timeout: DefaultTimeout}
}

// SetTimeout overrides the per-file parse timeout.
func (p *Parser) SetTimeout(d time.Duration) { p.timeout = d }

// Parse parses content as the language selected from path (filename
// first, extension second). Each edit reparses the whole file; no
// incremental reparse is attempted between revisions.
func (p *Parser) Parse(ctx context.Context, path string, content []byte) (*Result, error) {
	lang, ok := langs.LanguageForFile(path)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedExtension, path)
	}
	return p.ParseAs(ctx, lang, content)
}

// ParseAs parses content with the grammar for a canonical language name.
func (p *Parser) ParseAs(ctx context.Context, lang string, content []byte) (*Result, error) {
	grammar, ok := langs.Grammar(lang)
	if !ok {
		return nil, fmt.Errorf("%w: no grammar for %s", ErrUnsupportedExtension, lang)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", lang, err)
	}

	root := tree.RootNode()
	errorCount, totalNodes := countNodes(root)

	return &Result{
		Tree:       tree,
		Language:   lang,
		ErrorCount: errorCount,
		TotalNodes: totalNodes,
		Root:       root,
		Source:     content,
	}, nil
}

// countNodes walks the full tree counting nodes and ERROR/MISSING nodes.
func countNodes(root *sitter.Node) (errors, total int) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		total++
		if n.Type() == "ERROR" || n.IsMissing() {
			errors++
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(root)
	return errors, total
}

// ValidateCodeFile checks a code-family parse: error nodes under 10% of
// the tree and at least one meaningful named node (not only comments,
// whitespace, ERROR or MISSING).
func ValidateCodeFile(r *Result) Validation {
	if r.TotalNodes == 0 {
		return Validation{}
	}
	ratio := float64(r.ErrorCount) / float64(r.TotalNodes)
	meaningful := hasMeaningfulNodes(r.Root)
	return Validation{
		Valid:         ratio < 0.10 && meaningful,
		ErrorCount:    r.ErrorCount,
		TotalNodes:    r.TotalNodes,
		HasMeaningful: meaningful,
		ErrorRatio:    ratio,
	}
}

// ValidateDataFile checks a data-family parse: zero errors and a
// non-empty root.
func ValidateDataFile(r *Result) Validation {
	hasContent := r.Root != nil && r.Root.ChildCount() > 0
	ratio := 0.0
	if r.TotalNodes > 0 {
		ratio = float64(r.ErrorCount) / float64(r.TotalNodes)
	}
	return Validation{
		Valid:         hasContent && r.ErrorCount == 0,
		ErrorCount:    r.ErrorCount,
		TotalNodes:    r.TotalNodes,
		HasMeaningful: hasContent,
		ErrorRatio:    ratio,
	}
}

var meaninglessTypes = map[string]bool{
	"comment":       true,
	"line_comment":  true,
	"block_comment": true,
	"ERROR":         true,
	"MISSING":       true,
}

// hasMeaningfulNodes reports whether the root has any named descendant
// that is not a comment, ERROR or MISSING node. The root itself does not
// count: an empty file's bare module node is not meaningful content.
func hasMeaningfulNodes(root *sitter.Node) bool {
	if root == nil {
		return false
	}
	var check func(n *sitter.Node) bool
	check = func(n *sitter.Node) bool {
		if n != root && n.IsNamed() && !meaninglessTypes[n.Type()] {
			return true
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if check(n.Child(i)) {
				return true
			}
		}
		return false
	}
	return check(root)
}
