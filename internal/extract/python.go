package extract

import (
	"regexp"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/store"
)

// Python-specific extraction details: decorator capture for signature
// hashing, type-string canonicalization, and dynamic-access facts.

// pythonDecorators collects decorator names attached to a definition.
// Decorators change a method's calling convention, so they participate
// in the signature hash.
func pythonDecorators(defNode *sitter.Node, src []byte) []string {
	parent := defNode.Parent()
	if parent == nil || parent.Type() != "decorated_definition" {
		return nil
	}
	var decorators []string
	for i := 0; i < int(parent.NamedChildCount()); i++ {
		child := parent.NamedChild(i)
		if child.Type() != "decorator" {
			continue
		}
		name := strings.TrimPrefix(strings.TrimSpace(child.Content(src)), "@")
		// Decorator factories keep only the callee name.
		if i := strings.IndexByte(name, '('); i > 0 {
			name = name[:i]
		}
		decorators = append(decorators, name)
	}
	return decorators
}

var pythonTypeRewrites = []struct {
	re  *regexp.Regexp
	rep string
}{
	{regexp.MustCompile(`\bList\[`), "list["},
	{regexp.MustCompile(`\bDict\[`), "dict["},
	{regexp.MustCompile(`\bSet\[`), "set["},
	{regexp.MustCompile(`\bTuple\[`), "tuple["},
	{regexp.MustCompile(`\bFrozenSet\[`), "frozenset["},
	{regexp.MustCompile(`\bType\[`), "type["},
	{regexp.MustCompile(`\bOptional\[`), "opt["},
	{regexp.MustCompile(`typing\.`), ""},
}

// canonicalizePythonType normalizes typing aliases so that e.g.
// List[int] and list[int] hash identically.
func canonicalizePythonType(sig string) string {
	sig = strings.Join(strings.Fields(sig), " ")
	for _, rw := range pythonTypeRewrites {
		sig = rw.re.ReplaceAllString(sig, rw.rep)
	}
	return sig
}

// extractPythonDynamics records getattr/eval/exec calls and non-literal
// subscript access as advisory DynamicAccessFacts. These are metadata
// for consumers, not references.
func (st *fileState) extractPythonDynamics() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		switch n.Type() {
		case "call":
			fn := n.ChildByFieldName("function")
			if fn == nil || fn.Type() != "identifier" {
				return
			}
			name := fn.Content(src)
			switch name {
			case "getattr", "setattr", "eval", "exec":
				st.bundle.Batch.AddDynamic(store.DynamicAccessFact{
					Kind:      name,
					TokenText: firstCallArg(n, src),
					StartLine: int(n.StartPoint().Row),
					StartCol:  int(n.StartPoint().Column),
				})
			}
		case "subscript":
			sub := n.ChildByFieldName("subscript")
			if sub == nil {
				return
			}
			switch sub.Type() {
			case "string", "integer", "slice":
				return // literal access is static
			}
			st.bundle.Batch.AddDynamic(store.DynamicAccessFact{
				Kind:      "subscript",
				TokenText: sub.Content(src),
				StartLine: int(n.StartPoint().Row),
				StartCol:  int(n.StartPoint().Column),
			})
		}
	})
}

func firstCallArg(call *sitter.Node, src []byte) string {
	args := call.ChildByFieldName("arguments")
	if args == nil || args.NamedChildCount() == 0 {
		return ""
	}
	return args.NamedChild(0).Content(src)
}
