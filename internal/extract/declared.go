package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/parse"
)

// declaredModule extracts the module/namespace a file announces. For Go
// this is the package clause's short name only; Rust files get "" here.
// The coordinator's config pass replaces both with the full module path
// computed from go.mod / Cargo.toml where one is found.
func declaredModule(res *parse.Result, filePath string) string {
	root := res.Root
	src := res.Source
	switch res.Language {
	case "go":
		return firstContentOf(root, src, "package_clause", "package_identifier", "_")
	case "java":
		return declarationPath(root, src, "package_declaration", "package", ";")
	case "kotlin":
		return declarationPath(root, src, "package_header", "package", "")
	case "scala":
		return declarationPath(root, src, "package_clause", "package", "")
	case "csharp":
		// Both block-scoped and file-scoped namespaces announce the
		// module; the first one wins.
		for _, t := range []string{"file_scoped_namespace_declaration", "namespace_declaration"} {
			if m := namedDescendantContent(root, src, t, "name"); m != "" {
				return m
			}
		}
		return ""
	case "php":
		if m := declarationPath(root, src, "namespace_definition", "namespace", ";"); m != "" {
			return strings.ReplaceAll(strings.TrimPrefix(m, "\\"), "\\", ".")
		}
		return ""
	case "elixir":
		return firstDefmoduleAlias(root, src)
	default:
		_ = filePath
		return ""
	}
}

// firstContentOf returns the content of the first childType node found
// directly under the first statementType node, or "" when there is no
// such node or its text equals skip.
func firstContentOf(root *sitter.Node, src []byte, statementType, childType, skip string) string {
	node := firstOfType(root, statementType)
	if node == nil {
		return ""
	}
	for i := 0; i < int(node.NamedChildCount()); i++ {
		c := node.NamedChild(i)
		if c.Type() == childType {
			text := c.Content(src)
			if text != skip {
				return text
			}
			return ""
		}
	}
	return ""
}

// declarationPath trims a keyword-prefixed declaration statement down to
// the dotted path it declares.
func declarationPath(root *sitter.Node, src []byte, nodeType, keyword, trailer string) string {
	node := firstOfType(root, nodeType)
	if node == nil {
		return ""
	}
	text := strings.TrimSpace(node.Content(src))
	text = strings.TrimSpace(strings.TrimPrefix(text, keyword))
	if trailer != "" {
		text = strings.TrimSuffix(text, trailer)
	}
	return strings.TrimSpace(text)
}

func namedDescendantContent(root *sitter.Node, src []byte, nodeType, field string) string {
	node := firstOfType(root, nodeType)
	if node == nil {
		return ""
	}
	if nameNode := node.ChildByFieldName(field); nameNode != nil {
		return nameNode.Content(src)
	}
	return ""
}

func firstDefmoduleAlias(root *sitter.Node, src []byte) string {
	var found string
	var walk func(n *sitter.Node) bool
	walk = func(n *sitter.Node) bool {
		if n.Type() == "call" {
			if target := n.ChildByFieldName("target"); target != nil && target.Content(src) == "defmodule" {
				for i := 0; i < int(n.NamedChildCount()); i++ {
					child := n.NamedChild(i)
					if child.Type() != "arguments" {
						continue
					}
					for j := 0; j < int(child.NamedChildCount()); j++ {
						if child.NamedChild(j).Type() == "alias" {
							found = child.NamedChild(j).Content(src)
							return true
						}
					}
				}
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if walk(n.Child(i)) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}

func firstOfType(root *sitter.Node, nodeType string) *sitter.Node {
	var found *sitter.Node
	var walk func(n *sitter.Node) bool
	walk = func(n *sitter.Node) bool {
		if n.Type() == nodeType {
			found = n
			return true
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			if walk(n.Child(i)) {
				return true
			}
		}
		return false
	}
	walk(root)
	return found
}
