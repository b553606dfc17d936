package extract

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/store"
)

// Import kinds. Downstream resolution dispatches on these.
const (
	KindPythonImport      = "python_import"
	KindPythonFrom        = "python_from"
	KindJSImport          = "js_import"
	KindJSRequire         = "js_require"
	KindJSDynamicImport   = "js_dynamic_import"
	KindCInclude          = "c_include"
	KindRustUse           = "rust_use"
	KindGoImport          = "go_import"
	KindJavaImport        = "java_import"
	KindKotlinImport      = "kotlin_import"
	KindScalaImport       = "scala_import"
	KindCSharpUsing       = "csharp_using"
	KindCSharpUsingStatic = "csharp_using_static"
	KindCSharpUsingAlias  = "csharp_using_alias"
	KindRubyRequire       = "ruby_require"
	KindRubyRequireRel    = "ruby_require_relative"
	KindLuaRequire        = "lua_require"
	KindPHPUse            = "php_use"
	KindElixirAlias       = "elixir_alias"
	KindSwiftImport       = "swift_import"
)

// extractImports dispatches to the language's import walker. Wildcards
// and aliases are preserved verbatim so consumers can render the
// original semantic.
func (st *fileState) extractImports() {
	switch st.res.Language {
	case "python":
		st.pythonImports()
	case "javascript", "typescript", "tsx":
		st.jsImports()
	case "go":
		st.goImports()
	case "rust":
		st.rustImports()
	case "java":
		st.dottedImports("import_declaration", KindJavaImport, "import", ";")
	case "kotlin":
		st.dottedImports("import_header", KindKotlinImport, "import", "")
	case "scala":
		st.dottedImports("import_declaration", KindScalaImport, "import", "")
	case "csharp":
		st.csharpImports()
	case "ruby":
		st.rubyImports()
	case "c", "cpp":
		st.cIncludes()
	case "lua":
		st.luaRequires()
	case "php":
		st.phpImports()
	case "elixir":
		st.elixirImports()
	case "swift":
		st.dottedImports("import_declaration", KindSwiftImport, "import", "")
	}
}

func (st *fileState) addImport(node *sitter.Node, kind, source, name string, alias *string) {
	st.importSpans = append(st.importSpans, span{start: node.StartByte(), end: node.EndByte()})
	line := int(node.StartPoint().Row)
	uid := ImportUID(st.filePath, kind, source, name, line)
	if st.seenImports == nil {
		st.seenImports = map[string]bool{}
	}
	if st.seenImports[uid] {
		return
	}
	st.seenImports[uid] = true
	imp := store.ImportFact{
		ImportUID:     uid,
		ImportedName:  name,
		Alias:         alias,
		SourceLiteral: source,
		ImportKind:    kind,
		Certainty:     store.Certain,
		StartLine:     line,
		EndLine:       int(node.EndPoint().Row),
	}
	st.bundle.Batch.AddImport(imp)

	// The bound local name becomes visible in the file scope.
	local := name
	if alias != nil {
		local = *alias
	}
	if local != "" && local != "*" {
		// Dotted names bind their first segment (import a.b binds a);
		// aliases bind as-is.
		if alias == nil {
			if i := strings.IndexAny(local, "./:"); i > 0 {
				local = local[:i]
			}
		}
		st.addBind(store.LocalBindFact{
			ScopeID:    st.scopes[0].fakeID,
			Name:       local,
			TargetKind: store.BindImport,
			Certainty:  store.Certain,
			ReasonCode: kind,
		})
	}
}

// walkNodes visits every node of the tree, including nested containers,
// so imports inside namespaces or functions are found.
func (st *fileState) walkNodes(visit func(n *sitter.Node)) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		visit(n)
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(st.res.Root)
}

func stripQuotes(s string) string {
	return strings.Trim(s, `"'`+"`")
}

// --- Python ---

func (st *fileState) pythonImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			// import a.b, c as d
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				switch child.Type() {
				case "dotted_name":
					name := child.Content(src)
					st.addImport(n, KindPythonImport, name, name, nil)
				case "aliased_import":
					nameNode := child.ChildByFieldName("name")
					aliasNode := child.ChildByFieldName("alias")
					if nameNode == nil {
						continue
					}
					name := nameNode.Content(src)
					var alias *string
					if aliasNode != nil {
						a := aliasNode.Content(src)
						alias = &a
					}
					st.addImport(n, KindPythonImport, name, name, alias)
				}
			}
		case "import_from_statement":
			moduleNode := n.ChildByFieldName("module_name")
			if moduleNode == nil {
				return
			}
			source := moduleNode.Content(src)
			emitted := false
			for i := 0; i < int(n.NamedChildCount()); i++ {
				child := n.NamedChild(i)
				if sameNode(child, moduleNode) {
					continue
				}
				switch child.Type() {
				case "dotted_name", "identifier":
					name := child.Content(src)
					st.addImport(n, KindPythonFrom, source, name, nil)
					emitted = true
				case "aliased_import":
					nameNode := child.ChildByFieldName("name")
					aliasNode := child.ChildByFieldName("alias")
					if nameNode == nil {
						continue
					}
					var alias *string
					if aliasNode != nil {
						a := aliasNode.Content(src)
						alias = &a
					}
					st.addImport(n, KindPythonFrom, source, nameNode.Content(src), alias)
					emitted = true
				case "wildcard_import":
					st.addImport(n, KindPythonFrom, source, "*", nil)
					emitted = true
				}
			}
			if !emitted {
				st.addImport(n, KindPythonFrom, source, "*", nil)
			}
		}
	})
}

// --- JavaScript / TypeScript ---

func (st *fileState) jsImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		switch n.Type() {
		case "import_statement":
			sourceNode := n.ChildByFieldName("source")
			if sourceNode == nil {
				return
			}
			source := stripQuotes(sourceNode.Content(src))
			emitted := false
			for i := 0; i < int(n.NamedChildCount()); i++ {
				clause := n.NamedChild(i)
				if clause.Type() != "import_clause" {
					continue
				}
				var collect func(c *sitter.Node)
				collect = func(c *sitter.Node) {
					switch c.Type() {
					case "identifier":
						// Default import.
						st.addImport(n, KindJSImport, source, c.Content(src), nil)
						emitted = true
					case "namespace_import":
						for j := 0; j < int(c.NamedChildCount()); j++ {
							if c.NamedChild(j).Type() == "identifier" {
								a := c.NamedChild(j).Content(src)
								st.addImport(n, KindJSImport, source, "*", &a)
								emitted = true
							}
						}
					case "import_specifier":
						nameNode := c.ChildByFieldName("name")
						aliasNode := c.ChildByFieldName("alias")
						if nameNode == nil {
							return
						}
						var alias *string
						if aliasNode != nil {
							a := aliasNode.Content(src)
							alias = &a
						}
						st.addImport(n, KindJSImport, source, nameNode.Content(src), alias)
						emitted = true
					default:
						for j := 0; j < int(c.NamedChildCount()); j++ {
							collect(c.NamedChild(j))
						}
					}
				}
				collect(clause)
			}
			if !emitted {
				// Side-effect import: import './style.css'
				st.addImport(n, KindJSImport, source, "*", nil)
			}
		case "call_expression":
			fn := n.ChildByFieldName("function")
			args := n.ChildByFieldName("arguments")
			if fn == nil || args == nil || args.NamedChildCount() == 0 {
				return
			}
			arg := args.NamedChild(0)
			if arg.Type() != "string" {
				return
			}
			source := stripQuotes(arg.Content(src))
			switch {
			case fn.Type() == "identifier" && fn.Content(src) == "require":
				name := requireBoundName(n, src)
				st.addImport(n, KindJSRequire, source, name, nil)
			case fn.Type() == "import":
				st.addImport(n, KindJSDynamicImport, source, "*", nil)
			}
		}
	})
}

// requireBoundName finds the variable a require() call is assigned to.
func requireBoundName(call *sitter.Node, src []byte) string {
	parent := call.Parent()
	if parent != nil && parent.Type() == "variable_declarator" {
		if nameNode := parent.ChildByFieldName("name"); nameNode != nil && nameNode.Type() == "identifier" {
			return nameNode.Content(src)
		}
	}
	return "*"
}

// --- Go ---

func (st *fileState) goImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "import_spec" {
			return
		}
		pathNode := n.ChildByFieldName("path")
		if pathNode == nil {
			return
		}
		source := stripQuotes(pathNode.Content(src))
		name := source
		if i := strings.LastIndex(source, "/"); i >= 0 {
			name = source[i+1:]
		}
		var alias *string
		if nameNode := n.ChildByFieldName("name"); nameNode != nil {
			a := nameNode.Content(src)
			alias = &a
		}
		st.addImport(n, KindGoImport, source, name, alias)
	})
}

// --- Rust ---

func (st *fileState) rustImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "use_declaration" {
			return
		}
		arg := n.ChildByFieldName("argument")
		if arg == nil {
			return
		}
		st.rustUseTree(n, arg, "", src)
	})
}

// rustUseTree flattens use trees: use a::{b, c as d} emits one fact per
// leaf with the joined prefix. Relative prefixes (crate::, self::,
// super::) are preserved verbatim for the resolver.
func (st *fileState) rustUseTree(stmt, n *sitter.Node, prefix string, src []byte) {
	join := func(a, b string) string {
		if a == "" {
			return b
		}
		return a + "::" + b
	}
	switch n.Type() {
	case "scoped_use_list":
		pathNode := n.ChildByFieldName("path")
		listNode := n.ChildByFieldName("list")
		p := prefix
		if pathNode != nil {
			p = join(prefix, pathNode.Content(src))
		}
		if listNode != nil {
			for i := 0; i < int(listNode.NamedChildCount()); i++ {
				st.rustUseTree(stmt, listNode.NamedChild(i), p, src)
			}
		}
	case "use_as_clause":
		pathNode := n.ChildByFieldName("path")
		aliasNode := n.ChildByFieldName("alias")
		if pathNode == nil {
			return
		}
		source := join(prefix, pathNode.Content(src))
		name := lastSegment(source, "::")
		var alias *string
		if aliasNode != nil {
			a := aliasNode.Content(src)
			alias = &a
		}
		st.addImport(stmt, KindRustUse, source, name, alias)
	case "use_wildcard":
		source := prefix
		for i := 0; i < int(n.NamedChildCount()); i++ {
			source = join(prefix, n.NamedChild(i).Content(src))
		}
		st.addImport(stmt, KindRustUse, source, "*", nil)
	case "scoped_identifier", "identifier", "crate", "self", "super":
		source := join(prefix, n.Content(src))
		st.addImport(stmt, KindRustUse, source, lastSegment(source, "::"), nil)
	default:
		for i := 0; i < int(n.NamedChildCount()); i++ {
			st.rustUseTree(stmt, n.NamedChild(i), prefix, src)
		}
	}
}

func lastSegment(s, sep string) string {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[i+len(sep):]
	}
	return s
}

// --- Java / Kotlin / Scala / Swift (statement-text imports) ---

// dottedImports handles languages whose import statement is a single
// node wrapping a dotted path, optionally with a trailing wildcard.
func (st *fileState) dottedImports(nodeType, kind, keyword, trailer string) {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != nodeType {
			return
		}
		text := strings.TrimSpace(n.Content(src))
		text = strings.TrimPrefix(text, keyword)
		if trailer != "" {
			text = strings.TrimSuffix(strings.TrimSpace(text), trailer)
		}
		text = strings.TrimSpace(text)
		text = strings.TrimPrefix(text, "static ")

		var alias *string
		if i := strings.Index(text, " as "); i > 0 {
			a := strings.TrimSpace(text[i+4:])
			alias = &a
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			return
		}
		name := lastSegment(text, ".")
		source := text
		if name == "*" || name == "_" {
			source = strings.TrimSuffix(source, "."+name)
			name = "*"
		}
		st.addImport(n, kind, source, name, alias)
	})
}

// --- C# ---

// csharpImports walks the whole tree, so using directives nested inside
// block- or file-scoped namespaces are found, not only at file scope.
func (st *fileState) csharpImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "using_directive" {
			return
		}
		text := strings.TrimSpace(n.Content(src))
		text = strings.TrimSuffix(text, ";")
		text = strings.TrimSpace(strings.TrimPrefix(text, "using"))

		kind := KindCSharpUsing
		if strings.HasPrefix(text, "static ") {
			kind = KindCSharpUsingStatic
			text = strings.TrimSpace(strings.TrimPrefix(text, "static"))
		}
		var alias *string
		if i := strings.Index(text, "="); i > 0 {
			a := strings.TrimSpace(text[:i])
			alias = &a
			text = strings.TrimSpace(text[i+1:])
			kind = KindCSharpUsingAlias
		}
		if text == "" {
			return
		}
		st.addImport(n, kind, text, lastSegment(text, "."), alias)
	})
}

// --- Ruby ---

func (st *fileState) rubyImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "call" {
			return
		}
		methodNode := n.ChildByFieldName("method")
		if methodNode == nil {
			return
		}
		method := methodNode.Content(src)
		if method != "require" && method != "require_relative" {
			return
		}
		args := n.ChildByFieldName("arguments")
		if args == nil || args.NamedChildCount() == 0 {
			return
		}
		arg := args.NamedChild(0)
		if arg.Type() != "string" {
			return
		}
		source := stripQuotes(arg.Content(src))
		kind := KindRubyRequire
		if method == "require_relative" {
			kind = KindRubyRequireRel
		}
		st.addImport(n, kind, source, lastSegment(source, "/"), nil)
	})
}

// --- C / C++ ---

func (st *fileState) cIncludes() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "preproc_include" {
			return
		}
		pathNode := n.ChildByFieldName("path")
		if pathNode == nil {
			return
		}
		source := pathNode.Content(src)
		source = strings.Trim(source, `"<>`)
		st.addImport(n, KindCInclude, source, lastSegment(source, "/"), nil)
	})
}

// --- Lua ---

func (st *fileState) luaRequires() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "function_call" {
			return
		}
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil || nameNode.Content(src) != "require" {
			return
		}
		args := n.ChildByFieldName("arguments")
		if args == nil {
			return
		}
		var source string
		for i := 0; i < int(args.NamedChildCount()); i++ {
			if args.NamedChild(i).Type() == "string" {
				source = stripQuotes(args.NamedChild(i).Content(src))
				break
			}
		}
		if source == "" {
			return
		}
		st.addImport(n, KindLuaRequire, source, lastSegment(source, "."), nil)
	})
}

// --- PHP ---

func (st *fileState) phpImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "namespace_use_declaration" {
			return
		}
		text := strings.TrimSpace(n.Content(src))
		text = strings.TrimSuffix(text, ";")
		text = strings.TrimSpace(strings.TrimPrefix(text, "use"))
		var alias *string
		if i := strings.Index(text, " as "); i > 0 {
			a := strings.TrimSpace(text[i+4:])
			alias = &a
			text = strings.TrimSpace(text[:i])
		}
		if text == "" {
			return
		}
		// PHP namespaces use backslash separators; normalize to dots for
		// declaration matching.
		source := strings.ReplaceAll(strings.TrimPrefix(text, "\\"), "\\", ".")
		st.addImport(n, KindPHPUse, source, lastSegment(source, "."), alias)
	})
}

// --- Elixir ---

func (st *fileState) elixirImports() {
	src := st.res.Source
	st.walkNodes(func(n *sitter.Node) {
		if n.Type() != "call" {
			return
		}
		target := n.ChildByFieldName("target")
		if target == nil {
			return
		}
		verb := target.Content(src)
		switch verb {
		case "alias", "import", "require", "use":
		default:
			return
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			child := n.NamedChild(i)
			if child.Type() != "arguments" {
				continue
			}
			for j := 0; j < int(child.NamedChildCount()); j++ {
				if child.NamedChild(j).Type() == "alias" {
					source := child.NamedChild(j).Content(src)
					st.addImport(n, KindElixirAlias, source, lastSegment(source, "."), nil)
					return
				}
			}
		}
	})
}
