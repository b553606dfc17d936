// Package extract turns parse trees into typed facts: scopes,
// definitions with stable UIDs, local bindings, identifier references,
// imports, export candidates, and anchor-group counts. Extraction is
// table-driven: one query configuration per language plus a generic
// walker fallback, registered by language name.
package extract

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/trellis/internal/langs"
	"github.com/jward/trellis/internal/parse"
	"github.com/jward/trellis/internal/store"
)

// AnchorKey buckets member-access references per context. An empty
// Receiver means the receiver shape was not a plain identifier.
type AnchorKey struct {
	Member   string
	Receiver string
}

// Bundle is the extraction output for one file. Facts live in Batch with
// fake scope IDs; the coordinator commits them under the file's real ID.
type Bundle struct {
	Batch          *store.FactBatch
	DeclaredModule string
	Symbols        []string          // definition names, for the lexical index
	Exports        map[string]string // exported name -> def uid
	Anchors        map[AnchorKey]int64
}

// Extractor extracts facts from parse results. It is stateless and safe
// for concurrent use.
type Extractor struct{}

// New creates an Extractor.
func New() *Extractor { return &Extractor{} }

// DefUID derives the stable definition identifier from the file path,
// the dotted lexical path, and the definition kind. Signature and body
// changes do not perturb it; renames and re-parenting do.
func DefUID(filePath, lexicalPath, kind string) string {
	h := sha256.Sum256([]byte(filePath + "\x00" + lexicalPath + "\x00" + kind))
	return hex.EncodeToString(h[:12])
}

// ImportUID identifies one import clause within a file.
func ImportUID(filePath, importKind, sourceLiteral, importedName string, line int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%s\x00%s\x00%d", filePath, importKind, sourceLiteral, importedName, line)))
	return hex.EncodeToString(h[:12])
}

func hashBytes(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// Extract runs the full per-file pipeline. The parse tree is transient:
// nothing in the Bundle references it.
func (e *Extractor) Extract(res *parse.Result, filePath string) (*Bundle, error) {
	b := &Bundle{
		Batch:   store.NewFactBatch(),
		Exports: map[string]string{},
		Anchors: map[AnchorKey]int64{},
	}
	if res == nil || res.Root == nil {
		return b, nil
	}

	st := &fileState{
		res:      res,
		filePath: filePath,
		bundle:   b,
		binds:    map[int64]map[string]store.LocalBindFact{},
	}

	st.extractScopes()
	st.extractDefs()
	st.extractImports()
	st.extractRefs()
	st.resolveLocal()
	b.DeclaredModule = declaredModule(res, filePath)

	if res.Language == "python" {
		st.extractPythonDynamics()
	}
	return b, nil
}

// fileState carries the intermediate indexes of one extraction.
type fileState struct {
	res      *parse.Result
	filePath string
	bundle   *Bundle

	scopes []scopeRec
	// scopeByNode maps a scope-opening node's start byte to its fake ID,
	// so parameter bindings land in the function's own scope.
	scopeByNode map[uint32]int64

	// defNameSpans marks name-node positions so the ref walk can assign
	// role=definition; importSpans marks import statements for
	// role=import.
	defNameSpans map[uint32]bool
	importSpans  []span

	binds map[int64]map[string]store.LocalBindFact

	// seenImports dedupes identical clauses so import UIDs stay unique
	// within the file.
	seenImports map[string]bool

	refs []refRec
}

type span struct{ start, end uint32 }

type scopeRec struct {
	fakeID int64
	kind   string
	start  uint32
	end    uint32
	parent int64 // 0 = none (file scope)
}

type refRec struct {
	idx       int // index into bundle.Batch.Refs
	name      string
	startByte uint32
}

// --- scopes ---

var genericScopeKinds = map[string]string{
	"function_definition":      store.ScopeFunction,
	"function_declaration":     store.ScopeFunction,
	"method_definition":        store.ScopeFunction,
	"method_declaration":       store.ScopeFunction,
	"constructor_declaration":  store.ScopeFunction,
	"func_literal":             store.ScopeFunction,
	"arrow_function":           store.ScopeFunction,
	"function_expression":      store.ScopeFunction,
	"lambda":                   store.ScopeFunction,
	"function_item":            store.ScopeFunction,
	"method":                   store.ScopeFunction,
	"singleton_method":         store.ScopeFunction,
	"class_definition":         store.ScopeClass,
	"class_declaration":        store.ScopeClass,
	"class_specifier":          store.ScopeClass,
	"class":                    store.ScopeClass,
	"impl_item":                store.ScopeClass,
	"trait_item":               store.ScopeClass,
	"interface_declaration":    store.ScopeClass,
	"struct_declaration":       store.ScopeClass,
	"object_declaration":       store.ScopeClass,
	"trait_definition":         store.ScopeClass,
	"object_definition":        store.ScopeClass,
	"block":                    store.ScopeBlock,
	"statement_block":          store.ScopeBlock,
	"compound_statement":       store.ScopeBlock,
	"list_comprehension":       store.ScopeComprehension,
	"set_comprehension":        store.ScopeComprehension,
	"dictionary_comprehension": store.ScopeComprehension,
	"generator_expression":     store.ScopeComprehension,
	"mod_item":                 store.ScopeModule,
	"namespace_declaration":    store.ScopeModule,
	"namespace_definition":     store.ScopeModule,
	"module":                   store.ScopeModule,
}

// extractScopes emits the file scope plus one scope per scope-forming
// node, preorder so parents precede children.
func (st *fileState) extractScopes() {
	root := st.res.Root
	st.scopeByNode = map[uint32]int64{}

	fileScope := store.Scope{
		Kind:      store.ScopeFile,
		StartLine: int(root.StartPoint().Row),
		StartCol:  int(root.StartPoint().Column),
		EndLine:   int(root.EndPoint().Row),
		EndCol:    int(root.EndPoint().Column),
	}
	fileID := st.bundle.Batch.AddScope(fileScope)
	st.scopes = append(st.scopes, scopeRec{
		fakeID: fileID, kind: store.ScopeFile, start: root.StartByte(), end: root.EndByte(),
	})

	var walk func(n *sitter.Node, parentFake int64)
	walk = func(n *sitter.Node, parentFake int64) {
		current := parentFake
		if n != root {
			if kind, ok := genericScopeKinds[n.Type()]; ok {
				parent := parentFake
				sc := store.Scope{
					ParentScopeID: &parent,
					Kind:          kind,
					StartLine:     int(n.StartPoint().Row),
					StartCol:      int(n.StartPoint().Column),
					EndLine:       int(n.EndPoint().Row),
					EndCol:        int(n.EndPoint().Column),
				}
				fake := st.bundle.Batch.AddScope(sc)
				st.scopes = append(st.scopes, scopeRec{
					fakeID: fake, kind: kind, start: n.StartByte(), end: n.EndByte(), parent: parentFake,
				})
				st.scopeByNode[n.StartByte()] = fake
				current = fake
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i), current)
		}
	}
	walk(root, fileID)
}

// innermostScopeAt returns the fake ID of the narrowest scope containing
// the byte offset. The file scope always matches.
func (st *fileState) innermostScopeAt(offset uint32) int64 {
	best := st.scopes[0]
	for _, sc := range st.scopes[1:] {
		if sc.start <= offset && offset < sc.end {
			if sc.end-sc.start <= best.end-best.start {
				best = sc
			}
		}
	}
	return best.fakeID
}

func (st *fileState) scopeParent(fakeID int64) (int64, bool) {
	for _, sc := range st.scopes {
		if sc.fakeID == fakeID {
			if sc.kind == store.ScopeFile {
				return 0, false
			}
			return sc.parent, true
		}
	}
	return 0, false
}

// --- definitions ---

func (st *fileState) extractDefs() {
	st.defNameSpans = map[uint32]bool{}

	langKey := st.res.Language
	if langKey == "tsx" {
		langKey = "typescript" // tsx is a superset grammar, same node types
	}
	cfg, ok := queryConfigs[langKey]
	if !ok {
		st.extractDefsGeneric()
		return
	}
	grammar, ok := langs.Grammar(st.res.Language)
	if !ok {
		return
	}
	q, err := sitter.NewQuery([]byte(cfg.queryText), grammar)
	if err != nil {
		// Grammar drift: the bundled grammar does not know a node type
		// in the query. Fall back to the generic walker.
		st.extractDefsGeneric()
		return
	}
	defer q.Close()

	qc := sitter.NewQueryCursor()
	defer qc.Close()
	qc.Exec(q, st.res.Root)

	for {
		m, ok := qc.NextMatch()
		if !ok {
			break
		}
		m = qc.FilterPredicates(m, st.res.Source)
		if len(m.Captures) == 0 {
			continue
		}
		if int(m.PatternIndex) >= len(cfg.patterns) {
			continue
		}
		pattern := cfg.patterns[m.PatternIndex]

		var nameNode, defNode, paramsNode *sitter.Node
		for _, c := range m.Captures {
			switch q.CaptureNameForId(c.Index) {
			case "name":
				nameNode = c.Node
			case "node":
				defNode = c.Node
			case "params":
				paramsNode = c.Node
			}
		}
		if nameNode == nil || defNode == nil {
			continue
		}
		st.emitDef(cfg, pattern, defNode, nameNode, paramsNode)
	}
}

// extractDefsGeneric walks the tree matching well-known definition node
// types by their name field.
func (st *fileState) extractDefsGeneric() {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if kind, ok := genericDefTypes[n.Type()]; ok && n != st.res.Root {
			if nameNode := n.ChildByFieldName("name"); nameNode != nil {
				st.emitDef(queryConfig{}, symbolPattern{kind: kind}, n, nameNode, n.ChildByFieldName("parameters"))
			}
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(st.res.Root)
}

func (st *fileState) emitDef(cfg queryConfig, pattern symbolPattern, defNode, nameNode, paramsNode *sitter.Node) {
	name := nameNode.Content(st.res.Source)
	if name == "" {
		return
	}

	containerPath := st.containerPath(cfg, defNode)
	kind := pattern.kind
	if len(containerPath) > 0 && pattern.nestedKind != "" {
		kind = pattern.nestedKind
	}
	lexicalPath := strings.Join(append(containerPath, name), ".")
	uid := DefUID(st.filePath, lexicalPath, kind)

	params := ""
	if paramsNode != nil {
		params = paramsNode.Content(st.res.Source)
	}
	sigParts := []string{name, kind, canonicalizeSignature(st.res.Language, params)}
	if ret := defNode.ChildByFieldName("return_type"); ret != nil {
		sigParts = append(sigParts, canonicalizeSignature(st.res.Language, ret.Content(st.res.Source)))
	}
	if st.res.Language == "python" {
		sigParts = append(sigParts, pythonDecorators(defNode, st.res.Source)...)
	}

	def := store.DefFact{
		DefUID:        uid,
		Kind:          kind,
		Name:          name,
		LexicalPath:   lexicalPath,
		SignatureHash: hashBytes(sigParts...),
		BodyHash:      hashBytes(defNode.Content(st.res.Source)),
		StartLine:     int(defNode.StartPoint().Row),
		StartCol:      int(defNode.StartPoint().Column),
		EndLine:       int(defNode.EndPoint().Row),
		EndCol:        int(defNode.EndPoint().Column),
	}
	st.bundle.Batch.AddDef(def)
	st.bundle.Symbols = append(st.bundle.Symbols, name)
	st.defNameSpans[nameNode.StartByte()] = true

	// Definition-site reference row.
	st.bundle.Batch.AddRef(store.RefFact{
		TokenText: name,
		Role:      store.RoleDefinition,
		RefTier:   store.TierProven,
		Certainty: store.Certain,
		TargetDefUID: func() *string {
			u := uid
			return &u
		}(),
		StartLine: int(nameNode.StartPoint().Row),
		StartCol:  int(nameNode.StartPoint().Column),
		EndLine:   int(nameNode.EndPoint().Row),
		EndCol:    int(nameNode.EndPoint().Column),
	})

	// Binding in the scope where the name becomes visible: the def's
	// enclosing scope, not the def's own scope.
	bindScope := st.enclosingScopeForDef(defNode)
	st.addBind(store.LocalBindFact{
		ScopeID:    bindScope,
		Name:       name,
		TargetKind: store.BindDef,
		TargetUID:  &uid,
		Certainty:  store.Certain,
		ReasonCode: "def",
	})

	// Parameters bind inside the definition's own scope.
	if paramsNode != nil {
		ownScope, ok := st.scopeByNode[defNode.StartByte()]
		if !ok {
			ownScope = bindScope
		}
		st.bindParameters(paramsNode, ownScope)
	}

	// Export candidates: top-level public definitions.
	if len(containerPath) == 0 && isPublicDef(st.res.Language, name, defNode) {
		st.bundle.Exports[name] = uid
	}
}

// containerPath collects the names of container ancestors, outermost
// first.
func (st *fileState) containerPath(cfg queryConfig, defNode *sitter.Node) []string {
	var path []string
	nameField := cfg.containerNameField
	if nameField == "" {
		nameField = "name"
	}
	for n := defNode.Parent(); n != nil; n = n.Parent() {
		isContainer := false
		if cfg.containerTypes != nil {
			isContainer = cfg.containerTypes[n.Type()]
		} else {
			_, isContainer = genericDefTypes[n.Type()]
		}
		if !isContainer {
			continue
		}
		nameNode := n.ChildByFieldName(nameField)
		if nameNode == nil {
			nameNode = n.ChildByFieldName("name")
		}
		if nameNode != nil {
			path = append([]string{nameNode.Content(st.res.Source)}, path...)
		}
	}
	return path
}

// enclosingScopeForDef finds the scope a definition's name binds into.
func (st *fileState) enclosingScopeForDef(defNode *sitter.Node) int64 {
	own, ok := st.scopeByNode[defNode.StartByte()]
	if !ok {
		return st.innermostScopeAt(defNode.StartByte())
	}
	if parent, ok := st.scopeParent(own); ok {
		return parent
	}
	return st.scopes[0].fakeID
}

var parameterIdentifierTypes = map[string]bool{
	"identifier":        true,
	"simple_identifier": true,
	"variable_name":     true,
	"name":              true,
}

// bindParameters binds every identifier under a parameter list into the
// definition's own scope.
func (st *fileState) bindParameters(paramsNode *sitter.Node, scopeID int64) {
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		switch n.Type() {
		case "type", "type_annotation", "default_parameter_value":
			return // annotation identifiers are not parameter names
		}
		if parameterIdentifierTypes[n.Type()] {
			name := n.Content(st.res.Source)
			if name != "" && name != "self" && name != "this" {
				st.addBind(store.LocalBindFact{
					ScopeID:    scopeID,
					Name:       name,
					TargetKind: store.BindParameter,
					Certainty:  store.Certain,
					ReasonCode: "parameter",
				})
			}
			return
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(paramsNode)
}

func (st *fileState) addBind(b store.LocalBindFact) {
	scopeBinds, ok := st.binds[b.ScopeID]
	if !ok {
		scopeBinds = map[string]store.LocalBindFact{}
		st.binds[b.ScopeID] = scopeBinds
	}
	if _, exists := scopeBinds[b.Name]; exists {
		return // first binding in a scope wins
	}
	scopeBinds[b.Name] = b
	st.bundle.Batch.AddBind(b)
}

// --- references ---

var identifierTypes = map[string]bool{
	"identifier":                    true,
	"type_identifier":               true,
	"field_identifier":              true,
	"property_identifier":           true,
	"simple_identifier":             true,
	"shorthand_property_identifier": true,
	"constant":                      true,
	"name":                          true,
}

// memberAccess describes how a language spells member access, for anchor
// grouping.
type memberAccess struct {
	parentType  string
	memberField string
	objectField string
}

var memberAccessByLang = map[string][]memberAccess{
	"python":     {{"attribute", "attribute", "object"}},
	"javascript": {{"member_expression", "property", "object"}},
	"typescript": {{"member_expression", "property", "object"}},
	"tsx":        {{"member_expression", "property", "object"}},
	"go":         {{"selector_expression", "field", "operand"}},
	"rust":       {{"field_expression", "field", "value"}},
	"c":          {{"field_expression", "field", "argument"}},
	"cpp":        {{"field_expression", "field", "argument"}},
	"java":       {{"field_access", "field", "object"}, {"method_invocation", "name", "object"}},
	"csharp":     {{"member_access_expression", "name", "expression"}},
	"ruby":       {{"call", "method", "receiver"}},
}

// extractRefs emits one RefFact per identifier occurrence, classifying
// the role and accumulating anchor groups for member accesses.
func (st *fileState) extractRefs() {
	accesses := memberAccessByLang[st.res.Language]

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if identifierTypes[n.Type()] && n.ChildCount() == 0 {
			st.emitRef(n, accesses)
		}
		for i := 0; i < int(n.ChildCount()); i++ {
			walk(n.Child(i))
		}
	}
	walk(st.res.Root)
}

func (st *fileState) emitRef(n *sitter.Node, accesses []memberAccess) {
	name := n.Content(st.res.Source)
	if name == "" {
		return
	}
	if st.defNameSpans[n.StartByte()] {
		return // definition-site row already emitted
	}

	role := store.RoleReference
	for _, sp := range st.importSpans {
		if n.StartByte() >= sp.start && n.EndByte() <= sp.end {
			role = store.RoleImport
			break
		}
	}
	if role == store.RoleReference && isWriteTarget(n) {
		role = store.RoleWrite
	}

	// Anchor grouping for member accesses: a.b buckets (b, a).
	if parent := n.Parent(); parent != nil && role == store.RoleReference {
		for _, acc := range accesses {
			if parent.Type() != acc.parentType {
				continue
			}
			member := parent.ChildByFieldName(acc.memberField)
			if member == nil || !sameNode(member, n) {
				continue
			}
			receiver := ""
			if obj := parent.ChildByFieldName(acc.objectField); obj != nil && identifierTypes[obj.Type()] {
				receiver = obj.Content(st.res.Source)
			}
			st.bundle.Anchors[AnchorKey{Member: name, Receiver: receiver}]++
		}
	}

	ref := store.RefFact{
		TokenText: name,
		Role:      role,
		RefTier:   store.TierUnknown,
		Certainty: store.Uncertain,
		StartLine: int(n.StartPoint().Row),
		StartCol:  int(n.StartPoint().Column),
		EndLine:   int(n.EndPoint().Row),
		EndCol:    int(n.EndPoint().Column),
	}
	st.bundle.Batch.AddRef(ref)
	st.refs = append(st.refs, refRec{
		idx:       len(st.bundle.Batch.Refs) - 1,
		name:      name,
		startByte: n.StartByte(),
	})
}

// isWriteTarget reports whether the node is the left-hand side of an
// assignment in the common grammars.
func isWriteTarget(n *sitter.Node) bool {
	parent := n.Parent()
	if parent == nil {
		return false
	}
	switch parent.Type() {
	case "assignment", "assignment_expression", "augmented_assignment", "short_var_declaration", "assignment_statement":
		if left := parent.ChildByFieldName("left"); left != nil && sameNode(left, n) {
			return true
		}
	}
	return false
}

// sameNode compares nodes by position; tree-sitter never gives two
// named nodes the same byte span and type.
func sameNode(a, b *sitter.Node) bool {
	return a.StartByte() == b.StartByte() && a.EndByte() == b.EndByte() && a.Type() == b.Type()
}

// resolveLocal walks each unresolved reference's scope chain from the
// innermost scope outward; the first matching binding wins. Ambiguous
// cases stay unknown rather than guessed.
func (st *fileState) resolveLocal() {
	for _, r := range st.refs {
		ref := &st.bundle.Batch.Refs[r.idx]
		if ref.Role == store.RoleDefinition {
			continue
		}
		scopeID := st.innermostScopeAt(r.startByte)
		for {
			if scopeBinds, ok := st.binds[scopeID]; ok {
				if bind, ok := scopeBinds[r.name]; ok {
					ref.RefTier = store.TierProven
					ref.Certainty = store.Certain
					ref.TargetDefUID = bind.TargetUID
					break
				}
			}
			parent, ok := st.scopeParent(scopeID)
			if !ok {
				break
			}
			scopeID = parent
		}
	}
}

// --- helpers ---

func isPublicDef(lang, name string, defNode *sitter.Node) bool {
	switch lang {
	case "go":
		r, _ := utf8.DecodeRuneInString(name)
		return unicode.IsUpper(r)
	case "python":
		return !strings.HasPrefix(name, "_")
	case "rust":
		for i := 0; i < int(defNode.ChildCount()); i++ {
			if defNode.Child(i).Type() == "visibility_modifier" {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func canonicalizeSignature(lang, sig string) string {
	if lang == "python" {
		return canonicalizePythonType(sig)
	}
	return strings.Join(strings.Fields(sig), " ")
}
