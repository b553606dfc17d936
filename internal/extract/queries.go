package extract

// Per-language tree-sitter query configurations for definition
// extraction. Each config lists S-expression patterns with @name, @node
// and @params captures; pattern order maps 1:1 onto the patterns slice.
// Container types establish the lexical-path stack; containerNameField
// names the field holding a container's name node.
//
// Languages whose query fails to compile against the bundled grammar
// version fall back to the generic walker (extractDefsGeneric in
// extract.go).

// symbolPattern maps a query pattern index to extraction metadata.
type symbolPattern struct {
	kind       string
	nestedKind string // kind when inside a container ("" = same)
}

// queryConfig is the complete definition-extraction config for a language.
type queryConfig struct {
	queryText          string
	patterns           []symbolPattern
	containerTypes     map[string]bool
	containerNameField string
}

func containers(types ...string) map[string]bool {
	m := make(map[string]bool, len(types))
	for _, t := range types {
		m[t] = true
	}
	return m
}

var queryConfigs = map[string]queryConfig{
	"python": {
		queryText: `
			(function_definition
				name: (identifier) @name
				parameters: (parameters) @params) @node
			(class_definition
				name: (identifier) @name) @node
		`,
		patterns: []symbolPattern{
			{kind: "function", nestedKind: "method"},
			{kind: "class"},
		},
		containerTypes: containers("class_definition"),
	},
	"javascript": {
		queryText: `
			(function_declaration
				name: (identifier) @name
				parameters: (formal_parameters) @params) @node
			(generator_function_declaration
				name: (identifier) @name
				parameters: (formal_parameters) @params) @node
			(class_declaration
				name: (identifier) @name) @node
			(method_definition
				name: (property_identifier) @name
				parameters: (formal_parameters) @params) @node
		`,
		patterns: []symbolPattern{
			{kind: "function"},
			{kind: "function"},
			{kind: "class"},
			{kind: "method"},
		},
		containerTypes: containers("class_declaration"),
	},
	"typescript": {
		queryText: `
			(function_declaration
				name: (identifier) @name
				parameters: (formal_parameters) @params) @node
			(generator_function_declaration
				name: (identifier) @name
				parameters: (formal_parameters) @params) @node
			(class_declaration
				name: (type_identifier) @name) @node
			(method_definition
				name: (property_identifier) @name
				parameters: (formal_parameters) @params) @node
			(interface_declaration
				name: (type_identifier) @name) @node
			(type_alias_declaration
				name: (type_identifier) @name) @node
			(enum_declaration
				name: (identifier) @name) @node
		`,
		patterns: []symbolPattern{
			{kind: "function"},
			{kind: "function"},
			{kind: "class"},
			{kind: "method"},
			{kind: "interface"},
			{kind: "type"},
			{kind: "enum"},
		},
		containerTypes: containers("class_declaration"),
	},
	"go": {
		queryText: `
			(function_declaration
				name: (identifier) @name
				parameters: (parameter_list) @params) @node
			(method_declaration
				name: (field_identifier) @name
				parameters: (parameter_list) @params) @node
			(type_declaration
				(type_spec
					name: (type_identifier) @name) @node)
		`,
		patterns: []symbolPattern{
			{kind: "function"},
			{kind: "method"},
			{kind: "type"},
		},
	},
	"rust": {
		queryText: `
			(function_item
				name: (identifier) @name
				parameters: (parameters) @params) @node
			(struct_item
				name: (type_identifier) @name) @node
			(enum_item
				name: (type_identifier) @name) @node
			(trait_item
				name: (type_identifier) @name) @node
			(impl_item
				type: (type_identifier) @name) @node
			(type_item
				name: (type_identifier) @name) @node
			(const_item
				name: (identifier) @name) @node
			(static_item
				name: (identifier) @name) @node
			(mod_item
				name: (identifier) @name) @node
		`,
		patterns: []symbolPattern{
			{kind: "function", nestedKind: "method"},
			{kind: "struct"},
			{kind: "enum"},
			{kind: "trait"},
			{kind: "impl"},
			{kind: "type"},
			{kind: "constant"},
			{kind: "variable"},
			{kind: "module"},
		},
		containerTypes:     containers("impl_item", "trait_item"),
		containerNameField: "type",
	},
	"java": {
		queryText: `
			(class_declaration
				name: (identifier) @name) @node
			(interface_declaration
				name: (identifier) @name) @node
			(enum_declaration
				name: (identifier) @name) @node
			(method_declaration
				name: (identifier) @name
				parameters: (formal_parameters) @params) @node
			(constructor_declaration
				name: (identifier) @name
				parameters: (formal_parameters) @params) @node
			(enum_constant
				name: (identifier) @name) @node
		`,
		patterns: []symbolPattern{
			{kind: "class"},
			{kind: "interface"},
			{kind: "enum"},
			{kind: "method"},
			{kind: "constructor"},
			{kind: "enum_constant"},
		},
		containerTypes: containers("class_declaration", "interface_declaration", "enum_declaration"),
	},
	"csharp": {
		queryText: `
			(class_declaration
				name: (identifier) @name) @node
			(interface_declaration
				name: (identifier) @name) @node
			(struct_declaration
				name: (identifier) @name) @node
			(enum_declaration
				name: (identifier) @name) @node
			(record_declaration
				name: (identifier) @name) @node
			(method_declaration
				name: (identifier) @name
				parameters: (parameter_list) @params) @node
			(constructor_declaration
				name: (identifier) @name
				parameters: (parameter_list) @params) @node
			(property_declaration
				name: (identifier) @name) @node
			(namespace_declaration
				name: (_) @name) @node
			(delegate_declaration
				name: (identifier) @name
				parameters: (parameter_list) @params) @node
		`,
		patterns: []symbolPattern{
			{kind: "class"},
			{kind: "interface"},
			{kind: "struct"},
			{kind: "enum"},
			{kind: "record"},
			{kind: "method"},
			{kind: "constructor"},
			{kind: "property"},
			{kind: "namespace"},
			{kind: "delegate"},
		},
		containerTypes: containers(
			"class_declaration", "interface_declaration", "struct_declaration", "record_declaration",
		),
	},
	"kotlin": {
		queryText: `
			(function_declaration
				(simple_identifier) @name) @node
			(class_declaration
				(type_identifier) @name) @node
			(object_declaration
				(type_identifier) @name) @node
			(property_declaration
				(variable_declaration
					(simple_identifier) @name)) @node
		`,
		patterns: []symbolPattern{
			{kind: "function", nestedKind: "method"},
			{kind: "class"},
			{kind: "object"},
			{kind: "property"},
		},
		containerTypes: containers("class_declaration", "object_declaration"),
	},
	"scala": {
		queryText: `
			(function_definition
				name: (identifier) @name
				parameters: (parameters) @params) @node
			(class_definition
				name: (identifier) @name) @node
			(object_definition
				name: (identifier) @name) @node
			(trait_definition
				name: (identifier) @name) @node
			(val_definition
				pattern: (identifier) @name) @node
			(var_definition
				pattern: (identifier) @name) @node
		`,
		patterns: []symbolPattern{
			{kind: "function", nestedKind: "method"},
			{kind: "class"},
			{kind: "object"},
			{kind: "trait"},
			{kind: "variable"},
			{kind: "variable"},
		},
		containerTypes: containers("class_definition", "object_definition", "trait_definition"),
	},
	"php": {
		queryText: `
			(function_definition
				name: (name) @name
				parameters: (formal_parameters) @params) @node
			(class_declaration
				name: (name) @name) @node
			(interface_declaration
				name: (name) @name) @node
			(trait_declaration
				name: (name) @name) @node
			(method_declaration
				name: (name) @name
				parameters: (formal_parameters) @params) @node
		`,
		patterns: []symbolPattern{
			{kind: "function"},
			{kind: "class"},
			{kind: "interface"},
			{kind: "trait"},
			{kind: "method"},
		},
		containerTypes: containers("class_declaration", "interface_declaration", "trait_declaration"),
	},
	"ruby": {
		queryText: `
			(method
				name: (identifier) @name) @node
			(singleton_method
				name: (identifier) @name) @node
			(class
				name: (constant) @name) @node
			(module
				name: (constant) @name) @node
		`,
		patterns: []symbolPattern{
			{kind: "function", nestedKind: "method"},
			{kind: "method"},
			{kind: "class"},
			{kind: "module"},
		},
		containerTypes: containers("class", "module"),
	},
	"c": {
		queryText: cFamilyQueryText,
		patterns:  cFamilyPatterns,
		containerTypes: containers(
			"struct_specifier",
		),
	},
	"cpp": {
		queryText: cFamilyQueryText + `
			(class_specifier
				name: (type_identifier) @name) @node
			(namespace_definition
				name: (namespace_identifier) @name) @node
		`,
		patterns: append(append([]symbolPattern{}, cFamilyPatterns...),
			symbolPattern{kind: "class"},
			symbolPattern{kind: "namespace"},
		),
		containerTypes: containers("class_specifier", "struct_specifier", "namespace_definition"),
	},
	"swift": {
		queryText: `
			(class_declaration
				name: (type_identifier) @name) @node
			(protocol_declaration
				name: (type_identifier) @name) @node
			(function_declaration
				name: (simple_identifier) @name) @node
		`,
		patterns: []symbolPattern{
			{kind: "class"},
			{kind: "protocol"},
			{kind: "function", nestedKind: "method"},
		},
		containerTypes: containers("class_declaration", "protocol_declaration"),
	},
	"elixir": {
		queryText: `
			(call
				target: (identifier) @_target
				(arguments (alias) @name)
				(#eq? @_target "defmodule")) @node
			(call
				target: (identifier) @_target
				(arguments
					(call
						target: (identifier) @name
						(arguments) @params))
				(#eq? @_target "def")) @node
			(call
				target: (identifier) @_target
				(arguments
					(call
						target: (identifier) @name
						(arguments) @params))
				(#eq? @_target "defp")) @node
			(call
				target: (identifier) @_target
				(arguments
					(call
						target: (identifier) @name
						(arguments) @params))
				(#eq? @_target "defmacro")) @node
		`,
		patterns: []symbolPattern{
			{kind: "module"},
			{kind: "function"},
			{kind: "private_function"},
			{kind: "macro"},
		},
	},
	"lua": {
		queryText: `
			(function_declaration
				name: (_) @name
				parameters: (parameters) @params) @node
		`,
		patterns: []symbolPattern{
			{kind: "function"},
		},
	},
}

const cFamilyQueryText = `
	(function_definition
		declarator: (function_declarator
			declarator: (identifier) @name
			parameters: (parameter_list) @params)) @node
	(struct_specifier
		name: (type_identifier) @name) @node
	(enum_specifier
		name: (type_identifier) @name) @node
	(declaration
		declarator: (function_declarator
			declarator: (identifier) @name
			parameters: (parameter_list) @params)) @node
	(type_definition
		declarator: (type_identifier) @name) @node
`

var cFamilyPatterns = []symbolPattern{
	{kind: "function", nestedKind: "method"},
	{kind: "struct"},
	{kind: "enum"},
	{kind: "function", nestedKind: "method"},
	{kind: "type"},
}

// genericDefTypes drives the fallback walker when a language has no
// query config or its query fails to compile against the bundled
// grammar.
var genericDefTypes = map[string]string{
	"function_definition":   "function",
	"function_declaration":  "function",
	"method_definition":     "method",
	"method_declaration":    "method",
	"class_definition":      "class",
	"class_declaration":     "class",
	"struct_item":           "struct",
	"struct_specifier":      "struct",
	"struct_declaration":    "struct",
	"enum_item":             "enum",
	"enum_declaration":      "enum",
	"enum_specifier":        "enum",
	"interface_declaration": "interface",
	"trait_item":            "trait",
	"trait_declaration":     "trait",
	"type_declaration":      "type",
	"module":                "module",
	"mod_item":              "module",
}
