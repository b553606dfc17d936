// Package trellis builds and queries a local code-intelligence index.
//
// The pipeline: context discovery walks the working tree's path list for
// workspace and package markers and produces project contexts; the
// tier-1 authority filter detaches packages a strict workspace config
// does not list; tree-sitter parses each file; the fact extractor emits
// scopes, definitions, local bindings, references and imports; the
// import resolver attaches repository-relative resolved paths; and the
// coordinator publishes everything — SQLite facts and the bleve lexical
// index together — as one atomic epoch.
//
// Basic usage:
//
//	engine, err := trellis.Open(repoRoot)
//	if err != nil { ... }
//	defer engine.Close()
//
//	result, err := engine.Initialize(ctx, nil)
//	hits, err := engine.Search(ctx, "handler", trellis.SearchOptions{Limit: 20})
//
//	q := engine.Query()
//	defs, err := q.ListDefsByName(unitID, "Connect", 10)
//	refs, err := q.ListProvenRefs(defs[0].DefUID)
//
// Incremental updates go through ReindexIncremental with the changed
// paths; a reader never observes a half-applied reindex.
package trellis
