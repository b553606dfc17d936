// Package trellis is a local code-intelligence index. It ingests a
// working tree, discovers the logical projects inside it, parses source
// files with tree-sitter, and maintains a queryable graph of
// definitions, references, imports, scopes and local bindings together
// with a full-text lexical index. Index state advances in epochs: the
// SQL side and the lexical side of a reindex publish atomically.
package trellis

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/jward/trellis/internal/extract"
	"github.com/jward/trellis/internal/langs"
	"github.com/jward/trellis/internal/lexical"
	"github.com/jward/trellis/internal/parse"
	"github.com/jward/trellis/internal/pathutil"
	"github.com/jward/trellis/internal/store"
)

// IndexDirName is the on-disk home of the index inside the repository.
const IndexDirName = ".codeplane"

// Progress phases reported to the callback.
const (
	PhaseDiscovery  = "discovery"
	PhaseParsing    = "parsing"
	PhaseResolution = "resolution"
	PhaseLexical    = "lexical"
)

// ProgressFunc receives periodic pipeline progress.
type ProgressFunc func(processed, total int, byExt map[string]int, phase string)

// InitResult summarizes an Initialize run.
type InitResult struct {
	ContextsDiscovered int
	FilesIndexed       int
	Errors             []string
}

// IndexStats summarizes a reindex.
type IndexStats struct {
	FilesAdded     int
	FilesModified  int
	FilesRemoved   int
	FilesProcessed int
}

// SearchMode selects which lexical field set a search targets.
type SearchMode string

const (
	SearchContent SearchMode = "content"
	SearchSymbols SearchMode = "symbols"
	SearchPath    SearchMode = "path"
)

// SearchOptions configures Engine.Search.
type SearchOptions struct {
	Mode            SearchMode
	ContextID       *int64
	FilterLanguages []string
	Limit           int
	ContextLines    int
}

// Engine is the coordinator: it drives discovery, extraction, import
// resolution and epoch-atomic publication, and exposes the query
// surface. The indexing pipeline is single-writer: parsing fans out to a
// worker pool, but all store and lexical writes go through one path.
type Engine struct {
	repoRoot  string
	store     *store.Store
	lex       *lexical.Index
	parser    *parse.Parser
	extractor *extract.Extractor
	reader    TreeReader
	git       GitReader
	log       *zap.Logger

	languages   map[string]bool // nil means all languages
	useParallel bool
	workers     int

	// writeMu serializes reindex runs; reads stay concurrent and always
	// observe the last published epoch.
	writeMu sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithLanguages restricts which languages the Engine will extract facts
// for. Files of other languages are still indexed lexically.
func WithLanguages(languages ...string) Option {
	return func(e *Engine) {
		e.languages = make(map[string]bool, len(languages))
		for _, l := range languages {
			e.languages[l] = true
		}
	}
}

// WithParallel controls the parallel extraction pipeline (default on).
func WithParallel(parallel bool) Option {
	return func(e *Engine) { e.useParallel = parallel }
}

// WithWorkers sets the extraction worker count (default NumCPU).
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithLogger installs a structured logger (default no-op).
func WithLogger(log *zap.Logger) Option {
	return func(e *Engine) {
		if log != nil {
			e.log = log
		}
	}
}

// WithTreeReader replaces the default OS-backed working-tree reader.
func WithTreeReader(r TreeReader) Option {
	return func(e *Engine) { e.reader = r }
}

// WithGitReader replaces the default git CLI reader.
func WithGitReader(g GitReader) Option {
	return func(e *Engine) { e.git = g }
}

// Open creates an Engine over repoRoot, creating .codeplane/index.db and
// .codeplane/lexical/ as needed.
func Open(repoRoot string, opts ...Option) (*Engine, error) {
	indexDir := filepath.Join(repoRoot, IndexDirName)
	if err := os.MkdirAll(indexDir, 0o755); err != nil {
		return nil, fmt.Errorf("trellis: create index dir: %w", err)
	}

	s, err := store.Open(filepath.Join(indexDir, "index.db"))
	if err != nil {
		return nil, fmt.Errorf("trellis: open store: %w", err)
	}
	if err := s.Migrate(); err != nil {
		s.Close()
		return nil, fmt.Errorf("trellis: migrate: %w", err)
	}

	lex, err := lexical.Open(filepath.Join(indexDir, "lexical"))
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("trellis: open lexical: %w", err)
	}

	e := &Engine{
		repoRoot:    repoRoot,
		store:       s,
		lex:         lex,
		parser:      parse.NewParser(),
		extractor:   extract.New(),
		log:         zap.NewNop(),
		useParallel: true,
		workers:     runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.reader == nil {
		e.reader = NewOSTreeReader(repoRoot)
	}
	if e.git == nil {
		e.git = NewGitCLIReader(repoRoot)
	}
	return e, nil
}

// Close closes the Engine's lexical index and fact store.
func (e *Engine) Close() error {
	lexErr := e.lex.Close()
	storeErr := e.store.Close()
	if lexErr != nil {
		return lexErr
	}
	return storeErr
}

// Store exposes the underlying fact store for the query facade.
func (e *Engine) Store() *store.Store { return e.store }

// Query returns the read-only graph query facade.
func (e *Engine) Query() *Query { return &Query{store: e.store} }

// Initialize builds the index from scratch (or refreshes everything
// present) and publishes one epoch.
func (e *Engine) Initialize(ctx context.Context, progress ProgressFunc) (InitResult, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	run, err := e.planFull(ctx)
	if err != nil {
		return InitResult{}, err
	}
	stats, errs, err := e.runEpoch(ctx, run, progress)
	if err != nil {
		return InitResult{}, err
	}
	return InitResult{
		ContextsDiscovered: run.discovered,
		FilesIndexed:       stats.FilesProcessed,
		Errors:             errs,
	}, nil
}

// ReindexIncremental processes the given changed paths (plus any
// membership changes caused by a .cplignore edit) and publishes one
// epoch. With no .cplignore change and no changed paths it is a no-op.
func (e *Engine) ReindexIncremental(ctx context.Context, changedPaths []string) (IndexStats, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	ignore, err := pathutil.LoadIgnore(e.repoRoot)
	if err != nil {
		return IndexStats{}, fmt.Errorf("trellis: load ignore: %w", err)
	}
	ignoreChanged, err := e.ignoreChanged(ignore)
	if err != nil {
		return IndexStats{}, err
	}

	if !ignoreChanged && len(changedPaths) == 0 {
		return IndexStats{}, nil
	}

	var run *runPlan
	if ignoreChanged {
		// Membership of every file must be re-evaluated.
		run, err = e.planFull(ctx)
	} else {
		run, err = e.planIncremental(ctx, changedPaths, ignore)
	}
	if err != nil {
		return IndexStats{}, err
	}

	stats, _, err := e.runEpoch(ctx, run, nil)
	return stats, err
}

// ReindexFull truncates all facts and the lexical index and rebuilds
// everything in a single epoch.
func (e *Engine) ReindexFull(ctx context.Context) (IndexStats, error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	run, err := e.planFull(ctx)
	if err != nil {
		return IndexStats{}, err
	}
	run.truncate = true
	stats, _, err := e.runEpoch(ctx, run, nil)
	return stats, err
}

// Search delegates to the lexical index and applies the language
// filter against the registry.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) (*lexical.Results, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 20
	}
	contextLines := opts.ContextLines
	if contextLines <= 0 {
		contextLines = 1
	}

	// Over-fetch when filtering by language, then trim.
	fetchLimit := limit
	if len(opts.FilterLanguages) > 0 {
		fetchLimit = limit * 4
	}

	var res *lexical.Results
	var err error
	switch opts.Mode {
	case SearchSymbols:
		res, err = e.lex.SearchSymbols(query, fetchLimit, opts.ContextID, contextLines)
	case SearchPath:
		res, err = e.lex.SearchPath(query, fetchLimit, opts.ContextID, contextLines)
	default:
		res, err = e.lex.Search(query, fetchLimit, opts.ContextID, contextLines)
	}
	if err != nil {
		return nil, err
	}
	if len(opts.FilterLanguages) == 0 {
		return res, nil
	}

	allowed := map[string]bool{}
	for _, l := range opts.FilterLanguages {
		allowed[l] = true
	}
	filtered := &lexical.Results{
		TotalHits:      res.TotalHits,
		QueryTimeMS:    res.QueryTimeMS,
		FallbackReason: res.FallbackReason,
	}
	for _, r := range res.Results {
		lang, ok := langs.LanguageForFile(r.Path)
		if !ok {
			continue
		}
		family, _ := langs.FamilyForLanguage(lang)
		if allowed[lang] || allowed[family] {
			filtered.Results = append(filtered.Results, r)
			if len(filtered.Results) >= limit {
				break
			}
		}
	}
	return filtered, nil
}

// --- planning ---

// runPlan is the unit of work for one epoch.
type runPlan struct {
	ignore     *pathutil.Ignore
	contexts   []*store.Context
	discovered int

	// Paths to (re)extract and paths now absent.
	indexPaths  []string
	removePaths []string

	// contextByPath assigns every present path its owning context.
	contextByPath map[string]int64

	// allPaths is the full present file list for the resolver.
	allPaths []string

	truncate bool
	errors   []string
}

var errCancelled = errors.New("trellis: reindex cancelled")

// planFull lists the tree, runs discovery and authority, and schedules
// every present file.
func (e *Engine) planFull(ctx context.Context) (*runPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled
	}
	ignore, err := pathutil.LoadIgnore(e.repoRoot)
	if err != nil {
		return nil, fmt.Errorf("trellis: load ignore: %w", err)
	}

	listed, err := e.reader.ListPaths()
	if err != nil {
		return nil, fmt.Errorf("trellis: list paths: %w", err)
	}
	var paths []string
	for _, p := range listed {
		p = pathutil.ToPosix(p)
		if p == pathutil.IgnoreFileName || pathutil.IsInside(p, IndexDirName) {
			continue
		}
		if !ignore.Match(p) {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)

	contexts, discovered, warnings := e.discoverContexts(paths)
	plan := &runPlan{
		ignore:        ignore,
		contexts:      contexts,
		discovered:    discovered,
		indexPaths:    paths,
		allPaths:      paths,
		contextByPath: assignContexts(paths, contexts),
		errors:        warnings,
	}

	// Files in the store but no longer on disk (or now ignored) are
	// removed in this epoch.
	stored, err := e.store.AllPresentFiles()
	if err != nil {
		return nil, fmt.Errorf("trellis: list stored files: %w", err)
	}
	present := map[string]bool{}
	for _, p := range paths {
		present[p] = true
	}
	for _, f := range stored {
		if !present[f.Path] {
			plan.removePaths = append(plan.removePaths, f.Path)
		}
	}
	return plan, nil
}

// planIncremental schedules only the given paths, reusing the stored
// context table.
func (e *Engine) planIncremental(ctx context.Context, changedPaths []string, ignore *pathutil.Ignore) (*runPlan, error) {
	if err := ctx.Err(); err != nil {
		return nil, errCancelled
	}
	contexts, err := e.store.Contexts()
	if err != nil {
		return nil, fmt.Errorf("trellis: load contexts: %w", err)
	}

	stored, err := e.store.AllPresentFiles()
	if err != nil {
		return nil, fmt.Errorf("trellis: list stored files: %w", err)
	}
	allPaths := map[string]bool{}
	for _, f := range stored {
		allPaths[f.Path] = true
	}

	plan := &runPlan{ignore: ignore, contexts: contexts}
	seen := map[string]bool{}
	for _, p := range changedPaths {
		p = pathutil.ToPosix(p)
		if seen[p] {
			continue
		}
		seen[p] = true
		if p == pathutil.IgnoreFileName || pathutil.IsInside(p, IndexDirName) || ignore.Match(p) {
			continue
		}
		content, err := e.reader.ReadFile(p)
		if err != nil {
			plan.errors = append(plan.errors, fmt.Sprintf("read %s: %v", p, err))
			continue
		}
		if content == nil {
			if allPaths[p] {
				plan.removePaths = append(plan.removePaths, p)
				delete(allPaths, p)
			}
			continue
		}
		plan.indexPaths = append(plan.indexPaths, p)
		allPaths[p] = true
	}

	for p := range allPaths {
		plan.allPaths = append(plan.allPaths, p)
	}
	sort.Strings(plan.allPaths)
	plan.contextByPath = assignContexts(plan.allPaths, contexts)
	return plan, nil
}

// discoverContexts runs discovery plus authority and returns the merged
// context set (pending and detached both persist; detached contexts keep
// claiming their own files).
func (e *Engine) discoverContexts(paths []string) ([]*store.Context, int, []string) {
	readFile := func(p string) ([]byte, error) { return e.reader.ReadFile(p) }
	disc := discoverNew(paths, readFile)
	result := disc.DiscoverAll()

	auth := authorityNew(readFile)
	authResult := auth.Apply(result.Candidates)

	var contexts []*store.Context
	for _, c := range authResult.Pending {
		contexts = append(contexts, candidateToContext(c, false))
	}
	for _, c := range authResult.Detached {
		contexts = append(contexts, candidateToContext(c, true))
	}
	warnings := append(append([]string(nil), result.Errors...), authResult.Warnings...)
	return contexts, len(result.Candidates), warnings
}

// ignoreChanged compares the current .cplignore content hash against the
// one recorded at the last epoch.
func (e *Engine) ignoreChanged(ignore *pathutil.Ignore) (bool, error) {
	current := fmt.Sprintf("%x", sha256.Sum256([]byte(ignore.Raw())))
	stored, err := e.store.GetMetadata("cplignore_hash")
	if err != nil {
		return false, fmt.Errorf("trellis: ignore hash: %w", err)
	}
	return stored != "" && stored != current, nil
}

// assignContexts maps every file to exactly one context: include globs
// must match and exclude globs must not, relative to the context root;
// ties break by most-specific root path, then by tier (workspace over
// package over ambient over root fallback).
func assignContexts(paths []string, contexts []*store.Context) map[string]int64 {
	out := make(map[string]int64, len(paths))
	for _, p := range paths {
		var best *store.Context
		bestRootLen := -1
		bestTier := int64(99)
		for _, c := range contexts {
			if !pathutil.IsInside(p, c.RootPath) {
				continue
			}
			rel := pathutil.RelativeTo(p, c.RootPath)
			if !matchesSpec(rel, c.IncludeSpec) || matchesSpec(rel, c.ExcludeSpec) {
				continue
			}
			tier := effectiveTier(c.Tier)
			rootLen := len(c.RootPath)
			if rootLen > bestRootLen || (rootLen == bestRootLen && tier < bestTier) {
				best = c
				bestRootLen = rootLen
				bestTier = tier
			}
		}
		if best != nil {
			out[p] = best.ID
		}
	}
	return out
}

// effectiveTier orders context preference: workspace, package, ambient,
// root fallback.
func effectiveTier(tier int64) int64 {
	switch tier {
	case 1, 2:
		return tier
	case 0:
		return 3
	default:
		return 4
	}
}
