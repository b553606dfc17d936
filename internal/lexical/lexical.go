// Package lexical is the full-text side of the index: file paths,
// contents and symbol names, searchable with field-scoped query strings.
// Writes can be staged in memory and applied as one batch so the SQL
// transaction and the lexical commit publish together.
package lexical

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/standard"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
)

// Result is a single search hit: one row per matching line.
type Result struct {
	Path      string
	Line      int // 1-indexed
	Column    int
	Snippet   string
	Score     float64
	ContextID int64
}

// Results collects search hits.
type Results struct {
	Results        []Result
	TotalHits      int
	QueryTimeMS    int64
	FallbackReason string // set when a query syntax error forced a literal fallback
}

type document struct {
	Path      string  `json:"path"`
	PathExact string  `json:"path_exact"`
	Content   string  `json:"content"`
	Symbols   string  `json:"symbols"`
	ContextID float64 `json:"context_id"`
	FileID    float64 `json:"file_id"`
}

type stagedAdd struct {
	path      string
	content   string
	symbols   []string
	contextID int64
	fileID    int64
}

// Index is the bleve-backed lexical index. The writer is singleton per
// process; staged buffers are guarded by mu.
type Index struct {
	path string

	mu      sync.Mutex
	idx     bleve.Index
	adds    []stagedAdd
	removes []string
}

// Open opens or creates the index directory.
func Open(indexPath string) (*Index, error) {
	var idx bleve.Index
	var err error
	if _, statErr := os.Stat(indexPath); statErr == nil {
		idx, err = bleve.Open(indexPath)
	} else {
		idx, err = bleve.New(indexPath, buildMapping())
	}
	if err != nil {
		return nil, fmt.Errorf("open lexical index: %w", err)
	}
	return &Index{path: indexPath, idx: idx}, nil
}

func buildMapping() mapping.IndexMapping {
	text := bleve.NewTextFieldMapping()
	text.Store = true
	text.Analyzer = standard.Name

	// Raw/untokenized, unstored: used only for exact-match deletion.
	exact := bleve.NewTextFieldMapping()
	exact.Store = false
	exact.Analyzer = keyword.Name

	num := bleve.NewNumericFieldMapping()
	num.Store = true

	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("path", text)
	doc.AddFieldMappingsAt("path_exact", exact)
	doc.AddFieldMappingsAt("content", text)
	doc.AddFieldMappingsAt("symbols", text)
	doc.AddFieldMappingsAt("context_id", num)
	doc.AddFieldMappingsAt("file_id", num)

	m := bleve.NewIndexMapping()
	m.DefaultMapping = doc
	return m
}

// Close releases the index.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.idx.Close()
}

// AddFile indexes a single file immediately (used outside reindex).
func (ix *Index) AddFile(path, content string, contextID, fileID int64, symbols []string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.idx.Index(path, document{
		Path:      path,
		PathExact: path,
		Content:   content,
		Symbols:   strings.Join(symbols, " "),
		ContextID: float64(contextID),
		FileID:    float64(fileID),
	})
}

// RemoveFile removes a single file immediately.
func (ix *Index) RemoveFile(path string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.idx.Delete(path)
}

// StageFile buffers an add/update for the next CommitStaged.
func (ix *Index) StageFile(path, content string, contextID, fileID int64, symbols []string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.adds = append(ix.adds, stagedAdd{
		path: path, content: content, symbols: symbols, contextID: contextID, fileID: fileID,
	})
}

// StageRemove buffers a removal for the next CommitStaged.
func (ix *Index) StageRemove(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.removes = append(ix.removes, path)
}

// HasStagedChanges reports uncommitted staged changes.
func (ix *Index) HasStagedChanges() bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.adds) > 0 || len(ix.removes) > 0
}

// StagedCount returns (additions, removals).
func (ix *Index) StagedCount() (int, int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.adds), len(ix.removes)
}

// CommitStaged applies all staged changes as one writer batch. This is
// the lexical half of epoch publishing: the caller commits the SQL
// transaction only after this succeeds. On failure the staging buffers
// are cleared and the error surfaces.
func (ix *Index) CommitStaged() (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if len(ix.adds) == 0 && len(ix.removes) == 0 {
		return 0, nil
	}

	batch := ix.idx.NewBatch()
	count := 0
	for _, p := range ix.removes {
		batch.Delete(p)
		count++
	}
	for _, a := range ix.adds {
		err := batch.Index(a.path, document{
			Path:      a.path,
			PathExact: a.path,
			Content:   a.content,
			Symbols:   strings.Join(a.symbols, " "),
			ContextID: float64(a.contextID),
			FileID:    float64(a.fileID),
		})
		if err != nil {
			ix.adds = nil
			ix.removes = nil
			return 0, fmt.Errorf("stage batch: %w", err)
		}
		count++
	}
	if err := ix.idx.Batch(batch); err != nil {
		ix.adds = nil
		ix.removes = nil
		return 0, fmt.Errorf("lexical commit: %w", err)
	}
	ix.adds = nil
	ix.removes = nil
	return count, nil
}

// DiscardStaged drops uncommitted staged changes, returning how many
// were discarded.
func (ix *Index) DiscardStaged() int {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	n := len(ix.adds) + len(ix.removes)
	ix.adds = nil
	ix.removes = nil
	return n
}

// Clear removes every document. Used by full reindex.
func (ix *Index) Clear() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	count, err := ix.idx.DocCount()
	if err != nil {
		return fmt.Errorf("clear: doc count: %w", err)
	}
	if count == 0 {
		return nil
	}
	q := bleve.NewMatchAllQuery()
	req := bleve.NewSearchRequestOptions(q, int(count), 0, false)
	res, err := ix.idx.Search(req)
	if err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	batch := ix.idx.NewBatch()
	for _, hit := range res.Hits {
		batch.Delete(hit.ID)
	}
	if err := ix.idx.Batch(batch); err != nil {
		return fmt.Errorf("clear: %w", err)
	}
	return nil
}

// DocCount returns the number of indexed documents.
func (ix *Index) DocCount() (uint64, error) {
	return ix.idx.DocCount()
}

// Search runs a structured query (field-scoped sub-queries supported)
// and expands hits to one result per matching line. On a query syntax
// error the raw query is escaped and retried once; if that also fails an
// empty result is returned with FallbackReason set.
func (ix *Index) Search(queryStr string, limit int, contextID *int64, contextLines int) (*Results, error) {
	start := time.Now()
	results := &Results{}

	parsed, fallbackReason := parseQuery(queryStr)
	if parsed == nil {
		results.QueryTimeMS = time.Since(start).Milliseconds()
		results.FallbackReason = "query could not be parsed even after escaping"
		return results, nil
	}
	results.FallbackReason = fallbackReason

	var finalQuery query.Query = parsed
	if contextID != nil {
		lo := float64(*contextID)
		hi := float64(*contextID)
		incl := true
		ctxQuery := query.NewNumericRangeInclusiveQuery(&lo, &hi, &incl, &incl)
		ctxQuery.SetField("context_id")
		finalQuery = bleve.NewConjunctionQuery(parsed, ctxQuery)
	}

	if limit <= 0 {
		limit = 20
	}
	docLimit := limit
	if docLimit > 500 {
		docLimit = 500 // cap doc fetch; hits expand to lines
	}
	req := bleve.NewSearchRequestOptions(finalQuery, docLimit, 0, false)
	req.Fields = []string{"path", "content", "context_id", "file_id"}

	res, err := ix.idx.Search(req)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	results.TotalHits = int(res.Total)

	terms := extractSearchTerms(queryStr)
	for _, hit := range res.Hits {
		path, _ := hit.Fields["path"].(string)
		content, _ := hit.Fields["content"].(string)
		ctxID := int64(0)
		if v, ok := hit.Fields["context_id"].(float64); ok {
			ctxID = int64(v)
		}
		for _, m := range matchingLines(content, terms, contextLines) {
			if len(results.Results) >= limit {
				break
			}
			results.Results = append(results.Results, Result{
				Path:      path,
				Line:      m.line,
				Column:    0,
				Snippet:   m.snippet,
				Score:     hit.Score,
				ContextID: ctxID,
			})
		}
		if len(results.Results) >= limit {
			break
		}
	}

	results.QueryTimeMS = time.Since(start).Milliseconds()
	return results, nil
}

// SearchSymbols restricts the query to symbol names.
func (ix *Index) SearchSymbols(queryStr string, limit int, contextID *int64, contextLines int) (*Results, error) {
	return ix.Search("symbols:"+queryStr, limit, contextID, contextLines)
}

// SearchPath restricts the query to file paths.
func (ix *Index) SearchPath(pattern string, limit int, contextID *int64, contextLines int) (*Results, error) {
	return ix.Search("path:"+pattern, limit, contextID, contextLines)
}

// parseQuery parses a query string, escaping and retrying once on a
// syntax error. Returns (nil, reason) when both attempts fail.
func parseQuery(queryStr string) (query.Query, string) {
	qs := bleve.NewQueryStringQuery(queryStr)
	if parsed, err := qs.Parse(); err == nil {
		return parsed, ""
	} else {
		reason := err.Error()
		if len(reason) > 50 {
			reason = reason[:50]
		}
		escaped := escapeQuery(queryStr)
		qs = bleve.NewQueryStringQuery(escaped)
		if parsed, err2 := qs.Parse(); err2 == nil {
			return parsed, "query syntax error: " + reason
		}
		return nil, "query syntax error: " + reason
	}
}

// escapeQuery escapes query-syntax operators for a literal search.
func escapeQuery(q string) string {
	const special = `+-=&|><!(){}[]^"~*?:\/ `
	var b strings.Builder
	for _, r := range q {
		if strings.ContainsRune(special, r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// extractSearchTerms pulls literal terms from the query, dropping field
// prefixes and boolean operators.
func extractSearchTerms(queryStr string) []string {
	var terms []string
	for _, tok := range strings.Fields(strings.ToLower(queryStr)) {
		if i := strings.Index(tok, ":"); i >= 0 {
			tok = tok[i+1:]
		}
		tok = strings.Trim(tok, `"()\`)
		if tok == "" || tok == "and" || tok == "or" || tok == "not" {
			continue
		}
		terms = append(terms, tok)
	}
	return terms
}

type lineMatch struct {
	snippet string
	line    int
}

// matchingLines finds every line containing any literal term and builds
// a symmetric context snippet around it. With no matches the leading
// lines are returned so the document still yields one row.
func matchingLines(content string, terms []string, contextLines int) []lineMatch {
	lines := strings.Split(content, "\n")
	if len(terms) == 0 {
		n := 1 + 2*contextLines
		if n > len(lines) {
			n = len(lines)
		}
		return []lineMatch{{snippet: strings.Join(lines[:n], "\n"), line: 1}}
	}

	var matches []lineMatch
	for i, line := range lines {
		lower := strings.ToLower(line)
		for _, term := range terms {
			if strings.Contains(lower, term) {
				start := i - contextLines
				if start < 0 {
					start = 0
				}
				end := i + contextLines + 1
				if end > len(lines) {
					end = len(lines)
				}
				matches = append(matches, lineMatch{
					snippet: strings.Join(lines[start:end], "\n"),
					line:    i + 1,
				})
				break
			}
		}
	}
	if len(matches) == 0 {
		n := 1 + 2*contextLines
		if n > len(lines) {
			n = len(lines)
		}
		return []lineMatch{{snippet: strings.Join(lines[:n], "\n"), line: 1}}
	}
	return matches
}
