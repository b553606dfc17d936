package trellis

import (
	"fmt"

	"github.com/jward/trellis/internal/store"
)

// SemanticRef is an externally proven reference produced by a semantic
// indexer (a SCIP-emitting tool). Positions follow the tree-sitter
// convention used everywhere else in the index.
type SemanticRef struct {
	Path         string
	TokenText    string
	StartLine    int
	StartCol     int
	TargetDefUID string
}

// SemanticIndexer supplies externally proven references. Tool discovery,
// installation and .scip parsing live outside the core; the core only
// merges results.
type SemanticIndexer interface {
	ProvenRefs(contextID int64) ([]SemanticRef, error)
}

// MergeSemanticRefs overlays externally proven references onto the
// extractor's baseline: a matching stored occurrence is upgraded to
// proven tier with the given target. Unmatched entries are counted and
// returned, not treated as errors.
func (e *Engine) MergeSemanticRefs(refs []SemanticRef) (merged, unmatched int, err error) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	tx, err := e.store.DB().Begin()
	if err != nil {
		return 0, 0, fmt.Errorf("trellis: begin semantic merge: %w", err)
	}
	defer tx.Rollback()

	for _, r := range refs {
		f, err := store.FileByPath(tx, r.Path)
		if err != nil {
			return 0, 0, err
		}
		if f == nil || f.Missing {
			unmatched++
			continue
		}
		res, err := tx.Exec(
			`UPDATE ref_facts SET ref_tier = ?, certainty = ?, target_def_uid = ?
			 WHERE file_id = ? AND token_text = ? AND start_line = ? AND start_col = ?`,
			store.TierProven, store.Certain, r.TargetDefUID,
			f.ID, r.TokenText, r.StartLine, r.StartCol,
		)
		if err != nil {
			return 0, 0, fmt.Errorf("trellis: merge ref %s@%s:%d: %w", r.TokenText, r.Path, r.StartLine, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			unmatched++
		} else {
			merged++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("trellis: commit semantic merge: %w", err)
	}
	return merged, unmatched, nil
}
