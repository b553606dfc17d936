package store

import (
	"fmt"
	"sync"
)

// FactBatch buffers one file's extraction output in memory using fake
// (negative) scope IDs. Workers fill batches concurrently; the
// coordinator's single write path commits them inside the epoch
// transaction, remapping fake IDs to real AUTOINCREMENT IDs.
type FactBatch struct {
	mu sync.Mutex

	Scopes   []Scope
	Defs     []DefFact
	Refs     []RefFact
	Binds    []LocalBindFact
	Imports  []ImportFact
	Dynamics []DynamicAccessFact

	nextFakeID int64 // starts at -1, decrements
}

// NewFactBatch creates an empty batch.
func NewFactBatch() *FactBatch {
	return &FactBatch{nextFakeID: -1}
}

// AddScope buffers a scope and returns its fake ID for use as a parent
// or binding scope reference within the same batch.
func (b *FactBatch) AddScope(scope Scope) int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	scope.ID = b.nextFakeID
	b.nextFakeID--
	b.Scopes = append(b.Scopes, scope)
	return scope.ID
}

func (b *FactBatch) AddDef(def DefFact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Defs = append(b.Defs, def)
}

func (b *FactBatch) AddRef(ref RefFact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Refs = append(b.Refs, ref)
}

func (b *FactBatch) AddBind(bind LocalBindFact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Binds = append(b.Binds, bind)
}

func (b *FactBatch) AddImport(imp ImportFact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Imports = append(b.Imports, imp)
}

func (b *FactBatch) AddDynamic(d DynamicAccessFact) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Dynamics = append(b.Dynamics, d)
}

// CommitBatch inserts a batch's buffered facts for fileID within q
// (normally the epoch transaction). Fake scope IDs are remapped to real
// IDs; scope references in binds and parent links are rewritten through
// the mapping. Insert order respects FK dependencies.
func CommitBatch(q Execer, fileID, unitID int64, b *FactBatch) error {
	fakeToReal := make(map[int64]int64, len(b.Scopes))

	// Scopes first: parents precede children because extraction emits
	// them in preorder.
	for _, scope := range b.Scopes {
		scope.FileID = fileID
		scope.UnitID = unitID
		if scope.ParentScopeID != nil && *scope.ParentScopeID < 0 {
			realID, ok := fakeToReal[*scope.ParentScopeID]
			if !ok {
				return fmt.Errorf("commit batch: scope parent %d not yet committed", *scope.ParentScopeID)
			}
			scope.ParentScopeID = &realID
		}
		res, err := q.Exec(
			`INSERT INTO scopes (file_id, unit_id, parent_scope_id, kind, start_line, start_col, end_line, end_col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			scope.FileID, scope.UnitID, scope.ParentScopeID, scope.Kind,
			scope.StartLine, scope.StartCol, scope.EndLine, scope.EndCol,
		)
		if err != nil {
			return fmt.Errorf("commit batch: scope: %w", err)
		}
		realID, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("commit batch: scope id: %w", err)
		}
		fakeToReal[scope.ID] = realID
	}

	for _, def := range b.Defs {
		def.FileID = fileID
		def.UnitID = unitID
		if _, err := q.Exec(
			`INSERT INTO def_facts (def_uid, file_id, unit_id, kind, name, lexical_path,
				signature_hash, body_hash, start_line, start_col, end_line, end_col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			def.DefUID, def.FileID, def.UnitID, def.Kind, def.Name, def.LexicalPath,
			def.SignatureHash, def.BodyHash, def.StartLine, def.StartCol, def.EndLine, def.EndCol,
		); err != nil {
			return fmt.Errorf("commit batch: def %q: %w", def.Name, err)
		}
	}

	for _, ref := range b.Refs {
		ref.FileID = fileID
		ref.UnitID = unitID
		if _, err := q.Exec(
			`INSERT INTO ref_facts (file_id, unit_id, token_text, role, ref_tier, certainty,
				target_def_uid, start_line, start_col, end_line, end_col)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ref.FileID, ref.UnitID, ref.TokenText, ref.Role, ref.RefTier, ref.Certainty,
			ref.TargetDefUID, ref.StartLine, ref.StartCol, ref.EndLine, ref.EndCol,
		); err != nil {
			return fmt.Errorf("commit batch: ref %q: %w", ref.TokenText, err)
		}
	}

	for _, bind := range b.Binds {
		bind.FileID = fileID
		if bind.ScopeID < 0 {
			realID, ok := fakeToReal[bind.ScopeID]
			if !ok {
				return fmt.Errorf("commit batch: bind %q references unknown scope %d", bind.Name, bind.ScopeID)
			}
			bind.ScopeID = realID
		}
		if _, err := q.Exec(
			`INSERT INTO local_bind_facts (file_id, scope_id, name, target_kind, target_uid, certainty, reason_code)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			bind.FileID, bind.ScopeID, bind.Name, bind.TargetKind, bind.TargetUID, bind.Certainty, bind.ReasonCode,
		); err != nil {
			return fmt.Errorf("commit batch: bind %q: %w", bind.Name, err)
		}
	}

	for _, imp := range b.Imports {
		imp.FileID = fileID
		if _, err := q.Exec(
			`INSERT INTO import_facts (import_uid, file_id, imported_name, alias, source_literal,
				import_kind, resolved_path, certainty, start_line, end_line)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			imp.ImportUID, imp.FileID, imp.ImportedName, imp.Alias, imp.SourceLiteral,
			imp.ImportKind, imp.ResolvedPath, imp.Certainty, imp.StartLine, imp.EndLine,
		); err != nil {
			return fmt.Errorf("commit batch: import %q: %w", imp.SourceLiteral, err)
		}
	}

	for _, d := range b.Dynamics {
		d.FileID = fileID
		if _, err := q.Exec(
			`INSERT INTO dynamic_access_facts (file_id, kind, token_text, start_line, start_col)
			 VALUES (?, ?, ?, ?, ?)`,
			d.FileID, d.Kind, d.TokenText, d.StartLine, d.StartCol,
		); err != nil {
			return fmt.Errorf("commit batch: dynamic access: %w", err)
		}
	}

	return nil
}
