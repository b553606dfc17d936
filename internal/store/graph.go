package store

import (
	"database/sql"
	"fmt"
)

// Read-only graph queries. Each method issues exactly one indexed SQL
// query and returns typed rows, never mutable references into the store.

const defCols = `id, def_uid, file_id, unit_id, kind, name, lexical_path, signature_hash, body_hash, start_line, start_col, end_line, end_col`

func scanDef(scanner interface{ Scan(...any) error }) (*DefFact, error) {
	d := &DefFact{}
	err := scanner.Scan(&d.ID, &d.DefUID, &d.FileID, &d.UnitID, &d.Kind, &d.Name, &d.LexicalPath,
		&d.SignatureHash, &d.BodyHash, &d.StartLine, &d.StartCol, &d.EndLine, &d.EndCol)
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) queryDefs(query string, args ...any) ([]*DefFact, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*DefFact
	for rows.Next() {
		d, err := scanDef(rows)
		if err != nil {
			return nil, fmt.Errorf("scan def: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) DefByUID(uid string) (*DefFact, error) {
	row := s.db.QueryRow("SELECT "+defCols+" FROM def_facts WHERE def_uid = ?", uid)
	d, err := scanDef(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("def by uid: %w", err)
	}
	return d, nil
}

func (s *Store) DefsByName(unitID int64, name string, limit int) ([]*DefFact, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryDefs(
		"SELECT "+defCols+" FROM def_facts WHERE unit_id = ? AND name = ? LIMIT ?",
		unitID, name, limit,
	)
}

func (s *Store) DefsInFile(fileID int64) ([]*DefFact, error) {
	return s.queryDefs("SELECT "+defCols+" FROM def_facts WHERE file_id = ?", fileID)
}

const refCols = `id, file_id, unit_id, token_text, role, ref_tier, certainty, target_def_uid, start_line, start_col, end_line, end_col`

func scanRef(scanner interface{ Scan(...any) error }) (*RefFact, error) {
	r := &RefFact{}
	err := scanner.Scan(&r.ID, &r.FileID, &r.UnitID, &r.TokenText, &r.Role, &r.RefTier, &r.Certainty,
		&r.TargetDefUID, &r.StartLine, &r.StartCol, &r.EndLine, &r.EndCol)
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *Store) queryRefs(query string, args ...any) ([]*RefFact, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*RefFact
	for rows.Next() {
		r, err := scanRef(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ref: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RefsByDefUID returns reverse references to a definition, optionally
// filtered by tier ("" for all tiers).
func (s *Store) RefsByDefUID(uid string, tier string) ([]*RefFact, error) {
	if tier == "" {
		return s.queryRefs("SELECT "+refCols+" FROM ref_facts WHERE target_def_uid = ?", uid)
	}
	return s.queryRefs(
		"SELECT "+refCols+" FROM ref_facts WHERE target_def_uid = ? AND ref_tier = ?", uid, tier,
	)
}

func (s *Store) ProvenRefs(uid string) ([]*RefFact, error) {
	return s.RefsByDefUID(uid, TierProven)
}

func (s *Store) RefsInFile(fileID int64) ([]*RefFact, error) {
	return s.queryRefs("SELECT "+refCols+" FROM ref_facts WHERE file_id = ?", fileID)
}

func (s *Store) RefsByToken(unitID int64, token string) ([]*RefFact, error) {
	return s.queryRefs(
		"SELECT "+refCols+" FROM ref_facts WHERE unit_id = ? AND token_text = ?", unitID, token,
	)
}

const scopeCols = `id, file_id, unit_id, parent_scope_id, kind, start_line, start_col, end_line, end_col`

func scanScope(scanner interface{ Scan(...any) error }) (*Scope, error) {
	sc := &Scope{}
	err := scanner.Scan(&sc.ID, &sc.FileID, &sc.UnitID, &sc.ParentScopeID, &sc.Kind,
		&sc.StartLine, &sc.StartCol, &sc.EndLine, &sc.EndCol)
	if err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Store) ScopeByID(id int64) (*Scope, error) {
	row := s.db.QueryRow("SELECT "+scopeCols+" FROM scopes WHERE id = ?", id)
	sc, err := scanScope(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scope by id: %w", err)
	}
	return sc, nil
}

func (s *Store) ScopesInFile(fileID int64) ([]*Scope, error) {
	rows, err := s.db.Query("SELECT "+scopeCols+" FROM scopes WHERE file_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("scopes in file: %w", err)
	}
	defer rows.Close()
	var out []*Scope
	for rows.Next() {
		sc, err := scanScope(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scope: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

const bindCols = `id, file_id, scope_id, name, target_kind, target_uid, certainty, reason_code`

func scanBind(scanner interface{ Scan(...any) error }) (*LocalBindFact, error) {
	b := &LocalBindFact{}
	err := scanner.Scan(&b.ID, &b.FileID, &b.ScopeID, &b.Name, &b.TargetKind, &b.TargetUID,
		&b.Certainty, &b.ReasonCode)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Store) LocalBind(scopeID int64, name string) (*LocalBindFact, error) {
	row := s.db.QueryRow(
		"SELECT "+bindCols+" FROM local_bind_facts WHERE scope_id = ? AND name = ?", scopeID, name,
	)
	b, err := scanBind(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("local bind: %w", err)
	}
	return b, nil
}

func (s *Store) BindsInScope(scopeID int64) ([]*LocalBindFact, error) {
	rows, err := s.db.Query("SELECT "+bindCols+" FROM local_bind_facts WHERE scope_id = ?", scopeID)
	if err != nil {
		return nil, fmt.Errorf("binds in scope: %w", err)
	}
	defer rows.Close()
	var out []*LocalBindFact
	for rows.Next() {
		b, err := scanBind(rows)
		if err != nil {
			return nil, fmt.Errorf("scan bind: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

const importCols = `id, import_uid, file_id, imported_name, alias, source_literal, import_kind, resolved_path, certainty, start_line, end_line`

func scanImport(scanner interface{ Scan(...any) error }) (*ImportFact, error) {
	imp := &ImportFact{}
	err := scanner.Scan(&imp.ID, &imp.ImportUID, &imp.FileID, &imp.ImportedName, &imp.Alias,
		&imp.SourceLiteral, &imp.ImportKind, &imp.ResolvedPath, &imp.Certainty,
		&imp.StartLine, &imp.EndLine)
	if err != nil {
		return nil, err
	}
	return imp, nil
}

func (s *Store) ImportsInFile(fileID int64) ([]*ImportFact, error) {
	rows, err := s.db.Query("SELECT "+importCols+" FROM import_facts WHERE file_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("imports in file: %w", err)
	}
	defer rows.Close()
	var out []*ImportFact
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

func (s *Store) ImportByUID(uid string) (*ImportFact, error) {
	row := s.db.QueryRow("SELECT "+importCols+" FROM import_facts WHERE import_uid = ?", uid)
	imp, err := scanImport(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("import by uid: %w", err)
	}
	return imp, nil
}

// AllImports returns every stored import fact; the coordinator uses this
// during the resolution phase.
func (s *Store) AllImports() ([]*ImportFact, error) {
	rows, err := s.db.Query("SELECT " + importCols + " FROM import_facts")
	if err != nil {
		return nil, fmt.Errorf("all imports: %w", err)
	}
	defer rows.Close()
	var out []*ImportFact
	for rows.Next() {
		imp, err := scanImport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan import: %w", err)
		}
		out = append(out, imp)
	}
	return out, rows.Err()
}

func (s *Store) ExportSurface(unitID int64) (*ExportSurface, error) {
	var es ExportSurface
	err := s.db.QueryRow("SELECT id, unit_id FROM export_surfaces WHERE unit_id = ?", unitID).
		Scan(&es.ID, &es.UnitID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("export surface: %w", err)
	}
	return &es, nil
}

func (s *Store) ExportEntries(surfaceID int64) ([]*ExportEntry, error) {
	rows, err := s.db.Query(
		"SELECT id, surface_id, exported_name, def_uid FROM export_entries WHERE surface_id = ?", surfaceID,
	)
	if err != nil {
		return nil, fmt.Errorf("export entries: %w", err)
	}
	defer rows.Close()
	var out []*ExportEntry
	for rows.Next() {
		e := &ExportEntry{}
		if err := rows.Scan(&e.ID, &e.SurfaceID, &e.ExportedName, &e.DefUID); err != nil {
			return nil, fmt.Errorf("scan export entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AnchorGroup(unitID int64, member string, receiver *string) (*AnchorGroup, error) {
	var row *sql.Row
	if receiver == nil {
		row = s.db.QueryRow(
			"SELECT id, unit_id, member_token, receiver_shape, total_count FROM anchor_groups WHERE unit_id = ? AND member_token = ? AND receiver_shape IS NULL",
			unitID, member,
		)
	} else {
		row = s.db.QueryRow(
			"SELECT id, unit_id, member_token, receiver_shape, total_count FROM anchor_groups WHERE unit_id = ? AND member_token = ? AND receiver_shape = ?",
			unitID, member, *receiver,
		)
	}
	g := &AnchorGroup{}
	err := row.Scan(&g.ID, &g.UnitID, &g.MemberToken, &g.ReceiverShape, &g.TotalCount)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("anchor group: %w", err)
	}
	return g, nil
}

func (s *Store) AnchorGroups(unitID int64) ([]*AnchorGroup, error) {
	rows, err := s.db.Query(
		"SELECT id, unit_id, member_token, receiver_shape, total_count FROM anchor_groups WHERE unit_id = ?", unitID,
	)
	if err != nil {
		return nil, fmt.Errorf("anchor groups: %w", err)
	}
	defer rows.Close()
	var out []*AnchorGroup
	for rows.Next() {
		g := &AnchorGroup{}
		if err := rows.Scan(&g.ID, &g.UnitID, &g.MemberToken, &g.ReceiverShape, &g.TotalCount); err != nil {
			return nil, fmt.Errorf("scan anchor group: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
