package store

import (
	"database/sql"
	"fmt"
)

// --- Context operations ---

const contextCols = `id, language_family, root_path, tier, markers, include_spec, exclude_spec, probe_status`

// UpsertContext inserts a context or updates its discovered attributes,
// keyed by (language_family, root_path) so context ids stay stable across
// reindexes.
func UpsertContext(q Execer, c *Context) (int64, error) {
	_, err := q.Exec(
		`INSERT INTO contexts (language_family, root_path, tier, markers, include_spec, exclude_spec, probe_status)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(language_family, root_path) DO UPDATE SET
		   tier = excluded.tier,
		   markers = excluded.markers,
		   include_spec = excluded.include_spec,
		   exclude_spec = excluded.exclude_spec,
		   probe_status = excluded.probe_status`,
		c.LanguageFamily, c.RootPath, c.Tier,
		marshalList(c.Markers), marshalList(c.IncludeSpec), marshalList(c.ExcludeSpec),
		c.ProbeStatus,
	)
	if err != nil {
		return 0, fmt.Errorf("upsert context: %w", err)
	}
	var id int64
	err = q.QueryRow(
		"SELECT id FROM contexts WHERE language_family = ? AND root_path = ?",
		c.LanguageFamily, c.RootPath,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upsert context id: %w", err)
	}
	c.ID = id
	return id, nil
}

func scanContext(scanner interface{ Scan(...any) error }) (*Context, error) {
	c := &Context{}
	var markers, include, exclude string
	err := scanner.Scan(&c.ID, &c.LanguageFamily, &c.RootPath, &c.Tier, &markers, &include, &exclude, &c.ProbeStatus)
	if err != nil {
		return nil, err
	}
	c.Markers = unmarshalList(markers)
	c.IncludeSpec = unmarshalList(include)
	c.ExcludeSpec = unmarshalList(exclude)
	return c, nil
}

func (s *Store) ContextByID(id int64) (*Context, error) {
	row := s.db.QueryRow("SELECT "+contextCols+" FROM contexts WHERE id = ?", id)
	c, err := scanContext(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("context by id: %w", err)
	}
	return c, nil
}

func (s *Store) Contexts() ([]*Context, error) {
	rows, err := s.db.Query("SELECT " + contextCols + " FROM contexts ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list contexts: %w", err)
	}
	defer rows.Close()
	var out []*Context
	for rows.Next() {
		c, err := scanContext(rows)
		if err != nil {
			return nil, fmt.Errorf("scan context: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- File operations ---

const fileCols = `id, path, language, language_family, declared_module, context_id, content_hash, size_bytes, last_seen_epoch, missing`

// Execer is satisfied by both *sql.DB and *sql.Tx.
type Execer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

func InsertFile(q Execer, f *File) (int64, error) {
	res, err := q.Exec(
		`INSERT INTO files (path, language, language_family, declared_module, context_id, content_hash, size_bytes, last_seen_epoch, missing)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.Path, f.Language, f.LanguageFamily, f.DeclaredModule, f.ContextID,
		f.ContentHash, f.SizeBytes, f.LastSeenEpoch, f.Missing,
	)
	if err != nil {
		return 0, fmt.Errorf("insert file: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	f.ID = id
	return id, nil
}

func UpdateFile(q Execer, f *File) error {
	_, err := q.Exec(
		`UPDATE files SET language = ?, language_family = ?, declared_module = ?, context_id = ?,
		 content_hash = ?, size_bytes = ?, last_seen_epoch = ?, missing = ? WHERE id = ?`,
		f.Language, f.LanguageFamily, f.DeclaredModule, f.ContextID,
		f.ContentHash, f.SizeBytes, f.LastSeenEpoch, f.Missing, f.ID,
	)
	if err != nil {
		return fmt.Errorf("update file: %w", err)
	}
	return nil
}

func scanFile(scanner interface{ Scan(...any) error }) (*File, error) {
	f := &File{}
	err := scanner.Scan(&f.ID, &f.Path, &f.Language, &f.LanguageFamily, &f.DeclaredModule,
		&f.ContextID, &f.ContentHash, &f.SizeBytes, &f.LastSeenEpoch, &f.Missing)
	if err != nil {
		return nil, err
	}
	return f, nil
}

func FileByPath(q Execer, path string) (*File, error) {
	row := q.QueryRow("SELECT "+fileCols+" FROM files WHERE path = ?", path)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by path: %w", err)
	}
	return f, nil
}

func (s *Store) FileByPath(path string) (*File, error) { return FileByPath(s.db, path) }

func (s *Store) FileByID(id int64) (*File, error) {
	row := s.db.QueryRow("SELECT "+fileCols+" FROM files WHERE id = ?", id)
	f, err := scanFile(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("file by id: %w", err)
	}
	return f, nil
}

func (s *Store) queryFiles(query string, args ...any) ([]*File, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*File
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// Files lists present (not soft-removed) files, ordered by path.
func (s *Store) Files(limit int) ([]*File, error) {
	if limit <= 0 {
		limit = -1
	}
	return s.queryFiles("SELECT "+fileCols+" FROM files WHERE NOT missing ORDER BY path LIMIT ?", limit)
}

// AllPresentFiles returns every present file; used to build the resolver
// index.
func (s *Store) AllPresentFiles() ([]*File, error) {
	return s.queryFiles("SELECT " + fileCols + " FROM files WHERE NOT missing")
}

// DeleteFileFacts transactionally removes all extraction facts for a
// file, in reverse-dependency order. The file row itself is kept.
func DeleteFileFacts(q Execer, fileID int64) error {
	for _, stmt := range []string{
		"DELETE FROM local_bind_facts WHERE file_id = ?",
		"DELETE FROM ref_facts WHERE file_id = ?",
		"DELETE FROM import_facts WHERE file_id = ?",
		"DELETE FROM dynamic_access_facts WHERE file_id = ?",
		"DELETE FROM def_facts WHERE file_id = ?",
		"DELETE FROM scopes WHERE file_id = ?",
	} {
		if _, err := q.Exec(stmt, fileID); err != nil {
			return fmt.Errorf("delete file facts: %w", err)
		}
	}
	return nil
}

// DefUIDsForFile returns the def_uids currently stored for a file.
func DefUIDsForFile(q Execer, fileID int64) ([]string, error) {
	rows, err := q.Query("SELECT def_uid FROM def_facts WHERE file_id = ?", fileID)
	if err != nil {
		return nil, fmt.Errorf("def uids for file: %w", err)
	}
	defer rows.Close()
	var uids []string
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("scan def uid: %w", err)
		}
		uids = append(uids, uid)
	}
	return uids, rows.Err()
}

// --- Export surfaces ---

// ReplaceExportEntries rewrites a context's export surface.
func ReplaceExportEntries(q Execer, unitID int64, entries map[string]string) error {
	if _, err := q.Exec("INSERT OR IGNORE INTO export_surfaces (unit_id) VALUES (?)", unitID); err != nil {
		return fmt.Errorf("insert export surface: %w", err)
	}
	var surfaceID int64
	if err := q.QueryRow("SELECT id FROM export_surfaces WHERE unit_id = ?", unitID).Scan(&surfaceID); err != nil {
		return fmt.Errorf("export surface id: %w", err)
	}
	if _, err := q.Exec("DELETE FROM export_entries WHERE surface_id = ?", surfaceID); err != nil {
		return fmt.Errorf("clear export entries: %w", err)
	}
	for name, uid := range entries {
		if _, err := q.Exec(
			"INSERT INTO export_entries (surface_id, exported_name, def_uid) VALUES (?, ?, ?)",
			surfaceID, name, uid,
		); err != nil {
			return fmt.Errorf("insert export entry %q: %w", name, err)
		}
	}
	return nil
}

// --- Anchor groups ---

// BumpAnchorGroup accumulates an anchor group count for a context.
func BumpAnchorGroup(q Execer, unitID int64, memberToken string, receiverShape *string, delta int64) error {
	_, err := q.Exec(
		`INSERT INTO anchor_groups (unit_id, member_token, receiver_shape, total_count)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(unit_id, member_token, receiver_shape)
		 DO UPDATE SET total_count = total_count + excluded.total_count`,
		unitID, memberToken, receiverShape, delta,
	)
	if err != nil {
		return fmt.Errorf("bump anchor group: %w", err)
	}
	return nil
}

// ClearAnchorGroups removes anchor accumulations for a context before a
// full recount.
func ClearAnchorGroups(q Execer, unitID int64) error {
	if _, err := q.Exec("DELETE FROM anchor_groups WHERE unit_id = ?", unitID); err != nil {
		return fmt.Errorf("clear anchor groups: %w", err)
	}
	return nil
}

// Truncate removes all indexed data. Used by full reindex inside the
// epoch transaction.
func Truncate(q Execer) error {
	for _, stmt := range []string{
		"DELETE FROM local_bind_facts",
		"DELETE FROM ref_facts",
		"DELETE FROM import_facts",
		"DELETE FROM dynamic_access_facts",
		"DELETE FROM def_facts",
		"DELETE FROM scopes",
		"DELETE FROM export_entries",
		"DELETE FROM export_surfaces",
		"DELETE FROM anchor_groups",
		"DELETE FROM files",
	} {
		if _, err := q.Exec(stmt); err != nil {
			return fmt.Errorf("truncate: %w", err)
		}
	}
	return nil
}
