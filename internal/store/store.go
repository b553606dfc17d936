// Package store is the SQLite persistence layer for the fact graph:
// contexts, files, scopes, definitions, references, local bindings,
// imports, export surfaces, anchor groups, epochs, and definition
// snapshots.
package store

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

// Store is the SQLite data access layer.
type Store struct {
	db *sql.DB
}

// Open opens a SQLite database at dbPath with WAL mode enabled.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=30000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for transactions.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Migrate creates all tables and indexes. Idempotent.
func (s *Store) Migrate() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS metadata (
  key             TEXT PRIMARY KEY,
  value           TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS contexts (
  id              INTEGER PRIMARY KEY,
  language_family TEXT NOT NULL,
  root_path       TEXT NOT NULL,
  tier            INTEGER NOT NULL DEFAULT 0,
  markers         TEXT NOT NULL DEFAULT '',
  include_spec    TEXT NOT NULL DEFAULT '',
  exclude_spec    TEXT NOT NULL DEFAULT '',
  probe_status    TEXT NOT NULL DEFAULT 'pending',
  UNIQUE(language_family, root_path)
);

CREATE TABLE IF NOT EXISTS files (
  id              INTEGER PRIMARY KEY,
  path            TEXT NOT NULL UNIQUE,
  language        TEXT NOT NULL DEFAULT '',
  language_family TEXT NOT NULL DEFAULT '',
  declared_module TEXT NOT NULL DEFAULT '',
  context_id      INTEGER REFERENCES contexts(id),
  content_hash    TEXT NOT NULL DEFAULT '',
  size_bytes      INTEGER NOT NULL DEFAULT 0,
  last_seen_epoch INTEGER NOT NULL DEFAULT 0,
  missing         BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS scopes (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  unit_id         INTEGER NOT NULL,
  parent_scope_id INTEGER REFERENCES scopes(id),
  kind            TEXT NOT NULL,
  start_line      INTEGER NOT NULL DEFAULT 0,
  start_col       INTEGER NOT NULL DEFAULT 0,
  end_line        INTEGER NOT NULL DEFAULT 0,
  end_col         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS def_facts (
  id              INTEGER PRIMARY KEY,
  def_uid         TEXT NOT NULL UNIQUE,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  unit_id         INTEGER NOT NULL,
  kind            TEXT NOT NULL,
  name            TEXT NOT NULL,
  lexical_path    TEXT NOT NULL,
  signature_hash  TEXT NOT NULL DEFAULT '',
  body_hash       TEXT NOT NULL DEFAULT '',
  start_line      INTEGER NOT NULL DEFAULT 0,
  start_col       INTEGER NOT NULL DEFAULT 0,
  end_line        INTEGER NOT NULL DEFAULT 0,
  end_col         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS ref_facts (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  unit_id         INTEGER NOT NULL,
  token_text      TEXT NOT NULL,
  role            TEXT NOT NULL DEFAULT 'reference',
  ref_tier        TEXT NOT NULL DEFAULT 'unknown',
  certainty       TEXT NOT NULL DEFAULT 'uncertain',
  target_def_uid  TEXT,
  start_line      INTEGER NOT NULL DEFAULT 0,
  start_col       INTEGER NOT NULL DEFAULT 0,
  end_line        INTEGER NOT NULL DEFAULT 0,
  end_col         INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS local_bind_facts (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  scope_id        INTEGER NOT NULL REFERENCES scopes(id),
  name            TEXT NOT NULL,
  target_kind     TEXT NOT NULL,
  target_uid      TEXT,
  certainty       TEXT NOT NULL DEFAULT 'certain',
  reason_code     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS import_facts (
  id              INTEGER PRIMARY KEY,
  import_uid      TEXT NOT NULL UNIQUE,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  imported_name   TEXT NOT NULL,
  alias           TEXT,
  source_literal  TEXT NOT NULL,
  import_kind     TEXT NOT NULL,
  resolved_path   TEXT,
  certainty       TEXT NOT NULL DEFAULT 'certain',
  start_line      INTEGER NOT NULL DEFAULT 0,
  end_line        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS export_surfaces (
  id              INTEGER PRIMARY KEY,
  unit_id         INTEGER NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS export_entries (
  id              INTEGER PRIMARY KEY,
  surface_id      INTEGER NOT NULL REFERENCES export_surfaces(id),
  exported_name   TEXT NOT NULL,
  def_uid         TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS anchor_groups (
  id              INTEGER PRIMARY KEY,
  unit_id         INTEGER NOT NULL,
  member_token    TEXT NOT NULL,
  receiver_shape  TEXT,
  total_count     INTEGER NOT NULL DEFAULT 0,
  UNIQUE(unit_id, member_token, receiver_shape)
);

CREATE TABLE IF NOT EXISTS dynamic_access_facts (
  id              INTEGER PRIMARY KEY,
  file_id         INTEGER NOT NULL REFERENCES files(id),
  kind            TEXT NOT NULL,
  token_text      TEXT NOT NULL DEFAULT '',
  start_line      INTEGER NOT NULL DEFAULT 0,
  start_col       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS epochs (
  id              INTEGER PRIMARY KEY,
  created_at      TIMESTAMP NOT NULL,
  head_sha        TEXT NOT NULL DEFAULT '',
  files_added     INTEGER NOT NULL DEFAULT 0,
  files_modified  INTEGER NOT NULL DEFAULT 0,
  files_removed   INTEGER NOT NULL DEFAULT 0,
  errors          TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS def_snapshot_records (
  id              INTEGER PRIMARY KEY,
  def_uid         TEXT NOT NULL,
  epoch_id        INTEGER NOT NULL REFERENCES epochs(id),
  file_path       TEXT NOT NULL,
  signature_hash  TEXT NOT NULL DEFAULT '',
  body_hash       TEXT NOT NULL DEFAULT '',
  start_line      INTEGER NOT NULL DEFAULT 0,
  start_col       INTEGER NOT NULL DEFAULT 0,
  end_line        INTEGER NOT NULL DEFAULT 0,
  end_col         INTEGER NOT NULL DEFAULT 0,
  tombstone       BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS idx_files_last_seen ON files(last_seen_epoch);
CREATE INDEX IF NOT EXISTS idx_scopes_file ON scopes(file_id);
CREATE INDEX IF NOT EXISTS idx_defs_unit_name ON def_facts(unit_id, name);
CREATE INDEX IF NOT EXISTS idx_defs_file ON def_facts(file_id);
CREATE INDEX IF NOT EXISTS idx_refs_target ON ref_facts(target_def_uid);
CREATE INDEX IF NOT EXISTS idx_refs_unit_token ON ref_facts(unit_id, token_text);
CREATE INDEX IF NOT EXISTS idx_refs_file ON ref_facts(file_id);
CREATE INDEX IF NOT EXISTS idx_binds_scope_name ON local_bind_facts(scope_id, name);
CREATE INDEX IF NOT EXISTS idx_binds_file ON local_bind_facts(file_id);
CREATE INDEX IF NOT EXISTS idx_imports_file ON import_facts(file_id);
CREATE INDEX IF NOT EXISTS idx_imports_resolved ON import_facts(resolved_path);
CREATE INDEX IF NOT EXISTS idx_export_entries_surface ON export_entries(surface_id, exported_name);
CREATE INDEX IF NOT EXISTS idx_dynamic_file ON dynamic_access_facts(file_id);
CREATE INDEX IF NOT EXISTS idx_snapshots_epoch_path ON def_snapshot_records(epoch_id, file_path);
CREATE INDEX IF NOT EXISTS idx_snapshots_uid_epoch ON def_snapshot_records(def_uid, epoch_id DESC);
`

// GetMetadata returns the value for key, or "" when absent.
func (s *Store) GetMetadata(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM metadata WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get metadata: %w", err)
	}
	return value, nil
}

// SetMetadata upserts a metadata key.
func (s *Store) SetMetadata(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO metadata (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set metadata: %w", err)
	}
	return nil
}

// marshalList joins a string list for storage; unmarshalList reverses it.
// Markers and glob specs never contain newlines.
func marshalList(items []string) string {
	return strings.Join(items, "\n")
}

func unmarshalList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, "\n")
}
