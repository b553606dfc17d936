package store

import (
	"database/sql"
	"fmt"
	"time"
)

// InsertEpoch creates the epoch row inside the publish transaction.
func InsertEpoch(q Execer, e *Epoch) (int64, error) {
	res, err := q.Exec(
		`INSERT INTO epochs (created_at, head_sha, files_added, files_modified, files_removed, errors)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.CreatedAt, e.HeadSHA, e.FilesAdded, e.FilesModified, e.FilesRemoved, marshalList(e.Errors),
	)
	if err != nil {
		return 0, fmt.Errorf("insert epoch: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("epoch id: %w", err)
	}
	e.ID = id
	return id, nil
}

func scanEpoch(scanner interface{ Scan(...any) error }) (*Epoch, error) {
	e := &Epoch{}
	var created time.Time
	var errs string
	err := scanner.Scan(&e.ID, &created, &e.HeadSHA, &e.FilesAdded, &e.FilesModified, &e.FilesRemoved, &errs)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = created
	e.Errors = unmarshalList(errs)
	return e, nil
}

const epochCols = `id, created_at, head_sha, files_added, files_modified, files_removed, errors`

// CurrentEpoch returns the most recently published epoch, or nil before
// the first index run.
func (s *Store) CurrentEpoch() (*Epoch, error) {
	row := s.db.QueryRow("SELECT " + epochCols + " FROM epochs ORDER BY id DESC LIMIT 1")
	e, err := scanEpoch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("current epoch: %w", err)
	}
	return e, nil
}

func (s *Store) EpochByID(id int64) (*Epoch, error) {
	row := s.db.QueryRow("SELECT "+epochCols+" FROM epochs WHERE id = ?", id)
	e, err := scanEpoch(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("epoch by id: %w", err)
	}
	return e, nil
}

// InsertSnapshot records a definition's state (or tombstone) at an epoch.
func InsertSnapshot(q Execer, rec *DefSnapshotRecord) error {
	_, err := q.Exec(
		`INSERT INTO def_snapshot_records (def_uid, epoch_id, file_path, signature_hash, body_hash,
			start_line, start_col, end_line, end_col, tombstone)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.DefUID, rec.EpochID, rec.FilePath, rec.SignatureHash, rec.BodyHash,
		rec.StartLine, rec.StartCol, rec.EndLine, rec.EndCol, rec.Tombstone,
	)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

const snapshotCols = `id, def_uid, epoch_id, file_path, signature_hash, body_hash, start_line, start_col, end_line, end_col, tombstone`

func scanSnapshot(scanner interface{ Scan(...any) error }) (*DefSnapshotRecord, error) {
	r := &DefSnapshotRecord{}
	err := scanner.Scan(&r.ID, &r.DefUID, &r.EpochID, &r.FilePath, &r.SignatureHash, &r.BodyHash,
		&r.StartLine, &r.StartCol, &r.EndLine, &r.EndCol, &r.Tombstone)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// SnapshotsForDef returns all snapshot records for a def_uid, newest
// epoch first.
func (s *Store) SnapshotsForDef(defUID string) ([]*DefSnapshotRecord, error) {
	rows, err := s.db.Query(
		"SELECT "+snapshotCols+" FROM def_snapshot_records WHERE def_uid = ? ORDER BY epoch_id DESC", defUID,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshots for def: %w", err)
	}
	defer rows.Close()
	var out []*DefSnapshotRecord
	for rows.Next() {
		r, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SnapshotAt reconstructs a definition's state at epoch: the latest
// record with epoch_id <= epoch, nil if none or if that record is a
// tombstone.
func (s *Store) SnapshotAt(defUID string, epoch int64) (*DefSnapshotRecord, error) {
	row := s.db.QueryRow(
		`SELECT `+snapshotCols+` FROM def_snapshot_records
		 WHERE def_uid = ? AND epoch_id <= ?
		 ORDER BY epoch_id DESC LIMIT 1`,
		defUID, epoch,
	)
	r, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot at: %w", err)
	}
	if r.Tombstone {
		return nil, nil
	}
	return r, nil
}
