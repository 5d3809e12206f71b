package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/novik133/novasearch/internal/models"
)

const upsertFileSQL = `
INSERT INTO files (filename, path, size, modified_time, file_type, indexed_time)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(path) DO UPDATE SET
	filename      = excluded.filename,
	size          = excluded.size,
	modified_time = excluded.modified_time,
	file_type     = excluded.file_type,
	indexed_time  = excluded.indexed_time`

// ApplyBatch commits ops atomically. Busy/locked commits are retried
// with backoff; the caller owns the drop-and-rederive policy for other
// failures.
//
// Within the transaction a delete at a path always lands before an
// upsert at the same path, and renames either update the row in place
// (keeping its id, and with it the usage stats) or, when the destination
// is already indexed, fold the old row into the surviving one.
func (s *Store) ApplyBatch(ops []models.Op) error {
	if len(ops) == 0 {
		return nil
	}
	return withRetry(func() error { return s.applyBatchOnce(ops) })
}

func (s *Store) applyBatchOnce(ops []models.Op) error {
	tx, err := s.conn.Begin()
	if err != nil {
		return fmt.Errorf("store: begin batch: %w", classify(err))
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	upsert, err := tx.Prepare(upsertFileSQL)
	if err != nil {
		return fmt.Errorf("store: prepare upsert: %w", classify(err))
	}
	defer upsert.Close()

	// Deletes run first so they never remove a row upserted in this batch.
	for _, op := range ops {
		if op.Kind != models.OpDelete {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM files WHERE path = ?`, op.Path); err != nil {
			return fmt.Errorf("store: delete %s: %w", op.Path, classify(err))
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case models.OpUpsert:
			if err := execUpsert(tx, upsert, op); err != nil {
				return err
			}

		case models.OpRename:
			if err := applyRename(tx, upsert, op); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit batch: %w", classify(err))
	}
	return nil
}

func execUpsert(tx *sql.Tx, upsert *sql.Stmt, op models.Op) error {
	rec := op.Record
	if _, err := upsert.Exec(rec.Filename, rec.Path, rec.Size,
		rec.ModifiedTime, string(rec.FileType), rec.IndexedTime); err != nil {
		return fmt.Errorf("store: upsert %s: %w", rec.Path, classify(err))
	}
	if op.Desktop != nil {
		if err := upsertDesktop(tx, rec.Path, op.Desktop); err != nil {
			return err
		}
	}
	return nil
}

// applyRename moves a row from op.OldPath to op.Record.Path. The common
// case is an in-place UPDATE so usage stats stay attached to the row's
// id. If the destination is already indexed the old row is removed and
// its launch counts are folded into the destination's.
func applyRename(tx *sql.Tx, upsert *sql.Stmt, op models.Op) error {
	var oldID, newID int64
	errOld := tx.QueryRow(`SELECT id FROM files WHERE path = ?`, op.OldPath).Scan(&oldID)
	errNew := tx.QueryRow(`SELECT id FROM files WHERE path = ?`, op.Record.Path).Scan(&newID)

	switch {
	case errors.Is(errOld, sql.ErrNoRows):
		// Old path never made it into the index; plain upsert.
		return execUpsert(tx, upsert, op)

	case errOld != nil:
		return fmt.Errorf("store: rename lookup %s: %w", op.OldPath, classify(errOld))

	case errors.Is(errNew, sql.ErrNoRows):
		rec := op.Record
		if _, err := tx.Exec(`
			UPDATE files SET path = ?, filename = ?, size = ?,
				modified_time = ?, file_type = ?, indexed_time = ?
			WHERE id = ?`,
			rec.Path, rec.Filename, rec.Size, rec.ModifiedTime,
			string(rec.FileType), rec.IndexedTime, oldID); err != nil {
			return fmt.Errorf("store: rename %s -> %s: %w", op.OldPath, rec.Path, classify(err))
		}
		if op.Desktop != nil {
			return upsertDesktop(tx, rec.Path, op.Desktop)
		}
		return nil

	case errNew != nil:
		return fmt.Errorf("store: rename lookup %s: %w", op.Record.Path, classify(errNew))

	default:
		// Destination exists: fold the old row's usage into it, then
		// drop the old row and refresh the destination.
		if _, err := tx.Exec(`
			INSERT INTO usage_stats (file_id, launch_count, last_launched)
			SELECT ?, launch_count, last_launched FROM usage_stats WHERE file_id = ?
			ON CONFLICT(file_id) DO UPDATE SET
				launch_count  = usage_stats.launch_count + excluded.launch_count,
				last_launched = MAX(COALESCE(usage_stats.last_launched, 0),
					COALESCE(excluded.last_launched, 0))`, newID, oldID); err != nil {
			return fmt.Errorf("store: rename merge usage: %w", classify(err))
		}
		if _, err := tx.Exec(`DELETE FROM files WHERE id = ?`, oldID); err != nil {
			return fmt.Errorf("store: rename delete %s: %w", op.OldPath, classify(err))
		}
		return execUpsert(tx, upsert, op)
	}
}

func upsertDesktop(tx *sql.Tx, path string, de *models.DesktopEntry) error {
	noDisplay := 0
	if de.NoDisplay {
		noDisplay = 1
	}
	_, err := tx.Exec(`
		INSERT INTO desktop_entries (file_id, name, generic_name, comment, exec, icon, no_display)
		SELECT id, ?, ?, ?, ?, ?, ? FROM files WHERE path = ?
		ON CONFLICT(file_id) DO UPDATE SET
			name         = excluded.name,
			generic_name = excluded.generic_name,
			comment      = excluded.comment,
			exec         = excluded.exec,
			icon         = excluded.icon,
			no_display   = excluded.no_display`,
		de.Name, de.GenericName, de.Comment, de.Exec, de.Icon, noDisplay, path)
	if err != nil {
		return fmt.Errorf("store: upsert desktop entry %s: %w", path, classify(err))
	}
	return nil
}
