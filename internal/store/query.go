package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/novik133/novasearch/internal/models"
)

const defaultQueryLimit = 50

// rankedQuerySQL is the documented ranking contract: substring match on
// filename, tier (exact, prefix, other) first, launch count second,
// filename third. All filename comparisons are case-insensitive.
const rankedQuerySQL = `
SELECT f.id, f.filename, f.path, f.size, f.modified_time, f.file_type, f.indexed_time,
       COALESCE(u.launch_count, 0)
FROM files f
LEFT JOIN usage_stats u ON f.id = u.file_id
WHERE f.filename LIKE '%' || ? || '%' COLLATE NOCASE
ORDER BY
	CASE
		WHEN f.filename = ? COLLATE NOCASE THEN 0
		WHEN f.filename LIKE ? || '%' COLLATE NOCASE THEN 1
		ELSE 2
	END,
	COALESCE(u.launch_count, 0) DESC,
	f.filename COLLATE NOCASE ASC
LIMIT ?`

// Query returns up to limit rows whose filename contains q, ranked per
// the on-disk contract. An empty q returns no rows; limit <= 0 falls
// back to 50.
func (r *ReadStore) Query(q string, limit int) ([]models.FileRecord, error) {
	return queryFiles(r.conn, q, limit)
}

// Query is the writer-side twin of ReadStore.Query, used by tests.
func (s *Store) Query(q string, limit int) ([]models.FileRecord, error) {
	return queryFiles(s.conn, q, limit)
}

func queryFiles(conn *sql.DB, q string, limit int) ([]models.FileRecord, error) {
	if strings.TrimSpace(q) == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	rows, err := conn.Query(rankedQuerySQL, q, q, q, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query %q: %w", q, classify(err))
	}
	defer rows.Close()

	var out []models.FileRecord
	for rows.Next() {
		var rec models.FileRecord
		var ft string
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Path, &rec.Size,
			&rec.ModifiedTime, &ft, &rec.IndexedTime, &rec.LaunchCount); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		rec.FileType = models.FileTypeFromString(ft)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordLaunch increments the launch counter for the file at path and
// stamps last_launched. Unindexed paths are a no-op: the UI may race a
// delete and that is not an error.
func (s *Store) RecordLaunch(path string) error {
	now := time.Now().Unix()
	return withRetry(func() error {
		var fileID int64
		err := s.conn.QueryRow(`SELECT id FROM files WHERE path = ?`, path).Scan(&fileID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("store: record launch %s: %w", path, classify(err))
		}
		_, err = s.conn.Exec(`
			INSERT INTO usage_stats (file_id, launch_count, last_launched)
			VALUES (?, 1, ?)
			ON CONFLICT(file_id) DO UPDATE SET
				launch_count  = launch_count + 1,
				last_launched = excluded.last_launched`, fileID, now)
		if err != nil {
			return fmt.Errorf("store: record launch %s: %w", path, classify(err))
		}
		return nil
	})
}

// FileUsage returns the launch count and last-launched time for path.
// Files never launched report (0, 0, nil).
func (s *Store) FileUsage(path string) (count int64, lastLaunched int64, err error) {
	err = s.conn.QueryRow(`
		SELECT u.launch_count, COALESCE(u.last_launched, 0)
		FROM files f JOIN usage_stats u ON f.id = u.file_id
		WHERE f.path = ?`, path).Scan(&count, &lastLaunched)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, 0, nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("store: file usage %s: %w", path, classify(err))
	}
	return count, lastLaunched, nil
}

// MostUsed returns the most frequently launched files, most recent
// launch breaking ties.
func (r *ReadStore) MostUsed(limit int) ([]models.FileRecord, error) {
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	rows, err := r.conn.Query(`
		SELECT f.id, f.filename, f.path, f.size, f.modified_time, f.file_type, f.indexed_time,
		       u.launch_count
		FROM files f JOIN usage_stats u ON f.id = u.file_id
		ORDER BY u.launch_count DESC, u.last_launched DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: most used: %w", classify(err))
	}
	defer rows.Close()

	var out []models.FileRecord
	for rows.Next() {
		var rec models.FileRecord
		var ft string
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.Path, &rec.Size,
			&rec.ModifiedTime, &ft, &rec.IndexedTime, &rec.LaunchCount); err != nil {
			return nil, fmt.Errorf("store: scan result: %w", err)
		}
		rec.FileType = models.FileTypeFromString(ft)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AllPaths returns every indexed path. Used for re-classification after
// a pattern change; subtree deletes use PathsUnder.
func (s *Store) AllPaths() ([]string, error) {
	rows, err := s.conn.Query(`SELECT path FROM files`)
	if err != nil {
		return nil, fmt.Errorf("store: all paths: %w", classify(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// PathsUnder returns indexed paths lying strictly under dir.
func (s *Store) PathsUnder(dir string) ([]string, error) {
	rows, err := s.conn.Query(
		`SELECT path FROM files WHERE path LIKE ? ESCAPE '\'`, likePrefix(dir)+"%")
	if err != nil {
		return nil, fmt.Errorf("store: paths under %s: %w", dir, classify(err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// VacuumStale deletes every row whose path is not under any of the
// surviving roots. Invoked on config change after roots are removed.
func (s *Store) VacuumStale(roots []string) (int64, error) {
	if len(roots) == 0 {
		return 0, nil
	}
	var sb strings.Builder
	args := make([]any, 0, len(roots)*2)
	sb.WriteString(`DELETE FROM files WHERE 1=1`)
	for _, r := range roots {
		sb.WriteString(` AND path != ? AND path NOT LIKE ? ESCAPE '\'`)
		args = append(args, r, likePrefix(r)+"%")
	}

	var deleted int64
	err := withRetry(func() error {
		res, err := s.conn.Exec(sb.String(), args...)
		if err != nil {
			return fmt.Errorf("store: vacuum stale: %w", classify(err))
		}
		deleted, _ = res.RowsAffected()
		return nil
	})
	return deleted, err
}

// DeletePaths removes the given rows in one transaction.
func (s *Store) DeletePaths(paths []string) error {
	if len(paths) == 0 {
		return nil
	}
	return withRetry(func() error {
		tx, err := s.conn.Begin()
		if err != nil {
			return fmt.Errorf("store: begin delete: %w", classify(err))
		}
		defer tx.Rollback() //nolint:errcheck
		stmt, err := tx.Prepare(`DELETE FROM files WHERE path = ?`)
		if err != nil {
			return fmt.Errorf("store: prepare delete: %w", classify(err))
		}
		defer stmt.Close()
		for _, p := range paths {
			if _, err := stmt.Exec(p); err != nil {
				return fmt.Errorf("store: delete %s: %w", p, classify(err))
			}
		}
		return tx.Commit()
	})
}

// likePrefix escapes LIKE metacharacters in dir and appends the path
// separator so /a/b does not match /a/bc.
func likePrefix(dir string) string {
	esc := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(dir)
	return esc + "/"
}
