package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const scanColumns = `id, project_id, target_id, created_by, status, config, summary, error_message, created_at, started_at, finished_at`

func scanScan(row rowScanner) (Scan, error) {
	var s Scan
	var config string
	var summary sql.NullString
	var started, finished sql.NullTime
	if err := row.Scan(&s.ID, &s.ProjectID, &s.TargetID, &s.CreatedBy, &s.Status, &config, &summary,
		&s.ErrorMessage, &s.CreatedAt, &started, &finished); err != nil {
		return Scan{}, err
	}
	s.Config = json.RawMessage(config)
	if summary.Valid {
		s.Summary = json.RawMessage(summary.String)
	}
	s.StartedAt = timePtr(started)
	s.FinishedAt = timePtr(finished)
	return s, nil
}

// CreateScan inserts a pending scan.
func (db *DB) CreateScan(s Scan) (Scan, error) {
	config := string(s.Config)
	if strings.TrimSpace(config) == "" {
		config = "{}"
	}
	out, err := scanScan(db.QueryRow(
		`INSERT INTO scan (project_id, target_id, created_by, status, config)
		 VALUES (?, ?, ?, ?, ?)
		 RETURNING `+scanColumns,
		s.ProjectID, s.TargetID, s.CreatedBy, ScanPending, config,
	))
	if err != nil {
		return Scan{}, fmt.Errorf("insert scan: %w", err)
	}
	return out, nil
}

// GetScan returns a scan by ID.
func (db *DB) GetScan(id int64) (Scan, bool, error) {
	s, err := scanScan(db.QueryRow(`SELECT `+scanColumns+` FROM scan WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Scan{}, false, nil
		}
		return Scan{}, false, fmt.Errorf("get scan: %w", err)
	}
	return s, true, nil
}

// ScanFilter narrows ListScans. Zero values match everything.
type ScanFilter struct {
	ProjectID int64
	Status    ScanStatus
}

// ListScans returns scans newest first.
func (db *DB) ListScans(filter ScanFilter) ([]Scan, error) {
	var where []string
	var args []any
	if filter.ProjectID != 0 {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + scanColumns + ` FROM scan`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list scans: %w", err)
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scan row: %w", err)
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return scans, nil
}

// MarkScanRunning moves a pending scan to running. It reports false when
// the scan was not pending.
func (db *DB) MarkScanRunning(id int64, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE scan SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		"start scan", ScanRunning, at, id, ScanPending,
	)
}

// CompleteScan stores the summary and moves a running scan to completed.
func (db *DB) CompleteScan(id int64, summary []byte, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE scan SET status = ?, summary = ?, finished_at = ? WHERE id = ? AND status = ?`,
		"complete scan", ScanCompleted, string(summary), at, id, ScanRunning,
	)
}

// FailScan records an orchestration failure on a non-terminal scan.
func (db *DB) FailScan(id int64, message string, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE scan SET status = ?, error_message = ?, finished_at = ?,
		   started_at = COALESCE(started_at, ?)
		 WHERE id = ? AND status IN (?, ?)`,
		"fail scan", ScanFailed, message, at, at, id, ScanPending, ScanRunning,
	)
}

// CancelScan moves a running scan to cancelled.
func (db *DB) CancelScan(id int64, at time.Time) (bool, error) {
	return db.transition(
		`UPDATE scan SET status = ?, finished_at = ? WHERE id = ? AND status = ?`,
		"cancel scan", ScanCancelled, at, id, ScanRunning,
	)
}

func (db *DB) transition(query, op string, args ...any) (bool, error) {
	res, err := db.Exec(query, args...)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s rows: %w", op, err)
	}
	return n == 1, nil
}

// DeleteScan removes a scan and its agents, findings and reports.
func (db *DB) DeleteScan(id int64) error {
	res, err := db.Exec(`DELETE FROM scan WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete scan: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
