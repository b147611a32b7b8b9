package db

import (
	"database/sql"
	"fmt"
	"time"
)

const reportColumns = `id, scan_id, format, status, filename, size_bytes, error_message, created_at, generated_at`

func scanReport(row rowScanner) (Report, error) {
	var r Report
	var generated sql.NullTime
	if err := row.Scan(&r.ID, &r.ScanID, &r.Format, &r.Status, &r.Filename, &r.SizeBytes, &r.ErrorMessage,
		&r.CreatedAt, &generated); err != nil {
		return Report{}, err
	}
	r.GeneratedAt = timePtr(generated)
	return r, nil
}

// CreateReport inserts a report record in the generating state.
func (db *DB) CreateReport(scanID int64, format, filename string) (Report, error) {
	r, err := scanReport(db.QueryRow(
		`INSERT INTO report (scan_id, format, status, filename) VALUES (?, ?, ?, ?) RETURNING `+reportColumns,
		scanID, format, ReportGenerating, filename,
	))
	if err != nil {
		return Report{}, fmt.Errorf("insert report: %w", err)
	}
	return r, nil
}

// FinishReport marks a report completed with its rendered size.
func (db *DB) FinishReport(id, size int64, at time.Time) error {
	_, err := db.Exec(
		`UPDATE report SET status = ?, size_bytes = ?, generated_at = ? WHERE id = ?`,
		ReportCompleted, size, at, id,
	)
	if err != nil {
		return fmt.Errorf("finish report: %w", err)
	}
	return nil
}

// FailReport records a rendering error.
func (db *DB) FailReport(id int64, message string) error {
	if _, err := db.Exec(`UPDATE report SET status = ?, error_message = ? WHERE id = ?`, ReportFailed, message, id); err != nil {
		return fmt.Errorf("fail report: %w", err)
	}
	return nil
}

// ListReports returns a scan's reports newest first.
func (db *DB) ListReports(scanID int64) ([]Report, error) {
	rows, err := db.Query(`SELECT `+reportColumns+` FROM report WHERE scan_id = ? ORDER BY id DESC`, scanID)
	if err != nil {
		return nil, fmt.Errorf("list reports: %w", err)
	}
	defer rows.Close()

	var reports []Report
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, fmt.Errorf("scan report: %w", err)
		}
		reports = append(reports, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return reports, nil
}
