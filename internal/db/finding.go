package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sloppy/orangesage/internal/finding"
)

const findingColumns = `id, scan_id, title, description, severity, status, vulnerability_type, endpoint, parameter,
	method, request_sample, response_sample, poc_artifact_key, remediation, refs, created_by_agent, created_at`

func scanFinding(row rowScanner) (finding.Finding, error) {
	var f finding.Finding
	var refs string
	if err := row.Scan(&f.ID, &f.ScanID, &f.Title, &f.Description, &f.Severity, &f.Status, &f.VulnerabilityType,
		&f.Endpoint, &f.Parameter, &f.Method, &f.RequestSample, &f.ResponseSample, &f.POCArtifactKey,
		&f.Remediation, &refs, &f.CreatedByAgent, &f.CreatedAt); err != nil {
		return finding.Finding{}, err
	}
	if refs != "" && refs != "{}" {
		if err := json.Unmarshal([]byte(refs), &f.References); err != nil {
			return finding.Finding{}, fmt.Errorf("decode finding references: %w", err)
		}
	}
	return f, nil
}

// InsertFinding appends a single finding outside any scan-state check.
func (db *DB) InsertFinding(f finding.Finding) (finding.Finding, error) {
	return insertFinding(db, f)
}

// GetFinding returns a finding by ID.
func (db *DB) GetFinding(id int64) (finding.Finding, bool, error) {
	f, err := scanFinding(db.QueryRow(`SELECT `+findingColumns+` FROM finding WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return finding.Finding{}, false, nil
		}
		return finding.Finding{}, false, fmt.Errorf("get finding: %w", err)
	}
	return f, true, nil
}

// FindingFilter narrows ListFindings. Zero values match everything.
type FindingFilter struct {
	ScanID   int64
	Severity finding.Severity
	Status   finding.Status
}

// ListFindings returns findings most recently created first.
func (db *DB) ListFindings(filter FindingFilter) ([]finding.Finding, error) {
	var where []string
	var args []any
	if filter.ScanID != 0 {
		where = append(where, "scan_id = ?")
		args = append(args, filter.ScanID)
	}
	if filter.Severity != "" {
		where = append(where, "severity = ?")
		args = append(args, filter.Severity)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	query := `SELECT ` + findingColumns + ` FROM finding`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC"

	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list findings: %w", err)
	}
	defer rows.Close()

	var findings []finding.Finding
	for rows.Next() {
		f, err := scanFinding(rows)
		if err != nil {
			return nil, fmt.Errorf("scan finding: %w", err)
		}
		findings = append(findings, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return findings, nil
}

// UpdateFindingStatus sets the triage status of a finding.
func (db *DB) UpdateFindingStatus(id int64, status finding.Status) error {
	res, err := db.Exec(`UPDATE finding SET status = ? WHERE id = ?`, status, id)
	if err != nil {
		return fmt.Errorf("update finding status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountFindingsBySeverity returns a zero-filled per-severity count for a scan.
func (db *DB) CountFindingsBySeverity(scanID int64) (finding.Counts, error) {
	counts := finding.Count(nil)
	rows, err := db.Query(`SELECT severity, COUNT(*) FROM finding WHERE scan_id = ? GROUP BY severity`, scanID)
	if err != nil {
		return nil, fmt.Errorf("count findings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sev finding.Severity
		var n int
		if err := rows.Scan(&sev, &n); err != nil {
			return nil, fmt.Errorf("scan finding count: %w", err)
		}
		counts[sev] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count findings rows: %w", err)
	}
	return counts, nil
}
