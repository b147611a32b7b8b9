package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sloppy/orangesage/internal/finding"
)

// ErrScanNotRunning is returned when findings arrive for a scan that has
// already reached a terminal state (or never started).
var ErrScanNotRunning = errors.New("scan is not running")

type rowScanner interface {
	Scan(dest ...any) error
}

// Tx wraps sql.Tx to reuse DB helpers within a transaction.
type Tx struct {
	*sql.Tx
}

// Begin starts a transaction on the DB.
func (db *DB) Begin() (*Tx, error) {
	tx, err := db.DB.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{Tx: tx}, nil
}

// ScanStatus reads a scan's status within a transaction.
func (tx *Tx) ScanStatus(scanID int64) (ScanStatus, bool, error) {
	var status ScanStatus
	err := tx.QueryRow(`SELECT status FROM scan WHERE id = ?`, scanID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("get scan status: %w", err)
	}
	return status, true, nil
}

// InsertFinding appends one finding within a transaction.
func (tx *Tx) InsertFinding(f finding.Finding) (finding.Finding, error) {
	return insertFinding(tx.Tx, f)
}

// AppendFindings writes a batch of findings for a running scan in a single
// transaction. Nothing is written when the scan is not running.
func (db *DB) AppendFindings(scanID int64, findings []finding.Finding) ([]finding.Finding, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	status, found, err := tx.ScanStatus(scanID)
	if err != nil {
		return nil, err
	}
	if !found || status != ScanRunning {
		return nil, ErrScanNotRunning
	}

	out := make([]finding.Finding, 0, len(findings))
	for _, f := range findings {
		f.ScanID = scanID
		inserted, err := tx.InsertFinding(f)
		if err != nil {
			return nil, err
		}
		out = append(out, inserted)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit findings: %w", err)
	}
	return out, nil
}

type queryRower interface {
	QueryRow(query string, args ...any) *sql.Row
}

func insertFinding(q queryRower, f finding.Finding) (finding.Finding, error) {
	if f.Status == "" {
		f.Status = finding.StatusOpen
	}
	refs := []byte("{}")
	if len(f.References) > 0 {
		var err error
		if refs, err = json.Marshal(f.References); err != nil {
			return finding.Finding{}, fmt.Errorf("encode finding references: %w", err)
		}
	}
	out, err := scanFinding(q.QueryRow(
		`INSERT INTO finding (scan_id, title, description, severity, status, vulnerability_type, endpoint,
		   parameter, method, request_sample, response_sample, poc_artifact_key, remediation, refs, created_by_agent)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 RETURNING `+findingColumns,
		f.ScanID, f.Title, f.Description, f.Severity, f.Status, f.VulnerabilityType, f.Endpoint,
		f.Parameter, f.Method, f.RequestSample, f.ResponseSample, f.POCArtifactKey, f.Remediation,
		string(refs), f.CreatedByAgent,
	))
	if err != nil {
		return finding.Finding{}, fmt.Errorf("insert finding: %w", err)
	}
	return out, nil
}
