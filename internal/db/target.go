package db

import (
	"database/sql"
	"fmt"
)

// Target types accepted by the store.
var TargetTypes = []string{"url", "domain", "ip", "repository"}

// ValidTargetType reports whether t is one of TargetTypes.
func ValidTargetType(t string) bool {
	for _, known := range TargetTypes {
		if t == known {
			return true
		}
	}
	return false
}

const targetColumns = `id, project_id, name, type, value, created_at`

func scanTarget(row rowScanner) (Target, error) {
	var t Target
	err := row.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Type, &t.Value, &t.CreatedAt)
	return t, err
}

// CreateTarget inserts a target under a project.
func (db *DB) CreateTarget(t Target) (Target, error) {
	out, err := scanTarget(db.QueryRow(
		`INSERT INTO target (project_id, name, type, value) VALUES (?, ?, ?, ?) RETURNING `+targetColumns,
		t.ProjectID, t.Name, t.Type, t.Value,
	))
	if err != nil {
		return Target{}, fmt.Errorf("insert target: %w", err)
	}
	return out, nil
}

// GetTarget returns a target by ID.
func (db *DB) GetTarget(id int64) (Target, bool, error) {
	t, err := scanTarget(db.QueryRow(`SELECT `+targetColumns+` FROM target WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return Target{}, false, nil
		}
		return Target{}, false, fmt.Errorf("get target: %w", err)
	}
	return t, true, nil
}

// ListTargets returns a project's targets in creation order.
func (db *DB) ListTargets(projectID int64) ([]Target, error) {
	rows, err := db.Query(`SELECT `+targetColumns+` FROM target WHERE project_id = ? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	var targets []Target
	for rows.Next() {
		t, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return targets, nil
}

// DeleteTarget removes a target by ID.
func (db *DB) DeleteTarget(id int64) error {
	res, err := db.Exec(`DELETE FROM target WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}
