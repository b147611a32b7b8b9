package db

import (
	"fmt"

	"github.com/sloppy/orangesage/internal/finding"
)

// ScanStatusCounts holds the number of scans per lifecycle state.
type ScanStatusCounts struct {
	Pending   int
	Running   int
	Completed int
	Failed    int
	Cancelled int
}

// DashboardStats summarizes project-level counts for the dashboard.
type DashboardStats struct {
	Targets  int
	Scans    int
	Status   ScanStatusCounts
	Findings finding.Counts
}

// GetDashboardStats returns target, scan and finding counts for a project.
func (db *DB) GetDashboardStats(projectID int64) (DashboardStats, error) {
	stats := DashboardStats{Findings: finding.Count(nil)}
	if err := db.QueryRow(`SELECT COUNT(*) FROM target WHERE project_id = ?`, projectID).Scan(&stats.Targets); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard target count: %w", err)
	}

	rows, err := db.Query(`SELECT status, COUNT(*) FROM scan WHERE project_id = ? GROUP BY status`, projectID)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard scan counts: %w", err)
	}
	for rows.Next() {
		var status ScanStatus
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			rows.Close()
			return DashboardStats{}, fmt.Errorf("scan dashboard scan counts: %w", err)
		}
		stats.Scans += count
		switch status {
		case ScanPending:
			stats.Status.Pending = count
		case ScanRunning:
			stats.Status.Running = count
		case ScanCompleted:
			stats.Status.Completed = count
		case ScanFailed:
			stats.Status.Failed = count
		case ScanCancelled:
			stats.Status.Cancelled = count
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return DashboardStats{}, fmt.Errorf("dashboard scan counts: %w", err)
	}
	rows.Close()

	rows, err = db.Query(
		`SELECT f.severity, COUNT(*)
		   FROM finding f
		   JOIN scan s ON s.id = f.scan_id
		  WHERE s.project_id = ?
		  GROUP BY f.severity`,
		projectID,
	)
	if err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard finding counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var sev finding.Severity
		var count int
		if err := rows.Scan(&sev, &count); err != nil {
			return DashboardStats{}, fmt.Errorf("scan dashboard finding counts: %w", err)
		}
		stats.Findings[sev] = count
	}
	if err := rows.Err(); err != nil {
		return DashboardStats{}, fmt.Errorf("dashboard finding counts: %w", err)
	}

	return stats, nil
}
