package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
)

// ExportScanCSV writes one row per finding of a scan.
func ExportScanCSV(database *db.DB, scanID int64, w io.Writer) error {
	data, err := loadScan(database, scanID)
	if err != nil {
		return err
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, f := range data.findings {
		if err := writer.Write(csvRow(data.project, data.target, f)); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ExportProjectCSV writes the findings of every scan in a project, newest
// scan first.
func ExportProjectCSV(database *db.DB, projectID int64, w io.Writer) error {
	project, found, err := database.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("get project: %w", err)
	}
	if !found {
		return fmt.Errorf("project not found")
	}
	targets, err := targetsByID(database, projectID)
	if err != nil {
		return err
	}
	scans, err := database.ListScans(db.ScanFilter{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("list scans: %w", err)
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for _, scan := range scans {
		findings, err := database.ListFindings(db.FindingFilter{ScanID: scan.ID})
		if err != nil {
			return fmt.Errorf("list findings: %w", err)
		}
		for _, f := range findings {
			if err := writer.Write(csvRow(project, targets[scan.TargetID], f)); err != nil {
				return fmt.Errorf("write row: %w", err)
			}
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}
	return value.UTC().Format(time.RFC3339)
}

func csvHeader() []string {
	return []string{
		"project_id",
		"project_name",
		"scan_id",
		"target",
		"finding_id",
		"title",
		"severity",
		"status",
		"vulnerability_type",
		"endpoint",
		"parameter",
		"method",
		"created_by_agent",
		"remediation",
		"created_at",
	}
}

func csvRow(project db.Project, target db.Target, f finding.Finding) []string {
	return []string{
		strconv.FormatInt(project.ID, 10),
		project.Name,
		strconv.FormatInt(f.ScanID, 10),
		target.Value,
		strconv.FormatInt(f.ID, 10),
		f.Title,
		string(f.Severity),
		string(f.Status),
		f.VulnerabilityType,
		f.Endpoint,
		f.Parameter,
		f.Method,
		f.CreatedByAgent,
		f.Remediation,
		formatTime(f.CreatedAt),
	}
}
