package export

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
)

// ScanExport captures one scan with its findings for JSON export.
type ScanExport struct {
	Project  ProjectInfo       `json:"project"`
	Target   TargetInfo        `json:"target"`
	Scan     ScanInfo          `json:"scan"`
	Counts   finding.Counts    `json:"findings_by_severity"`
	Findings []finding.Finding `json:"findings"`
}

// ProjectExport captures every scan of a project.
type ProjectExport struct {
	Project ProjectInfo  `json:"project"`
	Targets []TargetInfo `json:"targets"`
	Scans   []ScanExport `json:"scans"`
}

type ProjectInfo struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type TargetInfo struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type ScanInfo struct {
	ID         int64           `json:"id"`
	Status     string          `json:"status"`
	CreatedBy  string          `json:"created_by"`
	CreatedAt  time.Time       `json:"created_at"`
	StartedAt  *time.Time      `json:"started_at,omitempty"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
	Summary    json.RawMessage `json:"summary,omitempty"`
}

// ExportScanJSON writes a scan and its findings as JSON to the writer.
func ExportScanJSON(database *db.DB, scanID int64, w io.Writer) error {
	data, err := loadScan(database, scanID)
	if err != nil {
		return err
	}
	return encode(w, data.export())
}

// ExportProjectJSON writes every scan of a project as JSON to the writer.
func ExportProjectJSON(database *db.DB, projectID int64, w io.Writer) error {
	project, found, err := database.GetProjectByID(projectID)
	if err != nil {
		return fmt.Errorf("get project: %w", err)
	}
	if !found {
		return fmt.Errorf("project not found")
	}
	targets, err := database.ListTargets(projectID)
	if err != nil {
		return fmt.Errorf("list targets: %w", err)
	}
	scans, err := database.ListScans(db.ScanFilter{ProjectID: projectID})
	if err != nil {
		return fmt.Errorf("list scans: %w", err)
	}

	byID := make(map[int64]db.Target, len(targets))
	payload := ProjectExport{
		Project: toProjectInfo(project),
		Targets: make([]TargetInfo, 0, len(targets)),
		Scans:   make([]ScanExport, 0, len(scans)),
	}
	for _, t := range targets {
		byID[t.ID] = t
		payload.Targets = append(payload.Targets, toTargetInfo(t))
	}
	for _, scan := range scans {
		findings, err := database.ListFindings(db.FindingFilter{ScanID: scan.ID})
		if err != nil {
			return fmt.Errorf("list findings: %w", err)
		}
		data := scanData{project: project, target: byID[scan.TargetID], scan: scan, findings: findings}
		payload.Scans = append(payload.Scans, data.export())
	}
	return encode(w, payload)
}

func encode(w io.Writer, payload any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(payload); err != nil {
		return fmt.Errorf("encode json: %w", err)
	}
	return nil
}

// scanData is everything an export of one scan needs.
type scanData struct {
	project  db.Project
	target   db.Target
	scan     db.Scan
	findings []finding.Finding
}

func loadScan(database *db.DB, scanID int64) (scanData, error) {
	scan, found, err := database.GetScan(scanID)
	if err != nil {
		return scanData{}, fmt.Errorf("get scan: %w", err)
	}
	if !found {
		return scanData{}, fmt.Errorf("scan not found")
	}
	project, found, err := database.GetProjectByID(scan.ProjectID)
	if err != nil {
		return scanData{}, fmt.Errorf("get project: %w", err)
	}
	if !found {
		return scanData{}, fmt.Errorf("project not found")
	}
	target, found, err := database.GetTarget(scan.TargetID)
	if err != nil {
		return scanData{}, fmt.Errorf("get target: %w", err)
	}
	if !found {
		return scanData{}, fmt.Errorf("target not found")
	}
	findings, err := database.ListFindings(db.FindingFilter{ScanID: scanID})
	if err != nil {
		return scanData{}, fmt.Errorf("list findings: %w", err)
	}
	return scanData{project: project, target: target, scan: scan, findings: findings}, nil
}

func (d scanData) export() ScanExport {
	findings := d.findings
	if findings == nil {
		findings = []finding.Finding{}
	}
	return ScanExport{
		Project:  toProjectInfo(d.project),
		Target:   toTargetInfo(d.target),
		Scan:     toScanInfo(d.scan),
		Counts:   finding.Count(d.findings),
		Findings: findings,
	}
}

func targetsByID(database *db.DB, projectID int64) (map[int64]db.Target, error) {
	targets, err := database.ListTargets(projectID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	out := make(map[int64]db.Target, len(targets))
	for _, t := range targets {
		out[t.ID] = t
	}
	return out, nil
}

func toProjectInfo(project db.Project) ProjectInfo {
	return ProjectInfo{
		ID:          project.ID,
		Name:        project.Name,
		Description: project.Description,
		CreatedAt:   project.CreatedAt,
		UpdatedAt:   project.UpdatedAt,
	}
}

func toTargetInfo(t db.Target) TargetInfo {
	return TargetInfo{ID: t.ID, Name: t.Name, Type: t.Type, Value: t.Value}
}

func toScanInfo(s db.Scan) ScanInfo {
	return ScanInfo{
		ID:         s.ID,
		Status:     string(s.Status),
		CreatedBy:  s.CreatedBy,
		CreatedAt:  s.CreatedAt,
		StartedAt:  s.StartedAt,
		FinishedAt: s.FinishedAt,
		Summary:    s.Summary,
	}
}
