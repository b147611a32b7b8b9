package web

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/export"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/orchestrator"
	"github.com/sloppy/orangesage/internal/report"
)

const healthTimeout = 2 * time.Second

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/projects", http.StatusFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()
	if err := s.DB.Ping(ctx); err != nil {
		s.jsonResponse(w, map[string]string{"status": "unhealthy", "error": err.Error()}, http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, map[string]any{"status": "ok", "running_scans": len(s.Orch.Running())}, http.StatusOK)
}

func (s *Server) handleProjectsList(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Orch.ListProjects(r.Context())
	if err != nil {
		http.Error(w, "failed to list projects", http.StatusInternalServerError)
		return
	}
	render(w, r, projectsListPage(s.Branding.Company(), projects))
}

func (s *Server) handleProjectsCreate(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	project, err := s.Orch.CreateProject(r.Context(), r.FormValue("name"), r.FormValue("description"))
	if err != nil {
		s.orchError(w, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/projects/%d", project.ID), http.StatusSeeOther)
}

func (s *Server) handleProjectDashboard(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	project, err := s.Orch.GetProject(r.Context(), projectID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	stats, err := s.Orch.Dashboard(r.Context(), projectID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	targets, err := s.Orch.ListTargets(r.Context(), projectID)
	if err != nil {
		s.serverError(w, err)
		return
	}
	scans, err := s.Orch.ListScans(r.Context(), db.ScanFilter{ProjectID: projectID})
	if err != nil {
		s.serverError(w, err)
		return
	}
	render(w, r, dashboardPage(s.Branding.Company(), project, stats, targets, scans))
}

func (s *Server) handleProjectsDelete(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	if err := s.Orch.DeleteProject(r.Context(), id); err != nil {
		s.orchError(w, err)
		return
	}
	http.Redirect(w, r, "/projects", http.StatusSeeOther)
}

func (s *Server) handleTargetsCreate(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	_, err = s.Orch.CreateTarget(r.Context(), db.Target{
		ProjectID: projectID,
		Name:      r.FormValue("name"),
		Type:      r.FormValue("type"),
		Value:     r.FormValue("value"),
	})
	if err != nil {
		s.orchError(w, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/projects/%d", projectID), http.StatusSeeOther)
}

// handleScansCreate creates a scan with default options and starts it.
func (s *Server) handleScansCreate(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	targetID, err := strconv.ParseInt(strings.TrimSpace(r.FormValue("target_id")), 10, 64)
	if err != nil {
		http.Error(w, "invalid target id", http.StatusBadRequest)
		return
	}
	opts := config.DefaultScanOptions()
	if format := strings.TrimSpace(r.FormValue("report_format")); format != "" {
		f, err := report.ParseFormat(format)
		if err != nil {
			s.badRequest(w, err)
			return
		}
		opts.ReportFormat = string(f)
	}
	scan, err := s.Orch.CreateScan(r.Context(), projectID, targetID, opts)
	if err != nil {
		s.orchError(w, err)
		return
	}
	if _, err := s.Orch.StartScan(r.Context(), scan.ID); err != nil {
		s.orchError(w, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/scans/%d", scan.ID), http.StatusSeeOther)
}

func (s *Server) handleScanDetail(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	status, err := s.Orch.GetScanStatus(ctx, scanID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	detail := scanDetail{Status: status}
	if detail.Summary, err = orchestrator.ParseSummary(status.Scan.Summary); err != nil {
		s.serverError(w, err)
		return
	}
	if detail.Agents, err = s.Orch.ListScanAgents(ctx, scanID); err != nil {
		s.serverError(w, err)
		return
	}
	if detail.Findings, err = s.Orch.ListFindings(ctx, db.FindingFilter{ScanID: scanID}); err != nil {
		s.serverError(w, err)
		return
	}
	finding.SortBySeverity(detail.Findings)
	if detail.Reports, err = s.Orch.ListReports(ctx, scanID); err != nil {
		s.serverError(w, err)
		return
	}
	render(w, r, scanDetailPage(s.Branding.Company(), detail))
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return
	}
	if err := s.Orch.CancelScan(r.Context(), scanID); err != nil {
		s.orchError(w, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/scans/%d", scanID), http.StatusSeeOther)
}

func (s *Server) handleFindingStatusUpdate(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return
	}
	findingID, err := parseID(r, "findingID")
	if err != nil {
		http.Error(w, "invalid finding id", http.StatusBadRequest)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form submission", http.StatusBadRequest)
		return
	}
	status, err := finding.ParseStatus(r.FormValue("status"))
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if _, err := s.Orch.UpdateFindingStatus(r.Context(), findingID, status); err != nil {
		s.orchError(w, err)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/scans/%d", scanID), http.StatusSeeOther)
}

// handleScanReport renders a report in the requested format (pdf by
// default) and serves it as a download.
func (s *Server) handleScanReport(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return
	}
	format := strings.TrimSpace(r.URL.Query().Get("format"))
	if format == "" {
		format = string(report.PDF)
	}
	data, rec, err := s.Orch.GetScanReport(r.Context(), scanID, format)
	if err != nil {
		s.orchError(w, err)
		return
	}
	f, _ := report.ParseFormat(rec.Format)
	w.Header().Set("Content-Type", f.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Filename))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) handleScanExport(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid scan id", http.StatusBadRequest)
		return
	}
	if _, err := s.Orch.GetScanStatus(r.Context(), scanID); err != nil {
		s.orchError(w, err)
		return
	}
	format := exportFormat(r)

	var write func(*db.DB, int64, io.Writer) error
	var contentType string
	switch format {
	case "json":
		write, contentType = export.ExportScanJSON, "application/json"
	case "csv":
		write, contentType = export.ExportScanCSV, "text/csv"
	case "text":
		format = "txt"
		write, contentType = export.ExportScanText, "text/plain; charset=utf-8"
	default:
		http.Error(w, "invalid export format", http.StatusBadRequest)
		return
	}
	s.writeExport(w, fmt.Sprintf("scan-%d.%s", scanID, format), contentType, func(out io.Writer) error {
		return write(s.DB, scanID, out)
	})
}

func (s *Server) handleProjectExport(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "invalid project id", http.StatusBadRequest)
		return
	}
	if _, err := s.Orch.GetProject(r.Context(), projectID); err != nil {
		s.orchError(w, err)
		return
	}
	format := exportFormat(r)

	var write func(*db.DB, int64, io.Writer) error
	var contentType string
	switch format {
	case "json":
		write, contentType = export.ExportProjectJSON, "application/json"
	case "csv":
		write, contentType = export.ExportProjectCSV, "text/csv"
	default:
		http.Error(w, "invalid export format", http.StatusBadRequest)
		return
	}
	s.writeExport(w, fmt.Sprintf("project-%d.%s", projectID, format), contentType, func(out io.Writer) error {
		return write(s.DB, projectID, out)
	})
}

// writeExport buffers the export so a failure can still be reported with a
// proper status code.
func (s *Server) writeExport(w http.ResponseWriter, filename, contentType string, write func(io.Writer) error) {
	var buf strings.Builder
	if err := write(&buf); err != nil {
		s.serverError(w, fmt.Errorf("export failed: %w", err))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	io.WriteString(w, buf.String())
}

func exportFormat(r *http.Request) string {
	format := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("format")))
	if format == "" {
		return "json"
	}
	return format
}

// API handlers.

type projectRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type targetRequest struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

type scanRequest struct {
	TargetID int64           `json:"target_id"`
	Config   json.RawMessage `json:"config"`
	Start    bool            `json:"start"`
}

type findingUpdateRequest struct {
	Status string `json:"status"`
}

func (s *Server) apiListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.Orch.ListProjects(r.Context())
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, nonNil(projects), http.StatusOK)
}

func (s *Server) apiCreateProject(w http.ResponseWriter, r *http.Request) {
	var req projectRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	project, err := s.Orch.CreateProject(r.Context(), req.Name, req.Description)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, project, http.StatusCreated)
}

func (s *Server) apiGetProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	project, err := s.Orch.GetProject(r.Context(), id)
	if err != nil {
		s.orchError(w, err)
		return
	}
	stats, err := s.Orch.Dashboard(r.Context(), id)
	if err != nil {
		s.serverError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"project": project, "stats": stats}, http.StatusOK)
}

func (s *Server) apiDeleteProject(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.Orch.DeleteProject(r.Context(), id); err != nil {
		s.orchError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) apiListTargets(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	targets, err := s.Orch.ListTargets(r.Context(), projectID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, nonNil(targets), http.StatusOK)
}

func (s *Server) apiCreateTarget(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req targetRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	target, err := s.Orch.CreateTarget(r.Context(), db.Target{
		ProjectID: projectID,
		Name:      req.Name,
		Type:      req.Type,
		Value:     req.Value,
	})
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, target, http.StatusCreated)
}

func (s *Server) apiListScans(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	filter, err := scanFilter(r.URL.Query(), projectID)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	scans, err := s.Orch.ListScans(r.Context(), filter)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, nonNil(scans), http.StatusOK)
}

// apiCreateScan records a pending scan. With "start": true the scan is
// started right away.
func (s *Server) apiCreateScan(w http.ResponseWriter, r *http.Request) {
	projectID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req scanRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	opts, err := config.ParseScanOptions(req.Config)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	scan, err := s.Orch.CreateScan(r.Context(), projectID, req.TargetID, opts)
	if err != nil {
		s.orchError(w, err)
		return
	}
	if !req.Start {
		s.jsonResponse(w, scan, http.StatusCreated)
		return
	}
	run, err := s.Orch.StartScan(r.Context(), scan.ID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, startResponse(run), http.StatusAccepted)
}

func (s *Server) apiScanStatus(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	status, err := s.Orch.GetScanStatus(r.Context(), scanID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, status, http.StatusOK)
}

func (s *Server) apiStartScan(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	run, err := s.Orch.StartScan(r.Context(), scanID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, startResponse(run), http.StatusAccepted)
}

func startResponse(run *orchestrator.Run) map[string]any {
	return map[string]any{
		"scan_id":       run.ScanID,
		"root_agent_id": run.RootAgentID,
		"status":        db.ScanRunning,
	}
}

func (s *Server) apiCancelScan(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	if err := s.Orch.CancelScan(r.Context(), scanID); err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, map[string]any{"scan_id": scanID, "status": db.ScanCancelled}, http.StatusOK)
}

func (s *Server) apiListAgents(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	agents, err := s.Orch.ListScanAgents(r.Context(), scanID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, nonNil(agents), http.StatusOK)
}

// apiListFindings supports severity, status and limit query parameters.
func (s *Server) apiListFindings(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	filter, limit, err := findingFilter(r.URL.Query(), scanID)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	findings, err := s.Orch.ListFindings(r.Context(), filter)
	if err != nil {
		s.orchError(w, err)
		return
	}
	if limit > 0 && limit < len(findings) {
		findings = findings[:limit]
	}
	s.jsonResponse(w, nonNil(findings), http.StatusOK)
}

func (s *Server) apiListReports(w http.ResponseWriter, r *http.Request) {
	scanID, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	reports, err := s.Orch.ListReports(r.Context(), scanID)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, nonNil(reports), http.StatusOK)
}

func (s *Server) apiGetFinding(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	f, err := s.Orch.GetFinding(r.Context(), id)
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, f, http.StatusOK)
}

func (s *Server) apiUpdateFinding(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		s.badRequest(w, err)
		return
	}
	var req findingUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.badRequest(w, err)
		return
	}
	f, err := s.Orch.UpdateFindingStatus(r.Context(), id, finding.Status(strings.ToLower(strings.TrimSpace(req.Status))))
	if err != nil {
		s.orchError(w, err)
		return
	}
	s.jsonResponse(w, f, http.StatusOK)
}

func (s *Server) apiServicesHealth(w http.ResponseWriter, r *http.Request) {
	if s.Services == nil {
		s.errorResponse(w, fmt.Errorf("analysis services not configured"), http.StatusServiceUnavailable)
		return
	}
	s.jsonResponse(w, s.Services.Health(r.Context()), http.StatusOK)
}

func decodeJSON(r *http.Request, v any) error {
	if r.Body == nil {
		return fmt.Errorf("request body required")
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v); err != nil {
		if err == io.EOF {
			return fmt.Errorf("request body required")
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

func parseID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(chi.URLParam(r, param)), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", param)
	}
	return id, nil
}
