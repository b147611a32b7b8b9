package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sloppy/orangesage/internal/agent"
	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/llm"
	"github.com/sloppy/orangesage/internal/metrics"
	"github.com/sloppy/orangesage/internal/microservices"
	"github.com/sloppy/orangesage/internal/orchestrator"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/sandbox"
	"github.com/sloppy/orangesage/internal/testutil"
)

const agentReply = `{"findings": [
  {"title": "SQL Injection in Login Form", "severity": "high", "type": "sql_injection", "endpoint": "/login"}
]}`

type stubLLM struct{}

func (stubLLM) Generate(context.Context, llm.Request) (llm.Response, error) {
	return llm.Response{Content: agentReply, Model: "stub", Provider: "test"}, nil
}

// stubServices returns no findings, or blocks until cancelled when block
// is set.
type stubServices struct {
	block bool
}

func (s stubServices) Analyze(ctx context.Context, _ string, _ config.ScanOptions) phase.Result {
	if s.block {
		<-ctx.Done()
		return phase.Failed(ctx.Err())
	}
	return phase.Succeeded(nil, nil)
}

func (stubServices) Cleanup() int { return 0 }

func (stubServices) Health(context.Context) map[microservices.Service]microservices.Health {
	return map[microservices.Service]microservices.Health{
		microservices.VulnerabilityScanner: {Status: microservices.Healthy, URL: "http://scanner"},
	}
}

func newTestServer(t *testing.T) (*db.DB, *Server) {
	t.Helper()
	return newTestServerWith(t, stubServices{})
}

func newTestServerWith(t *testing.T, services stubServices) (*db.DB, *Server) {
	t.Helper()
	dir := testutil.TempDir(t)
	database, err := db.Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	m, err := metrics.New()
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	manager := agent.NewManager(database, sandbox.NewLocal("mock", nil), agent.DefaultRegistry(stubLLM{}, nil))
	orch := orchestrator.New(database, manager, services, orchestrator.Options{Metrics: m})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		orch.Shutdown(ctx)
	})
	return database, NewServer(database, orch, WithMetrics(m), WithServiceHealth(services))
}

func do(t *testing.T, server *Server, method, path, body string, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, "http://localhost:8080"+path, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v\n%s", err, rec.Body.String())
	}
}

// seedProject creates a project and a target through the API.
func seedProject(t *testing.T, server *Server) (db.Project, db.Target) {
	t.Helper()
	rec := do(t, server, http.MethodPost, "/api/projects", `{"name":"Acme","description":"storefront"}`, UserHeader, "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: %d %s", rec.Code, rec.Body.String())
	}
	var project db.Project
	decode(t, rec, &project)

	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/projects/%d/targets", project.ID), `{"type":"url","value":"https://shop.example"}`, UserHeader, "alice")
	if rec.Code != http.StatusCreated {
		t.Fatalf("create target: %d %s", rec.Code, rec.Body.String())
	}
	var target db.Target
	decode(t, rec, &target)
	return project, target
}

const scanConfig = `{"agent_types":["recon"],"report_format":"json"}`

func createScan(t *testing.T, server *Server, project db.Project, target db.Target, start bool) int64 {
	t.Helper()
	body := fmt.Sprintf(`{"target_id":%d,"config":%s,"start":%t}`, target.ID, scanConfig, start)
	rec := do(t, server, http.MethodPost, fmt.Sprintf("/api/projects/%d/scans", project.ID), body)
	if start && rec.Code != http.StatusAccepted || !start && rec.Code != http.StatusCreated {
		t.Fatalf("create scan: %d %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		ID     int64 `json:"id"`
		ScanID int64 `json:"scan_id"`
	}
	decode(t, rec, &payload)
	if start {
		return payload.ScanID
	}
	return payload.ID
}

func waitStatus(t *testing.T, server *Server, scanID int64, want db.ScanStatus) orchestrator.Status {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		rec := do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d", scanID), "")
		if rec.Code != http.StatusOK {
			t.Fatalf("scan status: %d %s", rec.Code, rec.Body.String())
		}
		var status orchestrator.Status
		decode(t, rec, &status)
		if status.Scan.Status == want {
			return status
		}
		if time.Now().After(deadline) {
			t.Fatalf("scan %d stuck in %s, want %s", scanID, status.Scan.Status, want)
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestCSRFGuard(t *testing.T) {
	t.Run("rejects invalid origin", func(t *testing.T) {
		database, server := newTestServer(t)
		defer database.Close()

		body := bytes.NewBufferString(`{"name":"Alpha"}`)
		req := httptest.NewRequest(http.MethodPost, "http://localhost:8080/api/projects", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "http://evil.com")
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403, got %d", rec.Code)
		}
	})

	t.Run("allows local origin", func(t *testing.T) {
		database, server := newTestServer(t)
		defer database.Close()

		body := bytes.NewBufferString(`{"name":"Bravo"}`)
		req := httptest.NewRequest(http.MethodPost, "http://localhost:8080/api/projects", body)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Origin", "http://localhost:8080")
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	})

	t.Run("allows empty origin", func(t *testing.T) {
		database, server := newTestServer(t)
		defer database.Close()

		body := bytes.NewBufferString(`{"name":"Charlie"}`)
		req := httptest.NewRequest(http.MethodPost, "http://localhost:8080/api/projects", body)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()

		server.Handler().ServeHTTP(rec, req)

		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rec.Code)
		}
	})
}

func TestScanLifecycleOverAPI(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()

	project, target := seedProject(t, server)
	scanID := createScan(t, server, project, target, false)

	rec := do(t, server, http.MethodPost, fmt.Sprintf("/api/scans/%d/start", scanID), "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start scan: %d %s", rec.Code, rec.Body.String())
	}
	var started map[string]any
	decode(t, rec, &started)
	if started["root_agent_id"] == "" || started["status"] != "running" {
		t.Fatalf("unexpected start response: %v", started)
	}

	status := waitStatus(t, server, scanID, db.ScanCompleted)
	if status.Progress != 100 {
		t.Fatalf("expected progress 100, got %d", status.Progress)
	}
	if status.FindingsCount == 0 || status.Counts[finding.High] == 0 {
		t.Fatalf("expected high findings, got %+v", status)
	}

	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/scans/%d/start", scanID), "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 restarting a completed scan, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d/agents", scanID), "")
	var agents []db.Agent
	decode(t, rec, &agents)
	var root bool
	for _, a := range agents {
		if a.AgentType == orchestrator.RootAgentType {
			root = a.Status == db.AgentCompleted
		}
	}
	if !root {
		t.Fatalf("expected completed root agent in %+v", agents)
	}

	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d/findings?severity=high", scanID), "")
	var findings []finding.Finding
	decode(t, rec, &findings)
	if len(findings) == 0 {
		t.Fatalf("expected high findings")
	}

	rec = do(t, server, http.MethodPatch, fmt.Sprintf("/api/findings/%d", findings[0].ID), `{"status":"resolved"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update finding: %d %s", rec.Code, rec.Body.String())
	}
	rec = do(t, server, http.MethodPatch, fmt.Sprintf("/api/findings/%d", findings[0].ID), `{"status":"fixed"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/findings/%d", findings[0].ID), "")
	var got finding.Finding
	decode(t, rec, &got)
	if got.Status != finding.StatusResolved {
		t.Fatalf("expected resolved, got %s", got.Status)
	}
}

func TestScanReportDownload(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()

	project, target := seedProject(t, server)
	scanID := createScan(t, server, project, target, true)
	waitStatus(t, server, scanID, db.ScanCompleted)

	rec := do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d/report?format=markdown", scanID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("report: %d %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), fmt.Sprintf("orange_sage_report_%d.md", scanID)) {
		t.Fatalf("unexpected disposition %q", rec.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(rec.Body.String(), "Security Assessment") {
		t.Fatalf("unexpected report body:\n%s", rec.Body.String())
	}

	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d/report?format=docx", scanID), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for docx, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d/reports", scanID), "")
	var reports []db.Report
	decode(t, rec, &reports)
	// One from the report phase, one from the download above.
	if len(reports) != 2 {
		t.Fatalf("expected 2 report records, got %d", len(reports))
	}
}

func TestCancelOverAPI(t *testing.T) {
	database, server := newTestServerWith(t, stubServices{block: true})
	defer database.Close()

	project, target := seedProject(t, server)
	scanID := createScan(t, server, project, target, false)

	rec := do(t, server, http.MethodPost, fmt.Sprintf("/api/scans/%d/cancel", scanID), "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 cancelling a pending scan, got %d", rec.Code)
	}

	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/scans/%d/start", scanID), "")
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start scan: %d", rec.Code)
	}
	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/scans/%d/cancel", scanID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("cancel scan: %d %s", rec.Code, rec.Body.String())
	}
	waitStatus(t, server, scanID, db.ScanCancelled)

	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/scans/%d/cancel", scanID), "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 on second cancel, got %d", rec.Code)
	}
}

func TestNotFoundAndUnauthorized(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()

	project, _ := seedProject(t, server)

	cases := []struct {
		name   string
		method string
		path   string
		user   string
		want   int
	}{
		{"missing scan", http.MethodGet, "/api/scans/99", "", http.StatusNotFound},
		{"missing project", http.MethodGet, "/api/projects/99", "", http.StatusNotFound},
		{"missing finding", http.MethodGet, "/api/findings/99", "", http.StatusNotFound},
		{"bad id", http.MethodGet, "/api/scans/abc", "", http.StatusBadRequest},
		{"foreign project", http.MethodGet, fmt.Sprintf("/api/projects/%d", project.ID), "mallory", http.StatusForbidden},
		{"owner", http.MethodGet, fmt.Sprintf("/api/projects/%d", project.ID), "alice", http.StatusOK},
		{"foreign delete", http.MethodDelete, fmt.Sprintf("/api/projects/%d", project.ID), "mallory", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var headers []string
			if tc.user != "" {
				headers = []string{UserHeader, tc.user}
			}
			rec := do(t, server, tc.method, tc.path, "", headers...)
			if rec.Code != tc.want {
				t.Fatalf("expected %d, got %d: %s", tc.want, rec.Code, rec.Body.String())
			}
		})
	}

	rec := do(t, server, http.MethodGet, "/api/projects", "", UserHeader, "mallory")
	var projects []db.Project
	decode(t, rec, &projects)
	if len(projects) != 0 {
		t.Fatalf("expected no visible projects for mallory, got %d", len(projects))
	}
}

func TestCreateTargetValidation(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()

	project, _ := seedProject(t, server)
	rec := do(t, server, http.MethodPost, fmt.Sprintf("/api/projects/%d/targets", project.ID), `{"type":"ftp","value":"x"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/projects/%d/targets", project.ID), `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	rec = do(t, server, http.MethodPost, fmt.Sprintf("/api/projects/%d/scans", project.ID), `{"target_id":99}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown target, got %d", rec.Code)
	}
}

func TestHealthMetricsAndServices(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()

	rec := do(t, server, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected health response: %d %s", rec.Code, rec.Body.String())
	}

	rec = do(t, server, http.MethodGet, "/metrics", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "orange_sage_") {
		t.Fatalf("unexpected metrics response: %d", rec.Code)
	}

	rec = do(t, server, http.MethodGet, "/api/services/health", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "healthy") {
		t.Fatalf("unexpected services health: %d %s", rec.Code, rec.Body.String())
	}

	database.Close()
	rec = do(t, server, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 after close, got %d", rec.Code)
	}
}

func TestPages(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()

	project, target := seedProject(t, server)
	scanID := createScan(t, server, project, target, true)
	waitStatus(t, server, scanID, db.ScanCompleted)

	rec := do(t, server, http.MethodGet, "/projects", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Acme") {
		t.Fatalf("projects page: %d", rec.Code)
	}
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/projects/%d", project.ID), "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "https://shop.example") {
		t.Fatalf("dashboard page: %d", rec.Code)
	}
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/scans/%d", scanID), "")
	body := rec.Body.String()
	if rec.Code != http.StatusOK || !strings.Contains(body, "SQL Injection in Login Form") || !strings.Contains(body, "Risk") {
		t.Fatalf("scan page: %d\n%s", rec.Code, body)
	}
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/scans/%d/export?format=csv", scanID), "")
	if rec.Code != http.StatusOK || !strings.HasPrefix(rec.Body.String(), "project_id,") {
		t.Fatalf("scan export: %d", rec.Code)
	}
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/projects/%d/export?format=xml", project.ID), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for xml export, got %d", rec.Code)
	}
}

func TestFormFlow(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()

	req := httptest.NewRequest(http.MethodPost, "http://localhost:8080/projects", strings.NewReader("name=Globex&description=intranet"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect, got %d", rec.Code)
	}
	projects, err := database.ListProjects()
	if err != nil || len(projects) != 1 || projects[0].Name != "Globex" {
		t.Fatalf("expected Globex project, got %v %v", projects, err)
	}

	req = httptest.NewRequest(http.MethodPost, fmt.Sprintf("http://localhost:8080/projects/%d/delete", projects[0].ID), nil)
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected redirect after delete, got %d", rec.Code)
	}
}

func TestListFilterValidation(t *testing.T) {
	database, server := newTestServer(t)
	defer database.Close()
	project, target := seedProject(t, server)
	scanID := createScan(t, server, project, target, false)

	rec := do(t, server, http.MethodGet, fmt.Sprintf("/api/projects/%d/scans?status=Pending", project.ID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status filter: %d %s", rec.Code, rec.Body.String())
	}
	var scans []db.Scan
	decode(t, rec, &scans)
	if len(scans) != 1 {
		t.Fatalf("expected one pending scan, got %d", len(scans))
	}

	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/projects/%d/scans?status=paused", project.ID), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown scan status, got %d", rec.Code)
	}
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d/findings?severity=apocalyptic", scanID), "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown severity, got %d", rec.Code)
	}
	rec = do(t, server, http.MethodGet, fmt.Sprintf("/api/scans/%d/findings?status=open&limit=5", scanID), "")
	if rec.Code != http.StatusOK {
		t.Fatalf("findings filter: %d %s", rec.Code, rec.Body.String())
	}
}
