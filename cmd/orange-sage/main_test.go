package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/testutil"
)

const quickProfile = `enable_microservices: false
report_format: json
agent_types: [recon]
`

func TestProjectsCLI(t *testing.T) {
	tmp := testutil.TempDir(t)
	dbPath := filepath.Join(tmp, "cli.db")

	exit := run([]string{"orange-sage", "projects", "create", "CLI Project", "--db", dbPath}, ioDiscard{}, ioDiscard{})
	if exit != 0 {
		t.Fatalf("projects create exit %d", exit)
	}

	var stdout bytes.Buffer
	exit = run([]string{"orange-sage", "projects", "list", "--db", dbPath}, &stdout, ioDiscard{})
	if exit != 0 {
		t.Fatalf("projects list exit %d", exit)
	}
	if !strings.Contains(stdout.String(), "CLI Project") {
		t.Fatalf("expected project in list output, got %q", stdout.String())
	}
}

func TestProjectsHiddenFromOtherUsers(t *testing.T) {
	dbPath := testutil.DBPath(t, "cli.db")

	if exit := run([]string{"orange-sage", "--user", "alice", "projects", "create", "Private", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit != 0 {
		t.Fatalf("projects create exit %d", exit)
	}

	var stdout bytes.Buffer
	if exit := run([]string{"orange-sage", "--user", "bob", "projects", "list", "--db", dbPath}, &stdout, ioDiscard{}); exit != 0 {
		t.Fatalf("projects list exit %d", exit)
	}
	if strings.Contains(stdout.String(), "Private") {
		t.Fatalf("bob should not see alice's project, got %q", stdout.String())
	}

	var stderr bytes.Buffer
	if exit := run([]string{"orange-sage", "--user", "bob", "targets", "add", "1", "https://example.com", "--db", dbPath}, ioDiscard{}, &stderr); exit == 0 {
		t.Fatalf("expected bob to be refused")
	}
	if !strings.Contains(stderr.String(), "not authorized") {
		t.Fatalf("unexpected error output %q", stderr.String())
	}
}

func TestTargetsCLI(t *testing.T) {
	dbPath := testutil.DBPath(t, "cli.db")
	seedCLIProject(t, dbPath)

	var stdout bytes.Buffer
	if exit := run([]string{"orange-sage", "targets", "list", "1", "--db", dbPath}, &stdout, ioDiscard{}); exit != 0 {
		t.Fatalf("targets list exit %d", exit)
	}
	if !strings.Contains(stdout.String(), "https://app.example.com") {
		t.Fatalf("expected target in list output, got %q", stdout.String())
	}

	if exit := run([]string{"orange-sage", "targets", "add", "1", "10.0.0.1", "--type", "printer", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit == 0 {
		t.Fatalf("expected unknown target type to fail")
	}
	if exit := run([]string{"orange-sage", "targets", "add", "abc", "10.0.0.1", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit == 0 {
		t.Fatalf("expected invalid project id to fail")
	}
}

func TestScanCLI(t *testing.T) {
	tmp := testutil.TempDir(t)
	dbPath := filepath.Join(tmp, "cli.db")
	seedCLIProject(t, dbPath)

	profile := filepath.Join(tmp, "profile.yaml")
	if err := os.WriteFile(profile, []byte(quickProfile), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	var stdout bytes.Buffer
	exit := run([]string{"orange-sage", "scan", "create", "1", "1", "--profile", profile, "--start", "--db", dbPath}, &stdout, ioDiscard{})
	if exit != 0 {
		t.Fatalf("scan create exit %d", exit)
	}
	if !strings.Contains(stdout.String(), "completed") {
		t.Fatalf("expected completed scan, got %q", stdout.String())
	}

	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	scan, ok, err := database.GetScan(1)
	database.Close()
	if err != nil || !ok {
		t.Fatalf("get scan: ok=%v err=%v", ok, err)
	}
	if scan.Status != db.ScanCompleted {
		t.Fatalf("expected completed, got %s", scan.Status)
	}

	stdout.Reset()
	if exit := run([]string{"orange-sage", "scan", "status", "1", "--db", dbPath}, &stdout, ioDiscard{}); exit != 0 {
		t.Fatalf("scan status exit %d", exit)
	}
	for _, want := range []string{"Scan #1", "Risk:", "agent_pentest"} {
		if !strings.Contains(stdout.String(), want) {
			t.Fatalf("expected %q in status output, got %q", want, stdout.String())
		}
	}

	stdout.Reset()
	if exit := run([]string{"orange-sage", "scan", "list", "--project", "1", "--db", dbPath}, &stdout, ioDiscard{}); exit != 0 {
		t.Fatalf("scan list exit %d", exit)
	}
	if !strings.Contains(stdout.String(), "completed") {
		t.Fatalf("expected scan in list output, got %q", stdout.String())
	}

	stdout.Reset()
	if exit := run([]string{"orange-sage", "scan", "agents", "1", "--db", dbPath}, &stdout, ioDiscard{}); exit != 0 {
		t.Fatalf("scan agents exit %d", exit)
	}
	if !strings.Contains(stdout.String(), "orchestrator") {
		t.Fatalf("expected root agent in output, got %q", stdout.String())
	}

	if exit := run([]string{"orange-sage", "scan", "cancel", "1", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit == 0 {
		t.Fatalf("expected cancelling a completed scan to fail")
	}
	if exit := run([]string{"orange-sage", "scan", "start", "1", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit == 0 {
		t.Fatalf("expected restarting a completed scan to fail")
	}
}

func TestReportAndExportCLI(t *testing.T) {
	tmp := testutil.TempDir(t)
	dbPath := filepath.Join(tmp, "cli.db")
	seedCLIProject(t, dbPath)
	if exit := run([]string{"orange-sage", "scan", "create", "1", "1", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit != 0 {
		t.Fatalf("scan create exit %d", exit)
	}

	reportPath := filepath.Join(tmp, "report.md")
	if exit := run([]string{"orange-sage", "report", "1", "--format", "markdown", "-o", reportPath, "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit != 0 {
		t.Fatalf("report exit %d", exit)
	}
	data, err := os.ReadFile(reportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(data), "Orange Sage") {
		t.Fatalf("expected branding in report, got %q", data)
	}
	if exit := run([]string{"orange-sage", "report", "1", "--format", "docx", "-o", "-", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit == 0 {
		t.Fatalf("expected unsupported report format to fail")
	}

	var stdout bytes.Buffer
	if exit := run([]string{"orange-sage", "export", "1", "--db", dbPath}, &stdout, ioDiscard{}); exit != 0 {
		t.Fatalf("export exit %d", exit)
	}
	var payload map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if _, ok := payload["findings"]; !ok {
		t.Fatalf("expected findings key, got %v", payload)
	}

	csvPath := filepath.Join(tmp, "project.csv")
	if exit := run([]string{"orange-sage", "export", "1", "--project", "--format", "csv", "-o", csvPath, "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit != 0 {
		t.Fatalf("project export exit %d", exit)
	}
	if _, err := os.Stat(csvPath); err != nil {
		t.Fatalf("expected csv file: %v", err)
	}
	if exit := run([]string{"orange-sage", "export", "1", "--project", "--format", "text", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit == 0 {
		t.Fatalf("expected text project export to fail")
	}
}

func TestFindingsCLIRejectsBadFilters(t *testing.T) {
	dbPath := testutil.DBPath(t, "cli.db")
	var stderr bytes.Buffer
	if exit := run([]string{"orange-sage", "findings", "list", "1", "--severity", "apocalyptic", "--db", dbPath}, ioDiscard{}, &stderr); exit == 0 {
		t.Fatalf("expected bad severity to fail")
	}
	if exit := run([]string{"orange-sage", "findings", "triage", "1", "ignored", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit == 0 {
		t.Fatalf("expected bad triage status to fail")
	}
}

func seedCLIProject(t *testing.T, dbPath string) {
	t.Helper()
	if exit := run([]string{"orange-sage", "projects", "create", "Shop", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit != 0 {
		t.Fatalf("projects create exit %d", exit)
	}
	if exit := run([]string{"orange-sage", "targets", "add", "1", "https://app.example.com", "--db", dbPath}, ioDiscard{}, ioDiscard{}); exit != 0 {
		t.Fatalf("targets add exit %d", exit)
	}
}

// ioDiscard drops output.
type ioDiscard struct{}

func (ioDiscard) Write(p []byte) (int, error) { return len(p), nil }
