package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppy/orangesage/internal/agent"
	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/llm"
	"github.com/sloppy/orangesage/internal/metrics"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/sandbox"
	"github.com/sloppy/orangesage/internal/testutil"
)

const sqliReply = `{"notes": "login form is injectable", "findings": [
  {"title": "SQL Injection in Login Form", "severity": "high", "type": "sql_injection", "endpoint": "/login"}
]}`

// fixedLLM returns the same reply (or error) to every request.
type fixedLLM struct {
	reply string
	err   error
}

func (f fixedLLM) Generate(context.Context, llm.Request) (llm.Response, error) {
	if f.err != nil {
		return llm.Response{}, f.err
	}
	return llm.Response{Content: f.reply, Model: "test-model", Provider: "test"}, nil
}

// gatedLLM blocks every request until its context ends. started is closed
// on the first request.
type gatedLLM struct {
	started chan struct{}
	once    sync.Once
}

func newGatedLLM() *gatedLLM { return &gatedLLM{started: make(chan struct{})} }

func (g *gatedLLM) Generate(ctx context.Context, _ llm.Request) (llm.Response, error) {
	g.once.Do(func() { close(g.started) })
	<-ctx.Done()
	return llm.Response{}, ctx.Err()
}

// fakeServices stands in for the analysis services.
type fakeServices struct {
	analyze  func(ctx context.Context, target string) phase.Result
	mu       sync.Mutex
	targets  []string
	cleanups int
}

func (f *fakeServices) Analyze(ctx context.Context, target string, _ config.ScanOptions) phase.Result {
	f.mu.Lock()
	f.targets = append(f.targets, target)
	f.mu.Unlock()
	return f.analyze(ctx, target)
}

func (f *fakeServices) Cleanup() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleanups++
	return 0
}

func returning(findings ...finding.Finding) *fakeServices {
	return &fakeServices{analyze: func(context.Context, string) phase.Result {
		return phase.Succeeded(findings, map[string]string{"analysis_id": "test"})
	}}
}

func blockingServices() *fakeServices {
	return &fakeServices{analyze: func(ctx context.Context, _ string) phase.Result {
		<-ctx.Done()
		return phase.Failed(ctx.Err())
	}}
}

func dataExposure() finding.Finding {
	f := testutil.Finding("Sensitive Data Exposure in API", finding.Medium, "information_disclosure")
	f.CreatedByAgent = finding.ProvenanceMicroservices
	return f
}

type env struct {
	store     *db.DB
	project   db.Project
	target    db.Target
	metrics   *metrics.Metrics
	reportDir string
	orch      *Orchestrator
}

func newEnv(t *testing.T, gen llm.Generator, services ServiceAnalyzer, tune ...func(*Options)) *env {
	t.Helper()
	dir := testutil.TempDir(t)
	store, err := db.Open(filepath.Join(dir, "orchestrator.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	project, err := store.CreateProject("acme", "storefront", "alice")
	require.NoError(t, err)
	target, err := store.CreateTarget(db.Target{ProjectID: project.ID, Name: "shop", Type: "url", Value: "https://shop.example"})
	require.NoError(t, err)

	m, err := metrics.New()
	require.NoError(t, err)
	manager := agent.NewManager(store, sandbox.NewLocal("mock", nil), agent.DefaultRegistry(gen, nil),
		agent.WithActiveGauge(m.ActiveAgents))

	opts := Options{Metrics: m, ReportDir: filepath.Join(dir, "reports")}
	for _, fn := range tune {
		fn(&opts)
	}
	o := New(store, manager, services, opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		o.Shutdown(ctx)
	})
	return &env{store: store, project: project, target: target, metrics: m, reportDir: opts.ReportDir, orch: o}
}

func scanOptions() config.ScanOptions {
	opts := config.DefaultScanOptions()
	opts.AgentTypes = []string{config.AgentRecon}
	opts.ReportFormat = "json"
	return opts
}

func (e *env) createScan(t *testing.T, opts config.ScanOptions) db.Scan {
	t.Helper()
	s, err := e.orch.CreateScan(context.Background(), e.project.ID, e.target.ID, opts)
	require.NoError(t, err)
	require.Equal(t, db.ScanPending, s.Status)
	return s
}

func (e *env) reload(t *testing.T, id int64) db.Scan {
	t.Helper()
	s, found, err := e.store.GetScan(id)
	require.NoError(t, err)
	require.True(t, found)
	return s
}

func waitRun(t *testing.T, run *Run) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	select {
	case <-run.Done():
	case <-ctx.Done():
		t.Fatal("scan did not finish")
	}
}

func summaryOf(t *testing.T, s db.Scan) Summary {
	t.Helper()
	sum, err := ParseSummary(s.Summary)
	require.NoError(t, err)
	return sum
}

func TestScanRunsAllPhases(t *testing.T) {
	services := returning(dataExposure())
	e := newEnv(t, fixedLLM{reply: sqliReply}, services)
	s := e.createScan(t, scanOptions())

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RootAgentID)
	waitRun(t, run)
	require.NoError(t, run.Err())

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanCompleted, got.Status)
	require.NotNil(t, got.StartedAt)
	require.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.ErrorMessage)
	assert.Equal(t, []string{"https://shop.example"}, services.targets)

	// recon runs two steps, each reporting the injection.
	findings, err := e.store.ListFindings(db.FindingFilter{ScanID: s.ID})
	require.NoError(t, err)
	require.Len(t, findings, 3)

	sum := summaryOf(t, got)
	assert.Equal(t, 3, sum.TotalFindings)
	assert.Equal(t, 2, sum.Counts[finding.High])
	assert.Equal(t, 1, sum.Counts[finding.Medium])
	assert.Equal(t, 18, sum.Risk.Score)
	require.Len(t, sum.Correlation.AttackChains, 1)
	assert.Equal(t, "SQL Injection -> Data Exfiltration", sum.Correlation.AttackChains[0].Name)
	assert.NotEmpty(t, sum.Recommendations)
	for _, name := range []phase.Name{phase.AgentPentest, phase.Microservices, phase.Advanced, phase.Report} {
		assert.True(t, sum.Phases[name].Success, "phase %s", name)
	}
	assert.Equal(t, 2, sum.Phases[phase.AgentPentest].Findings)
	assert.Equal(t, 1, sum.Phases[phase.Microservices].Findings)

	agents, err := e.store.ListAgentsByScan(s.ID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, a := range agents {
		assert.Equal(t, db.AgentCompleted, a.Status, a.AgentType)
		if a.AgentType == RootAgentType {
			assert.Equal(t, run.RootAgentID, a.ID)
		} else {
			assert.Equal(t, run.RootAgentID, a.ParentAgentID)
			assert.Equal(t, "mock_sandbox_"+a.ID, a.SandboxID)
		}
	}

	reports, err := e.store.ListReports(s.ID)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, db.ReportCompleted, reports[0].Status)
	assert.Equal(t, "orange_sage_report_1.json", reports[0].Filename)
	data, err := os.ReadFile(filepath.Join(e.reportDir, reports[0].Filename))
	require.NoError(t, err)
	assert.Contains(t, string(data), "SQL Injection in Login Form")

	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.ScansTotal.WithLabelValues("completed")))
	assert.Equal(t, 0.0, promtest.ToFloat64(e.metrics.ScansRunning))
	assert.Equal(t, 3.0, promtest.ToFloat64(e.metrics.FindingsTotal.WithLabelValues("high"))+
		promtest.ToFloat64(e.metrics.FindingsTotal.WithLabelValues("medium")))
}

func TestAdvancedAnalysisSeesBothEarlierPhases(t *testing.T) {
	// Each ordering of the two parallel phases must be observed by advanced
	// analysis: services finish before and after the agents.
	for _, servicesFirst := range []bool{true, false} {
		release := make(chan struct{})
		services := &fakeServices{analyze: func(ctx context.Context, _ string) phase.Result {
			if !servicesFirst {
				<-release
			}
			return phase.Succeeded([]finding.Finding{dataExposure(), dataExposure()}, nil)
		}}
		gen := &releasingLLM{reply: sqliReply, wait: servicesFirst, release: release}
		e := newEnv(t, gen, services)
		s := e.createScan(t, scanOptions())

		run, err := e.orch.StartScan(context.Background(), s.ID)
		require.NoError(t, err)
		if servicesFirst {
			time.Sleep(20 * time.Millisecond)
		}
		close(release)
		waitRun(t, run)

		sum := summaryOf(t, e.reload(t, s.ID))
		advanced := sum.Phases[phase.Advanced]
		require.True(t, advanced.Success)
		detail, ok := advanced.Detail.(map[string]any)
		require.True(t, ok)
		produced := sum.Phases[phase.AgentPentest].Findings + sum.Phases[phase.Microservices].Findings
		assert.Equal(t, 4, produced)
		assert.EqualValues(t, produced, detail["findings_analyzed"])
	}
}

// releasingLLM optionally holds each request until release is closed.
type releasingLLM struct {
	reply   string
	wait    bool
	release chan struct{}
}

func (r *releasingLLM) Generate(ctx context.Context, _ llm.Request) (llm.Response, error) {
	if r.wait {
		select {
		case <-r.release:
		case <-ctx.Done():
			return llm.Response{}, ctx.Err()
		}
	}
	return llm.Response{Content: r.reply, Model: "test-model"}, nil
}

func TestServiceFailureDoesNotFailScan(t *testing.T) {
	services := &fakeServices{analyze: func(context.Context, string) phase.Result {
		return phase.Failed(errors.New("vulnerability_scanner: Service returned status 500"))
	}}
	e := newEnv(t, fixedLLM{reply: sqliReply}, services)
	s := e.createScan(t, scanOptions())

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	waitRun(t, run)

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanCompleted, got.Status)
	sum := summaryOf(t, got)
	assert.Equal(t, 2, sum.TotalFindings)
	assert.True(t, sum.Phases[phase.AgentPentest].Success)
	ms := sum.Phases[phase.Microservices]
	assert.False(t, ms.Success)
	assert.Contains(t, ms.Error, "Service returned status 500")
	assert.Zero(t, ms.Findings)
}

func TestFailingAgentsAndPanickingServices(t *testing.T) {
	services := &fakeServices{analyze: func(context.Context, string) phase.Result {
		panic("analysis exploded")
	}}
	e := newEnv(t, fixedLLM{err: llm.ErrNoBackend}, services)
	opts := scanOptions()
	opts.AgentTypes = []string{config.AgentRecon, config.AgentGeneral}
	s := e.createScan(t, opts)

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	waitRun(t, run)

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanCompleted, got.Status)
	sum := summaryOf(t, got)
	assert.Zero(t, sum.TotalFindings)
	assert.Equal(t, 0, sum.Risk.Score)
	assert.Len(t, sum.Recommendations, 6)
	assert.False(t, sum.Phases[phase.AgentPentest].Success)
	assert.Contains(t, sum.Phases[phase.AgentPentest].Error, llm.ErrNoBackend.Error())
	assert.Contains(t, sum.Phases[phase.Microservices].Error, "analysis exploded")
	assert.True(t, sum.Phases[phase.Report].Success)

	agents, err := e.store.ListAgentsByScan(s.ID)
	require.NoError(t, err)
	require.Len(t, agents, 3)
	for _, a := range agents {
		if a.AgentType == RootAgentType {
			assert.Equal(t, db.AgentCompleted, a.Status)
			continue
		}
		assert.Equal(t, db.AgentFailed, a.Status)
		assert.NotEmpty(t, a.ErrorMessage)
	}
}

func TestDisabledPhasesAreSkipped(t *testing.T) {
	services := returning(dataExposure())
	e := newEnv(t, fixedLLM{reply: sqliReply}, services)
	opts := scanOptions()
	opts.EnableAgentPentest = false
	opts.GenerateReport = false
	s := e.createScan(t, opts)

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	waitRun(t, run)

	sum := summaryOf(t, e.reload(t, s.ID))
	assert.True(t, sum.Phases[phase.AgentPentest].Skipped)
	assert.True(t, sum.Phases[phase.Report].Skipped)
	assert.Equal(t, 1, sum.TotalFindings)

	reports, err := e.store.ListReports(s.ID)
	require.NoError(t, err)
	assert.Empty(t, reports)
}

func TestPhaseTimeout(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, blockingServices())
	opts := scanOptions()
	opts.PhaseTimeout = config.Duration(50 * time.Millisecond)
	s := e.createScan(t, opts)

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	waitRun(t, run)

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanCompleted, got.Status)
	ms := summaryOf(t, got).Phases[phase.Microservices]
	assert.False(t, ms.Success)
	assert.Contains(t, ms.Error, "timed out after 50ms")
}

func TestCancelRunningScan(t *testing.T) {
	gen := newGatedLLM()
	services := blockingServices()
	e := newEnv(t, gen, services)
	s := e.createScan(t, scanOptions())

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	<-gen.started

	require.NoError(t, e.orch.CancelScan(context.Background(), s.ID))
	waitRun(t, run)
	assert.NoError(t, run.Err())

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanCancelled, got.Status)
	assert.NotNil(t, got.FinishedAt)
	assert.Empty(t, got.Summary)

	agents, err := e.store.ListAgentsByScan(s.ID)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	for _, a := range agents {
		assert.Equal(t, db.AgentCancelled, a.Status, a.AgentType)
	}

	err = e.orch.CancelScan(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, db.ScanCancelled, e.reload(t, s.ID).Status)
	assert.Equal(t, 1.0, promtest.ToFloat64(e.metrics.ScansTotal.WithLabelValues("cancelled")))
	assert.Empty(t, e.orch.Running())
}

func TestLateFindingsAreDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	services := &fakeServices{analyze: func(context.Context, string) phase.Result {
		close(started)
		<-release
		return phase.Succeeded([]finding.Finding{dataExposure()}, nil)
	}}
	e := newEnv(t, fixedLLM{reply: sqliReply}, services)
	opts := scanOptions()
	opts.EnableAgentPentest = false
	s := e.createScan(t, opts)

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	<-started
	require.NoError(t, e.orch.CancelScan(context.Background(), s.ID))
	close(release)
	waitRun(t, run)

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanCancelled, got.Status)
	findings, err := e.store.ListFindings(db.FindingFilter{ScanID: s.ID})
	require.NoError(t, err)
	assert.Empty(t, findings)
}

func TestCancelImmediatelyAfterStart(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning(dataExposure()))
	opts := scanOptions()
	opts.AgentTypes = []string{config.AgentRecon, config.AgentVulnerability, config.AgentGeneral}

	cancelled := 0
	for i := 0; i < 30; i++ {
		s := e.createScan(t, opts)
		run, err := e.orch.StartScan(context.Background(), s.ID)
		require.NoError(t, err)
		err = e.orch.CancelScan(context.Background(), s.ID)
		waitRun(t, run)
		if errors.Is(err, ErrInvalidTransition) {
			// Finished before the cancel landed.
			continue
		}
		require.NoError(t, err)
		cancelled++

		assert.Equal(t, db.ScanCancelled, e.reload(t, s.ID).Status)
		agents, err := e.store.ListAgentsByScan(s.ID)
		require.NoError(t, err)
		for _, a := range agents {
			if a.AgentType == RootAgentType {
				assert.Equal(t, db.AgentCancelled, a.Status, "scan %d root agent", s.ID)
				continue
			}
			assert.Contains(t, []db.AgentStatus{db.AgentCancelled, db.AgentCompleted}, a.Status,
				"scan %d %s agent: %s", s.ID, a.AgentType, a.ErrorMessage)
		}
	}
	assert.NotZero(t, cancelled)
	assert.Empty(t, e.orch.Running())
}

func TestStartScanFailsRootAgentThatCannotStart(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning())
	s := e.createScan(t, scanOptions())

	_, err := e.store.Exec(`CREATE TRIGGER refuse_root_start BEFORE UPDATE OF status ON agent
		WHEN NEW.agent_type = '` + RootAgentType + `' AND NEW.status = '` + string(db.AgentRunning) + `'
		BEGIN SELECT RAISE(ABORT, 'root start refused'); END`)
	require.NoError(t, err)

	_, err = e.orch.StartScan(context.Background(), s.ID)
	require.ErrorContains(t, err, "root start refused")

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanFailed, got.Status)
	agents, err := e.store.ListAgentsByScan(s.ID)
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, db.AgentFailed, agents[0].Status)
	assert.Contains(t, agents[0].ErrorMessage, "root start refused")
	assert.NotNil(t, agents[0].FinishedAt)
	assert.Empty(t, e.orch.Running())
}

func TestCancelPendingScanIsInvalid(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning())
	s := e.createScan(t, scanOptions())

	err := e.orch.CancelScan(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, db.ScanPending, e.reload(t, s.ID).Status)

	assert.ErrorIs(t, e.orch.CancelScan(context.Background(), 999), ErrScanNotFound)
}

func TestStartScanPreconditions(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning())
	s := e.createScan(t, scanOptions())

	_, err := e.orch.StartScan(context.Background(), 999)
	assert.ErrorIs(t, err, ErrScanNotFound)

	_, err = e.orch.StartScan(WithUser(context.Background(), "mallory"), s.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, db.ScanPending, e.reload(t, s.ID).Status)

	run, err := e.orch.StartScan(WithUser(context.Background(), "alice"), s.ID)
	require.NoError(t, err)
	_, err = e.orch.StartScan(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	waitRun(t, run)

	_, err = e.orch.StartScan(context.Background(), s.ID)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, db.ScanCompleted, e.reload(t, s.ID).Status)
}

func TestCreateScanValidation(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning())
	ctx := context.Background()

	_, err := e.orch.CreateScan(ctx, 999, e.target.ID, scanOptions())
	assert.ErrorIs(t, err, ErrProjectNotFound)

	other, err := e.store.CreateProject("other", "", "alice")
	require.NoError(t, err)
	_, err = e.orch.CreateScan(ctx, other.ID, e.target.ID, scanOptions())
	assert.ErrorIs(t, err, ErrTargetNotFound)

	opts := scanOptions()
	opts.AgentTypes = []string{"fuzzer"}
	_, err = e.orch.CreateScan(ctx, e.project.ID, e.target.ID, opts)
	assert.ErrorContains(t, err, `unknown agent type "fuzzer"`)

	_, err = e.orch.CreateScan(WithUser(ctx, "mallory"), e.project.ID, e.target.ID, scanOptions())
	assert.ErrorIs(t, err, ErrUnauthorized)

	s, err := e.orch.CreateScan(WithUser(ctx, "alice"), e.project.ID, e.target.ID, scanOptions())
	require.NoError(t, err)
	assert.Equal(t, "alice", s.CreatedBy)
	var stored config.ScanOptions
	require.NoError(t, json.Unmarshal(s.Config, &stored))
	assert.Equal(t, []string{config.AgentRecon}, stored.AgentTypes)
}

func TestGetScanStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning(dataExposure()), func(o *Options) {
		o.Clock = func() time.Time { return now }
	})
	s := e.createScan(t, scanOptions())

	st, err := e.orch.GetScanStatus(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, st.Progress)
	assert.Zero(t, st.FindingsCount)
	assert.Len(t, st.Counts, 5)

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	waitRun(t, run)

	st, err = e.orch.GetScanStatus(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Equal(t, 100, st.Progress)
	assert.Equal(t, 3, st.FindingsCount)
	assert.Equal(t, 2, st.Counts[finding.High])

	agents, err := e.orch.ListScanAgents(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, agents, 2)

	_, err = e.orch.GetScanStatus(context.Background(), 999)
	assert.ErrorIs(t, err, ErrScanNotFound)
	_, err = e.orch.ListScanAgents(WithUser(context.Background(), "mallory"), s.ID)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestProgress(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		status  db.ScanStatus
		started *time.Time
		elapsed time.Duration
		want    int
	}{
		{"pending", db.ScanPending, nil, 0, 0},
		{"running without start", db.ScanRunning, nil, 0, 10},
		{"just started", db.ScanRunning, &start, 0, 0},
		{"three minutes", db.ScanRunning, &start, 3*time.Minute + 30*time.Second, 35},
		{"capped", db.ScanRunning, &start, 2 * time.Hour, 90},
		{"completed", db.ScanCompleted, &start, time.Minute, 100},
		{"failed", db.ScanFailed, &start, time.Minute, 0},
		{"cancelled", db.ScanCancelled, &start, time.Minute, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := db.Scan{Status: tt.status, StartedAt: tt.started}
			assert.Equal(t, tt.want, Progress(s, start.Add(tt.elapsed)))
		})
	}
}

func TestGetScanReport(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning(dataExposure()))
	s := e.createScan(t, scanOptions())

	// A report can be produced before the scan ran.
	data, rec, err := e.orch.GetScanReport(context.Background(), s.ID, "md")
	require.NoError(t, err)
	assert.Contains(t, string(data), "Security Assessment")
	assert.Equal(t, "orange_sage_report_1.md", rec.Filename)
	assert.Equal(t, db.ReportCompleted, rec.Status)

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	waitRun(t, run)

	data, rec, err = e.orch.GetScanReport(context.Background(), s.ID, "html")
	require.NoError(t, err)
	assert.Contains(t, string(data), "SQL Injection in Login Form")
	assert.Equal(t, int64(len(data)), rec.SizeBytes)

	_, _, err = e.orch.GetScanReport(context.Background(), s.ID, "docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
	_, _, err = e.orch.GetScanReport(context.Background(), 999, "pdf")
	assert.ErrorIs(t, err, ErrScanNotFound)

	reports, err := e.orch.ListReports(context.Background(), s.ID)
	require.NoError(t, err)
	assert.Len(t, reports, 3)
}

func TestUpdateFindingStatus(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning())
	s := e.createScan(t, scanOptions())
	_, err := e.store.MarkScanRunning(s.ID, time.Now())
	require.NoError(t, err)
	stored, err := e.store.AppendFindings(s.ID, []finding.Finding{dataExposure()})
	require.NoError(t, err)
	id := stored[0].ID

	_, err = e.orch.UpdateFindingStatus(context.Background(), id, finding.StatusResolved)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = e.store.CompleteScan(s.ID, []byte(`{}`), time.Now())
	require.NoError(t, err)
	f, err := e.orch.UpdateFindingStatus(context.Background(), id, finding.StatusFalsePositive)
	require.NoError(t, err)
	assert.Equal(t, finding.StatusFalsePositive, f.Status)

	_, err = e.orch.UpdateFindingStatus(context.Background(), id, "ignored")
	assert.ErrorIs(t, err, finding.ErrInvalidStatus)
	_, err = e.orch.UpdateFindingStatus(context.Background(), 999, finding.StatusOpen)
	assert.ErrorIs(t, err, ErrFindingNotFound)

	open, err := e.orch.ListFindings(context.Background(), db.FindingFilter{ScanID: s.ID, Status: finding.StatusOpen})
	require.NoError(t, err)
	assert.Empty(t, open)
}

func TestListScansHidesForeignProjects(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning())
	e.createScan(t, scanOptions())

	other, err := e.store.CreateProject("bob's", "", "bob")
	require.NoError(t, err)
	target, err := e.store.CreateTarget(db.Target{ProjectID: other.ID, Name: "api", Type: "domain", Value: "api.example"})
	require.NoError(t, err)
	_, err = e.orch.CreateScan(context.Background(), other.ID, target.ID, scanOptions())
	require.NoError(t, err)

	all, err := e.orch.ListScans(context.Background(), db.ScanFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 2)

	mine, err := e.orch.ListScans(WithUser(context.Background(), "alice"), db.ScanFilter{})
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, e.project.ID, mine[0].ProjectID)

	_, err = e.orch.ListScans(WithUser(context.Background(), "alice"), db.ScanFilter{ProjectID: other.ID})
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestShutdownFailsRunningScans(t *testing.T) {
	gen := newGatedLLM()
	services := blockingServices()
	e := newEnv(t, gen, services)
	s := e.createScan(t, scanOptions())

	run, err := e.orch.StartScan(context.Background(), s.ID)
	require.NoError(t, err)
	<-gen.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.orch.Shutdown(ctx))
	waitRun(t, run)
	assert.ErrorIs(t, run.Err(), errShutdown)

	got := e.reload(t, s.ID)
	assert.Equal(t, db.ScanFailed, got.Status)
	assert.Equal(t, errShutdown.Error(), got.ErrorMessage)
	assert.Equal(t, 1, services.cleanups)

	next := e.createScan(t, scanOptions())
	_, err = e.orch.StartScan(context.Background(), next.ID)
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestRecoverFailsInterruptedScans(t *testing.T) {
	e := newEnv(t, fixedLLM{reply: sqliReply}, returning())
	running := e.createScan(t, scanOptions())
	pending := e.createScan(t, scanOptions())
	_, err := e.store.MarkScanRunning(running.ID, time.Now())
	require.NoError(t, err)

	n, err := e.orch.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := e.reload(t, running.ID)
	assert.Equal(t, db.ScanFailed, got.Status)
	assert.Contains(t, got.ErrorMessage, "interrupted")
	assert.Equal(t, db.ScanPending, e.reload(t, pending.ID).Status)
}
