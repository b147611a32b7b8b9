// Package orchestrator drives scans through their phases. Agent-based
// penetration testing and service analysis run side by side; correlation and
// risk analysis run once both are done, followed by report generation.
//
// Every scan moves pending -> running -> completed/failed, or running ->
// cancelled. A failing phase is recorded in the scan summary and never fails
// the scan; only errors in the driver itself do.
package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/sloppy/orangesage/internal/agent"
	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/correlation"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/metrics"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/report"
	"github.com/sloppy/orangesage/internal/scope"
	"github.com/sloppy/orangesage/internal/telemetry"
)

// RootAgentType marks the agent record that represents a whole scan run.
const RootAgentType = "orchestrator"

// Defaults applied when Options leaves a limit unset.
const (
	DefaultPhaseTimeout  = 30 * time.Minute
	DefaultMaxIterations = 200
	DefaultMaxAgents     = 10
)

// AgentRunner creates and runs agents. *agent.Manager implements it.
type AgentRunner interface {
	Spawn(spec agent.Spec) (db.Agent, error)
	Execute(ctx context.Context, a db.Agent, target db.Target) phase.Result
	CancelScan(scanID int64) (int64, error)
	Cleanup() int
}

// ServiceAnalyzer fans a target out to the analysis services.
// *microservices.Runner implements it.
type ServiceAnalyzer interface {
	Analyze(ctx context.Context, target string, opts config.ScanOptions) phase.Result
	Cleanup() int
}

// Options tunes an Orchestrator. Zero values take defaults.
type Options struct {
	PhaseTimeout  time.Duration
	MaxIterations int
	MaxAgents     int
	Model         string
	Branding      report.Branding
	// ReportDir, when set, receives a copy of every rendered report.
	ReportDir string
	// Scope restricts which targets may be added. Nil allows all.
	Scope     *scope.Matcher
	Rules     []correlation.Rule
	Metrics   *metrics.Metrics
	Tracer    trace.Tracer
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Orchestrator owns scan state transitions. It is safe for concurrent use.
type Orchestrator struct {
	db         *db.DB
	agents     AgentRunner
	services   ServiceAnalyzer
	correlator *correlation.Correlator
	branding   report.Branding
	reportDir  string
	scope      *scope.Matcher
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	logger     *slog.Logger
	now        func() time.Time

	phaseTimeout  time.Duration
	maxIterations int
	maxAgents     int
	model         string

	base context.Context
	stop context.CancelFunc
	wg   sync.WaitGroup

	mu      sync.Mutex
	runs    map[int64]*Run
	closing bool
}

// New wires an orchestrator. services may be nil, in which case the
// service analysis phase always fails.
func New(store *db.DB, agents AgentRunner, services ServiceAnalyzer, opts Options) *Orchestrator {
	o := &Orchestrator{
		db:            store,
		agents:        agents,
		services:      services,
		correlator:    correlation.New(opts.Rules...),
		branding:      opts.Branding,
		reportDir:     opts.ReportDir,
		scope:         opts.Scope,
		metrics:       opts.Metrics,
		tracer:        opts.Tracer,
		logger:        opts.Logger,
		now:           opts.Clock,
		phaseTimeout:  opts.PhaseTimeout,
		maxIterations: opts.MaxIterations,
		maxAgents:     opts.MaxAgents,
		model:         opts.Model,
		runs:          make(map[int64]*Run),
	}
	if o.tracer == nil {
		o.tracer = noop.NewTracerProvider().Tracer(telemetry.TracerName)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.now == nil {
		o.now = time.Now
	}
	if o.phaseTimeout <= 0 {
		o.phaseTimeout = DefaultPhaseTimeout
	}
	if o.maxIterations <= 0 {
		o.maxIterations = DefaultMaxIterations
	}
	if o.maxAgents <= 0 {
		o.maxAgents = DefaultMaxAgents
	}
	o.base, o.stop = context.WithCancel(context.Background())
	return o
}

type userKey struct{}

// WithUser attaches the acting user's ID to ctx. Operations on a project
// owned by someone else then fail with ErrUnauthorized. Without a user no
// ownership check is made.
func WithUser(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserFrom returns the user set by WithUser.
func UserFrom(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

func (o *Orchestrator) authorize(ctx context.Context, p db.Project) error {
	user := UserFrom(ctx)
	if user == "" || p.OwnerID == "" || p.OwnerID == user {
		return nil
	}
	return fmt.Errorf("%w: project %d", ErrUnauthorized, p.ID)
}

func (o *Orchestrator) project(ctx context.Context, id int64) (db.Project, error) {
	p, found, err := o.db.GetProjectByID(id)
	if err != nil {
		return db.Project{}, err
	}
	if !found {
		return db.Project{}, fmt.Errorf("%w: %d", ErrProjectNotFound, id)
	}
	return p, o.authorize(ctx, p)
}

// scan loads a scan and checks the caller may act on it.
func (o *Orchestrator) scan(ctx context.Context, id int64) (db.Scan, error) {
	s, found, err := o.db.GetScan(id)
	if err != nil {
		return db.Scan{}, err
	}
	if !found {
		return db.Scan{}, fmt.Errorf("%w: %d", ErrScanNotFound, id)
	}
	if _, err := o.project(ctx, s.ProjectID); err != nil {
		return db.Scan{}, err
	}
	return s, nil
}

// CreateScan records a pending scan of a project target.
func (o *Orchestrator) CreateScan(ctx context.Context, projectID, targetID int64, opts config.ScanOptions) (db.Scan, error) {
	if _, err := o.project(ctx, projectID); err != nil {
		return db.Scan{}, err
	}
	t, found, err := o.db.GetTarget(targetID)
	if err != nil {
		return db.Scan{}, err
	}
	if !found || t.ProjectID != projectID {
		return db.Scan{}, fmt.Errorf("%w: %d", ErrTargetNotFound, targetID)
	}
	if err := opts.Validate(); err != nil {
		return db.Scan{}, fmt.Errorf("invalid scan options: %w", err)
	}
	raw, err := json.Marshal(opts)
	if err != nil {
		return db.Scan{}, fmt.Errorf("encode scan options: %w", err)
	}
	s, err := o.db.CreateScan(db.Scan{
		ProjectID: projectID,
		TargetID:  targetID,
		CreatedBy: UserFrom(ctx),
		Config:    raw,
	})
	if err != nil {
		return db.Scan{}, err
	}
	o.logger.Info("scan created", "scan_id", s.ID, "project_id", projectID, "target_id", targetID)
	return s, nil
}

// Run is the handle to one scan executing in the background.
type Run struct {
	ScanID      int64
	RootAgentID string

	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Done is closed once the scan reached a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Err reports why the driver failed the scan. Only valid after Done.
func (r *Run) Err() error { return r.err }

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartScan moves a pending scan to running and executes its phases in the
// background. It returns once the transition is stored.
func (o *Orchestrator) StartScan(ctx context.Context, scanID int64) (*Run, error) {
	s, err := o.scan(ctx, scanID)
	if err != nil {
		return nil, err
	}
	if s.Status != db.ScanPending {
		return nil, fmt.Errorf("%w: scan %d is %s", ErrInvalidTransition, scanID, s.Status)
	}
	opts, err := config.ParseScanOptions(s.Config)
	if err != nil {
		return nil, err
	}
	t, found, err := o.db.GetTarget(s.TargetID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %d", ErrTargetNotFound, s.TargetID)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closing {
		return nil, ErrShuttingDown
	}

	ok, err := o.db.MarkScanRunning(scanID, o.now())
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: scan %d is no longer pending", ErrInvalidTransition, scanID)
	}

	root, err := o.startRootAgent(s, t)
	if err != nil {
		if _, ferr := o.db.FailScan(scanID, err.Error(), o.now()); ferr != nil {
			o.logger.Error("fail scan", "scan_id", scanID, "error", ferr)
		}
		return nil, err
	}

	runCtx, cancel := context.WithCancel(o.base)
	run := &Run{ScanID: scanID, RootAgentID: root.ID, cancel: cancel, done: make(chan struct{})}
	o.runs[scanID] = run
	if o.metrics != nil {
		o.metrics.ScansRunning.Inc()
	}

	sr := &scanRun{
		run:    run,
		scanID: scanID,
		target: t,
		opts:   opts,
		log:    o.logger.With("scan_id", scanID),
	}
	o.wg.Add(1)
	go o.drive(runCtx, sr)

	sr.log.Info("scan started", "target", t.Value, "root_agent_id", root.ID)
	return run, nil
}

func (o *Orchestrator) startRootAgent(s db.Scan, t db.Target) (db.Agent, error) {
	a, err := o.db.CreateAgent(db.Agent{
		ID:            uuid.NewString(),
		ScanID:        s.ID,
		Name:          "Orange Sage scan",
		AgentType:     RootAgentType,
		Task:          fmt.Sprintf("Comprehensive security assessment of %s", t.Value),
		MaxIterations: o.maxIterations,
	})
	if err != nil {
		return db.Agent{}, err
	}
	ok, err := o.db.MarkAgentRunning(a.ID, o.now())
	if err != nil {
		if _, ferr := o.db.FailAgent(a.ID, err.Error(), o.now()); ferr != nil {
			o.logger.Error("fail root agent", "scan_id", s.ID, "error", ferr)
		}
		return db.Agent{}, err
	}
	if !ok {
		// Cancelled between MarkScanRunning and here.
		if _, cerr := o.db.CancelAgent(a.ID, o.now()); cerr != nil {
			o.logger.Error("cancel root agent", "scan_id", s.ID, "error", cerr)
		}
		return db.Agent{}, fmt.Errorf("%w: scan %d stopped while starting", ErrInvalidTransition, s.ID)
	}
	return a, nil
}

// Running lists the IDs of scans with a live driver.
func (o *Orchestrator) Running() []int64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]int64, 0, len(o.runs))
	for id := range o.runs {
		ids = append(ids, id)
	}
	return ids
}

// CancelScan stops a running scan. Running agents are marked cancelled and
// late phase results are discarded. Cancelling a scan that is not running
// returns ErrInvalidTransition.
func (o *Orchestrator) CancelScan(ctx context.Context, scanID int64) error {
	s, err := o.scan(ctx, scanID)
	if err != nil {
		return err
	}
	ok, err := o.db.CancelScan(scanID, o.now())
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: scan %d is %s", ErrInvalidTransition, scanID, s.Status)
	}
	n, err := o.agents.CancelScan(scanID)
	if err != nil {
		o.logger.Error("cancel scan agents", "scan_id", scanID, "error", err)
	}

	o.mu.Lock()
	run := o.runs[scanID]
	o.mu.Unlock()
	if run != nil {
		run.cancel()
	}
	if o.metrics != nil {
		o.metrics.ScanFinished(string(db.ScanCancelled))
	}
	o.logger.Info("scan cancelled", "scan_id", scanID, "agents_cancelled", n)
	return nil
}

// Shutdown cancels every running scan, marks them failed and waits for
// their drivers to exit or ctx to expire. Agent sandboxes and service
// sessions are released.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closing = true
	o.mu.Unlock()
	o.stop()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	agents := o.agents.Cleanup()
	sessions := 0
	if o.services != nil {
		sessions = o.services.Cleanup()
	}
	o.logger.Info("orchestrator stopped", "agents_cancelled", agents, "sessions_cancelled", sessions)
	return err
}

// Recover fails scans left running by a previous process. It must be called
// before any scan is started.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	scans, err := o.db.ListScans(db.ScanFilter{Status: db.ScanRunning})
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range scans {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		now := o.now()
		ok, err := o.db.FailScan(s.ID, "interrupted: process restarted", now)
		if err != nil {
			return n, err
		}
		if !ok {
			continue
		}
		if _, err := o.db.CancelActiveAgents(s.ID, now); err != nil {
			return n, err
		}
		n++
		o.logger.Warn("recovered interrupted scan", "scan_id", s.ID)
	}
	return n, nil
}
