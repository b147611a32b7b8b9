package microservices

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/risk"
)

// Session and per-service states.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// ServiceResult is the outcome of one service call within a session.
type ServiceResult struct {
	Status   string        `json:"status"`
	Findings int           `json:"findings"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration_ns"`
}

// Session is one fan-out of a target to the enabled services.
type Session struct {
	ID          string                     `json:"analysis_id"`
	Target      string                     `json:"target"`
	Status      string                     `json:"status"`
	StartedAt   time.Time                  `json:"started_at"`
	CompletedAt *time.Time                 `json:"completed_at,omitempty"`
	Services    map[Service]*ServiceResult `json:"services"`
	Summary     *Summary                   `json:"summary,omitempty"`
}

func (s *Session) clone() Session {
	out := *s
	out.Services = make(map[Service]*ServiceResult, len(s.Services))
	for k, v := range s.Services {
		r := *v
		out.Services[k] = &r
	}
	return out
}

type activeSession struct {
	session *Session
	cancel  context.CancelFunc
}

// Runner executes analysis sessions and keeps the running ones addressable
// for status and cancellation.
type Runner struct {
	client    *Client
	endpoints Endpoints
	logger    *slog.Logger
	now       func() time.Time

	// OnCall, when set, observes every finished service call.
	OnCall func(s Service, err error)

	mu       sync.Mutex
	sessions map[string]*activeSession
}

func NewRunner(client *Client, endpoints Endpoints, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		client:    client,
		endpoints: endpoints,
		logger:    logger,
		now:       time.Now,
		sessions:  make(map[string]*activeSession),
	}
}

type callOutcome struct {
	service  Service
	findings []finding.Finding
	err      error
	took     time.Duration
}

// Analyze sends target to every service opts enables and waits for all of
// them. A service that fails contributes no findings; the phase fails only
// when every enabled service failed.
func (r *Runner) Analyze(ctx context.Context, target string, opts config.ScanOptions) phase.Result {
	services := enabled(opts)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sess := &Session{
		ID:        uuid.NewString(),
		Target:    target,
		Status:    StatusRunning,
		StartedAt: r.now(),
		Services:  make(map[Service]*ServiceResult, len(services)),
	}
	for _, s := range services {
		sess.Services[s] = &ServiceResult{Status: StatusRunning}
	}
	r.mu.Lock()
	r.sessions[sess.ID] = &activeSession{session: sess, cancel: cancel}
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		delete(r.sessions, sess.ID)
		r.mu.Unlock()
	}()

	log := r.logger.With("analysis_id", sess.ID, "target", target)
	log.Info("analysis started", "services", len(services))

	outcomes := make([]callOutcome, len(services))
	var wg sync.WaitGroup
	for i, s := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcomes[i] = r.call(ctx, s, sess.ID, target, opts)
			r.record(sess, outcomes[i])
		}()
	}
	wg.Wait()

	var (
		findings []finding.Finding
		errs     []error
	)
	for _, o := range outcomes {
		if o.err != nil {
			log.Warn("service failed", "service", o.service, "error", o.err)
			errs = append(errs, fmt.Errorf("%s: %w", o.service, o.err))
			continue
		}
		findings = append(findings, o.findings...)
	}

	summary := Summarize(findings)
	completed := r.now()
	r.mu.Lock()
	sess.Summary = &summary
	sess.CompletedAt = &completed
	sess.Status = StatusCompleted
	if ctx.Err() != nil {
		sess.Status = StatusCancelled
	}
	snapshot := sess.clone()
	r.mu.Unlock()

	log.Info("analysis finished", "findings", len(findings), "failed_services", len(errs))
	if len(services) > 0 && len(errs) == len(services) {
		res := phase.Failed(errors.Join(errs...))
		res.Detail = snapshot
		return res
	}
	return phase.Succeeded(findings, snapshot)
}

func (r *Runner) call(ctx context.Context, s Service, analysisID, target string, opts config.ScanOptions) callOutcome {
	start := r.now()
	ep, ok := r.endpoints[s]
	if !ok || ep.URL == "" {
		return callOutcome{service: s, err: fmt.Errorf("no endpoint configured")}
	}
	raws, err := r.client.Call(ctx, ep, requestBody(s, analysisID, target, opts))
	out := callOutcome{service: s, err: err, took: r.now().Sub(start)}
	if r.OnCall != nil {
		r.OnCall(s, err)
	}
	if err != nil {
		return out
	}
	out.findings = make([]finding.Finding, 0, len(raws))
	for _, raw := range raws {
		out.findings = append(out.findings, raw.Normalize("Microservices Finding", "microservices", finding.ProvenanceMicroservices))
	}
	return out
}

func (r *Runner) record(sess *Session, o callOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := sess.Services[o.service]
	res.Duration = o.took
	if o.err != nil {
		res.Status = StatusFailed
		res.Error = o.err.Error()
		return
	}
	res.Status = StatusCompleted
	res.Findings = len(o.findings)
}

// Status returns a snapshot of a running session.
func (r *Runner) Status(analysisID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.sessions[analysisID]
	if !ok {
		return Session{}, false
	}
	return a.session.clone(), true
}

// Running lists the IDs of sessions in flight.
func (r *Runner) Running() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Cancel stops a running session. Its Analyze call returns once the
// in-flight requests unwind.
func (r *Runner) Cancel(analysisID string) bool {
	r.mu.Lock()
	a, ok := r.sessions[analysisID]
	r.mu.Unlock()
	if ok {
		a.cancel()
	}
	return ok
}

// Cleanup cancels every running session and reports how many there were.
func (r *Runner) Cleanup() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.sessions {
		a.cancel()
	}
	return len(r.sessions)
}

// Health probes every configured service concurrently.
func (r *Runner) Health(ctx context.Context) map[Service]Health {
	out := make(map[Service]Health, len(r.endpoints))
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for s, ep := range r.endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := r.client.Check(ctx, ep)
			mu.Lock()
			out[s] = h
			mu.Unlock()
		}()
	}
	wg.Wait()
	return out
}

// TopVulnerabilities is how many findings a Summary lists.
const TopVulnerabilities = 10

// Summary condenses a session's findings.
type Summary struct {
	Total              int               `json:"total_findings"`
	CriticalCount      int               `json:"critical_count"`
	HighCount          int               `json:"high_count"`
	MediumCount        int               `json:"medium_count"`
	LowCount           int               `json:"low_count"`
	RiskScore          int               `json:"risk_score"`
	RiskLevel          risk.Level        `json:"risk_level"`
	FindingsByType     map[string]int    `json:"findings_by_type"`
	TopVulnerabilities []finding.Finding `json:"top_vulnerabilities"`
}

// Summarize scores findings and picks the most severe ones, ordered by
// severity then type.
func Summarize(findings []finding.Finding) Summary {
	a := risk.Assess(findings)
	byType := make(map[string]int)
	for _, f := range findings {
		byType[f.VulnerabilityType]++
	}
	top := append([]finding.Finding(nil), findings...)
	finding.SortBySeverity(top)
	if len(top) > TopVulnerabilities {
		top = top[:TopVulnerabilities]
	}
	return Summary{
		Total:              a.Total,
		CriticalCount:      a.CriticalCount,
		HighCount:          a.HighCount,
		MediumCount:        a.MediumCount,
		LowCount:           a.LowCount,
		RiskScore:          a.Score,
		RiskLevel:          a.Level,
		FindingsByType:     byType,
		TopVulnerabilities: top,
	}
}
