package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/correlation"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/remediation"
	"github.com/sloppy/orangesage/internal/risk"
)

var errShutdown = errors.New("orchestrator shut down before the scan finished")

// scanRun is the driver's state for one scan.
type scanRun struct {
	run    *Run
	scanID int64
	target db.Target
	opts   config.ScanOptions
	log    *slog.Logger

	mu     sync.Mutex
	phases map[phase.Name]phase.Summary
}

func (sr *scanRun) record(name phase.Name, s phase.Summary) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.phases == nil {
		sr.phases = make(map[phase.Name]phase.Summary)
	}
	sr.phases[name] = s
}

func (sr *scanRun) snapshot() map[phase.Name]phase.Summary {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	out := make(map[phase.Name]phase.Summary, len(sr.phases))
	for k, v := range sr.phases {
		out[k] = v
	}
	return out
}

// Summary is stored with a completed scan.
type Summary struct {
	TotalFindings   int                          `json:"total_findings"`
	Counts          finding.Counts               `json:"findings_by_severity"`
	Risk            risk.Assessment              `json:"risk_assessment"`
	Correlation     correlation.Result           `json:"correlation"`
	Recommendations []string                     `json:"recommendations"`
	Phases          map[phase.Name]phase.Summary `json:"phases"`
	CompletedAt     time.Time                    `json:"completed_at"`
}

// ParseSummary decodes a stored scan summary. An empty summary decodes to
// the zero value.
func ParseSummary(raw json.RawMessage) (Summary, error) {
	var s Summary
	if len(raw) == 0 || string(raw) == "null" {
		return s, nil
	}
	if err := json.Unmarshal(raw, &s); err != nil {
		return Summary{}, fmt.Errorf("decode scan summary: %w", err)
	}
	return s, nil
}

func (o *Orchestrator) summarize(findings []finding.Finding, phases map[phase.Name]phase.Summary) Summary {
	return Summary{
		TotalFindings:   len(findings),
		Counts:          finding.Count(findings),
		Risk:            risk.Assess(findings),
		Correlation:     o.correlator.Correlate(findings),
		Recommendations: remediation.Generate(findings),
		Phases:          phases,
		CompletedAt:     o.now(),
	}
}

func (o *Orchestrator) drive(ctx context.Context, sr *scanRun) {
	defer o.wg.Done()
	defer o.finish(sr)

	ctx, span := o.tracer.Start(ctx, "scan", trace.WithAttributes(
		attribute.Int64("scan.id", sr.scanID),
		attribute.String("scan.target", sr.target.Value),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("orchestration panic: %v", r)
			span.SetStatus(codes.Error, err.Error())
			o.failScan(sr, err)
		}
	}()

	if err := o.execute(ctx, sr); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		o.failScan(sr, err)
	}
}

func (o *Orchestrator) finish(sr *scanRun) {
	o.mu.Lock()
	delete(o.runs, sr.scanID)
	o.mu.Unlock()
	sr.run.cancel()
	if o.metrics != nil {
		o.metrics.ScansRunning.Dec()
	}
	close(sr.run.done)
}

// execute runs the phase graph. A non-nil error fails the scan.
func (o *Orchestrator) execute(ctx context.Context, sr *scanRun) error {
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		o.runPhase(ctx, sr, phase.AgentPentest, sr.opts.EnableAgentPentest, o.pentest)
	}()
	go func() {
		defer wg.Done()
		o.runPhase(ctx, sr, phase.Microservices, sr.opts.EnableMicroservices, o.analyzeServices)
	}()
	wg.Wait()

	if stop, err := o.stillRunning(sr); stop {
		return err
	}
	o.runPhase(ctx, sr, phase.Advanced, true, o.advanced)

	if stop, err := o.stillRunning(sr); stop {
		return err
	}
	o.runPhase(ctx, sr, phase.Report, sr.opts.GenerateReport, o.generateReport)

	if stop, err := o.stillRunning(sr); stop {
		return err
	}
	return o.complete(sr)
}

// stillRunning reports whether the driver should stop, and the error that
// fails the scan if so. A scan cancelled in the meantime stops quietly.
func (o *Orchestrator) stillRunning(sr *scanRun) (bool, error) {
	if o.base.Err() != nil {
		return true, errShutdown
	}
	s, found, err := o.db.GetScan(sr.scanID)
	if err != nil {
		return true, err
	}
	if !found {
		return true, fmt.Errorf("%w: %d vanished during execution", ErrScanNotFound, sr.scanID)
	}
	if s.Status != db.ScanRunning {
		sr.log.Info("scan no longer running; stopping", "status", s.Status)
		return true, nil
	}
	return false, nil
}

func (o *Orchestrator) complete(sr *scanRun) error {
	findings, err := o.db.ListFindings(db.FindingFilter{ScanID: sr.scanID})
	if err != nil {
		return err
	}
	summary := o.summarize(findings, sr.snapshot())
	raw, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode scan summary: %w", err)
	}
	now := o.now()
	ok, err := o.db.CompleteScan(sr.scanID, raw, now)
	if err != nil {
		return err
	}
	if !ok {
		sr.log.Info("scan left running state before completion; summary discarded")
		return nil
	}

	rootResult, err := json.Marshal(map[string]any{
		"total_findings": summary.TotalFindings,
		"risk_level":     summary.Risk.Level,
		"phases":         summary.Phases,
	})
	if err != nil {
		return fmt.Errorf("encode root agent result: %w", err)
	}
	if _, err := o.db.CompleteAgent(sr.run.RootAgentID, rootResult, now); err != nil {
		sr.log.Error("complete root agent", "error", err)
	}
	if o.metrics != nil {
		o.metrics.ScanFinished(string(db.ScanCompleted))
	}
	sr.log.Info("scan completed",
		"findings", summary.TotalFindings,
		"risk_score", summary.Risk.Score,
		"risk_level", summary.Risk.Level,
	)
	return nil
}

func (o *Orchestrator) failScan(sr *scanRun, cause error) {
	sr.run.err = cause
	now := o.now()
	ok, err := o.db.FailScan(sr.scanID, cause.Error(), now)
	if err != nil {
		sr.log.Error("fail scan", "error", err)
		return
	}
	if !ok {
		sr.log.Warn("scan already terminal; failure not recorded", "error", cause)
		return
	}
	if _, err := o.db.FailAgent(sr.run.RootAgentID, cause.Error(), now); err != nil {
		sr.log.Error("fail root agent", "error", err)
	}
	if _, err := o.agents.CancelScan(sr.scanID); err != nil {
		sr.log.Error("cancel agents of failed scan", "error", err)
	}
	if o.metrics != nil {
		o.metrics.ScanFinished(string(db.ScanFailed))
	}
	sr.log.Error("scan failed", "error", cause)
}

type phaseFunc func(ctx context.Context, sr *scanRun) phase.Result

// runPhase executes fn under the phase timeout, merges its findings and
// records its summary. Panics and errors become a failed result.
func (o *Orchestrator) runPhase(ctx context.Context, sr *scanRun, name phase.Name, enabled bool, fn phaseFunc) phase.Result {
	log := sr.log.With("phase", name)
	if !enabled {
		log.Debug("phase disabled")
		sr.record(name, phase.Summary{Success: true, Skipped: true})
		return phase.Result{Success: true}
	}

	timeout := sr.opts.Timeout(o.phaseTimeout)
	ctx, span := o.tracer.Start(ctx, "phase "+string(name), trace.WithAttributes(
		attribute.Int64("scan.id", sr.scanID),
		attribute.String("phase.name", string(name)),
	))
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info("phase started", "timeout", timeout)
	start := time.Now()
	res := call(ctx, sr, fn)
	if !res.Success {
		if res.Err == nil {
			res.Err = errors.New("phase reported failure")
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.Err = fmt.Errorf("timed out after %s: %w", timeout, res.Err)
		}
		res.Findings = nil
	} else {
		res = o.merge(sr, res, log)
	}
	took := time.Since(start)

	if o.metrics != nil {
		o.metrics.ObservePhase(string(name), res.Success, took)
	}
	span.SetAttributes(attribute.Int("phase.findings", len(res.Findings)))
	if res.Success {
		log.Info("phase finished", "findings", len(res.Findings), "took", took)
	} else {
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, res.Err.Error())
		log.Warn("phase failed", "error", res.Err, "took", took)
	}
	sr.record(name, res.Summarize())
	return res
}

func call(ctx context.Context, sr *scanRun, fn phaseFunc) (res phase.Result) {
	defer func() {
		if r := recover(); r != nil {
			res = phase.Failed(fmt.Errorf("panic: %v", r))
		}
	}()
	return fn(ctx, sr)
}

// merge stores a successful phase's findings. Findings for a scan that is
// no longer running are dropped.
func (o *Orchestrator) merge(sr *scanRun, res phase.Result, log *slog.Logger) phase.Result {
	if len(res.Findings) == 0 {
		return res
	}
	stored, err := o.db.AppendFindings(sr.scanID, res.Findings)
	switch {
	case errors.Is(err, db.ErrScanNotRunning):
		log.Info("scan no longer running; discarding findings", "findings", len(res.Findings))
		res.Findings = nil
	case err != nil:
		failed := phase.Failed(fmt.Errorf("store findings: %w", err))
		failed.Detail = res.Detail
		return failed
	default:
		res.Findings = stored
		if o.metrics != nil {
			o.metrics.AddFindings(stored)
		}
	}
	return res
}
