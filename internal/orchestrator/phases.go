package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sloppy/orangesage/internal/agent"
	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/remediation"
	"github.com/sloppy/orangesage/internal/report"
	"github.com/sloppy/orangesage/internal/risk"
)

// AgentOutcome is one agent's entry in the pentest phase detail.
type AgentOutcome struct {
	AgentID  string `json:"agent_id,omitempty"`
	Type     string `json:"agent_type"`
	Success  bool   `json:"success"`
	Findings int    `json:"findings"`
	Error    string `json:"error,omitempty"`
}

// pentest spawns one child agent per configured type and runs them with at
// most maxAgents in flight. The phase fails only when every agent failed.
func (o *Orchestrator) pentest(ctx context.Context, sr *scanRun) phase.Result {
	types := sr.opts.AgentTypes
	if len(types) == 0 {
		types = []string{config.AgentGeneral}
	}
	model := sr.opts.Model
	if model == "" {
		model = o.model
	}

	outcomes := make([]AgentOutcome, len(types))
	results := make([]phase.Result, len(types))
	sem := make(chan struct{}, o.maxAgents)
	var wg sync.WaitGroup
	for i, typ := range types {
		if err := ctx.Err(); err != nil {
			outcomes[i] = AgentOutcome{Type: typ}
			results[i] = phase.Failed(fmt.Errorf("spawn %s agent: %w", typ, err))
			continue
		}
		a, err := o.agents.Spawn(agent.Spec{
			ScanID:        sr.scanID,
			ParentID:      sr.run.RootAgentID,
			Type:          typ,
			Task:          fmt.Sprintf("Perform %s security testing on %s", typ, sr.target.Value),
			Model:         model,
			MaxIterations: o.maxIterations,
		})
		if err != nil {
			outcomes[i] = AgentOutcome{Type: typ}
			results[i] = phase.Failed(fmt.Errorf("spawn %s agent: %w", typ, err))
			continue
		}
		outcomes[i] = AgentOutcome{AgentID: a.ID, Type: typ}
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = o.agents.Execute(ctx, a, sr.target)
		}()
	}
	wg.Wait()

	var findings []finding.Finding
	var errs []error
	for i, res := range results {
		outcomes[i].Success = res.Success
		outcomes[i].Findings = len(res.Findings)
		if !res.Success {
			err := res.Err
			if err == nil {
				err = fmt.Errorf("%s agent failed", outcomes[i].Type)
			}
			outcomes[i].Error = err.Error()
			errs = append(errs, err)
			continue
		}
		findings = append(findings, res.Findings...)
	}
	if len(errs) == len(results) {
		return phase.Result{Err: errors.Join(errs...), Detail: outcomes}
	}
	return phase.Succeeded(findings, outcomes)
}

func (o *Orchestrator) analyzeServices(ctx context.Context, sr *scanRun) phase.Result {
	if o.services == nil {
		return phase.Failed(errors.New("analysis services not configured"))
	}
	return o.services.Analyze(ctx, sr.target.Value, sr.opts)
}

// AnalysisDetail is the advanced analysis phase detail.
type AnalysisDetail struct {
	FindingsAnalyzed int             `json:"findings_analyzed"`
	Risk             risk.Assessment `json:"risk_assessment"`
	AttackChains     []string        `json:"attack_chains"`
	CorrelationScore int             `json:"correlation_score"`
	Recommendations  int             `json:"recommendations"`
}

// advanced reads every finding stored so far and derives risk, attack
// chains and recommendations. It adds no findings.
func (o *Orchestrator) advanced(ctx context.Context, sr *scanRun) phase.Result {
	if err := ctx.Err(); err != nil {
		return phase.Failed(err)
	}
	findings, err := o.db.ListFindings(db.FindingFilter{ScanID: sr.scanID})
	if err != nil {
		return phase.Failed(err)
	}
	corr := o.correlator.Correlate(findings)
	chains := make([]string, 0, len(corr.AttackChains))
	for _, c := range corr.AttackChains {
		chains = append(chains, c.Name)
	}
	return phase.Succeeded(nil, AnalysisDetail{
		FindingsAnalyzed: len(findings),
		Risk:             risk.Assess(findings),
		AttackChains:     chains,
		CorrelationScore: corr.Score,
		Recommendations:  len(remediation.Generate(findings)),
	})
}

// ReportDetail is the report phase detail.
type ReportDetail struct {
	ReportID  int64  `json:"report_id"`
	Format    string `json:"format"`
	Filename  string `json:"filename"`
	SizeBytes int64  `json:"size_bytes"`
}

func (o *Orchestrator) generateReport(ctx context.Context, sr *scanRun) phase.Result {
	format := sr.opts.ReportFormat
	if format == "" {
		format = string(report.PDF)
	}
	f, err := report.ParseFormat(format)
	if err != nil {
		return phase.Failed(err)
	}
	s, found, err := o.db.GetScan(sr.scanID)
	if err != nil {
		return phase.Failed(err)
	}
	if !found {
		return phase.Failed(fmt.Errorf("%w: %d", ErrScanNotFound, sr.scanID))
	}
	_, rec, err := o.render(ctx, s, f, sr.snapshot())
	if err != nil {
		return phase.Failed(err)
	}
	return phase.Succeeded(nil, ReportDetail{
		ReportID:  rec.ID,
		Format:    rec.Format,
		Filename:  rec.Filename,
		SizeBytes: rec.SizeBytes,
	})
}
