package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/remediation"
	"github.com/sloppy/orangesage/internal/report"
	"github.com/sloppy/orangesage/internal/risk"
)

// GetScanReport renders a scan's report in the named format. Reports can be
// generated in any scan state; each rendering is recorded.
func (o *Orchestrator) GetScanReport(ctx context.Context, scanID int64, format string) ([]byte, db.Report, error) {
	f, err := report.ParseFormat(format)
	if err != nil {
		return nil, db.Report{}, err
	}
	s, err := o.scan(ctx, scanID)
	if err != nil {
		return nil, db.Report{}, err
	}
	summary, err := ParseSummary(s.Summary)
	if err != nil {
		return nil, db.Report{}, err
	}
	return o.render(ctx, s, f, summary.Phases)
}

// ListReports returns the recorded renderings of a scan.
func (o *Orchestrator) ListReports(ctx context.Context, scanID int64) ([]db.Report, error) {
	if _, err := o.scan(ctx, scanID); err != nil {
		return nil, err
	}
	return o.db.ListReports(scanID)
}

func (o *Orchestrator) reportInput(s db.Scan, phases map[phase.Name]phase.Summary) (report.Input, error) {
	p, found, err := o.db.GetProjectByID(s.ProjectID)
	if err != nil {
		return report.Input{}, err
	}
	if !found {
		return report.Input{}, fmt.Errorf("%w: %d", ErrProjectNotFound, s.ProjectID)
	}
	t, found, err := o.db.GetTarget(s.TargetID)
	if err != nil {
		return report.Input{}, err
	}
	if !found {
		return report.Input{}, fmt.Errorf("%w: %d", ErrTargetNotFound, s.TargetID)
	}
	findings, err := o.db.ListFindings(db.FindingFilter{ScanID: s.ID})
	if err != nil {
		return report.Input{}, err
	}
	return report.Input{
		ScanID:          s.ID,
		Project:         p.Name,
		Target:          report.Target{Name: t.Name, Type: t.Type, Value: t.Value},
		Status:          string(s.Status),
		StartedAt:       s.StartedAt,
		FinishedAt:      s.FinishedAt,
		GeneratedAt:     o.now(),
		Findings:        findings,
		Counts:          finding.Count(findings),
		Risk:            risk.Assess(findings),
		Correlation:     o.correlator.Correlate(findings),
		Recommendations: remediation.Generate(findings),
		Phases:          phases,
	}, nil
}

// render produces a report and records it. When a report directory is
// configured the output is also written there.
func (o *Orchestrator) render(ctx context.Context, s db.Scan, f report.Format, phases map[phase.Name]phase.Summary) ([]byte, db.Report, error) {
	in, err := o.reportInput(s, phases)
	if err != nil {
		return nil, db.Report{}, err
	}
	r, err := report.New(f, o.branding)
	if err != nil {
		return nil, db.Report{}, err
	}
	rec, err := o.db.CreateReport(s.ID, string(f), report.Filename(s.ID, f))
	if err != nil {
		return nil, db.Report{}, err
	}
	log := o.logger.With("scan_id", s.ID, "report_id", rec.ID, "format", f)

	start := time.Now()
	var buf bytes.Buffer
	err = r.Render(ctx, in, &buf)
	if err == nil && o.reportDir != "" {
		err = writeReport(o.reportDir, rec.Filename, buf.Bytes())
	}
	if o.metrics != nil {
		o.metrics.ReportDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		if ferr := o.db.FailReport(rec.ID, err.Error()); ferr != nil {
			log.Error("record report failure", "error", ferr)
		}
		if o.metrics != nil {
			o.metrics.ReportsTotal.WithLabelValues(string(f), "failure").Inc()
		}
		return nil, db.Report{}, fmt.Errorf("render %s report: %w", f, err)
	}

	now := o.now()
	size := int64(buf.Len())
	if err := o.db.FinishReport(rec.ID, size, now); err != nil {
		return nil, db.Report{}, err
	}
	rec.Status = db.ReportCompleted
	rec.SizeBytes = size
	rec.GeneratedAt = &now
	if o.metrics != nil {
		o.metrics.ReportsTotal.WithLabelValues(string(f), "success").Inc()
	}
	log.Info("report generated", "bytes", size)
	return buf.Bytes(), rec, nil
}

func writeReport(dir, name string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
