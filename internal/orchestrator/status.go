package orchestrator

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
)

// Progress estimates completion in percent. A running scan gains ten points
// per elapsed minute up to 90; it only reaches 100 when completed.
func Progress(s db.Scan, now time.Time) int {
	switch s.Status {
	case db.ScanCompleted:
		return 100
	case db.ScanRunning:
		if s.StartedAt == nil {
			return 10
		}
		elapsed := now.Sub(*s.StartedAt).Seconds()
		if elapsed < 0 {
			return 0
		}
		return min(int(elapsed/60*10), 90)
	default:
		return 0
	}
}

// Status is a point-in-time view of a scan.
type Status struct {
	Scan          db.Scan        `json:"scan"`
	Progress      int            `json:"progress"`
	FindingsCount int            `json:"findings_count"`
	Counts        finding.Counts `json:"findings_by_severity"`
}

// GetScanStatus returns the scan with its progress and finding counts.
func (o *Orchestrator) GetScanStatus(ctx context.Context, scanID int64) (Status, error) {
	s, err := o.scan(ctx, scanID)
	if err != nil {
		return Status{}, err
	}
	counts, err := o.db.CountFindingsBySeverity(scanID)
	if err != nil {
		return Status{}, err
	}
	return Status{
		Scan:          s,
		Progress:      Progress(s, o.now()),
		FindingsCount: counts.Total(),
		Counts:        counts,
	}, nil
}

// ListScanAgents returns every agent of a scan, the root agent included.
func (o *Orchestrator) ListScanAgents(ctx context.Context, scanID int64) ([]db.Agent, error) {
	if _, err := o.scan(ctx, scanID); err != nil {
		return nil, err
	}
	return o.db.ListAgentsByScan(scanID)
}

// ListScans returns scans matching filter. With a user in ctx, scans of
// projects owned by someone else are omitted.
func (o *Orchestrator) ListScans(ctx context.Context, filter db.ScanFilter) ([]db.Scan, error) {
	if filter.ProjectID != 0 {
		if _, err := o.project(ctx, filter.ProjectID); err != nil {
			return nil, err
		}
	}
	scans, err := o.db.ListScans(filter)
	if err != nil {
		return nil, err
	}
	if UserFrom(ctx) == "" || filter.ProjectID != 0 {
		return scans, nil
	}
	allowed := make(map[int64]bool)
	out := scans[:0]
	for _, s := range scans {
		ok, seen := allowed[s.ProjectID]
		if !seen {
			_, err := o.project(ctx, s.ProjectID)
			ok = err == nil
			allowed[s.ProjectID] = ok
		}
		if ok {
			out = append(out, s)
		}
	}
	return out, nil
}

// ListFindings returns a scan's findings, newest first.
func (o *Orchestrator) ListFindings(ctx context.Context, filter db.FindingFilter) ([]finding.Finding, error) {
	if filter.ScanID == 0 {
		return nil, fmt.Errorf("%w: no scan given", ErrScanNotFound)
	}
	if _, err := o.scan(ctx, filter.ScanID); err != nil {
		return nil, err
	}
	return o.db.ListFindings(filter)
}

// GetFinding returns one finding.
func (o *Orchestrator) GetFinding(ctx context.Context, id int64) (finding.Finding, error) {
	f, found, err := o.db.GetFinding(id)
	if err != nil {
		return finding.Finding{}, err
	}
	if !found {
		return finding.Finding{}, fmt.Errorf("%w: %d", ErrFindingNotFound, id)
	}
	if _, err := o.scan(ctx, f.ScanID); err != nil {
		return finding.Finding{}, err
	}
	return f, nil
}

// UpdateFindingStatus triages a finding. Findings of a scan that is still
// pending or running cannot be changed.
func (o *Orchestrator) UpdateFindingStatus(ctx context.Context, id int64, status finding.Status) (finding.Finding, error) {
	if !status.IsValid() {
		return finding.Finding{}, fmt.Errorf("%w: %q", finding.ErrInvalidStatus, status)
	}
	f, err := o.GetFinding(ctx, id)
	if err != nil {
		return finding.Finding{}, err
	}
	s, _, err := o.db.GetScan(f.ScanID)
	if err != nil {
		return finding.Finding{}, err
	}
	if !s.Status.Terminal() {
		return finding.Finding{}, fmt.Errorf("%w: scan %d is %s", ErrInvalidTransition, s.ID, s.Status)
	}
	if err := o.db.UpdateFindingStatus(id, status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return finding.Finding{}, fmt.Errorf("%w: %d", ErrFindingNotFound, id)
		}
		return finding.Finding{}, err
	}
	f.Status = status
	return f, nil
}
