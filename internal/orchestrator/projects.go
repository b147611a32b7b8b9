package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/scope"
)

// CreateProject records a project owned by the user in ctx.
func (o *Orchestrator) CreateProject(ctx context.Context, name, description string) (db.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return db.Project{}, fmt.Errorf("%w: project name is required", ErrInvalidInput)
	}
	p, err := o.db.CreateProject(name, strings.TrimSpace(description), UserFrom(ctx))
	if err != nil {
		return db.Project{}, err
	}
	o.logger.Info("project created", "project_id", p.ID, "owner", p.OwnerID)
	return p, nil
}

// GetProject returns a project the caller may see.
func (o *Orchestrator) GetProject(ctx context.Context, id int64) (db.Project, error) {
	return o.project(ctx, id)
}

// ListProjects returns projects by name. With a user in ctx only that
// user's projects and unowned ones are returned.
func (o *Orchestrator) ListProjects(ctx context.Context) ([]db.Project, error) {
	projects, err := o.db.ListProjects()
	if err != nil {
		return nil, err
	}
	out := projects[:0]
	for _, p := range projects {
		if o.authorize(ctx, p) == nil {
			out = append(out, p)
		}
	}
	return out, nil
}

// DeleteProject removes a project with its targets, scans and findings.
// A project with a running scan cannot be deleted.
func (o *Orchestrator) DeleteProject(ctx context.Context, id int64) error {
	if _, err := o.project(ctx, id); err != nil {
		return err
	}
	running, err := o.db.ListScans(db.ScanFilter{ProjectID: id, Status: db.ScanRunning})
	if err != nil {
		return err
	}
	if len(running) > 0 {
		return fmt.Errorf("%w: project %d has %d running scans", ErrInvalidTransition, id, len(running))
	}
	if err := o.db.DeleteProject(id); err != nil {
		return err
	}
	o.logger.Info("project deleted", "project_id", id)
	return nil
}

// CreateTarget adds a scan target to a project.
func (o *Orchestrator) CreateTarget(ctx context.Context, t db.Target) (db.Target, error) {
	if _, err := o.project(ctx, t.ProjectID); err != nil {
		return db.Target{}, err
	}
	t.Value = strings.TrimSpace(t.Value)
	t.Name = strings.TrimSpace(t.Name)
	if t.Value == "" {
		return db.Target{}, fmt.Errorf("%w: target value is required", ErrInvalidInput)
	}
	if t.Type == "" {
		t.Type = "url"
	}
	if !db.ValidTargetType(t.Type) {
		return db.Target{}, fmt.Errorf("%w: target type %q (want one of %s)",
			ErrInvalidInput, t.Type, strings.Join(db.TargetTypes, ", "))
	}
	if err := scope.Validate(t.Type, t.Value); err != nil {
		return db.Target{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if !o.scope.Allows(t.Type, t.Value) {
		return db.Target{}, fmt.Errorf("%w: %w %q", ErrInvalidInput, scope.ErrOutOfScope, t.Value)
	}
	if t.Name == "" {
		t.Name = t.Value
	}
	return o.db.CreateTarget(t)
}

// ListTargets returns a project's targets.
func (o *Orchestrator) ListTargets(ctx context.Context, projectID int64) ([]db.Target, error) {
	if _, err := o.project(ctx, projectID); err != nil {
		return nil, err
	}
	return o.db.ListTargets(projectID)
}

// Dashboard returns a project's aggregate counts.
func (o *Orchestrator) Dashboard(ctx context.Context, projectID int64) (db.DashboardStats, error) {
	if _, err := o.project(ctx, projectID); err != nil {
		return db.DashboardStats{}, err
	}
	return o.db.GetDashboardStats(projectID)
}
