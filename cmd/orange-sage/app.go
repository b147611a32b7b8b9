package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/sloppy/orangesage/internal/agent"
	"github.com/sloppy/orangesage/internal/config"
	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/llm"
	"github.com/sloppy/orangesage/internal/metrics"
	"github.com/sloppy/orangesage/internal/microservices"
	"github.com/sloppy/orangesage/internal/orchestrator"
	"github.com/sloppy/orangesage/internal/report"
	"github.com/sloppy/orangesage/internal/sandbox"
	"github.com/sloppy/orangesage/internal/scope"
	"github.com/sloppy/orangesage/internal/telemetry"
)

// app holds the wired components of one process.
type app struct {
	cfg      config.Config
	logger   *slog.Logger
	db       *db.DB
	metrics  *metrics.Metrics
	tracing  *telemetry.Provider
	services *microservices.Runner
	orch     *orchestrator.Orchestrator
}

func newApp(ctx context.Context, cfg config.Config, logOut io.Writer) (*app, error) {
	logger := cfg.Log.NewLogger(logOut)

	database, err := db.Open(cfg.DB.Path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	allowed, err := scope.NewMatcher(cfg.Scan.AllowedNetworks)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("scan.allowed_networks: %w", err)
	}
	m, err := metrics.New()
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	tracing, err := telemetry.New(ctx, cfg.Tracing, version)
	if err != nil {
		database.Close()
		return nil, err
	}

	gen := llm.New(cfg.LLM, logger)
	agents := agent.NewManager(database,
		sandbox.NewLocal(cfg.Sandbox.Mode, logger),
		agent.DefaultRegistry(gen, logger),
		agent.WithLogger(logger),
		agent.WithActiveGauge(m.ActiveAgents),
	)

	client := microservices.NewClient(cfg.Microservices.RateLimit, cfg.Microservices.Retries, logger)
	services := microservices.NewRunner(client, microservices.EndpointsFromConfig(cfg.Microservices), logger)
	services.OnCall = func(s microservices.Service, err error) { m.ServiceCall(string(s), err) }

	orch := orchestrator.New(database, agents, services, orchestrator.Options{
		PhaseTimeout:  cfg.Scan.PhaseTimeout,
		MaxIterations: cfg.Scan.MaxIterations,
		MaxAgents:     cfg.Scan.MaxAgents,
		Model:         cfg.LLM.Model,
		Branding:      branding(cfg.Report),
		ReportDir:     cfg.Report.Dir,
		Scope:         allowed,
		Metrics:       m,
		Tracer:        tracing.Tracer,
		Logger:        logger,
	})

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       database,
		metrics:  m,
		tracing:  tracing,
		services: services,
		orch:     orch,
	}, nil
}

func branding(cfg config.ReportConfig) report.Branding {
	return report.Branding{CompanyName: cfg.CompanyName, ColorScheme: cfg.ColorScheme}
}

// Close stops running scans, flushes spans and closes the database.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if err := a.orch.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown orchestrator: %w", err))
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close db: %w", err))
	}
	return errors.Join(errs...)
}
