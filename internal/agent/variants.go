package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sloppy/orangesage/internal/llm"
	"github.com/sloppy/orangesage/internal/phase"
)

// Agent type names.
const (
	TypeGeneral       = "general"
	TypeRecon         = "recon"
	TypeVulnerability = "vulnerability"
)

// General runs a full assessment: reconnaissance, vulnerability testing,
// then consolidation of findings.
type General struct{ engine }

func NewGeneral(gen llm.Generator, logger *slog.Logger) *General {
	return &General{engine{
		kind:   TypeGeneral,
		system: "You are Orange Sage, a web application security assessor performing an authorized assessment.",
		gen:    gen,
		logger: orDefault(logger),
	}}
}

func (g *General) Type() string { return TypeGeneral }

func (g *General) Execute(ctx context.Context, task Task) phase.Result {
	return g.run(ctx, task, []step{
		{"reconnaissance", "Map the attack surface: endpoints, technologies and entry points."},
		{"vulnerability_testing", "Test the mapped surface for injection, XSS, access control and configuration weaknesses."},
		{"findings", "Consolidate confirmed issues into findings with remediation guidance."},
	})
}

// Recon gathers information about the target and reports exposure findings.
type Recon struct{ engine }

func NewRecon(gen llm.Generator, logger *slog.Logger) *Recon {
	return &Recon{engine{
		kind:   TypeRecon,
		system: "You are a reconnaissance specialist enumerating an authorized target.",
		gen:    gen,
		logger: orDefault(logger),
	}}
}

func (r *Recon) Type() string { return TypeRecon }

func (r *Recon) Execute(ctx context.Context, task Task) phase.Result {
	return r.run(ctx, task, []step{
		{"surface", "Enumerate subdomains, open ports, technologies and reachable endpoints."},
		{"exposure", "Report information disclosure and exposed services as findings."},
	})
}

// DefaultVulnerabilityClasses are tested when a Vulnerability agent has
// no explicit focus.
var DefaultVulnerabilityClasses = []string{
	"sql_injection", "xss", "command_injection", "path_traversal", "ssl_tls", "session_management",
}

// Vulnerability probes one step per vulnerability class.
type Vulnerability struct {
	engine
	classes []string
}

func NewVulnerability(gen llm.Generator, logger *slog.Logger, classes ...string) *Vulnerability {
	if len(classes) == 0 {
		classes = DefaultVulnerabilityClasses
	}
	return &Vulnerability{
		engine: engine{
			kind:   TypeVulnerability,
			system: "You are a vulnerability tester verifying specific weakness classes on an authorized target.",
			gen:    gen,
			logger: orDefault(logger),
		},
		classes: classes,
	}
}

func (v *Vulnerability) Type() string { return TypeVulnerability }

func (v *Vulnerability) Execute(ctx context.Context, task Task) phase.Result {
	steps := make([]step, 0, len(v.classes))
	for _, class := range v.classes {
		label := strings.ReplaceAll(class, "_", " ")
		steps = append(steps, step{
			name:   class,
			prompt: fmt.Sprintf("Test for %s. Use type %q for any finding.", label, class),
		})
	}
	return v.run(ctx, task, steps)
}

func orDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
