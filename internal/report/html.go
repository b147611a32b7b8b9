package report

import (
	"context"
	"fmt"
	"html"
	"io"
	"strings"

	"github.com/a-h/templ"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sloppy/orangesage/internal/finding"
)

// HTMLRenderer writes a standalone HTML document.
type HTMLRenderer struct {
	Branding Branding
}

func (r *HTMLRenderer) Format() Format { return HTML }

func (r *HTMLRenderer) Render(ctx context.Context, in Input, w io.Writer) error {
	return Document(r.Branding, in).Render(ctx, w)
}

// Document is the report as a templ component, so web pages can embed it.
func Document(b Branding, in Input) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		title := b.Company() + " Security Assessment"
		hw.printf(`<!doctype html><html lang="en"><head><meta charset="utf-8"><title>%s</title>`, esc(title))
		hw.printf(`<style>%s</style></head><body>`, reportStyles(b.accentHex()))
		hw.printf(`<header><h1>%s</h1><p>Scan #%d &middot; %s</p></header>`, esc(title), in.ScanID, esc(in.Target.Value))
		if hw.err != nil {
			return hw.err
		}
		if err := Body(in).Render(ctx, w); err != nil {
			return err
		}
		hw.printf(`</body></html>`)
		return hw.err
	})
}

// Body renders the report sections without the surrounding document.
func Body(in Input) templ.Component {
	return templ.ComponentFunc(func(_ context.Context, w io.Writer) error {
		hw := &htmlWriter{w: w}
		title := cases.Title(language.English)

		hw.printf(`<section class="meta"><dl>`)
		if in.Project != "" {
			hw.printf(`<dt>Project</dt><dd>%s</dd>`, esc(in.Project))
		}
		hw.printf(`<dt>Target</dt><dd>%s (%s)</dd>`, esc(in.Target.Value), esc(in.Target.Type))
		hw.printf(`<dt>Status</dt><dd>%s</dd>`, esc(in.Status))
		hw.printf(`<dt>Started</dt><dd>%s</dd><dt>Finished</dt><dd>%s</dd>`, formatTime(in.StartedAt), formatTime(in.FinishedAt))
		hw.printf(`<dt>Duration</dt><dd>%s</dd></dl></section>`, in.duration())

		hw.printf(`<section><h2>Executive Summary</h2>`)
		hw.printf(`<p>The assessment identified <strong>%d</strong> findings. Overall risk is <strong class="level-%s">%s</strong> (%d/100).</p>`,
			in.Risk.Total, strings.ToLower(string(in.Risk.Level)), in.Risk.Level, in.Risk.Score)
		hw.printf(`<table class="counts"><tr><th>Severity</th><th>Count</th></tr>`)
		for _, sev := range finding.Severities {
			hw.printf(`<tr><td class="sev-%s">%s</td><td>%d</td></tr>`, sev, title.String(string(sev)), in.Counts[sev])
		}
		hw.printf(`</table></section>`)

		hw.printf(`<section><h2>Risk Assessment</h2>`)
		if len(in.Risk.Combinations) == 0 {
			hw.printf(`<p>No high-risk combinations were detected.</p>`)
		} else {
			hw.printf(`<ul>`)
			for _, c := range in.Risk.Combinations {
				hw.printf(`<li>%s</li>`, esc(c))
			}
			hw.printf(`</ul>`)
		}
		hw.printf(`</section>`)

		hw.printf(`<section><h2>Attack Chains</h2>`)
		if len(in.Correlation.AttackChains) == 0 {
			hw.printf(`<p>No attack chains were identified.</p>`)
		}
		for _, chain := range in.Correlation.AttackChains {
			hw.printf(`<h3>%s <span class="chip">%s</span></h3><ul>`, esc(chain.Name), esc(chain.RiskLevel))
			for _, f := range chain.Findings {
				hw.printf(`<li>%s</li>`, esc(f.Title))
			}
			hw.printf(`</ul>`)
		}
		hw.printf(`</section>`)

		hw.printf(`<section><h2>Detailed Findings</h2>`)
		findings := in.sortedFindings()
		if len(findings) == 0 {
			hw.printf(`<p>No findings were recorded for this scan.</p>`)
		}
		for _, f := range findings {
			hw.printf(`<article class="finding sev-%s"><h3>[%s] %s</h3><dl>`, f.Severity, strings.ToUpper(string(f.Severity)), esc(f.Title))
			hw.printf(`<dt>Type</dt><dd>%s</dd>`, esc(f.VulnerabilityType))
			if f.Endpoint != "" {
				hw.printf(`<dt>Endpoint</dt><dd><code>%s %s</code></dd>`, esc(f.Method), esc(f.Endpoint))
			}
			if f.Parameter != "" {
				hw.printf(`<dt>Parameter</dt><dd><code>%s</code></dd>`, esc(f.Parameter))
			}
			if f.Description != "" {
				hw.printf(`<dt>Description</dt><dd>%s</dd>`, esc(f.Description))
			}
			if f.Remediation != "" {
				hw.printf(`<dt>Remediation</dt><dd>%s</dd>`, esc(f.Remediation))
			}
			hw.printf(`<dt>Reported by</dt><dd>%s</dd></dl></article>`, esc(f.CreatedByAgent))
		}
		hw.printf(`</section>`)

		hw.printf(`<section><h2>Recommendations</h2><ol>`)
		for _, rec := range in.Recommendations {
			hw.printf(`<li>%s</li>`, esc(rec))
		}
		hw.printf(`</ol></section>`)
		return hw.err
	})
}

// htmlWriter keeps the first write error and drops later writes.
type htmlWriter struct {
	w   io.Writer
	err error
}

func (h *htmlWriter) printf(format string, args ...any) {
	if h.err != nil {
		return
	}
	_, h.err = fmt.Fprintf(h.w, format, args...)
}

func esc(s string) string { return html.EscapeString(s) }

func reportStyles(accent string) string {
	return `body{font-family:system-ui,sans-serif;margin:0;color:#1e293b;background:#f8fafc}` +
		`header{background:` + accent + `;color:#fff;padding:24px 32px}header h1{margin:0}` +
		`section{background:#fff;margin:16px 32px;padding:16px 24px;border-radius:8px;box-shadow:0 1px 2px #0001}` +
		`h2{color:` + accent + `}dl{display:grid;grid-template-columns:max-content 1fr;gap:4px 16px}dt{font-weight:600}` +
		`table.counts td,table.counts th{padding:4px 12px;border-bottom:1px solid #e2e8f0;text-align:left}` +
		`.finding{border-left:4px solid #94a3b8;padding-left:12px;margin:12px 0}` +
		`.sev-critical{color:#b91c1c;border-color:#b91c1c}.sev-high{color:#ea580c;border-color:#ea580c}` +
		`.sev-medium{color:#ca8a04;border-color:#ca8a04}.sev-low{color:#2563eb;border-color:#2563eb}` +
		`.sev-info{color:#64748b;border-color:#64748b}.finding dl{color:#1e293b}` +
		`.chip{font-size:.75em;padding:2px 8px;border-radius:999px;background:#fee2e2;color:#991b1b}`
}
