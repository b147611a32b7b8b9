package web

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"

	"github.com/a-h/templ"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/orchestrator"
	"github.com/sloppy/orangesage/internal/report"
)

func render(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		http.Error(w, "render failed", http.StatusInternalServerError)
	}
}

func layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		if _, err := io.WriteString(w, "<!doctype html><html lang=\"en\"><head>"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<meta charset=\"utf-8\">"); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "<meta name=\"viewport\" content=\"width=device-width, initial-scale=1\">"); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "<title>%s</title>", html.EscapeString(title)); err != nil {
			return err
		}
		if _, err := io.WriteString(w, layoutStyles); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</head><body><main class=\"shell\">"); err != nil {
			return err
		}
		if err := body.Render(ctx, w); err != nil {
			return err
		}
		if _, err := io.WriteString(w, "</main></body></html>"); err != nil {
			return err
		}
		return nil
	})
}

// pageWriter keeps the first write error and drops later writes.
type pageWriter struct {
	w   io.Writer
	err error
}

func (p *pageWriter) printf(format string, args ...any) {
	if p.err != nil {
		return
	}
	_, p.err = fmt.Fprintf(p.w, format, args...)
}

func (p *pageWriter) print(s string) {
	if p.err != nil {
		return
	}
	_, p.err = io.WriteString(p.w, s)
}

func esc(s string) string { return html.EscapeString(s) }

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

func projectsListPage(company string, projects []db.Project) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.printf("<header class=\"page-header\"><p class=\"eyebrow\">%s</p><h1>Projects</h1><p class=\"subhead\">Group targets and security assessments by engagement.</p></header>", esc(company))
		p.print("<section class=\"card\"><form method=\"post\" action=\"/projects\" class=\"project-form\"><label for=\"project-name\">Project name</label><div class=\"project-form__row\"><input id=\"project-name\" name=\"name\" placeholder=\"Acme Storefront\" required><input name=\"description\" placeholder=\"Description\"><button type=\"submit\">Create</button></div></form></section>")
		p.print("<section class=\"card\"><h2>Existing projects</h2>")
		if len(projects) == 0 {
			p.print("<p class=\"empty\">No projects yet. Add one to get started.</p></section>")
			return p.err
		}
		p.print("<ul class=\"project-list\">")
		for _, project := range projects {
			p.printf("<li><a class=\"project-link\" href=\"/projects/%d\">%s</a><form method=\"post\" action=\"/projects/%d/delete\"><button class=\"ghost\" type=\"submit\">Delete</button></form></li>", project.ID, esc(project.Name), project.ID)
		}
		p.print("</ul></section>")
		return p.err
	})
	return layout(company+" - Projects", body)
}

func dashboardPage(company string, project db.Project, stats db.DashboardStats, targets []db.Target, scans []db.Scan) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		p.printf("<header class=\"page-header\"><p class=\"eyebrow\">Project</p><h1>%s</h1><p class=\"subhead\">%s</p></header>", esc(project.Name), esc(project.Description))

		p.print("<section class=\"card\"><h2>Scans</h2><div class=\"stats-grid\">")
		stat(p, "Targets", stats.Targets)
		stat(p, "Scans", stats.Scans)
		stat(p, "Running", stats.Status.Running)
		stat(p, "Completed", stats.Status.Completed)
		stat(p, "Failed", stats.Status.Failed)
		stat(p, "Cancelled", stats.Status.Cancelled)
		p.print("</div></section>")

		p.print("<section class=\"card\"><h2>Findings</h2><div class=\"stats-grid\">")
		for _, sev := range finding.Severities {
			p.printf("<div><p class=\"stat-label\">%s</p><p class=\"stat-value sev-%s\">%d</p></div>", esc(string(sev)), sev, stats.Findings[sev])
		}
		p.print("</div></section>")

		p.print("<section class=\"card\"><h2>Targets</h2>")
		if len(targets) == 0 {
			p.print("<p class=\"empty\">No targets yet.</p>")
		} else {
			p.printf("<form method=\"post\" action=\"/projects/%d/scans\" class=\"project-form\"><div class=\"project-form__row\"><select name=\"target_id\">", project.ID)
			for _, t := range targets {
				p.printf("<option value=\"%d\">%s (%s)</option>", t.ID, esc(t.Value), esc(t.Type))
			}
			p.print("</select><select name=\"report_format\">")
			for _, f := range report.Formats {
				p.printf("<option value=\"%s\">%s</option>", f, f)
			}
			p.print("</select><button type=\"submit\">Start scan</button></div></form>")
		}
		p.printf("<form method=\"post\" action=\"/projects/%d/targets\" class=\"project-form\"><label for=\"target-value\">Add target</label><div class=\"project-form__row\"><input id=\"target-value\" name=\"value\" placeholder=\"https://shop.example\" required><select name=\"type\">", project.ID)
		for _, typ := range db.TargetTypes {
			p.printf("<option value=\"%s\">%s</option>", typ, typ)
		}
		p.print("</select><button type=\"submit\">Add</button></div></form></section>")

		p.print("<section class=\"card\"><h2>Scan history</h2>")
		if len(scans) == 0 {
			p.print("<p class=\"empty\">No scans yet.</p>")
		} else {
			p.print("<div class=\"table-wrap\"><table class=\"data-table\"><thead><tr><th>Scan</th><th>Status</th><th>Created</th><th>Finished</th></tr></thead><tbody>")
			for _, s := range scans {
				p.printf("<tr><td><a class=\"back-link\" href=\"/scans/%d\">#%d</a></td><td><span class=\"pill pill-%s\">%s</span></td><td class=\"mono\">%s</td><td class=\"mono\">%s</td></tr>",
					s.ID, s.ID, s.Status, s.Status, formatTime(&s.CreatedAt), formatTime(s.FinishedAt))
			}
			p.print("</tbody></table></div>")
		}
		p.print("</section>")

		p.printf("<div class=\"page-actions\"><a class=\"back-link\" href=\"/projects/%d/export?format=json\">Export JSON</a><a class=\"back-link\" href=\"/projects/%d/export?format=csv\">Export CSV</a><a class=\"back-link\" href=\"/projects\">Back to projects</a></div>", project.ID, project.ID)
		return p.err
	})
	return layout(company+" - "+project.Name, body)
}

func stat(p *pageWriter, label string, value int) {
	p.printf("<div><p class=\"stat-label\">%s</p><p class=\"stat-value\">%d</p></div>", esc(label), value)
}

// scanDetail is everything the scan page shows.
type scanDetail struct {
	Status   orchestrator.Status
	Summary  orchestrator.Summary
	Agents   []db.Agent
	Findings []finding.Finding
	Reports  []db.Report
}

func scanDetailPage(company string, d scanDetail) templ.Component {
	body := templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		p := &pageWriter{w: w}
		s := d.Status.Scan
		p.printf("<header class=\"page-header\"><p class=\"eyebrow\">Scan #%d</p><h1><span class=\"pill pill-%s\">%s</span></h1>", s.ID, s.Status, s.Status)
		if s.ErrorMessage != "" {
			p.printf("<p class=\"subhead error\">%s</p>", esc(s.ErrorMessage))
		}
		p.print("</header>")

		p.printf("<section class=\"card\"><h2>Progress</h2><div class=\"bar\"><div class=\"bar-fill\" style=\"width:%d%%\"></div></div><p class=\"progress\">%d%% &middot; started %s &middot; finished %s</p>",
			d.Status.Progress, d.Status.Progress, formatTime(s.StartedAt), formatTime(s.FinishedAt))
		if s.Status == db.ScanRunning {
			p.printf("<form method=\"post\" action=\"/scans/%d/cancel\"><button class=\"ghost\" type=\"submit\">Cancel scan</button></form>", s.ID)
		}
		p.print("<div class=\"stats-grid\">")
		for _, sev := range finding.Severities {
			p.printf("<div><p class=\"stat-label\">%s</p><p class=\"stat-value sev-%s\">%d</p></div>", esc(string(sev)), sev, d.Status.Counts[sev])
		}
		p.print("</div></section>")

		if s.Status == db.ScanCompleted {
			sum := d.Summary
			p.printf("<section class=\"card\"><h2>Risk</h2><p class=\"stat-value\">%d / 100 <span class=\"pill\">%s</span></p>", sum.Risk.Score, esc(string(sum.Risk.Level)))
			for _, combo := range sum.Risk.Combinations {
				p.printf("<p class=\"subhead\">%s</p>", esc(combo))
			}
			if chains := sum.Correlation.AttackChains; len(chains) > 0 {
				p.print("<h3>Attack chains</h3><ul>")
				for _, c := range chains {
					p.printf("<li>%s <span class=\"pill\">%s</span></li>", esc(c.Name), esc(c.RiskLevel))
				}
				p.print("</ul>")
			}
			if len(sum.Recommendations) > 0 {
				p.print("<h3>Recommendations</h3><ol>")
				for _, rec := range sum.Recommendations {
					p.printf("<li>%s</li>", esc(rec))
				}
				p.print("</ol>")
			}
			if len(sum.Phases) > 0 {
				p.print("<h3>Phases</h3><ul>")
				for name, ph := range sum.Phases {
					state := "ok"
					switch {
					case ph.Skipped:
						state = "skipped"
					case !ph.Success:
						state = "failed: " + ph.Error
					}
					p.printf("<li><span class=\"mono\">%s</span> %s</li>", esc(string(name)), esc(state))
				}
				p.print("</ul>")
			}
			p.print("</section>")
		}

		p.print("<section class=\"card\"><h2>Agents</h2>")
		if len(d.Agents) == 0 {
			p.print("<p class=\"empty\">No agents.</p>")
		} else {
			p.print("<div class=\"table-wrap\"><table class=\"data-table\"><thead><tr><th>Name</th><th>Type</th><th>Status</th><th>Iteration</th></tr></thead><tbody>")
			for _, a := range d.Agents {
				p.printf("<tr><td>%s</td><td class=\"mono\">%s</td><td><span class=\"pill pill-%s\">%s</span></td><td>%d / %d</td></tr>",
					esc(a.Name), esc(a.AgentType), a.Status, a.Status, a.Iteration, a.MaxIterations)
			}
			p.print("</tbody></table></div>")
		}
		p.print("</section>")

		p.print("<section class=\"card\"><h2>Findings</h2>")
		if len(d.Findings) == 0 {
			p.print("<p class=\"empty\">No findings.</p>")
		} else {
			p.print("<div class=\"table-wrap\"><table class=\"data-table\"><thead><tr><th>Severity</th><th>Title</th><th>Endpoint</th><th>Source</th><th>Status</th></tr></thead><tbody>")
			for _, f := range d.Findings {
				p.printf("<tr><td><span class=\"sev-%s\">%s</span></td><td>%s</td><td class=\"mono\">%s %s</td><td class=\"mono\">%s</td><td>",
					f.Severity, esc(string(f.Severity)), esc(f.Title), esc(f.Method), esc(f.Endpoint), esc(f.CreatedByAgent))
				if s.Status.Terminal() {
					p.printf("<form method=\"post\" action=\"/scans/%d/findings/%d/status\" class=\"inline-form\"><select name=\"status\">", s.ID, f.ID)
					for _, st := range []finding.Status{finding.StatusOpen, finding.StatusTriaged, finding.StatusFalsePositive, finding.StatusResolved} {
						selected := ""
						if st == f.Status {
							selected = " selected"
						}
						p.printf("<option value=\"%s\"%s>%s</option>", st, selected, st)
					}
					p.print("</select><button class=\"ghost\" type=\"submit\">Save</button></form>")
				} else {
					p.print(esc(string(f.Status)))
				}
				p.print("</td></tr>")
			}
			p.print("</tbody></table></div>")
		}
		p.print("</section>")

		p.print("<section class=\"card\"><h2>Reports</h2><div class=\"page-actions\">")
		for _, f := range report.Formats {
			p.printf("<a class=\"back-link\" href=\"/scans/%d/report?format=%s\">%s</a>", s.ID, f, f)
		}
		p.print("</div>")
		if len(d.Reports) > 0 {
			p.print("<ul>")
			for _, rep := range d.Reports {
				p.printf("<li class=\"mono\">%s %s %s (%d bytes)</li>", esc(rep.Filename), esc(rep.Status), formatTime(rep.GeneratedAt), rep.SizeBytes)
			}
			p.print("</ul>")
		}
		p.print("</section>")

		p.printf("<div class=\"page-actions\"><a class=\"back-link\" href=\"/scans/%d/export?format=csv\">Export CSV</a><a class=\"back-link\" href=\"/scans/%d/export?format=json\">Export JSON</a><a class=\"back-link\" href=\"/scans/%d/export?format=text\">Export text</a><a class=\"back-link\" href=\"/projects/%d\">Back to project</a></div>", s.ID, s.ID, s.ID, s.ProjectID)
		return p.err
	})
	return layout(fmt.Sprintf("%s - Scan #%d", company, d.Status.Scan.ID), body)
}

const layoutStyles = `<style>
:root {
  color-scheme: light;
  --bg: #fbf4ec;
  --bg-accent: #fde6d2;
  --ink: #1f262d;
  --muted: #5c6c73;
  --card: rgba(255, 255, 255, 0.8);
  --stroke: rgba(31, 38, 45, 0.12);
  --accent: #c2570c;
  --accent-dark: #9a3f06;
  --shadow: 0 16px 40px rgba(15, 23, 28, 0.12);
}

* {
  box-sizing: border-box;
}

body {
  margin: 0;
  min-height: 100vh;
  font-family: "Iowan Old Style", "Palatino Linotype", "Book Antiqua", serif;
  color: var(--ink);
  background: radial-gradient(circle at 20% 20%, var(--bg-accent), transparent 45%),
    linear-gradient(135deg, #fffaf4, var(--bg));
}

.shell {
  max-width: 960px;
  margin: 0 auto;
  padding: 48px 24px 72px;
  display: grid;
  gap: 24px;
}

.page-header h1 {
  margin: 8px 0 8px;
  font-size: clamp(2rem, 3vw, 2.6rem);
  letter-spacing: -0.02em;
}

.eyebrow {
  text-transform: uppercase;
  letter-spacing: 0.24em;
  font-size: 0.72rem;
  color: var(--muted);
  margin: 0;
}

.subhead {
  margin: 0;
  color: var(--muted);
}

.error {
  color: #b91c1c;
}

.card {
  background: var(--card);
  border: 1px solid var(--stroke);
  border-radius: 16px;
  padding: 20px 22px;
  box-shadow: var(--shadow);
}

.project-form {
  display: grid;
  gap: 10px;
  margin-top: 12px;
}

.project-form__row,
.inline-form {
  display: flex;
  gap: 12px;
  flex-wrap: wrap;
}

input,
select {
  border-radius: 10px;
  border: 1px solid var(--stroke);
  padding: 10px 12px;
  font-size: 1rem;
  font-family: inherit;
  background: white;
}

input {
  flex: 1;
  min-width: 200px;
}

button {
  border: none;
  border-radius: 999px;
  padding: 10px 18px;
  background: var(--accent);
  color: white;
  font-size: 0.95rem;
  cursor: pointer;
  font-family: inherit;
}

button:hover {
  background: var(--accent-dark);
}

.ghost {
  background: transparent;
  border: 1px solid var(--stroke);
  color: var(--ink);
}

.ghost:hover {
  background: rgba(194, 87, 12, 0.12);
}

.project-list {
  list-style: none;
  margin: 0;
  padding: 0;
  display: grid;
  gap: 12px;
}

.project-list li {
  display: flex;
  align-items: center;
  justify-content: space-between;
  border: 1px solid var(--stroke);
  border-radius: 12px;
  padding: 12px 16px;
  background: rgba(255, 255, 255, 0.6);
}

.project-link {
  font-size: 1.05rem;
  color: var(--ink);
  text-decoration: none;
}

.project-link:hover,
.back-link:hover {
  text-decoration: underline;
}

.stats-grid {
  display: grid;
  gap: 16px;
  grid-template-columns: repeat(auto-fit, minmax(120px, 1fr));
  margin-top: 12px;
}

.stat-label {
  margin: 0;
  font-size: 0.85rem;
  color: var(--muted);
  text-transform: uppercase;
  letter-spacing: 0.1em;
}

.stat-value {
  margin: 6px 0 0;
  font-size: 1.5rem;
}

.progress {
  margin: 8px 0;
  color: var(--muted);
}

.bar {
  height: 10px;
  border-radius: 999px;
  background: var(--stroke);
  overflow: hidden;
}

.bar-fill {
  height: 100%;
  background: var(--accent);
}

.page-actions {
  display: flex;
  gap: 16px;
  flex-wrap: wrap;
}

.back-link {
  color: var(--accent);
  text-decoration: none;
  font-weight: 600;
}

.empty {
  margin: 0;
  color: var(--muted);
}

.table-wrap {
  width: 100%;
  overflow-x: auto;
}

.data-table {
  width: 100%;
  border-collapse: collapse;
  min-width: 620px;
}

.data-table th,
.data-table td {
  text-align: left;
  padding: 12px 10px;
  border-bottom: 1px solid var(--stroke);
}

.data-table th {
  font-size: 0.8rem;
  letter-spacing: 0.08em;
  text-transform: uppercase;
  color: var(--muted);
}

.mono {
  font-family: "SFMono-Regular", "Fira Mono", "Source Code Pro", monospace;
}

.pill {
  display: inline-block;
  border-radius: 999px;
  padding: 2px 10px;
  font-size: 0.85rem;
  border: 1px solid var(--stroke);
}

.pill-running { background: #fef3c7; }
.pill-completed { background: #dcfce7; }
.pill-failed { background: #fee2e2; }
.pill-cancelled { background: #e5e7eb; }

.sev-critical { color: #991b1b; font-weight: 700; }
.sev-high { color: #c2410c; font-weight: 700; }
.sev-medium { color: #a16207; }
.sev-low { color: #15803d; }
.sev-info { color: #1d4ed8; }
</style>`
