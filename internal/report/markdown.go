package report

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sloppy/orangesage/internal/finding"
)

const markdownTemplate = `# {{ .Company }} Security Assessment

| | |
|---|---|
{{- if .In.Project }}
| Project | {{ .In.Project | mdEscape }} |
{{- end }}
| Target | {{ .In.Target.Value | mdEscape }} ({{ .In.Target.Type }}) |
| Scan | #{{ .In.ScanID }} |
| Status | {{ .In.Status }} |
| Started | {{ formatTime .In.StartedAt }} |
| Finished | {{ formatTime .In.FinishedAt }} |
| Duration | {{ .Duration }} |

## Executive Summary

The assessment identified **{{ .In.Risk.Total }}** findings. Overall risk is **{{ .In.Risk.Level }}** ({{ .In.Risk.Score }}/100).

| Severity | Count |
|---|---|
{{- range .Severities }}
| {{ . | toString | titleCase }} | {{ index $.In.Counts . }} |
{{- end }}

## Risk Assessment
{{ if .In.Risk.Combinations }}
{{- range .In.Risk.Combinations }}
- {{ . }}
{{- end }}
{{- else }}
No high-risk combinations were detected.
{{- end }}

## Attack Chains
{{ if .In.Correlation.AttackChains }}
{{- range .In.Correlation.AttackChains }}
### {{ .Name }} ({{ .RiskLevel }} risk)
{{ range .Findings }}
- {{ .Title | mdEscape }}
{{- end }}
{{ end }}
Correlation score: {{ .In.Correlation.Score }}
{{- else }}
No attack chains were identified.
{{- end }}

## Detailed Findings
{{ if not .Findings }}
No findings were recorded for this scan.
{{- end }}
{{- range $i, $f := .Findings }}
### {{ add1 $i }}. [{{ $f.Severity | toString | upper }}] {{ $f.Title | mdEscape }}

- **Type:** {{ $f.VulnerabilityType | default "unknown" }}
{{- if $f.Endpoint }}
- **Endpoint:** ` + "`{{ trim (cat $f.Method $f.Endpoint) }}`" + `
{{- end }}
{{- if $f.Parameter }}
- **Parameter:** ` + "`{{ $f.Parameter }}`" + `
{{- end }}
{{- if $f.Description }}
- **Description:** {{ $f.Description | mdEscape }}
{{- end }}
{{- if $f.Remediation }}
- **Remediation:** {{ $f.Remediation | mdEscape }}
{{- end }}
- **Reported by:** {{ $f.CreatedByAgent }}
{{ end }}
## Recommendations
{{ range $i, $r := .In.Recommendations }}
{{ add1 $i }}. {{ $r }}
{{- end }}
`

var markdownTmpl = template.Must(template.New("report").Funcs(sprig.TxtFuncMap()).Funcs(template.FuncMap{
	"titleCase":  func(s string) string { return cases.Title(language.English).String(s) },
	"formatTime": formatTime,
	"mdEscape":   mdEscape,
}).Parse(markdownTemplate))

// MarkdownRenderer writes GitHub-flavored Markdown.
type MarkdownRenderer struct {
	Branding Branding
}

func (r *MarkdownRenderer) Format() Format { return Markdown }

func (r *MarkdownRenderer) Render(_ context.Context, in Input, w io.Writer) error {
	data := struct {
		Company    string
		In         Input
		Duration   string
		Severities []finding.Severity
		Findings   []finding.Finding
	}{
		Company:    r.Branding.Company(),
		In:         in,
		Duration:   in.duration(),
		Severities: finding.Severities,
		Findings:   in.sortedFindings(),
	}
	if err := markdownTmpl.Execute(w, data); err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	return nil
}

var mdReplacer = strings.NewReplacer("|", `\|`, "\n", " ", "\r", "")

func mdEscape(s string) string { return mdReplacer.Replace(s) }
