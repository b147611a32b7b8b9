// Package report renders a finished scan as PDF, HTML, Markdown or JSON.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/sloppy/orangesage/internal/correlation"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/phase"
	"github.com/sloppy/orangesage/internal/risk"
)

// ErrUnsupportedFormat is returned for formats without a renderer.
var ErrUnsupportedFormat = errors.New("report: unsupported format")

type Format string

const (
	PDF      Format = "pdf"
	HTML     Format = "html"
	Markdown Format = "markdown"
	JSON     Format = "json"
)

// Formats lists every renderable format.
var Formats = []Format{PDF, HTML, Markdown, JSON}

// ParseFormat accepts a format name case-insensitively; "md" means Markdown.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case PDF, HTML, Markdown, JSON:
		return f, nil
	case "md":
		return Markdown, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
}

// Extension is the file extension without the dot.
func (f Format) Extension() string {
	if f == Markdown {
		return "md"
	}
	return string(f)
}

func (f Format) ContentType() string {
	switch f {
	case PDF:
		return "application/pdf"
	case HTML:
		return "text/html; charset=utf-8"
	case Markdown:
		return "text/markdown; charset=utf-8"
	default:
		return "application/json"
	}
}

// Filename is the download name of a scan's report.
func Filename(scanID int64, f Format) string {
	return fmt.Sprintf("orange_sage_report_%d.%s", scanID, f.Extension())
}

// Branding customizes report headings and accent color.
type Branding struct {
	CompanyName string `json:"company_name"`
	ColorScheme string `json:"color_scheme"`
}

// Company returns the company name shown on reports.
func (b Branding) Company() string {
	if b.CompanyName == "" {
		return "Orange Sage"
	}
	return b.CompanyName
}

// accent returns the RGB accent for the color scheme.
func (b Branding) accent() [3]int {
	switch strings.ToLower(b.ColorScheme) {
	case "blue":
		return [3]int{37, 99, 235}
	case "green":
		return [3]int{22, 163, 74}
	case "gray", "grey":
		return [3]int{71, 85, 105}
	default:
		return [3]int{234, 88, 12}
	}
}

func (b Branding) accentHex() string {
	c := b.accent()
	return fmt.Sprintf("#%02x%02x%02x", c[0], c[1], c[2])
}

// Target describes what was scanned.
type Target struct {
	Name  string `json:"name"`
	Type  string `json:"type"`
	Value string `json:"value"`
}

// Input is everything a report shows.
type Input struct {
	ScanID          int64                        `json:"scan_id"`
	Project         string                       `json:"project"`
	Target          Target                       `json:"target"`
	Status          string                       `json:"status"`
	StartedAt       *time.Time                   `json:"started_at,omitempty"`
	FinishedAt      *time.Time                   `json:"finished_at,omitempty"`
	GeneratedAt     time.Time                    `json:"generated_at"`
	Findings        []finding.Finding            `json:"findings"`
	Counts          finding.Counts               `json:"counts"`
	Risk            risk.Assessment              `json:"risk_assessment"`
	Correlation     correlation.Result           `json:"correlation"`
	Recommendations []string                     `json:"recommendations"`
	Phases          map[phase.Name]phase.Summary `json:"phases,omitempty"`
}

// sortedFindings returns the findings most severe first.
func (in Input) sortedFindings() []finding.Finding {
	out := make([]finding.Finding, len(in.Findings))
	copy(out, in.Findings)
	finding.SortBySeverity(out)
	return out
}

func (in Input) duration() string {
	if in.StartedAt == nil || in.FinishedAt == nil {
		return "n/a"
	}
	return in.FinishedAt.Sub(*in.StartedAt).Round(time.Second).String()
}

// Renderer writes one report format.
type Renderer interface {
	Format() Format
	Render(ctx context.Context, in Input, w io.Writer) error
}

// New returns the renderer for f.
func New(f Format, b Branding) (Renderer, error) {
	switch f {
	case PDF:
		return &PDFRenderer{Branding: b}, nil
	case HTML:
		return &HTMLRenderer{Branding: b}, nil
	case Markdown:
		return &MarkdownRenderer{Branding: b}, nil
	case JSON:
		return &JSONRenderer{Branding: b}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "n/a"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
