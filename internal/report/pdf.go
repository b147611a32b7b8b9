package report

import (
	"context"
	"fmt"
	"io"
	"strings"

	gofpdf "github.com/go-pdf/fpdf"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sloppy/orangesage/internal/finding"
)

var pdfSeverityColors = map[finding.Severity][3]int{
	finding.Critical: {185, 28, 28},
	finding.High:     {234, 88, 12},
	finding.Medium:   {202, 138, 4},
	finding.Low:      {37, 99, 235},
	finding.Info:     {100, 116, 139},
}

// PDFRenderer lays the report out on A4 pages.
type PDFRenderer struct {
	Branding Branding
	// noCompress leaves content streams readable; tests search them.
	noCompress bool
}

func (r *PDFRenderer) Format() Format { return PDF }

func (r *PDFRenderer) Render(_ context.Context, in Input, w io.Writer) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetCompression(!r.noCompress)
	pdf.SetTitle(r.Branding.Company()+" Security Assessment", false)
	pdf.SetAuthor(r.Branding.Company(), false)
	pdf.SetCreator("orange-sage", false)
	pdf.SetMargins(15, 15, 15)
	pdf.SetAutoPageBreak(true, 18)
	pdf.AliasNbPages("")
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.SetTextColor(120, 120, 120)
		pdf.CellFormat(0, 8, fmt.Sprintf("Page %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})

	p := pdfPage{pdf: pdf, tr: tr, accent: r.Branding.accent(), title: cases.Title(language.English)}
	p.cover(r.Branding, in)
	p.executiveSummary(in)
	p.riskAssessment(in)
	p.attackChains(in)
	p.findings(in)
	p.recommendations(in)

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("build pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

type pdfPage struct {
	pdf    *gofpdf.Fpdf
	tr     func(string) string
	accent [3]int
	title  cases.Caser
}

func (p pdfPage) sectionHeader(text string) {
	p.pdf.Ln(4)
	p.pdf.SetFont("Helvetica", "B", 14)
	p.pdf.SetTextColor(p.accent[0], p.accent[1], p.accent[2])
	p.pdf.CellFormat(0, 9, p.tr(text), "B", 1, "L", false, 0, "")
	p.pdf.Ln(2)
	p.body()
}

func (p pdfPage) body() {
	p.pdf.SetFont("Helvetica", "", 10)
	p.pdf.SetTextColor(40, 40, 40)
}

func (p pdfPage) para(text string) {
	p.pdf.MultiCell(0, 5, p.tr(text), "", "L", false)
}

func (p pdfPage) keyValue(key, value string) {
	p.pdf.SetFont("Helvetica", "B", 10)
	p.pdf.CellFormat(45, 6, p.tr(key), "", 0, "L", false, 0, "")
	p.pdf.SetFont("Helvetica", "", 10)
	p.pdf.MultiCell(0, 6, p.tr(value), "", "L", false)
}

func (p pdfPage) cover(b Branding, in Input) {
	p.pdf.AddPage()
	p.pdf.SetFillColor(p.accent[0], p.accent[1], p.accent[2])
	p.pdf.Rect(0, 0, 210, 40, "F")
	p.pdf.SetY(12)
	p.pdf.SetFont("Helvetica", "B", 22)
	p.pdf.SetTextColor(255, 255, 255)
	p.pdf.CellFormat(0, 10, p.tr(b.Company()+" Security Assessment"), "", 1, "L", false, 0, "")
	p.pdf.SetFont("Helvetica", "", 11)
	p.pdf.CellFormat(0, 7, p.tr(fmt.Sprintf("Scan #%d", in.ScanID)), "", 1, "L", false, 0, "")
	p.pdf.SetY(50)
	p.body()
	if in.Project != "" {
		p.keyValue("Project", in.Project)
	}
	p.keyValue("Target", fmt.Sprintf("%s (%s)", in.Target.Value, in.Target.Type))
	p.keyValue("Status", in.Status)
	p.keyValue("Started", formatTime(in.StartedAt))
	p.keyValue("Finished", formatTime(in.FinishedAt))
	p.keyValue("Duration", in.duration())
	p.keyValue("Generated", formatTime(&in.GeneratedAt))
}

func (p pdfPage) executiveSummary(in Input) {
	p.sectionHeader("Executive Summary")
	p.para(fmt.Sprintf("The assessment identified %d findings. The overall risk level is %s with a risk score of %d/100.",
		in.Risk.Total, in.Risk.Level, in.Risk.Score))
	p.pdf.Ln(3)

	p.pdf.SetFont("Helvetica", "B", 10)
	p.pdf.SetFillColor(30, 41, 59)
	p.pdf.SetTextColor(255, 255, 255)
	p.pdf.CellFormat(60, 7, "Severity", "1", 0, "L", true, 0, "")
	p.pdf.CellFormat(30, 7, "Count", "1", 1, "C", true, 0, "")
	p.pdf.SetFont("Helvetica", "", 10)
	for _, sev := range finding.Severities {
		c := pdfSeverityColors[sev]
		p.pdf.SetTextColor(c[0], c[1], c[2])
		p.pdf.CellFormat(60, 7, p.title.String(string(sev)), "1", 0, "L", false, 0, "")
		p.pdf.SetTextColor(40, 40, 40)
		p.pdf.CellFormat(30, 7, fmt.Sprintf("%d", in.Counts[sev]), "1", 1, "C", false, 0, "")
	}
}

func (p pdfPage) riskAssessment(in Input) {
	p.sectionHeader("Risk Assessment")
	p.keyValue("Risk score", fmt.Sprintf("%d / 100", in.Risk.Score))
	p.keyValue("Risk level", string(in.Risk.Level))
	if len(in.Risk.Combinations) == 0 {
		p.para("No high-risk combinations were detected.")
		return
	}
	for _, c := range in.Risk.Combinations {
		p.para("- " + c)
	}
}

func (p pdfPage) attackChains(in Input) {
	p.sectionHeader("Attack Chains")
	if len(in.Correlation.AttackChains) == 0 {
		p.para("No attack chains were identified.")
		return
	}
	for _, chain := range in.Correlation.AttackChains {
		p.pdf.SetFont("Helvetica", "B", 10)
		p.para(fmt.Sprintf("%s (%s risk)", chain.Name, chain.RiskLevel))
		p.body()
		for _, f := range chain.Findings {
			p.para("  - " + f.Title)
		}
	}
	p.keyValue("Correlation score", fmt.Sprintf("%d", in.Correlation.Score))
}

func (p pdfPage) findings(in Input) {
	p.pdf.AddPage()
	p.sectionHeader("Detailed Findings")
	findings := in.sortedFindings()
	if len(findings) == 0 {
		p.para("No findings were recorded for this scan.")
		return
	}
	for i, f := range findings {
		c := pdfSeverityColors[f.Severity]
		p.pdf.SetFont("Helvetica", "B", 11)
		p.pdf.SetTextColor(c[0], c[1], c[2])
		p.pdf.MultiCell(0, 6, p.tr(fmt.Sprintf("%d. [%s] %s", i+1, strings.ToUpper(string(f.Severity)), f.Title)), "", "L", false)
		p.body()
		p.keyValue("Type", f.VulnerabilityType)
		if f.Endpoint != "" {
			endpoint := f.Endpoint
			if f.Method != "" {
				endpoint = f.Method + " " + endpoint
			}
			p.keyValue("Endpoint", endpoint)
		}
		if f.Parameter != "" {
			p.keyValue("Parameter", f.Parameter)
		}
		if f.Description != "" {
			p.keyValue("Description", f.Description)
		}
		if f.Remediation != "" {
			p.keyValue("Remediation", f.Remediation)
		}
		p.keyValue("Reported by", f.CreatedByAgent)
		p.pdf.Ln(3)
	}
}

func (p pdfPage) recommendations(in Input) {
	p.sectionHeader("Recommendations")
	for i, rec := range in.Recommendations {
		p.para(fmt.Sprintf("%d. %s", i+1, rec))
	}
}
