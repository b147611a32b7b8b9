package report

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sloppy/orangesage/internal/correlation"
	"github.com/sloppy/orangesage/internal/finding"
	"github.com/sloppy/orangesage/internal/remediation"
	"github.com/sloppy/orangesage/internal/risk"
	"github.com/sloppy/orangesage/internal/testutil"
)

func sampleInput() Input {
	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	finished := started.Add(14 * time.Minute)
	findings := append(testutil.DemoFindings(),
		testutil.Finding("Sensitive Data Exposure | backups", finding.Critical, "info_disclosure"),
	)
	return Input{
		ScanID:          42,
		Project:         "acme",
		Target:          Target{Name: "shop", Type: "url", Value: "https://shop.example"},
		Status:          "completed",
		StartedAt:       &started,
		FinishedAt:      &finished,
		GeneratedAt:     finished.Add(time.Minute),
		Findings:        findings,
		Counts:          finding.Count(findings),
		Risk:            risk.Assess(findings),
		Correlation:     correlation.Correlate(findings),
		Recommendations: remediation.Generate(findings),
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"pdf": PDF, "HTML": HTML, "md": Markdown, " json ": JSON, "markdown": Markdown} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("docx")
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = New("docx", Branding{})
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestFilename(t *testing.T) {
	assert.Equal(t, "orange_sage_report_7.pdf", Filename(7, PDF))
	assert.Equal(t, "orange_sage_report_7.md", Filename(7, Markdown))
	assert.Equal(t, "application/pdf", PDF.ContentType())
}

func TestPDFIsValid(t *testing.T) {
	var buf bytes.Buffer
	r := &PDFRenderer{Branding: Branding{CompanyName: "Acme Security", ColorScheme: "blue"}, noCompress: true}
	require.NoError(t, r.Render(context.Background(), sampleInput(), &buf))

	raw := buf.Bytes()
	require.True(t, bytes.HasPrefix(raw, []byte("%PDF")))
	require.NoError(t, pdfapi.Validate(bytes.NewReader(raw), nil))

	pages, err := pdfapi.PageCount(bytes.NewReader(raw), nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, pages, 2)

	for _, text := range []string{"Acme Security Security Assessment", "Executive Summary", "SQL Injection -> Data Exfiltration", "Recommendations"} {
		assert.True(t, bytes.Contains(raw, []byte(text)), "pdf missing %q", text)
	}
}

func TestPDFWithoutFindings(t *testing.T) {
	in := Input{ScanID: 1, Status: "completed", Counts: finding.Count(nil), Risk: risk.Assess(nil),
		Correlation: correlation.Correlate(nil), Recommendations: remediation.Generate(nil)}
	var buf bytes.Buffer
	require.NoError(t, (&PDFRenderer{noCompress: true}).Render(context.Background(), in, &buf))
	require.NoError(t, pdfapi.Validate(bytes.NewReader(buf.Bytes()), nil))
	assert.True(t, bytes.Contains(buf.Bytes(), []byte("No findings were recorded")))
}

func TestHTMLEscapesAndOrders(t *testing.T) {
	in := sampleInput()
	in.Findings = append(in.Findings, testutil.Finding(`<script>alert(1)</script>`, finding.Low, "xss"))
	var buf bytes.Buffer
	require.NoError(t, (&HTMLRenderer{}).Render(context.Background(), in, &buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "<!doctype html>"))
	assert.Contains(t, out, "Orange Sage Security Assessment")
	assert.Contains(t, out, "#ea580c")
	assert.NotContains(t, out, "<script>")
	assert.Contains(t, out, "&lt;script&gt;")
	assert.Contains(t, out, "SQL Injection -&gt; Data Exfiltration")

	critical := strings.Index(out, "[CRITICAL]")
	high := strings.Index(out, "[HIGH]")
	low := strings.Index(out, "[LOW]")
	require.True(t, critical > 0 && high > 0 && low > 0)
	assert.Less(t, critical, high)
	assert.Less(t, high, low)
}

func TestMarkdownSections(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownRenderer{}).Render(context.Background(), sampleInput(), &buf))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "# Orange Sage Security Assessment"))
	assert.Contains(t, out, "| Target | https://shop.example (url) |")
	assert.Contains(t, out, "| Critical | 1 |")
	assert.Contains(t, out, "| Info | 0 |")
	assert.Contains(t, out, "### SQL Injection -> Data Exfiltration (high risk)")
	assert.Contains(t, out, "### 1. [CRITICAL] Sensitive Data Exposure \\| backups")
	assert.Contains(t, out, "- **Endpoint:** `POST /login`")
	assert.Contains(t, out, "Implement a Web Application Firewall (WAF) for additional protection.")
	assert.Contains(t, out, "| Duration | 14m0s |")
}

func TestJSONDocument(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONRenderer{Branding: Branding{CompanyName: "Acme"}}).Render(context.Background(), sampleInput(), &buf))

	var doc struct {
		Report   string            `json:"report"`
		ScanID   int64             `json:"scan_id"`
		Findings []finding.Finding `json:"findings"`
		Risk     risk.Assessment   `json:"risk_assessment"`
		Recs     []string          `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Equal(t, "Acme Security Assessment", doc.Report)
	assert.EqualValues(t, 42, doc.ScanID)
	require.Len(t, doc.Findings, 3)
	assert.Equal(t, finding.Critical, doc.Findings[0].Severity)
	assert.Equal(t, 10+7+4, doc.Risk.Score)
	assert.NotEmpty(t, doc.Recs)
}

func TestEveryFormatRenders(t *testing.T) {
	for _, f := range Formats {
		t.Run(string(f), func(t *testing.T) {
			r, err := New(f, Branding{})
			require.NoError(t, err)
			assert.Equal(t, f, r.Format())
			var buf bytes.Buffer
			require.NoError(t, r.Render(context.Background(), sampleInput(), &buf))
			assert.NotZero(t, buf.Len())
		})
	}
}
