package export

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/sloppy/orangesage/internal/db"
	"github.com/sloppy/orangesage/internal/finding"
)

// ExportScanText writes a readable text summary of a scan's findings, most
// severe first.
func ExportScanText(database *db.DB, scanID int64, w io.Writer) error {
	data, err := loadScan(database, scanID)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "Project: %s\n", data.project.Name)
	fmt.Fprintf(w, "Target: %s (%s)\n", data.target.Value, data.target.Type)
	fmt.Fprintf(w, "Scan: #%d [%s]\n", data.scan.ID, data.scan.Status)
	fmt.Fprintf(w, "Exported: %s\n\n", time.Now().UTC().Format("2006-01-02 15:04:05"))

	counts := finding.Count(data.findings)
	for _, sev := range finding.Severities {
		fmt.Fprintf(w, "%-9s %d\n", sev, counts[sev])
	}
	fmt.Fprintln(w, "")

	if len(data.findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return nil
	}

	findings := make([]finding.Finding, len(data.findings))
	copy(findings, data.findings)
	finding.SortBySeverity(findings)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "Severity\tType\tTitle\tEndpoint\tStatus")
	for _, f := range findings {
		endpoint := f.Endpoint
		if f.Method != "" && endpoint != "" {
			endpoint = f.Method + " " + endpoint
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.Severity, f.VulnerabilityType, f.Title, endpoint, f.Status)
	}
	return tw.Flush()
}
