// Package finding defines the issues produced by scan phases and the
// severity/status vocabulary shared by scoring, correlation and reporting.
package finding

import (
	"sort"
	"time"
)

// ProvenanceMicroservices marks findings produced by the analysis services
// rather than by a specific agent.
const ProvenanceMicroservices = "microservices"

// Finding is one discovered issue attached to a scan.
type Finding struct {
	ID                int64             `json:"id"`
	ScanID            int64             `json:"scan_id"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Severity          Severity          `json:"severity"`
	Status            Status            `json:"status"`
	VulnerabilityType string            `json:"vulnerability_type"`
	Endpoint          string            `json:"endpoint,omitempty"`
	Parameter         string            `json:"parameter,omitempty"`
	Method            string            `json:"method,omitempty"`
	RequestSample     string            `json:"request_sample,omitempty"`
	ResponseSample    string            `json:"response_sample,omitempty"`
	POCArtifactKey    string            `json:"poc_artifact_key,omitempty"`
	Remediation       string            `json:"remediation,omitempty"`
	References        map[string]string `json:"references,omitempty"`
	CreatedByAgent    string            `json:"created_by_agent,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}

// Counts holds the number of findings per severity.
type Counts map[Severity]int

// Count tallies findings by severity. Every level is present, zero-filled.
// Findings with an unrecognized severity are ignored.
func Count(findings []Finding) Counts {
	counts := make(Counts, len(Severities))
	for _, s := range Severities {
		counts[s] = 0
	}
	for _, f := range findings {
		if f.Severity.IsValid() {
			counts[f.Severity]++
		}
	}
	return counts
}

// Total sums all severities.
func (c Counts) Total() int {
	total := 0
	for _, n := range c {
		total += n
	}
	return total
}

// SortBySeverity orders findings most severe first, then by vulnerability
// type, keeping the original order for ties.
func SortBySeverity(findings []Finding) {
	sort.SliceStable(findings, func(i, j int) bool {
		ri, rj := findings[i].Severity.Rank(), findings[j].Severity.Rank()
		if ri != rj {
			return ri > rj
		}
		return findings[i].VulnerabilityType < findings[j].VulnerabilityType
	})
}
