// Package phase defines the result shared by every analysis phase and agent.
package phase

import (
	"encoding/json"

	"github.com/sloppy/orangesage/internal/finding"
)

// Name identifies one of the orchestrated phases.
type Name string

const (
	AgentPentest  Name = "agent_pentest"
	Microservices Name = "microservices"
	Advanced      Name = "advanced_analysis"
	Report        Name = "report"
)

// Result is the outcome of a phase or agent run. On failure Findings is
// empty and Err is set.
type Result struct {
	Success  bool
	Findings []finding.Finding
	Err      error
	// Detail is phase-specific output recorded in the scan summary.
	Detail any
}

// Succeeded builds a successful result.
func Succeeded(findings []finding.Finding, detail any) Result {
	return Result{Success: true, Findings: findings, Detail: detail}
}

// Failed builds a failed result carrying err and no findings.
func Failed(err error) Result {
	return Result{Err: err}
}

// Summary is the JSON form of a Result stored with the scan.
type Summary struct {
	Success  bool   `json:"success"`
	Findings int    `json:"findings"`
	Error    string `json:"error,omitempty"`
	Skipped  bool   `json:"skipped,omitempty"`
	Detail   any    `json:"detail,omitempty"`
}

// Summarize converts r for storage.
func (r Result) Summarize() Summary {
	s := Summary{Success: r.Success, Findings: len(r.Findings), Detail: r.Detail}
	if r.Err != nil {
		s.Error = r.Err.Error()
	}
	return s
}

// MarshalJSON encodes the stored form.
func (r Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Summarize())
}
