package finding

import (
	"fmt"
	"strings"
)

// Severity is the impact level of a finding. Values are lowercase.
type Severity string

const (
	Critical Severity = "critical"
	High     Severity = "high"
	Medium   Severity = "medium"
	Low      Severity = "low"
	Info     Severity = "info"
)

// Severities lists every level from most to least severe.
var Severities = []Severity{Critical, High, Medium, Low, Info}

// IsValid reports whether s is a recognized severity level.
func (s Severity) IsValid() bool {
	switch s {
	case Critical, High, Medium, Low, Info:
		return true
	}
	return false
}

// Rank orders severities for sorting. Critical=5 down to Info=1, unknown=0.
func (s Severity) Rank() int {
	switch s {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Info:
		return 1
	default:
		return 0
	}
}

func (s Severity) String() string {
	return string(s)
}

// ParseSeverity normalizes and validates a severity name.
func ParseSeverity(value string) (Severity, error) {
	s := Severity(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidSeverity, value)
	}
	return s, nil
}

// Status is the triage state of a finding.
type Status string

const (
	StatusOpen          Status = "open"
	StatusTriaged       Status = "triaged"
	StatusFalsePositive Status = "false_positive"
	StatusResolved      Status = "resolved"
)

// IsValid reports whether s is a recognized triage status.
func (s Status) IsValid() bool {
	switch s {
	case StatusOpen, StatusTriaged, StatusFalsePositive, StatusResolved:
		return true
	}
	return false
}

// ParseStatus normalizes and validates a triage status.
func ParseStatus(value string) (Status, error) {
	s := Status(strings.ToLower(strings.TrimSpace(value)))
	if !s.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
	return s, nil
}
