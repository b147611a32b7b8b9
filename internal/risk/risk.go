// Package risk turns a set of findings into a bounded risk score and a
// qualitative level.
package risk

import "github.com/sloppy/orangesage/internal/finding"

type Level string

const (
	Low      Level = "LOW"
	Medium   Level = "MEDIUM"
	High     Level = "HIGH"
	Critical Level = "CRITICAL"
)

const (
	MaxScore = 100

	weightCritical = 10
	weightHigh     = 7
	weightMedium   = 4
	weightLow      = 1
)

const (
	FlagCriticalAndHigh = "Multiple critical and high severity findings"
	FlagHighVolume      = "High volume of security findings"
)

// Assessment is the derived risk view of a scan's findings.
type Assessment struct {
	Total         int      `json:"total_findings"`
	CriticalCount int      `json:"critical_count"`
	HighCount     int      `json:"high_count"`
	MediumCount   int      `json:"medium_count"`
	LowCount      int      `json:"low_count"`
	InfoCount     int      `json:"info_count"`
	Score         int      `json:"risk_score"`
	Level         Level    `json:"risk_level"`
	Combinations  []string `json:"high_risk_combinations"`
}

// FromScore maps a 0-100 score onto a level. Lower bounds are inclusive.
func FromScore(score int) Level {
	switch {
	case score >= 80:
		return Critical
	case score >= 60:
		return High
	case score >= 40:
		return Medium
	default:
		return Low
	}
}

// Assess scores findings: 10 per critical, 7 per high, 4 per medium, 1 per
// low, capped at MaxScore. Info findings are counted but carry no weight.
func Assess(findings []finding.Finding) Assessment {
	counts := finding.Count(findings)
	a := Assessment{
		Total:         len(findings),
		CriticalCount: counts[finding.Critical],
		HighCount:     counts[finding.High],
		MediumCount:   counts[finding.Medium],
		LowCount:      counts[finding.Low],
		InfoCount:     counts[finding.Info],
		Combinations:  []string{},
	}

	score := weightCritical*a.CriticalCount +
		weightHigh*a.HighCount +
		weightMedium*a.MediumCount +
		weightLow*a.LowCount
	a.Score = min(MaxScore, score)
	a.Level = FromScore(a.Score)

	if a.CriticalCount > 0 && a.HighCount > 2 {
		a.Combinations = append(a.Combinations, FlagCriticalAndHigh)
	}
	if a.Total > 20 {
		a.Combinations = append(a.Combinations, FlagHighVolume)
	}
	return a
}
