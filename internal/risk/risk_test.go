package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sloppy/orangesage/internal/finding"
)

func repeat(sev finding.Severity, n int) []finding.Finding {
	out := make([]finding.Finding, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, finding.Finding{Severity: sev})
	}
	return out
}

func TestAssessEmpty(t *testing.T) {
	a := Assess(nil)
	assert.Equal(t, 0, a.Score)
	assert.Equal(t, Low, a.Level)
	assert.Empty(t, a.Combinations)
}

func TestAssessCriticalAndHigh(t *testing.T) {
	findings := append(repeat(finding.Critical, 2), repeat(finding.High, 3)...)
	a := Assess(findings)
	assert.Equal(t, 41, a.Score)
	assert.Equal(t, Medium, a.Level)
	assert.Equal(t, []string{FlagCriticalAndHigh}, a.Combinations)
}

func TestAssessCombinationBoundary(t *testing.T) {
	findings := append(repeat(finding.Critical, 1), repeat(finding.High, 2)...)
	a := Assess(findings)
	assert.NotContains(t, a.Combinations, FlagCriticalAndHigh)

	a = Assess(repeat(finding.High, 5))
	assert.NotContains(t, a.Combinations, FlagCriticalAndHigh)
}

func TestAssessHighVolume(t *testing.T) {
	a := Assess(repeat(finding.Info, 20))
	assert.Empty(t, a.Combinations)
	assert.Equal(t, 0, a.Score)

	a = Assess(repeat(finding.Info, 21))
	assert.Equal(t, []string{FlagHighVolume}, a.Combinations)
	assert.Equal(t, 21, a.InfoCount)
}

func TestAssessCapped(t *testing.T) {
	a := Assess(repeat(finding.Critical, 15))
	assert.Equal(t, MaxScore, a.Score)
	assert.Equal(t, Critical, a.Level)
}

func TestAssessMonotone(t *testing.T) {
	var findings []finding.Finding
	prev := Assess(findings).Score
	for _, sev := range []finding.Severity{finding.Low, finding.Info, finding.Medium, finding.High, finding.Critical, finding.Critical} {
		findings = append(findings, finding.Finding{Severity: sev})
		got := Assess(findings).Score
		assert.GreaterOrEqual(t, got, prev)
		assert.LessOrEqual(t, got, MaxScore)
		prev = got
	}
}

func TestFromScoreBounds(t *testing.T) {
	tests := []struct {
		score int
		want  Level
	}{
		{0, Low},
		{39, Low},
		{40, Medium},
		{59, Medium},
		{60, High},
		{79, High},
		{80, Critical},
		{100, Critical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, FromScore(tt.score), "score %d", tt.score)
	}
}

func TestAssessPure(t *testing.T) {
	findings := append(repeat(finding.Medium, 3), repeat(finding.Low, 2)...)
	assert.Equal(t, Assess(findings), Assess(findings))
}
