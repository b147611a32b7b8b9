package finding

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in   string
		want Severity
		ok   bool
	}{
		{"critical", Critical, true},
		{" HIGH ", High, true},
		{"Info", Info, true},
		{"severe", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseSeverity(tt.in)
			if !tt.ok {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidSeverity))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSeverityRankOrder(t *testing.T) {
	for i := 1; i < len(Severities); i++ {
		assert.Greater(t, Severities[i-1].Rank(), Severities[i].Rank())
	}
	assert.Equal(t, 0, Severity("bogus").Rank())
}

func TestParseStatus(t *testing.T) {
	s, err := ParseStatus("False_Positive")
	require.NoError(t, err)
	assert.Equal(t, StatusFalsePositive, s)

	_, err = ParseStatus("closed")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestCountZeroFilled(t *testing.T) {
	counts := Count(nil)
	require.Len(t, counts, 5)
	for _, s := range Severities {
		assert.Equal(t, 0, counts[s], s)
	}

	counts = Count([]Finding{
		{Severity: Critical}, {Severity: Critical}, {Severity: Low}, {Severity: "weird"},
	})
	assert.Equal(t, 2, counts[Critical])
	assert.Equal(t, 1, counts[Low])
	assert.Equal(t, 0, counts[High])
	assert.Equal(t, 3, counts.Total())
}

func TestSortBySeverity(t *testing.T) {
	findings := []Finding{
		{Title: "a", Severity: Low, VulnerabilityType: "x"},
		{Title: "b", Severity: Critical, VulnerabilityType: "z"},
		{Title: "c", Severity: Critical, VulnerabilityType: "a"},
		{Title: "d", Severity: Info},
	}
	SortBySeverity(findings)
	var titles []string
	for _, f := range findings {
		titles = append(titles, f.Title)
	}
	assert.Equal(t, []string{"c", "b", "a", "d"}, titles)
}

func TestRawNormalizeDefaults(t *testing.T) {
	f := Raw{Severity: "catastrophic", Method: "post", Payload: "' OR 1=1--"}.Normalize("Security Finding", "unknown", "agent-7")
	assert.Equal(t, "Security Finding", f.Title)
	assert.Equal(t, "unknown", f.VulnerabilityType)
	assert.Equal(t, Medium, f.Severity)
	assert.Equal(t, StatusOpen, f.Status)
	assert.Equal(t, "POST", f.Method)
	assert.Equal(t, "' OR 1=1--", f.RequestSample)
	assert.Equal(t, "agent-7", f.CreatedByAgent)

	f = Raw{Title: "XSS", Severity: "HIGH", Type: "xss"}.Normalize("x", "y", ProvenanceMicroservices)
	assert.Equal(t, High, f.Severity)
	assert.Equal(t, "xss", f.VulnerabilityType)
	assert.Equal(t, ProvenanceMicroservices, f.CreatedByAgent)
}
