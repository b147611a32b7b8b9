// Package correlation groups findings and detects attack chains: pairs of
// weaknesses that together suggest a multi-step exploitation path.
package correlation

import (
	"strings"

	"github.com/sloppy/orangesage/internal/finding"
)

// Rule fires when at least one finding has VulnerabilityType and at least
// one finding mentions any of Signals in its title or description.
type Rule struct {
	Name      string
	Type      string
	Signals   []string
	RiskLevel string
}

// DefaultRules are the chains checked when a Correlator has no custom set.
var DefaultRules = []Rule{
	{
		Name:      "SQL Injection -> Data Exfiltration",
		Type:      "sql_injection",
		Signals:   []string{"data", "information"},
		RiskLevel: "high",
	},
	{
		Name:      "XSS -> Session Hijacking",
		Type:      "xss",
		Signals:   []string{"session"},
		RiskLevel: "high",
	},
}

// ScorePerChain is the correlation score contributed by each fired rule.
const ScorePerChain = 10

// Chain is one fired rule and the findings that satisfied it.
type Chain struct {
	Name      string            `json:"chain"`
	Findings  []finding.Finding `json:"findings"`
	RiskLevel string            `json:"risk_level"`
}

// Result is the output of Correlate.
type Result struct {
	FindingsByType     map[string]int           `json:"findings_by_type"`
	FindingsBySeverity map[finding.Severity]int `json:"findings_by_severity"`
	AttackChains       []Chain                  `json:"attack_chains"`
	Score              int                      `json:"correlation_score"`
}

// Correlator evaluates a fixed rule set.
type Correlator struct {
	rules []Rule
}

// New returns a Correlator over rules, or DefaultRules when none are given.
func New(rules ...Rule) *Correlator {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Correlator{rules: rules}
}

// Correlate groups findings by vulnerability type and severity and evaluates
// each rule once, in order.
func (c *Correlator) Correlate(findings []finding.Finding) Result {
	res := Result{
		FindingsByType:     map[string]int{},
		FindingsBySeverity: map[finding.Severity]int{},
		AttackChains:       []Chain{},
	}
	for _, f := range findings {
		res.FindingsByType[f.VulnerabilityType]++
		res.FindingsBySeverity[f.Severity]++
	}

	for _, rule := range c.rules {
		if chain, ok := rule.evaluate(findings); ok {
			res.AttackChains = append(res.AttackChains, chain)
		}
	}
	res.Score = ScorePerChain * len(res.AttackChains)
	return res
}

// Correlate runs the default rule set.
func Correlate(findings []finding.Finding) Result {
	return New().Correlate(findings)
}

func (r Rule) evaluate(findings []finding.Finding) (Chain, bool) {
	var typed, signalled []int
	for i, f := range findings {
		if f.VulnerabilityType == r.Type {
			typed = append(typed, i)
		}
		if r.mentions(f) {
			signalled = append(signalled, i)
		}
	}
	if len(typed) == 0 || len(signalled) == 0 {
		return Chain{}, false
	}

	seen := make(map[int]bool, len(typed)+len(signalled))
	chain := Chain{Name: r.Name, RiskLevel: r.RiskLevel}
	for _, idx := range append(typed, signalled...) {
		if seen[idx] {
			continue
		}
		seen[idx] = true
		chain.Findings = append(chain.Findings, findings[idx])
	}
	return chain, true
}

func (r Rule) mentions(f finding.Finding) bool {
	text := strings.ToLower(f.Title + "\n" + f.Description)
	for _, signal := range r.Signals {
		if strings.Contains(text, strings.ToLower(signal)) {
			return true
		}
	}
	return false
}
