package testutil

import "github.com/sloppy/orangesage/internal/finding"

// Finding builds a minimal open finding.
func Finding(title string, sev finding.Severity, vulnType string) finding.Finding {
	return finding.Finding{
		Title:             title,
		Severity:          sev,
		Status:            finding.StatusOpen,
		VulnerabilityType: vulnType,
	}
}

// DemoFindings are the two findings a general agent reports against a
// typical login/search application.
func DemoFindings() []finding.Finding {
	return []finding.Finding{
		{
			Title:             "SQL Injection Vulnerability",
			Description:       "The application is vulnerable to SQL injection attacks",
			Severity:          finding.High,
			Status:            finding.StatusOpen,
			VulnerabilityType: "sql_injection",
			Endpoint:          "/login",
			Parameter:         "username",
			Method:            "POST",
			Remediation:       "Use parameterized queries to prevent SQL injection",
			References:        map[string]string{"CWE": "CWE-89", "OWASP": "A03:2021 Injection"},
			CreatedByAgent:    "demo-agent",
		},
		{
			Title:             "Cross-Site Scripting (XSS)",
			Description:       "Reflected XSS vulnerability found in search parameter",
			Severity:          finding.Medium,
			Status:            finding.StatusOpen,
			VulnerabilityType: "xss",
			Endpoint:          "/search",
			Parameter:         "q",
			Method:            "GET",
			Remediation:       "Implement proper input validation and output encoding",
			References:        map[string]string{"CWE": "CWE-79", "OWASP": "A03:2021 Injection"},
			CreatedByAgent:    "demo-agent",
		},
	}
}
