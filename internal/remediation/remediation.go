// Package remediation produces ordered remediation advice for a finding set.
package remediation

import (
	"strings"

	"github.com/sloppy/orangesage/internal/finding"
)

// General is appended to every recommendation list.
var General = []string{
	"Conduct regular security assessments and penetration testing.",
	"Implement a Web Application Firewall (WAF) for additional protection.",
	"Establish security awareness training for development teams.",
	"Implement a secure development lifecycle (SDL) process.",
	"Regularly update and patch all software components.",
	"Implement comprehensive logging and monitoring for security events.",
}

type condition struct {
	match func(finding.Finding) bool
	text  string
}

func ofType(vt string) func(finding.Finding) bool {
	return func(f finding.Finding) bool { return f.VulnerabilityType == vt }
}

// conditions are evaluated in priority order; each contributes at most once.
var conditions = []condition{
	{
		match: func(f finding.Finding) bool { return f.Severity == finding.Critical },
		text:  "Immediately address all critical severity findings as they pose the highest risk.",
	},
	{
		match: ofType("sql_injection"),
		text:  "Implement parameterized queries and input validation to prevent SQL injection attacks.",
	},
	{
		match: ofType("xss"),
		text:  "Implement proper input validation and output encoding to prevent XSS attacks.",
	},
	{
		match: ofType("command_injection"),
		text:  "Avoid executing user input as system commands and implement proper input sanitization.",
	},
	{
		match: ofType("path_traversal"),
		text:  "Implement proper file path validation and access controls to prevent directory traversal attacks.",
	},
	{
		match: func(f finding.Finding) bool {
			return strings.Contains(strings.ToLower(f.Title), "security headers")
		},
		text: "Implement comprehensive security headers including Content-Security-Policy, X-Frame-Options, and others.",
	},
	{
		match: ofType("ssl_tls"),
		text:  "Review and strengthen SSL/TLS configuration, including cipher suites and certificate management.",
	},
	{
		match: ofType("session_management"),
		text:  "Implement secure session management practices including secure cookies and session timeout.",
	},
}

// Generate returns condition-specific advice followed by the General tail.
// The result is never empty.
func Generate(findings []finding.Finding) []string {
	out := make([]string, 0, len(conditions)+len(General))
	for _, c := range conditions {
		for _, f := range findings {
			if c.match(f) {
				out = append(out, c.text)
				break
			}
		}
	}
	return append(out, General...)
}
