// Package microservices fans a target out to the external analysis
// services and folds their answers into findings.
package microservices

import (
	"time"

	"github.com/sloppy/orangesage/internal/config"
)

// Service names an analysis service.
type Service string

const (
	VulnerabilityScanner Service = "vulnerability_scanner"
	NetworkAnalyzer      Service = "network_analyzer"
	CodeAnalyzer         Service = "code_analyzer"
	ComplianceChecker    Service = "compliance_checker"
	ThreatIntelligence   Service = "threat_intelligence"
	ReportGenerator      Service = "report_generator"
)

// Endpoint locates one service and the path its work is posted to.
type Endpoint struct {
	Service     Service
	URL         string
	Path        string
	Timeout     time.Duration
	Description string
}

// Endpoints is the configured set of services keyed by name.
type Endpoints map[Service]Endpoint

// EndpointsFromConfig resolves every service from cfg.
func EndpointsFromConfig(cfg config.MicroservicesConfig) Endpoints {
	ep := func(s Service, c config.ServiceEndpoint, path, desc string) Endpoint {
		return Endpoint{Service: s, URL: c.URL, Path: path, Timeout: c.Timeout, Description: desc}
	}
	return Endpoints{
		VulnerabilityScanner: ep(VulnerabilityScanner, cfg.VulnerabilityScanner, "/scan", "Automated vulnerability scanning service"),
		NetworkAnalyzer:      ep(NetworkAnalyzer, cfg.NetworkAnalyzer, "/analyze", "Network security analysis service"),
		CodeAnalyzer:         ep(CodeAnalyzer, cfg.CodeAnalyzer, "/analyze", "Static code analysis service"),
		ComplianceChecker:    ep(ComplianceChecker, cfg.ComplianceChecker, "/check", "Compliance and standards checking service"),
		ThreatIntelligence:   ep(ThreatIntelligence, cfg.ThreatIntelligence, "/analyze", "Threat intelligence and IOCs analysis"),
		ReportGenerator:      ep(ReportGenerator, cfg.ReportGenerator, "/generate", "Advanced report generation service"),
	}
}

// enabled lists the analysis services opts turns on, in a fixed order.
func enabled(opts config.ScanOptions) []Service {
	var out []Service
	if opts.EnableVulnScanning {
		out = append(out, VulnerabilityScanner)
	}
	if opts.EnableNetwork {
		out = append(out, NetworkAnalyzer)
	}
	if opts.EnableCodeAnalysis {
		out = append(out, CodeAnalyzer)
	}
	if opts.EnableCompliance {
		out = append(out, ComplianceChecker)
	}
	if opts.EnableThreatIntel {
		out = append(out, ThreatIntelligence)
	}
	return out
}

// requestBody builds the JSON payload a service expects.
func requestBody(s Service, analysisID, target string, opts config.ScanOptions) map[string]any {
	body := map[string]any{"analysis_id": analysisID, "target": target}
	switch s {
	case VulnerabilityScanner:
		body["scan_types"] = opts.ScanTypes
		body["depth"] = opts.ScanDepth
		body["options"] = map[string]bool{
			"enable_sql_injection":         true,
			"enable_xss":                   true,
			"enable_csrf":                  true,
			"enable_path_traversal":        true,
			"enable_command_injection":     true,
			"enable_authentication_bypass": true,
		}
	case NetworkAnalyzer:
		body["analysis_types"] = []string{"port_scan", "ssl_analysis", "service_enumeration"}
		body["options"] = map[string]any{
			"port_range":      opts.PortRange,
			"scan_techniques": []string{"tcp_syn", "tcp_connect", "udp"},
			"ssl_analysis":    true,
			"banner_grabbing": true,
		}
	case CodeAnalyzer:
		body["analysis_types"] = []string{"static_analysis", "dependency_check"}
		body["options"] = map[string]any{
			"languages":                   []string{"python", "javascript", "java", "php"},
			"check_secrets":               true,
			"check_dependencies":          true,
			"check_hardcoded_credentials": true,
		}
	case ComplianceChecker:
		body["standards"] = []string{"owasp_top10", "pci_dss"}
		body["options"] = map[string]bool{
			"check_authentication":  true,
			"check_authorization":   true,
			"check_data_protection": true,
			"check_encryption":      true,
			"check_logging":         true,
		}
	case ThreatIntelligence:
		body["analysis_types"] = []string{"ioc_analysis", "threat_hunting"}
		body["options"] = map[string]bool{
			"check_known_malicious":     true,
			"check_suspicious_patterns": true,
			"check_network_indicators":  true,
			"check_file_indicators":     true,
		}
	}
	return body
}
