package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Agent type names accepted in ScanOptions.AgentTypes.
const (
	AgentGeneral       = "general"
	AgentRecon         = "recon"
	AgentVulnerability = "vulnerability"
)

// Duration decodes "30m" style strings in JSON and YAML scan options.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.set(s)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.set(node.Value)
}

func (d *Duration) set(s string) error {
	if s == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// ScanOptions selects which phases run for one scan and how. It is stored
// with the scan as JSON.
type ScanOptions struct {
	EnableAgentPentest  bool     `json:"enable_agent_pentest" yaml:"enable_agent_pentest"`
	EnableMicroservices bool     `json:"enable_microservices" yaml:"enable_microservices"`
	EnableVulnScanning  bool     `json:"enable_vulnerability_scanning" yaml:"enable_vulnerability_scanning"`
	EnableNetwork       bool     `json:"enable_network_analysis" yaml:"enable_network_analysis"`
	EnableCodeAnalysis  bool     `json:"enable_code_analysis" yaml:"enable_code_analysis"`
	EnableCompliance    bool     `json:"enable_compliance_checking" yaml:"enable_compliance_checking"`
	EnableThreatIntel   bool     `json:"enable_threat_intelligence" yaml:"enable_threat_intelligence"`
	GenerateReport      bool     `json:"generate_report" yaml:"generate_report"`
	ReportFormat        string   `json:"report_format" yaml:"report_format"`
	AgentTypes          []string `json:"agent_types" yaml:"agent_types"`
	ScanTypes           []string `json:"scan_types" yaml:"scan_types"`
	ScanDepth           string   `json:"scan_depth" yaml:"scan_depth"`
	PortRange           string   `json:"port_range" yaml:"port_range"`
	Model               string   `json:"model,omitempty" yaml:"model,omitempty"`
	PhaseTimeout        Duration `json:"phase_timeout,omitempty" yaml:"phase_timeout,omitempty"`
}

// DefaultScanOptions enables every phase and every service except code
// analysis.
func DefaultScanOptions() ScanOptions {
	return ScanOptions{
		EnableAgentPentest:  true,
		EnableMicroservices: true,
		EnableVulnScanning:  true,
		EnableNetwork:       true,
		EnableCodeAnalysis:  false,
		EnableCompliance:    true,
		EnableThreatIntel:   true,
		GenerateReport:      true,
		ReportFormat:        "pdf",
		AgentTypes:          []string{AgentRecon, AgentVulnerability},
		ScanTypes:           []string{"web", "api"},
		ScanDepth:           "comprehensive",
		PortRange:           "1-65535",
	}
}

// ParseScanOptions overlays raw JSON onto the defaults. Empty input yields
// the defaults.
func ParseScanOptions(raw []byte) (ScanOptions, error) {
	opts := DefaultScanOptions()
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return opts, nil
	}
	if err := json.Unmarshal(raw, &opts); err != nil {
		return ScanOptions{}, fmt.Errorf("decode scan options: %w", err)
	}
	return opts, opts.Validate()
}

// LoadScanProfile reads a YAML scan profile overlaid onto the defaults.
func LoadScanProfile(path string) (ScanOptions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ScanOptions{}, fmt.Errorf("read scan profile: %w", err)
	}
	opts := DefaultScanOptions()
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return ScanOptions{}, fmt.Errorf("decode scan profile %s: %w", path, err)
	}
	return opts, opts.Validate()
}

// Validate checks agent types and the report format.
func (o ScanOptions) Validate() error {
	for _, t := range o.AgentTypes {
		switch t {
		case AgentGeneral, AgentRecon, AgentVulnerability:
		default:
			return fmt.Errorf("unknown agent type %q", t)
		}
	}
	switch o.ReportFormat {
	case "", "pdf", "html", "markdown", "json":
	default:
		return fmt.Errorf("unknown report format %q", o.ReportFormat)
	}
	if o.PhaseTimeout < 0 {
		return fmt.Errorf("phase_timeout must not be negative")
	}
	return nil
}

// Timeout returns the per-phase timeout, falling back to def.
func (o ScanOptions) Timeout(def time.Duration) time.Duration {
	if o.PhaseTimeout > 0 {
		return time.Duration(o.PhaseTimeout)
	}
	return def
}
