// Package config loads process settings from defaults, an optional YAML
// file and ORANGE_SAGE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides, e.g. ORANGE_SAGE_DB_PATH.
const EnvPrefix = "ORANGE_SAGE"

type Config struct {
	DB            DBConfig            `mapstructure:"db"`
	HTTP          HTTPConfig          `mapstructure:"http"`
	Log           LogConfig           `mapstructure:"log"`
	Scan          ScanConfig          `mapstructure:"scan"`
	LLM           LLMConfig           `mapstructure:"llm"`
	Sandbox       SandboxConfig       `mapstructure:"sandbox"`
	Microservices MicroservicesConfig `mapstructure:"microservices"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	Tracing       TracingConfig       `mapstructure:"tracing"`
	Report        ReportConfig        `mapstructure:"report"`
}

type DBConfig struct {
	Path string `mapstructure:"path"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ScanConfig holds process-wide orchestration limits.
type ScanConfig struct {
	PhaseTimeout  time.Duration `mapstructure:"phase_timeout"`
	MaxIterations int           `mapstructure:"max_iterations"`
	MaxAgents     int           `mapstructure:"max_agents"`
	// AllowedNetworks limits targets to these IPs, CIDRs and domains.
	AllowedNetworks []string `mapstructure:"allowed_networks"`
}

type LLMConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type SandboxConfig struct {
	Mode string `mapstructure:"mode"`
}

// ServiceEndpoint locates one analysis service.
type ServiceEndpoint struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type MicroservicesConfig struct {
	VulnerabilityScanner ServiceEndpoint `mapstructure:"vulnerability_scanner"`
	NetworkAnalyzer      ServiceEndpoint `mapstructure:"network_analyzer"`
	CodeAnalyzer         ServiceEndpoint `mapstructure:"code_analyzer"`
	ComplianceChecker    ServiceEndpoint `mapstructure:"compliance_checker"`
	ThreatIntelligence   ServiceEndpoint `mapstructure:"threat_intelligence"`
	ReportGenerator      ServiceEndpoint `mapstructure:"report_generator"`
	RateLimit            float64         `mapstructure:"rate_limit"`
	Retries              int             `mapstructure:"retries"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
	ServiceName string `mapstructure:"service_name"`
}

type ReportConfig struct {
	CompanyName string `mapstructure:"company_name"`
	ColorScheme string `mapstructure:"color_scheme"`
	// Dir, when set, receives a copy of every generated report.
	Dir string `mapstructure:"dir"`
}

// SetDefaults registers every key with its default so that environment
// overrides resolve during Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("db.path", "orange-sage.db")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("scan.phase_timeout", 30*time.Minute)
	v.SetDefault("scan.max_iterations", 200)
	v.SetDefault("scan.max_agents", 10)
	v.SetDefault("scan.allowed_networks", []string{})

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4000)
	v.SetDefault("llm.timeout", 2*time.Minute)

	v.SetDefault("sandbox.mode", "local")

	services := []struct {
		name    string
		port    int
		timeout time.Duration
	}{
		{"vulnerability_scanner", 8001, 5 * time.Minute},
		{"network_analyzer", 8002, 10 * time.Minute},
		{"code_analyzer", 8003, 15 * time.Minute},
		{"compliance_checker", 8004, 5 * time.Minute},
		{"threat_intelligence", 8005, 10 * time.Minute},
		{"report_generator", 8006, 5 * time.Minute},
	}
	for _, s := range services {
		v.SetDefault("microservices."+s.name+".url", fmt.Sprintf("http://localhost:%d", s.port))
		v.SetDefault("microservices."+s.name+".timeout", s.timeout)
	}
	v.SetDefault("microservices.rate_limit", 5.0)
	v.SetDefault("microservices.retries", 2)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tracing.service_name", "orange-sage")

	v.SetDefault("report.company_name", "Orange Sage")
	v.SetDefault("report.color_scheme", "orange")
	v.SetDefault("report.dir", "")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, path string) (Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the orchestrator cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.Scan.PhaseTimeout <= 0 {
		errs = append(errs, errors.New("scan.phase_timeout must be positive"))
	}
	if c.Scan.MaxIterations <= 0 {
		errs = append(errs, errors.New("scan.max_iterations must be positive"))
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, fmt.Errorf("llm.temperature %.2f out of range [0,2]", c.LLM.Temperature))
	}
	switch c.Sandbox.Mode {
	case "local", "mock":
	default:
		errs = append(errs, fmt.Errorf("sandbox.mode %q not supported", c.Sandbox.Mode))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// NewLogger builds the process logger described by c.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(c.Level)}
	if c.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
