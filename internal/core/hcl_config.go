package core

import (
	"fmt"
	"os"
	"time"

	"github.com/hashicorp/hcl/v2/hclsimple"
	"github.com/hashicorp/hcl/v2/hclwrite"
	"github.com/zclconf/go-cty/cty"
)

const (
	DefaultDaemonPort    = 3101
	DefaultDashboardPort = 3100
)

// Config is the global configuration instance
var Config *Configuration

// Configuration represents the complete mclaw configuration
type Configuration struct {
	ConfigPath  string // Directory containing config.hcl, registry files and data
	Verbose     int
	DatabaseURL string // Only set when the URL carries no credentials
	Daemon      ServiceConfig
	Dashboard   ServiceConfig
	Stream      StreamConfig
}

// ServiceConfig holds the settings of one supervised service
type ServiceConfig struct {
	Port         int
	PollInterval string // Delay between health probes while starting
	MaxAttempts  int    // Health probes before a start is declared failed
}

// StreamConfig tunes the live activity subscriber
type StreamConfig struct {
	ConnectTimeout string
	RetryDelay     string
	MaxFailures    int
	PollInterval   string // Polling interval once live delivery is abandoned
}

// HCL parsing structs

type hclConfig struct {
	Verbose     int         `hcl:"verbose,optional"`
	DatabaseURL string      `hcl:"database_url,optional"`
	Daemon      *hclService `hcl:"daemon,block"`
	Dashboard   *hclService `hcl:"dashboard,block"`
	Stream      *hclStream  `hcl:"stream,block"`
}

type hclService struct {
	Port         int    `hcl:"port,optional"`
	PollInterval string `hcl:"poll_interval,optional"`
	MaxAttempts  int    `hcl:"max_attempts,optional"`
}

type hclStream struct {
	ConnectTimeout string `hcl:"connect_timeout,optional"`
	RetryDelay     string `hcl:"retry_delay,optional"`
	MaxFailures    int    `hcl:"max_failures,optional"`
	PollInterval   string `hcl:"poll_interval,optional"`
}

// LoadConfig loads the HCL configuration file and returns a Configuration struct
func LoadConfig(filename string) (*Configuration, error) {
	var hclCfg hclConfig

	err := hclsimple.DecodeFile(filename, nil, &hclCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HCL config: %w", err)
	}

	cfg := GetDefaultConfig()
	cfg.Verbose = hclCfg.Verbose
	cfg.DatabaseURL = hclCfg.DatabaseURL

	mergeService(&cfg.Daemon, hclCfg.Daemon)
	mergeService(&cfg.Dashboard, hclCfg.Dashboard)

	if s := hclCfg.Stream; s != nil {
		if s.ConnectTimeout != "" {
			cfg.Stream.ConnectTimeout = s.ConnectTimeout
		}
		if s.RetryDelay != "" {
			cfg.Stream.RetryDelay = s.RetryDelay
		}
		if s.MaxFailures > 0 {
			cfg.Stream.MaxFailures = s.MaxFailures
		}
		if s.PollInterval != "" {
			cfg.Stream.PollInterval = s.PollInterval
		}
	}

	return cfg, nil
}

func mergeService(dst *ServiceConfig, src *hclService) {
	if src == nil {
		return
	}
	if src.Port > 0 {
		dst.Port = src.Port
	}
	if src.PollInterval != "" {
		dst.PollInterval = src.PollInterval
	}
	if src.MaxAttempts > 0 {
		dst.MaxAttempts = src.MaxAttempts
	}
}

// GetDefaultConfig returns a Configuration with default values
func GetDefaultConfig() *Configuration {
	return &Configuration{
		Verbose: 0,
		Daemon: ServiceConfig{
			Port:         DefaultDaemonPort,
			PollInterval: "500ms",
			MaxAttempts:  30,
		},
		Dashboard: ServiceConfig{
			Port:         DefaultDashboardPort,
			PollInterval: "1s",
			MaxAttempts:  30,
		},
		Stream: StreamConfig{
			ConnectTimeout: "5s",
			RetryDelay:     "3s",
			MaxFailures:    3,
			PollInterval:   "10s",
		},
	}
}

// ConfigExists checks if a config file exists
func ConfigExists(configPath string) bool {
	_, err := os.Stat(configPath)
	return err == nil
}

// SaveConfig writes cfg as HCL to filename.
func SaveConfig(filename string, cfg *Configuration) error {
	f := hclwrite.NewEmptyFile()
	body := f.Body()

	if cfg.Verbose != 0 {
		body.SetAttributeValue("verbose", cty.NumberIntVal(int64(cfg.Verbose)))
	}
	if cfg.DatabaseURL != "" {
		body.SetAttributeValue("database_url", cty.StringVal(cfg.DatabaseURL))
	}

	for _, svc := range []struct {
		name string
		cfg  ServiceConfig
	}{
		{"daemon", cfg.Daemon},
		{"dashboard", cfg.Dashboard},
	} {
		body.AppendNewline()
		block := body.AppendNewBlock(svc.name, nil).Body()
		block.SetAttributeValue("port", cty.NumberIntVal(int64(svc.cfg.Port)))
		block.SetAttributeValue("poll_interval", cty.StringVal(svc.cfg.PollInterval))
		block.SetAttributeValue("max_attempts", cty.NumberIntVal(int64(svc.cfg.MaxAttempts)))
	}

	body.AppendNewline()
	stream := body.AppendNewBlock("stream", nil).Body()
	stream.SetAttributeValue("connect_timeout", cty.StringVal(cfg.Stream.ConnectTimeout))
	stream.SetAttributeValue("retry_delay", cty.StringVal(cfg.Stream.RetryDelay))
	stream.SetAttributeValue("max_failures", cty.NumberIntVal(int64(cfg.Stream.MaxFailures)))
	stream.SetAttributeValue("poll_interval", cty.StringVal(cfg.Stream.PollInterval))

	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, f.Bytes(), 0o600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace config: %w", err)
	}
	return nil
}

// ParseDuration parses s, returning fallback when s is empty or invalid.
func ParseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
