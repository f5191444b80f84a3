package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schemamend/schemamend/utils"
)

// Duration wraps time.Duration so intervals can be written as "30s" / "5m"
// in the YAML file.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("parsing duration %q: %v", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// ReferenceRow declares rows the application assumes exist in a table.
// The detector reports MISSING_DATA when any declared value is absent.
type ReferenceRow struct {
	Table     string   `yaml:"table"`
	KeyColumn string   `yaml:"key_column"`
	Values    []string `yaml:"values"`
}

type Config struct {
	DatabaseURL      string         `yaml:"database_url"`
	ScanPaths        []string       `yaml:"scan_paths"`
	Interval         Duration       `yaml:"interval"`
	QueryTimeout     Duration       `yaml:"query_timeout"`
	AutoFixThreshold string         `yaml:"auto_fix_threshold"`
	Retention        Duration       `yaml:"retention"`
	MaxRetries       int            `yaml:"max_retries"`
	RetryBaseDelay   Duration       `yaml:"retry_base_delay"`
	ReferenceRows    []ReferenceRow `yaml:"reference_rows"`
	WebhookURL       string         `yaml:"webhook_url"`
	WatchSources     bool           `yaml:"watch_sources"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		ScanPaths:        []string{"."},
		Interval:         Duration(5 * time.Minute),
		QueryTimeout:     Duration(10 * time.Second),
		AutoFixThreshold: "HIGH",
		Retention:        Duration(30 * 24 * time.Hour),
		MaxRetries:       3,
		RetryBaseDelay:   Duration(500 * time.Millisecond),
	}
}

// Load reads the YAML config at path, falling back to defaults when the
// file does not exist. DATABASE_URL from the environment always wins over
// the file, matching how the rest of the tooling resolves it.
func Load(path string) (*Config, error) {
	utils.LoadEnv()

	cfg := Default()

	data, err := os.ReadFile(path)
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("unmarshalling config %s: %v", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config %s: %v", path, err)
	}

	if url := utils.DatabaseURL(); url != "" {
		cfg.DatabaseURL = url
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database_url not set (config file or DATABASE_URL)")
	}

	if len(cfg.ScanPaths) == 0 {
		cfg.ScanPaths = []string{"."}
	}
	if cfg.Interval <= 0 {
		cfg.Interval = Default().Interval
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = Default().QueryTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = Default().MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = Default().RetryBaseDelay
	}
	if cfg.AutoFixThreshold == "" {
		cfg.AutoFixThreshold = "HIGH"
	}

	return cfg, nil
}
