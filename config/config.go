package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/openride/surgecast/core/forecast"
	"github.com/openride/surgecast/core/ingest"
	"github.com/openride/surgecast/core/metrics"
	"github.com/openride/surgecast/core/override"
	"github.com/openride/surgecast/core/positioning"
	"github.com/openride/surgecast/core/surge"
	"github.com/openride/surgecast/infra/mqtt"
)

// Config is the full service configuration.
type Config struct {
	MQTT        mqtt.Config        `json:"mqtt"`
	Metrics     metrics.Config     `json:"metrics"`
	Ingest      ingest.Config      `json:"ingest"`
	Surge       surge.Config       `json:"surge"`
	Forecast    forecast.Config    `json:"forecast"`
	Override    override.Config    `json:"override"`
	Positioning positioning.Config `json:"positioning"`
	Audit       AuditConfig        `json:"audit"`
	API         APIConfig          `json:"api"`
	Zones       []ZoneConfig       `json:"zones"`
}

// AuditConfig defines settings for the override audit trail storage.
type AuditConfig struct {
	// Backend selects the audit store type: "jsonl" or "sqlite".
	Backend string `json:"backend"`
	// Path is the file location of the audit store.
	Path string `json:"path"`
	// MaxSizeMB triggers rotation when the jsonl file exceeds this size.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
	// QueueSize bounds the async writer queue.
	QueueSize int `json:"queue_size"`
	// Retries is the per-entry write retry budget.
	Retries int `json:"retries"`
	// BackoffMS is the base backoff between retries.
	BackoffMS int `json:"backoff_ms"`
}

// SetDefaults applies sane defaults.
func (c *AuditConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "jsonl"
	}
	if c.Path == "" {
		c.Path = "override_audit.jsonl"
	}
}

// Validate checks mandatory fields.
func (c AuditConfig) Validate() error {
	if c.Backend != "jsonl" && c.Backend != "sqlite" {
		return fmt.Errorf("unknown audit backend %s", c.Backend)
	}
	if c.Path == "" {
		return fmt.Errorf("audit path is required")
	}
	return nil
}

// APIConfig defines the HTTP listener.
type APIConfig struct {
	Addr string `json:"addr"`
}

// SetDefaults applies sane defaults.
func (c *APIConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":8080"
	}
}

// ZoneConfig is one seeded pricing zone.
type ZoneConfig struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Kind     string  `json:"kind"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	RadiusKm float64 `json:"radius_km"`
	ParentID string  `json:"parent_id"`
}

// Load reads the configuration file, applies K_-prefixed environment
// overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Ingest.SetDefaults()
	cfg.Surge.SetDefaults()
	cfg.Forecast.SetDefaults()
	cfg.Override.SetDefaults()
	cfg.Positioning.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.MQTT.SetDefaults()
	cfg.Audit.SetDefaults()
	cfg.API.SetDefaults()

	if err := cfg.Ingest.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Surge.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Forecast.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Override.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Positioning.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
