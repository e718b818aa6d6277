package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Loader reads and validates site declaration files.
type Loader struct {
	validator *validator.Validate
}

// NewLoader returns a Loader with struct validation wired up.
func NewLoader() *Loader {
	return &Loader{validator: validator.New()}
}

// Load reads, parses, and validates the declaration file at path. Unknown
// YAML fields are rejected so typos surface at load time instead of as
// silently ignored configuration.
func (l *Loader) Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return l.Parse(raw)
}

// Parse parses and validates a declaration from memory.
func (l *Loader) Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(cfg)

	if err := l.validator.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Site.Region == "" {
		cfg.Site.Region = "eu-west-1"
	}
	if cfg.Site.Origin.IndexDocument == "" {
		cfg.Site.Origin.IndexDocument = "index.html"
	}
	if cfg.Site.Origin.ErrorDocument == "" {
		cfg.Site.Origin.ErrorDocument = "404.html"
	}
	if cfg.Site.CDN.PriceClass == "" {
		cfg.Site.CDN.PriceClass = "all"
	}
	if cfg.Site.CDN.DefaultTTL == 0 {
		cfg.Site.CDN.DefaultTTL = Duration(time.Hour)
	}
	if cfg.Site.CDN.MinimumTLS == "" {
		cfg.Site.CDN.MinimumTLS = "TLSv1.2"
	}
	if cfg.Engine.Concurrency == 0 {
		cfg.Engine.Concurrency = 4
	}
	if cfg.Engine.StatePath == "" {
		cfg.Engine.StatePath = "edgeforge.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
