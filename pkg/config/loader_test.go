package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
site:
  name: www-example-com
  domain: www.example.com
  zone: example.com
  protect: true
  origin:
    versioning: true
  cdn:
    price_class: "200"
    compress: true
    minimum_tls: TLSv1.3
  certificate:
    alternative_names:
      - example.com
    wait:
      timeout: 10m
      poll_interval: 15s
engine:
  concurrency: 8
  state_path: /var/lib/edgeforge/state.db
policy:
  enabled: true
log:
  level: debug
  format: json
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "site.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := NewLoader().Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Site.Domain != "www.example.com" || cfg.Site.Zone != "example.com" {
		t.Errorf("site = %+v", cfg.Site)
	}
	if !cfg.Site.Protect {
		t.Error("protect not parsed")
	}
	if cfg.Site.CDN.PriceClass != "200" || cfg.Site.CDN.MinimumTLS != "TLSv1.3" {
		t.Errorf("cdn = %+v", cfg.Site.CDN)
	}
	if cfg.Site.Certificate.Wait.Timeout.Std() != 10*time.Minute {
		t.Errorf("certificate wait = %+v", cfg.Site.Certificate.Wait)
	}
	if cfg.Engine.Concurrency != 8 {
		t.Errorf("concurrency = %d", cfg.Engine.Concurrency)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
site:
  name: www-example-com
  domain: www.example.com
  zone: example.com
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if cfg.Site.Origin.IndexDocument != "index.html" {
		t.Errorf("index document default = %q", cfg.Site.Origin.IndexDocument)
	}
	if cfg.Site.CDN.PriceClass != "all" || cfg.Site.CDN.DefaultTTL.Std() != time.Hour {
		t.Errorf("cdn defaults = %+v", cfg.Site.CDN)
	}
	if cfg.Engine.Concurrency != 4 || cfg.Engine.StatePath != "edgeforge.db" {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
	if cfg.Log.Level != "info" || cfg.Log.Format != "console" {
		t.Errorf("log defaults = %+v", cfg.Log)
	}
}

func TestLoadConfigRejectsUnknownFields(t *testing.T) {
	_, err := NewLoader().Parse([]byte(`
site:
  name: www-example-com
  domain: www.example.com
  zone: example.com
  domian_typo: oops
`))
	if err == nil {
		t.Fatal("Parse() accepted an unknown field")
	}
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing domain", "site:\n  name: s\n  zone: example.com\n"},
		{"bad domain", "site:\n  name: s\n  domain: 'not a domain'\n  zone: example.com\n"},
		{"bad price class", sampleYAML + "\n"},
	}
	// Tweak the last case into an invalid price class.
	cases[2].yaml = strings.Replace(sampleYAML, `price_class: "200"`, `price_class: "999"`, 1)

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewLoader().Parse([]byte(tc.yaml)); err == nil {
				t.Errorf("Parse() accepted invalid config")
			}
		})
	}
}

func TestLoadConfigRawResources(t *testing.T) {
	cfg, err := NewLoader().Parse([]byte(`
site:
  name: www-example-com
  domain: www.example.com
  zone: example.com
resources:
  - kind: dnsRecordSet
    id: spf
    attributes:
      zone: example.com
      name: example.com
      type: TXT
      value: "v=spf1 -all"
`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(cfg.Resources) != 1 || cfg.Resources[0].ID != "spf" {
		t.Errorf("resources = %+v", cfg.Resources)
	}
}
