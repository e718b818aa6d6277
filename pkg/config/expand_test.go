package config

import (
	"testing"
	"time"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

func sampleConfig(t *testing.T) *Config {
	t.Helper()
	cfg, err := NewLoader().Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return cfg
}

func TestExpandSiteTopology(t *testing.T) {
	specs, err := Expand(sampleConfig(t))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(specs) != 6 {
		t.Fatalf("expanded %d specs, want 6", len(specs))
	}

	byID := make(map[string]engine.ResourceSpec, len(specs))
	for _, s := range specs {
		byID[s.ID] = s
	}

	origin := byID[IDOrigin]
	if origin.Kind != engine.KindBucket {
		t.Errorf("origin kind = %s", origin.Kind)
	}
	if origin.Attributes["name"] != "www-example-com-origin" {
		t.Errorf("bucket name = %v, want derived from site name", origin.Attributes["name"])
	}
	if !origin.Protect {
		t.Error("site protect flag not carried to the origin bucket")
	}

	cert := byID[IDCertificate]
	if cert.Attributes["domain"] != "www.example.com" {
		t.Errorf("certificate domain = %v", cert.Attributes["domain"])
	}
	if cert.Wait == nil || cert.Wait.Timeout != 10*time.Minute {
		t.Errorf("certificate wait = %+v, want the configured override", cert.Wait)
	}

	cdn := byID[IDDistribution]
	if cdn.Attributes["certificate"] != "${cert.arn}" {
		t.Errorf("cdn certificate = %v, want a reference", cdn.Attributes["certificate"])
	}
	if len(cdn.DependsOn) != 1 || cdn.DependsOn[0] != IDCertValidation {
		t.Errorf("cdn depends_on = %v, want validation gate", cdn.DependsOn)
	}
}

func TestExpandedTopologyBuildsGraph(t *testing.T) {
	specs, err := Expand(sampleConfig(t))
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}

	g, err := engine.BuildGraph(specs)
	if err != nil {
		t.Fatalf("BuildGraph() on expanded topology: %v", err)
	}

	// References wire the topology: the alias is downstream of everything
	// except the policy attachment.
	deps := g.DependenciesOf(IDAlias)
	if len(deps) != 1 || deps[0] != IDDistribution {
		t.Errorf("alias dependencies = %v", deps)
	}
	if levels := g.Levels(); len(levels) != 4 {
		t.Errorf("levels = %v, want 4 tiers", levels)
	}
}

func TestExpandRawResources(t *testing.T) {
	cfg := sampleConfig(t)
	cfg.Resources = []ResourceConfig{{
		Kind:       string(engine.KindDNSRecordSet),
		ID:         "spf",
		Attributes: map[string]any{"zone": "example.com", "name": "example.com", "type": "TXT", "value": "v=spf1 -all"},
	}}

	specs, err := Expand(cfg)
	if err != nil {
		t.Fatalf("Expand() error = %v", err)
	}
	if len(specs) != 7 || specs[6].ID != "spf" {
		t.Errorf("specs = %d entries, want raw resource appended", len(specs))
	}
}

func TestExpandRejectsUnknownKind(t *testing.T) {
	cfg := sampleConfig(t)
	cfg.Resources = []ResourceConfig{{Kind: "loadBalancer", ID: "lb", Attributes: map[string]any{"x": 1}}}
	if _, err := Expand(cfg); err == nil {
		t.Fatal("Expand() accepted an unknown kind")
	}
}
