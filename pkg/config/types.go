package config

import (
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// Duration is a time.Duration that parses from YAML strings like "30s" or
// "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string like \"30s\": %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the root of an EdgeForge site declaration file.
type Config struct {
	// Site describes the static website topology to converge.
	Site Site `yaml:"site" validate:"required"`

	// Engine tunes run execution.
	Engine EngineConfig `yaml:"engine"`

	// Policy configures the plan admission gate.
	Policy PolicyConfig `yaml:"policy"`

	// Log configures the logger.
	Log LogConfig `yaml:"log"`

	// Resources declares additional raw resources alongside the expanded
	// site topology.
	Resources []ResourceConfig `yaml:"resources,omitempty" validate:"dive"`
}

// Site is the high-level declaration of one static website.
type Site struct {
	// Name identifies the site; it seeds default resource names.
	Name string `yaml:"name" validate:"required,hostname_rfc1123"`

	// Domain is the fully qualified domain the site serves.
	Domain string `yaml:"domain" validate:"required,fqdn"`

	// Zone is the DNS zone that holds the site's records.
	Zone string `yaml:"zone" validate:"required,fqdn"`

	// Region places the origin bucket.
	Region string `yaml:"region,omitempty"`

	// Protect guards the origin bucket against delete and replace.
	Protect bool `yaml:"protect,omitempty"`

	// Origin tunes the origin bucket.
	Origin OriginConfig `yaml:"origin,omitempty"`

	// CDN tunes the edge distribution.
	CDN CDNConfig `yaml:"cdn,omitempty"`

	// Certificate tunes the TLS certificate and its validation wait.
	Certificate CertificateConfig `yaml:"certificate,omitempty"`
}

// OriginConfig tunes the origin bucket of a site.
type OriginConfig struct {
	// Bucket overrides the derived bucket name.
	Bucket string `yaml:"bucket,omitempty" validate:"omitempty,hostname_rfc1123"`

	// Versioning enables object versioning.
	Versioning bool `yaml:"versioning,omitempty"`

	// IndexDocument is the object served for directory requests.
	IndexDocument string `yaml:"index_document,omitempty"`

	// ErrorDocument is the object served for missing keys.
	ErrorDocument string `yaml:"error_document,omitempty"`
}

// CDNConfig tunes the edge distribution of a site.
type CDNConfig struct {
	// PriceClass selects the edge location tier.
	PriceClass string `yaml:"price_class,omitempty" validate:"omitempty,oneof=all 200 100"`

	// Compress enables on-the-fly compression.
	Compress bool `yaml:"compress,omitempty"`

	// DefaultTTL is the cache lifetime for objects without cache headers.
	DefaultTTL Duration `yaml:"default_ttl,omitempty"`

	// MinimumTLS pins the TLS floor for viewer connections.
	MinimumTLS string `yaml:"minimum_tls,omitempty" validate:"omitempty,oneof=TLSv1.2 TLSv1.3"`
}

// CertificateConfig tunes the site certificate.
type CertificateConfig struct {
	// AlternativeNames adds subject alternative names beyond the domain.
	AlternativeNames []string `yaml:"alternative_names,omitempty" validate:"dive,fqdn"`

	// Wait overrides the validation readiness wait.
	Wait *WaitConfig `yaml:"wait,omitempty"`
}

// WaitConfig is the YAML shape of a readiness wait override.
type WaitConfig struct {
	Timeout      Duration `yaml:"timeout" validate:"required,gt=0"`
	PollInterval Duration `yaml:"poll_interval" validate:"required,gt=0"`
}

// EngineConfig tunes run execution.
type EngineConfig struct {
	// Concurrency bounds simultaneous provider apply calls.
	Concurrency int `yaml:"concurrency,omitempty" validate:"omitempty,min=1,max=64"`

	// StatePath is the SQLite state database location.
	StatePath string `yaml:"state_path,omitempty"`

	// Wait is the fallback readiness wait.
	Wait *WaitConfig `yaml:"wait,omitempty"`
}

// PolicyConfig configures the plan admission gate.
type PolicyConfig struct {
	// Enabled turns the gate on.
	Enabled bool `yaml:"enabled,omitempty"`

	// Paths lists directories or files of rego policies to load in addition
	// to the builtin rules.
	Paths []string `yaml:"paths,omitempty"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is the minimum level to emit.
	Level string `yaml:"level,omitempty" validate:"omitempty,oneof=trace debug info warn error"`

	// Format selects console or json output.
	Format string `yaml:"format,omitempty" validate:"omitempty,oneof=console json"`
}

// ResourceConfig is a raw resource declaration, bypassing site expansion.
type ResourceConfig struct {
	// Kind is the resource kind.
	Kind string `yaml:"kind" validate:"required"`

	// ID is the unique identifier for this resource.
	ID string `yaml:"id" validate:"required"`

	// Attributes is the kind-specific desired configuration.
	Attributes map[string]any `yaml:"attributes" validate:"required"`

	// DependsOn adds explicit ordering edges.
	DependsOn []string `yaml:"depends_on,omitempty"`

	// Protect guards the resource against delete and replace.
	Protect bool `yaml:"protect,omitempty"`

	// Wait overrides the readiness wait.
	Wait *WaitConfig `yaml:"wait,omitempty"`
}

// Spec converts the YAML wait shape into the engine's wait spec. A nil
// receiver means no override.
func (w *WaitConfig) Spec() *engine.WaitSpec {
	if w == nil {
		return nil
	}
	return &engine.WaitSpec{Timeout: w.Timeout.Std(), PollInterval: w.PollInterval.Std()}
}
