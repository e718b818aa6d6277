package cloudsim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// Cloud is the simulated backing cloud. A single Cloud instance serves all
// six resource kinds; records live in one table keyed by provider id so
// Describe, Delete, and PollReady need no kind hint.
type Cloud struct {
	mu        sync.Mutex
	seq       int
	resources map[string]*record

	requestPolls     int
	propagationPolls int
	issuePolls       int
	deployPolls      int
	waits            map[engine.Kind]engine.WaitSpec
}

// record is one provider-side resource.
type record struct {
	id       string
	kind     engine.Kind
	observed engine.Attributes

	// polls counts PollReady calls since the last apply.
	polls int

	// Certificate issuance state, unset for other kinds.
	validationName  string
	validationValue string
	issued          bool
	issueCountdown  int
}

// Option configures the simulated cloud.
type Option func(*Cloud)

// WithRequestPolls sets how many polls a certificate request takes before
// the CA accepts it and the certificate becomes ready for dependents.
func WithRequestPolls(n int) Option {
	return func(c *Cloud) {
		if n >= 0 {
			c.requestPolls = n
		}
	}
}

// WithPropagationPolls sets how many polls a DNS record set or alias takes
// to propagate.
func WithPropagationPolls(n int) Option {
	return func(c *Cloud) {
		if n >= 0 {
			c.propagationPolls = n
		}
	}
}

// WithIssuePolls sets how many polls after validation-record propagation the
// CA takes to issue the certificate.
func WithIssuePolls(n int) Option {
	return func(c *Cloud) {
		if n >= 0 {
			c.issuePolls = n
		}
	}
}

// WithDeployPolls sets how many polls a distribution deployment takes.
func WithDeployPolls(n int) Option {
	return func(c *Cloud) {
		if n >= 0 {
			c.deployPolls = n
		}
	}
}

// WithWait overrides the default readiness wait reported in the schema for
// one kind. Tests use short waits so polls tick in milliseconds.
func WithWait(kind engine.Kind, w engine.WaitSpec) Option {
	return func(c *Cloud) {
		c.waits[kind] = w
	}
}

// New builds a simulated cloud.
func New(opts ...Option) *Cloud {
	c := &Cloud{
		resources:        make(map[string]*record),
		requestPolls:     1,
		propagationPolls: 1,
		issuePolls:       1,
		deployPolls:      2,
		waits: map[engine.Kind]engine.WaitSpec{
			engine.KindCertificate:     {Timeout: 2 * time.Minute, PollInterval: 2 * time.Second},
			engine.KindDNSRecordSet:    {Timeout: 5 * time.Minute, PollInterval: 2 * time.Second},
			engine.KindAliasRecord:     {Timeout: 2 * time.Minute, PollInterval: 2 * time.Second},
			engine.KindCDNDistribution: {Timeout: 10 * time.Minute, PollInterval: 5 * time.Second},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewRegistry returns a provider registry with the simulated cloud bound to
// every resource kind.
func NewRegistry(c *Cloud) *engine.Registry {
	reg := engine.NewRegistry()
	for _, kind := range []engine.Kind{
		engine.KindBucket,
		engine.KindCertificate,
		engine.KindDNSRecordSet,
		engine.KindCDNDistribution,
		engine.KindAliasRecord,
		engine.KindPolicyAttachment,
	} {
		reg.Register(kind, c)
	}
	return reg
}

// Describe reports the current attributes for a provider-side resource.
func (c *Cloud) Describe(ctx context.Context, providerID string) (engine.Attributes, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.resources[providerID]
	if !ok {
		return nil, engine.ErrNotFound
	}
	return rec.observed.Clone(), nil
}

// Apply creates or mutates one resource. Creates assign a fresh provider id;
// updates mutate the record named by Prior in place.
func (c *Cloud) Apply(ctx context.Context, req engine.ApplyRequest) (*engine.ApplyResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := validateAttributes(req.Spec.Kind, req.Attributes); err != nil {
		return nil, err
	}

	var rec *record
	if req.Prior != nil && req.Prior.ProviderID != "" {
		existing, ok := c.resources[req.Prior.ProviderID]
		if !ok {
			return nil, engine.ErrNotFound
		}
		rec = existing
		// Async kinds re-enter their wait after a mutation.
		rec.polls = 0
	} else {
		c.seq++
		rec = &record{
			id:   fmt.Sprintf("sim-%s-%06d", req.Spec.Kind, c.seq),
			kind: req.Spec.Kind,
		}
		c.resources[rec.id] = rec
	}

	if err := c.realize(rec, req.Attributes); err != nil {
		if req.Prior == nil {
			delete(c.resources, rec.id)
		}
		return nil, err
	}

	return &engine.ApplyResult{
		ProviderID: rec.id,
		Observed:   rec.observed.Clone(),
	}, nil
}

// Delete tears a resource down. Deleting an absent id is an error; the
// engine never issues a delete without a stored provider id.
func (c *Cloud) Delete(ctx context.Context, providerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.resources[providerID]; !ok {
		return engine.ErrNotFound
	}
	delete(c.resources, providerID)
	return nil
}

// PollReady reports whether the resource's asynchronous provider-side work
// has finished. Each call advances the simulation by one tick.
func (c *Cloud) PollReady(ctx context.Context, providerID string) (engine.Readiness, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.resources[providerID]
	if !ok {
		return engine.ReadinessPending, engine.ErrNotFound
	}

	rec.polls++

	switch rec.kind {
	case engine.KindBucket, engine.KindPolicyAttachment:
		return engine.ReadinessReady, nil

	case engine.KindCertificate:
		// Ready means the CA accepted the request and the validation data
		// is available, not that the certificate is issued. Issuance is
		// observed through the validation record set.
		if rec.polls >= c.requestPolls {
			return engine.ReadinessReady, nil
		}
		return engine.ReadinessPending, nil

	case engine.KindDNSRecordSet:
		return c.pollRecordSet(rec), nil

	case engine.KindAliasRecord:
		if rec.polls >= c.propagationPolls {
			return engine.ReadinessReady, nil
		}
		return engine.ReadinessPending, nil

	case engine.KindCDNDistribution:
		if rec.polls >= c.deployPolls {
			return engine.ReadinessReady, nil
		}
		return engine.ReadinessPending, nil
	}

	return engine.ReadinessReady, nil
}

// pollRecordSet handles DNS propagation and, for validation records,
// certificate issuance. The record is not ready until the certificate it
// validates has actually been issued.
func (c *Cloud) pollRecordSet(rec *record) engine.Readiness {
	if rec.polls < c.propagationPolls {
		return engine.ReadinessPending
	}

	cert := c.certValidatedBy(rec)
	if cert == nil {
		return engine.ReadinessReady
	}
	if cert.issued {
		return engine.ReadinessReady
	}
	if cert.issueCountdown == 0 {
		cert.issueCountdown = c.issuePolls
	}
	cert.issueCountdown--
	if cert.issueCountdown <= 0 {
		cert.issued = true
		return engine.ReadinessReady
	}
	return engine.ReadinessPending
}

// certValidatedBy finds the pending certificate whose validation data this
// record set carries, if any.
func (c *Cloud) certValidatedBy(rec *record) *record {
	name, _ := rec.observed["name"].(string)
	value, _ := rec.observed["value"].(string)
	if name == "" || value == "" {
		return nil
	}
	for _, other := range c.resources {
		if other.kind != engine.KindCertificate {
			continue
		}
		if other.validationName == name && other.validationValue == value {
			return other
		}
	}
	return nil
}

// Schema returns kind-level metadata for the simulated cloud.
func (c *Cloud) Schema(kind engine.Kind) (*engine.KindSchema, error) {
	schema := &engine.KindSchema{Kind: kind}

	switch kind {
	case engine.KindBucket:
		schema.ImmutableFields = []string{"name", "region"}
	case engine.KindCertificate:
		schema.ImmutableFields = []string{"domain", "validation_method"}
	case engine.KindDNSRecordSet:
		schema.ImmutableFields = []string{"zone", "name"}
	case engine.KindCDNDistribution:
		// Everything on a distribution mutates in place.
	case engine.KindAliasRecord:
		schema.ImmutableFields = []string{"zone", "name"}
	case engine.KindPolicyAttachment:
		schema.ImmutableFields = []string{"bucket"}
	default:
		return nil, fmt.Errorf("unknown kind %s", kind)
	}

	c.mu.Lock()
	if w, ok := c.waits[kind]; ok {
		wait := w
		schema.WaitDefaults = &wait
	}
	c.mu.Unlock()

	return schema, nil
}

// Tamper mutates one observed attribute out-of-band, simulating a change
// made outside the engine. Used to exercise drift detection.
func (c *Cloud) Tamper(providerID, key string, value any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.resources[providerID]
	if !ok {
		return engine.ErrNotFound
	}
	rec.observed[key] = value
	return nil
}

// Remove deletes a resource out-of-band without going through the engine.
func (c *Cloud) Remove(providerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.resources[providerID]; !ok {
		return engine.ErrNotFound
	}
	delete(c.resources, providerID)
	return nil
}

// Len reports how many resources currently exist in the simulation.
func (c *Cloud) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.resources)
}

// realize computes the observed attribute set for a record from the applied
// attributes, filling in provider-assigned outputs.
func (c *Cloud) realize(rec *record, attrs engine.Attributes) error {
	observed := attrs.Clone()

	switch rec.kind {
	case engine.KindBucket:
		name, _ := observed["name"].(string)
		region, _ := observed["region"].(string)
		observed["endpoint"] = fmt.Sprintf("%s.storage.%s.cloudsim.internal", name, region)

	case engine.KindCertificate:
		domain, _ := observed["domain"].(string)
		if rec.validationValue == "" {
			rec.validationName = fmt.Sprintf("_validation.%s", domain)
			rec.validationValue = uuid.NewString()
		}
		observed["arn"] = fmt.Sprintf("crn:cloudsim:certificate/%s", rec.id)
		observed["validation_name"] = rec.validationName
		observed["validation_value"] = rec.validationValue

	case engine.KindDNSRecordSet:
		zone, _ := observed["zone"].(string)
		name, _ := observed["name"].(string)
		observed["fqdn"] = joinDomain(name, zone)

	case engine.KindCDNDistribution:
		if err := c.checkCertificateIssued(observed); err != nil {
			return err
		}
		observed["domain_name"] = fmt.Sprintf("%s.cdn.cloudsim.internal", rec.id)
		observed["origin_access_identity"] = fmt.Sprintf("oai-%s", rec.id)

	case engine.KindAliasRecord:
		name, _ := observed["name"].(string)
		observed["endpoint"] = fmt.Sprintf("https://%s", name)

	case engine.KindPolicyAttachment:
		bucket, _ := observed["bucket"].(string)
		if !c.bucketExists(bucket) {
			return fmt.Errorf("bucket %q does not exist", bucket)
		}
		observed["policy_id"] = fmt.Sprintf("pol-%s", rec.id)
	}

	rec.observed = observed
	return nil
}

// checkCertificateIssued rejects a distribution that attaches a certificate
// which exists but was never validated. The real cloud refuses exactly this.
func (c *Cloud) checkCertificateIssued(attrs engine.Attributes) error {
	arn, _ := attrs["certificate"].(string)
	if arn == "" {
		return nil
	}
	for _, rec := range c.resources {
		if rec.kind != engine.KindCertificate {
			continue
		}
		recARN, _ := rec.observed["arn"].(string)
		if recARN != arn {
			continue
		}
		if !rec.issued {
			return fmt.Errorf("certificate %s is not issued", arn)
		}
		return nil
	}
	return fmt.Errorf("certificate %s does not exist", arn)
}

func (c *Cloud) bucketExists(name string) bool {
	for _, rec := range c.resources {
		if rec.kind != engine.KindBucket {
			continue
		}
		if n, _ := rec.observed["name"].(string); n == name {
			return true
		}
	}
	return false
}

func joinDomain(name, zone string) string {
	if name == "" {
		return zone
	}
	if zone == "" || name == zone || hasSuffixDot(name, zone) {
		return name
	}
	return name + "." + zone
}

func hasSuffixDot(name, zone string) bool {
	return len(name) > len(zone) && name[len(name)-len(zone):] == zone &&
		name[len(name)-len(zone)-1] == '.'
}

// requiredAttrs lists the attributes each kind must carry to apply.
var requiredAttrs = map[engine.Kind][]string{
	engine.KindBucket:           {"name", "region"},
	engine.KindCertificate:      {"domain"},
	engine.KindDNSRecordSet:     {"zone", "name", "type", "value"},
	engine.KindCDNDistribution:  {"origin"},
	engine.KindAliasRecord:      {"zone", "name", "target"},
	engine.KindPolicyAttachment: {"bucket", "principal"},
}

func validateAttributes(kind engine.Kind, attrs engine.Attributes) error {
	for _, key := range requiredAttrs[kind] {
		v, ok := attrs[key]
		if !ok {
			return fmt.Errorf("%s: missing required attribute %q", kind, key)
		}
		if s, isString := v.(string); isString && s == "" {
			return fmt.Errorf("%s: attribute %q is empty", kind, key)
		}
	}
	return nil
}
