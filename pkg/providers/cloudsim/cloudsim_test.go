package cloudsim

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeforge/edgeforge/pkg/engine"
	"github.com/edgeforge/edgeforge/pkg/stores"
)

// fastCloud returns a simulation whose readiness waits tick in
// milliseconds so tests run quickly.
func fastCloud(opts ...Option) *Cloud {
	fast := engine.WaitSpec{Timeout: 2 * time.Second, PollInterval: time.Millisecond}
	base := []Option{
		WithWait(engine.KindCertificate, fast),
		WithWait(engine.KindDNSRecordSet, fast),
		WithWait(engine.KindAliasRecord, fast),
		WithWait(engine.KindCDNDistribution, fast),
	}
	return New(append(base, opts...)...)
}

func siteSpecs() []engine.ResourceSpec {
	return []engine.ResourceSpec{
		{Kind: engine.KindBucket, ID: "origin", Attributes: engine.Attributes{
			"name":   "www-example-com-origin",
			"region": "eu-west-1",
		}},
		{Kind: engine.KindCertificate, ID: "cert", Attributes: engine.Attributes{
			"domain":            "www.example.com",
			"validation_method": "dns",
		}},
		{Kind: engine.KindDNSRecordSet, ID: "cert-validation", Attributes: engine.Attributes{
			"zone":  "example.com",
			"name":  "${cert.validation_name}",
			"type":  "CNAME",
			"value": "${cert.validation_value}",
			"ttl":   300,
		}},
		{Kind: engine.KindCDNDistribution, ID: "cdn", Attributes: engine.Attributes{
			"origin":      "${origin.endpoint}",
			"certificate": "${cert.arn}",
			"aliases":     []any{"www.example.com"},
		}, DependsOn: []string{"cert-validation"}},
		{Kind: engine.KindAliasRecord, ID: "alias", Attributes: engine.Attributes{
			"zone":   "example.com",
			"name":   "www.example.com",
			"target": "${cdn.domain_name}",
		}},
		{Kind: engine.KindPolicyAttachment, ID: "origin-policy", Attributes: engine.Attributes{
			"bucket":    "${origin.name}",
			"principal": "${cdn.origin_access_identity}",
			"actions":   []any{"read"},
		}},
	}
}

func simDriver(c *Cloud, store *stores.MemoryStore) *engine.Driver {
	reg := NewRegistry(c)
	exec := engine.NewExecutor(reg, store, zerolog.Nop())
	return engine.NewDriver(reg, store, exec, zerolog.Nop())
}

func TestConvergeStaticSite(t *testing.T) {
	cloud := fastCloud()
	store := stores.NewMemoryStore()
	driver := simDriver(cloud, store)

	report, err := driver.Converge(context.Background(), siteSpecs())
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Fatalf("status = %s, want succeeded", report.Status)
	}
	if report.Summary.Applied != 6 {
		t.Errorf("applied = %d, want 6", report.Summary.Applied)
	}
	if cloud.Len() != 6 {
		t.Errorf("simulated resources = %d, want 6", cloud.Len())
	}

	if got := report.Outputs[engine.OutputEndpoint]; !strings.HasSuffix(got, ".cdn.cloudsim.internal") {
		t.Errorf("endpoint output = %q, want the distribution hostname", got)
	}
	if got := report.Outputs[engine.OutputURL]; got != "https://www.example.com" {
		t.Errorf("url output = %q", got)
	}
	if got := report.Outputs[engine.OutputBucket]; got != "www-example-com-origin" {
		t.Errorf("bucket output = %q", got)
	}

	// The distribution saw the real certificate ARN, not the placeholder.
	cdnState, err := store.Get(context.Background(), "cdn")
	if err != nil {
		t.Fatalf("Get(cdn): %v", err)
	}
	arn, _ := cdnState.Observed["certificate"].(string)
	if !strings.HasPrefix(arn, "crn:cloudsim:certificate/") {
		t.Errorf("cdn certificate = %q, want resolved ARN", arn)
	}
}

func TestConvergeStaticSiteIdempotent(t *testing.T) {
	cloud := fastCloud()
	store := stores.NewMemoryStore()
	driver := simDriver(cloud, store)

	if _, err := driver.Converge(context.Background(), siteSpecs()); err != nil {
		t.Fatalf("first Converge() error = %v", err)
	}
	report, err := driver.Converge(context.Background(), siteSpecs())
	if err != nil {
		t.Fatalf("second Converge() error = %v", err)
	}
	if report.Summary.NoOp != 6 {
		t.Errorf("second run noop = %d, want 6", report.Summary.NoOp)
	}
	if cloud.Len() != 6 {
		t.Errorf("simulated resources = %d, want 6", cloud.Len())
	}
}

func TestDestroyTearsDownEverything(t *testing.T) {
	cloud := fastCloud()
	store := stores.NewMemoryStore()
	driver := simDriver(cloud, store)

	specs := siteSpecs()
	if _, err := driver.Converge(context.Background(), specs); err != nil {
		t.Fatalf("Converge() error = %v", err)
	}

	report, err := driver.Destroy(context.Background(), specs, false)
	if err != nil {
		t.Fatalf("Destroy() error = %v", err)
	}
	if report.Status != engine.RunStatusSucceeded {
		t.Fatalf("destroy status = %s", report.Status)
	}
	if cloud.Len() != 0 {
		t.Errorf("resources left after destroy = %d", cloud.Len())
	}
}

func TestDistributionRequiresIssuedCertificate(t *testing.T) {
	cloud := fastCloud()
	ctx := context.Background()

	certResult, err := cloud.Apply(ctx, engine.ApplyRequest{
		Spec: engine.ResourceSpec{Kind: engine.KindCertificate, ID: "cert"},
		Attributes: engine.Attributes{
			"domain": "www.example.com",
		},
	})
	if err != nil {
		t.Fatalf("certificate apply: %v", err)
	}
	arn := certResult.Observed["arn"].(string)

	// No validation record exists, so attaching the certificate must fail.
	_, err = cloud.Apply(ctx, engine.ApplyRequest{
		Spec: engine.ResourceSpec{Kind: engine.KindCDNDistribution, ID: "cdn"},
		Attributes: engine.Attributes{
			"origin":      "origin.example",
			"certificate": arn,
		},
	})
	if err == nil {
		t.Fatal("expected apply to fail for unissued certificate")
	}
	if !strings.Contains(err.Error(), "not issued") {
		t.Errorf("error = %v, want not-issued", err)
	}
}

func TestCertificateIssuanceFlow(t *testing.T) {
	cloud := fastCloud()
	ctx := context.Background()

	certResult, err := cloud.Apply(ctx, engine.ApplyRequest{
		Spec: engine.ResourceSpec{Kind: engine.KindCertificate, ID: "cert"},
		Attributes: engine.Attributes{
			"domain": "www.example.com",
		},
	})
	if err != nil {
		t.Fatalf("certificate apply: %v", err)
	}

	name := certResult.Observed["validation_name"].(string)
	value := certResult.Observed["validation_value"].(string)
	if name == "" || value == "" {
		t.Fatalf("missing validation data: name=%q value=%q", name, value)
	}

	// Certificate readiness means the request was accepted.
	ready, err := cloud.PollReady(ctx, certResult.ProviderID)
	if err != nil {
		t.Fatalf("certificate poll: %v", err)
	}
	if ready != engine.ReadinessReady {
		t.Fatalf("certificate readiness = %s", ready)
	}

	recResult, err := cloud.Apply(ctx, engine.ApplyRequest{
		Spec: engine.ResourceSpec{Kind: engine.KindDNSRecordSet, ID: "cert-validation"},
		Attributes: engine.Attributes{
			"zone":  "example.com",
			"name":  name,
			"type":  "CNAME",
			"value": value,
		},
	})
	if err != nil {
		t.Fatalf("record set apply: %v", err)
	}

	// The validation record is not ready until the certificate is issued.
	issued := false
	for i := 0; i < 10; i++ {
		ready, err := cloud.PollReady(ctx, recResult.ProviderID)
		if err != nil {
			t.Fatalf("record poll: %v", err)
		}
		if ready == engine.ReadinessReady {
			issued = true
			break
		}
	}
	if !issued {
		t.Fatal("validation record never became ready")
	}

	// Now the distribution can attach the certificate.
	arn := certResult.Observed["arn"].(string)
	if _, err := cloud.Apply(ctx, engine.ApplyRequest{
		Spec: engine.ResourceSpec{Kind: engine.KindCDNDistribution, ID: "cdn"},
		Attributes: engine.Attributes{
			"origin":      "origin.example",
			"certificate": arn,
		},
	}); err != nil {
		t.Fatalf("distribution apply after issuance: %v", err)
	}
}

func TestTamperAndRemoveDriveDrift(t *testing.T) {
	cloud := fastCloud()
	store := stores.NewMemoryStore()
	driver := simDriver(cloud, store)
	ctx := context.Background()

	if _, err := driver.Converge(ctx, siteSpecs()); err != nil {
		t.Fatalf("Converge() error = %v", err)
	}

	originState, err := store.Get(ctx, "origin")
	if err != nil {
		t.Fatalf("Get(origin): %v", err)
	}
	if err := cloud.Tamper(originState.ProviderID, "region", "us-east-1"); err != nil {
		t.Fatalf("Tamper: %v", err)
	}

	aliasState, err := store.Get(ctx, "alias")
	if err != nil {
		t.Fatalf("Get(alias): %v", err)
	}
	if err := cloud.Remove(aliasState.ProviderID); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	report, err := driver.DetectDrift(ctx, false)
	if err != nil {
		t.Fatalf("DetectDrift() error = %v", err)
	}
	if !report.Drifted() {
		t.Fatal("expected drift to be detected")
	}

	byID := make(map[string]engine.DriftEntry)
	for _, entry := range report.Entries {
		byID[entry.ResourceID] = entry
	}
	if entry, ok := byID["origin"]; !ok || len(entry.Fields) == 0 {
		t.Errorf("origin drift not detected: %+v", entry)
	}
	if entry, ok := byID["alias"]; !ok || !entry.Missing {
		t.Errorf("alias not reported missing: %+v", entry)
	}
}

func TestApplyRejectsMissingAttributes(t *testing.T) {
	cloud := fastCloud()

	_, err := cloud.Apply(context.Background(), engine.ApplyRequest{
		Spec:       engine.ResourceSpec{Kind: engine.KindBucket, ID: "origin"},
		Attributes: engine.Attributes{"name": "origin"},
	})
	if err == nil {
		t.Fatal("expected missing region to be rejected")
	}
	if cloud.Len() != 0 {
		t.Errorf("failed apply left %d resources behind", cloud.Len())
	}
}

func TestDeleteAbsentResource(t *testing.T) {
	cloud := fastCloud()
	err := cloud.Delete(context.Background(), "sim-bucket-000001")
	if !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("Delete() error = %v, want ErrNotFound", err)
	}
}

func TestSchemaMarksImmutableFields(t *testing.T) {
	cloud := fastCloud()

	schema, err := cloud.Schema(engine.KindBucket)
	if err != nil {
		t.Fatalf("Schema(bucket): %v", err)
	}
	if !schema.Immutable("name") || !schema.Immutable("region") {
		t.Errorf("bucket immutable fields = %v", schema.ImmutableFields)
	}
	if schema.Immutable("versioning") {
		t.Error("versioning should be mutable")
	}

	certSchema, err := cloud.Schema(engine.KindCertificate)
	if err != nil {
		t.Fatalf("Schema(certificate): %v", err)
	}
	if certSchema.WaitDefaults == nil {
		t.Error("certificate schema should carry a default wait")
	}

	if _, err := cloud.Schema(engine.Kind("volcano")); err == nil {
		t.Error("unknown kind should be rejected")
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	cloud := fastCloud()
	store := stores.NewMemoryStore()
	driver := simDriver(cloud, store)
	ctx := context.Background()

	if _, err := driver.Converge(ctx, siteSpecs()); err != nil {
		t.Fatalf("Converge() error = %v", err)
	}

	path := t.TempDir() + "/cloud.json"
	if err := cloud.SaveFile(path); err != nil {
		t.Fatalf("SaveFile: %v", err)
	}

	restored := fastCloud()
	if err := restored.LoadFile(path); err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if restored.Len() != cloud.Len() {
		t.Fatalf("restored %d resources, want %d", restored.Len(), cloud.Len())
	}

	// A converge against the restored world is a pure no-op.
	driver2 := simDriver(restored, store)
	report, err := driver2.Converge(ctx, siteSpecs())
	if err != nil {
		t.Fatalf("Converge() on restored cloud error = %v", err)
	}
	if report.Summary.NoOp != 6 {
		t.Errorf("noop = %d, want 6", report.Summary.NoOp)
	}
}

func TestLoadFileMissingIsEmptyCloud(t *testing.T) {
	cloud := fastCloud()
	if err := cloud.LoadFile(t.TempDir() + "/absent.json"); err != nil {
		t.Fatalf("LoadFile on missing file: %v", err)
	}
	if cloud.Len() != 0 {
		t.Errorf("expected empty cloud, got %d resources", cloud.Len())
	}
}
