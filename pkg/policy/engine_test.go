package policy

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return e
}

func TestCheckAllowsCleanPlan(t *testing.T) {
	e := newTestEngine(t)
	plan := &engine.Plan{Changes: []engine.ChangeSet{
		{ResourceID: "origin", Kind: engine.KindBucket, Action: engine.ActionCreate, Reason: "resource does not exist"},
		{ResourceID: "cdn", Kind: engine.KindCDNDistribution, Action: engine.ActionNoOp},
	}}

	if err := e.Check(context.Background(), plan); err != nil {
		t.Errorf("Check() error = %v, want plan admitted", err)
	}
}

func TestCheckDeniesProtectedDelete(t *testing.T) {
	e := newTestEngine(t)
	plan := &engine.Plan{Changes: []engine.ChangeSet{
		{
			ResourceID: "origin",
			Kind:       engine.KindBucket,
			Action:     engine.ActionDelete,
			Reason:     "resource no longer declared",
			Protect:    true,
		},
	}}

	err := e.Check(context.Background(), plan)
	if err == nil {
		t.Fatal("Check() admitted a protected delete")
	}
	var denied *DeniedError
	if !errors.As(err, &denied) {
		t.Fatalf("Check() error = %v, want DeniedError", err)
	}
	if len(denied.Violations) != 1 || denied.Violations[0].Resource != "origin" {
		t.Errorf("violations = %+v", denied.Violations)
	}
}

func TestCheckWarnsOnUnprotectedReplace(t *testing.T) {
	e := newTestEngine(t)
	plan := &engine.Plan{Changes: []engine.ChangeSet{
		{
			ResourceID: "cdn",
			Kind:       engine.KindCDNDistribution,
			Action:     engine.ActionReplace,
			Reason:     "immutable field origin changed",
		},
	}}

	// A warning, not a veto.
	if err := e.Check(context.Background(), plan); err != nil {
		t.Errorf("Check() error = %v, want warning only", err)
	}

	result, err := e.EvaluatePlan(context.Background(), plan)
	if err != nil {
		t.Fatal(err)
	}
	if !result.Allowed {
		t.Error("Allowed = false for a warning-only plan")
	}
	found := false
	for _, v := range result.Violations {
		if v.Policy == "destructive-changes" && v.Severity == SeverityWarning {
			found = true
		}
	}
	if !found {
		t.Errorf("violations = %+v, want destructive-changes warning", result.Violations)
	}
}

func TestCheckDeniesBadResourceName(t *testing.T) {
	e := newTestEngine(t)
	plan := &engine.Plan{Changes: []engine.ChangeSet{
		{ResourceID: "Origin_Bucket", Kind: engine.KindBucket, Action: engine.ActionCreate, Reason: "resource does not exist"},
	}}

	var denied *DeniedError
	if err := e.Check(context.Background(), plan); !errors.As(err, &denied) {
		t.Fatalf("Check() error = %v, want naming denial", err)
	}
}

func TestLoadPathsCustomPolicy(t *testing.T) {
	dir := t.TempDir()
	custom := `package edgeforge.policies.frozen

import rego.v1

deny contains violation if {
	some change in input.plan.changes
	change.action == "create"
	violation := {
		"message": sprintf("creation of %s is frozen", [change.resource_id]),
		"severity": "error",
		"resource": change.resource_id,
	}
}
`
	if err := os.WriteFile(filepath.Join(dir, "frozen.rego"), []byte(custom), 0o644); err != nil {
		t.Fatal(err)
	}

	e := newTestEngine(t)
	if err := e.LoadPaths(context.Background(), []string{dir}); err != nil {
		t.Fatalf("LoadPaths() error = %v", err)
	}

	plan := &engine.Plan{Changes: []engine.ChangeSet{
		{ResourceID: "origin", Kind: engine.KindBucket, Action: engine.ActionCreate, Reason: "resource does not exist"},
	}}
	var denied *DeniedError
	if err := e.Check(context.Background(), plan); !errors.As(err, &denied) {
		t.Fatalf("Check() error = %v, want custom policy denial", err)
	}
	if denied.Violations[0].Policy != "frozen" {
		t.Errorf("policy = %s, want frozen", denied.Violations[0].Policy)
	}
}

func TestLoadPathsRejectsBadRego(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "broken.rego"), []byte("not rego at all {"), 0o644); err != nil {
		t.Fatal(err)
	}
	e := newTestEngine(t)
	if err := e.LoadPaths(context.Background(), []string{dir}); err == nil {
		t.Fatal("LoadPaths() accepted a broken policy")
	}
}
