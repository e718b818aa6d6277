package policy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/open-policy-agent/opa/storage"
	"github.com/open-policy-agent/opa/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// Engine evaluates plans against Rego policies. It satisfies the
// engine.PolicyGate contract through Check.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

// compiledPolicy represents a parsed Rego policy.
type compiledPolicy struct {
	policy   *Policy
	module   *ast.Module
	compiled time.Time
}

// NewEngine creates a policy engine preloaded with the builtin rules.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.New(),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	for _, p := range BuiltinPolicies() {
		p := p
		if err := e.add(&p); err != nil {
			return nil, fmt.Errorf("failed to load builtin policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// Check implements engine.PolicyGate: it evaluates the plan and returns a
// DeniedError when any blocking violation fires.
func (e *Engine) Check(ctx context.Context, plan *engine.Plan) error {
	result, err := e.EvaluatePlan(ctx, plan)
	if err != nil {
		return err
	}
	for _, v := range result.Violations {
		if v.Severity != SeverityError {
			e.logger.Warn().
				Str("policy", v.Policy).
				Str("resource", v.Resource).
				Msg(v.Message)
		}
	}
	if !result.Allowed {
		return &DeniedError{Violations: result.Errors()}
	}
	return nil
}

// EvaluatePlan evaluates all enabled policies against a plan.
func (e *Engine) EvaluatePlan(ctx context.Context, plan *engine.Plan) (*Result, error) {
	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := &PolicyInput{
		Plan: plan,
		Context: &PolicyContext{
			Timestamp: time.Now(),
			Operation: "plan",
		},
	}

	var allViolations []Violation
	var warnings []string
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", cp.policy.Name).
				Msg("Policy evaluation failed")
			warnings = append(warnings, fmt.Sprintf("Policy %s evaluation failed: %v", cp.policy.Name, err))
			continue
		}
		allViolations = append(allViolations, violations...)
	}

	allowed := true
	for i := range allViolations {
		if allViolations[i].Severity == SeverityError {
			allowed = false
			break
		}
	}

	e.logger.Debug().
		Int("violations", len(allViolations)).
		Dur("duration", time.Since(startTime)).
		Msg("Plan policy evaluation completed")

	return &Result{
		Allowed:     allowed,
		Violations:  allViolations,
		Warnings:    warnings,
		EvaluatedAt: time.Now(),
	}, nil
}

// LoadPaths compiles and registers every .rego file under the given paths.
func (e *Engine) LoadPaths(_ context.Context, paths []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	count := 0
	for _, root := range paths {
		err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !strings.HasSuffix(path, ".rego") {
				return nil
			}
			raw, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("failed to read policy %s: %w", path, err)
			}
			name := strings.TrimSuffix(filepath.Base(path), ".rego")
			p := &Policy{
				Name:     name,
				Rego:     string(raw),
				Severity: SeverityError,
				Enabled:  true,
			}
			if err := e.add(p); err != nil {
				return fmt.Errorf("failed to compile policy %s: %w", path, err)
			}
			count++
			return nil
		})
		if err != nil {
			return err
		}
	}

	e.logger.Info().Int("count", count).Msg("Policies loaded successfully")
	return nil
}

// Policies returns the names of all registered policies, for introspection.
func (e *Engine) Policies() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	return names
}

// add parses and registers a policy. Callers hold the write lock or run
// before the engine is shared.
func (e *Engine) add(p *Policy) error {
	module, err := ast.ParseModule(p.Name, p.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}
	e.policies[p.Name] = &compiledPolicy{
		policy:   p,
		module:   module,
		compiled: time.Now(),
	}
	return nil
}

// evaluatePolicy queries the deny set of a single policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input *PolicyInput) ([]Violation, error) {
	packageName := extractPackageName(cp.policy.Rego)
	query := fmt.Sprintf("data.%s.deny", packageName)

	r := rego.New(
		rego.Module(cp.policy.Name, cp.policy.Rego),
		rego.Store(e.store),
		rego.Query(query),
		rego.Input(input),
	)

	results, err := r.Eval(ctx)
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, createViolation(cp.policy, d))
		}
	}
	return violations, nil
}

// extractPackageName extracts the package name from Rego code.
func extractPackageName(code string) string {
	for _, line := range strings.Split(code, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "package ") {
			parts := strings.Fields(trimmed)
			if len(parts) >= 2 {
				return parts[1]
			}
		}
	}
	return "edgeforge.policies"
}

// createViolation converts a deny-set entry into a Violation.
func createViolation(p *Policy, result interface{}) Violation {
	violation := Violation{
		Policy:   p.Name,
		Severity: p.Severity,
	}

	switch v := result.(type) {
	case string:
		violation.Message = v
	case map[string]interface{}:
		if msg, ok := v["message"].(string); ok {
			violation.Message = msg
		}
		if sev, ok := v["severity"].(string); ok {
			violation.Severity = Severity(sev)
		}
		if res, ok := v["resource"].(string); ok {
			violation.Resource = res
		}
	default:
		violation.Message = fmt.Sprintf("%v", result)
	}
	return violation
}
