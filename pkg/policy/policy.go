// Package policy evaluates Rego policies that gate plugin installation.
// Built-in policies enforce the capability allowlist, naming conventions,
// and version pinning; operators can add their own modules.
package policy

import (
	"context"
	"fmt"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"

	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/plugins"
)

// Severity grades a policy violation.
type Severity string

const (
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Policy is one named Rego module contributing deny rules.
type Policy struct {
	// Name identifies the policy.
	Name string

	// Description says what the policy enforces.
	Description string

	// Severity grades its violations. Only error severity blocks install.
	Severity Severity

	// Enabled policies participate in evaluation.
	Enabled bool

	// Rego is the module source. Deny rules live under
	// data.bijux.policies.<package> as a set of violation objects.
	Rego string
}

// Violation is one deny result.
type Violation struct {
	// Policy is the policy that produced the violation.
	Policy string `json:"policy"`

	// Message describes the violation.
	Message string `json:"message"`

	// Severity grades the violation.
	Severity string `json:"severity"`
}

// compiledPolicy caches one prepared deny query.
type compiledPolicy struct {
	policy Policy
	query  rego.PreparedEvalQuery
}

// Engine evaluates the registered policies against plugin descriptors. It
// implements plugins.InstallGate.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	logger   zerolog.Logger
}

// NewEngine creates a policy engine preloaded with the built-in policies.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		logger:   logger.With().Str("component", "policy").Logger(),
	}
	for _, p := range BuiltinPolicies() {
		if err := e.Add(p); err != nil {
			return nil, fmt.Errorf("failed to load built-in policy %s: %w", p.Name, err)
		}
	}
	return e, nil
}

// Add compiles and registers a policy.
func (e *Engine) Add(p Policy) error {
	query, err := rego.New(
		rego.Query(fmt.Sprintf("data.bijux.policies.%s.deny", p.Name)),
		rego.Module(p.Name+".rego", p.Rego),
	).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policy %s: %w", p.Name, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[p.Name] = &compiledPolicy{policy: p, query: query}
	return nil
}

// Evaluate runs every enabled policy against the descriptor and returns the
// violations.
func (e *Engine) Evaluate(ctx context.Context, d plugins.Descriptor) ([]Violation, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	input := map[string]any{
		"plugin": map[string]any{
			"name":         d.Name,
			"version":      d.Version,
			"entrypoint":   d.Entrypoint,
			"capabilities": d.Capabilities,
		},
		"allowed_capabilities": plugins.AllowedCapabilities,
	}

	var violations []Violation
	for _, cp := range e.policies {
		if !cp.policy.Enabled {
			continue
		}
		results, err := cp.query.Eval(ctx, rego.EvalInput(input))
		if err != nil {
			e.logger.Error().Err(err).Str("policy", cp.policy.Name).Msg("policy evaluation failed")
			return nil, fmt.Errorf("policy %s evaluation failed: %w", cp.policy.Name, err)
		}
		for _, result := range results {
			for _, expr := range result.Expressions {
				set, ok := expr.Value.([]any)
				if !ok {
					continue
				}
				for _, raw := range set {
					entry, ok := raw.(map[string]any)
					if !ok {
						continue
					}
					v := Violation{Policy: cp.policy.Name, Severity: string(cp.policy.Severity)}
					if msg, ok := entry["message"].(string); ok {
						v.Message = msg
					}
					if sev, ok := entry["severity"].(string); ok {
						v.Severity = sev
					}
					violations = append(violations, v)
				}
			}
		}
	}
	return violations, nil
}

// Allow implements plugins.InstallGate: error-severity violations block the
// install; warnings are logged and let it proceed.
func (e *Engine) Allow(ctx context.Context, d plugins.Descriptor) error {
	violations, err := e.Evaluate(ctx, d)
	if err != nil {
		return core.NewInternalError("plugin policy evaluation failed", err)
	}
	var blocking []string
	for _, v := range violations {
		if v.Severity == string(SeverityError) {
			blocking = append(blocking, v.Message)
			continue
		}
		e.logger.Warn().
			Str("plugin", d.Name).
			Str("policy", v.Policy).
			Msg(v.Message)
	}
	if len(blocking) > 0 {
		return core.NewValidationError(
			fmt.Sprintf("plugin %s rejected by policy: %v", d.Name, blocking), nil,
		).WithFailure(core.FailPolicyDenied)
	}
	return nil
}
