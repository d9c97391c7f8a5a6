package policy

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/plugins"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create policy engine: %v", err)
	}
	return e
}

// TestAllowCleanPlugin verifies a conforming descriptor passes every
// built-in policy.
func TestAllowCleanPlugin(t *testing.T) {
	e := newTestEngine(t)
	desc := plugins.Descriptor{
		Name:         "greeter",
		Version:      "1.2.3",
		Entrypoint:   "plugin.wasm",
		Capabilities: []string{"env:read", "fs:temp"},
	}
	if err := e.Allow(context.Background(), desc); err != nil {
		t.Fatalf("expected a clean plugin to pass, got %v", err)
	}
}

// TestAllowRejectsUnknownCapability verifies the capability allowlist policy
// blocks installs with the policy-denied failure.
func TestAllowRejectsUnknownCapability(t *testing.T) {
	e := newTestEngine(t)
	desc := plugins.Descriptor{
		Name:         "sneaky",
		Version:      "1.0.0",
		Entrypoint:   "plugin.wasm",
		Capabilities: []string{"net:raw"},
	}
	err := e.Allow(context.Background(), desc)
	var cerr *core.Error
	if !errors.As(err, &cerr) {
		t.Fatalf("expected a classified error, got %v", err)
	}
	if cerr.Failure != core.FailPolicyDenied {
		t.Errorf("expected failure %s, got %s", core.FailPolicyDenied, cerr.Failure)
	}
}

// TestAllowRejectsBadName verifies the naming policy.
func TestAllowRejectsBadName(t *testing.T) {
	e := newTestEngine(t)
	desc := plugins.Descriptor{
		Name:       "Bad Name",
		Version:    "1.0.0",
		Entrypoint: "plugin.wasm",
	}
	if err := e.Allow(context.Background(), desc); err == nil {
		t.Fatal("expected the naming policy to block the install")
	}
}

// TestUnpinnedVersionWarnsButAllows verifies warning-severity violations do
// not block installation.
func TestUnpinnedVersionWarnsButAllows(t *testing.T) {
	e := newTestEngine(t)
	desc := plugins.Descriptor{
		Name:       "loose",
		Version:    "latest",
		Entrypoint: "plugin.wasm",
	}

	violations, err := e.Evaluate(context.Background(), desc)
	if err != nil {
		t.Fatalf("evaluate failed: %v", err)
	}
	found := false
	for _, v := range violations {
		if v.Policy == "versioning" && v.Severity == string(SeverityWarning) {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a versioning warning, got %+v", violations)
	}

	if err := e.Allow(context.Background(), desc); err != nil {
		t.Errorf("expected warnings not to block, got %v", err)
	}
}

// TestAddCustomPolicy verifies operator-supplied Rego modules participate in
// evaluation.
func TestAddCustomPolicy(t *testing.T) {
	e := newTestEngine(t)
	err := e.Add(Policy{
		Name:     "entrypoints",
		Severity: SeverityError,
		Enabled:  true,
		Rego: `package bijux.policies.entrypoints

import rego.v1

deny contains violation if {
	not endswith(input.plugin.entrypoint, ".wasm")
	violation := {
		"message": "entrypoint must be a WASM module",
		"severity": "error",
	}
}
`,
	})
	if err != nil {
		t.Fatalf("failed to add policy: %v", err)
	}

	desc := plugins.Descriptor{Name: "native", Version: "1.0.0", Entrypoint: "plugin.so"}
	if err := e.Allow(context.Background(), desc); err == nil {
		t.Fatal("expected the custom policy to block the install")
	}

	desc.Entrypoint = "plugin.wasm"
	if err := e.Allow(context.Background(), desc); err != nil {
		t.Fatalf("expected a wasm entrypoint to pass, got %v", err)
	}
}

// TestAddRejectsBadRego verifies malformed modules fail at registration.
func TestAddRejectsBadRego(t *testing.T) {
	e := newTestEngine(t)
	err := e.Add(Policy{Name: "broken", Enabled: true, Rego: "this is not rego"})
	if err == nil {
		t.Fatal("expected the malformed module to fail compilation")
	}
}
