package serializer

import (
	"strings"
	"testing"

	"github.com/bijux/bijux-cli/pkg/core"
)

// TestEncodeJSON verifies compact and pretty JSON output.
func TestEncodeJSON(t *testing.T) {
	s := New()
	payload := map[string]any{"name": "bijux", "count": 2}

	compact, err := s.Encode(payload, core.FormatJSON, false)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.Contains(string(compact), "\n") {
		t.Errorf("expected compact output, got %q", compact)
	}

	pretty, err := s.Encode(payload, core.FormatJSON, true)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.Contains(string(pretty), "  \"count\": 2") {
		t.Errorf("expected indented output, got %q", pretty)
	}
}

// TestEncodeYAML verifies YAML output.
func TestEncodeYAML(t *testing.T) {
	s := New()
	data, err := s.Encode(map[string]string{"name": "bijux"}, core.FormatYAML, true)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if !strings.Contains(string(data), "name: bijux") {
		t.Errorf("expected YAML output, got %q", data)
	}
}

// TestEncodeUnsupportedFormat verifies unsupported formats fail as encoding
// errors.
func TestEncodeUnsupportedFormat(t *testing.T) {
	s := New()
	_, err := s.Encode("x", core.OutputFormat("xml"), false)
	if core.KindOf(err) != core.KindEncoding {
		t.Fatalf("expected an encoding error, got %v", err)
	}
}

// TestRedactionAcrossFormats verifies secret keys are masked in every
// rendered format, at any depth, for any key spelling.
func TestRedactionAcrossFormats(t *testing.T) {
	s := New()
	payload := map[string]any{
		"user": "alice",
		"password": "hunter2",
		"nested": map[string]any{
			"api_key":     "abc123",
			"apiKey":      "def456",
			"Credentials": []any{"tok"},
		},
		"list": []any{
			map[string]any{"TOKEN": "xyz"},
		},
	}

	for _, format := range []core.OutputFormat{core.FormatJSON, core.FormatYAML} {
		data, err := s.Encode(payload, format, true)
		if err != nil {
			t.Fatalf("encode %s failed: %v", format, err)
		}
		out := string(data)
		for _, secret := range []string{"hunter2", "abc123", "def456", "tok", "xyz"} {
			if strings.Contains(out, secret) {
				t.Errorf("%s output leaked secret %q: %s", format, secret, out)
			}
		}
		if !strings.Contains(out, "alice") {
			t.Errorf("%s output lost a non-secret value: %s", format, out)
		}
		if !strings.Contains(out, Mask) {
			t.Errorf("%s output has no mask: %s", format, out)
		}
	}
}

// TestRedactionOfStructs verifies struct payloads are redacted through their
// JSON field names.
func TestRedactionOfStructs(t *testing.T) {
	type creds struct {
		User     string `json:"user"`
		Password string `json:"password"`
	}
	s := New()
	data, err := s.Encode(creds{User: "bob", Password: "swordfish"}, core.FormatJSON, false)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if strings.Contains(string(data), "swordfish") {
		t.Errorf("struct secret leaked: %s", data)
	}
}

// TestRedactorDoesNotMutateInput verifies Apply works on a deep copy.
func TestRedactorDoesNotMutateInput(t *testing.T) {
	payload := map[string]any{"secret": "original"}
	if _, err := NewRedactor(nil).Apply(payload); err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if payload["secret"] != "original" {
		t.Errorf("input payload was mutated: %v", payload)
	}
}

// TestCustomRedactorKeys verifies a custom key set replaces the defaults.
func TestCustomRedactorKeys(t *testing.T) {
	s := NewWithRedactor(NewRedactor([]string{"ssn"}))
	data, err := s.Encode(map[string]string{"ssn": "123-45-6789", "password": "visible"}, core.FormatJSON, false)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "123-45-6789") {
		t.Errorf("custom key leaked: %s", out)
	}
	if !strings.Contains(out, "visible") {
		t.Errorf("default keys should not apply with a custom set: %s", out)
	}
}

// TestDecode verifies round-tripping both formats.
func TestDecode(t *testing.T) {
	s := New()

	var fromJSON map[string]any
	if err := s.Decode([]byte(`{"a": 1}`), core.FormatJSON, &fromJSON); err != nil {
		t.Fatalf("decode JSON failed: %v", err)
	}
	if _, ok := fromJSON["a"]; !ok {
		t.Errorf("decoded JSON missing key: %v", fromJSON)
	}

	var fromYAML map[string]any
	if err := s.Decode([]byte("a: 1\n"), core.FormatYAML, &fromYAML); err != nil {
		t.Fatalf("decode YAML failed: %v", err)
	}

	var out map[string]any
	if err := s.Decode([]byte("{not json"), core.FormatJSON, &out); core.KindOf(err) != core.KindValidation {
		t.Errorf("expected a validation error, got %v", err)
	}
}
