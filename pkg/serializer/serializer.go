// Package serializer encodes and decodes command payloads and error
// envelopes as JSON or YAML, masking credential-bearing fields before any
// byte of output is produced.
package serializer

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/bijux/bijux-cli/pkg/core"
)

// Serializer renders values in the formats supported by the CLI surface.
// It implements core.Renderer.
type Serializer struct {
	redactor *Redactor
}

// New creates a serializer with the default redaction key set.
func New() *Serializer {
	return &Serializer{redactor: NewRedactor(nil)}
}

// NewWithRedactor creates a serializer with a custom redactor.
func NewWithRedactor(r *Redactor) *Serializer {
	return &Serializer{redactor: r}
}

// Encode renders v in the given format. Secret-bearing keys are masked on a
// deep copy before serialization; a secret never transiently exists in the
// rendered buffer.
func (s *Serializer) Encode(v any, format core.OutputFormat, pretty bool) ([]byte, error) {
	redacted, err := s.redactor.Apply(v)
	if err != nil {
		return nil, core.NewEncodingError("failed to redact payload", err)
	}

	switch format {
	case core.FormatJSON:
		return encodeJSON(redacted, pretty)
	case core.FormatYAML:
		return encodeYAML(redacted)
	default:
		return nil, core.NewEncodingError(fmt.Sprintf("unsupported format %q", format), nil)
	}
}

// Decode parses data in the given format into out.
func (s *Serializer) Decode(data []byte, format core.OutputFormat, out any) error {
	switch format {
	case core.FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(out); err != nil {
			return core.NewValidationError("failed to decode JSON", err)
		}
		return nil
	case core.FormatYAML:
		if err := yaml.Unmarshal(data, out); err != nil {
			return core.NewValidationError("failed to decode YAML", err)
		}
		return nil
	default:
		return core.NewEncodingError(fmt.Sprintf("unsupported format %q", format), nil)
	}
}

func encodeJSON(v any, pretty bool) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if pretty {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(v); err != nil {
		return nil, core.NewEncodingError("failed to encode JSON", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func encodeYAML(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return nil, core.NewEncodingError("failed to encode YAML", err)
	}
	if err := enc.Close(); err != nil {
		return nil, core.NewEncodingError("failed to finalize YAML", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
