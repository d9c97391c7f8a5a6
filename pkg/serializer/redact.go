package serializer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Mask replaces the value of every redacted field.
const Mask = "***"

// defaultSecretKeys are the field names treated as credential-bearing.
// Matching is case-insensitive on the normalized key (underscores and
// hyphens stripped), so api_key, apiKey and API-KEY all match.
var defaultSecretKeys = []string{
	"password",
	"passwd",
	"secret",
	"token",
	"apikey",
	"credential",
	"credentials",
	"privatekey",
	"authorization",
}

// Redactor masks secret-bearing keys in arbitrary payloads before they are
// serialized.
type Redactor struct {
	keys map[string]struct{}
}

// NewRedactor creates a redactor for the given key names. A nil or empty
// list selects the default credential key set.
func NewRedactor(keys []string) *Redactor {
	if len(keys) == 0 {
		keys = defaultSecretKeys
	}
	set := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		set[normalizeKey(k)] = struct{}{}
	}
	return &Redactor{keys: set}
}

// Apply returns a deep copy of v with secret-bearing values masked. The
// original value is never mutated. Structs are flattened through their JSON
// representation, which is also what the encoders will see.
func (r *Redactor) Apply(v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize payload: %w", err)
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to rebuild payload: %w", err)
	}
	return r.walk(tree), nil
}

func (r *Redactor) walk(node any) any {
	switch n := node.(type) {
	case map[string]any:
		out := make(map[string]any, len(n))
		for key, value := range n {
			if r.isSecret(key) {
				out[key] = Mask
				continue
			}
			out[key] = r.walk(value)
		}
		return out
	case []any:
		out := make([]any, len(n))
		for i, value := range n {
			out[i] = r.walk(value)
		}
		return out
	default:
		return node
	}
}

func (r *Redactor) isSecret(key string) bool {
	_, ok := r.keys[normalizeKey(key)]
	return ok
}

func normalizeKey(key string) string {
	key = strings.ToLower(key)
	key = strings.ReplaceAll(key, "_", "")
	key = strings.ReplaceAll(key, "-", "")
	return key
}
