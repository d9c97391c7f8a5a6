// Package plugins implements the plugin lifecycle: discovery, validation,
// installation, removal, scaffolding, and dispatch-hook execution. Plugin
// entrypoints are WASM modules executed in a sandboxed host.
package plugins

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"

	"github.com/bijux/bijux-cli/pkg/core"
)

// MetadataFile is the plugin metadata file name inside a bundle.
const MetadataFile = "plugin.json"

// HookSpec declares one dispatch hook exported by a plugin.
type HookSpec struct {
	// Name identifies the hook for diagnostics.
	Name string `json:"name"`

	// Stage is pre-dispatch or post-dispatch.
	Stage string `json:"stage"`

	// Export is the WASM export invoked for the hook. Defaults to hook_run.
	Export string `json:"export,omitempty"`

	// Critical aborts the host command when the hook fails.
	Critical bool `json:"critical,omitempty"`
}

// Descriptor is the validated metadata record for an installed or discovered
// plugin, keyed uniquely by Name.
type Descriptor struct {
	// Name is the unique plugin name.
	Name string `json:"name"`

	// Version is the plugin version string.
	Version string `json:"version"`

	// Entrypoint is the WASM module path, relative to the bundle root.
	Entrypoint string `json:"entrypoint"`

	// Capabilities are the abstract capability names this plugin provides
	// or requires. Validated against the fixed capability set at
	// registration time.
	Capabilities []string `json:"capabilities,omitempty"`

	// Hooks are the dispatch hooks the plugin registers.
	Hooks []HookSpec `json:"hooks,omitempty"`

	// SourcePath is the bundle directory the descriptor was loaded from.
	// It is not part of the metadata file.
	SourcePath string `json:"-"`
}

// AllowedCapabilities is the fixed capability interface set plugins may
// declare. Capabilities are validated at registration time, never at call
// time.
var AllowedCapabilities = []string{
	"history:read",
	"history:write",
	"memory:read",
	"memory:write",
	"fs:temp",
	"env:read",
	"hooks:pre-dispatch",
	"hooks:post-dispatch",
}

// descriptorSchema is the CUE schema the metadata file must satisfy.
const descriptorSchema = `
#Plugin: {
	name:       string & =~"^[a-z][a-z0-9_-]{0,63}$"
	version:    string & !=""
	entrypoint: string & !=""
	capabilities?: [...string]
	hooks?: [...{
		name:      string & !=""
		stage:     "pre-dispatch" | "post-dispatch"
		export?:   string
		critical?: bool
	}]
}
`

// schemaRegistry compiles and caches the CUE schemas used for metadata
// validation.
type schemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

func newSchemaRegistry() *schemaRegistry {
	sr := &schemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
	sr.register("plugin", descriptorSchema+"\n#Plugin")
	return sr
}

func (sr *schemaRegistry) register(name, schema string) {
	sr.mu.Lock()
	defer sr.mu.Unlock()
	sr.schemas[name] = sr.ctx.CompileString(schema)
}

// validate unifies data with the named schema; a failed unification is a
// validation error carrying CUE's diagnostics.
func (sr *schemaRegistry) validate(name string, data any) error {
	sr.mu.RLock()
	schema, ok := sr.schemas[name]
	sr.mu.RUnlock()
	if !ok {
		return core.NewInternalError(fmt.Sprintf("schema %s not registered", name), nil)
	}
	if err := schema.Err(); err != nil {
		return core.NewInternalError(fmt.Sprintf("schema %s failed to compile", name), err)
	}

	value := schema.Context().Encode(data)
	if err := value.Err(); err != nil {
		return core.NewValidationError("failed to encode metadata for validation", err)
	}
	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return core.NewValidationError("plugin metadata failed schema validation", err)
	}
	return nil
}

// LoadDescriptor reads and schema-validates a bundle's plugin.json.
func LoadDescriptor(bundleDir string, registry *schemaRegistry) (Descriptor, error) {
	metaPath := filepath.Join(bundleDir, MetadataFile)
	data, err := os.ReadFile(metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Descriptor{}, core.NewNotFoundError(
				fmt.Sprintf("bundle %s has no %s", bundleDir, MetadataFile), err)
		}
		return Descriptor{}, fmt.Errorf("failed to read %s: %w", metaPath, err)
	}

	// Decode to a generic tree first so CUE sees the raw document, unknown
	// fields included.
	var tree map[string]any
	if err := json.Unmarshal(data, &tree); err != nil {
		return Descriptor{}, core.NewValidationError(
			fmt.Sprintf("%s is not valid JSON", metaPath), err)
	}
	if err := registry.validate("plugin", tree); err != nil {
		return Descriptor{}, err
	}

	var desc Descriptor
	if err := json.Unmarshal(data, &desc); err != nil {
		return Descriptor{}, core.NewValidationError(
			fmt.Sprintf("%s does not match the descriptor shape", metaPath), err)
	}
	desc.SourcePath = bundleDir

	if err := validateCapabilities(desc.Capabilities); err != nil {
		return Descriptor{}, err
	}

	entry := filepath.Join(bundleDir, desc.Entrypoint)
	if _, err := os.Stat(entry); err != nil {
		return Descriptor{}, core.NewValidationError(
			fmt.Sprintf("plugin %s entrypoint %s is missing", desc.Name, desc.Entrypoint), err)
	}
	return desc, nil
}

// validateCapabilities checks the declared capabilities against the fixed
// interface set.
func validateCapabilities(declared []string) error {
	allowed := make(map[string]struct{}, len(AllowedCapabilities))
	for _, c := range AllowedCapabilities {
		allowed[c] = struct{}{}
	}
	var unknown []string
	for _, c := range declared {
		if _, ok := allowed[c]; !ok {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return core.NewValidationError(
			fmt.Sprintf("unknown capabilities declared: %v", unknown), nil)
	}
	return nil
}
