package plugins

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/plugins/host"
)

// Diagnostic records one candidate bundle that discovery had to skip.
type Diagnostic struct {
	// Path is the offending bundle directory.
	Path string `json:"path"`

	// Reason is the validation failure, in human-readable form.
	Reason string `json:"reason"`
}

// Report is the result of checking one plugin bundle.
type Report struct {
	// Name is the plugin name, when metadata parsed far enough to know it.
	Name string `json:"name,omitempty"`

	// Path is the checked bundle directory.
	Path string `json:"path"`

	// Valid is true when the bundle passed every check.
	Valid bool `json:"valid"`

	// Errors lists the checks that failed.
	Errors []string `json:"errors,omitempty"`

	// Descriptor is the parsed metadata when valid.
	Descriptor *Descriptor `json:"descriptor,omitempty"`
}

// InstallGate approves or rejects a plugin before installation. Implemented
// by the policy engine.
type InstallGate interface {
	Allow(ctx context.Context, d Descriptor) error
}

// HookSink receives the dispatch hooks of installed plugins. Implemented by
// the core engine.
type HookSink interface {
	AddHook(h core.Hook)
	RemoveHooks(plugin string)
}

// Manager owns the plugin directory and the lifecycle of every bundle in it.
type Manager struct {
	dir      string
	kernel   *core.Kernel
	gate     InstallGate
	sink     HookSink
	schemas  *schemaRegistry
	logger   zerolog.Logger
	hostPool *host.Pool

	mu sync.Mutex
}

// NewManager creates a plugin manager over the given plugin directory. The
// gate and sink may be nil, which disables policy checks and hook
// registration respectively.
func NewManager(dir string, kernel *core.Kernel, gate InstallGate, sink HookSink, logger zerolog.Logger) *Manager {
	return &Manager{
		dir:      dir,
		kernel:   kernel,
		gate:     gate,
		sink:     sink,
		schemas:  newSchemaRegistry(),
		logger:   logger.With().Str("component", "plugins").Logger(),
		hostPool: host.NewPool(),
	}
}

// Dir returns the plugin directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Discover scans the plugin directory, loading and validating each
// candidate's metadata. Malformed bundles are omitted and recorded as
// diagnostics, never surfaced as a crash.
func (m *Manager) Discover() ([]Descriptor, []Diagnostic) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, []Diagnostic{{Path: m.dir, Reason: err.Error()}}
	}

	var descriptors []Descriptor
	var diagnostics []Diagnostic
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		bundle := filepath.Join(m.dir, entry.Name())
		desc, err := LoadDescriptor(bundle, m.schemas)
		if err != nil {
			diagnostics = append(diagnostics, Diagnostic{Path: bundle, Reason: err.Error()})
			continue
		}
		descriptors = append(descriptors, desc)
	}
	sort.Slice(descriptors, func(i, j int) bool { return descriptors[i].Name < descriptors[j].Name })
	return descriptors, diagnostics
}

// Get returns the installed descriptor for name.
func (m *Manager) Get(name string) (Descriptor, error) {
	desc, err := LoadDescriptor(filepath.Join(m.dir, name), m.schemas)
	if err != nil {
		return Descriptor{}, core.NewNotFoundError(
			fmt.Sprintf("plugin %s is not installed", name), err,
		).WithFailure(core.FailNotInstalled)
	}
	return desc, nil
}

// Install validates the bundle at sourcePath, stages it into the plugin
// directory, atomically renames it into place, and registers its
// capabilities and hooks. Installing over an existing name fails
// AlreadyExists unless force is set.
func (m *Manager) Install(ctx context.Context, sourcePath string, force bool) (Descriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, err := os.Stat(sourcePath)
	if err != nil {
		return Descriptor{}, core.NewNotFoundError(
			fmt.Sprintf("plugin source %s does not exist", sourcePath), err,
		).WithFailure(core.FailSourceNotFound)
	}
	if !info.IsDir() {
		return Descriptor{}, core.NewValidationError(
			fmt.Sprintf("plugin source %s is not a bundle directory", sourcePath), nil)
	}

	desc, err := LoadDescriptor(sourcePath, m.schemas)
	if err != nil {
		return Descriptor{}, err
	}
	if m.gate != nil {
		if err := m.gate.Allow(ctx, desc); err != nil {
			return Descriptor{}, err
		}
	}

	dest := filepath.Join(m.dir, desc.Name)
	_, destErr := os.Stat(dest)
	exists := destErr == nil
	if exists && !force {
		return Descriptor{}, core.NewAlreadyExistsError(
			fmt.Sprintf("plugin %s is already installed", desc.Name), nil)
	}

	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return Descriptor{}, fmt.Errorf("failed to create plugin directory: %w", err)
	}

	// Stage inside the plugin directory so the final rename stays on one
	// filesystem and keeps its atomicity.
	stage := filepath.Join(m.dir, ".stage-"+desc.Name+"-"+uuid.New().String())
	if err := copyTree(sourcePath, stage); err != nil {
		os.RemoveAll(stage)
		return Descriptor{}, fmt.Errorf("failed to stage plugin bundle: %w", err)
	}

	if exists {
		// Concurrent install/uninstall of the same name is last-writer-wins
		// by rename atomicity; this is a documented limitation.
		trash := filepath.Join(m.dir, ".trash-"+desc.Name+"-"+uuid.New().String())
		if err := os.Rename(dest, trash); err != nil {
			os.RemoveAll(stage)
			return Descriptor{}, fmt.Errorf("failed to displace existing bundle: %w", err)
		}
		defer os.RemoveAll(trash)
	}
	if err := os.Rename(stage, dest); err != nil {
		os.RemoveAll(stage)
		return Descriptor{}, fmt.Errorf("failed to move plugin bundle into place: %w", err)
	}
	desc.SourcePath = dest

	if err := m.register(desc, force); err != nil {
		return Descriptor{}, err
	}
	m.logger.Info().
		Str("plugin", desc.Name).
		Str("version", desc.Version).
		Bool("force", force).
		Msg("plugin installed")
	return desc, nil
}

// Uninstall removes the named plugin's bundle and deregisters its
// capabilities and hooks.
func (m *Manager) Uninstall(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dest := filepath.Join(m.dir, name)
	desc, err := LoadDescriptor(dest, m.schemas)
	if err != nil {
		if _, statErr := os.Stat(dest); os.IsNotExist(statErr) {
			return core.NewNotFoundError(
				fmt.Sprintf("plugin %s is not installed", name), nil,
			).WithFailure(core.FailNotInstalled)
		}
		// Metadata is unreadable; remove the bundle anyway.
		desc = Descriptor{Name: name}
	}

	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to remove plugin bundle: %w", err)
	}

	for _, capability := range desc.Capabilities {
		if err := m.kernel.Deregister(capability, name); err != nil && !core.IsNotFound(err) {
			m.logger.Warn().Err(err).
				Str("plugin", name).
				Str("capability", capability).
				Msg("failed to deregister capability")
		}
	}
	if m.sink != nil {
		m.sink.RemoveHooks(name)
	}
	m.hostPool.Evict(ctx, name)
	m.logger.Info().Str("plugin", name).Msg("plugin uninstalled")
	return nil
}

// Check validates a plugin by installed name or by bundle path and returns a
// report instead of failing.
func (m *Manager) Check(nameOrPath string) Report {
	path := nameOrPath
	if !strings.ContainsRune(nameOrPath, os.PathSeparator) {
		path = filepath.Join(m.dir, nameOrPath)
	}
	report := Report{Path: path}

	desc, err := LoadDescriptor(path, m.schemas)
	if err != nil {
		report.Errors = append(report.Errors, err.Error())
		return report
	}
	report.Name = desc.Name
	report.Valid = true
	report.Descriptor = &desc
	return report
}

// Activate registers the capabilities and hooks of every valid installed
// plugin. Called once at bootstrap, after discovery.
func (m *Manager) Activate(ctx context.Context) []Diagnostic {
	descriptors, diagnostics := m.Discover()
	for _, desc := range descriptors {
		if m.gate != nil {
			if err := m.gate.Allow(ctx, desc); err != nil {
				diagnostics = append(diagnostics, Diagnostic{Path: desc.SourcePath, Reason: err.Error()})
				continue
			}
		}
		if err := m.register(desc, true); err != nil {
			diagnostics = append(diagnostics, Diagnostic{Path: desc.SourcePath, Reason: err.Error()})
		}
	}
	return diagnostics
}

// register binds the plugin's capabilities as kernel contracts and its hooks
// into the sink. Capability contracts resolve to the plugin's WASM host.
func (m *Manager) register(desc Descriptor, override bool) error {
	opts := []core.RegisterOption{core.FromPlugin(desc.Name)}
	if override {
		opts = append(opts, core.WithOverride())
	}
	bundle := desc.SourcePath
	entry := filepath.Join(bundle, desc.Entrypoint)

	for _, capability := range desc.Capabilities {
		pluginName := desc.Name
		factory := func(*core.Kernel) (any, error) {
			return m.hostPool.Get(context.Background(), pluginName, entry, desc.Capabilities)
		}
		if err := m.kernel.Register(capability, factory, core.Singleton, opts...); err != nil {
			return err
		}
	}

	if m.sink == nil {
		return nil
	}
	for _, spec := range desc.Hooks {
		stage := core.HookStage(spec.Stage)
		export := spec.Export
		if export == "" {
			export = host.DefaultHookExport
		}
		spec := spec
		m.sink.AddHook(core.Hook{
			Name:     spec.Name,
			Plugin:   desc.Name,
			Stage:    stage,
			Critical: spec.Critical,
			Fn: func(ctx context.Context, ev core.HookEvent) error {
				h, err := m.hostPool.Get(ctx, desc.Name, entry, desc.Capabilities)
				if err != nil {
					return core.NewPluginHookError(
						fmt.Sprintf("failed to load plugin %s", desc.Name), err)
				}
				return h.InvokeHook(ctx, export, ev)
			},
		})
	}
	return nil
}

// copyTree copies a bundle directory recursively, preserving file modes.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode().Perm())
		}
		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, in); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	})
}
