package core

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Lifetime controls how the kernel caches instances produced by a factory.
type Lifetime string

const (
	// Singleton creates the instance on first resolve and caches it for the
	// kernel's lifetime.
	Singleton Lifetime = "singleton"

	// Transient creates a fresh instance on every resolve.
	Transient Lifetime = "transient"

	// Scoped creates one instance per dispatch scope and discards it when
	// the scope closes.
	Scoped Lifetime = "scoped"
)

// Failure strings specific to contract registration.
const (
	FailUnregisteredContract = "unregistered_contract"
	FailCapabilityConflict   = "capability_conflict"
)

// Factory constructs a service instance. Factories may resolve their own
// dependencies through the kernel they are handed.
type Factory func(k *Kernel) (any, error)

// binding is one contract registration.
type binding struct {
	factory  Factory
	lifetime Lifetime

	// plugin is the owning plugin name, empty for built-in contracts.
	plugin string

	// instance caches the singleton once built.
	instance any
	built    bool
}

// RegisterOption tunes a single Register call.
type RegisterOption func(*registerConfig)

type registerConfig struct {
	override bool
	plugin   string
}

// WithOverride allows replacing an existing binding for the same contract.
// Intended for tests substituting fakes on a fresh kernel instance.
func WithOverride() RegisterOption {
	return func(c *registerConfig) { c.override = true }
}

// FromPlugin marks the binding as owned by the named plugin. Plugin bindings
// may not shadow built-in contracts and are removed on uninstall.
func FromPlugin(name string) RegisterOption {
	return func(c *registerConfig) { c.plugin = name }
}

// Kernel is the dependency-injection registry binding abstract contract
// names to factories. It is an explicit instance owned by the engine; there
// is no process-wide registry.
type Kernel struct {
	mu       sync.RWMutex
	bindings map[string]*binding
	logger   zerolog.Logger
}

// NewKernel creates an empty kernel.
func NewKernel(logger zerolog.Logger) *Kernel {
	return &Kernel{
		bindings: make(map[string]*binding),
		logger:   logger.With().Str("component", "kernel").Logger(),
	}
}

// Register binds a contract name to a factory with the given lifetime.
// Duplicate registrations fail AlreadyExists unless WithOverride is passed.
// A plugin binding that names an existing built-in contract fails with a
// capability conflict regardless of override.
func (k *Kernel) Register(contract string, factory Factory, lifetime Lifetime, opts ...RegisterOption) error {
	if contract == "" {
		return NewValidationError("contract name must not be empty", nil)
	}
	if factory == nil {
		return NewValidationError(fmt.Sprintf("contract %s has no factory", contract), nil)
	}

	var cfg registerConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if existing, ok := k.bindings[contract]; ok {
		if cfg.plugin != "" && existing.plugin == "" {
			return NewAlreadyExistsError(
				fmt.Sprintf("plugin %s may not shadow built-in contract %s", cfg.plugin, contract), nil,
			).WithFailure(FailCapabilityConflict)
		}
		if !cfg.override {
			return NewAlreadyExistsError(
				fmt.Sprintf("contract %s is already registered", contract), nil,
			)
		}
	}

	k.bindings[contract] = &binding{
		factory:  factory,
		lifetime: lifetime,
		plugin:   cfg.plugin,
	}
	k.logger.Debug().
		Str("contract", contract).
		Str("lifetime", string(lifetime)).
		Str("plugin", cfg.plugin).
		Msg("contract registered")
	return nil
}

// Deregister removes a contract binding. Only plugin-owned bindings for the
// named plugin are removed; built-in contracts are left untouched.
func (k *Kernel) Deregister(contract, plugin string) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	b, ok := k.bindings[contract]
	if !ok {
		return NewNotFoundError(fmt.Sprintf("contract %s is not registered", contract), nil).
			WithFailure(FailUnregisteredContract)
	}
	if b.plugin != plugin {
		return NewValidationError(
			fmt.Sprintf("contract %s is not owned by plugin %s", contract, plugin), nil)
	}
	delete(k.bindings, contract)
	return nil
}

// Resolve returns an instance for the contract. Singleton instances are
// built once and cached; transient instances are built per call. Scoped
// contracts must be resolved through a Scope.
func (k *Kernel) Resolve(contract string) (any, error) {
	k.mu.RLock()
	b, ok := k.bindings[contract]
	k.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError(
			fmt.Sprintf("contract %s is not registered", contract), nil,
		).WithFailure(FailUnregisteredContract)
	}

	switch b.lifetime {
	case Singleton:
		return k.resolveSingleton(contract, b)
	case Transient:
		return b.factory(k)
	case Scoped:
		return nil, NewValidationError(
			fmt.Sprintf("contract %s is scoped and must be resolved through a dispatch scope", contract), nil)
	default:
		return nil, NewInternalError(
			fmt.Sprintf("contract %s has unknown lifetime %q", contract, b.lifetime), nil)
	}
}

func (k *Kernel) resolveSingleton(contract string, b *binding) (any, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if b.built {
		return b.instance, nil
	}
	instance, err := b.factory(k)
	if err != nil {
		return nil, fmt.Errorf("failed to build singleton %s: %w", contract, err)
	}
	b.instance = instance
	b.built = true
	return instance, nil
}

// Contracts returns the registered contract names, built-ins and plugin
// contributions alike.
func (k *Kernel) Contracts() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.bindings))
	for name := range k.bindings {
		names = append(names, name)
	}
	return names
}

// Scope holds the per-dispatch instances of scoped contracts. Instances are
// discarded, and their closers run LIFO, when the scope closes.
type Scope struct {
	id        string
	kernel    *Kernel
	mu        sync.Mutex
	instances map[string]any
	closers   []func() error
	closed    bool
}

// NewScope opens a dispatch scope.
func (k *Kernel) NewScope() *Scope {
	return &Scope{
		id:        uuid.New().String(),
		kernel:    k,
		instances: make(map[string]any),
	}
}

// ID returns the scope's unique identifier.
func (s *Scope) ID() string {
	return s.id
}

// Resolve returns an instance for the contract within this scope. Scoped
// contracts are built once per scope; other lifetimes fall through to the
// kernel.
func (s *Scope) Resolve(contract string) (any, error) {
	s.kernel.mu.RLock()
	b, ok := s.kernel.bindings[contract]
	s.kernel.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError(
			fmt.Sprintf("contract %s is not registered", contract), nil,
		).WithFailure(FailUnregisteredContract)
	}
	if b.lifetime != Scoped {
		return s.kernel.Resolve(contract)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, NewInternalError(fmt.Sprintf("scope %s is closed", s.id), nil)
	}
	if instance, ok := s.instances[contract]; ok {
		return instance, nil
	}
	instance, err := b.factory(s.kernel)
	if err != nil {
		return nil, fmt.Errorf("failed to build scoped %s: %w", contract, err)
	}
	s.instances[contract] = instance
	if closer, ok := instance.(interface{ Close() error }); ok {
		s.closers = append(s.closers, closer.Close)
	}
	return instance, nil
}

// Close discards the scope's instances. It is safe to call more than once;
// closers run in reverse registration order and the first error wins.
func (s *Scope) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.instances = nil
	s.closers = nil
	return firstErr
}
