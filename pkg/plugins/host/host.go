// Package host executes plugin entrypoints as sandboxed WASM modules and
// exposes their exported hooks to the engine.
package host

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// DefaultHookExport is the export invoked for a hook when the metadata does
// not name one.
const DefaultHookExport = "hook_run"

// defaultTimeout bounds one guest call.
const defaultTimeout = 10 * time.Second

// memoryLimitPages caps guest memory at 16MB (64KB pages).
const memoryLimitPages = 256

// hookResult is the JSON frame a hook export writes back to the host.
type hookResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Host is one instantiated plugin module.
type Host struct {
	plugin  string
	runtime wazero.Runtime
	module  api.Module

	// malloc is the guest allocator used to pass event frames in.
	malloc api.Function

	timeout time.Duration
	mu      sync.Mutex
}

// New instantiates the WASM module at entrypoint for the named plugin. The
// module must export a linear memory and a malloc function; hook exports are
// looked up per call so optional hooks stay optional.
func New(ctx context.Context, plugin, entrypoint string, capabilities []string) (*Host, error) {
	wasmBytes, err := os.ReadFile(entrypoint)
	if err != nil {
		return nil, fmt.Errorf("failed to read plugin module: %w", err)
	}

	runtimeConfig := wazero.NewRuntimeConfig().
		WithMemoryLimitPages(memoryLimitPages).
		WithCloseOnContextDone(true)
	runtime := wazero.NewRuntimeWithConfig(ctx, runtimeConfig)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	// Host functions available to the guest, gated by declared capability.
	builder := runtime.NewHostModuleBuilder("env")
	registerHostFunctions(builder, plugin, capabilities)
	if _, err := builder.Instantiate(ctx); err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate host module: %w", err)
	}

	moduleConfig := wazero.NewModuleConfig().
		WithName(plugin).
		WithStartFunctions("_initialize", "_start")
	module, err := runtime.InstantiateWithConfig(ctx, wasmBytes, moduleConfig)
	if err != nil {
		runtime.Close(ctx)
		return nil, fmt.Errorf("failed to instantiate plugin module: %w", err)
	}

	if module.Memory() == nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, errors.New("plugin module does not export memory")
	}
	malloc := module.ExportedFunction("malloc")
	if malloc == nil {
		module.Close(ctx)
		runtime.Close(ctx)
		return nil, errors.New("plugin module does not export malloc")
	}

	return &Host{
		plugin:  plugin,
		runtime: runtime,
		module:  module,
		malloc:  malloc,
		timeout: defaultTimeout,
	}, nil
}

// InvokeHook writes the event frame into guest memory, calls the hook
// export, and decodes its result frame. A missing export is an error: hooks
// are declared in metadata, so the module must provide them.
func (h *Host) InvokeHook(ctx context.Context, export string, event any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	fn := h.module.ExportedFunction(export)
	if fn == nil {
		return fmt.Errorf("plugin %s does not export hook %s", h.plugin, export)
	}

	frame, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode hook event: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ptrRes, err := h.malloc.Call(callCtx, uint64(len(frame)))
	if err != nil {
		return fmt.Errorf("guest allocation failed: %w", err)
	}
	ptr := uint32(ptrRes[0])
	if !h.module.Memory().Write(ptr, frame) {
		return fmt.Errorf("failed to write hook event into guest memory")
	}

	results, err := fn.Call(callCtx, uint64(ptr), uint64(len(frame)))
	if err != nil {
		return fmt.Errorf("hook %s failed: %w", export, err)
	}
	if len(results) == 0 || results[0] == 0 {
		return nil
	}

	// The result is packed as ptr<<32 | len pointing at a JSON frame.
	packed := results[0]
	resPtr := uint32(packed >> 32)
	resLen := uint32(packed)
	data, ok := h.module.Memory().Read(resPtr, resLen)
	if !ok {
		return fmt.Errorf("hook %s returned an unreadable result frame", export)
	}
	var result hookResult
	if err := json.Unmarshal(data, &result); err != nil {
		return fmt.Errorf("hook %s returned a malformed result frame: %w", export, err)
	}
	if !result.OK {
		return fmt.Errorf("hook %s reported failure: %s", export, result.Error)
	}
	return nil
}

// Close tears down the module and its runtime.
func (h *Host) Close(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.module.Close(ctx); err != nil {
		return err
	}
	return h.runtime.Close(ctx)
}

// Pool caches one host per plugin so repeated hook invocations reuse the
// instantiated module.
type Pool struct {
	mu    sync.Mutex
	hosts map[string]*Host
}

// NewPool creates an empty host pool.
func NewPool() *Pool {
	return &Pool{hosts: make(map[string]*Host)}
}

// Get returns the cached host for the plugin, instantiating it on first use.
func (p *Pool) Get(ctx context.Context, plugin, entrypoint string, capabilities []string) (*Host, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.hosts[plugin]; ok {
		return h, nil
	}
	h, err := New(ctx, plugin, entrypoint, capabilities)
	if err != nil {
		return nil, err
	}
	p.hosts[plugin] = h
	return h, nil
}

// Evict closes and drops the plugin's host, if present.
func (p *Pool) Evict(ctx context.Context, plugin string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.hosts[plugin]; ok {
		_ = h.Close(ctx)
		delete(p.hosts, plugin)
	}
}

// Close tears down every cached host.
func (p *Pool) Close(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for name, h := range p.hosts {
		_ = h.Close(ctx)
		delete(p.hosts, name)
	}
}

// registerHostFunctions exposes capability-gated helpers to the guest.
// Capabilities are validated at registration time; a call without the
// backing capability fails with a nonzero status.
func registerHostFunctions(builder wazero.HostModuleBuilder, plugin string, capabilities []string) {
	granted := make(map[string]bool, len(capabilities))
	for _, c := range capabilities {
		granted[c] = true
	}

	// env_read copies an environment variable into guest memory. Requires
	// the env:read capability.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, outPtr, outCap uint32) uint32 {
			if !granted["env:read"] {
				return 1
			}
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return 1
			}
			value := os.Getenv(string(nameBytes))
			if uint32(len(value)) > outCap {
				return 1
			}
			if !mod.Memory().Write(outPtr, []byte(value)) {
				return 1
			}
			return 0
		}).
		Export("env_read")

	// write_temp_file writes a scratch file under the host temp directory.
	// Requires the fs:temp capability.
	builder.NewFunctionBuilder().
		WithFunc(func(ctx context.Context, mod api.Module, namePtr, nameLen, dataPtr, dataLen uint32) uint32 {
			if !granted["fs:temp"] {
				return 1
			}
			nameBytes, ok := mod.Memory().Read(namePtr, nameLen)
			if !ok {
				return 1
			}
			data, ok := mod.Memory().Read(dataPtr, dataLen)
			if !ok {
				return 1
			}
			path, err := tempFilePath(plugin, string(nameBytes))
			if err != nil {
				return 1
			}
			if err := os.WriteFile(path, data, 0o600); err != nil {
				return 1
			}
			return 0
		}).
		Export("write_temp_file")
}

// tempFilePath confines guest scratch files to a per-plugin directory.
func tempFilePath(plugin, name string) (string, error) {
	dir := os.TempDir() + string(os.PathSeparator) + "bijux-plugin-" + plugin
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	if name == "" || name == "." || name == ".." {
		return "", fmt.Errorf("invalid scratch file name %q", name)
	}
	for _, r := range name {
		if r == '/' || r == '\\' {
			return "", fmt.Errorf("invalid scratch file name %q", name)
		}
	}
	return dir + string(os.PathSeparator) + name, nil
}
