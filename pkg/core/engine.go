package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// Well-known contract names registered by the bootstrap. Plugins may not
// shadow any of these.
const (
	ContractSerializer = "serializer"
	ContractHistory    = "history"
	ContractMemory     = "memory"
	ContractAudit      = "audit"
	ContractPlugins    = "plugins"
	ContractTelemetry  = "telemetry"

	// commandContractPrefix namespaces command handler contracts.
	commandContractPrefix = "command."
)

// CommandContract returns the kernel contract name for a command path.
func CommandContract(path string) string {
	return commandContractPrefix + path
}

// Handler executes one command invocation and returns its payload.
type Handler interface {
	Execute(ctx context.Context, ectx ExecutionContext, args []string) (any, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ectx ExecutionContext, args []string) (any, error)

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
	return f(ctx, ectx, args)
}

// Renderer encodes payloads and envelopes for output. Implemented by the
// serializer service; the engine resolves it through the kernel.
type Renderer interface {
	Encode(v any, format OutputFormat, pretty bool) ([]byte, error)
}

// Flusher is implemented by telemetry sinks that buffer events.
type Flusher interface {
	Flush(ctx context.Context) error
}

// HookStage identifies when a hook runs relative to the command body.
type HookStage string

const (
	// HookPreDispatch runs before the command handler.
	HookPreDispatch HookStage = "pre-dispatch"

	// HookPostDispatch runs after the command handler, regardless of its
	// outcome.
	HookPostDispatch HookStage = "post-dispatch"
)

// HookEvent is the payload handed to dispatch hooks.
type HookEvent struct {
	// Stage is pre- or post-dispatch.
	Stage HookStage `json:"stage"`

	// Command is the command path being dispatched.
	Command string `json:"command"`

	// Args are the command arguments.
	Args []string `json:"args"`

	// Err is the command error, set only for post-dispatch hooks.
	Err string `json:"error,omitempty"`
}

// Hook is a plugin-registered dispatch hook. Hooks run in registration
// order; a non-critical hook failure is recorded and swallowed, a critical
// one aborts the command.
type Hook struct {
	// Name identifies the hook for diagnostics.
	Name string

	// Plugin is the owning plugin.
	Plugin string

	// Stage selects pre- or post-dispatch execution.
	Stage HookStage

	// Critical aborts the dispatch when the hook fails.
	Critical bool

	// Fn is the hook body.
	Fn func(ctx context.Context, ev HookEvent) error
}

// Envelope is the normalized error payload emitted once per failing
// invocation. Every field is set before emission.
type Envelope struct {
	Error   string `json:"error" yaml:"error"`
	Code    int    `json:"code" yaml:"code"`
	Failure string `json:"failure" yaml:"failure"`
	Command string `json:"command" yaml:"command"`
	Fmt     string `json:"fmt" yaml:"fmt"`
}

// internalMessage is the stable, non-leaking message rendered for internal
// errors outside debug mode.
const internalMessage = "internal error"

// NewEnvelope normalizes an error into an envelope. Under debug the message
// carries the full error chain; otherwise internal errors render a stable
// message while the cause still selects the failure string and exit code.
func NewEnvelope(err error, command string, ectx ExecutionContext) Envelope {
	env := Envelope{
		Code:    ExitCodeFor(err),
		Command: command,
		Fmt:     string(ectx.Format),
	}

	var cerr *Error
	if errors.As(err, &cerr) {
		env.Failure = cerr.Failure
		if cerr.Command != "" {
			env.Command = cerr.Command
		}
		if ectx.Debug {
			env.Error = cerr.Error()
		} else if cerr.Kind == KindInternal {
			env.Error = internalMessage
		} else {
			env.Error = cerr.Message
		}
		return env
	}

	env.Failure = FailUnexpected
	if ectx.Debug {
		env.Error = err.Error()
	} else {
		env.Error = internalMessage
	}
	return env
}

// Engine owns the kernel, the hook lists, and the dispatch loop. One engine
// serves one process invocation.
type Engine struct {
	kernel *Kernel
	logger zerolog.Logger

	stdout io.Writer
	stderr io.Writer

	// hooks keyed by stage, in registration order.
	hooks map[HookStage][]Hook

	// observer is notified of dispatch outcomes; nil disables it.
	observer DispatchObserver
}

// DispatchObserver receives dispatch telemetry. Implemented by
// pkg/telemetry; kept as an interface so the engine stays free of metric
// wiring.
type DispatchObserver interface {
	CommandDispatched(command string, code int, took time.Duration)
	HookFailed(plugin, hook string)
}

// errorObserver is optionally implemented by dispatch observers that also
// track error taxonomy counters.
type errorObserver interface {
	RecordError(kind, failure string)
}

// EngineOption tunes engine construction.
type EngineOption func(*Engine)

// WithObserver attaches a dispatch observer.
func WithObserver(obs DispatchObserver) EngineOption {
	return func(e *Engine) { e.observer = obs }
}

// NewEngine creates an engine over the given kernel.
func NewEngine(kernel *Kernel, logger zerolog.Logger, stdout, stderr io.Writer, opts ...EngineOption) *Engine {
	e := &Engine{
		kernel: kernel,
		logger: logger.With().Str("component", "engine").Logger(),
		stdout: stdout,
		stderr: stderr,
		hooks:  make(map[HookStage][]Hook),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Kernel returns the engine's kernel.
func (e *Engine) Kernel() *Kernel {
	return e.kernel
}

// AddHook appends a dispatch hook. Hooks run in registration order.
func (e *Engine) AddHook(h Hook) {
	e.hooks[h.Stage] = append(e.hooks[h.Stage], h)
}

// RemoveHooks drops every hook owned by the named plugin.
func (e *Engine) RemoveHooks(plugin string) {
	for stage, hooks := range e.hooks {
		kept := hooks[:0]
		for _, h := range hooks {
			if h.Plugin != plugin {
				kept = append(kept, h)
			}
		}
		e.hooks[stage] = kept
	}
}

// Dispatch resolves and executes the command, normalizes its outcome, and
// renders it according to the execution context. It returns the process exit
// code; every path runs the cleanup phase.
func (e *Engine) Dispatch(ctx context.Context, command string, ectx ExecutionContext, args []string) int {
	started := time.Now()
	scope := e.kernel.NewScope()

	var code int
	defer func() {
		// Cleanup runs on every exit path: scoped instances first, then the
		// telemetry flush.
		if err := scope.Close(); err != nil {
			e.logger.Warn().Err(err).Str("command", command).Msg("scope cleanup failed")
		}
		e.flushTelemetry(ctx)
		if e.observer != nil {
			e.observer.CommandDispatched(command, code, time.Since(started))
		}
	}()

	// Help short-circuits everything, including invalid flags.
	if ectx.Help {
		code = ExitOK
		return code
	}

	// An invalid --format value deferred by the resolver becomes a usage
	// error here, unless quiet suppressed the invocation's output entirely.
	if !ectx.FormatValid {
		err := NewUsageError(
			fmt.Sprintf("invalid format %q: expected json or yaml", ectx.FormatRaw), nil,
		).WithFailure(FailInvalidFormat).WithCommand(command)
		code = e.emitError(err, command, ectx)
		return code
	}

	payload, err := e.run(ctx, command, ectx, args, scope)
	if err != nil {
		code = e.emitError(err, command, ectx)
		return code
	}

	code = ExitOK
	if payload != nil && !ectx.Quiet {
		if renderErr := e.renderPayload(payload, ectx); renderErr != nil {
			code = e.emitError(renderErr, command, ectx)
		}
	}
	return code
}

// run executes the pre-hooks, the handler, and the post-hooks.
func (e *Engine) run(ctx context.Context, command string, ectx ExecutionContext, args []string, scope *Scope) (payload any, err error) {
	instance, err := scope.Resolve(CommandContract(command))
	if err != nil {
		return nil, err
	}
	handler, ok := instance.(Handler)
	if !ok {
		return nil, NewInternalError(
			fmt.Sprintf("contract %s does not implement the command handler interface", CommandContract(command)), nil)
	}

	if err := e.runHooks(ctx, HookPreDispatch, HookEvent{
		Stage:   HookPreDispatch,
		Command: command,
		Args:    args,
	}); err != nil {
		return nil, err
	}

	// A panicking command must still produce exactly one envelope.
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = NewInternalError(fmt.Sprintf("command %s panicked: %v", command, r), nil)
			}
		}()
		payload, err = handler.Execute(ctx, ectx, args)
	}()

	post := HookEvent{Stage: HookPostDispatch, Command: command, Args: args}
	if err != nil {
		post.Err = err.Error()
	}
	if hookErr := e.runHooks(ctx, HookPostDispatch, post); hookErr != nil && err == nil {
		err = hookErr
	}
	return payload, err
}

// runHooks invokes the stage's hooks in registration order. Non-critical
// failures are recorded and swallowed; a critical failure aborts.
func (e *Engine) runHooks(ctx context.Context, stage HookStage, ev HookEvent) error {
	for _, h := range e.hooks[stage] {
		if err := h.Fn(ctx, ev); err != nil {
			if e.observer != nil {
				e.observer.HookFailed(h.Plugin, h.Name)
			}
			if h.Critical {
				return NewPluginHookError(
					fmt.Sprintf("critical hook %s of plugin %s failed", h.Name, h.Plugin), err)
			}
			e.logger.Warn().Err(err).
				Str("plugin", h.Plugin).
				Str("hook", h.Name).
				Str("stage", string(stage)).
				Msg("plugin hook failed")
		}
	}
	return nil
}

// emitError renders exactly one envelope to the diagnostic stream and
// returns the exit code. Quiet suppresses the rendering but never the code.
func (e *Engine) emitError(err error, command string, ectx ExecutionContext) int {
	env := NewEnvelope(err, command, ectx)
	if obs, ok := e.observer.(errorObserver); ok {
		obs.RecordError(string(KindOf(err)), env.Failure)
	}
	if ectx.Quiet {
		return env.Code
	}

	renderer, rerr := e.renderer()
	if rerr != nil {
		fmt.Fprintf(e.stderr, "%s\n", env.Error)
		return env.Code
	}
	data, rerr := renderer.Encode(env, ectx.Format, ectx.Pretty)
	if rerr != nil {
		fmt.Fprintf(e.stderr, "%s\n", env.Error)
		return ExitEncoding
	}
	fmt.Fprintf(e.stderr, "%s\n", data)
	return env.Code
}

// renderPayload writes the command payload to the primary stream.
func (e *Engine) renderPayload(payload any, ectx ExecutionContext) error {
	renderer, err := e.renderer()
	if err != nil {
		return err
	}
	data, err := renderer.Encode(payload, ectx.Format, ectx.Pretty)
	if err != nil {
		return NewEncodingError("failed to encode payload", err)
	}
	fmt.Fprintf(e.stdout, "%s\n", data)
	return nil
}

func (e *Engine) renderer() (Renderer, error) {
	instance, err := e.kernel.Resolve(ContractSerializer)
	if err != nil {
		return nil, err
	}
	renderer, ok := instance.(Renderer)
	if !ok {
		return nil, NewInternalError("serializer contract does not implement Renderer", nil)
	}
	return renderer, nil
}

func (e *Engine) flushTelemetry(ctx context.Context) {
	instance, err := e.kernel.Resolve(ContractTelemetry)
	if err != nil {
		return
	}
	if flusher, ok := instance.(Flusher); ok {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := flusher.Flush(flushCtx); err != nil {
			e.logger.Debug().Err(err).Msg("telemetry flush failed")
		}
	}
}
