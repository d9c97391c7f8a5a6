package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// jsonRenderer is a minimal Renderer for engine tests.
type jsonRenderer struct {
	failWith error
}

func (r *jsonRenderer) Encode(v any, format OutputFormat, pretty bool) ([]byte, error) {
	if r.failWith != nil {
		return nil, r.failWith
	}
	return json.Marshal(v)
}

// testEngine wires an engine with a stub renderer and captured streams.
func testEngine(t *testing.T) (*Engine, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	k := NewKernel(zerolog.Nop())
	if err := k.Register(ContractSerializer, func(*Kernel) (any, error) {
		return &jsonRenderer{}, nil
	}, Singleton); err != nil {
		t.Fatalf("failed to register serializer: %v", err)
	}

	var stdout, stderr bytes.Buffer
	e := NewEngine(k, zerolog.Nop(), &stdout, &stderr)
	return e, &stdout, &stderr
}

// registerHandler binds a handler under the command contract.
func registerHandler(t *testing.T, e *Engine, command string, h HandlerFunc) {
	t.Helper()
	err := e.Kernel().Register(CommandContract(command), func(*Kernel) (any, error) {
		return h, nil
	}, Transient)
	if err != nil {
		t.Fatalf("failed to register handler: %v", err)
	}
}

// TestDispatchSuccess verifies a successful command renders its payload to
// stdout and exits 0.
func TestDispatchSuccess(t *testing.T) {
	e, stdout, stderr := testEngine(t)
	registerHandler(t, e, "version", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return map[string]string{"version": "1.0.0"}, nil
	})

	code := e.Dispatch(context.Background(), "version", Resolve(RawOptions{}), nil)
	if code != ExitOK {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !strings.Contains(stdout.String(), `"version":"1.0.0"`) {
		t.Errorf("expected payload on stdout, got %q", stdout.String())
	}
	if stderr.Len() != 0 {
		t.Errorf("expected empty stderr, got %q", stderr.String())
	}
}

// TestDispatchUsageError verifies a usage failure emits one envelope on
// stderr and exits 2.
func TestDispatchUsageError(t *testing.T) {
	e, stdout, stderr := testEngine(t)
	registerHandler(t, e, "broken", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return nil, NewUsageError("missing argument", nil)
	})

	code := e.Dispatch(context.Background(), "broken", Resolve(RawOptions{}), nil)
	if code != ExitUsage {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if stdout.Len() != 0 {
		t.Errorf("expected empty stdout, got %q", stdout.String())
	}

	var env Envelope
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("stderr is not one JSON envelope: %v", err)
	}
	if env.Code != ExitUsage || env.Failure != FailValidation || env.Command != "broken" {
		t.Errorf("unexpected envelope %+v", env)
	}
}

// TestDispatchQuiet verifies quiet suppresses both streams but keeps the
// exit code.
func TestDispatchQuiet(t *testing.T) {
	e, stdout, stderr := testEngine(t)
	registerHandler(t, e, "broken", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return nil, NewUsageError("missing argument", nil)
	})

	code := e.Dispatch(context.Background(), "broken", Resolve(RawOptions{Quiet: true}), nil)
	if code != ExitUsage {
		t.Fatalf("expected exit 2 under quiet, got %d", code)
	}
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Errorf("expected no output under quiet, got stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

// TestDispatchHelp verifies help short-circuits everything, including a
// deferred invalid format, and exits 0.
func TestDispatchHelp(t *testing.T) {
	e, stdout, stderr := testEngine(t)

	code := e.Dispatch(context.Background(), "anything",
		Resolve(RawOptions{Help: true, Format: "xml", FormatSet: true}), nil)
	if code != ExitOK {
		t.Fatalf("expected exit 0 under help, got %d", code)
	}
	if stdout.Len() != 0 || stderr.Len() != 0 {
		t.Errorf("expected the engine to emit nothing for help, got stdout=%q stderr=%q", stdout.String(), stderr.String())
	}
}

// TestDispatchInvalidFormat verifies the deferred invalid format becomes a
// usage error at dispatch time.
func TestDispatchInvalidFormat(t *testing.T) {
	e, _, stderr := testEngine(t)
	registerHandler(t, e, "version", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		t.Error("handler must not run with an invalid format")
		return nil, nil
	})

	code := e.Dispatch(context.Background(), "version",
		Resolve(RawOptions{Format: "xml", FormatSet: true}), nil)
	if code != ExitUsage {
		t.Fatalf("expected exit 2, got %d", code)
	}
	var env Envelope
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("stderr is not one JSON envelope: %v", err)
	}
	if env.Failure != FailInvalidFormat {
		t.Errorf("expected failure %s, got %s", FailInvalidFormat, env.Failure)
	}
}

// TestDispatchPanicRecovery verifies a panicking handler yields exactly one
// internal-error envelope.
func TestDispatchPanicRecovery(t *testing.T) {
	e, _, stderr := testEngine(t)
	registerHandler(t, e, "boom", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		panic("kaboom")
	})

	code := e.Dispatch(context.Background(), "boom", Resolve(RawOptions{}), nil)
	if code != ExitInternal {
		t.Fatalf("expected exit 1, got %d", code)
	}
	if got := strings.Count(stderr.String(), "\n"); got != 1 {
		t.Errorf("expected exactly one envelope line, got %d: %q", got, stderr.String())
	}
}

// TestInternalMessageHiddenOutsideDebug verifies internal errors render a
// stable message unless debug is set.
func TestInternalMessageHiddenOutsideDebug(t *testing.T) {
	e, _, stderr := testEngine(t)
	registerHandler(t, e, "leaky", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return nil, NewInternalError("secret connection string", nil)
	})

	e.Dispatch(context.Background(), "leaky", Resolve(RawOptions{}), nil)
	if strings.Contains(stderr.String(), "secret connection string") {
		t.Errorf("expected the internal message to be hidden, got %q", stderr.String())
	}

	stderr.Reset()
	e.Dispatch(context.Background(), "leaky", Resolve(RawOptions{Debug: true}), nil)
	if !strings.Contains(stderr.String(), "secret connection string") {
		t.Errorf("expected the full message under debug, got %q", stderr.String())
	}
}

// TestHookOrderingAndFailureModes verifies hooks run in registration order,
// non-critical failures are swallowed, and critical ones abort.
func TestHookOrderingAndFailureModes(t *testing.T) {
	e, _, _ := testEngine(t)
	var order []string
	registerHandler(t, e, "cmd", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		order = append(order, "handler")
		return nil, nil
	})

	e.AddHook(Hook{
		Name: "first", Plugin: "p", Stage: HookPreDispatch,
		Fn: func(ctx context.Context, ev HookEvent) error {
			order = append(order, "pre-1")
			return errors.New("non-critical failure")
		},
	})
	e.AddHook(Hook{
		Name: "second", Plugin: "p", Stage: HookPreDispatch,
		Fn: func(ctx context.Context, ev HookEvent) error {
			order = append(order, "pre-2")
			return nil
		},
	})
	e.AddHook(Hook{
		Name: "after", Plugin: "p", Stage: HookPostDispatch,
		Fn: func(ctx context.Context, ev HookEvent) error {
			order = append(order, "post")
			return nil
		},
	})

	code := e.Dispatch(context.Background(), "cmd", Resolve(RawOptions{}), nil)
	if code != ExitOK {
		t.Fatalf("expected a non-critical hook failure to be swallowed, got exit %d", code)
	}
	want := []string{"pre-1", "pre-2", "handler", "post"}
	if len(order) != len(want) {
		t.Fatalf("expected order %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("expected order %v, got %v", want, order)
		}
	}
}

// TestCriticalHookAborts verifies a critical pre-dispatch failure skips the
// handler and exits nonzero.
func TestCriticalHookAborts(t *testing.T) {
	e, _, stderr := testEngine(t)
	registerHandler(t, e, "cmd", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		t.Error("handler must not run after a critical hook failure")
		return nil, nil
	})
	e.AddHook(Hook{
		Name: "guard", Plugin: "p", Stage: HookPreDispatch, Critical: true,
		Fn: func(ctx context.Context, ev HookEvent) error {
			return errors.New("denied")
		},
	})

	code := e.Dispatch(context.Background(), "cmd", Resolve(RawOptions{}), nil)
	if code != ExitInternal {
		t.Fatalf("expected exit 1, got %d", code)
	}
	var env Envelope
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("stderr is not one JSON envelope: %v", err)
	}
	if env.Failure != FailPluginHook {
		t.Errorf("expected failure %s, got %s", FailPluginHook, env.Failure)
	}
}

// TestPostHookSeesCommandError verifies post-dispatch hooks receive the
// command error and run even when the handler failed.
func TestPostHookSeesCommandError(t *testing.T) {
	e, _, _ := testEngine(t)
	registerHandler(t, e, "cmd", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return nil, NewValidationError("bad input", nil)
	})

	var seen string
	e.AddHook(Hook{
		Name: "observer", Plugin: "p", Stage: HookPostDispatch,
		Fn: func(ctx context.Context, ev HookEvent) error {
			seen = ev.Err
			return nil
		},
	})

	e.Dispatch(context.Background(), "cmd", Resolve(RawOptions{}), nil)
	if !strings.Contains(seen, "bad input") {
		t.Errorf("expected the post hook to see the command error, got %q", seen)
	}
}

// TestRemoveHooks verifies uninstall-time hook removal by plugin name.
func TestRemoveHooks(t *testing.T) {
	e, _, _ := testEngine(t)
	registerHandler(t, e, "cmd", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return nil, nil
	})

	ran := false
	e.AddHook(Hook{
		Name: "gone", Plugin: "removed", Stage: HookPreDispatch,
		Fn: func(ctx context.Context, ev HookEvent) error {
			ran = true
			return nil
		},
	})
	e.RemoveHooks("removed")

	e.Dispatch(context.Background(), "cmd", Resolve(RawOptions{}), nil)
	if ran {
		t.Error("expected the removed hook not to run")
	}
}

// recordingObserver captures dispatch notifications.
type recordingObserver struct {
	commands []string
	codes    []int
	hooks    []string
	errs     []string
}

func (o *recordingObserver) CommandDispatched(command string, code int, took time.Duration) {
	o.commands = append(o.commands, command)
	o.codes = append(o.codes, code)
}

func (o *recordingObserver) HookFailed(plugin, hook string) {
	o.hooks = append(o.hooks, plugin+"/"+hook)
}

func (o *recordingObserver) RecordError(kind, failure string) {
	o.errs = append(o.errs, kind+"/"+failure)
}

// TestDispatchObserver verifies the observer sees the command outcome and
// failed hooks.
func TestDispatchObserver(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	if err := k.Register(ContractSerializer, func(*Kernel) (any, error) {
		return &jsonRenderer{}, nil
	}, Singleton); err != nil {
		t.Fatalf("failed to register serializer: %v", err)
	}
	obs := &recordingObserver{}
	var stdout, stderr bytes.Buffer
	e := NewEngine(k, zerolog.Nop(), &stdout, &stderr, WithObserver(obs))
	registerHandler(t, e, "cmd", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return nil, nil
	})
	e.AddHook(Hook{
		Name: "flaky", Plugin: "p", Stage: HookPostDispatch,
		Fn: func(ctx context.Context, ev HookEvent) error {
			return errors.New("hook error")
		},
	})

	e.Dispatch(context.Background(), "cmd", Resolve(RawOptions{}), nil)
	if len(obs.commands) != 1 || obs.commands[0] != "cmd" || obs.codes[0] != ExitOK {
		t.Errorf("unexpected observer state %+v", obs)
	}
	if len(obs.hooks) != 1 || obs.hooks[0] != "p/flaky" {
		t.Errorf("expected the failed hook to be observed, got %v", obs.hooks)
	}

	e.Dispatch(context.Background(), "cmd", Resolve(RawOptions{Format: "xml", FormatSet: true}), nil)
	if len(obs.errs) != 1 || obs.errs[0] != "usage/invalid_format" {
		t.Errorf("expected the usage error to be observed, got %v", obs.errs)
	}
}

// TestEncodingFailureExitCode verifies a renderer failure maps to exit 3.
func TestEncodingFailureExitCode(t *testing.T) {
	k := NewKernel(zerolog.Nop())
	if err := k.Register(ContractSerializer, func(*Kernel) (any, error) {
		return &jsonRenderer{failWith: errors.New("cannot encode")}, nil
	}, Singleton); err != nil {
		t.Fatalf("failed to register serializer: %v", err)
	}
	var stdout, stderr bytes.Buffer
	e := NewEngine(k, zerolog.Nop(), &stdout, &stderr)
	registerHandler(t, e, "cmd", func(ctx context.Context, ectx ExecutionContext, args []string) (any, error) {
		return map[string]string{"k": "v"}, nil
	})

	code := e.Dispatch(context.Background(), "cmd", Resolve(RawOptions{}), nil)
	if code != ExitEncoding {
		t.Fatalf("expected exit 3, got %d", code)
	}
}

// TestUnknownCommandContract verifies dispatching an unregistered command
// fails with the unregistered-contract failure.
func TestUnknownCommandContract(t *testing.T) {
	e, _, stderr := testEngine(t)

	code := e.Dispatch(context.Background(), "ghost", Resolve(RawOptions{}), nil)
	if code != ExitInternal {
		t.Fatalf("expected exit 1, got %d", code)
	}
	var env Envelope
	if err := json.Unmarshal(stderr.Bytes(), &env); err != nil {
		t.Fatalf("stderr is not one JSON envelope: %v", err)
	}
	if env.Failure != FailUnregisteredContract {
		t.Errorf("expected failure %s, got %s", FailUnregisteredContract, env.Failure)
	}
}
