package commands

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/config"
	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/history"
	"github.com/bijux/bijux-cli/pkg/plugins"
	"github.com/bijux/bijux-cli/pkg/policy"
	"github.com/bijux/bijux-cli/pkg/serializer"
	"github.com/bijux/bijux-cli/pkg/stores"
	"github.com/bijux/bijux-cli/pkg/telemetry"
)

// historyLockTimeout bounds the wait for the cross-process history lock.
const historyLockTimeout = 5 * time.Second

// buildInfo carries the ldflags-injected version identifiers.
type buildInfo struct {
	Version   string
	Commit    string
	BuildDate string
}

// runtime is the per-invocation wiring: resolved options, kernel, engine,
// and the services registered on it. Built once in the root command's
// PersistentPreRunE, after flags are parsed.
type runtimeState struct {
	build    buildInfo
	ectx     core.ExecutionContext
	cfg      *config.Config
	settings config.Settings
	logger   zerolog.Logger
	kernel   *core.Kernel
	engine   *core.Engine
	metrics  *telemetry.Metrics
	emitter  *telemetry.Emitter
	tracer   *telemetry.Tracer
	manager  *plugins.Manager
	history  *history.Store

	// store is shared by the memory and audit contracts, opened on first use.
	storeOnce sync.Once
	store     *stores.SQLiteStore
	storeErr  error

	// commands maps command paths to handlers. Populated while the cobra
	// tree is built, registered on the kernel at bootstrap.
	commands map[string]core.Handler

	// exit is the code of the last dispatch; Execute returns it.
	exit int
}

// bootstrap resolves configuration, builds the kernel and engine, registers
// every built-in contract and command handler, and activates installed
// plugins. It runs once, after flag parsing.
func (rt *runtimeState) bootstrap(ctx context.Context, build buildInfo, raw core.RawOptions) error {
	rt.build = build
	rt.ectx = core.Resolve(raw)

	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}
	rt.cfg = cfg

	settings, err := cfg.Settings()
	if err != nil {
		return err
	}
	rt.settings = settings

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  settings.LogLevel,
		Format: "console",
		Output: "stderr",
	}, rt.ectx)
	if err != nil {
		return err
	}
	rt.logger = logger

	telemetryCfg := telemetry.DefaultConfig("bijux", build.Version)
	if exporter := os.Getenv(config.EnvTraceExporter); exporter != "" {
		telemetryCfg.Tracing.Enabled = true
		telemetryCfg.Tracing.Exporter = exporter
		telemetryCfg.Tracing.Endpoint = os.Getenv(config.EnvTraceEndpoint)
		telemetryCfg.Tracing.Insecure = true
	}
	if err := telemetryCfg.Validate(); err != nil {
		return err
	}
	metrics, err := telemetry.NewMetrics(telemetryCfg.Metrics)
	if err != nil {
		return err
	}
	rt.metrics = metrics
	rt.emitter = telemetry.NewEmitter(telemetryCfg.Events, nil, logger)

	tracer, err := telemetry.NewTracer(telemetryCfg.Tracing, telemetryCfg.ServiceName, build.Version)
	if err != nil {
		return err
	}
	rt.tracer = tracer

	rt.kernel = core.NewKernel(logger)
	rt.engine = core.NewEngine(rt.kernel, logger, os.Stdout, os.Stderr, core.WithObserver(metrics))
	rt.history = history.NewStore(settings.HistoryPath, historyLockTimeout, logger)

	if err := rt.registerContracts(); err != nil {
		return err
	}
	rt.registerCommands()

	gate, err := policy.NewEngine(logger)
	if err != nil {
		return err
	}
	rt.manager = plugins.NewManager(settings.PluginsDir, rt.kernel, gate, rt.engine, logger)
	for _, diag := range rt.manager.Activate(ctx) {
		logger.Warn().
			Str("path", diag.Path).
			Str("reason", diag.Reason).
			Msg("plugin skipped during activation")
	}
	return nil
}

// registerContracts binds the built-in service contracts.
func (rt *runtimeState) registerContracts() error {
	regs := []struct {
		contract string
		factory  core.Factory
		lifetime core.Lifetime
	}{
		{core.ContractSerializer, func(*core.Kernel) (any, error) {
			return serializer.New(), nil
		}, core.Singleton},
		{core.ContractHistory, func(*core.Kernel) (any, error) {
			return rt.history, nil
		}, core.Singleton},
		{core.ContractMemory, func(*core.Kernel) (any, error) {
			return rt.sharedStore()
		}, core.Singleton},
		{core.ContractAudit, func(*core.Kernel) (any, error) {
			return rt.sharedStore()
		}, core.Singleton},
		{core.ContractTelemetry, func(*core.Kernel) (any, error) {
			return rt.emitter, nil
		}, core.Singleton},
		{core.ContractPlugins, func(*core.Kernel) (any, error) {
			return rt.manager, nil
		}, core.Singleton},
	}
	for _, r := range regs {
		if err := rt.kernel.Register(r.contract, r.factory, r.lifetime); err != nil {
			return err
		}
	}
	return nil
}

// close flushes telemetry and releases the shared store. Run once, after
// the cobra tree returns.
func (rt *runtimeState) close(ctx context.Context) {
	if rt.tracer != nil {
		if err := rt.tracer.Close(ctx); err != nil {
			rt.logger.Debug().Err(err).Msg("failed to flush trace spans")
		}
	}
	if rt.store != nil {
		if err := rt.store.Close(); err != nil {
			rt.logger.Debug().Err(err).Msg("failed to close store")
		}
	}
}

// sharedStore opens and migrates the SQLite store backing the memory and
// audit contracts. Opened once, closed by runtimeState.close.
func (rt *runtimeState) sharedStore() (*stores.SQLiteStore, error) {
	rt.storeOnce.Do(func() {
		if err := os.MkdirAll(filepath.Dir(rt.settings.MemoryDB), 0o755); err != nil {
			rt.storeErr = err
			return
		}
		store, err := stores.NewSQLiteStore(stores.Config{Path: rt.settings.MemoryDB})
		if err != nil {
			rt.storeErr = err
			return
		}
		if err := store.Init(context.Background()); err != nil {
			rt.storeErr = err
			return
		}
		rt.store = store
	})
	return rt.store, rt.storeErr
}

// addHandler records a command handler for kernel registration at bootstrap.
func (rt *runtimeState) addHandler(path string, fn core.HandlerFunc) {
	if rt.commands == nil {
		rt.commands = make(map[string]core.Handler)
	}
	rt.commands[path] = fn
}

// registerCommands binds every recorded command handler contract.
func (rt *runtimeState) registerCommands() {
	for path, handler := range rt.commands {
		h := handler
		_ = rt.kernel.Register(core.CommandContract(path), func(*core.Kernel) (any, error) {
			return h, nil
		}, core.Transient)
	}
}

// dispatch routes one cobra invocation through the engine, then records the
// invocation in the history and audit stores.
func (rt *runtimeState) dispatch(cmd *cobra.Command, command string, args []string) error {
	started := time.Now()
	ctx, endSpan := rt.tracer.Dispatch(cmd.Context(), command)
	code := rt.engine.Dispatch(ctx, command, rt.ectx, args)
	endSpan(code, nil)
	rt.exit = code
	rt.emitter.EmitCommandCompleted(command, code, time.Since(started))
	rt.record(cmd.Context(), command, args, code, time.Since(started))
	return nil
}

// record appends the invocation to history and the audit trail. Both are
// best effort: a recording failure never changes the command's outcome.
func (rt *runtimeState) record(ctx context.Context, command string, args []string, code int, took time.Duration) {
	if strings.HasPrefix(command, "history") {
		// History maintenance commands are not themselves recorded; clearing
		// the store and immediately writing a new record would be surprising.
		return
	}
	ctx = context.WithoutCancel(ctx)

	lockStart := time.Now()
	if _, err := rt.history.Append(ctx, history.Entry{
		Command:       command,
		Args:          args,
		ResultSummary: map[string]any{"exit_code": code},
	}); err != nil {
		var cerr *core.Error
		if errors.As(err, &cerr) && cerr.Failure == core.FailHistoryLocked {
			rt.metrics.RecordHistoryLockTimeout(time.Since(lockStart))
		}
		rt.logger.Debug().Err(err).Str("command", command).Msg("failed to record history entry")
	} else {
		rt.metrics.RecordHistoryAppend(time.Since(lockStart))
	}

	audit, err := rt.sharedStore()
	if err != nil {
		return
	}
	outcome := "success"
	if code != 0 {
		outcome = "failure"
	}
	if err := audit.AppendAudit(ctx, stores.AuditEvent{
		Command:    command,
		Outcome:    outcome,
		ExitCode:   code,
		DurationMS: took.Milliseconds(),
	}); err != nil {
		rt.logger.Debug().Err(err).Str("command", command).Msg("failed to record audit event")
	}
}
