package history

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/bijux/bijux-cli/pkg/core"
)

// filterTimeout bounds a single predicate evaluation.
const filterTimeout = 2 * time.Second

// Filter is a compiled Starlark predicate over history entries. Each entry
// is exposed to the expression as the bindings command, args, sequence,
// timestamp and summary.
type Filter struct {
	source string
	prog   *starlark.Program
}

// CompileFilter compiles a Starlark boolean expression into a reusable
// predicate.
func CompileFilter(expr string) (*Filter, error) {
	opts := &syntax.FileOptions{}
	f, err := opts.Parse("filter.star", "_result = ("+expr+")", 0)
	if err != nil {
		return nil, core.NewUsageError(fmt.Sprintf("invalid filter expression %q", expr), err)
	}
	prog, err := starlark.FileProgram(f, func(name string) bool {
		switch name {
		case "command", "args", "sequence", "timestamp", "summary":
			return true
		default:
			return false
		}
	})
	if err != nil {
		return nil, core.NewUsageError(fmt.Sprintf("invalid filter expression %q", expr), err)
	}
	return &Filter{source: expr, prog: prog}, nil
}

// Match evaluates the predicate for one entry.
func (f *Filter) Match(ctx context.Context, entry Entry) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, filterTimeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "history-filter",
		Print: func(_ *starlark.Thread, _ string) {
			// Filters have no output channel.
		},
	}
	go func() {
		<-evalCtx.Done()
		thread.Cancel("filter evaluation cancelled")
	}()

	args := starlark.NewList(nil)
	for _, a := range entry.Args {
		if err := args.Append(starlark.String(a)); err != nil {
			return false, fmt.Errorf("failed to build filter bindings: %w", err)
		}
	}
	summary := starlark.NewDict(len(entry.ResultSummary))
	for k, v := range entry.ResultSummary {
		val, err := toStarlarkValue(v)
		if err != nil {
			return false, fmt.Errorf("failed to convert summary value %s: %w", k, err)
		}
		if err := summary.SetKey(starlark.String(k), val); err != nil {
			return false, fmt.Errorf("failed to build filter bindings: %w", err)
		}
	}

	predeclared := starlark.StringDict{
		"command":   starlark.String(entry.Command),
		"args":      args,
		"sequence":  starlark.MakeUint64(entry.Sequence),
		"timestamp": starlark.String(entry.Timestamp),
		"summary":   summary,
	}

	globals, err := f.prog.Init(thread, predeclared)
	if err != nil {
		if evalCtx.Err() != nil {
			return false, core.NewTimeoutError("filter evaluation timed out", err)
		}
		return false, core.NewUsageError(fmt.Sprintf("filter %q failed", f.source), err)
	}
	result, ok := globals["_result"]
	if !ok {
		return false, core.NewInternalError("filter produced no result", nil)
	}
	return bool(result.Truth()), nil
}

// toStarlarkValue converts a decoded JSON value into a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	switch val := v.(type) {
	case nil:
		return starlark.None, nil
	case bool:
		return starlark.Bool(val), nil
	case string:
		return starlark.String(val), nil
	case float64:
		if val == float64(int64(val)) {
			return starlark.MakeInt64(int64(val)), nil
		}
		return starlark.Float(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case uint64:
		return starlark.MakeUint64(val), nil
	case []any:
		list := starlark.NewList(nil)
		for _, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := list.Append(converted); err != nil {
				return nil, err
			}
		}
		return list, nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported filter value type %T", v)
	}
}
