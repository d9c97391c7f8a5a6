package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
)

func newMemoryCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Manage the persistent key-value memory",
	}

	rt.addHandler("memory get", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		store, err := rt.sharedStore()
		if err != nil {
			return nil, err
		}
		value, err := store.GetMemory(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return map[string]any{"key": args[0], "value": value}, nil
	})
	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "memory get", args)
		},
	}

	rt.addHandler("memory set", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		store, err := rt.sharedStore()
		if err != nil {
			return nil, err
		}
		if err := store.SetMemory(ctx, args[0], args[1]); err != nil {
			return nil, err
		}
		return map[string]any{"key": args[0], "value": args[1]}, nil
	})
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "memory set", args)
		},
	}

	rt.addHandler("memory del", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		store, err := rt.sharedStore()
		if err != nil {
			return nil, err
		}
		if err := store.DeleteMemory(ctx, args[0]); err != nil {
			return nil, err
		}
		return map[string]any{"key": args[0], "removed": true}, nil
	})
	delCmd := &cobra.Command{
		Use:   "del <key>",
		Short: "Remove one key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "memory del", args)
		},
	}

	rt.addHandler("memory list", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		store, err := rt.sharedStore()
		if err != nil {
			return nil, err
		}
		records, err := store.ListMemory(ctx)
		if err != nil {
			return nil, err
		}
		return map[string]any{"keys": records, "count": len(records)}, nil
	})
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "memory list", args)
		},
	}

	rt.addHandler("memory clear", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		store, err := rt.sharedStore()
		if err != nil {
			return nil, err
		}
		if err := store.ClearMemory(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true}, nil
	})
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "memory clear", args)
		},
	}

	cmd.AddCommand(getCmd, setCmd, delCmd, listCmd, clearCmd)
	return cmd
}
