package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
)

func newConfigCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage persistent settings",
		Long: `Manage the settings file. Environment variables (BIJUXCLI_*) always
override file values at resolution time.`,
	}

	rt.addHandler("config get", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		value, ok := rt.cfg.Get(args[0])
		if !ok {
			return nil, core.NewNotFoundError(
				fmt.Sprintf("config key not found: %s", args[0]), nil,
			).WithFailure(core.FailKeyNotFound)
		}
		return map[string]any{"key": args[0], "value": value}, nil
	})
	getCmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Read one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "config get", args)
		},
	}

	rt.addHandler("config set", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		if err := rt.cfg.Set(args[0], args[1]); err != nil {
			return nil, err
		}
		return map[string]any{"key": args[0], "value": args[1]}, nil
	})
	setCmd := &cobra.Command{
		Use:   "set <key> <value>",
		Short: "Write one setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "config set", args)
		},
	}

	rt.addHandler("config unset", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		if err := rt.cfg.Unset(args[0]); err != nil {
			return nil, err
		}
		return map[string]any{"key": args[0], "removed": true}, nil
	})
	unsetCmd := &cobra.Command{
		Use:   "unset <key>",
		Short: "Remove one setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "config unset", args)
		},
	}

	rt.addHandler("config list", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		settings, err := rt.cfg.Settings()
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"file":     rt.cfg.FilePath(),
			"values":   rt.cfg.All(),
			"resolved": settings,
		}, nil
	})
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "Show every setting and the resolved values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "config list", args)
		},
	}

	cmd.AddCommand(getCmd, setCmd, unsetCmd, listCmd)
	return cmd
}
