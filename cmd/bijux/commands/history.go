package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/history"
)

func newHistoryCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect and maintain the invocation history",
	}

	var (
		filter  string
		sortBy  string
		desc    bool
		limit   int
		groupBy bool
	)

	rt.addHandler("history list", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		opts := history.ListOptions{
			Filter:     filter,
			SortBy:     sortBy,
			Descending: desc,
			Limit:      limit,
		}
		if groupBy {
			groups, err := rt.history.GroupByCommand(ctx, opts)
			if err != nil {
				return nil, err
			}
			return map[string]any{"groups": groups}, nil
		}
		entries, err := rt.history.List(ctx, opts)
		if err != nil {
			return nil, err
		}
		return map[string]any{"entries": entries, "count": len(entries)}, nil
	})
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded invocations",
		Long: `List recorded invocations.

The --filter expression sees each record's command, args, sequence,
timestamp and summary:

  bijux history list --filter 'command == "version" and sequence > 10'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "history list", args)
		},
	}
	listCmd.Flags().StringVar(&filter, "filter", "", "boolean filter expression")
	listCmd.Flags().StringVar(&sortBy, "sort", "sequence", "sort key: sequence, timestamp, or command")
	listCmd.Flags().BoolVar(&desc, "desc", false, "sort in descending order")
	listCmd.Flags().IntVar(&limit, "limit", 0, "maximum entries to return, 0 for all")
	listCmd.Flags().BoolVar(&groupBy, "group-by-command", false, "group the entries by command")

	rt.addHandler("history export", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		if err := rt.history.Export(ctx, args[0]); err != nil {
			return nil, err
		}
		return map[string]any{"exported": args[0]}, nil
	})
	exportCmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the history as a JSON array",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "history export", args)
		},
	}

	rt.addHandler("history import", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		count, err := rt.history.Import(ctx, args[0])
		if err != nil {
			return nil, err
		}
		return map[string]any{"imported": count}, nil
	})
	importCmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import entries from a JSON export",
		Long: `Import entries from a JSON export. The import is all-or-nothing: if any
record fails validation, nothing is appended. Imported entries are
re-sequenced after the current maximum.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "history import", args)
		},
	}

	rt.addHandler("history clear", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		if err := rt.history.Clear(ctx); err != nil {
			return nil, err
		}
		return map[string]any{"cleared": true}, nil
	})
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Remove every recorded invocation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "history clear", args)
		},
	}

	cmd.AddCommand(listCmd, exportCmd, importCmd, clearCmd)
	return cmd
}
