package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
)

func newAuditCommand(rt *runtimeState) *cobra.Command {
	var limit int

	rt.addHandler("audit", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		store, err := rt.sharedStore()
		if err != nil {
			return nil, err
		}
		events, err := store.ListAudit(ctx, limit)
		if err != nil {
			return nil, err
		}
		return map[string]any{"events": events, "count": len(events)}, nil
	})

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the audit trail of past dispatches",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "audit", args)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum events to return")
	return cmd
}
