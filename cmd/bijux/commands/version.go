package commands

import (
	"context"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
)

func newVersionCommand(rt *runtimeState) *cobra.Command {
	rt.addHandler("version", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		return map[string]any{
			"name":       "bijux",
			"version":    rt.build.Version,
			"commit":     rt.build.Commit,
			"build_date": rt.build.BuildDate,
			"go":         runtime.Version(),
			"platform":   runtime.GOOS + "/" + runtime.GOARCH,
		}, nil
	})

	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "version", args)
		},
	}
}
