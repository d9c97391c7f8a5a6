package commands

import (
	"context"
	"errors"
	"sort"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/config"
	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/history"
)

func newStatusCommand(rt *runtimeState) *cobra.Command {
	var watch bool

	rt.addHandler("status", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		installed, diagnostics := rt.manager.Discover()
		pluginNames := make([]string, 0, len(installed))
		for _, desc := range installed {
			pluginNames = append(pluginNames, desc.Name)
		}

		entries, err := rt.history.List(ctx, history.ListOptions{})
		historyCount := len(entries)
		historyOK := err == nil

		contracts := rt.kernel.Contracts()
		sort.Strings(contracts)

		payload := map[string]any{
			"version":     rt.build.Version,
			"config_file": rt.cfg.FilePath(),
			"history": map[string]any{
				"path":    rt.settings.HistoryPath,
				"entries": historyCount,
				"ok":      historyOK,
			},
			"plugins": map[string]any{
				"dir":       rt.settings.PluginsDir,
				"installed": pluginNames,
				"skipped":   len(diagnostics),
			},
			"memory_db": rt.settings.MemoryDB,
			"contracts": contracts,
		}
		if events := rt.emitter.Pending(); len(events) > 0 {
			payload["pending_events"] = len(events)
		}
		return payload, nil
	})

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show runtime status",
		Long: `Show the runtime status: resolved paths, installed plugins, history
health, and registered contracts.

With --watch the command re-renders whenever the settings file changes,
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := rt.dispatch(cmd, "status", args); err != nil || !watch {
				return err
			}
			if rt.exit != 0 {
				return nil
			}
			watcher := config.NewWatcher(rt.cfg.FilePath(), rt.logger)
			err := watcher.Watch(cmd.Context(), func(cfg *config.Config) error {
				rt.cfg = cfg
				settings, err := cfg.Settings()
				if err != nil {
					return err
				}
				rt.settings = settings
				return rt.dispatch(cmd, "status", args)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-render on settings file changes")
	return cmd
}
