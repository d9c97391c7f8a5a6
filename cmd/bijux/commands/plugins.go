package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/plugins"
	"github.com/bijux/bijux-cli/pkg/transports/sftp"
)

func newPluginsCommand(rt *runtimeState) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Manage plugin bundles",
	}

	rt.addHandler("plugins list", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		installed, diagnostics := rt.manager.Discover()
		payload := map[string]any{
			"plugins": installed,
			"count":   len(installed),
		}
		if len(diagnostics) > 0 {
			payload["skipped"] = diagnostics
		}
		return payload, nil
	})
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List installed plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "plugins list", args)
		},
	}

	rt.addHandler("plugins info", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		return rt.manager.Get(args[0])
	})
	infoCmd := &cobra.Command{
		Use:   "info <name>",
		Short: "Show one plugin's metadata",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "plugins info", args)
		},
	}

	var force bool
	rt.addHandler("plugins install", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		return rt.manager.Install(ctx, args[0], force)
	})
	installCmd := &cobra.Command{
		Use:   "install <bundle-dir>",
		Short: "Install a plugin bundle",
		Long: `Install a plugin bundle. The bundle is validated against the metadata
schema and the install policies, staged inside the plugin directory, and
atomically renamed into place.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "plugins install", args)
		},
	}
	installCmd.Flags().BoolVar(&force, "force", false, "replace an existing installation")

	rt.addHandler("plugins uninstall", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		if err := rt.manager.Uninstall(ctx, args[0]); err != nil {
			return nil, err
		}
		return map[string]any{"plugin": args[0], "uninstalled": true}, nil
	})
	uninstallCmd := &cobra.Command{
		Use:   "uninstall <name>",
		Short: "Remove an installed plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "plugins uninstall", args)
		},
	}

	rt.addHandler("plugins check", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		report := rt.manager.Check(args[0])
		if !report.Valid {
			return report, core.NewValidationError(
				"plugin bundle failed validation", nil,
			).WithFailure(core.FailValidation)
		}
		return report, nil
	})
	checkCmd := &cobra.Command{
		Use:   "check <name-or-path>",
		Short: "Validate a plugin by installed name or bundle path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "plugins check", args)
		},
	}

	var (
		template string
		destDir  string
	)
	rt.addHandler("plugins scaffold", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		dest := destDir
		if dest == "" {
			dest = "."
		}
		var fetcher plugins.TemplateFetcher
		if f, err := sftp.NewFetcher(nil, rt.logger); err == nil {
			fetcher = f
		} else {
			// Remote templates stay unavailable; local ones still work.
			rt.logger.Debug().Err(err).Msg("sftp fetcher unavailable")
		}
		path, err := rt.manager.Scaffold(ctx, args[0], template, dest, fetcher)
		if err != nil {
			return nil, err
		}
		return map[string]any{"plugin": args[0], "path": path}, nil
	})
	scaffoldCmd := &cobra.Command{
		Use:   "scaffold <name>",
		Short: "Create a plugin skeleton from a template",
		Long: `Create a plugin skeleton from a template. The template is a local
directory or a user@host:/path reference fetched over SFTP; occurrences of
__plugin_name__ in paths and contents are replaced with the plugin name.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "plugins scaffold", args)
		},
	}
	scaffoldCmd.Flags().StringVarP(&template, "template", "t", "", "template directory or user@host:/path reference")
	scaffoldCmd.Flags().StringVar(&destDir, "dest", "", "destination directory (default current directory)")

	cmd.AddCommand(listCmd, infoCmd, installCmd, uninstallCmd, checkCmd, scaffoldCmd)
	return cmd
}
