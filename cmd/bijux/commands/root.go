package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
)

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context, version, commit, buildDate string) int {
	build := buildInfo{Version: version, Commit: commit, BuildDate: buildDate}

	rt := &runtimeState{}
	defer rt.close(context.WithoutCancel(ctx))

	rootCmd := newRootCommand(rt, build)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Flag parse and bootstrap failures never reach the engine; classify
		// them here so the exit code taxonomy still holds.
		fmt.Fprintln(os.Stderr, err)
		return core.ExitCodeFor(err)
	}
	return rt.exit
}

func newRootCommand(rt *runtimeState, build buildInfo) *cobra.Command {
	var raw core.RawOptions

	rootCmd := &cobra.Command{
		Use:   "bijux",
		Short: "Bijux - extensible CLI runtime",
		Long: `Bijux is an extensible command line runtime with a plugin system,
append-only invocation history, and a persistent key-value memory.

Features:
  - WASM plugin bundles with capability gating and dispatch hooks
  - Crash-safe JSONL history shared across processes
  - SQLite-backed memory and audit stores
  - JSON/YAML output with secret redaction`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", build.Version, build.Commit, build.BuildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			raw.FormatSet = cmd.Flags().Changed("format")
			return rt.bootstrap(cmd.Context(), build, raw)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&raw.Quiet, "quiet", "q", false, "suppress all output; exit codes still apply")
	flags.BoolVar(&raw.Debug, "debug", false, "full error detail; implies --verbose and --pretty")
	flags.StringVarP(&raw.Format, "format", "f", "", "output format: json or yaml")
	flags.BoolVar(&raw.Pretty, "pretty", false, "pretty-print output (default)")
	flags.BoolVar(&raw.NoPretty, "no-pretty", false, "compact output")
	flags.BoolVarP(&raw.Verbose, "verbose", "v", false, "verbose diagnostics")

	rootCmd.AddCommand(newVersionCommand(rt))
	rootCmd.AddCommand(newStatusCommand(rt))
	rootCmd.AddCommand(newConfigCommand(rt))
	rootCmd.AddCommand(newMemoryCommand(rt))
	rootCmd.AddCommand(newHistoryCommand(rt))
	rootCmd.AddCommand(newPluginsCommand(rt))
	rootCmd.AddCommand(newAuditCommand(rt))
	rootCmd.AddCommand(newDoctorCommand(rt))
	rootCmd.AddCommand(newDocsCommand(rt))
	rootCmd.AddCommand(newSleepCommand(rt))

	return rootCmd
}
