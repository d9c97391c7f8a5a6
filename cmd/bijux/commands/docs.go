package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"

	"github.com/bijux/bijux-cli/pkg/core"
)

func newDocsCommand(rt *runtimeState) *cobra.Command {
	var outDir string

	rt.addHandler("docs", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		if err := os.MkdirAll(outDir, 0o755); err != nil {
			return nil, err
		}
		// A fresh command tree keeps generation independent of the live
		// runtime's flag state.
		tree := newRootCommand(&runtimeState{}, rt.build)
		tree.DisableAutoGenTag = true
		if err := doc.GenMarkdownTree(tree, outDir); err != nil {
			return nil, core.NewInternalError("failed to generate documentation", err)
		}
		entries, err := os.ReadDir(outDir)
		if err != nil {
			return nil, err
		}
		files := make([]string, 0, len(entries))
		for _, e := range entries {
			if !e.IsDir() {
				files = append(files, e.Name())
			}
		}
		return map[string]any{"dir": outDir, "files": files}, nil
	})

	cmd := &cobra.Command{
		Use:   "docs",
		Short: "Generate Markdown documentation for every command",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "docs", args)
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "docs", "output directory")
	return cmd
}
