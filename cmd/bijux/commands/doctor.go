package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/history"
)

// doctorCheck is one health probe result.
type doctorCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

func newDoctorCommand(rt *runtimeState) *cobra.Command {
	rt.addHandler("doctor", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		checks := []doctorCheck{
			rt.checkConfig(),
			rt.checkHistory(ctx),
			rt.checkPluginsDir(),
			rt.checkStore(ctx),
		}

		healthy := true
		for _, c := range checks {
			if !c.OK {
				healthy = false
			}
		}
		return map[string]any{"healthy": healthy, "checks": checks}, nil
	})

	return &cobra.Command{
		Use:   "doctor",
		Short: "Run environment health checks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "doctor", args)
		},
	}
}

func (rt *runtimeState) checkConfig() doctorCheck {
	check := doctorCheck{Name: "config"}
	if _, err := rt.cfg.Settings(); err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	check.Detail = rt.cfg.FilePath()
	return check
}

func (rt *runtimeState) checkHistory(ctx context.Context) doctorCheck {
	check := doctorCheck{Name: "history"}
	entries, err := rt.history.List(ctx, history.ListOptions{})
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	check.Detail = fmt.Sprintf("%s (%d entries)", rt.settings.HistoryPath, len(entries))
	return check
}

func (rt *runtimeState) checkPluginsDir() doctorCheck {
	check := doctorCheck{Name: "plugins"}
	info, err := os.Stat(rt.settings.PluginsDir)
	switch {
	case os.IsNotExist(err):
		// An absent plugin directory is healthy; it appears on first install.
		check.OK = true
		check.Detail = rt.settings.PluginsDir + " (absent)"
	case err != nil:
		check.Detail = err.Error()
	case !info.IsDir():
		check.Detail = rt.settings.PluginsDir + " is not a directory"
	default:
		check.OK = true
		check.Detail = rt.settings.PluginsDir
	}
	return check
}

func (rt *runtimeState) checkStore(ctx context.Context) doctorCheck {
	check := doctorCheck{Name: "memory_db"}
	if err := os.MkdirAll(filepath.Dir(rt.settings.MemoryDB), 0o755); err != nil {
		check.Detail = err.Error()
		return check
	}
	store, err := rt.sharedStore()
	if err != nil {
		check.Detail = err.Error()
		return check
	}
	if _, err := store.ListMemory(ctx); err != nil {
		check.Detail = err.Error()
		return check
	}
	check.OK = true
	check.Detail = rt.settings.MemoryDB
	return check
}
