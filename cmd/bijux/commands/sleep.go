package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/bijux/bijux-cli/pkg/core"
	"github.com/bijux/bijux-cli/pkg/retry"
)

// newSleepCommand is a hidden diagnostic command: it runs a do-nothing
// operation under the retry engine, optionally failing the first N attempts,
// so the backoff and exhaustion behavior can be observed end to end.
func newSleepCommand(rt *runtimeState) *cobra.Command {
	var (
		duration time.Duration
		failures int
		attempts int
	)

	rt.addHandler("sleep", func(ctx context.Context, ectx core.ExecutionContext, args []string) (any, error) {
		policy := retry.DefaultPolicy()
		if attempts > 0 {
			policy.MaxAttempts = attempts
		}

		made := 0
		started := time.Now()
		_, err := retry.Do(ctx, policy, func(ctx context.Context) (struct{}, error) {
			made++
			rt.metrics.RecordRetryAttempt("sleep", "attempt")
			if made <= failures {
				return struct{}{}, core.NewInternalError("simulated transient failure", nil).AsTransient()
			}
			timer := time.NewTimer(duration)
			defer timer.Stop()
			select {
			case <-timer.C:
				return struct{}{}, nil
			case <-ctx.Done():
				return struct{}{}, ctx.Err()
			}
		})
		if err != nil {
			rt.metrics.RecordRetryAttempt("sleep", "exhausted")
			return nil, err
		}
		return map[string]any{
			"slept":    duration.String(),
			"attempts": made,
			"took":     time.Since(started).String(),
		}, nil
	})

	cmd := &cobra.Command{
		Use:    "sleep",
		Short:  "Sleep under the retry engine",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.dispatch(cmd, "sleep", args)
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 100*time.Millisecond, "how long to sleep once an attempt succeeds")
	cmd.Flags().IntVar(&failures, "fail", 0, "number of leading attempts to fail")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "override the policy's max attempts")
	return cmd
}
