// Package sync provides the sync command, which runs one pass over some
// or all collections and reports how each ended.
package sync

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentstation/rallysync"
	"github.com/agentstation/rallysync/internal/cmd/application"
	"github.com/agentstation/rallysync/internal/cmd/output"
	"github.com/agentstation/rallysync/pkg/errors"
)

// NewCommand creates the sync command.
func NewCommand(app application.Application) *cobra.Command {
	var (
		timeout time.Duration
		reset   bool
	)

	cmd := &cobra.Command{
		Use:     "sync [collection...]",
		GroupID: "core",
		Short:   "Run one sync pass and exit",
		Long: `Sync runs a single pass over the named collections, or over every
enabled collection when none is named, then prints each collection's
status. It exits non-zero when any pass fails.

--reset drops the pull checkpoints first so every document is pulled again.`,
		Example: `  rallysync sync
  rallysync sync teams players
  rallysync sync teams --reset -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			return run(ctx, cmd, app, args, reset)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "Give up after this long (0 waits forever)")
	cmd.Flags().BoolVar(&reset, "reset", false, "Drop pull checkpoints before syncing")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, app application.Application, args []string, reset bool) error {
	engine, err := app.Engine()
	if err != nil {
		return err
	}
	logger := app.Logger()

	names := make([]rallysync.CollectionName, 0, len(args))
	for _, arg := range args {
		names = append(names, rallysync.CollectionName(arg))
	}
	if reset {
		targets := names
		if len(targets) == 0 {
			targets = engine.Collections()
		}
		for _, name := range targets {
			if err := engine.ResetCollection(ctx, name); err != nil {
				return err
			}
		}
	}

	start := time.Now()
	var (
		results map[rallysync.CollectionName]rallysync.SyncStatus
		syncErr error
	)
	if len(names) == 0 {
		results, syncErr = engine.SyncAllCollections(ctx)
	} else {
		results, syncErr = syncNamed(ctx, engine, names)
	}

	statuses := make([]rallysync.SyncStatus, 0, len(results))
	for _, st := range results {
		statuses = append(statuses, st)
	}
	slices.SortFunc(statuses, func(a, b rallysync.SyncStatus) int {
		return cmp.Compare(a.Collection, b.Collection)
	})
	logger.Info().Int("collections", len(statuses)).Dur("elapsed", time.Since(start)).Msg("Sync finished")

	if err := output.Write(cmd.OutOrStdout(), app.OutputFormat(), statuses, func() output.Data {
		return output.StatusesToTableData(statuses)
	}); err != nil {
		return err
	}

	if syncErr != nil {
		failed := 0
		for _, st := range statuses {
			if st.Status == rallysync.StatusError {
				failed++
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d collections failed: %w", failed, len(statuses), syncErr)
		}
		return syncErr
	}
	return nil
}

// syncNamed syncs names one after another. Unknown or disabled names fail
// the command; failed passes are reported with the rest.
func syncNamed(ctx context.Context, engine rallysync.Engine, names []rallysync.CollectionName) (map[rallysync.CollectionName]rallysync.SyncStatus, error) {
	results := make(map[rallysync.CollectionName]rallysync.SyncStatus, len(names))
	var errs []error
	for _, name := range names {
		st, err := engine.SyncCollection(ctx, name)
		var syncErr *errors.SyncError
		switch {
		case err == nil:
			results[name] = st
		case errors.As(err, &syncErr):
			results[name] = st
			errs = append(errs, err)
		default:
			return results, err
		}
	}
	return results, errors.Join(errs...)
}
