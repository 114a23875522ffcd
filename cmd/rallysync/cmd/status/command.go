// Package status provides the status command, which reports each
// configured collection's settings and local sync state without
// contacting the remote.
package status

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/agentstation/rallysync/internal/cmd/application"
	"github.com/agentstation/rallysync/internal/cmd/output"
	"github.com/agentstation/rallysync/internal/config"
	"github.com/agentstation/rallysync/internal/matcher"
	"github.com/agentstation/rallysync/pkg/errors"
	"github.com/agentstation/rallysync/pkg/store"
)

// Collection is the status line of one collection.
type Collection struct {
	Name          string `json:"name" yaml:"name"`
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	BatchSize     int    `json:"batch_size" yaml:"batch_size"`
	SyncInterval  string `json:"sync_interval" yaml:"sync_interval"`
	RetryAttempts int    `json:"retry_attempts" yaml:"retry_attempts"`
	Filters       int    `json:"filters" yaml:"filters"`
	Pending       int    `json:"pending" yaml:"pending"`
	Checkpoint    any    `json:"checkpoint" yaml:"checkpoint"`
}

// NewCommand creates the status command.
func NewCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:     "status [pattern...]",
		GroupID: "core",
		Short:   "Show collections with their pending writes and pull checkpoints",
		Long: `Status lists the collections of the collections file together with
what the local store knows about them: how many local writes are waiting
to be pushed and the checkpoint the next pull resumes from.

Arguments are collection names or patterns: globs such as "team*", or
regular expressions wrapped in slashes. It reads only local state; use the API of a running server for live pass
status.`,
		Example: `  rallysync status
  rallysync status teams -o yaml
  rallysync status 'team*' '/^play/'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			colls, err := app.Collections()
			if err != nil {
				return err
			}
			local, err := app.Store()
			if err != nil {
				return err
			}
			rows, err := collect(cmd.Context(), colls, local, args)
			if err != nil {
				return err
			}
			return output.Write(cmd.OutOrStdout(), app.OutputFormat(), rows, func() output.Data {
				return toTable(rows)
			})
		},
	}
}

func collect(ctx context.Context, colls config.Collections, local store.Local, only []string) ([]Collection, error) {
	if len(only) > 0 {
		patterns, err := matcher.NewMulti("collection", only...)
		if err != nil {
			return nil, err
		}
		names := make([]string, len(colls))
		for i, c := range colls {
			names[i] = string(c.Name)
		}
		if missing := patterns.Unmatched(names...); len(missing) > 0 {
			return nil, errors.NewNotFoundError("collection", missing[0])
		}
		var picked config.Collections
		for _, c := range colls {
			if patterns.Match(string(c.Name)) {
				picked = append(picked, c)
			}
		}
		colls = picked
	}

	rows := make([]Collection, 0, len(colls))
	for _, c := range colls {
		name := string(c.Name)
		cfg := c.Config.WithDefaults()
		pending, err := local.Pending(ctx, name)
		if err != nil {
			return nil, err
		}
		checkpoint, err := local.Checkpoint(ctx, name)
		if err != nil {
			return nil, err
		}
		rows = append(rows, Collection{
			Name:          name,
			Enabled:       cfg.Enabled,
			BatchSize:     cfg.BatchSize,
			SyncInterval:  cfg.SyncInterval.String(),
			RetryAttempts: cfg.RetryAttempts,
			Filters:       len(cfg.Filters),
			Pending:       len(pending),
			Checkpoint:    checkpoint,
		})
	}
	return rows, nil
}

func toTable(rows []Collection) output.Data {
	data := output.Data{
		Headers: []string{"Collection", "Enabled", "Batch", "Interval", "Retries", "Filters", "Pending", "Checkpoint"},
		ColumnAlignment: []output.Align{
			output.AlignLeft, output.AlignCenter, output.AlignRight, output.AlignRight,
			output.AlignRight, output.AlignRight, output.AlignRight, output.AlignLeft,
		},
	}
	for _, r := range rows {
		checkpoint := "-"
		if r.Checkpoint != nil {
			checkpoint = fmt.Sprint(r.Checkpoint)
		}
		enabled := "no"
		if r.Enabled {
			enabled = "yes"
		}
		data.Rows = append(data.Rows, []string{
			r.Name, enabled, strconv.Itoa(r.BatchSize), r.SyncInterval,
			strconv.Itoa(r.RetryAttempts), strconv.Itoa(r.Filters), strconv.Itoa(r.Pending), checkpoint,
		})
	}
	return data
}
