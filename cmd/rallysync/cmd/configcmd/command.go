// Package configcmd provides the config command group.
package configcmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentstation/rallysync/internal/cmd/application"
	"github.com/agentstation/rallysync/internal/cmd/emoji"
	"github.com/agentstation/rallysync/internal/cmd/output"
	"github.com/agentstation/rallysync/internal/config"
)

// Result is the outcome of validating one collections file.
type Result struct {
	File        string   `json:"file" yaml:"file"`
	Valid       bool     `json:"valid" yaml:"valid"`
	Collections []string `json:"collections" yaml:"collections"`
	Error       string   `json:"error,omitempty" yaml:"error,omitempty"`
}

// NewCommand creates the config command.
func NewCommand(app application.Application) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "config",
		GroupID: "management",
		Short:   "Inspect and validate configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(NewValidateCommand(app))
	return cmd
}

// NewValidateCommand creates the config validate command.
func NewValidateCommand(app application.Application) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [file]",
		Short: "Check a collections file without starting anything",
		Long: `Validate parses a collections file and checks every collection's
config, filters and schema the same way serve does on startup and on
reload. Without an argument the configured collections file is checked.`,
		Example: `  rallysync config validate
  rallysync config validate staging/collections.yaml -o json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			file := app.CollectionsFile()
			if len(args) == 1 {
				file = args[0]
			}
			res, err := validate(file)
			if werr := write(cmd, app.OutputFormat(), res); werr != nil {
				return werr
			}
			return err
		},
	}
}

func validate(file string) (Result, error) {
	res := Result{File: file, Collections: []string{}}
	colls, err := config.Load(file)
	if err != nil {
		res.Error = err.Error()
		return res, err
	}
	res.Valid = true
	for _, name := range colls.Names() {
		res.Collections = append(res.Collections, string(name))
	}
	return res, nil
}

func write(cmd *cobra.Command, format string, res Result) error {
	if output.Format(format) != output.FormatTable && format != "" {
		return output.NewFormatter(output.Format(format)).Format(cmd.OutOrStdout(), res)
	}
	out := cmd.OutOrStdout()
	if !res.Valid {
		_, err := fmt.Fprintf(out, "%s %s is invalid\n", emoji.Error, res.File)
		return err
	}
	_, err := fmt.Fprintf(out, "%s %s is valid (%d collections)\n", emoji.Success, res.File, len(res.Collections))
	for _, name := range res.Collections {
		if err != nil {
			break
		}
		_, err = fmt.Fprintf(out, "  - %s\n", name)
	}
	return err
}
