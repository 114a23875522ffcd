package app

import (
	"github.com/spf13/cobra"

	"github.com/agentstation/rallysync/cmd/rallysync/cmd/configcmd"
	"github.com/agentstation/rallysync/cmd/rallysync/cmd/serve"
	"github.com/agentstation/rallysync/cmd/rallysync/cmd/status"
	synccmd "github.com/agentstation/rallysync/cmd/rallysync/cmd/sync"
)

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	// Core commands
	rootCmd.AddCommand(serve.NewCommand(a))
	rootCmd.AddCommand(synccmd.NewCommand(a))
	rootCmd.AddCommand(status.NewCommand(a))

	// Management commands
	rootCmd.AddCommand(configcmd.NewCommand(a))

	// Utility commands
	rootCmd.AddCommand(a.NewVersionCommand())
}

// NewVersionCommand creates the version command.
func (a *App) NewVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("rallysync %s\n", a.version)
			if a.config.Verbose {
				cmd.Printf("  commit:   %s\n", a.commit)
				cmd.Printf("  built:    %s\n", a.date)
				cmd.Printf("  built by: %s\n", a.builtBy)
			}
		},
	}
}
