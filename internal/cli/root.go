// Package cli wires the taskdeck command tree.
package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/internal/config"
)

func NewRootCmd(version string) *cobra.Command {
	var homeOverride string

	cmd := &cobra.Command{
		Use:          "taskdeck",
		Short:        "Task lifecycle server with live agent collaboration",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := config.ResolveHome(homeOverride)
			if err != nil {
				return err
			}
			cmd.SetContext(config.WithHome(cmd.Context(), home))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&homeOverride, "home", "", "Override taskdeck home directory (default: ~/.taskdeck, env: TASKDECK_HOME)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newTaskCmd())
	cmd.AddCommand(newUserCmd())
	cmd.AddCommand(newApikeyCmd())

	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.SetVersionTemplate("{{.Version}}\n")
	if version != "" {
		cmd.Version = version
	} else {
		cmd.Version = "dev"
	}

	return cmd
}
