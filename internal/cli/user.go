package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newUserCmd() *cobra.Command {
	var apiURL, apiKey string

	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users on a running taskdeck server",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api", defaultAPIURL, "taskdeck server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (env: TASKDECK_API_KEY)")

	var email string
	create := &cobra.Command{
		Use:   "create <username>",
		Short: "Register a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := apiClient(apiURL, apiKey).CreateUser(cmd.Context(), args[0], email)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created user %s (%s)\n", u.ID, u.Username)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "Email address")
	cmd.AddCommand(create)

	activities := &cobra.Command{
		Use:   "activities <user-id>",
		Short: "Show a user's recent activities, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			acts, err := apiClient(apiURL, apiKey).ListActivities(cmd.Context(), args[0], 0)
			if err != nil {
				return err
			}
			for _, a := range acts {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", a.Type, a.Description)
			}
			return nil
		},
	}
	cmd.AddCommand(activities)

	return cmd
}
