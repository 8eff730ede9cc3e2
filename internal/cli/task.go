package cli

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/taskdeck/taskdeck/pkg/client"
	"github.com/taskdeck/taskdeck/pkg/models"
)

const defaultAPIURL = "http://127.0.0.1:8815"

// apiClient builds an SDK client from the --api/--api-key flags, falling back
// to the TASKDECK_API_KEY env var.
func apiClient(apiURL, apiKey string) *client.Client {
	if apiKey == "" {
		apiKey = os.Getenv("TASKDECK_API_KEY")
	}
	return client.New(apiURL, apiKey)
}

func newTaskCmd() *cobra.Command {
	var apiURL, apiKey string

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks on a running taskdeck server",
	}
	cmd.PersistentFlags().StringVar(&apiURL, "api", defaultAPIURL, "taskdeck server base URL")
	cmd.PersistentFlags().StringVar(&apiKey, "api-key", "", "API key (env: TASKDECK_API_KEY)")

	cmd.AddCommand(newTaskListCmd(&apiURL, &apiKey))
	cmd.AddCommand(newTaskCreateCmd(&apiURL, &apiKey))
	cmd.AddCommand(newTaskShowCmd(&apiURL, &apiKey))
	cmd.AddCommand(newTaskPlanCmd(&apiURL, &apiKey))
	cmd.AddCommand(newTaskApproveCmd(&apiURL, &apiKey))
	cmd.AddCommand(newTaskRequestChangesCmd(&apiURL, &apiKey))
	cmd.AddCommand(newTaskCompleteCmd(&apiURL, &apiKey))
	cmd.AddCommand(newTaskFailCmd(&apiURL, &apiKey))
	return cmd
}

func newTaskListCmd(apiURL, apiKey *string) *cobra.Command {
	var userID string
	var activeOnly bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user is required")
			}
			c := apiClient(*apiURL, *apiKey)
			var (
				tasks []models.Task
				err   error
			)
			if activeOnly {
				tasks, err = c.ListActiveTasks(cmd.Context(), userID)
			} else {
				tasks, err = c.ListTasks(cmd.Context(), userID)
			}
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tPROGRESS\tACTIVE AGENT\tTITLE")
			for _, t := range tasks {
				agent := t.AgentStates.ActiveAgent()
				if agent == "" {
					agent = "-"
				}
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%d%%\t%s\t%s\n",
					t.ID, t.Status, t.Priority, t.Progress, agent, t.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User id")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "Only tasks that are not completed or failed")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newTaskCreateCmd(apiURL, apiKey *string) *cobra.Command {
	var title, description, priority, userID, repoID string

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task (status pending)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if title == "" {
				return fmt.Errorf("--title is required")
			}
			d := client.TaskDraft{Title: title, Description: description, Priority: priority}
			if userID != "" {
				d.UserID = &userID
			}
			if repoID != "" {
				d.RepositoryID = &repoID
			}
			t, err := apiClient(*apiURL, *apiKey).CreateTask(cmd.Context(), d)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created task %s (%s)\n", t.ID, t.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "Task title")
	cmd.Flags().StringVar(&description, "description", "", "Task description")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium, or high (default medium)")
	cmd.Flags().StringVar(&userID, "user", "", "Owning user id")
	cmd.Flags().StringVar(&repoID, "repo", "", "Repository id")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newTaskShowCmd(apiURL, apiKey *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <task-id>",
		Short: "Show one task, its plan, and recent messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := apiClient(*apiURL, *apiKey)
			t, err := c.GetTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s  [%s, %s priority, %d%%]\n", t.Title, t.Status, t.Priority, t.Progress)
			_, _ = fmt.Fprintf(out, "agents: manager=%s planner=%s programmer=%s\n",
				t.AgentStates.Manager, t.AgentStates.Planner, t.AgentStates.Programmer)
			if t.Analysis != nil {
				_, _ = fmt.Fprintf(out, "analysis: %s (agents: %s)\n",
					t.Analysis.Assessment, strings.Join(t.Analysis.RequiredAgents, ", "))
			}
			if t.Plan != nil {
				_, _ = fmt.Fprintf(out, "plan: %s\n", t.Plan.Title)
				for i, s := range t.Plan.Steps {
					_, _ = fmt.Fprintf(out, "  %d. %s\n", i+1, s.Description)
				}
			}
			msgs, err := c.ListMessages(cmd.Context(), t.ID)
			if err != nil {
				return err
			}
			if len(msgs) > 0 {
				_, _ = fmt.Fprintln(out, "messages:")
				for _, m := range msgs {
					_, _ = fmt.Fprintf(out, "  [%s] %s\n", m.Sender, m.Content)
				}
			}
			return nil
		},
	}
	return cmd
}

func newTaskPlanCmd(apiURL, apiKey *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan <task-id>",
		Short: "Run the planner on a planning task and submit its plan for review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := apiClient(*apiURL, *apiKey).GeneratePlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Plan %q ready for review; task %s is now %s\n", t.Plan.Title, t.ID, t.Status)
			return nil
		},
	}
	return cmd
}

func newTaskApproveCmd(apiURL, apiKey *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "approve <task-id>",
		Short: "Approve the plan under review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := apiClient(*apiURL, *apiKey).ApprovePlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Plan approved; task %s is now %s\n", t.ID, t.Status)
			return nil
		},
	}
	return cmd
}

func newTaskRequestChangesCmd(apiURL, apiKey *string) *cobra.Command {
	var feedback string

	cmd := &cobra.Command{
		Use:   "request-changes <task-id>",
		Short: "Send plan feedback and loop the task back to planning",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if feedback == "" {
				return fmt.Errorf("--feedback is required")
			}
			t, err := apiClient(*apiURL, *apiKey).RequestPlanChanges(cmd.Context(), args[0], feedback)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Changes requested; task %s is now %s\n", t.ID, t.Status)
			return nil
		},
	}
	cmd.Flags().StringVar(&feedback, "feedback", "", "Feedback for the planner")
	_ = cmd.MarkFlagRequired("feedback")
	return cmd
}

func newTaskCompleteCmd(apiURL, apiKey *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete <task-id>",
		Short: "Mark an executing task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := apiClient(*apiURL, *apiKey).CompleteTask(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s completed\n", t.ID)
			return nil
		},
	}
	return cmd
}

func newTaskFailCmd(apiURL, apiKey *string) *cobra.Command {
	var agentRole, reason string

	cmd := &cobra.Command{
		Use:   "fail <task-id>",
		Short: "Mark a task failed, attributed to an agent role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := apiClient(*apiURL, *apiKey).FailTask(cmd.Context(), args[0], agentRole, reason)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Task %s failed (%s)\n", t.ID, agentRole)
			return nil
		},
	}
	cmd.Flags().StringVar(&agentRole, "agent", models.AgentProgrammer, "Offending agent: manager, planner, or programmer")
	cmd.Flags().StringVar(&reason, "reason", "", "Failure reason")
	return cmd
}
