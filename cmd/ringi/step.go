package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ringi/internal/domain"
	"ringi/internal/engine"
)

type decideFunc func(engine.Engine, context.Context, engine.Principal, int64, int64, engine.DecisionInput) (engine.WorkflowWithSteps, error)

func stepCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "step", Short: "Decide on workflow steps"}
	cmd.AddCommand(decisionCmd("approve", "Approve the active step", engine.Engine.ApproveByDisplayNumber))
	cmd.AddCommand(decisionCmd("reject", "Reject the workflow at the active step", engine.Engine.RejectByDisplayNumber))
	cmd.AddCommand(decisionCmd("request-changes", "Send the workflow back to the applicant", engine.Engine.RequestChangesByDisplayNumber))
	return cmd
}

func decisionCmd(use, short string, decide decideFunc) *cobra.Command {
	var version int
	var comment string
	cmd := &cobra.Command{
		Use:   use + " <WF-n> <STEP-n>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := parseWorkflowID(args[0])
			if err != nil {
				return err
			}
			step, err := domain.ParseDisplayID(domain.EntityWorkflowStep, args[1])
			if err != nil {
				return err
			}
			in := engine.DecisionInput{Version: version}
			if cmd.Flags().Changed("comment") {
				in.Comment = &comment
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				w, err := decide(e, ctx, p, wf, step, in)
				if err != nil {
					return err
				}
				return printWorkflow(e, w)
			})
		},
	}
	cmd.Flags().IntVar(&version, "version", 0, "current step version")
	cmd.Flags().StringVar(&comment, "comment", "", "decision comment")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func commentCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "comment", Short: "Discuss a workflow"}
	cmd.AddCommand(commentAddCmd())
	cmd.AddCommand(commentListCmd())
	return cmd
}

func commentAddCmd() *cobra.Command {
	var body string
	cmd := &cobra.Command{
		Use:   "add <WF-n>",
		Short: "Post a comment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseWorkflowID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				c, err := e.PostComment(ctx, p, number, body)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(c)
				}
				fmt.Printf("Comment %s posted on %s\n", c.ID, args[0])
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func commentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <WF-n>",
		Short: "List comments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseWorkflowID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				comments, err := e.ListComments(ctx, p, number)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(comments)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Posted", "By", "Body"})
				for _, c := range comments {
					tw.AppendRow(table.Row{c.CreatedAt, c.PostedBy, c.Body})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Steps waiting on the actor"}
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List active steps assigned to the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				tasks, err := e.ListMyTasks(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Workflow", "Step", "Title", "Step name", "Version", "Started", "Overdue"})
				for _, t := range tasks {
					overdue := ""
					if t.Overdue {
						overdue = "yes"
					}
					tw.AppendRow(table.Row{t.Instance.DisplayID(), t.Step.DisplayID(), t.Instance.Title, t.Step.StepName, t.Step.Version, deref(t.Step.StartedAt), overdue})
				}
				tw.Render()
				return nil
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show WF-n STEP-m",
		Short: "Show one of the actor's steps with its workflow",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wf, err := parseWorkflowID(args[0])
			if err != nil {
				return err
			}
			step, err := domain.ParseDisplayID(domain.EntityWorkflowStep, args[1])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				t, err := e.GetTaskByDisplayNumbers(ctx, p, wf, step)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("task %s: %s (%s)\n", t.Step.DisplayID(), t.Step.StepName, t.Step.Status)
				if t.Step.DueDate != nil {
					fmt.Printf("due: %s\n", *t.Step.DueDate)
				}
				renderWorkflow(engine.WorkflowWithSteps{Instance: t.Instance, Steps: t.Steps, Names: t.Names}, e.Now())
				return nil
			})
		},
	})
	return cmd
}

func dashboardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dashboard",
		Short: "Show the actor's workload counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				stats, err := e.DashboardStats(ctx, p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(stats)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRows([]table.Row{
					{"Active tasks", stats.ActiveTasks},
					{"My workflows in progress", stats.InProgressInstances},
					{"Decided today (UTC)", stats.CompletedToday},
				})
				tw.Render()
				return nil
			})
		},
	}
}
