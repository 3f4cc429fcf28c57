package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ringi/internal/domain"
	"ringi/internal/engine"
)

func instanceCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "instance", Aliases: []string{"wf"}, Short: "Manage workflow instances"}
	cmd.AddCommand(instanceCreateCmd())
	cmd.AddCommand(instanceSubmitCmd())
	cmd.AddCommand(instanceResubmitCmd())
	cmd.AddCommand(instanceShowCmd())
	cmd.AddCommand(instanceListCmd())
	return cmd
}

// parseApprovers reads step=user pairs, keeping their order.
func parseApprovers(pairs []string) ([]domain.Approver, error) {
	out := make([]domain.Approver, 0, len(pairs))
	for _, pair := range pairs {
		step, user, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(step) == "" || strings.TrimSpace(user) == "" {
			return nil, fmt.Errorf("invalid --approver %q, expected step=user", pair)
		}
		out = append(out, domain.Approver{StepID: strings.TrimSpace(step), AssignedTo: strings.TrimSpace(user)})
	}
	return out, nil
}

// parseFormData reads key=value pairs. Values that parse as JSON keep their
// type; anything else is a string.
func parseFormData(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(pairs))
	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --form %q, expected key=value", pair)
		}
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		out[key] = v
	}
	return out, nil
}

func parseWorkflowID(raw string) (int64, error) {
	return domain.ParseDisplayID(domain.EntityWorkflowInstance, raw)
}

func renderWorkflow(w engine.WorkflowWithSteps, now time.Time) {
	inst := w.Instance
	fmt.Printf("%s  %s\n", inst.DisplayID(), inst.Title)
	fmt.Printf("status: %s  version: %d  initiated by: %s\n", inst.Status, inst.Version, displayName(inst.InitiatedBy, w.Names))
	if len(w.Steps) == 0 {
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Step", "Name", "Assignee", "Status", "Version", "Decision", "Comment", "Overdue"})
	for _, s := range w.Steps {
		decision := ""
		if s.Decision != nil {
			decision = string(*s.Decision)
		}
		overdue := ""
		if s.IsOverdue(now) {
			overdue = "yes"
		}
		tw.AppendRow(table.Row{s.DisplayID(), s.StepName, displayName(s.AssignedTo, w.Names), s.Status, s.Version, decision, deref(s.Comment), overdue})
	}
	tw.Render()
}

func displayName(id string, names map[string]string) string {
	if n := names[id]; n != "" && n != id {
		return fmt.Sprintf("%s (%s)", n, id)
	}
	return id
}

func printWorkflow(e engine.Engine, w engine.WorkflowWithSteps) error {
	if viper.GetBool("json") {
		return printJSON(w)
	}
	renderWorkflow(w, e.Now())
	return nil
}

func instanceCreateCmd() *cobra.Command {
	var definitionID, title string
	var form []string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Start a draft workflow from a published definition",
		RunE: func(cmd *cobra.Command, args []string) error {
			if definitionID == "" {
				return fmt.Errorf("--definition required")
			}
			data, err := parseFormData(form)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				inst, err := e.CreateInstance(ctx, p, engine.CreateInstanceInput{
					DefinitionID: definitionID,
					Title:        title,
					FormData:     data,
				})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(inst)
				}
				fmt.Printf("Created %s %q (draft, version %d)\n", inst.DisplayID(), inst.Title, inst.Version)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&definitionID, "definition", "", "published definition id")
	cmd.Flags().StringVar(&title, "title", "", "workflow title")
	cmd.Flags().StringArrayVar(&form, "form", nil, "form field key=value (repeatable)")
	return cmd
}

func instanceSubmitCmd() *cobra.Command {
	var approverPairs []string
	var version int
	cmd := &cobra.Command{
		Use:   "submit <WF-n>",
		Short: "Submit a draft with one approver per approval step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseWorkflowID(args[0])
			if err != nil {
				return err
			}
			approvers, err := parseApprovers(approverPairs)
			if err != nil {
				return err
			}
			in := engine.SubmitInput{Approvers: approvers}
			if cmd.Flags().Changed("version") {
				in.Version = &version
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				w, err := e.SubmitByDisplayNumber(ctx, p, number, in)
				if err != nil {
					return err
				}
				return printWorkflow(e, w)
			})
		},
	}
	cmd.Flags().StringArrayVar(&approverPairs, "approver", nil, "step=user in step order (repeatable)")
	cmd.Flags().IntVar(&version, "version", 0, "expected workflow version")
	return cmd
}

func instanceResubmitCmd() *cobra.Command {
	var approverPairs, form []string
	var version int
	cmd := &cobra.Command{
		Use:   "resubmit <WF-n>",
		Short: "Start a new approval round for a rejected or changes_requested workflow",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseWorkflowID(args[0])
			if err != nil {
				return err
			}
			approvers, err := parseApprovers(approverPairs)
			if err != nil {
				return err
			}
			data, err := parseFormData(form)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				w, err := e.ResubmitByDisplayNumber(ctx, p, number, engine.ResubmitInput{
					Approvers: approvers,
					FormData:  data,
					Version:   version,
				})
				if err != nil {
					return err
				}
				return printWorkflow(e, w)
			})
		},
	}
	cmd.Flags().StringArrayVar(&approverPairs, "approver", nil, "step=user in step order (repeatable)")
	cmd.Flags().StringArrayVar(&form, "form", nil, "replacement form field key=value (repeatable)")
	cmd.Flags().IntVar(&version, "version", 0, "current workflow version")
	_ = cmd.MarkFlagRequired("version")
	return cmd
}

func instanceShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <WF-n>",
		Short: "Show a workflow with all of its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			number, err := parseWorkflowID(args[0])
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				w, err := e.GetInstanceByDisplayNumber(ctx, p, number)
				if err != nil {
					return err
				}
				return printWorkflow(e, w)
			})
		},
	}
}

func instanceListCmd() *cobra.Command {
	var limit int
	var before string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List workflows started by the actor, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := engine.ListInstancesInput{Limit: limit}
			if before != "" {
				n, err := parseWorkflowID(before)
				if err != nil {
					return err
				}
				in.Before = n
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				insts, err := e.ListMyInstances(ctx, p, in)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(insts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Title", "Status", "Version", "Updated"})
				for _, i := range insts {
					tw.AppendRow(table.Row{i.DisplayID(), i.Title, i.Status, i.Version, i.UpdatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "page size")
	cmd.Flags().StringVar(&before, "before", "", "continue below this workflow (WF-n)")
	return cmd
}
