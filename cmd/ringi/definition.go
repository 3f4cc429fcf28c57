package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ringi/internal/domain"
	"ringi/internal/engine"
)

func definitionCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "definition", Aliases: []string{"def"}, Short: "Manage workflow definitions"}
	cmd.AddCommand(definitionImportCmd())
	cmd.AddCommand(definitionListCmd())
	cmd.AddCommand(definitionShowCmd())
	cmd.AddCommand(definitionPublishCmd())
	return cmd
}

// readDefinition parses a definition document:
//
//	name: Purchase request
//	description: Anything over budget
//	steps:
//	  - {id: form, type: input, name: Request form}
//	  - {id: manager, type: approval, name: Manager}
func readDefinition(path string) (engine.CreateDefinitionInput, error) {
	var in engine.CreateDefinitionInput
	data, err := os.ReadFile(path)
	if err != nil {
		return in, err
	}
	if err := yaml.Unmarshal(data, &in); err != nil {
		return in, fmt.Errorf("invalid definition yaml: %w", err)
	}
	return in, nil
}

func definitionImportCmd() *cobra.Command {
	var file string
	var publish bool
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Create a draft definition from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			in, err := readDefinition(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				def, err := e.CreateDefinition(ctx, p, in)
				if err != nil {
					return err
				}
				if publish {
					if def, err = e.PublishDefinition(ctx, p, def.ID); err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(def)
				}
				fmt.Printf("Definition %s %q is %s\n", def.ID, def.Name, def.Status)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "definition YAML file")
	cmd.Flags().BoolVar(&publish, "publish", false, "publish right after import")
	return cmd
}

func definitionListCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List definitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				var (
					defs []domain.Definition
					err  error
				)
				if all {
					defs, err = e.ListAllDefinitions(ctx, p)
				} else {
					defs, err = e.ListDefinitions(ctx, p)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(defs)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Version", "Status", "Approval steps"})
				for _, d := range defs {
					approvals, _ := d.ApprovalSteps()
					tw.AppendRow(table.Row{d.ID, d.Name, d.Version, d.Status, len(approvals)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include drafts")
	return cmd
}

func definitionShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <definition-id>",
		Short: "Show a definition and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				def, err := e.GetDefinition(ctx, p, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(def)
				}
				fmt.Printf("%s  %s  v%d  %s\n", def.ID, def.Name, def.Version, def.Status)
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"#", "Step", "Type", "Name"})
				for i, s := range def.Steps {
					tw.AppendRow(table.Row{i + 1, s.ID, s.Type, s.Name})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func definitionPublishCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "publish <definition-id>",
		Short: "Publish a draft definition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine, p engine.Principal) error {
				def, err := e.PublishDefinition(ctx, p, args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(def)
				}
				fmt.Printf("Definition %s published\n", def.ID)
				return nil
			})
		},
	}
}
