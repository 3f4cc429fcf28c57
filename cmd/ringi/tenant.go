package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ringi/internal/app"
	"ringi/internal/domain"
)

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "tenant", Short: "Manage tenants"}
	cmd.AddCommand(tenantProvisionCmd())
	cmd.AddCommand(tenantListCmd())
	return cmd
}

func tenantProvisionCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "provision <tenant-id>",
		Short: "Create a tenant and its display number counters",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				t, err := app.ProvisionTenant(ctx, rt.engine.Repo, args[0], name, rt.engine.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(t)
				}
				fmt.Printf("Tenant %s (%s) ready\n", t.ID, t.Name)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	return cmd
}

func tenantListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				tenants, err := rt.engine.Repo.ListTenants(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tenants)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Created"})
				for _, t := range tenants {
					tw.AppendRow(table.Row{t.ID, t.Name, t.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage the tenant user directory"}
	cmd.AddCommand(userAddCmd())
	cmd.AddCommand(userListCmd())
	return cmd
}

func userAddCmd() *cobra.Command {
	var name, email string
	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Add or rename a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				tenant, err := app.ResolveTenant(ctx, viper.GetString("tenant"), rt.engine.Repo)
				if err != nil {
					return err
				}
				u, err := app.UpsertUser(ctx, rt.engine.Repo, rt.nameCache(), domain.User{
					ID:       args[0],
					TenantID: tenant.ID,
					Name:     name,
					Email:    email,
				}, rt.engine.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("User %s (%s) saved in %s\n", u.ID, u.Name, tenant.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&email, "email", "", "email address")
	return cmd
}

func userListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users of the tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd.Context(), func(ctx context.Context, rt *runtime) error {
				tenant, err := app.ResolveTenant(ctx, viper.GetString("tenant"), rt.engine.Repo)
				if err != nil {
					return err
				}
				s, err := rt.engine.Repo.Tenant(tenant.ID)
				if err != nil {
					return err
				}
				users, err := s.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Email"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Name, u.Email})
				}
				tw.Render()
				return nil
			})
		},
	}
}
