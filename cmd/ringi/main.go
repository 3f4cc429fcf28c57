package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "ringi",
	Short: "Ringi approval workflows",
	Long: `ringi routes requests through a fixed chain of approvers.
Core concepts:
- Tenant: an isolated organization. Every record and display number belongs to one.
- Definition: a reusable template listing approval steps in order. Drafts must be published before use.
- Workflow (WF-n): one request started from a definition. It moves draft -> in_progress -> approved, rejected or changes_requested.
- Step (STEP-n): one approver's turn. Exactly one step is active while a workflow is in progress.
- Version: every workflow and step carries a version; decisions must present the current one.
- Resubmit: a rejected or changes_requested workflow can start a new approval round.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("RINGI")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.StringP("config", "c", "", "config file (default <workspace>/ringi.yml)")
	flags.Bool("json", false, "output JSON")
	flags.String("tenant", "", "tenant id (defaults to the only provisioned tenant)")
	flags.String("actor-id", "local-user", "acting user id")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	for _, name := range []string{"workspace", "config", "json", "tenant", "actor-id"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
}

func registerCommands() {
	rootCmd.AddCommand(tenantCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(definitionCmd())
	rootCmd.AddCommand(instanceCmd())
	rootCmd.AddCommand(stepCmd())
	rootCmd.AddCommand(commentCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(dashboardCmd())
	rootCmd.AddCommand(serveCmd())
}
