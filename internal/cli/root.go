// Package cli implements the orchestrator's command-line entrypoint,
// following the teacher's internal/cli/root.go shape: a spf13/cobra root
// command bound to a viper-loaded config file and environment prefix.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kilnforge/orchestrator/internal/version"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "orchestrator",
	Short: "Autonomous multi-agent code-generation orchestrator",
	Long: `orchestrator drives a Planner -> Builder -> Test -> Fixer loop against
ephemeral remote sandbox containers, routing each role to a Polling Bot or
Chat-Completions provider with adaptive model selection.

Example:
  orchestrator serve --config /etc/orchestrator/config.yaml`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// ExecuteContext runs the root command bound to ctx, so that subcommands
// (serve, in particular) observe ctx's cancellation as their shutdown
// signal via cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.Version = version.Short()
	rootCmd.SetVersionTemplate("{{.Name}} {{.Version}}\n")

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./.orchestrator.yaml)")
	rootCmd.PersistentFlags().Bool("verbose", false, "enable verbose logging")
	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			fmt.Fprintln(os.Stderr, "error getting working directory:", err)
			os.Exit(1)
		}
		viper.AddConfigPath(cwd)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".orchestrator")
	}

	viper.SetEnvPrefix("ORCHESTRATOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if viper.GetBool("verbose") {
			fmt.Fprintln(os.Stderr, "using config file:", viper.ConfigFileUsed())
		}
	}
}
