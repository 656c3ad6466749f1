package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	configPath string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:   "cloudmark",
		Short: "Cloud configuration checks",
		Long: `Cloudmark - cloud configuration checks

Cloudmark reads normalized cloud records as a stream of JSON objects,
runs every loaded rule over each record and writes the events the rules
generate as JSON lines.

Built-in rules cover Azure PostgreSQL server logging and throttling
flags. More rules can be loaded from YAML files, either as flag checks
or as Rego policies.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// versionCmd prints the version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the cloudmark version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "cloudmark %s\n", version)
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`cloudmark {{.Version}}
`)
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to TOML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(versionCmd)
}
