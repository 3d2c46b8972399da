// Command novacore is the single-tenant function execution engine's
// entrypoint: a serve daemon plus a handful of operator subcommands for the
// package cache and schema migration, following the teacher's cobra root
// command layout in cmd/nova.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "novacore",
		Short: "novacore - single-tenant function execution engine",
		Long:  "novacore runs a package cache, an in-process JS sandbox, and an invocation dispatcher behind an HTTP surface.",
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to YAML config file (optional, env vars override)")

	rootCmd.AddCommand(
		serveCmd(),
		cacheCmd(),
		migrateCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
