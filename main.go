package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "taskboard",
	Short: "Multi-user task board API",
	Long: `taskboard serves the board and todo HTTP API.

Configuration comes from config.yaml (or CONFIG_PATH) and environment
variables such as STORAGE_CONNECTION_STRING, REDIS_CONNECTION_STRING,
AUTH0_DOMAIN and AUTH0_AUDIENCE.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initStorageCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
