package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	local      bool
	cfgFile    string
	outputMode string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "taskctl",
	Short: "Drive the sandboxed task engine",
	Long: `taskctl talks to a running taskengined over HTTP, or with --local builds
the engine in-process from the same configuration file.

Examples:
  taskctl tasks
  taskctl exec fetch --param url=https://example.com/data.json --param filename=data.json
  taskctl exec --describe "scrape the example.com homepage" --param url=https://example.com --param filename=home.html
  taskctl read data.json
  taskctl --local exec run-all`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("TASKENGINE_URL", "http://localhost:8000"), "Engine base URL")
	rootCmd.PersistentFlags().BoolVar(&local, "local", false, "Run the engine in-process instead of calling a server")
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file for --local (default: $TASKENGINE_CONFIG or configs/taskengine.json)")
	rootCmd.PersistentFlags().StringVarP(&outputMode, "output", "o", "text", "Output format (text, json)")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func validateOutput() error {
	switch outputMode {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("unknown output format %q", outputMode)
	}
}
