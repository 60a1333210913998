package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "llamagate",
	Short: "llamagate - single-slot model supervisor gateway",
	Long: `llamagate is an OpenAI-compatible HTTP gateway in front of a native
GGUF inference library.

Because the underlying inference library binds exclusive GPU memory when
loaded, the gateway serializes model occupancy through a single-slot
supervisor: at most one worker subprocess is ever alive, model switches
cleanly release GPU resources before the next model loads, and an idle
model is evicted automatically.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.CompletionOptions.DisableDefaultCmd = false
}
