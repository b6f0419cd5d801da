package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ricochet",
	Short: "Second-order vulnerability scanner",
	Long: `Ricochet injects payloads into a request's parameters, headers, cookies,
and body, then listens for the out-of-band HTTP and DNS callbacks that prove
a payload executed somewhere downstream of the original request.`,
}

// Execute runs the root command, exiting the process with status 1 on
// error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(injectCmd)
	rootCmd.AddCommand(versionCmd)
}
