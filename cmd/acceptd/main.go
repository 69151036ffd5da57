package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/vango-dev/acceptd/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const banner = `
  ┌─┐┌─┐┌─┐┌─┐┌─┐┌┬┐┌┬┐
  ├─┤│  │  ├┤ ├─┘ │  ││
  ┴ ┴└─┘└─┘└─┘┴   ┴ ─┴┘
`

func main() {
	rootCmd := newRootCmd()
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, rootCmd, err)
		os.Exit(1)
	}
}

// reportError prints err in the layout selected by --json-errors.
func reportError(w io.Writer, rootCmd *cobra.Command, err error) {
	if asJSON, _ := rootCmd.PersistentFlags().GetBool("json-errors"); asJSON {
		errors.FprintJSON(w, err)
		return
	}
	errors.Fprint(w, err)
}

func newRootCmd() *cobra.Command {
	var noColor, jsonErrors bool

	rootCmd := &cobra.Command{
		Use:   "acceptd",
		Short: "A small TCP server that answers every client with one response",
		Long: `acceptd accepts TCP connections, queues them, and serves each one
from a worker pool: one read, one fixed response, close.

  • Poll-based accept loop with clean cancellation
  • Response from the built-in page, a file, or an S3 object
  • Prometheus metrics, health and a live event feed on the admin port`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				errors.DisableColors()
			} else {
				errors.EnableColors()
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&jsonErrors, "json-errors", false, "Print errors as JSON on stderr")

	rootCmd.AddCommand(
		serveCmd(),
		probeCmd(),
		initCmd(),
		versionCmd(),
	)
	return rootCmd
}

// printBanner prints the acceptd ASCII art banner.
func printBanner() {
	fmt.Print(banner)
}

// success prints a success message.
func success(format string, args ...any) {
	fmt.Printf("\033[32m✓\033[0m %s\n", fmt.Sprintf(format, args...))
}

// info prints an info message.
func info(format string, args ...any) {
	fmt.Printf("  %s\n", fmt.Sprintf(format, args...))
}

// warn prints a warning message.
func warn(format string, args ...any) {
	fmt.Printf("\033[33m⚠\033[0m %s\n", fmt.Sprintf(format, args...))
}
