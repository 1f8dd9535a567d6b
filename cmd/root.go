package cmd

import (
	"context"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "swapctl",
	Short: "A CLI for Solana token swaps through a pool of quote endpoints",
	Long: `swapctl converts one Solana asset into another. Quotes and swap
transactions come from a pool of Jupiter-compatible endpoints; rate limited
endpoints are put in cooldown and the next one is tried. The transaction is
signed locally and submitted to the configured RPC node.

Examples:
  swapctl swap 1 SOL to USDC
  swapctl swap all BONK to SOL --yes
  swapctl liquidate BONK WIF --to USDC
  swapctl status <signature>
  swapctl history --failed`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	// Add global flags
	rootCmd.PersistentFlags().String("config", "", "Config file (default is $HOME/.swapctl.yaml)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("metrics-addr", "", "Expose Prometheus metrics on this address (e.g. :9102)")
}

// PrintError reports a command error on stderr
func PrintError(err error) {
	color.New(color.FgRed).Fprintf(color.Error, "\nError: %v\n\n", err)
}

func printSuccess(message string) {
	color.Green("\n%s\n", message)
}
