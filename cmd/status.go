package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"swapctl/pkg/ledger"
	"swapctl/pkg/types"
)

var (
	watchStatus   bool
	watchInterval int
)

var statusCmd = &cobra.Command{
	Use:   "status <signature>",
	Short: "Check the status of a submitted swap transaction",
	Long: `Check the confirmation status of a transaction by its signature.

Examples:
  swapctl status 5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW
  swapctl status <signature> --watch
  swapctl status <signature> --watch --interval 10`,
	Args: cobra.ExactArgs(1),
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVarP(&watchStatus, "watch", "w", false, "Watch status updates until the transaction settles")
	statusCmd.Flags().IntVar(&watchInterval, "interval", 5, "Polling interval in seconds (when watching)")
}

// transactionStatus is the status report shown to the user
type transactionStatus struct {
	types.Confirmation
	Info *ledger.TransactionInfo `json:"info,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	reference := args[0]
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := newRuntime(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if watchStatus {
		return watchTransactionStatus(cmd.Context(), rt, reference, jsonOutput)
	}
	return checkTransactionStatus(cmd.Context(), rt, reference, jsonOutput)
}

func fetchStatus(ctx context.Context, rt *runtime, reference string) (*transactionStatus, error) {
	confirmation, err := rt.ledger.Status(ctx, reference)
	if err != nil {
		return nil, err
	}

	status := &transactionStatus{Confirmation: confirmation}
	if confirmation.Status != types.ConfirmationUnknown {
		info, err := rt.ledger.TransactionInfo(ctx, reference)
		if err != nil {
			rt.logger.Debug("status.info_unavailable", zap.String("reference", reference), zap.Error(err))
		} else {
			status.Info = info
		}
	}
	return status, nil
}

func checkTransactionStatus(ctx context.Context, rt *runtime, reference string, jsonOutput bool) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Checking transaction status..."
		s.Start()
	}

	status, err := fetchStatus(ctx, rt, reference)
	if !jsonOutput {
		s.Stop()
	}
	if err != nil {
		return err
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(status, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayStatus(status)
	}
	return nil
}

func watchTransactionStatus(ctx context.Context, rt *runtime, reference string, jsonOutput bool) error {
	if jsonOutput {
		return fmt.Errorf("watch mode not supported with JSON output")
	}
	if watchInterval < 1 {
		return fmt.Errorf("interval must be at least 1 second")
	}

	fmt.Printf("\nWatching transaction %s\n", color.CyanString(reference))
	fmt.Printf("Checking every %d seconds. Press Ctrl+C to stop.\n\n", watchInterval)

	ticker := time.NewTicker(time.Duration(watchInterval) * time.Second)
	defer ticker.Stop()

	for {
		status, err := fetchStatus(ctx, rt, reference)
		if err != nil {
			color.Red("Error: %v", err)
		} else {
			displayStatus(status)
			if status.Status == types.ConfirmationFinalized || status.Status == types.ConfirmationFailed {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func displayStatus(status *transactionStatus) {
	fmt.Println("\n" + strings.Repeat("=", 70))
	color.Green("                     TRANSACTION STATUS")
	fmt.Println(strings.Repeat("=", 70))

	fmt.Printf("\n  Signature:       %s\n", color.CyanString(status.Reference))
	fmt.Printf("  Status:          %s\n", getColoredStatus(status.Status))
	if status.Slot > 0 {
		fmt.Printf("  Slot:            %d\n", status.Slot)
	}
	if status.Error != "" {
		fmt.Printf("  Error:           %s\n", color.RedString(status.Error))
	}

	if info := status.Info; info != nil {
		fmt.Printf("  Fee:             %d lamports\n", info.Fee)
		if info.BlockTime != nil {
			fmt.Printf("  Block Time:      %s\n", info.BlockTime.Format("2006-01-02 15:04:05"))
		}
	}

	fmt.Println("\n" + strings.Repeat("=", 70) + "\n")
}

func getColoredStatus(status types.ConfirmationStatus) string {
	label := strings.ToUpper(string(status))

	switch status {
	case types.ConfirmationFinalized, types.ConfirmationConfirmed:
		return color.GreenString(label)
	case types.ConfirmationFailed:
		return color.RedString(label)
	default:
		return color.YellowString(label)
	}
}
