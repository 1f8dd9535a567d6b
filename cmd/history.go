package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapctl/pkg/types"
)

var (
	historyLimit  int
	historyFailed bool
)

var historyCmd = &cobra.Command{
	Use:   "history [request-id]",
	Short: "Show journaled swap outcomes",
	Long: `Show the outcomes of past swaps, newest first. With a request ID, show
that single outcome including every attempt.

Examples:
  swapctl history
  swapctl history --failed --limit 5
  swapctl history 3f1c2a9e-8d4b-4c61-9a55-0b7e4f2d1c83`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Number of outcomes to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyFailed, "failed", false, "Only show failed swaps")
}

func runHistory(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := newRuntime(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if len(args) == 1 {
		outcome, err := rt.journal.Get(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			jsonData, _ := json.MarshalIndent(outcome, "", "  ")
			fmt.Println(string(jsonData))
			return nil
		}
		displayOutcome(outcome)
		displayAttempts(outcome.Attempts)
		return nil
	}

	outcomes := rt.journal.List(historyLimit, historyFailed)
	if jsonOutput {
		jsonData, _ := json.MarshalIndent(outcomes, "", "  ")
		fmt.Println(string(jsonData))
		return nil
	}

	if len(outcomes) == 0 {
		fmt.Printf("\nNo swaps journaled in %s\n\n", rt.journal.Path())
		return nil
	}
	displayHistory(outcomes)
	fmt.Printf("Showing %d of %d swaps (%s)\n\n", len(outcomes), rt.journal.Count(), rt.journal.Path())
	return nil
}

func displayHistory(outcomes []types.SwapOutcome) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIMESTAMP\tREQUEST ID\tAMOUNT IN\tAMOUNT OUT\tRESULT\tTX")
	fmt.Fprintln(w, strings.Repeat("-", 120))

	for _, o := range outcomes {
		in := fmt.Sprintf("%s %s", o.Request.InputAsset.ReferenceAmount(o.Request.Amount), o.Request.InputAsset)
		out := "-"
		result := string(o.Kind())
		if o.Succeeded() {
			out = fmt.Sprintf("%s %s", o.Request.OutputAsset.ReferenceAmount(o.Success.ActualOutputAmount), o.Request.OutputAsset)
			result = color.GreenString("success")
			if !o.Success.Confirmed {
				result = color.YellowString("unconfirmed")
			}
		} else {
			result = color.RedString(result)
		}
		tx := o.TransactionReference()
		if tx == "" {
			tx = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			o.StartedAt.Local().Format("2006-01-02 15:04"), o.RequestID, in, out, result, tx)
	}
	w.Flush()

	fmt.Println()
}
