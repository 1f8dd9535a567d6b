package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"swapctl/pkg/types"
)

var (
	liquidateTo          string
	liquidateConcurrency int
)

var liquidateCmd = &cobra.Command{
	Use:   "liquidate <token>... --to <token>",
	Short: "Swap the whole balance of several tokens into one",
	Long: `Convert the full wallet balance of each listed token into a single output
token. Swaps run concurrently; a failed token never stops the others.

Examples:
  swapctl liquidate BONK WIF --to USDC
  swapctl liquidate SOL USDT --to USDC --concurrency 1 --yes`,
	Args: cobra.MinimumNArgs(1),
	RunE: runLiquidate,
}

func init() {
	rootCmd.AddCommand(liquidateCmd)

	liquidateCmd.Flags().StringVar(&liquidateTo, "to", "USDC", "Output token")
	liquidateCmd.Flags().IntVar(&liquidateConcurrency, "concurrency", 4, "Maximum swaps in flight")
	liquidateCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

// liquidation is one row of the liquidate report
type liquidation struct {
	Asset   string             `json:"asset"`
	Amount  string             `json:"amount,omitempty"`
	Skipped string             `json:"skipped,omitempty"`
	Outcome *types.SwapOutcome `json:"outcome,omitempty"`
}

func runLiquidate(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")
	if liquidateConcurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1")
	}

	rt, err := newRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()

	to, err := rt.registry.Resolve(ctx, liquidateTo)
	if err != nil {
		return err
	}

	// Resolve inputs and balances up front so the prompt shows real amounts
	rows := make([]liquidation, len(args))
	requests := make([]*types.SwapRequest, len(args))
	for i, ref := range args {
		rows[i].Asset = ref
		from, err := rt.registry.Resolve(ctx, ref)
		if err != nil {
			rows[i].Skipped = err.Error()
			continue
		}
		rows[i].Asset = from.String()
		if from.Mint == to.Mint {
			rows[i].Skipped = "already the output token"
			continue
		}
		amount, err := spendableBalance(ctx, rt, from)
		if err != nil {
			rows[i].Skipped = err.Error()
			continue
		}
		rows[i].Amount = from.ReferenceAmount(amount).String()
		requests[i] = &types.SwapRequest{
			InputAsset:     from,
			OutputAsset:    to,
			Amount:         amount,
			MaxSlippageBps: rt.cfg.SlippageBps,
			PriorityFee:    rt.cfg.PriorityFee,
		}
	}

	pending := 0
	for _, req := range requests {
		if req != nil {
			pending++
		}
	}

	if !jsonOutput {
		fmt.Printf("\nLiquidating %d of %d tokens into %s\n", pending, len(args), color.YellowString(to.String()))
		for i, row := range rows {
			if requests[i] != nil {
				fmt.Printf("  %-12s %s\n", row.Asset, row.Amount)
			} else {
				fmt.Printf("  %-12s %s\n", row.Asset, color.HiBlackString("skipped: "+row.Skipped))
			}
		}
		if pending > 0 && !noConfirm && !confirmSwap() {
			fmt.Println("\nLiquidation cancelled.")
			return nil
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput && pending > 0 {
		s.Suffix = fmt.Sprintf(" Executing %d swaps...", pending)
		s.Start()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(liquidateConcurrency)
	for i, req := range requests {
		if req == nil {
			continue
		}
		i, req := i, *req
		g.Go(func() error {
			outcome := rt.executor.Execute(gctx, req)
			rows[i].Outcome = &outcome
			// Failures are reported per row, never returned
			return nil
		})
	}
	_ = g.Wait()

	if !jsonOutput && pending > 0 {
		s.Stop()
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(rows, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayLiquidation(rows, to)
	}

	failed := 0
	for _, row := range rows {
		if row.Outcome != nil && !row.Outcome.Succeeded() {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d swaps failed", failed, pending)
	}
	if !jsonOutput && pending > 0 {
		printSuccess(fmt.Sprintf("All %d swaps succeeded.", pending))
	}
	return nil
}

func displayLiquidation(rows []liquidation, to types.Asset) {
	fmt.Println()
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ASSET\tAMOUNT\tRESULT\tOUTPUT\tTX / ERROR")
	fmt.Fprintln(w, strings.Repeat("-", 100))

	for _, row := range rows {
		switch {
		case row.Outcome == nil:
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Asset, "-", "skipped", "-", row.Skipped)
		case row.Outcome.Succeeded():
			out := row.Outcome.Success
			result := "confirmed"
			if !out.Confirmed {
				result = "unconfirmed"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s %s\t%s\n", row.Asset, row.Amount, result,
				to.ReferenceAmount(out.ActualOutputAmount), to, out.TransactionReference)
		default:
			f := row.Outcome.Failure
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", row.Asset, row.Amount, f.Kind, "-", f.Message)
		}
	}
	w.Flush()

	fmt.Println()
}
