package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapctl/pkg/assets"
	"swapctl/pkg/endpoint"
	"swapctl/pkg/parser"
	"swapctl/pkg/types"
)

// Lamports left in the wallet when swapping "all" SOL, to pay fees
const solFeeReserve = 10_000_000

var (
	slippageBps int
	priorityFee int64
	noConfirm   bool
)

var swapCmd = &cobra.Command{
	Use:   "swap <amount|all> <source-token> to <dest-token>",
	Short: "Swap one token for another",
	Long: `Swap tokens on Solana through the configured quote endpoints.

Tokens are symbols known to the registry (see 'swapctl tokens') or mint
addresses. "all" swaps the whole wallet balance; for SOL a small reserve is
kept for fees.

Examples:
  swapctl swap 1 SOL to USDC
  swapctl swap 0.5 sol for usdc --slippage 100
  swapctl swap all DezXAZ8z7PnrnRJjz3wXBoRgixCa6xjnB7YaB1pPB263 to SOL
  swapctl swap 10 USDC to SOL --yes --json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSwap,
}

func init() {
	rootCmd.AddCommand(swapCmd)

	swapCmd.Flags().IntVar(&slippageBps, "slippage", -1, "Maximum slippage in basis points (default from config)")
	swapCmd.Flags().Int64Var(&priorityFee, "priority-fee", -1, "Priority fee in lamports (default from config, otherwise auto)")
	swapCmd.Flags().BoolVarP(&noConfirm, "yes", "y", false, "Skip confirmation prompt")
}

func runSwap(cmd *cobra.Command, args []string) error {
	// Parse the command
	swapCmdArgs, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := newRuntime(cmd, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx := cmd.Context()

	from, err := rt.registry.Resolve(ctx, swapCmdArgs.From)
	if err != nil {
		return err
	}
	to, err := rt.registry.Resolve(ctx, swapCmdArgs.To)
	if err != nil {
		return err
	}

	amount, err := resolveAmount(ctx, rt, from, swapCmdArgs)
	if err != nil {
		return err
	}

	req := types.SwapRequest{
		InputAsset:     from,
		OutputAsset:    to,
		Amount:         amount,
		MaxSlippageBps: rt.cfg.SlippageBps,
		PriorityFee:    rt.cfg.PriorityFee,
	}
	if slippageBps >= 0 {
		req.MaxSlippageBps = slippageBps
	}
	if priorityFee >= 0 {
		fee := uint64(priorityFee)
		req.PriorityFee = &fee
	}
	if err := req.Validate(); err != nil {
		return err
	}

	if !jsonOutput {
		displayRequest(req, rt.signer.Identity())
	}

	// Ask for confirmation
	if !noConfirm && !jsonOutput {
		if !confirmSwap() {
			fmt.Println("\nSwap cancelled.")
			return nil
		}
	}

	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	if !jsonOutput {
		s.Suffix = " Executing swap..."
		s.Start()
	}

	outcome := rt.executor.Execute(ctx, req)
	if !jsonOutput {
		s.Stop()
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(outcome, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayOutcome(outcome)
		if verbose {
			displayAttempts(outcome.Attempts)
			displayPoolHealth(rt.executor.PoolHealth())
		}
	}

	if !outcome.Succeeded() {
		return fmt.Errorf("swap failed: %s", outcome.Kind())
	}
	return nil
}

// resolveAmount converts the parsed amount into smallest units of asset,
// reading the wallet balance for "all"
func resolveAmount(ctx context.Context, rt *runtime, asset types.Asset, sc *parser.SwapCommand) (uint64, error) {
	if !sc.All {
		return assets.ToSmallestUnit(sc.Amount, asset.Decimals)
	}
	return spendableBalance(ctx, rt, asset)
}

func spendableBalance(ctx context.Context, rt *runtime, asset types.Asset) (uint64, error) {
	balance, err := rt.ledger.Balance(ctx, rt.signer.Identity(), asset.Mint)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s balance: %w", asset, err)
	}
	if asset.Mint == assets.SOLMint {
		if balance <= solFeeReserve {
			return 0, fmt.Errorf("SOL balance %s is below the fee reserve", asset.ReferenceAmount(balance))
		}
		balance -= solFeeReserve
	}
	if balance == 0 {
		return 0, fmt.Errorf("no %s balance to swap", asset)
	}
	return balance, nil
}

func displayRequest(req types.SwapRequest, wallet string) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	color.Green("                     SWAP REQUEST")
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Wallet:            %s\n", color.CyanString(wallet))
	fmt.Printf("  From:              %s %s\n", req.InputAsset.ReferenceAmount(req.Amount), color.YellowString(req.InputAsset.String()))
	fmt.Printf("  To:                %s\n", color.YellowString(req.OutputAsset.String()))
	fmt.Printf("  Max Slippage:      %d bps\n", req.MaxSlippageBps)
	if req.PriorityFee != nil {
		fmt.Printf("  Priority Fee:      %d lamports\n", *req.PriorityFee)
	} else {
		fmt.Printf("  Priority Fee:      auto\n")
	}

	fmt.Println("\n" + strings.Repeat("=", 60))
}

func displayOutcome(out types.SwapOutcome) {
	fmt.Println("\n" + strings.Repeat("=", 60))
	if out.Succeeded() {
		color.Green("                     SWAP COMPLETE")
	} else {
		color.Red("                     SWAP FAILED")
	}
	fmt.Println(strings.Repeat("=", 60))

	fmt.Printf("\n  Request ID:        %s\n", color.HiBlackString(out.RequestID))
	if out.Endpoint != "" {
		fmt.Printf("  Endpoint:          %s\n", out.Endpoint)
	}

	if s := out.Success; s != nil {
		fmt.Printf("  Transaction:       %s\n", color.CyanString(s.TransactionReference))
		fmt.Printf("  Expected Output:   %s %s\n", out.Request.OutputAsset.ReferenceAmount(s.ExpectedOutputAmount), out.Request.OutputAsset)
		received := "(quoted)"
		if s.OutputObserved {
			received = "(observed)"
		}
		fmt.Printf("  Output:            %s %s %s\n", out.Request.OutputAsset.ReferenceAmount(s.ActualOutputAmount), out.Request.OutputAsset, received)
		if s.Confirmed {
			fmt.Printf("  Status:            %s\n", color.GreenString("CONFIRMED"))
		} else {
			fmt.Printf("  Status:            %s\n", color.YellowString("UNCONFIRMED"))
		}
		if s.Note != "" {
			fmt.Printf("  Note:              %s\n", s.Note)
		}
	}

	if f := out.Failure; f != nil {
		fmt.Printf("  Error:             %s\n", color.RedString(string(f.Kind)))
		fmt.Printf("  Message:           %s\n", f.Message)
		if f.EndpointTried != "" {
			fmt.Printf("  Endpoint Tried:    %s\n", f.EndpointTried)
		}
		if f.TransactionReference != "" {
			fmt.Printf("  Transaction:       %s\n", color.CyanString(f.TransactionReference))
			color.Yellow("\n  A transaction was submitted; funds may have moved.")
		}
	}

	fmt.Printf("  Duration:          %s\n", out.Duration().Round(time.Millisecond))
	fmt.Println("\n" + strings.Repeat("=", 60) + "\n")

	if ref := out.TransactionReference(); ref != "" {
		fmt.Println("You can check the transaction status using:")
		color.Cyan("  swapctl status %s\n", ref)
	}
}

func displayAttempts(attempts []types.Attempt) {
	if len(attempts) == 0 {
		return
	}
	fmt.Println("Attempts:")
	for _, a := range attempts {
		line := fmt.Sprintf("  %-8s %-12s %-40s %s", a.Stage, a.Result, a.Endpoint, a.Duration.Round(time.Millisecond))
		if a.Error != "" {
			line += "  " + color.HiBlackString(a.Error)
		}
		fmt.Println(line)
	}
	fmt.Println()
}

func displayPoolHealth(health []endpoint.Health) {
	fmt.Println("Endpoints:")
	for _, h := range health {
		marker := " "
		if h.Current {
			marker = "*"
		}
		state := color.GreenString("available")
		if !h.Available {
			state = color.YellowString("cooling until %s", h.CooldownUntil.Format("15:04:05"))
		}
		fmt.Printf(" %s %-40s %s  ok=%d failed=%d strikes=%d\n", marker, h.Endpoint, state, h.Successes, h.Failures, h.Strikes)
	}
	fmt.Println()
}

func confirmSwap() bool {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("\nProceed with swap? (y/N): ")

	response, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	response = strings.TrimSpace(strings.ToLower(response))
	return response == "y" || response == "yes"
}
