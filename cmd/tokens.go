package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"swapctl/pkg/types"
)

var filterSymbol string

var tokensCmd = &cobra.Command{
	Use:     "tokens",
	Aliases: []string{"list-tokens", "ls"},
	Short:   "List the known tokens",
	Long: `List the tokens swapctl knows by symbol: the builtin SOL, USDC and USDT
plus the assets configured in .swapctl.yaml. Any other token can be used by
its mint address.

Examples:
  swapctl tokens
  swapctl tokens --symbol USD`,
	RunE: runListTokens,
}

func init() {
	rootCmd.AddCommand(tokensCmd)

	tokensCmd.Flags().StringVar(&filterSymbol, "symbol", "", "Filter by token symbol")
}

func runListTokens(cmd *cobra.Command, args []string) error {
	jsonOutput, _ := cmd.Flags().GetBool("json")

	rt, err := newRuntime(cmd, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	tokens := rt.registry.List()
	if filterSymbol != "" {
		var temp []types.Asset
		for _, token := range tokens {
			if strings.Contains(token.Symbol, strings.ToUpper(filterSymbol)) {
				temp = append(temp, token)
			}
		}
		tokens = temp
	}

	if jsonOutput {
		jsonData, _ := json.MarshalIndent(tokens, "", "  ")
		fmt.Println(string(jsonData))
	} else {
		displayTokens(tokens)
	}
	return nil
}

func displayTokens(tokens []types.Asset) {
	if len(tokens) == 0 {
		fmt.Println("\nNo tokens found matching the criteria.")
		return
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	color.Green("                              KNOWN TOKENS")
	fmt.Println(strings.Repeat("=", 80))

	for _, token := range tokens {
		dust := ""
		if token.DustThreshold.IsPositive() {
			dust = color.HiBlackString("  dust < %s", token.DustThreshold)
		}
		fmt.Printf("  %-10s  %2d decimals  %s%s\n",
			color.YellowString(token.Symbol),
			token.Decimals,
			color.HiBlackString(token.Mint),
			dust)
	}

	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Printf("\nTotal: %d tokens\n\n", len(tokens))
}
