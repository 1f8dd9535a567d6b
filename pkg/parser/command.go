package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

// SwapCommand is a parsed "<amount> <asset> to <asset>" command
type SwapCommand struct {
	Amount decimal.Decimal
	All    bool // "all" or "max": the whole wallet balance
	From   string
	To     string
}

// Pattern: [swap] <amount|all|max> <asset> to|for|-> <asset>
// Assets are symbols or base58 mints, so their case is preserved.
var swapPattern = regexp.MustCompile(`(?i)^(?:swap\s+)?(\d+(?:\.\d+)?|\.\d+|all|max)\s+([A-Za-z0-9]+)\s+(?:to|for|->)\s+([A-Za-z0-9]+)$`)

// ParseSwapCommand parses a natural language swap command
// Examples:
//   - "swap 1 SOL to USDC"
//   - "1.5 sol for usdc"
//   - "all BONK to SOL"
func ParseSwapCommand(command string) (*SwapCommand, error) {
	command = strings.Join(strings.Fields(command), " ")

	matches := swapPattern.FindStringSubmatch(command)
	if matches == nil {
		return nil, fmt.Errorf("invalid swap command format. Expected: 'swap <amount> <token> to <token>' (e.g., 'swap 1 SOL to USDC')")
	}

	cmd := &SwapCommand{From: matches[2], To: matches[3]}
	switch strings.ToLower(matches[1]) {
	case "all", "max":
		cmd.All = true
	default:
		amount, err := decimal.NewFromString(matches[1])
		if err != nil {
			return nil, fmt.Errorf("invalid amount %q: %w", matches[1], err)
		}
		cmd.Amount = amount
	}

	if err := ValidateSwapCommand(cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// ValidateSwapCommand validates that a swap command has all required fields
func ValidateSwapCommand(cmd *SwapCommand) error {
	if !cmd.All && !cmd.Amount.IsPositive() {
		return fmt.Errorf("amount must be greater than 0")
	}
	if cmd.From == "" {
		return fmt.Errorf("source token is required")
	}
	if cmd.To == "" {
		return fmt.Errorf("destination token is required")
	}
	if NormalizeTokenSymbol(cmd.From) == NormalizeTokenSymbol(cmd.To) {
		return fmt.Errorf("source and destination token must differ")
	}
	return nil
}

// NormalizeTokenSymbol normalizes token symbols to standard format
func NormalizeTokenSymbol(symbol string) string {
	symbol = strings.TrimSpace(strings.ToUpper(symbol))

	aliases := map[string]string{
		"WSOL":   "SOL",
		"USDCET": "USDC",
	}

	if normalized, exists := aliases[symbol]; exists {
		return normalized
	}

	return symbol
}
