package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"token-tally/internal/model"
)

var addQty int

var addCmd = &cobra.Command{
	Use:   "add <digits>",
	Short: "Record token entries",
	Long: `Record one entry per digit, all sharing one timestamp.
"tokt add 7 --qty 3" records token 7 with quantity 3;
"tokt add 147 --qty 3" records tokens 1, 4 and 7, quantity 3 each.`,
	Args: cobra.ExactArgs(1),
	RunE: runAdd,
}

func init() {
	addCmd.Flags().IntVar(&addQty, "qty", 1, "Quantity per token")
}

// parseDigits turns a digit string into batch items, one per digit.
func parseDigits(digits string, qty int) ([]model.BatchItem, error) {
	if digits == "" {
		return nil, fmt.Errorf("no token digits given")
	}
	if qty <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", qty)
	}
	items := make([]model.BatchItem, 0, len(digits))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("invalid token number %q: must be a digit 0-9", string(r))
		}
		items = append(items, model.BatchItem{Number: int(r - '0'), Quantity: qty})
	}
	return items, nil
}

func runAdd(cmd *cobra.Command, args []string) error {
	items, err := parseDigits(args[0], addQty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	s := loadSetup()
	added, err := s.ledger.AppendBatch(items)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	when := time.UnixMilli(added[0].Timestamp).In(s.loc)
	for _, e := range added {
		fmt.Printf("Recorded token #%d ×%d at %s\n", e.Number, e.Quantity, when.Format("15:04:05"))
	}
	fmt.Printf("%d unflushed entries.\n", s.ledger.Len())
	return nil
}
