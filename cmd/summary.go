package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var summaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Show unflushed entries grouped by token number",
	Args:  cobra.NoArgs,
	RunE:  runSummary,
}

func runSummary(cmd *cobra.Command, args []string) error {
	s := loadSetup()
	if err := s.ledger.SetActiveTab("tokens"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	rows := s.ledger.Summary()
	if len(rows) == 0 {
		fmt.Println("No tokens recorded yet.")
		return nil
	}
	fmt.Println("Token  Entries  Total Qty  Last Seen")
	for _, r := range rows {
		last := time.UnixMilli(r.LastTimestamp).In(s.loc)
		fmt.Printf("#%d     %-8d %-10d %s\n", r.Number, r.EntryCount, r.TotalQuantity, last.Format("15:04:05"))
	}
	return nil
}
