package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"token-tally/internal/counter"
)

var logMinutes int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent unflushed entries",
	Args:  cobra.NoArgs,
	RunE:  runLog,
}

func init() {
	logCmd.Flags().IntVar(&logMinutes, "minutes", 15, "Show entries from the last N minutes (0 = all)")
}

func runLog(cmd *cobra.Command, args []string) error {
	s := loadSetup()
	if err := s.ledger.SetActiveTab("history"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}

	entries := s.ledger.Entries()
	if logMinutes > 0 {
		entries = counter.Recent(entries, time.Now().In(s.loc), time.Duration(logMinutes)*time.Minute)
	}
	if len(entries) == 0 {
		fmt.Println("No entries yet.")
		return nil
	}
	// Newest first, like the original history tab.
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		fmt.Printf("%s  #%d ×%d\n", e.Time(s.loc).Format("15:04:05"), e.Number, e.Quantity)
	}
	return nil
}
