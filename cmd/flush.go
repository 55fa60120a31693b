package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"token-tally/internal/history"
)

var flushJournal bool

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Flush all unflushed entries to the remote service now",
	Args:  cobra.NoArgs,
	RunE:  runFlush,
}

func init() {
	flushCmd.Flags().BoolVar(&flushJournal, "journal", false, "Show recent flush attempts instead of flushing")
}

func runFlush(cmd *cobra.Command, args []string) error {
	s := loadSetup()

	if flushJournal {
		return showJournal(s)
	}

	if s.ledger.Len() == 0 {
		fmt.Println("Nothing to flush.")
		return nil
	}

	coord, closeJournal := s.coordinator()
	defer closeJournal()

	res, err := coord.FlushAll(context.Background(), time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Flush failed: %v\n", err)
		if res.Confirmed > 0 {
			fmt.Printf("%d of %d bucket(s) saved; the rest will be retried.\n", res.Confirmed, res.Attempted)
		}
		os.Exit(1)
	}
	fmt.Printf("Saved %d bucket(s).\n", res.Confirmed)
	return nil
}

func showJournal(s setup) error {
	db, err := history.Open(history.FilePath(s.base))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer db.Close()

	attempts, err := db.Attempts(20)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if len(attempts) == 0 {
		fmt.Println("No flush attempts recorded.")
		return nil
	}
	fmt.Println("Slot              State      Entries  Qty  Detail")
	for _, a := range attempts {
		fmt.Printf("%-17s %-10s %-8d %-4d %s\n", a.SlotKey, a.State, a.EntryCount, a.TotalQuantity, a.Detail)
	}
	return nil
}
