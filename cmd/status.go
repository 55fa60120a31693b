package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"token-tally/internal/flush"
	"token-tally/internal/schedule"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active slot, countdown, and unflushed totals",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	s := loadSetup()
	now := time.Now().In(s.loc)

	active := schedule.Active(now)
	switch {
	case active.Pseudo && active.Slot == "pre-open":
		fmt.Printf("Before opening. First slot %s starts in %s.\n",
			schedule.Slots()[0], schedule.FormatCountdown(active.Remaining(now)))
	case active.Pseudo:
		fmt.Printf("After closing. Next day's %s slot starts in %s.\n",
			schedule.Slots()[0], schedule.FormatCountdown(active.Remaining(now)))
	default:
		fmt.Printf("Active slot: %s (%d min), closes in %s.\n",
			active.Slot, active.DurationMinutes, schedule.FormatCountdown(active.Remaining(now)))
	}

	entries := s.ledger.Entries()
	if len(entries) == 0 {
		fmt.Println("No unflushed entries.")
		return nil
	}
	total := 0
	for _, e := range entries {
		total += e.Quantity
	}
	fmt.Printf("%d unflushed entries (total quantity %d):\n", len(entries), total)
	for _, b := range flush.Partition(entries, s.loc) {
		qty := 0
		for _, e := range b.Entries {
			qty += e.Quantity
		}
		fmt.Printf("  %s  %d entries, qty %d\n", b.Key(), len(b.Entries), qty)
	}
	fmt.Printf("Last view: %s\n", s.ledger.ActiveTab())
	return nil
}
