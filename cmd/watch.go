package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"token-tally/internal/counter"
	"token-tally/internal/schedule"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the live session: counter board, countdown, scheduled flushes",
	Long: `watch runs until interrupted. It catches up any slots missed while
tokt was not running, then ticks once a second: redrawing the counter
board and slot countdown, and flushing accumulated entries whenever a
slot boundary is crossed. On Ctrl-C the remaining entries are flushed
before exit.`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

var dimStyle = lipgloss.NewStyle().Faint(true)

func runWatch(cmd *cobra.Command, args []string) error {
	s := loadSetup()
	coord, closeJournal := s.coordinator()
	defer closeJournal()

	notices := make(chan string, 4)
	coord.Notify = func(msg string) {
		select {
		case notices <- msg:
		default:
		}
	}

	ctx := context.Background()

	// Startup catch-up: slots that closed while the program was away.
	if res := coord.CatchUp(ctx, time.Now()); res.Attempted > 0 {
		fmt.Printf("Catch-up: %d slot(s) flushed, %d failed.\n", res.Confirmed, res.Failed)
	}

	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var lastNotice string
	var noticeUntil time.Time

	for {
		select {
		case <-sigs:
			// Final flush must finish before the process dies; both
			// signals funnel here and the coordinator's guard prevents
			// overlapping waves if a second one arrives mid-flush.
			fmt.Println("\nFlushing before exit...")
			res, err := coord.Final(ctx, time.Now())
			if err == nil {
				fmt.Printf("Flushed %d/%d bucket(s).\n", res.Confirmed, res.Attempted)
			}
			return nil

		case msg := <-notices:
			lastNotice = msg
			noticeUntil = time.Now().Add(5 * time.Second)

		case <-ticker.C:
			now := time.Now().In(s.loc)
			if _, err := coord.CheckBoundary(ctx, now); err != nil {
				// Already logged; the entries stay for the next trigger.
				_ = err
			}
			drawWatch(s, now, lastNotice, noticeUntil)
		}
	}
}

// drawWatch repaints the live screen: clock, countdown, counter board.
func drawWatch(s setup, now time.Time, notice string, noticeUntil time.Time) {
	fmt.Print("\033[H\033[2J")
	fmt.Printf("token-tally  %s\n\n", now.Format("2006-01-02 15:04:05"))

	active := schedule.Active(now)
	switch {
	case active.Pseudo && active.Slot == "pre-open":
		fmt.Printf("Opens at %s — %s\n\n", schedule.Slots()[0], schedule.FormatCountdown(active.Remaining(now)))
	case active.Pseudo:
		fmt.Printf("Closed — next day in %s\n\n", schedule.FormatCountdown(active.Remaining(now)))
	default:
		fmt.Printf("Slot %s closes in %s\n\n", active.Slot, schedule.FormatCountdown(active.Remaining(now)))
	}

	fmt.Println(renderBoard(counter.Compute(s.ledger.Entries(), now)))
	fmt.Printf("\n%d unflushed entries\n", s.ledger.Len())

	if notice != "" && now.Before(noticeUntil) {
		fmt.Println(dimStyle.Render(notice))
	}
	fmt.Println(dimStyle.Render("Ctrl-C to flush and exit"))
}
