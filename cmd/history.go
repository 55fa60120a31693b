package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"token-tally/internal/api"
	"token-tally/internal/history"
	"token-tally/internal/model"
)

var (
	historyDate    string
	historyFrom    string
	historyTo      string
	historySlot    string
	historyPage    int
	historyPerPage int
	historyOffline bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show previously flushed records",
	Long: `history queries the remote service for flushed records and caches
them locally, so past pages remain viewable with --offline.`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyDate, "date", "", "Show a single date's records (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "Start date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "End date (YYYY-MM-DD)")
	historyCmd.Flags().StringVar(&historySlot, "slot", "", "Filter by slot label (HH:MM)")
	historyCmd.Flags().IntVar(&historyPage, "page", 1, "Page number")
	historyCmd.Flags().IntVar(&historyPerPage, "per-page", 20, "Records per page")
	historyCmd.Flags().BoolVar(&historyOffline, "offline", false, "Read from the local cache only")
}

func runHistory(cmd *cobra.Command, args []string) error {
	s := loadSetup()

	db, err := history.Open(history.FilePath(s.base))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer db.Close()

	if historyOffline {
		from, to := historyFrom, historyTo
		if historyDate != "" {
			from, to = historyDate, historyDate
		}
		recs, err := db.Records(from, to, historySlot, historyPerPage)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
		printRecords(recs)
		return nil
	}

	if historyDate != "" {
		recs, err := s.client().ByDate(context.Background(), historyDate)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\nTip: use --offline to read the local cache.\n", err)
			os.Exit(1)
		}
		if err := db.UpsertRecords(recs); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: could not cache records: %v\n", err)
		}
		printRecords(recs)
		return nil
	}

	res, err := s.client().List(context.Background(), api.ListParams{
		Page:      historyPage,
		PerPage:   historyPerPage,
		StartDate: historyFrom,
		EndDate:   historyTo,
		TimeSlot:  historySlot,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\nTip: use --offline to read the local cache.\n", err)
		os.Exit(1)
	}
	if err := db.UpsertRecords(res.Records); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: could not cache records: %v\n", err)
	}

	printRecords(res.Records)
	if res.TotalPages > 1 {
		fmt.Printf("Page %d of %d (%d records total)\n", res.Page, res.TotalPages, res.Total)
	}
	return nil
}

func printRecords(recs []model.Record) {
	if len(recs) == 0 {
		fmt.Println("No records found.")
		return
	}
	for _, r := range recs {
		total := 0
		for _, e := range r.Entries {
			total += e.Quantity
		}
		fmt.Printf("[%d] %s %s  %d entries, qty %d\n", r.ID, r.Date, r.TimeSlot, len(r.Entries), total)
	}
}
