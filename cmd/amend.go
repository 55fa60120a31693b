package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"token-tally/internal/model"
)

var (
	amendDigits string
	amendQty    int
)

var amendCmd = &cobra.Command{
	Use:   "amend <record-id>",
	Short: "Replace a flushed record's entries (manual correction)",
	Args:  cobra.ExactArgs(1),
	RunE:  runAmend,
}

func init() {
	amendCmd.Flags().StringVar(&amendDigits, "tokens", "", "Replacement token digits (required)")
	amendCmd.Flags().IntVar(&amendQty, "qty", 1, "Quantity per token")
	amendCmd.MarkFlagRequired("tokens")
}

func runAmend(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid record id %q\n", args[0])
		os.Exit(1)
	}
	items, err := parseDigits(amendDigits, amendQty)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ts := time.Now().UnixMilli()
	entries := make([]model.WireEntry, 0, len(items))
	for _, it := range items {
		entries = append(entries, model.WireEntry{Number: it.Number, Quantity: it.Quantity, Timestamp: ts})
	}

	s := loadSetup()
	if err := s.client().Update(context.Background(), id, entries); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Record %d updated with %d entries.\n", id, len(entries))
	return nil
}
