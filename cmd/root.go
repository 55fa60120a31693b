package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"token-tally/internal/api"
	"token-tally/internal/auth"
	"token-tally/internal/config"
	"token-tally/internal/flush"
	"token-tally/internal/history"
	"token-tally/internal/ledger"
)

var rootCmd = &cobra.Command{
	Use:   "tokt",
	Short: "token-tally – a terminal token counter with slot-scheduled sync",
	Long: `tokt records token number + quantity entries, shows rolling
15-minute counts, and flushes accumulated entries to the remote service on
the fixed time-slot schedule. All local data is stored as human-readable
JSON files in ~/.tokt/.`,
}

// Execute is the entry point called from main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(countsCmd)
	rootCmd.AddCommand(summaryCmd)
	rootCmd.AddCommand(logCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(flushCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(amendCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

// setup bundles the pieces most commands need.
type setup struct {
	base   string
	cfg    config.Config
	loc    *time.Location
	ledger *ledger.Ledger
}

// loadSetup resolves the data dir, config, timezone, and ledger, exiting
// with status 2 on environment errors the user cannot act on mid-command.
func loadSetup() setup {
	base, err := ledger.BaseDir()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	loc := time.Local
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			fmt.Fprintf(os.Stderr, "Warning: unknown timezone %q, using local time\n", cfg.Timezone)
		}
	}
	l, err := ledger.Open(ledger.FilePath(base))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	return setup{base: base, cfg: cfg, loc: loc, ledger: l}
}

func (s setup) client() *api.Client {
	return api.New(s.cfg.API.BaseURL, auth.NewStore(auth.TokenFilePath(s.base)))
}

// coordinator wires the flush coordinator with the journal. The returned
// close func must be called when the command is done with it.
func (s setup) coordinator() (*flush.Coordinator, func()) {
	var journal flush.Journal
	closeFn := func() {}
	db, err := history.Open(history.FilePath(s.base))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: flush journal unavailable: %v\n", err)
	} else {
		journal = db
		closeFn = func() { db.Close() }
	}
	return flush.New(s.ledger, s.client(), journal, s.loc), closeFn
}
