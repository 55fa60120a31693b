package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"token-tally/internal/auth"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log out and clear local state",
	Long: `logout invalidates the server session, removes the stored
credentials, and empties the local ledger. Unflushed entries are discarded;
run "tokt flush" first if they should be saved.`,
	Args: cobra.NoArgs,
	RunE: runLogout,
}

func runLogout(cmd *cobra.Command, args []string) error {
	s := loadSetup()

	// Best effort: local state is cleared even when the server call fails.
	if err := s.client().Logout(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: server logout failed: %v\n", err)
	}
	if err := auth.NewStore(auth.TokenFilePath(s.base)).Clear(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if err := s.ledger.Clear(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	fmt.Println("Logged out; local ledger cleared.")
	return nil
}
