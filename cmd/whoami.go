package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the authenticated account",
	Args:  cobra.NoArgs,
	RunE:  runWhoami,
}

func runWhoami(cmd *cobra.Command, args []string) error {
	s := loadSetup()
	user, err := s.client().Me(context.Background())
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if user.Role != "" {
		fmt.Printf("%s <%s> (%s)\n", user.Name, user.Email, user.Role)
	} else {
		fmt.Printf("%s <%s>\n", user.Name, user.Email)
	}
	return nil
}
