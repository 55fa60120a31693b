package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var loginEmail string

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Authenticate against the remote service",
	Args:  cobra.NoArgs,
	RunE:  runLogin,
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "Account email (prompted if omitted)")
}

func runLogin(cmd *cobra.Command, args []string) error {
	reader := bufio.NewReader(os.Stdin)

	email := loginEmail
	if email == "" {
		fmt.Print("Email: ")
		line, err := reader.ReadString('\n')
		if err != nil {
			fmt.Fprintln(os.Stderr, "reading email:", err)
			os.Exit(1)
		}
		email = strings.TrimSpace(line)
	}

	fmt.Print("Password: ")
	line, err := reader.ReadString('\n')
	if err != nil {
		fmt.Fprintln(os.Stderr, "reading password:", err)
		os.Exit(1)
	}
	password := strings.TrimRight(line, "\r\n")

	s := loadSetup()
	user, err := s.client().Login(context.Background(), email, password)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("Logged in as %s <%s>.\n", user.Name, user.Email)
	return nil
}
