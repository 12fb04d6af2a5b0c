package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"whatsapp-console/internal/credentials"
	"whatsapp-console/internal/prompts"
)

func init() {
	userCmd := &cobra.Command{
		Use:   "user",
		Short: "Manage console logins",
	}
	addCmd := &cobra.Command{
		Use:   "add <username> [password]",
		Short: "Add or replace a console login",
		Long:  "Stores a bcrypt hash of the password in the credentials file. The password is prompted for when omitted.",
		Args:  cobra.RangeArgs(1, 2),
		RunE:  runUserAdd,
	}
	userCmd.AddCommand(addCmd)
	RootCmd.AddCommand(userCmd)
}

func runUserAdd(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	username := args[0]

	var password string
	if len(args) == 2 {
		password = args[1]
	} else {
		fd := int(os.Stdin.Fd())
		if !term.IsTerminal(fd) {
			return errors.New("password argument required when stdin is not a terminal")
		}
		fmt.Fprint(cmd.ErrOrStderr(), "Password: ")
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}
		password = strings.TrimSpace(string(b))
	}

	store := credentials.New(cfg.Path(prompts.CredentialsFile), nil)
	if err := store.Add(username, password); err != nil {
		return fmt.Errorf("add user: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "User %s saved to %s\n", username, store.Path())
	return nil
}
