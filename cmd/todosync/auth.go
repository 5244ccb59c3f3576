package main

import (
	"bufio"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/mschirtzinger/todosync/internal/ui"
)

func loginCmd(a *app) *cobra.Command {
	var expiresIn time.Duration

	cmd := &cobra.Command{
		Use:     "login [token]",
		GroupID: "setup",
		Short:   "Store the remote access key",
		Long: `Store the access key sent as X-Master-Key to the remote document store.

The key is written to ~/.todosync/credentials.json with owner-only
permissions. Without an argument it is read from a prompt, or from the first
line of stdin when not running in a terminal. TODOSYNC_TOKEN and
remote.token take precedence over the stored key.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var token string
			switch {
			case len(args) == 1:
				token = args[0]
			case ui.IsTerminal(a.stdin):
				var err error
				if token, err = ui.Secret("Access key"); err != nil {
					return err
				}
			default:
				line, err := bufio.NewReader(a.stdin).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("failed to read token from stdin: %w", err)
				}
				token = strings.TrimSpace(line)
			}

			var expires *time.Time
			if expiresIn > 0 {
				t := time.Now().Add(expiresIn)
				expires = &t
			}
			if err := a.creds.Save(token, expires); err != nil {
				return err
			}
			a.printer.OK("Saved access key to %s", a.creds.Path())
			return nil
		},
	}
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "forget the key after this long")
	return cmd
}

func logoutCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "logout",
		GroupID: "setup",
		Short:   "Remove the stored access key",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.creds.Delete(); err != nil {
				return err
			}
			a.printer.OK("Removed stored access key")
			return nil
		},
	}
}
