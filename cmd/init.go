package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"syscall"

	"github.com/creative812/Creatives-bot/creatives"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// passwordReader reads a password without echoing it. Replaced in tests.
type passwordReader func() ([]byte, error)

var customPasswordReader passwordReader

var errPasswordMismatch = errors.New("passwords do not match")

const passwordAttempts = 3

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the database and set the admin API credentials",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.DatabaseType == "" {
			return errors.New("database type not set (must be one of: sqlite, postgres)")
		}
		if cfg.Database == "" {
			return errors.New(
				"database not set (must be a valid connection string or sqlite file path)",
			)
		}
		db, err := creatives.CreateDB(ctx, cfg.DatabaseType, cfg.Database)
		if err != nil {
			return fmt.Errorf("error creating database: %w", err)
		}
		if sqlDB, e := db.DB(); e == nil {
			defer func() { _ = sqlDB.Close() }()
		}

		state, err := creatives.LoadBotState(ctx, db)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if state.AdminUsername != "" && state.AdminPassword != "" {
			fmt.Fprintln(out, "Admin credentials are already set.")
		} else {
			fmt.Fprintln(out, "Admin credentials are not set. Let's set them up.")
			username, password, e := promptCredentials(cmd.InOrStdin(), out)
			if e != nil {
				return e
			}
			if e = creatives.SetAdminCredentials(ctx, db, username, password); e != nil {
				return fmt.Errorf("error setting admin credentials: %w", e)
			}
			fmt.Fprintln(out, "Admin credentials set successfully.")
		}

		fmt.Fprintln(
			out,
			"Initialization complete. You can now start the bot with the 'run' subcommand.",
		)
		return nil
	},
}

func promptCredentials(in io.Reader, out io.Writer) (string, string, error) {
	readPassword := customPasswordReader
	if readPassword == nil {
		readPassword = func() ([]byte, error) {
			return term.ReadPassword(int(syscall.Stdin))
		}
	}

	fmt.Fprint(out, "Enter admin username: ")
	username, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", "", fmt.Errorf("error reading username: %w", err)
	}
	username = strings.TrimSpace(username)
	if username == "" {
		return "", "", errors.New("username is required")
	}

	for range passwordAttempts {
		fmt.Fprint(out, "Enter admin password: ")
		password, e := readPassword()
		fmt.Fprintln(out)
		if e != nil {
			return "", "", fmt.Errorf("error reading password: %w", e)
		}

		fmt.Fprint(out, "Confirm admin password: ")
		confirm, e := readPassword()
		fmt.Fprintln(out)
		if e != nil {
			return "", "", fmt.Errorf("error reading password: %w", e)
		}

		if len(password) > 0 && string(password) == string(confirm) {
			return username, string(password), nil
		}
		fmt.Fprintln(out, "Passwords do not match. Please try again.")
	}
	return "", "", errPasswordMismatch
}

//nolint:gochecknoinits // cobra wiring
func init() {
	rootCmd.AddCommand(initCmd)
}
