// Package app provides the commands of starsctl.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github-star-sync/internal/auth"
	"github-star-sync/internal/config"
	"github-star-sync/internal/database"
	"github-star-sync/internal/database/backend"
	"github-star-sync/internal/model"
)

// NewRootCmd builds the command tree. Configuration comes from the same
// environment variables and .env file as the service.
func NewRootCmd(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:               "starsctl",
		Short:             "Operate the GitHub star sync service",
		DisableAutoGenTag: true,
		SilenceUsage:      true,
	}

	root.AddCommand(newMigrateCmd(logger))
	root.AddCommand(newAccountCmd(logger))
	root.AddCommand(newSessionCmd(logger))
	return root
}

// withStore loads configuration, opens storage and hands both to fn.
func withStore(ctx context.Context, logger *slog.Logger, fn func(cfg *config.Config, store database.Store) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	store, err := backend.Open(ctx, cfg.DBURL, logger, backend.Options{})
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(cfg, store)
}

func newMigrateCmd(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), logger, func(*config.Config, database.Store) error {
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			})
		},
	}
}

func newAccountCmd(logger *slog.Logger) *cobra.Command {
	account := &cobra.Command{
		Use:   "account",
		Short: "Manage the GitHub accounts the service syncs",
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Register or update an account and its GitHub access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")
			login, _ := cmd.Flags().GetString("login")
			token, _ := cmd.Flags().GetString("token")
			if token == "" {
				token = os.Getenv("GITHUB_TOKEN")
			}
			if token == "" {
				return fmt.Errorf("an access token is required, pass --token or set GITHUB_TOKEN")
			}

			return withStore(cmd.Context(), logger, func(_ *config.Config, store database.Store) error {
				if err := store.UpsertAccount(cmd.Context(), model.Account{UserID: userID, Login: login, AccessToken: token}); err != nil {
					return fmt.Errorf("failed to save account: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "account %s saved\n", userID)
				return nil
			})
		},
	}
	add.Flags().String("user", "", "User id (the GitHub user id)")
	add.Flags().String("login", "", "GitHub login")
	add.Flags().String("token", "", "GitHub access token (defaults to $GITHUB_TOKEN)")
	_ = add.MarkFlagRequired("user")
	_ = add.MarkFlagRequired("login")

	list := &cobra.Command{
		Use:   "list",
		Short: "List registered accounts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(cmd.Context(), logger, func(_ *config.Config, store database.Store) error {
				accounts, err := store.ListAccounts(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list accounts: %w", err)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "USER\tLOGIN\tTOKEN")
				for _, a := range accounts {
					state := "set"
					if a.AccessToken == "" {
						state = "missing"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\n", a.UserID, a.Login, state)
				}
				return tw.Flush()
			})
		},
	}

	account.AddCommand(add, list)
	return account
}

func newSessionCmd(logger *slog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Mint a session token for a registered account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			userID, _ := cmd.Flags().GetString("user")

			return withStore(cmd.Context(), logger, func(cfg *config.Config, store database.Store) error {
				accounts, err := store.ListAccounts(cmd.Context())
				if err != nil {
					return fmt.Errorf("failed to list accounts: %w", err)
				}
				var login string
				found := false
				for _, a := range accounts {
					if a.UserID == userID {
						login, found = a.Login, true
						break
					}
				}
				if !found {
					return fmt.Errorf("account %s is not registered", userID)
				}

				token, expiresAt, err := auth.NewSessions(cfg.SessionSecret, cfg.SessionTTL, store).Sign(userID, login)
				if err != nil {
					return fmt.Errorf("failed to sign session: %w", err)
				}
				logger.Info("Session minted", "user_id", userID, "expires_at", expiresAt)
				fmt.Fprintln(cmd.OutOrStdout(), token)
				return nil
			})
		},
	}
	cmd.Flags().String("user", "", "User id to sign the session for")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
