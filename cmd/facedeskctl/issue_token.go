package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"facedesk/core"
)

// NewIssueTokenCmd creates the issue-token subcommand.
func NewIssueTokenCmd() *cobra.Command {
	var (
		ttl        time.Duration
		skipLookup bool
	)
	cmd := &cobra.Command{
		Use:   "issue-token <username>",
		Short: "Sign an access token for an existing account",
		Long: `Signs an access token with the configured secret_key, for debugging
clients. The account must exist unless --skip-lookup is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			if cfg.SecretKey == "" {
				return oops.Code("CONFIG_INVALID").Errorf("secret_key must be set, a random key would not match the server")
			}
			username := args[0]
			if !skipLookup {
				stores, err := core.OpenStores(cmd.Context(), cfg)
				if err != nil {
					return oops.Code("DB_CONNECT_FAILED").Wrap(err)
				}
				defer stores.Close()
				if _, err := stores.Accounts.FindByUsername(cmd.Context(), username); err != nil {
					if errors.Is(err, core.ErrNotFound) {
						return fmt.Errorf("account %q not found", username)
					}
					return err
				}
			}
			tokens, err := core.NewTokenServiceFromConfig(cfg)
			if err != nil {
				return err
			}
			token, err := tokens.Issue(username, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to access_token_expire_minutes)")
	cmd.Flags().BoolVar(&skipLookup, "skip-lookup", false, "do not check that the account exists")
	return cmd
}
