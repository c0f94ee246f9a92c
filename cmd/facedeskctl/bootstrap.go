package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"facedesk/core"
)

// NewBootstrapCmd creates the bootstrap subcommand.
func NewBootstrapCmd() *cobra.Command {
	var credentialsPath string
	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the initial admin account if none exists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return oops.Code("CONFIG_INVALID").Wrap(err)
			}
			if cmd.Flags().Changed("credentials-file") {
				cfg.InitialAdminCredentialsPath = credentialsPath
			}
			cfg.BootstrapAdminEnabled = true

			stores, err := core.OpenStores(cmd.Context(), cfg)
			if err != nil {
				return oops.Code("DB_CONNECT_FAILED").Wrap(err)
			}
			defer stores.Close()

			admin, err := core.BootstrapAdmin(cmd.Context(), stores.Accounts, core.NewPasswordHasher(cfg.BcryptCost), cfg)
			if err != nil {
				return oops.Code("BOOTSTRAP_FAILED").Wrap(err)
			}
			if admin == nil {
				cmd.Println("An admin account already exists; nothing to do")
				return nil
			}
			cmd.Printf("Created admin %q\n", admin.Username)
			return nil
		},
	}
	cmd.Flags().StringVar(&credentialsPath, "credentials-file", "", "where to write the initial credentials (empty logs them)")
	return cmd
}
