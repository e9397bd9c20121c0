package main

import (
	"github.com/spf13/cobra"

	"partner_portal/internal/seed"
)

var (
	seedAdminEmail    string
	seedAdminPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the admin user, default stages and indexes",
	Long: `Create the admin user and the default onboarding stages if they are
missing. Indexes are ensured on every start. A password is generated and
logged when --admin-password is not given.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		a, err := bootstrap(cmd.Context())
		if err != nil {
			return err
		}
		defer a.close()

		_, err = seed.FirstSetup(cmd.Context(), a.gdb, a.store.Settings, seed.Options{
			AdminEmail:    seedAdminEmail,
			AdminPassword: seedAdminPassword,
			Stages:        a.cfg.Portal.DefaultStages,
		}, a.log)
		return err
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedAdminEmail, "admin-email", seed.DefaultAdminEmail, "email of the admin account")
	seedCmd.Flags().StringVar(&seedAdminPassword, "admin-password", "", "password for a newly created admin")
}
