package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/wagate/internal/config"
	"github.com/nextlevelbuilder/wagate/internal/creds"
	"github.com/nextlevelbuilder/wagate/internal/session"
)

func seedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "seed <number> <base64-blob>",
		Short: "Pre-provision a credential record, bypassing the pairing flow",
		Long: `Seed writes an externally supplied base64 credential record for a
phone number, overwriting any existing record. A subsequent /status
check reports the number as active without any pairing.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			setupLogging(cfg.LogLevel)

			number, err := session.NormalizeNumber(args[0])
			if err != nil {
				return err
			}

			store := creds.NewFileStore(cfg.Auth.Dir)
			if err := store.Seed(number, args[1]); err != nil {
				return err
			}

			fmt.Printf("seeded credential record for %s\n", number)
			return nil
		},
	}
}
