package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Write the test fixture organizations, contacts, companies and publications",
	Long:  "Replaces any previous test data. All fixture ids carry the test_ prefix.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "seed")
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.Seeder.Seed(ctx)
		if err != nil {
			return eris.Wrap(err, "seed")
		}
		zap.L().Info("test data seeded",
			zap.Int("organizations", res.Organizations),
			zap.Int("companies", res.Companies),
			zap.Int("publications", res.Publications),
			zap.Int64("contacts", res.Contacts),
		)
		return nil
	},
}

// -- seed cleanup --

var seedCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove all test data",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "seed")
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Seeder.Cleanup(ctx); err != nil {
			return eris.Wrap(err, "seed cleanup")
		}
		zap.L().Info("test data removed")
		return nil
	},
}

func init() {
	seedCmd.AddCommand(seedCleanupCmd)
	rootCmd.AddCommand(seedCmd)
}
