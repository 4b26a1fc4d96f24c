package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/md-rashed-zaman/apptengine/libs/config"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var envFiles []string
	root := &cobra.Command{
		Use:          "booking-service",
		Short:        "Appointment scheduling engine",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				return fmt.Errorf("load env files: %w", err)
			}
			return nil
		},
	}
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(sweepCmd())
	root.AddCommand(healthcheckCmd())
	return root
}
