package cmd

import (
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "drivelog",
	Short: "driver work-day journal",
	Long:  `drivelog records drivers' trips, on-site work, shopping and idle time, keeps a per-vehicle fuel ledger and builds work-day reports with cost allocation per project`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	},
}

func defaultSettingsPath() string {
	if p := os.Getenv("DRIVELOG_SETTINGS"); p != "" {
		return p
	}
	return "settings.toml"
}

func init() {
	RootCmd.PersistentFlags().String("settings", "", "settings file path (default $DRIVELOG_SETTINGS or settings.toml)")
	RootCmd.PersistentFlags().String("storage", string(storagePostgres), "storage backend (postgres, memory)")

	RootCmd.AddCommand(serverCommand())
	RootCmd.AddCommand(migrateCommand())
	RootCmd.AddCommand(reportCommand())
	RootCmd.AddCommand(fuelCommand())
}
