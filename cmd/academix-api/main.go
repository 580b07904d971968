package main

import (
	"os"

	"github.com/spf13/cobra"
)

// @title Academix API
// @version 1.0.0
// @description Course platform backend: catalog, lessons, enrollments, reviews and payments
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	rootCmd := &cobra.Command{
		Use:           "academix-api",
		Short:         "Academix course platform API",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	rootCmd.AddCommand(newServeCmd(), newMigrateCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
