package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "deals",
	Short: "Deal record service",
	Long:  `Validated deal record repository with reference data management and search`,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
