package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of mlarrays",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("%s v%s\n", Name, Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
