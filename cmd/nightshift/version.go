package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/james-alvey-42/nightshift/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("nightshift version %s\n", version.String())
	},
}
