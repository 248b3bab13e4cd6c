package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/labrun"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of labrun",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "labrun version %s\n", strings.TrimSpace(labrun.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
