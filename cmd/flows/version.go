package main

import (
	"fmt"
	"strings"

	"github.com/aretw0/flows"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of flows",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("flows version %s\n", strings.TrimSpace(flows.Version))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
