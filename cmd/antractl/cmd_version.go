package main

import (
	"fmt"
	"strings"

	"github.com/berfenger/antra2mqtt/pkg/bms"

	"github.com/carlmjohnson/versioninfo"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version and the known BMS variants",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "antractl %s\n", versioninfo.Short())
		fmt.Fprintf(cmd.OutOrStdout(), "variants: %s\n", strings.Join(bms.Names(), ", "))
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
