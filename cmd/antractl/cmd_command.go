package main

import (
	"fmt"
	"strings"

	"github.com/berfenger/antra2mqtt/pkg/pylontech"

	"github.com/spf13/cobra"
)

var (
	groupFlag   int
	batteryFlag int
	cid2Flag    string
	infoFlag    string
)

var commandCmd = &cobra.Command{
	Use:   "command",
	Short: "Build a command frame",
	RunE: func(cmd *cobra.Command, args []string) error {
		adr, err := pylontech.Address(groupFlag, batteryFlag)
		if err != nil {
			return err
		}
		frame := pylontech.BuildCommand(adr, strings.ToUpper(cid2Flag), strings.ToUpper(infoFlag))
		// without the trailing carriage return
		fmt.Fprintln(cmd.OutOrStdout(), string(frame[:len(frame)-1]))
		return nil
	},
}

var checksumCmd = &cobra.Command{
	Use:   "checksum <body>",
	Short: "Compute the checksum of a frame body (between SOI and CHKSUM)",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		body := strings.TrimPrefix(strings.TrimSpace(args[0]), string(pylontech.SOI))
		fmt.Fprintf(cmd.OutOrStdout(), "%04X\n", pylontech.Checksum([]byte(body)))
	},
}

func init() {
	commandCmd.Flags().IntVarP(&groupFlag, "group", "g", 0, "Battery group (0-7)")
	commandCmd.Flags().IntVarP(&batteryFlag, "battery", "b", 0, "Battery in the group, 0 for the master")
	commandCmd.Flags().StringVar(&cid2Flag, "cid2", pylontech.CID2AnalogValues, "Command code")
	commandCmd.Flags().StringVar(&infoFlag, "info", pylontech.InfoNone, "INFO payload")
	rootCmd.AddCommand(commandCmd)
	rootCmd.AddCommand(checksumCmd)
}
