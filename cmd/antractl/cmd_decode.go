package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/berfenger/antra2mqtt/pkg/pylontech"

	"github.com/spf13/cobra"
)

var decodeCmd = &cobra.Command{
	Use:   "decode [frame]",
	Short: "Decode a captured response frame",
	Long: `Decode a response frame (~...) given as argument or read from stdin.
The trailing carriage return is optional.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := frameArg(args, cmd.InOrStdin())
		if err != nil {
			return err
		}
		variant, err := resolveVariant()
		if err != nil {
			return err
		}
		resp, err := pylontech.ParseResponse([]byte(raw))
		if err != nil {
			return err
		}
		frame, err := variant.DecodeFrame(resp.Info, time.Now())
		if err != nil {
			return err
		}
		return printFrame(cmd.OutOrStdout(), frame, jsonFlag)
	},
}

func init() {
	rootCmd.AddCommand(decodeCmd)
}

// frameArg returns the frame with its EOI, from args or the first line of r.
func frameArg(args []string, r io.Reader) (string, error) {
	var raw string
	if len(args) == 1 && args[0] != "-" {
		raw = args[0]
	} else {
		line, err := bufio.NewReader(r).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}
		raw = line
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("no frame given")
	}
	if !strings.HasPrefix(raw, string(pylontech.SOI)) {
		raw = string(pylontech.SOI) + raw
	}
	return raw + string(pylontech.EOI), nil
}

