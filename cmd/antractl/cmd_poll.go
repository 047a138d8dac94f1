package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/berfenger/antra2mqtt/internal/adapter/source"
	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/port"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	portFlag      string
	baudFlag      int
	transportFlag string
	modbusURLFlag string
	unitIdFlag    uint8
	intervalFlag  time.Duration
	countFlag     int
	verboseFlag   bool
)

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Continuously poll the battery group",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := zap.NewNop()
		if verboseFlag {
			logger = zap.Must(zap.NewDevelopment())
		}
		src, err := source.NewFrameSource(config.BMSConfig{
			Variant:            variantFlag,
			LayoutFile:         layoutFlag,
			Transport:          transportFlag,
			SerialPort:         portFlag,
			BaudRate:           baudFlag,
			Group:              groupFlag,
			ReadTimeoutMillis:  2000,
			CommandDelayMillis: 900,
			Modbus: config.BMSModbusConfig{
				URL:    modbusURLFlag,
				UnitId: unitIdFlag,
			},
		}, logger)
		if err != nil {
			return err
		}
		defer src.Close()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return executePoll(ctx, cmd, src)
	},
}

func init() {
	pollCmd.Flags().StringVarP(&portFlag, "port", "p", "/dev/ttyUSB0", "Serial port device path")
	pollCmd.Flags().IntVar(&baudFlag, "baud", 9600, "Serial baud rate")
	pollCmd.Flags().IntVarP(&groupFlag, "group", "g", 0, "Battery group (0-7)")
	pollCmd.Flags().StringVarP(&transportFlag, "transport", "t", config.TRANSPORT_SERIAL, "serial, modbus or test")
	pollCmd.Flags().StringVar(&modbusURLFlag, "modbus-url", "tcp://localhost:502", "Modbus URL")
	pollCmd.Flags().Uint8Var(&unitIdFlag, "unit-id", 1, "Modbus unit id")
	pollCmd.Flags().DurationVarP(&intervalFlag, "interval", "i", 5*time.Second, "Polling interval")
	pollCmd.Flags().IntVarP(&countFlag, "count", "c", 0, "Stop after this many reads, 0 polls until interrupted")
	pollCmd.Flags().BoolVar(&verboseFlag, "verbose", false, "Log transport details")
	rootCmd.AddCommand(pollCmd)
}

// executePoll reads a frame every interval. Read errors are printed and the
// next read is attempted.
func executePoll(ctx context.Context, cmd *cobra.Command, src port.FrameSource) error {
	ticker := time.NewTicker(intervalFlag)
	defer ticker.Stop()

	for n := 1; ; n++ {
		readCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		frame, err := src.ReadFrame(readCtx)
		cancel()
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "Error reading frame: %v\n", err)
		} else if err := printFrame(cmd.OutOrStdout(), frame, jsonFlag); err != nil {
			return err
		}
		if countFlag > 0 && n >= countFlag {
			return nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
