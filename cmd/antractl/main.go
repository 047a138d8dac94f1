package main

import (
	"fmt"
	"os"

	"github.com/berfenger/antra2mqtt/internal/adapter/source"
	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/pkg/bms"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	variantFlag string
	layoutFlag  string
	jsonFlag    bool
)

var rootCmd = &cobra.Command{
	Use:   "antractl",
	Short: "antractl - Antra/Pylontech BMS tool",
	Long: `antractl decodes Pylontech RS485 frames with the same variant tables
antra2mqtt uses, polls a battery group and builds protocol commands.`,
	SilenceUsage: true,
}

func init() {
	// Disable the default help command (use --help flag instead)
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	// Global flags (available to all commands)
	rootCmd.PersistentFlags().StringVarP(&variantFlag, "variant", "v", "antra", "BMS variant")
	rootCmd.PersistentFlags().StringVarP(&layoutFlag, "layout", "l", "", "YAML layout file replacing the variant table")
	rootCmd.PersistentFlags().BoolVarP(&jsonFlag, "json", "j", false, "Output in JSON format")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveVariant applies the global variant and layout flags.
func resolveVariant() (bms.Variant, error) {
	v, err := source.Variant(config.BMSConfig{Variant: variantFlag, LayoutFile: layoutFlag})
	if err != nil {
		return nil, fmt.Errorf("%w (known variants: %v)", err, bms.Names())
	}
	return v, nil
}
