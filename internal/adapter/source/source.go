package source

import (
	"fmt"
	"time"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/fieldspec"
	"github.com/berfenger/antra2mqtt/pkg/pylontech"

	"go.uber.org/zap"
)

// Variant resolves the configured variant. A layout file replaces the
// registered table and keeps the variant name.
func Variant(cfg config.BMSConfig) (bms.Variant, error) {
	if cfg.LayoutFile != "" {
		table, err := fieldspec.LoadTableFile(cfg.LayoutFile)
		if err != nil {
			return nil, fmt.Errorf("layout file %s: %w", cfg.LayoutFile, err)
		}
		return bms.NewTableVariant(cfg.Variant, table), nil
	}
	return bms.Lookup(cfg.Variant)
}

func NewFrameSource(cfg config.BMSConfig, logger *zap.Logger) (port.FrameSource, error) {
	variant, err := Variant(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case config.TRANSPORT_SERIAL, "":
		transport, err := pylontech.OpenSerial(pylontech.SerialConfig{
			Port:         cfg.SerialPort,
			BaudRate:     cfg.BaudRate,
			ReadTimeout:  time.Duration(cfg.ReadTimeoutMillis) * time.Millisecond,
			CommandDelay: time.Duration(cfg.CommandDelayMillis) * time.Millisecond,
		}, logger.With(zap.String("target", "bms")))
		if err != nil {
			return nil, err
		}
		client, err := pylontech.NewClient(transport, variant, cfg.Group)
		if err != nil {
			transport.Close()
			return nil, err
		}
		return client, nil
	case config.TRANSPORT_MODBUS:
		src, err := pylontech.NewModbusSource(pylontech.ModbusConfig{
			URL:      cfg.Modbus.URL,
			BaudRate: uint(cfg.BaudRate),
			UnitID:   cfg.Modbus.UnitId,
			Address:  cfg.Modbus.Address,
			Timeout:  time.Duration(cfg.ReadTimeoutMillis) * time.Millisecond,
		}, variant, logger)
		if err != nil {
			return nil, err
		}
		if err := src.Open(); err != nil {
			return nil, fmt.Errorf("modbus %s: %w", cfg.Modbus.URL, err)
		}
		return src, nil
	case config.TRANSPORT_TEST:
		return pylontech.NewTestSource(variant)
	}
	return nil, fmt.Errorf("unknown bms transport %q", cfg.Transport)
}
