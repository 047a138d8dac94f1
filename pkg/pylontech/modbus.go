package pylontech

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

type ModbusConfig struct {
	// tcp://host:port or rtu:///dev/ttyUSB0
	URL      string
	BaudRate uint
	UnitID   uint8
	// first holding register of the pack header
	Address uint16
	Timeout time.Duration
}

type ModbusInstrument struct {
	RecordTime func(fnName string, readTime time.Duration)
}

// ModbusSource reads the analog values register image of a battery group
// and decodes it with a binary variant table. The header block is followed
// by one block per battery, each starting on a register boundary.
type ModbusSource struct {
	client     *modbus.ModbusClient
	variant    bms.Variant
	cfg        ModbusConfig
	instrument []ModbusInstrument
	now        func() time.Time
}

func NewModbusSource(cfg ModbusConfig, variant bms.Variant, logger *zap.Logger) (*ModbusSource, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     cfg.URL,
		Speed:   cfg.BaudRate,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return nil, err
	}
	if cfg.UnitID > 0 {
		if err := client.SetUnitId(cfg.UnitID); err != nil {
			return nil, err
		}
	}

	log := logger.With(zap.String("target", "bms"), zap.Uint8("unit", cfg.UnitID))
	return &ModbusSource{
		client:  client,
		variant: variant,
		cfg:     cfg,
		instrument: []ModbusInstrument{{
			RecordTime: func(fnName string, readTime time.Duration) {
				log.Debug(fmt.Sprintf("modbus [%s]: %d millis", fnName, readTime.Milliseconds()))
			},
		}},
		now: time.Now,
	}, nil
}

func (s *ModbusSource) Open() error {
	return s.client.Open()
}

func (s *ModbusSource) Close() error {
	return s.client.Close()
}

func (s *ModbusSource) Variant() bms.Variant {
	return s.variant
}

func (s *ModbusSource) ReadFrame(ctx context.Context) (*bms.Frame, error) {
	table := s.variant.Table()

	header, err := s.readRawBytes(s.cfg.Address, uint16(table.Header.Length))
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	values, err := table.Header.Decode(header)
	if err != nil {
		return nil, err
	}
	count := int(values.Int(table.BatteryCountField))
	if count < 0 || count > table.MaxBatteries {
		count = table.MaxBatteries
	}

	image := header
	addr := s.cfg.Address + registers(table.Header.Length)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		block, err := s.readRawBytes(addr, uint16(table.Battery.Length))
		if err != nil {
			return nil, fmt.Errorf("read battery %d: %w", i+1, err)
		}
		image = append(image, block...)
		addr += registers(table.Battery.Length)
	}

	return s.variant.DecodeFrame(image, s.now())
}

func (s *ModbusSource) readRawBytes(addr uint16, quantity uint16) ([]byte, error) {
	defer recordTimer("ReadRawBytes", s.instrument)()
	return s.client.ReadRawBytes(addr, quantity, modbus.HOLDING_REGISTER)
}

// registers is the number of 16 bit registers holding n bytes.
func registers(n int) uint16 {
	return uint16((n + 1) / 2)
}

func recordTimer(name string, instrument []ModbusInstrument) func() {
	if instrument == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration)
		}
	}
}
