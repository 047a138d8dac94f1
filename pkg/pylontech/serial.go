package pylontech

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"
)

var ErrTimeout = errors.New("timeout waiting for bms response")

// Port is the part of serial.Port the transport needs.
type Port interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	ResetInputBuffer() error
	Close() error
}

type SerialConfig struct {
	Port         string
	BaudRate     int
	ReadTimeout  time.Duration
	CommandDelay time.Duration
}

func (c SerialConfig) withDefaults() SerialConfig {
	if c.BaudRate == 0 {
		c.BaudRate = 9600
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.CommandDelay <= 0 {
		c.CommandDelay = DefaultCommandDelay
	}
	return c
}

// SerialTransport sends commands over an RS485 line and waits for the
// matching response. The bus is shared with the BMS master polling, so
// foreign and corrupted frames are skipped.
type SerialTransport struct {
	mu      sync.Mutex
	port    Port
	cfg     SerialConfig
	pending []byte
	logger  *zap.Logger
}

// pollInterval bounds each port read so the response deadline and context
// are checked regularly.
const pollInterval = 100 * time.Millisecond

func OpenSerial(cfg SerialConfig, logger *zap.Logger) (*SerialTransport, error) {
	cfg = cfg.withDefaults()
	mode := &serial.Mode{
		BaudRate: cfg.BaudRate,
		Parity:   serial.NoParity,
		DataBits: 8,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", cfg.Port, err)
	}
	t, err := NewSerialTransport(port, cfg, logger)
	if err != nil {
		port.Close()
		return nil, err
	}
	return t, nil
}

func NewSerialTransport(port Port, cfg SerialConfig, logger *zap.Logger) (*SerialTransport, error) {
	if err := port.SetReadTimeout(pollInterval); err != nil {
		return nil, fmt.Errorf("failed to set read timeout: %w", err)
	}
	return &SerialTransport{
		port:   port,
		cfg:    cfg.withDefaults(),
		logger: logger,
	}, nil
}

func (t *SerialTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.port.Close()
}

// Query writes command, waits the protocol command delay and returns the
// first valid response read within the read timeout.
func (t *SerialTransport) Query(ctx context.Context, command []byte) (*Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.port.ResetInputBuffer(); err != nil {
		t.logger.Debug("serial: reset input buffer", zap.Error(err))
	}
	t.pending = t.pending[:0]

	t.logger.Debug("serial: send", zap.ByteString("command", bytes.TrimSpace(command)))
	if _, err := t.port.Write(command); err != nil {
		return nil, fmt.Errorf("failed to write command: %w", err)
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(t.cfg.CommandDelay):
	}

	minLength := 0
	if commandCID2(command) == CID2AnalogValues {
		minLength = MinResponseLength
	}

	deadline := time.Now().Add(t.cfg.ReadTimeout)
	buf := make([]byte, 512)
	for {
		for {
			frame, ok := t.nextFrame()
			if !ok {
				break
			}
			resp, err := t.accept(frame, minLength)
			if resp != nil || err != nil {
				return resp, err
			}
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, ErrTimeout
		}
		n, err := t.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		t.pending = append(t.pending, buf[:n]...)
	}
}

// nextFrame cuts the next SOI..EOI frame out of the pending bytes. Bytes
// before SOI are line noise and dropped.
func (t *SerialTransport) nextFrame() ([]byte, bool) {
	end := bytes.IndexByte(t.pending, EOI)
	if end < 0 {
		return nil, false
	}
	raw := t.pending[:end+1]
	t.pending = t.pending[end+1:]
	if start := bytes.LastIndexByte(raw, SOI); start >= 0 {
		return bytes.Clone(raw[start:]), true
	}
	return nil, true
}

// accept returns a response, a terminal error, or neither when the frame is
// skipped. Short frames with a non normal RTN are polling commands of the
// master, not responses.
func (t *SerialTransport) accept(frame []byte, minLength int) (*Response, error) {
	if frame == nil {
		t.logger.Warn("serial: invalid frame format")
		return nil, nil
	}
	if len(frame) < minLength {
		t.logger.Debug("serial: skip short frame (master polling)", zap.Int("length", len(frame)))
		return nil, nil
	}
	resp, err := ParseResponse(frame)
	var rerr *ResponseError
	switch {
	case errors.As(err, &rerr) && len(frame) < MinResponseLength:
		t.logger.Debug("serial: skip short frame (master polling)", zap.Int("length", len(frame)))
		return nil, nil
	case errors.As(err, &rerr):
		return nil, err
	case err != nil:
		t.logger.Warn("serial: dropping frame", zap.Error(err))
		return nil, nil
	}
	return resp, nil
}

// commandCID2 extracts CID2 from a command frame built by BuildCommand.
func commandCID2(command []byte) string {
	if len(command) < 9 {
		return ""
	}
	return string(command[7:9])
}
