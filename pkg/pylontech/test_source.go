package pylontech

import (
	"context"
	"sync"
	"time"

	"github.com/berfenger/antra2mqtt/pkg/bms"
)

// CapturedResponse is an analog values response of a two battery Antra
// group: 53.41V, 80% SOC, both batteries charging (534.1W + 266W).
const CapturedResponse = "~22004A0071EA" +
	// header
	"14DD000A00640050005000D200C80D0C0CF800B400E60004000000000000001002" +
	// battery 1
	"00005014DD100D020D030D040D050D060D070D080D090D0A0D0B0D0C0D0D0D0E0D0F0D10" +
	"0D1100C800D200DC0400C800CD00D200D703E8001000640027101F40002A0D110D0200E6" +
	"00B40000000000D20D09123411110000000100000020000300000000000000050000" +
	// battery 2
	"01004B14C8100D020D030D040D050D060D070D080D090D0A0D0B0D0C0D0D0D0E0D0F0D10" +
	"0D1100C800D200DC0400C800CD00D200D701F4001000640027101D4C002A0D110D0200E6" +
	"00B40000000000D20D090FA00BB80000000100000020000300000000000000050000" +
	"984C\r"

// TestSource replays a fixed response through a variant, for tests and dry
// runs without a BMS on the line.
type TestSource struct {
	mu      sync.Mutex
	variant bms.Variant
	info    []byte
	err     error
	reads   int
}

func NewTestSource(variant bms.Variant) (*TestSource, error) {
	resp, err := ParseResponse([]byte(CapturedResponse))
	if err != nil {
		return nil, err
	}
	return &TestSource{variant: variant, info: resp.Info}, nil
}

func (s *TestSource) Variant() bms.Variant {
	return s.variant
}

// FailWith makes the following reads return err, nil restores them.
func (s *TestSource) FailWith(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *TestSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *TestSource) ReadFrame(ctx context.Context) (*bms.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if s.err != nil {
		return nil, s.err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.variant.DecodeFrame(s.info, time.Now())
}

func (s *TestSource) Close() error {
	return nil
}
