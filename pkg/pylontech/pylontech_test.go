package pylontech

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/fieldspec"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func frameOf(body string) string {
	return fmt.Sprintf("~%s%04X\r", body, Checksum([]byte(body)))
}

func TestBuildCommand(t *testing.T) {
	assert := assert.New(t)

	assert.Equal(uint16(0xFCFE), Checksum([]byte("22004A42E002FF")))
	assert.Equal("~22004A42E002FFFCFE\r", string(BuildCommand(0x00, CID2AnalogValues, InfoNone)))
	assert.Equal("~22004A4FE002FFFCEA\r", string(BuildCommand(0x00, CID2ProtocolVersion, InfoNone)))

	adr, err := Address(1, 0)
	assert.NoError(err)
	assert.Equal(byte(0x10), adr)
	assert.Equal("~22104A42E002FFFCFD\r", string(BuildCommand(adr, CID2AnalogValues, InfoNone)))
}

func TestLengthField(t *testing.T) {
	assert := assert.New(t)

	assert.Equal("E002", LengthField(2))
	assert.Equal("71EA", LengthField(490))
	assert.Equal("0000", LengthField(0))
}

func TestAddress(t *testing.T) {
	assert := assert.New(t)

	adr, err := Address(2, 3)
	assert.NoError(err)
	assert.Equal(byte(0x23), adr)

	_, err = Address(8, 0)
	assert.Error(err)
	_, err = Address(0, 16)
	assert.Error(err)
	_, err = Address(-1, 0)
	assert.Error(err)
}

func TestParseCapturedResponse(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	resp, err := ParseResponse([]byte(CapturedResponse))
	require.NoError(err)
	assert.Equal("22", resp.Version)
	assert.Equal(byte(0), resp.Address)
	assert.Equal("4A", resp.CID1)
	assert.Equal("00", resp.RTN)
	assert.Len(resp.Info, 490)
}

func TestParseResponseErrors(t *testing.T) {
	assert := assert.New(t)

	corrupted := strings.Replace(CapturedResponse, "14DD", "14DE", 1)
	_, err := ParseResponse([]byte(corrupted))
	assert.ErrorIs(err, ErrChecksum)

	_, err = ParseResponse([]byte(strings.TrimPrefix(CapturedResponse, "~")))
	assert.ErrorIs(err, ErrFrameFormat)

	_, err = ParseResponse([]byte("~2200\r"))
	assert.ErrorIs(err, ErrFrameFormat)

	// LENID says 4 chars, INFO has 2
	_, err = ParseResponse([]byte(frameOf("22004A00" + LengthField(4) + "AB")))
	assert.ErrorIs(err, ErrLength)

	_, err = ParseResponse([]byte(frameOf("22004A02" + LengthField(0))))
	var rerr *ResponseError
	if assert.ErrorAs(err, &rerr) {
		assert.Equal("02", rerr.Code)
		assert.Equal("CHKSUM error", rerr.Description())
	}

	_, err = ParseResponse([]byte(frameOf("22004A7F" + LengthField(0))))
	if assert.ErrorAs(err, &rerr) {
		assert.Equal("Unknown return code", rerr.Description())
	}
}

func decodeCaptured(t *testing.T, variant string) *bms.Frame {
	t.Helper()
	v, err := bms.Lookup(variant)
	require.NoError(t, err)
	resp, err := ParseResponse([]byte(CapturedResponse))
	require.NoError(t, err)

	info := resp.Info
	if v.Table().Header.Encoding == fieldspec.EncodingBinary {
		info, err = hex.DecodeString(string(resp.Info))
		require.NoError(t, err)
	}
	frame, err := v.DecodeFrame(info, time.Now())
	require.NoError(t, err)
	return frame
}

func TestDecodeCapturedFrame(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	frame := decodeCaptured(t, VariantAntra)
	assert.Equal("2.1", frame.LayoutVersion)

	h := frame.Header
	assert.InDelta(53.41, h.Float(bms.FieldVoltage), 1e-9)
	assert.InDelta(10.0, h.Float(bms.FieldCurrent), 1e-9)
	assert.InDelta(80.0, h.Float(bms.FieldSOC), 1e-9)
	assert.InDelta(3.340, h.Float(bms.FieldMaxCellVoltage), 1e-9)
	assert.InDelta(18.0, h.Float(bms.FieldTemperatureMin), 1e-9)
	assert.Equal(int64(16), h.Int(bms.FieldCellCount))
	assert.Equal(int64(2), h.Int(bms.FieldBatteryCount))

	// 40-43 is the max temperature, 44-47 a raw status code
	assert.InDelta(23.0, h.Float(bms.FieldTemperatureMax), 1e-9)
	assert.GreaterOrEqual(h.Float(bms.FieldTemperatureMax), 0.0)
	assert.LessOrEqual(h.Float(bms.FieldTemperatureMax), 60.0)
	assert.Equal(fieldspec.KindRawStatus, h[bms.FieldAlarmStatus].Kind)
	assert.Equal(int64(4), h.Int(bms.FieldAlarmStatus))

	require.Len(frame.Batteries, 2)
	b := frame.Batteries[0].Values
	assert.Equal(1, frame.Batteries[0].Number())
	assert.InDelta(80.0, b.Float(bms.FieldSOC), 1e-9)
	assert.InDelta(53.41, b.Float(bms.FieldVoltage), 1e-9)
	assert.InDelta(10.0, b.Float(bms.FieldCurrent), 1e-9)
	cells := b.Elements(bms.FieldCellVoltages)
	require.Len(cells, 16)
	assert.InDelta(3.330, cells[0], 1e-9)
	assert.InDelta(3.345, cells[15], 1e-9)
	temps := b.Elements(bms.FieldTemperatures)
	require.Len(temps, 4)
	assert.InDelta(21.5, temps[3], 1e-9)
	assert.Equal(int64(100), b.Int(bms.FieldSOH))
	assert.InDelta(100.0, b.Float(bms.FieldFullChargeCapacity), 1e-9)
	assert.InDelta(80.0, b.Float(bms.FieldRemainingCapacity), 1e-9)
	assert.Equal(int64(42), b.Int(bms.FieldCycleCount))
	assert.InDelta(3.337, b.Float(bms.FieldAvgCellVoltage), 1e-9)
	assert.InDelta(21.0, b.Float(bms.FieldAvgCellTemp), 1e-9)
	assert.Equal(int64(0x1234), b.Int(bms.FieldTotalCharge))
	assert.Equal(int64(0x1111), b.Int(bms.FieldTotalDischarge))

	texts := bms.StatusTexts(b)
	assert.Equal("Charging", texts[bms.StatusCurrent])
	assert.Equal("LED Alarm Enable", texts[bms.StatusAlarm])
	assert.Equal("1, 3", texts[bms.StatusUndervoltageAlarm])

	b2 := frame.Batteries[1].Values
	assert.Equal(2, frame.Batteries[1].Number())
	assert.InDelta(53.20, b2.Float(bms.FieldVoltage), 1e-9)
	assert.InDelta(5.0, b2.Float(bms.FieldCurrent), 1e-9)
	assert.InDelta(75.0, b2.Float(bms.FieldRemainingCapacity), 1e-9)

	power, ok := frame.Power()
	assert.True(ok)
	assert.InDelta(800.1, power, 1e-6)
}

func TestModbusLayoutMatchesSerial(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	serial := decodeCaptured(t, VariantAntra)
	binary := decodeCaptured(t, VariantModbus)

	assert.Equal(serial.Header, binary.Header)
	require.Len(binary.Batteries, len(serial.Batteries))
	for i := range serial.Batteries {
		assert.Equal(serial.Batteries[i].Values, binary.Batteries[i].Values)
	}
}

type fakePort struct {
	mu      sync.Mutex
	chunks  [][]byte
	written [][]byte
}

func (p *fakePort) Read(buf []byte) (int, error) {
	p.mu.Lock()
	if len(p.chunks) == 0 {
		p.mu.Unlock()
		time.Sleep(time.Millisecond)
		return 0, nil
	}
	defer p.mu.Unlock()
	n := copy(buf, p.chunks[0])
	if n < len(p.chunks[0]) {
		p.chunks[0] = p.chunks[0][n:]
	} else {
		p.chunks = p.chunks[1:]
	}
	return n, nil
}

func (p *fakePort) Write(buf []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.written = append(p.written, append([]byte(nil), buf...))
	return len(buf), nil
}

func (p *fakePort) SetReadTimeout(time.Duration) error { return nil }
func (p *fakePort) ResetInputBuffer() error            { return nil }
func (p *fakePort) Close() error                       { return nil }

func newTestTransport(t *testing.T, chunks ...string) (*SerialTransport, *fakePort) {
	t.Helper()
	port := &fakePort{}
	for _, c := range chunks {
		port.chunks = append(port.chunks, []byte(c))
	}
	tr, err := NewSerialTransport(port, SerialConfig{
		ReadTimeout:  100 * time.Millisecond,
		CommandDelay: time.Millisecond,
	}, zap.NewNop())
	require.NoError(t, err)
	return tr, port
}

func TestSerialTransportSkipsForeignFrames(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	polling := frameOf("22024A42E00202")
	badChecksum := strings.Replace(CapturedResponse, "984C", "984D", 1)
	half := len(CapturedResponse) / 2

	tr, port := newTestTransport(t,
		"noise"+polling,
		badChecksum,
		CapturedResponse[:half],
		CapturedResponse[half:],
	)

	command := BuildCommand(0x00, CID2AnalogValues, InfoNone)
	resp, err := tr.Query(context.Background(), command)
	require.NoError(err)
	assert.Len(resp.Info, 490)
	require.Len(port.written, 1)
	assert.Equal(command, port.written[0])
}

func TestSerialTransportTimeout(t *testing.T) {
	tr, _ := newTestTransport(t, frameOf("22024A42E00202"))
	_, err := tr.Query(context.Background(), BuildCommand(0x00, CID2AnalogValues, InfoNone))
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestSerialTransportContextCancel(t *testing.T) {
	tr, _ := newTestTransport(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := tr.Query(ctx, BuildCommand(0x00, CID2AnalogValues, InfoNone))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSerialTransportResponseError(t *testing.T) {
	info := strings.Repeat("0", 20)
	tr, _ := newTestTransport(t, frameOf("22004A06"+LengthField(len(info))+info))

	_, err := tr.Query(context.Background(), BuildCommand(0x00, CID2AnalogValues, InfoNone))
	var rerr *ResponseError
	if assert.ErrorAs(t, err, &rerr) {
		assert.Equal(t, "Invalid data", rerr.Description())
	}
}

func TestClient(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	variant, err := bms.Lookup(VariantAntra)
	require.NoError(err)

	tr, port := newTestTransport(t,
		CapturedResponse,
		// short polling command, then the version response
		frameOf("22024A42E00202"),
		frameOf("22004A00"+LengthField(0)),
	)
	client, err := NewClient(tr, variant, 0)
	require.NoError(err)

	frame, err := client.ReadFrame(context.Background())
	require.NoError(err)
	assert.Equal(VariantAntra, frame.Variant)
	assert.Len(frame.Batteries, 2)
	assert.False(frame.Timestamp.IsZero())

	version, err := client.ProtocolVersion(context.Background())
	require.NoError(err)
	assert.Equal("22", version)

	require.Len(port.written, 2)
	assert.Equal("~22004A4FE002FFFCEA\r", string(port.written[1]))

	_, err = NewClient(tr, variant, 9)
	assert.Error(err)
}

func TestTestSource(t *testing.T) {
	variant, err := bms.Lookup(VariantAntra)
	require.NoError(t, err)

	src, err := NewTestSource(variant)
	require.NoError(t, err)

	frame, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Len(t, frame.Batteries, 2)

	src.FailWith(ErrTimeout)
	_, err = src.ReadFrame(context.Background())
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 2, src.Reads())
}
