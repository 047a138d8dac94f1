package pylontech

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Frame layout: SOI VER ADR CID1 CID2/RTN LENGTH INFO CHKSUM EOI, every
// field but SOI and EOI ASCII hex encoded.
const (
	SOI = '~'
	EOI = '\r'

	Version  = "22"
	CID1     = "4A"
	InfoNone = "FF"

	CID2AnalogValues    = "42"
	CID2ProtocolVersion = "4F"

	// shorter frames on the bus are master polling traffic
	MinResponseLength = 30

	// the BMS needs at least 850ms between commands
	DefaultCommandDelay = 900 * time.Millisecond
	DefaultReadTimeout  = 2 * time.Second

	MaxGroup   = 7
	MaxBattery = 15

	// VER ADR CID1 RTN LENGTH
	responseHeaderLength = 12
	checksumLength       = 4
)

var (
	ErrFrameFormat = errors.New("malformed frame")
	ErrChecksum    = errors.New("frame checksum mismatch")
	ErrLength      = errors.New("frame length mismatch")
)

var returnCodes = map[string]string{
	"00": "Normal",
	"01": "VER error",
	"02": "CHKSUM error",
	"03": "LCHKSUM error",
	"04": "CID2 invalidation",
	"05": "Command format error",
	"06": "Invalid data",
	"90": "ADR error",
	"91": "Communication error",
}

// ResponseError is a well formed response carrying a non normal RTN code.
type ResponseError struct {
	Code string
}

func (e *ResponseError) Description() string {
	if d, ok := returnCodes[e.Code]; ok {
		return d
	}
	return "Unknown return code"
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("bms returned %s (%s)", e.Code, e.Description())
}

// Checksum is the two's complement of the sum of the ASCII characters
// between SOI and CHKSUM, modulo 65536.
func Checksum(body []byte) uint16 {
	var sum uint32
	for _, c := range body {
		sum += uint32(c)
	}
	return (uint16(sum%65536) ^ 0xFFFF) + 1
}

// LengthField encodes LENID (the INFO length in characters) with its
// LCHKSUM nibble.
func LengthField(lenID int) string {
	lenID &= 0x0FFF
	sum := (lenID & 0xF) + ((lenID >> 4) & 0xF) + ((lenID >> 8) & 0xF)
	lchksum := (^(sum % 16) + 1) & 0xF
	return fmt.Sprintf("%X%03X", lchksum, lenID)
}

// Address returns the ADR of battery n within group. n = 0 addresses the
// whole group (system query).
func Address(group, n int) (byte, error) {
	if group < 0 || group > MaxGroup {
		return 0, fmt.Errorf("group %d not in [0, %d]", group, MaxGroup)
	}
	if n < 0 || n > MaxBattery {
		return 0, fmt.Errorf("battery %d not in [0, %d]", n, MaxBattery)
	}
	return byte(n + 0x10*group), nil
}

func BuildCommand(adr byte, cid2 string, info string) []byte {
	body := fmt.Sprintf("%s%02X%s%s%s%s", Version, adr, CID1, cid2, LengthField(len(info)), info)
	return []byte(fmt.Sprintf("%c%s%04X%c", SOI, body, Checksum([]byte(body)), EOI))
}

type Response struct {
	Version string
	Address byte
	CID1    string
	RTN     string
	Info    []byte
}

// ParseResponse validates a complete frame (SOI to EOI) and splits it.
// A bad checksum returns ErrChecksum, a non normal RTN a *ResponseError.
func ParseResponse(frame []byte) (*Response, error) {
	if len(frame) < 2 || frame[0] != SOI || frame[len(frame)-1] != EOI {
		return nil, fmt.Errorf("%w: missing SOI/EOI", ErrFrameFormat)
	}
	body := frame[1 : len(frame)-1]
	if len(body) < responseHeaderLength+checksumLength {
		return nil, fmt.Errorf("%w: %d chars", ErrFrameFormat, len(body))
	}

	data := body[:len(body)-checksumLength]
	got, err := strconv.ParseUint(string(body[len(body)-checksumLength:]), 16, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: checksum is not hex", ErrFrameFormat)
	}
	if want := Checksum(data); uint16(got) != want {
		return nil, fmt.Errorf("%w: got %04X, want %04X", ErrChecksum, got, want)
	}

	adr, err := strconv.ParseUint(string(data[2:4]), 16, 8)
	if err != nil {
		return nil, fmt.Errorf("%w: address is not hex", ErrFrameFormat)
	}
	length, err := strconv.ParseUint(string(data[8:12]), 16, 16)
	if err != nil {
		return nil, fmt.Errorf("%w: length is not hex", ErrFrameFormat)
	}

	info := data[responseHeaderLength:]
	if LengthField(len(info)) != fmt.Sprintf("%04X", length) {
		return nil, fmt.Errorf("%w: LENGTH %04X for %d INFO chars", ErrLength, length, len(info))
	}

	resp := &Response{
		Version: string(data[0:2]),
		Address: byte(adr),
		CID1:    string(data[4:6]),
		RTN:     string(data[6:8]),
		Info:    info,
	}
	if resp.RTN != "00" {
		return resp, &ResponseError{Code: resp.RTN}
	}
	return resp, nil
}
