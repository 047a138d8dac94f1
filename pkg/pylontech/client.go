package pylontech

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/berfenger/antra2mqtt/pkg/bms"
)

type Querier interface {
	Query(ctx context.Context, command []byte) (*Response, error)
}

// Client polls a battery group for analog values and decodes them with a
// variant table.
type Client struct {
	transport Querier
	variant   bms.Variant
	group     int
	now       func() time.Time
}

func NewClient(transport Querier, variant bms.Variant, group int) (*Client, error) {
	if _, err := Address(group, 0); err != nil {
		return nil, err
	}
	return &Client{
		transport: transport,
		variant:   variant,
		group:     group,
		now:       time.Now,
	}, nil
}

func (c *Client) Variant() bms.Variant {
	return c.variant
}

// ReadFrame sends a system query (42h) and decodes the response.
func (c *Client) ReadFrame(ctx context.Context) (*bms.Frame, error) {
	adr, _ := Address(c.group, 0)
	resp, err := c.transport.Query(ctx, BuildCommand(adr, CID2AnalogValues, InfoNone))
	if err != nil {
		return nil, err
	}
	frame, err := c.variant.DecodeFrame(resp.Info, c.now())
	if err != nil {
		return nil, fmt.Errorf("decode %s frame: %w", c.variant.Name(), err)
	}
	return frame, nil
}

// ProtocolVersion asks the master battery (4Fh) for the protocol version,
// reported in the VER field.
func (c *Client) ProtocolVersion(ctx context.Context) (string, error) {
	adr, _ := Address(c.group, 0)
	resp, err := c.transport.Query(ctx, BuildCommand(adr, CID2ProtocolVersion, InfoNone))
	if err != nil {
		return "", err
	}
	return resp.Version, nil
}

func (c *Client) Close() error {
	if closer, ok := c.transport.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}
