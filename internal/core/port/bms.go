package port

import (
	"context"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/pkg/bms"
)

// FrameSource reads one decoded telemetry frame per call.
type FrameSource interface {
	ReadFrame(ctx context.Context) (*bms.Frame, error)
	Variant() bms.Variant
	Close() error
}

type StateStore interface {
	// Load returns ok == false when nothing was persisted yet
	Load(ctx context.Context) (state domain.AccountingState, ok bool, err error)
	Save(ctx context.Context, state domain.AccountingState) error
	Close() error
}

// MetricSink forwards published metrics to an external system.
type MetricSink interface {
	Produce(ctx context.Context, key string, payload []byte) error
	Close() error
}
