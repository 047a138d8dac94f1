package actor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"go.uber.org/zap"
)

// SinkActor forwards sensor updates to a MetricSink. Updates are buffered
// and flushed periodically, keeping only the last value of each sensor.
type SinkActor struct {
	behavior       actor.Behavior
	sink           port.MetricSink
	interval       time.Duration
	eventStream    *eventstream.EventStream
	eventStreamSub *eventstream.Subscription
	scheduler      *scheduler.TimerScheduler
	pending        map[string]SinkRecord
	order          []string
	failures       int
	logger         *zap.Logger
}

// SinkRecord is the payload produced for every sensor update.
type SinkRecord struct {
	Id        string    `json:"id"`
	Value     any       `json:"value"`
	Undefined bool      `json:"undefined,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type sinkFlushTick struct {
}

type sinkFlushResult struct {
	sent int
	err  error
}

func NewSinkActor(sink port.MetricSink, interval time.Duration, eventStream *eventstream.EventStream, logger *zap.Logger) *SinkActor {
	act := &SinkActor{
		sink:        sink,
		interval:    interval,
		eventStream: eventStream,
		behavior:    actor.NewBehavior(),
		pending:     map[string]SinkRecord{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_SINK, logger),
	}
	act.behavior.Become(act.DefaultReceive)
	return act
}

func (state *SinkActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *SinkActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("sink@default started")
		self := ctx.Self()
		root := ctx.ActorSystem().Root
		if state.eventStream != nil {
			state.eventStreamSub = state.eventStream.Subscribe(func(value any) {
				root.Send(self, OnEventStreamMessage{message: value})
			})
		}
		state.scheduler = scheduler.NewTimerScheduler(ctx)
		state.scheduler.RequestOnce(state.interval, ctx.Self(), sinkFlushTick{})
	case *actor.Stopping:
		state.unsubscribe()
		state.flush(ctx)
	case *actor.Restarting:
		state.unsubscribe()
	case domain.ActorHealthRequest:
		state.logger.Debug("sink@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_SINK,
			Healthy: state.failures < 3,
			State:   fmt.Sprintf("pending=%d", len(state.pending)),
		})
	case OnEventStreamMessage:
		if record, ok := EventToSinkRecord(msg.message); ok {
			state.add(record)
		}
	case sinkFlushTick:
		state.flush(ctx)
		state.scheduler.RequestOnce(state.interval, ctx.Self(), sinkFlushTick{})
	case sinkFlushResult:
		if msg.err != nil {
			state.failures++
			state.logger.Warn("sink@default flush failed", zap.Error(msg.err), zap.Int("failures", state.failures))
		} else {
			state.failures = 0
			state.logger.Debug("sink@default flushed", zap.Int("records", msg.sent))
		}
	default:
		state.logger.Debug("sink@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *SinkActor) add(record SinkRecord) {
	if _, ok := state.pending[record.Id]; !ok {
		state.order = append(state.order, record.Id)
	}
	state.pending[record.Id] = record
}

func (state *SinkActor) flush(ctx actor.Context) {
	if len(state.pending) == 0 {
		return
	}
	records := make([]SinkRecord, 0, len(state.order))
	for _, id := range state.order {
		records = append(records, state.pending[id])
	}
	state.pending = map[string]SinkRecord{}
	state.order = nil

	sink := state.sink
	actorutil.NewBackgroundTask(ctx, func() (*sinkFlushResult, error) {
		sent, err := produceRecords(sink, records)
		return &sinkFlushResult{sent: sent, err: err}, nil
	}).WithTimeout(5 * time.Second).Recover(func(err error) sinkFlushResult {
		return sinkFlushResult{err: err}
	}).PipeTo(ctx.Self())
}

func (state *SinkActor) unsubscribe() {
	if state.eventStream != nil && state.eventStreamSub != nil {
		state.eventStream.Unsubscribe(state.eventStreamSub)
		state.eventStreamSub = nil
	}
}

func produceRecords(sink port.MetricSink, records []SinkRecord) (int, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i, r := range records {
		payload, err := json.Marshal(r)
		if err != nil {
			return i, err
		}
		if err := sink.Produce(ctx, r.Id, payload); err != nil {
			return i, err
		}
	}
	return len(records), nil
}

// EventToSinkRecord converts a sensor update to its sink payload.
func EventToSinkRecord(event any) (SinkRecord, bool) {
	switch ev := event.(type) {
	case domain.FloatSensorUpdateEvent:
		r := SinkRecord{Id: ev.Id, Timestamp: ev.Timestamp, Undefined: ev.Undefined}
		if !ev.Undefined {
			r.Value = ev.Value
		}
		return r, true
	case domain.InputNumberSensorUpdateEvent:
		return SinkRecord{Id: ev.Id, Timestamp: ev.Timestamp, Value: ev.Value}, true
	case domain.TextSensorUpdateEvent:
		return SinkRecord{Id: ev.Id, Timestamp: ev.Timestamp, Value: ev.Value}, true
	case domain.SelectUpdateEvent:
		return SinkRecord{Id: ev.Id, Timestamp: ev.Timestamp, Value: ev.Value}, true
	case domain.BinarySensorUpdateEvent:
		return SinkRecord{Id: ev.Id, Timestamp: ev.Timestamp, Value: ev.Value}, true
	case domain.BridgeStateUpdateEvent:
		return SinkRecord{Id: ev.Id, Timestamp: ev.Timestamp, Value: ev.Value}, true
	}
	return SinkRecord{}, false
}
