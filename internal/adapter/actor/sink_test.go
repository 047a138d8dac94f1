package actor

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memorySink struct {
	mu       sync.Mutex
	keys     []string
	payloads [][]byte
}

func (s *memorySink) Produce(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, key)
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *memorySink) Close() error {
	return nil
}

func (s *memorySink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

func TestSinkActor(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	es := &eventstream.EventStream{}
	sink := &memorySink{}
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewSinkActor(sink, 100*time.Millisecond, es, logger)
	}))

	result, err := as.Root.RequestFuture(pid, domain.ActorHealthRequest{}, time.Second).Result()
	require.NoError(err)
	assert.True(result.(domain.ActorHealthResponse).Healthy)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, v := range []float64{1, 2, 3} {
		es.Publish(domain.FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_PACK_VOLTAGE, Timestamp: ts},
			Value:                  v,
		})
	}
	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_ESTIMATED_CHARGE_TIME, Timestamp: ts},
		Undefined:              true,
	})

	require.Eventually(func() bool { return sink.Len() == 2 }, 2*time.Second, 20*time.Millisecond)

	sink.mu.Lock()
	defer sink.mu.Unlock()
	assert.Equal([]string{domain.SENSOR_ID_PACK_VOLTAGE, domain.SENSOR_ID_ESTIMATED_CHARGE_TIME}, sink.keys)

	var record map[string]any
	require.NoError(json.Unmarshal(sink.payloads[0], &record))
	assert.Equal(3.0, record["value"])
	require.NoError(json.Unmarshal(sink.payloads[1], &record))
	assert.Nil(record["value"])
	assert.Equal(true, record["undefined"])
}

func TestEventToSinkRecord(t *testing.T) {
	assert := assert.New(t)

	r, ok := EventToSinkRecord(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_CHARGE_STATUS},
		Value:                  "idle",
	})
	assert.True(ok)
	assert.Equal("idle", r.Value)

	_, ok = EventToSinkRecord("other")
	assert.False(ok)
}
