package actor

import (
	"testing"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/util"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMQTTActor(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()

	logger := zap.Must(zap.NewDevelopment())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	context := as.Root

	es := &eventstream.EventStream{}
	recorder := NewMessageRecorder()

	props := actor.PropsFromProducer(func() actor.Actor { return NewTestMQTTActor(&cfg, es, recorder, logger) })
	pid := context.Spawn(props)

	result, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 2*time.Second).Result()
	require.NoError(err)
	resp, ok := result.(domain.ActorHealthResponse)
	assert.True(ok)
	assert.True(resp.Healthy)

	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_TOTAL_CHARGED_ENERGY,
		},
		Value:    125.456,
		Decimals: 2,
	})
	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SENSOR_ID_ESTIMATED_CHARGE_TIME,
		},
		Undefined: true,
	})
	es.Publish(domain.SelectUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.SELECT_ID_CHARGE_STATE,
		},
		Value: "charging",
	})
	es.Publish(domain.InputNumberSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{
			Id: domain.BatteryCapacityNumberId(1),
		},
		Value: 2400,
	})

	assert.Eventually(func() bool { return recorder.Len() == 4 }, 2*time.Second, 20*time.Millisecond)

	payload, _ := recorder.Last("antra/sensor/total_charged_energy/state")
	assert.Equal("125.46", payload)
	payload, _ = recorder.Last("antra/sensor/estimated_charge_time/state")
	assert.Equal("None", payload)
	payload, _ = recorder.Last("antra/select/charge_state/state")
	assert.Equal("charging", payload)
	payload, _ = recorder.Last("antra/number/battery_1_capacity/state")
	assert.Equal("2400", payload)

	context.Stop(pid)
}

func TestMQTTActorDiscovery(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	logger := zap.Must(zap.NewDevelopment())
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()

	recorder := NewMessageRecorder()
	pid := as.Root.Spawn(actor.PropsFromProducer(func() actor.Actor {
		return NewTestMQTTActor(&cfg, &eventstream.EventStream{}, recorder, logger)
	}))

	dev := domain.BMSDevice(cfg.MQTT.BaseTopic, "Antra", "2.1")
	result, err := as.Root.RequestFuture(pid, domain.PublishDiscoveryRequest{
		Sensors: domain.AccountingSensors(dev, 1),
		Buttons: domain.AccountingButtons(dev),
		Selects: domain.AccountingSelects(dev),
	}, 2*time.Second).Result()
	require.NoError(err)
	assert.False(result.(domain.PublishDiscoveryResponse).HasResponseError())

	payload, ok := recorder.Last("homeassistant/select/" + dev.Id + "/charge_state/config")
	require.True(ok)
	assert.Contains(payload, `"command_topic":"antra/select/charge_state/set"`)
	_, ok = recorder.Last("homeassistant/sensor/" + dev.Id + "/battery_1_stored_energy/config")
	assert.True(ok)
}
