package actor

import (
	"strings"
	"testing"
	"time"

	adactor "github.com/berfenger/antra2mqtt/internal/adapter/actor"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/mqtt"
	"github.com/berfenger/antra2mqtt/internal/util"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"
	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/pylontech"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMasterActor(t *testing.T) {

	assert := assert.New(t)
	require := require.New(t)

	cfg := util.LoadTestConfig()
	cfg.MQTT.HADiscoveryEnable = true
	cfg.Accounting.StartupDelaySeconds = 3600
	logCfg := zap.NewDevelopmentConfig()
	logCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)
	logger := zap.Must(logCfg.Build())

	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	context := as.Root

	variant, err := bms.Lookup(pylontech.VariantAntra)
	require.NoError(err)
	source, err := pylontech.NewTestSource(variant)
	require.NoError(err)
	recorder := adactor.NewMessageRecorder()

	props := actor.PropsFromProducer(func() actor.Actor {
		return NewMasterOfPuppetsActor(cfg, nil, &memoryStore{}, func() *adactor.BMSActor {
			return adactor.NewBMSActor(source, time.Second, logger)
		}, func(es *eventstream.EventStream) *adactor.MQTTActor {
			return adactor.NewTestMQTTActor(&cfg, es, recorder, logger)
		}, nil, logger)
	})
	pid, err := context.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	require.NoError(err)

	res, err := context.RequestFuture(pid, domain.ActorHealthRequest{}, 5*time.Second).Result()
	require.NoError(err)
	healthResp, ok := res.(domain.ActorHealthResponse)
	require.True(ok)
	assert.True(healthResp.Healthy, "healthy is true")

	// HA discovery announces the entities of both batteries
	assert.Eventually(func() bool {
		return hasTopicSuffix(recorder, "/"+domain.BatteryCapacityNumberId(2)+"/config") &&
			hasTopicSuffix(recorder, "/"+domain.BatteryCellVoltageSensorId(2, 16)+"/config")
	}, 5*time.Second, 50*time.Millisecond)

	// control through the master reaches the ledger
	res, err = context.RequestFuture(pid, domain.AdjustCountersRequest{DeltaCharged: 50}, 5*time.Second).Result()
	require.NoError(err)
	ctrl := res.(domain.AccountingControlResponse)
	require.False(ctrl.HasResponseError())
	assert.Equal(50.0, ctrl.State.TotalChargedEnergy)

	// MQTT button press
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.BUTTON_ID_RESET_COUNTERS,
		Command:  mqtt.COMMAND_BUTTON,
		Payload:  mqtt.MQTT_PAYLOAD_PRESS,
	}})
	assert.Eventually(func() bool {
		res, err := context.RequestFuture(pid, domain.GetAccountingStateRequest{}, time.Second).Result()
		return err == nil && res.(domain.GetAccountingStateResponse).State.TotalChargedEnergy == 0
	}, 2*time.Second, 20*time.Millisecond)

	// MQTT select with an invalid value is dropped
	context.Send(pid, adactor.ParsedCommand{Command: &mqtt.ParsedMQTTCommand{
		DeviceId: domain.SELECT_ID_CHARGE_STATE,
		Command:  mqtt.COMMAND_SELECT,
		Payload:  "boiling",
	}})
	res, err = context.RequestFuture(pid, domain.GetAccountingStateRequest{}, time.Second).Result()
	require.NoError(err)
	assert.Equal(domain.ChargeStatusIdle, res.(domain.GetAccountingStateResponse).State.ChargeStatus)

	require.NoError(context.PoisonFuture(pid).Wait())
}

func hasTopicSuffix(recorder *adactor.MessageRecorder, suffix string) bool {
	for _, topic := range recorder.Topics() {
		if strings.HasSuffix(topic, suffix) {
			return true
		}
	}
	return false
}

func TestDiscoveryRequest(t *testing.T) {
	assert := assert.New(t)

	cfg := util.LoadTestConfig()
	req := DiscoveryRequest(&cfg, domain.GetBMSInfoResponse{
		Variant:       pylontech.VariantAntra,
		LayoutVersion: "2.1",
		Batteries:     2,
		Cells:         16,
	})

	ids := map[string]bool{}
	for _, s := range req.Sensors {
		ids[s.Id] = true
	}
	assert.True(ids[domain.SENSOR_ID_BRIDGE_STATE])
	assert.True(ids[domain.SENSOR_ID_ESTIMATED_CHARGE_TIME])
	assert.True(ids[domain.BatteryStoredEnergySensorId(2)])
	assert.True(ids[domain.BatteryCellVoltageSensorId(2, 16)])
	assert.False(ids[domain.BatteryCellVoltageSensorId(3, 1)])

	assert.Len(req.Buttons, 3)
	assert.Len(req.Selects, 1)
	// capacity and stored energy per configured battery
	assert.Len(req.InputNumbers, 4)
	assert.Equal(domain.BatteryCapacityNumberId(1), req.InputNumbers[0].Id)
}
