package events

import (
	"context"
	"testing"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/berfenger/antra2mqtt/pkg/pylontech"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findEvent(events []any, id string) (any, bool) {
	for _, e := range events {
		if ev, ok := e.(domain.SensorUpdateEvent); ok && ev.SensorId() == id {
			return e, true
		}
	}
	return nil, false
}

func findFloat(t *testing.T, events []any, id string) domain.FloatSensorUpdateEvent {
	e, ok := findEvent(events, id)
	require.True(t, ok, "missing event %s", id)
	f, ok := e.(domain.FloatSensorUpdateEvent)
	require.True(t, ok, "event %s is %T", id, e)
	return f
}

func TestFrameToUpdateEvents(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	variant, err := bms.Lookup(pylontech.VariantAntra)
	require.NoError(err)
	source, err := pylontech.NewTestSource(variant)
	require.NoError(err)
	frame, err := source.ReadFrame(context.Background())
	require.NoError(err)

	events := FrameToUpdateEvents(frame)

	assert.InDelta(53.41, findFloat(t, events, domain.SENSOR_ID_PACK_VOLTAGE).Value, 1e-9)
	assert.InDelta(800.1, findFloat(t, events, domain.SENSOR_ID_PACK_POWER).Value, 1e-6)
	assert.Equal(2.0, findFloat(t, events, domain.SENSOR_ID_PACK_BATTERY_COUNT).Value)
	assert.InDelta(534.1, findFloat(t, events, "battery_1_power").Value, 1e-6)
	assert.InDelta(53.2, findFloat(t, events, "battery_2_voltage").Value, 1e-9)
	assert.InDelta(3.330, findFloat(t, events, "battery_1_cell_1_voltage").Value, 1e-9)
	assert.Equal(frame.Timestamp, findFloat(t, events, "battery_2_voltage").Timestamp)

	fet, ok := findEvent(events, "battery_1_fet_status")
	require.True(ok)
	assert.IsType(domain.TextSensorUpdateEvent{}, fet)

	alarm, ok := findEvent(events, domain.SENSOR_ID_PACK_ALARM_STATUS)
	require.True(ok)
	assert.Equal("External SD Card Failure Alarm", alarm.(domain.TextSensorUpdateEvent).Value)

	_, ok = findEvent(events, "battery_3_voltage")
	assert.False(ok)
}

func TestFrameToUpdateEventsNil(t *testing.T) {
	assert.Empty(t, FrameToUpdateEvents(nil))
}

func TestAccountingStateToUpdateEvents(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	state := domain.NewAccountingState(2, 2400)
	state.TotalChargedEnergy = 125
	state.ChargeStatus = domain.ChargeStatusCharging
	state.ChargeRateWatts = 1000
	state.StoredEnergy = []float64{1200, 600}

	estimate := 9000.0
	events := AccountingStateToUpdateEvents(state, &estimate, ts)

	assert.Equal(125.0, findFloat(t, events, domain.SENSOR_ID_TOTAL_CHARGED_ENERGY).Value)
	assert.Equal(1800.0, findFloat(t, events, domain.SENSOR_ID_TOTAL_STORED_ENERGY).Value)
	assert.Equal(600.0, findFloat(t, events, domain.BatteryStoredEnergySensorId(2)).Value)
	est := findFloat(t, events, domain.SENSOR_ID_ESTIMATED_CHARGE_TIME)
	assert.False(est.Undefined)
	assert.Equal(9000.0, est.Value)
	assert.Equal(ts, est.Timestamp)

	status, ok := findEvent(events, domain.SENSOR_ID_CHARGE_STATUS)
	require.True(ok)
	assert.Equal("charging", status.(domain.TextSensorUpdateEvent).Value)

	capacity, ok := findEvent(events, domain.BatteryCapacityNumberId(1))
	require.True(ok)
	assert.Equal(2400.0, capacity.(domain.InputNumberSensorUpdateEvent).Value)
}

func TestUndefinedEstimate(t *testing.T) {
	events := AccountingStateToUpdateEvents(domain.NewAccountingState(1, 2400), nil, time.Now())
	est := findFloat(t, events, domain.SENSOR_ID_ESTIMATED_CHARGE_TIME)
	assert.True(t, est.Undefined)
}
