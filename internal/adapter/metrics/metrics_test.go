package metrics

import (
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExporter(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	es := &eventstream.EventStream{}
	e := NewExporter()
	e.Subscribe(es)
	defer e.Unsubscribe(es)

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_TOTAL_CHARGED_ENERGY, Timestamp: ts},
		Value:                  125,
	})
	es.Publish(domain.FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_ESTIMATED_CHARGE_TIME, Timestamp: ts},
		Undefined:              true,
	})
	es.Publish(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_CHARGE_STATUS, Timestamp: ts},
		Value:                  "idle",
	})
	es.Publish(domain.TextSensorUpdateEvent{
		SensorUpdateEventMixIn: domain.SensorUpdateEventMixIn{Id: domain.SENSOR_ID_CHARGE_STATUS, Timestamp: ts},
		Value:                  "charging",
	})
	es.Publish("not a sensor")

	snapshot := e.Snapshot()
	require.Len(snapshot, 3)
	assert.Equal(domain.SENSOR_ID_CHARGE_STATUS, snapshot[0].Id)
	assert.Equal("charging", snapshot[0].Text)
	assert.Equal(domain.SENSOR_ID_ESTIMATED_CHARGE_TIME, snapshot[1].Id)
	assert.Nil(snapshot[1].Value)
	require.NotNil(snapshot[2].Value)
	assert.Equal(125.0, *snapshot[2].Value)

	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(err)
	text := string(body)
	assert.Contains(text, `antra_sensor_value{sensor="total_charged_energy"} 125`)
	assert.Contains(text, `antra_sensor_value{sensor="estimated_charge_time"} -1`)
	assert.Contains(text, `antra_sensor_defined{sensor="estimated_charge_time"} 0`)
	assert.Contains(text, `antra_sensor_state{sensor="charge_status",value="charging"} 1`)
	assert.NotContains(text, `value="idle"`)
}
