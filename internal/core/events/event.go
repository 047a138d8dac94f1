package events

import (
	"strings"
	"time"

	. "github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/pkg/bms"
)

func FrameToUpdateEvents(frame *bms.Frame) []any {
	var events []any
	if frame == nil {
		return events
	}
	ts := frame.Timestamp
	h := frame.Header

	headerFloat := func(id, field string, decimals uint) {
		if h.Has(field) {
			events = append(events, floatEvent(id, ts, h.Float(field), decimals))
		}
	}
	headerFloat(SENSOR_ID_PACK_VOLTAGE, bms.FieldVoltage, 2)
	headerFloat(SENSOR_ID_PACK_CURRENT, bms.FieldCurrent, 2)
	headerFloat(SENSOR_ID_PACK_SOC, bms.FieldSOC, 0)
	headerFloat(SENSOR_ID_PACK_TEMPERATURE_MAX, bms.FieldTemperatureMax, 1)
	headerFloat(SENSOR_ID_PACK_TEMPERATURE_MIN, bms.FieldTemperatureMin, 1)
	headerFloat(SENSOR_ID_PACK_MAX_CELL_VOLTAGE, bms.FieldMaxCellVoltage, 3)
	headerFloat(SENSOR_ID_PACK_MIN_CELL_VOLTAGE, bms.FieldMinCellVoltage, 3)
	if power, ok := frame.Power(); ok {
		events = append(events, floatEvent(SENSOR_ID_PACK_POWER, ts, power, 1))
	}
	if h.Has(bms.FieldAlarmStatus) {
		events = append(events, TextSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_PACK_ALARM_STATUS, Timestamp: ts},
			Value:                  alarmText(h.Int(bms.FieldAlarmStatus)),
		})
	}
	events = append(events, floatEvent(SENSOR_ID_PACK_BATTERY_COUNT, ts, float64(len(frame.Batteries)), 0))

	for _, b := range frame.Batteries {
		events = append(events, BatteryToUpdateEvents(b, ts)...)
	}
	return events
}

func BatteryToUpdateEvents(b bms.Battery, ts time.Time) []any {
	var events []any
	n := b.Number()
	for _, m := range BatteryMeasurements {
		id := BatterySensorId(n, m.Name)
		if m.Name == "power" {
			if p, ok := b.Power(); ok {
				events = append(events, floatEvent(id, ts, p, m.Decimals))
			}
			continue
		}
		if b.Values.Has(m.Name) {
			events = append(events, floatEvent(id, ts, b.Values.Float(m.Name), m.Decimals))
		}
	}
	texts := bms.StatusTexts(b.Values)
	for _, name := range BatteryStatusSensorNames {
		if text, ok := texts[name]; ok {
			events = append(events, TextSensorUpdateEvent{
				SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: BatterySensorId(n, name), Timestamp: ts},
				Value:                  text,
			})
		}
	}
	for i, v := range b.Values.Elements(bms.FieldCellVoltages) {
		events = append(events, floatEvent(BatteryCellVoltageSensorId(n, i+1), ts, v, 3))
	}
	return events
}

// AccountingStateToUpdateEvents publishes the ledger. A nil estimate is
// published as undefined.
func AccountingStateToUpdateEvents(state AccountingState, estimate *float64, ts time.Time) []any {
	var events []any

	events = append(events, floatEvent(SENSOR_ID_TOTAL_DISCHARGED_ENERGY, ts, state.TotalDischargedEnergy, 2))
	events = append(events, floatEvent(SENSOR_ID_TOTAL_CHARGED_ENERGY, ts, state.TotalChargedEnergy, 2))
	events = append(events, floatEvent(SENSOR_ID_ENERGY_SINCE_LAST_CHARGE, ts, state.EnergySinceLastCharge, 2))
	events = append(events, floatEvent(SENSOR_ID_CHARGE_RATE, ts, state.ChargeRateWatts, 1))
	events = append(events, floatEvent(SENSOR_ID_TOTAL_STORED_ENERGY, ts, state.TotalStoredEnergy(), 2))
	if estimate != nil {
		events = append(events, floatEvent(SENSOR_ID_ESTIMATED_CHARGE_TIME, ts, *estimate, 0))
	} else {
		events = append(events, FloatSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_ESTIMATED_CHARGE_TIME, Timestamp: ts},
			Undefined:              true,
		})
	}
	events = append(events, TextSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_CHARGE_STATUS, Timestamp: ts},
		Value:                  string(state.ChargeStatus),
	})
	events = append(events, SelectUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SELECT_ID_CHARGE_STATE, Timestamp: ts},
		Value:                  string(state.ChargeStatus),
	})
	for i, stored := range state.StoredEnergy {
		n := i + 1
		events = append(events, floatEvent(BatteryStoredEnergySensorId(n), ts, stored, 2))
		events = append(events, InputNumberSensorUpdateEvent{
			SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: BatteryStoredEnergyNumberId(n), Timestamp: ts},
			Value:                  stored,
		})
		if i < len(state.Capacity) {
			events = append(events, InputNumberSensorUpdateEvent{
				SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: BatteryCapacityNumberId(n), Timestamp: ts},
				Value:                  state.Capacity[i],
			})
		}
	}
	return events
}

func BridgeOnlineUpdateEvent(online bool) any {
	return BridgeStateUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: SENSOR_ID_BRIDGE_STATE, Timestamp: time.Now()},
		Value:                  online,
	}
}

func floatEvent(id string, ts time.Time, value float64, decimals uint) FloatSensorUpdateEvent {
	return FloatSensorUpdateEvent{
		SensorUpdateEventMixIn: SensorUpdateEventMixIn{Id: id, Timestamp: ts},
		Value:                  value,
		Decimals:               decimals,
	}
}

func alarmText(raw int64) string {
	labels := bms.AlarmStatusLabels.Decode(raw)
	if len(labels) == 0 {
		return "Normal"
	}
	return strings.Join(labels, ", ")
}
