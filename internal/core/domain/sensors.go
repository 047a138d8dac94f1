package domain

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/berfenger/antra2mqtt/pkg/bms"
	"github.com/carlmjohnson/versioninfo"
)

const (
	SENSOR_ID_BRIDGE_STATE              = "bridge"
	SENSOR_ID_TOTAL_DISCHARGED_ENERGY   = "total_discharged_energy"
	SENSOR_ID_TOTAL_CHARGED_ENERGY      = "total_charged_energy"
	SENSOR_ID_ENERGY_SINCE_LAST_CHARGE  = "energy_since_last_charge"
	SENSOR_ID_ESTIMATED_CHARGE_TIME     = "estimated_charge_time"
	SENSOR_ID_CHARGE_STATUS             = "charge_status"
	SENSOR_ID_CHARGE_RATE               = "charge_rate"
	SENSOR_ID_TOTAL_STORED_ENERGY       = "total_stored_energy"
	SENSOR_ID_PACK_VOLTAGE              = "pack_voltage"
	SENSOR_ID_PACK_CURRENT              = "pack_current"
	SENSOR_ID_PACK_POWER                = "pack_power"
	SENSOR_ID_PACK_SOC                  = "pack_soc"
	SENSOR_ID_PACK_TEMPERATURE_MAX      = "pack_temperature_max"
	SENSOR_ID_PACK_TEMPERATURE_MIN      = "pack_temperature_min"
	SENSOR_ID_PACK_MAX_CELL_VOLTAGE     = "pack_max_cell_voltage"
	SENSOR_ID_PACK_MIN_CELL_VOLTAGE     = "pack_min_cell_voltage"
	SENSOR_ID_PACK_ALARM_STATUS         = "pack_alarm_status"
	SENSOR_ID_PACK_BATTERY_COUNT        = "pack_battery_count"
	BUTTON_ID_RESET_COUNTERS            = "reset_counters"
	BUTTON_ID_RESET_ENERGY_SINCE_CHARGE = "reset_energy_since_charge"
	BUTTON_ID_SET_ALL_BATTERIES_FULL    = "set_all_batteries_full"
	SELECT_ID_CHARGE_STATE              = "charge_state"
	STATE_CLASS_MEASUREMENT             = "measurement"
	STATE_CLASS_TOTAL                   = "total"
	STATE_CLASS_TOTAL_INCREASING        = "total_increasing"
	DEVICE_CLASS_BATTERY                = "battery"
	DEVICE_CLASS_CURRENT                = "current"
	DEVICE_CLASS_DURATION               = "duration"
	DEVICE_CLASS_ENERGY                 = "energy"
	DEVICE_CLASS_ENERGY_STORAGE         = "energy_storage"
	DEVICE_CLASS_POWER                  = "power"
	DEVICE_CLASS_TEMPERATURE            = "temperature"
	DEVICE_CLASS_VOLTAGE                = "voltage"
	DEVICE_CLASS_CONNECTIVITY           = "connectivity"
	ENTITY_CLASS_DIAGNOSTIC             = "diagnostic"
	ENTITY_CLASS_CONFIG                 = "config"
	SENSOR_TYPE_SENSOR                  = "sensor"
	SENSOR_TYPE_BINARY                  = "binary_sensor"
	INPUT_NUMBER_MODE_BOX               = "box"
	INPUT_NUMBER_MODE_SLIDER            = "slider"
)

// Per battery ids, n is the 1-based battery number.

func BatterySensorId(n int, name string) string {
	return fmt.Sprintf("battery_%d_%s", n, name)
}

func BatteryStoredEnergySensorId(n int) string {
	return BatterySensorId(n, "stored_energy")
}

func BatteryCellVoltageSensorId(n, cell int) string {
	return BatterySensorId(n, fmt.Sprintf("cell_%d_voltage", cell))
}

func BatteryCapacityNumberId(n int) string {
	return BatterySensorId(n, "capacity")
}

func BatteryStoredEnergyNumberId(n int) string {
	return BatterySensorId(n, "set_stored_energy")
}

// ParseBatteryNumberId returns the battery number and the kind ("capacity"
// or "set_stored_energy") of a number entity id.
func ParseBatteryNumberId(id string) (n int, kind string, ok bool) {
	rest, found := strings.CutPrefix(id, "battery_")
	if !found {
		return 0, "", false
	}
	num, kind, found := strings.Cut(rest, "_")
	if !found {
		return 0, "", false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, "", false
	}
	switch kind {
	case "capacity", "set_stored_energy":
		return n, kind, true
	}
	return 0, "", false
}

func BridgeDevice(baseTopic string) Device {
	return Device{
		Id:           fmt.Sprintf("antra_bridge_%s", md5HashShort(baseTopic)),
		Manufacturer: "berfenger",
		Model:        "antra2mqtt",
		Version:      versioninfo.Short(),
		Name:         fmt.Sprintf("Antra bridge %s", md5HashShort(baseTopic)),
	}
}

func BMSDevice(baseTopic, model, layoutVersion string) Device {
	return Device{
		Id:           fmt.Sprintf("antra_bms_%s", md5HashShort(baseTopic)),
		Manufacturer: "Antra",
		Model:        model,
		Version:      layoutVersion,
		Name:         "Antra BMS",
	}
}

func IdDevice(device Device) Device {
	return Device{
		Id:   device.Id,
		Name: device.Name,
	}
}

func BridgeSensors(bridgeDevice Device) []GenericSensor {

	var sensors []GenericSensor

	sensors = append(sensors, GenericSensor{
		Device:         bridgeDevice,
		Id:             SENSOR_ID_BRIDGE_STATE,
		SensorType:     SENSOR_TYPE_BINARY,
		Name:           "Connection state",
		DeviceClass:    DEVICE_CLASS_CONNECTIVITY,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(bridgeDevice.Id, SENSOR_ID_BRIDGE_STATE),
	})

	return sensors
}

func AccountingSensors(device Device, batteries int) []GenericSensor {

	sensors := []GenericSensor{
		energySensor(device, SENSOR_ID_TOTAL_DISCHARGED_ENERGY, "Total discharged energy", STATE_CLASS_TOTAL_INCREASING),
		energySensor(device, SENSOR_ID_TOTAL_CHARGED_ENERGY, "Total charged energy", STATE_CLASS_TOTAL_INCREASING),
		energySensor(device, SENSOR_ID_ENERGY_SINCE_LAST_CHARGE, "Energy since last charge", STATE_CLASS_TOTAL),
		{
			Device:            device,
			Id:                SENSOR_ID_ESTIMATED_CHARGE_TIME,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Estimated charge time",
			DeviceClass:       DEVICE_CLASS_DURATION,
			UnitOfMeasurement: "s",
			Icon:              "mdi:timer-outline",
			UniqueId:          uniqueId(device.Id, SENSOR_ID_ESTIMATED_CHARGE_TIME),
		},
		{
			Device:     device,
			Id:         SENSOR_ID_CHARGE_STATUS,
			SensorType: SENSOR_TYPE_SENSOR,
			Name:       "Charge status",
			Icon:       "mdi:battery-charging",
			UniqueId:   uniqueId(device.Id, SENSOR_ID_CHARGE_STATUS),
		},
		{
			Device:            device,
			Id:                SENSOR_ID_CHARGE_RATE,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              "Charge rate",
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       DEVICE_CLASS_POWER,
			UnitOfMeasurement: "W",
			UniqueId:          uniqueId(device.Id, SENSOR_ID_CHARGE_RATE),
		},
		storageSensor(device, SENSOR_ID_TOTAL_STORED_ENERGY, "Total stored energy"),
	}
	for n := 1; n <= batteries; n++ {
		sensors = append(sensors, storageSensor(device, BatteryStoredEnergySensorId(n), fmt.Sprintf("Battery %d stored energy", n)))
	}
	return sensors
}

func PackSensors(device Device) []GenericSensor {
	return []GenericSensor{
		measurementSensor(device, SENSOR_ID_PACK_VOLTAGE, "Pack voltage", DEVICE_CLASS_VOLTAGE, "V"),
		measurementSensor(device, SENSOR_ID_PACK_CURRENT, "Pack current", DEVICE_CLASS_CURRENT, "A"),
		measurementSensor(device, SENSOR_ID_PACK_POWER, "Pack power", DEVICE_CLASS_POWER, "W"),
		measurementSensor(device, SENSOR_ID_PACK_SOC, "Pack state of charge", DEVICE_CLASS_BATTERY, "%"),
		measurementSensor(device, SENSOR_ID_PACK_TEMPERATURE_MAX, "Pack temperature max", DEVICE_CLASS_TEMPERATURE, "°C"),
		measurementSensor(device, SENSOR_ID_PACK_TEMPERATURE_MIN, "Pack temperature min", DEVICE_CLASS_TEMPERATURE, "°C"),
		measurementSensor(device, SENSOR_ID_PACK_MAX_CELL_VOLTAGE, "Pack max cell voltage", DEVICE_CLASS_VOLTAGE, "V"),
		measurementSensor(device, SENSOR_ID_PACK_MIN_CELL_VOLTAGE, "Pack min cell voltage", DEVICE_CLASS_VOLTAGE, "V"),
		diagnosticSensor(device, SENSOR_ID_PACK_ALARM_STATUS, "Pack alarm status"),
		diagnosticSensor(device, SENSOR_ID_PACK_BATTERY_COUNT, "Battery count"),
	}
}

// BatteryMeasurement describes one per battery sensor of the telemetry.
type BatteryMeasurement struct {
	Name        string
	Label       string
	DeviceClass string
	Unit        string
	Decimals    uint
}

var BatteryMeasurements = []BatteryMeasurement{
	{"voltage", "voltage", DEVICE_CLASS_VOLTAGE, "V", 2},
	{"current", "current", DEVICE_CLASS_CURRENT, "A", 2},
	{"power", "power", DEVICE_CLASS_POWER, "W", 1},
	{"soc", "state of charge", DEVICE_CLASS_BATTERY, "%", 0},
	{"soh", "state of health", "", "%", 0},
	{"remaining_capacity", "remaining capacity", "", "Ah", 2},
	{"full_charge_capacity", "full charge capacity", "", "Ah", 2},
	{"cycle_count", "cycle count", "", "", 0},
	{"max_cell_voltage", "max cell voltage", DEVICE_CLASS_VOLTAGE, "V", 3},
	{"min_cell_voltage", "min cell voltage", DEVICE_CLASS_VOLTAGE, "V", 3},
	{"average_cell_voltage", "average cell voltage", DEVICE_CLASS_VOLTAGE, "V", 3},
	{"max_cell_temp", "max cell temperature", DEVICE_CLASS_TEMPERATURE, "°C", 1},
	{"min_cell_temp", "min cell temperature", DEVICE_CLASS_TEMPERATURE, "°C", 1},
	{"avg_cell_temp", "average cell temperature", DEVICE_CLASS_TEMPERATURE, "°C", 1},
	{"mos", "MOS temperature", DEVICE_CLASS_TEMPERATURE, "°C", 1},
	{"ambient", "ambient temperature", DEVICE_CLASS_TEMPERATURE, "°C", 1},
	{"internal_resistance", "internal resistance", "", "mΩ", 0},
}

// BatteryStatusSensorNames are the decoded status texts of every battery.
var BatteryStatusSensorNames = []string{
	bms.StatusVoltage, bms.StatusCurrent, bms.StatusTemperature, bms.StatusAlarm, bms.StatusFET,
	bms.StatusOvervoltageProtect, bms.StatusUndervoltProtect, bms.StatusOvervoltageAlarm,
	bms.StatusUndervoltageAlarm, bms.StatusBalance,
}

func BatterySensors(device Device, n, cells int) []GenericSensor {
	var sensors []GenericSensor
	for _, m := range BatteryMeasurements {
		id := BatterySensorId(n, m.Name)
		s := GenericSensor{
			Device:            device,
			Id:                id,
			SensorType:        SENSOR_TYPE_SENSOR,
			Name:              fmt.Sprintf("Battery %d %s", n, m.Label),
			StateClass:        STATE_CLASS_MEASUREMENT,
			DeviceClass:       m.DeviceClass,
			UnitOfMeasurement: m.Unit,
			UniqueId:          uniqueId(device.Id, id),
		}
		if m.Name == "cycle_count" {
			s.StateClass = STATE_CLASS_TOTAL_INCREASING
		}
		sensors = append(sensors, s)
	}
	for _, name := range BatteryStatusSensorNames {
		sensors = append(sensors, diagnosticSensor(device, BatterySensorId(n, name), fmt.Sprintf("Battery %d %s", n, name)))
	}
	for c := 1; c <= cells; c++ {
		id := BatteryCellVoltageSensorId(n, c)
		s := measurementSensor(device, id, fmt.Sprintf("Battery %d cell %d voltage", n, c), DEVICE_CLASS_VOLTAGE, "V")
		s.EnabledByDefault = optionalBool(false)
		sensors = append(sensors, s)
	}
	return sensors
}

func AccountingButtons(device Device) []GenericButton {
	return []GenericButton{
		{
			Device:   device,
			Id:       BUTTON_ID_RESET_COUNTERS,
			Name:     "Reset counters",
			UniqueId: uniqueId(device.Id, BUTTON_ID_RESET_COUNTERS),
			Icon:     "mdi:counter",
		},
		{
			Device:   device,
			Id:       BUTTON_ID_RESET_ENERGY_SINCE_CHARGE,
			Name:     "Reset energy since charge",
			UniqueId: uniqueId(device.Id, BUTTON_ID_RESET_ENERGY_SINCE_CHARGE),
			Icon:     "mdi:restore",
		},
		{
			Device:   device,
			Id:       BUTTON_ID_SET_ALL_BATTERIES_FULL,
			Name:     "Set all batteries full",
			UniqueId: uniqueId(device.Id, BUTTON_ID_SET_ALL_BATTERIES_FULL),
			Icon:     "mdi:battery",
		},
	}
}

func AccountingSelects(device Device) []GenericSelect {
	options := make([]string, len(ChargeStatuses))
	for i, st := range ChargeStatuses {
		options[i] = string(st)
	}
	return []GenericSelect{{
		Device:   device,
		Id:       SELECT_ID_CHARGE_STATE,
		Name:     "Charge state",
		UniqueId: uniqueId(device.Id, SELECT_ID_CHARGE_STATE),
		Icon:     "mdi:battery-sync",
		Options:  options,
	}}
}

func AccountingInputNumbers(device Device, batteries int, maxCapacityWh float64) []GenericInputNumber {
	var numbers []GenericInputNumber
	for n := 1; n <= batteries; n++ {
		numbers = append(numbers, GenericInputNumber{
			Device:            device,
			Id:                BatteryCapacityNumberId(n),
			Name:              fmt.Sprintf("Battery %d capacity", n),
			UniqueId:          uniqueId(device.Id, BatteryCapacityNumberId(n)),
			Icon:              "mdi:battery-high",
			UnitOfMeasurement: "Wh",
			Min:               1,
			Max:               maxCapacityWh,
			Step:              1,
			Mode:              INPUT_NUMBER_MODE_BOX,
			EntityCategory:    ENTITY_CLASS_CONFIG,
		})
		numbers = append(numbers, GenericInputNumber{
			Device:            device,
			Id:                BatteryStoredEnergyNumberId(n),
			Name:              fmt.Sprintf("Battery %d set stored energy", n),
			UniqueId:          uniqueId(device.Id, BatteryStoredEnergyNumberId(n)),
			Icon:              "mdi:battery-arrow-up",
			UnitOfMeasurement: "Wh",
			Min:               0,
			Max:               maxCapacityWh,
			Step:              1,
			Mode:              INPUT_NUMBER_MODE_BOX,
			EntityCategory:    ENTITY_CLASS_CONFIG,
		})
	}
	return numbers
}

func energySensor(device Device, id, name, stateClass string) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		StateClass:        stateClass,
		DeviceClass:       DEVICE_CLASS_ENERGY,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(device.Id, id),
	}
}

func storageSensor(device Device, id, name string) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       DEVICE_CLASS_ENERGY_STORAGE,
		UnitOfMeasurement: "Wh",
		UniqueId:          uniqueId(device.Id, id),
	}
}

func measurementSensor(device Device, id, name, deviceClass, unit string) GenericSensor {
	return GenericSensor{
		Device:            device,
		Id:                id,
		SensorType:        SENSOR_TYPE_SENSOR,
		Name:              name,
		StateClass:        STATE_CLASS_MEASUREMENT,
		DeviceClass:       deviceClass,
		UnitOfMeasurement: unit,
		UniqueId:          uniqueId(device.Id, id),
	}
}

func diagnosticSensor(device Device, id, name string) GenericSensor {
	return GenericSensor{
		Device:         device,
		Id:             id,
		SensorType:     SENSOR_TYPE_SENSOR,
		Name:           name,
		EntityCategory: ENTITY_CLASS_DIAGNOSTIC,
		UniqueId:       uniqueId(device.Id, id),
	}
}

func uniqueId(baseId, id string) string {
	return fmt.Sprintf("uid_%s_%s", baseId, id)
}

func md5Hash(text string) string {
	hash := md5.Sum([]byte(text))
	return hex.EncodeToString(hash[:])
}

func md5HashShort(text string) string {
	hash := md5Hash(text)
	return hash[0:8]
}

func optionalBool(value bool) *bool {
	return &value
}
