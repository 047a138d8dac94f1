package bms

import (
	"time"

	"github.com/berfenger/antra2mqtt/pkg/fieldspec"
)

// Logical field names shared by every variant table. Accounting and
// publishing only look values up through these names.
const (
	FieldVoltage            = "voltage"
	FieldCurrent            = "current"
	FieldSOC                = "soc"
	FieldSOH                = "soh"
	FieldNumber             = "number"
	FieldCellCount          = "cell_count"
	FieldBatteryCount       = "battery_count"
	FieldCellVoltages       = "cell_voltages"
	FieldTemperatures       = "temperatures"
	FieldTotalCapacity      = "total_capacity"
	FieldRemainingCapacity  = "remaining_capacity"
	FieldFullChargeCapacity = "full_charge_capacity"
	FieldCycleCount         = "cycle_count"
	FieldMaxCellVoltage     = "max_cell_voltage"
	FieldMinCellVoltage     = "min_cell_voltage"
	FieldAvgCellVoltage     = "average_cell_voltage"
	FieldMaxCellTemp        = "max_cell_temp"
	FieldMinCellTemp        = "min_cell_temp"
	FieldAvgCellTemp        = "avg_cell_temp"
	FieldTemperatureMax     = "temperature_max"
	FieldTemperatureMin     = "temperature_min"
	FieldMaxAmbient         = "max_ambient"
	FieldMinAmbient         = "min_ambient"
	FieldAmbient            = "ambient"
	FieldMOS                = "mos"
	FieldInternalResistance = "internal_resistance"
	FieldTotalCharge        = "total_charge"
	FieldTotalDischarge     = "total_discharge"
	FieldAlarmStatus        = "alarm_status"
)

// Frame is one decoded telemetry read. It is built once per decode and not
// modified afterwards.
type Frame struct {
	Timestamp     time.Time
	Variant       string
	Model         string
	LayoutVersion string
	Header        fieldspec.Values
	Batteries     []Battery
}

type Battery struct {
	// Index is the position of the record in the frame, starting at 0
	Index  int
	Values fieldspec.Values
}

// Number is the 1-based battery number shown to users. The BMS reports it
// 0-based.
func (b Battery) Number() int {
	if b.Values.Has(FieldNumber) {
		return int(b.Values.Int(FieldNumber)) + 1
	}
	return b.Index + 1
}

// Power returns voltage*current, positive while charging.
func (b Battery) Power() (float64, bool) {
	if !b.Values.Has(FieldVoltage) || !b.Values.Has(FieldCurrent) {
		return 0, false
	}
	return b.Values.Float(FieldVoltage) * b.Values.Float(FieldCurrent), true
}

// StoredEnergyWh estimates the energy left in the battery from its remaining
// capacity and voltage.
func (b Battery) StoredEnergyWh() (float64, bool) {
	if !b.Values.Has(FieldVoltage) || !b.Values.Has(FieldRemainingCapacity) {
		return 0, false
	}
	return b.Values.Float(FieldRemainingCapacity) * b.Values.Float(FieldVoltage), true
}

// Power is the pack power as the sum of the battery powers. ok is false
// when no battery reports both voltage and current.
func (f *Frame) Power() (power float64, ok bool) {
	for _, b := range f.Batteries {
		if p, has := b.Power(); has {
			power += p
			ok = true
		}
	}
	return power, ok
}
