package bms

import (
	"strconv"
	"strings"

	"github.com/berfenger/antra2mqtt/pkg/fieldspec"
)

// BitLabels names the bits of a 16 bit status register. Unnamed bits are
// reserved.
type BitLabels [16]string

var VoltageStatusLabels = BitLabels{
	0:  "Cell Overvoltage Protection",
	1:  "Cell Undervoltage Protection",
	2:  "Pack Overvoltage Protection",
	3:  "Pack Undervoltage Protection",
	4:  "Cell Overvoltage Alarm",
	5:  "Cell Undervoltage Alarm",
	6:  "Pack Overvoltage Alarm",
	7:  "Pack Undervoltage Alarm",
	8:  "Cell Voltage Difference Alarm",
	15: "System Sleep",
}

var CurrentStatusLabels = BitLabels{
	0: "Charging",
	1: "Discharging",
	2: "Charge Overcurrent Protection",
	3: "Short Circuit Protection",
	4: "Discharge Overcurrent 1 Protection",
	5: "Discharge Overcurrent 2 Protection",
	6: "Charge Overcurrent Alarm",
	7: "Discharge Overcurrent Alarm",
}

var TemperatureStatusLabels = BitLabels{
	0:  "Charge Over Temperature Protection",
	1:  "Charge Under Temperature Protection",
	2:  "Discharge Over Temperature Protection",
	3:  "Discharge Under Temperature Protection",
	4:  "Ambient Over Temperature Protection",
	5:  "Ambient Under Temperature Protection",
	6:  "MOS Over Temperature Protection",
	7:  "MOS Under Temperature Protection",
	8:  "Charge Over Temperature Alarm",
	9:  "Charge Under Temperature Alarm",
	10: "Discharge Over Temperature Alarm",
	11: "Discharge Under Temperature Alarm",
	12: "Ambient Over Temperature Alarm",
	13: "Ambient Under Temperature Alarm",
	14: "MOS Over Temperature Alarm",
	15: "MOS Under Temperature Alarm",
}

var AlarmStatusLabels = BitLabels{
	0:  "Cell Voltage Differential Alarm",
	1:  "Charge MOS Damage Alarm",
	2:  "External SD Card Failure Alarm",
	3:  "SPI Communication Failure Alarm",
	4:  "EEPROM Failure Alarm",
	5:  "LED Alarm Enable",
	6:  "Buzzer Alarm Enable",
	7:  "Low Battery Alarm",
	8:  "MOS Over Temperature Protection",
	9:  "MOS Over Temperature Alarm",
	10: "Current Limiting Board Failure",
	11: "Sampling Failure",
	12: "Battery Failure",
	13: "NTC Failure",
	14: "Charge MOS Failure",
	15: "Discharge MOS Failure",
}

// Decode lists the labels of the set bits, lowest bit first.
func (l BitLabels) Decode(raw int64) []string {
	var out []string
	for bit, label := range l {
		if label != "" && raw&(1<<bit) != 0 {
			out = append(out, label)
		}
	}
	return out
}

var currentLimitLabels = [4]string{
	"No current limit",
	"Current limit 5A",
	"Current limit 10A",
	"Current limit 25A",
}

// DecodeFETStatus decodes the MOSFET register: charge and discharge MOS
// state, MOS failures, current limiting mode (bits 4-5), LED alarm and beep.
func DecodeFETStatus(raw int64) []string {
	out := make([]string, 0, 6)
	if raw&(1<<0) != 0 {
		out = append(out, "Charge MOS: On")
	} else {
		out = append(out, "Charge MOS: Off")
	}
	if raw&(1<<1) != 0 {
		out = append(out, "Discharge MOS: On")
	} else {
		out = append(out, "Discharge MOS: Off")
	}
	if raw&(1<<2) != 0 {
		out = append(out, "Discharge MOS Failure")
	}
	if raw&(1<<3) != 0 {
		out = append(out, "Charge MOS Failure")
	}
	out = append(out, currentLimitLabels[(raw>>4)&0b11])
	if raw&(1<<11) != 0 {
		out = append(out, "LED alarm enabled")
	}
	if raw&(1<<12) != 0 {
		out = append(out, "Beep enabled")
	}
	return out
}

// FlaggedCells returns the 1-based numbers of the cells set in a protection
// or alarm bitmask.
func FlaggedCells(raw int64, cells int) []int {
	var out []int
	for i := 0; i < cells && i < 64; i++ {
		if raw&(1<<i) != 0 {
			out = append(out, i+1)
		}
	}
	return out
}

// Status register names of a battery record.
const (
	StatusVoltage            = "voltage_status"
	StatusCurrent            = "current_status"
	StatusTemperature        = "temperature_status"
	StatusAlarm              = "alarm_status"
	StatusFET                = "fet_status"
	StatusOvervoltageProtect = "overvoltage_protect"
	StatusUndervoltProtect   = "undervoltage_protect"
	StatusOvervoltageAlarm   = "overvoltage_alarm"
	StatusUndervoltageAlarm  = "undervoltage_alarm"
	StatusBalance            = "balance_status"
)

var statusLabels = map[string]BitLabels{
	StatusVoltage:     VoltageStatusLabels,
	StatusCurrent:     CurrentStatusLabels,
	StatusTemperature: TemperatureStatusLabels,
	StatusAlarm:       AlarmStatusLabels,
}

var CellBitmaskFields = []string{
	StatusOvervoltageProtect,
	StatusUndervoltProtect,
	StatusOvervoltageAlarm,
	StatusUndervoltageAlarm,
	StatusBalance,
}

// StatusTexts renders every status register present in a battery record as
// a readable text. Registers with nothing set read "Normal".
func StatusTexts(values fieldspec.Values) map[string]string {
	texts := map[string]string{}
	for name, labels := range statusLabels {
		if values.Has(name) {
			texts[name] = joinOrNormal(labels.Decode(values.Int(name)))
		}
	}
	if values.Has(StatusFET) {
		texts[StatusFET] = strings.Join(DecodeFETStatus(values.Int(StatusFET)), ", ")
	}
	cells := 16
	if values.Has(FieldCellCount) {
		cells = int(values.Int(FieldCellCount))
	}
	for _, name := range CellBitmaskFields {
		if !values.Has(name) {
			continue
		}
		flagged := FlaggedCells(values.Int(name), cells)
		parts := make([]string, len(flagged))
		for i, c := range flagged {
			parts[i] = strconv.Itoa(c)
		}
		texts[name] = joinOrNormal(parts)
	}
	return texts
}

func joinOrNormal(parts []string) string {
	if len(parts) == 0 {
		return "Normal"
	}
	return strings.Join(parts, ", ")
}
