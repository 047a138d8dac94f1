package domain

import "fmt"

// AccountingControlRequest

type AccountingControlRequest interface {
	ActorRequest
	AccountingControlCommand() string
	ControlDeadline() Deadline
}

type AccountingControlRequestMixIn struct {
	ActorRequestMixIn
	Deadline Deadline
}

func (r AccountingControlRequestMixIn) AccountingControlCommand() string {
	return fmt.Sprintf("%T", r)
}

func (r AccountingControlRequestMixIn) ControlDeadline() Deadline {
	return r.Deadline
}

// AccountingControlResponse carries the ledger after the operation.

type AccountingControlResponse struct {
	ActorResponseMixIn
	AuditId string
	State   AccountingState
}

// Accounting control commands

type ResetCountersRequest struct {
	AccountingControlRequestMixIn
}

type ResetEnergySinceChargeRequest struct {
	AccountingControlRequestMixIn
}

type SetChargeStateRequest struct {
	AccountingControlRequestMixIn
	Status ChargeStatus
}

type AdjustCountersRequest struct {
	AccountingControlRequestMixIn
	DeltaCharged    float64
	DeltaDischarged float64
}

type SetBatteryStoredEnergyRequest struct {
	AccountingControlRequestMixIn
	// Index is 0 based, -1 selects every battery
	Index int
	Value float64
}

type SetBatteryToFullRequest struct {
	AccountingControlRequestMixIn
	Index int
}

type SetBatteryCapacityRequest struct {
	AccountingControlRequestMixIn
	Index int
	Value float64
}

// ensure interface compliance
var (
	_ AccountingControlRequest = (*ResetCountersRequest)(nil)
	_ AccountingControlRequest = (*ResetEnergySinceChargeRequest)(nil)
	_ AccountingControlRequest = (*SetChargeStateRequest)(nil)
	_ AccountingControlRequest = (*AdjustCountersRequest)(nil)
	_ AccountingControlRequest = (*SetBatteryStoredEnergyRequest)(nil)
	_ AccountingControlRequest = (*SetBatteryToFullRequest)(nil)
	_ AccountingControlRequest = (*SetBatteryCapacityRequest)(nil)
)

// ControlCommandName is the name used in audit logs.
func ControlCommandName(r AccountingControlRequest) string {
	switch r.(type) {
	case ResetCountersRequest:
		return "reset_counters"
	case ResetEnergySinceChargeRequest:
		return "reset_energy_since_charge"
	case SetChargeStateRequest:
		return "set_charge_state"
	case AdjustCountersRequest:
		return "adjust_counters"
	case SetBatteryStoredEnergyRequest:
		return "set_battery_stored_energy"
	case SetBatteryToFullRequest:
		return "set_battery_to_full"
	case SetBatteryCapacityRequest:
		return "set_battery_capacity"
	}
	return r.AccountingControlCommand()
}
