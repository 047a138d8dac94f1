package port

import (
	"github.com/berfenger/antra2mqtt/internal/core/domain"
)

// AccountingLedger owns the energy ledger. Implementations are not safe for
// concurrent use, callers serialize every call.
type AccountingLedger interface {
	Tick(sample domain.Sample) (domain.AccountingTickResult, error)
	State() domain.AccountingState
	Restore(state domain.AccountingState)

	ResetCounters()
	ResetEnergySinceCharge()
	SetChargeState(status domain.ChargeStatus) error
	AdjustCounters(deltaCharged, deltaDischarged float64) error
	SetBatteryStoredEnergy(index int, value float64) error
	SetBatteryToFull(index int) error
	SetBatteryCapacity(index int, value float64) error
}
