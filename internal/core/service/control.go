package service

import (
	"fmt"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"go.uber.org/zap"
)

// AllBatteries selects every battery in the per battery operations.
const AllBatteries = -1

func (e *AccountingEngine) ResetCounters() {
	e.state.TotalChargedEnergy = 0
	e.state.TotalDischargedEnergy = 0
	e.state.EnergySinceLastCharge = 0
	e.state.UpdatedAt = e.now()
	e.logger.Info("accounting: counters reset")
}

func (e *AccountingEngine) ResetEnergySinceCharge() {
	e.state.EnergySinceLastCharge = 0
	e.state.UpdatedAt = e.now()
	e.logger.Info("accounting: energy since last charge reset")
}

// SetChargeState forces the charge status until the next tick. Forcing
// charging without a measured rate uses the configured charging rate.
func (e *AccountingEngine) SetChargeState(status domain.ChargeStatus) error {
	if _, err := domain.ParseChargeStatus(string(status)); err != nil {
		return fmt.Errorf("%w: %s", ErrValidation, err)
	}
	e.state.ChargeStatus = status
	if status == domain.ChargeStatusCharging {
		if e.state.ChargeRateWatts <= 0 {
			e.state.ChargeRateWatts = e.cfg.ChargingRateWatts
		}
	} else {
		e.state.ChargeRateWatts = 0
	}
	e.state.UpdatedAt = e.now()
	e.logger.Info("accounting: charge state set", zap.String("status", string(status)),
		zap.Float64("rate_watts", e.state.ChargeRateWatts))
	return nil
}

// AdjustCounters adds signed deltas to the totals. Totals never go below 0.
func (e *AccountingEngine) AdjustCounters(deltaCharged, deltaDischarged float64) error {
	if !finite(deltaCharged) || !finite(deltaDischarged) {
		return fmt.Errorf("%w: counter adjustment must be finite", ErrValidation)
	}
	e.state.TotalChargedEnergy = max(0, e.state.TotalChargedEnergy+deltaCharged)
	e.state.TotalDischargedEnergy = max(0, e.state.TotalDischargedEnergy+deltaDischarged)
	e.state.UpdatedAt = e.now()
	e.logger.Info("accounting: counters adjusted",
		zap.Float64("delta_charged_wh", deltaCharged), zap.Float64("delta_discharged_wh", deltaDischarged))
	return nil
}

func (e *AccountingEngine) SetBatteryStoredEnergy(index int, wh float64) error {
	if !finite(wh) || wh < 0 {
		return fmt.Errorf("%w: stored energy %v", ErrValidation, wh)
	}
	idx, err := e.batteries(index)
	if err != nil {
		return err
	}
	for _, i := range idx {
		e.state.StoredEnergy[i] = min(wh, e.state.Capacity[i])
	}
	e.state.UpdatedAt = e.now()
	return nil
}

func (e *AccountingEngine) SetBatteryToFull(index int) error {
	idx, err := e.batteries(index)
	if err != nil {
		return err
	}
	for _, i := range idx {
		e.state.StoredEnergy[i] = e.state.Capacity[i]
	}
	e.state.UpdatedAt = e.now()
	return nil
}

// SetBatteryCapacity changes the capacity and clamps the stored energy to it.
func (e *AccountingEngine) SetBatteryCapacity(index int, wh float64) error {
	if !positive(wh) {
		return fmt.Errorf("%w: capacity %v", ErrValidation, wh)
	}
	idx, err := e.batteries(index)
	if err != nil {
		return err
	}
	for _, i := range idx {
		e.state.Capacity[i] = wh
		e.state.StoredEnergy[i] = min(e.state.StoredEnergy[i], wh)
	}
	e.state.UpdatedAt = e.now()
	return nil
}

// batteries resolves index (0 based or AllBatteries) to slice positions.
func (e *AccountingEngine) batteries(index int) ([]int, error) {
	n := e.state.Batteries()
	if index == AllBatteries {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx, nil
	}
	if index < 0 || index >= n {
		return nil, fmt.Errorf("%w: battery index %d not in [0, %d)", ErrRange, index, n)
	}
	return []int{index}, nil
}
