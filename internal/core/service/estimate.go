package service

import "github.com/berfenger/antra2mqtt/internal/core/domain"

const minChargeRateWatts = 1e-6

// EstimateChargeSeconds returns the time left until the pack is full at the
// current charge rate. ok is false while not charging.
func EstimateChargeSeconds(state domain.AccountingState) (seconds float64, ok bool) {
	if state.ChargeStatus != domain.ChargeStatusCharging || state.ChargeRateWatts <= 0 {
		return 0, false
	}
	missing := max(0, state.TotalCapacity()-state.TotalStoredEnergy())
	return missing / max(state.ChargeRateWatts, minChargeRateWatts) * 3600, true
}
