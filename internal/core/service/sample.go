package service

import (
	"fmt"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/pkg/bms"
)

// SampleFromFrame turns a decoded frame into an accounting sample. Stored
// energy is only set when every battery reports it. With counters enabled
// each battery contributes its cumulative charge and discharge registers.
func SampleFromFrame(frame *bms.Frame, counters bool) (domain.Sample, error) {
	if frame == nil {
		return domain.Sample{}, fmt.Errorf("%w: no frame", ErrValidation)
	}
	power, ok := frame.Power()
	if !ok {
		return domain.Sample{}, fmt.Errorf("%w: frame without battery voltage and current", ErrValidation)
	}

	sample := domain.Sample{
		Timestamp:  frame.Timestamp,
		PowerWatts: power,
	}

	stored := make([]float64, 0, len(frame.Batteries))
	for _, b := range frame.Batteries {
		wh, has := b.StoredEnergyWh()
		if !has {
			stored = nil
			break
		}
		stored = append(stored, wh)
	}
	if len(stored) > 0 {
		sample.StoredEnergy = stored
	}

	if counters {
		for _, b := range frame.Batteries {
			if b.Values.Has(bms.FieldTotalCharge) {
				sample.Counters = append(sample.Counters, domain.RawCounter{
					Name:  CounterName(b.Number(), bms.FieldTotalCharge),
					Kind:  domain.CounterCharge,
					Value: uint64(b.Values.Int(bms.FieldTotalCharge)),
				})
			}
			if b.Values.Has(bms.FieldTotalDischarge) {
				sample.Counters = append(sample.Counters, domain.RawCounter{
					Name:  CounterName(b.Number(), bms.FieldTotalDischarge),
					Kind:  domain.CounterDischarge,
					Value: uint64(b.Values.Int(bms.FieldTotalDischarge)),
				})
			}
		}
	}
	return sample, nil
}

func CounterName(battery int, field string) string {
	return fmt.Sprintf("battery_%d_%s", battery, field)
}
