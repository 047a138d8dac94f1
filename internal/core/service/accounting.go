package service

import (
	"fmt"
	"math"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	"go.uber.org/zap"
)

type EngineConfig struct {
	BatteryCount      int
	BatteryCapacityWh float64
	// used as charge rate when charging is forced and nothing was measured
	ChargingRateWatts float64
	PollInterval      time.Duration
	// gaps longer than MaxGapIntervals*PollInterval are accounted as one
	// PollInterval
	MaxGapIntervals int
	DeadbandWatts   float64
	// stored energy within FullTolerance of capacity counts as full
	FullTolerance float64
	// raw counter unit to Wh
	ScaleFactor float64
	// highest raw counter value, the counter wraps to 0 after it
	CounterMax uint64
	// upper bound of the pack power, used to reject corrupt counter deltas
	MaxPowerWatts float64
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		BatteryCount:      1,
		BatteryCapacityWh: 2400,
		ChargingRateWatts: 1500,
		PollInterval:      30 * time.Second,
		MaxGapIntervals:   5,
		DeadbandWatts:     50,
		FullTolerance:     0.02,
		ScaleFactor:       1,
		CounterMax:        math.MaxUint16,
		MaxPowerWatts:     10000,
	}
}

func (c EngineConfig) Validate() error {
	switch {
	case c.BatteryCount < 1 || c.BatteryCount > 16:
		return fmt.Errorf("%w: battery count %d not in [1, 16]", ErrValidation, c.BatteryCount)
	case !positive(c.BatteryCapacityWh):
		return fmt.Errorf("%w: battery capacity must be > 0", ErrValidation)
	case !positive(c.ChargingRateWatts):
		return fmt.Errorf("%w: charging rate must be > 0", ErrValidation)
	case c.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be > 0", ErrValidation)
	case c.MaxGapIntervals < 1:
		return fmt.Errorf("%w: max gap intervals must be >= 1", ErrValidation)
	case c.DeadbandWatts < 0 || !finite(c.DeadbandWatts):
		return fmt.Errorf("%w: deadband must be >= 0", ErrValidation)
	case c.FullTolerance < 0 || c.FullTolerance >= 1:
		return fmt.Errorf("%w: full tolerance not in [0, 1)", ErrValidation)
	case !positive(c.ScaleFactor):
		return fmt.Errorf("%w: scale factor must be > 0", ErrValidation)
	case c.CounterMax == 0 || c.CounterMax == math.MaxUint64:
		return fmt.Errorf("%w: invalid counter max %d", ErrValidation, c.CounterMax)
	case !positive(c.MaxPowerWatts):
		return fmt.Errorf("%w: max power must be > 0", ErrValidation)
	}
	return nil
}

// AccountingEngine is the ledger state machine. It is not safe for
// concurrent use, the accounting actor is its only caller.
type AccountingEngine struct {
	cfg    EngineConfig
	state  domain.AccountingState
	logger *zap.Logger
	now    func() time.Time
}

func NewAccountingEngine(cfg EngineConfig, logger *zap.Logger) *AccountingEngine {
	return &AccountingEngine{
		cfg:    cfg,
		state:  domain.NewAccountingState(cfg.BatteryCount, cfg.BatteryCapacityWh),
		logger: logger,
		now:    time.Now,
	}
}

func (e *AccountingEngine) Config() EngineConfig {
	return e.cfg
}

// State returns a snapshot, later mutations do not show through it.
func (e *AccountingEngine) State() domain.AccountingState {
	return e.state.Snapshot()
}

// Restore replaces the ledger with a persisted state, resized to the
// configured battery count.
func (e *AccountingEngine) Restore(state domain.AccountingState) {
	s := state.Snapshot()
	s.Resize(e.cfg.BatteryCount, e.cfg.BatteryCapacityWh)
	if s.ChargeStatus != domain.ChargeStatusCharging {
		s.ChargeRateWatts = 0
	}
	e.state = s
}

// Tick accounts one sample. On error no energy is booked; a rejected counter
// delta still moves the counter baselines and the sample time.
func (e *AccountingEngine) Tick(sample domain.Sample) (domain.AccountingTickResult, error) {
	if err := e.validateSample(sample); err != nil {
		return domain.AccountingTickResult{}, err
	}

	next := e.state.Snapshot()
	result := domain.AccountingTickResult{}

	// elapsed time
	elapsed := e.cfg.PollInterval
	if !next.LastSampleTimestamp.IsZero() {
		elapsed = sample.Timestamp.Sub(next.LastSampleTimestamp)
		maxGap := time.Duration(e.cfg.MaxGapIntervals) * e.cfg.PollInterval
		switch {
		case elapsed < -maxGap:
			// the clock stepped back, account one interval from the new time base
			e.logger.Warn("accounting: clock went backwards, accounting one interval",
				zap.Time("last", next.LastSampleTimestamp), zap.Time("sample", sample.Timestamp))
			elapsed = e.cfg.PollInterval
			result.GapClamped = true
		case elapsed <= 0:
			return result, fmt.Errorf("%w: %s is not after %s", ErrStaleSample,
				sample.Timestamp.Format(time.RFC3339Nano), next.LastSampleTimestamp.Format(time.RFC3339Nano))
		case elapsed > maxGap:
			e.logger.Info("accounting: gap since last sample, accounting one interval",
				zap.Duration("gap", elapsed), zap.Duration("interval", e.cfg.PollInterval))
			elapsed = e.cfg.PollInterval
			result.GapClamped = true
		}
	}
	result.Elapsed = elapsed
	hours := elapsed.Hours()

	// status
	prev := next.ChargeStatus
	power := sample.PowerWatts
	switch {
	case power > e.cfg.DeadbandWatts:
		next.ChargeStatus = domain.ChargeStatusCharging
	case power < -e.cfg.DeadbandWatts:
		next.ChargeStatus = domain.ChargeStatusDischarging
	default:
		next.ChargeStatus = domain.ChargeStatusIdle
	}

	// energy from the power integral
	switch next.ChargeStatus {
	case domain.ChargeStatusCharging:
		result.ChargedWh = math.Abs(power) * hours
	case domain.ChargeStatusDischarging:
		result.DischargedWh = math.Abs(power) * hours
	}

	// raw counters replace the integral of their direction
	if len(sample.Counters) > 0 {
		charged, discharged, hasCharged, hasDischarged, err := e.counterEnergy(&next, sample.Counters, hours)
		if err != nil {
			// no energy is booked, later samples are measured from here
			e.rebaseline(sample)
			return domain.AccountingTickResult{}, err
		}
		if hasCharged {
			result.ChargedWh = charged
			result.CounterSource = true
		}
		if hasDischarged {
			result.DischargedWh = discharged
			result.CounterSource = true
		}
	}

	next.TotalChargedEnergy += result.ChargedWh
	next.TotalDischargedEnergy += result.DischargedWh
	next.EnergySinceLastCharge = max(0, next.EnergySinceLastCharge+result.DischargedWh-result.ChargedWh)

	// stored energy
	if len(sample.StoredEnergy) > 0 {
		for i := range next.StoredEnergy {
			if i < len(sample.StoredEnergy) {
				next.StoredEnergy[i] = clamp(sample.StoredEnergy[i], 0, next.Capacity[i])
			}
		}
	} else if n := len(next.StoredEnergy); n > 0 {
		share := (result.ChargedWh - result.DischargedWh) / float64(n)
		for i := range next.StoredEnergy {
			next.StoredEnergy[i] = clamp(next.StoredEnergy[i]+share, 0, next.Capacity[i])
		}
	}

	// full charge: charging settles into the dead-band with the pack (nearly) full
	if prev == domain.ChargeStatusCharging && next.ChargeStatus == domain.ChargeStatusIdle &&
		next.TotalStoredEnergy() >= (1-e.cfg.FullTolerance)*next.TotalCapacity() {
		result.FullCharge = true
		next.EnergySinceLastCharge = 0
		copy(next.StoredEnergy, next.Capacity)
		e.logger.Info("accounting: full charge detected", zap.Float64("stored_wh", next.TotalStoredEnergy()))
	}

	if next.ChargeStatus == domain.ChargeStatusCharging {
		next.ChargeRateWatts = power
	} else {
		next.ChargeRateWatts = 0
	}

	next.LastSampleTimestamp = sample.Timestamp
	next.UpdatedAt = e.now()
	result.Status = next.ChargeStatus

	if prev != next.ChargeStatus {
		e.logger.Debug("accounting: charge status change",
			zap.String("from", string(prev)), zap.String("to", string(next.ChargeStatus)))
	}
	e.state = next
	return result, nil
}

func (e *AccountingEngine) validateSample(sample domain.Sample) error {
	if sample.Timestamp.IsZero() {
		return fmt.Errorf("%w: sample without timestamp", ErrValidation)
	}
	if !finite(sample.PowerWatts) {
		return fmt.Errorf("%w: power %v", ErrValidation, sample.PowerWatts)
	}
	for i, v := range sample.StoredEnergy {
		if !finite(v) {
			return fmt.Errorf("%w: stored energy of battery %d is %v", ErrValidation, i, v)
		}
	}
	for _, c := range sample.Counters {
		if c.Kind != domain.CounterCharge && c.Kind != domain.CounterDischarge {
			return fmt.Errorf("%w: counter %s has unknown kind %q", ErrValidation, c.Name, c.Kind)
		}
		if c.Value > e.cfg.CounterMax {
			return fmt.Errorf("%w: counter %s value %d above max %d", ErrValidation, c.Name, c.Value, e.cfg.CounterMax)
		}
	}
	return nil
}

// counterEnergy unwraps the raw counter deltas and updates the stored
// baselines in next. A counter seen for the first time only sets its
// baseline.
func (e *AccountingEngine) counterEnergy(next *domain.AccountingState, counters []domain.RawCounter, hours float64) (
	charged, discharged float64, hasCharged, hasDischarged bool, err error) {

	bound := max(e.cfg.MaxPowerWatts*hours*2, 1)
	baselines := make(map[string]uint64, len(counters))
	for _, c := range counters {
		baselines[c.Name] = c.Value
		old, ok := next.LastRawCounters[c.Name]
		if !ok {
			continue
		}
		energy := float64(unwrap(old, c.Value, e.cfg.CounterMax)) * e.cfg.ScaleFactor
		if energy > bound {
			e.logger.Warn("accounting: implausible counter delta, sample discarded",
				zap.String("counter", c.Name), zap.Uint64("old", old), zap.Uint64("new", c.Value),
				zap.Float64("energy_wh", energy), zap.Float64("bound_wh", bound))
			return 0, 0, false, false, fmt.Errorf("%w: %s moved %.1f Wh, bound %.1f Wh",
				ErrRolloverRejected, c.Name, energy, bound)
		}
		switch c.Kind {
		case domain.CounterCharge:
			charged += energy
			hasCharged = true
		case domain.CounterDischarge:
			discharged += energy
			hasDischarged = true
		}
	}

	if next.LastRawCounters == nil {
		next.LastRawCounters = make(map[string]uint64, len(baselines))
	}
	for name, v := range baselines {
		next.LastRawCounters[name] = v
	}
	return charged, discharged, hasCharged, hasDischarged, nil
}

// rebaseline moves the counter baselines and the sample time of the ledger to
// a rejected sample, leaving the energy untouched.
func (e *AccountingEngine) rebaseline(sample domain.Sample) {
	if e.state.LastRawCounters == nil {
		e.state.LastRawCounters = make(map[string]uint64, len(sample.Counters))
	}
	for _, c := range sample.Counters {
		e.state.LastRawCounters[c.Name] = c.Value
	}
	e.state.LastSampleTimestamp = sample.Timestamp
}

// unwrap returns (newValue - oldValue) mod (counterMax + 1).
func unwrap(oldValue, newValue, counterMax uint64) uint64 {
	width := counterMax + 1
	return (newValue%width + width - oldValue%width) % width
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func positive(v float64) bool {
	return finite(v) && v > 0
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

// ensure interface compliance
var _ port.AccountingLedger = (*AccountingEngine)(nil)
