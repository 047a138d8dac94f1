package domain

import (
	"fmt"
	"maps"
	"slices"
	"time"
)

type ChargeStatus string

const (
	ChargeStatusIdle        ChargeStatus = "idle"
	ChargeStatusCharging    ChargeStatus = "charging"
	ChargeStatusDischarging ChargeStatus = "discharging"
)

var ChargeStatuses = []ChargeStatus{ChargeStatusIdle, ChargeStatusCharging, ChargeStatusDischarging}

func ParseChargeStatus(s string) (ChargeStatus, error) {
	for _, st := range ChargeStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown charge status %q", s)
}

// AccountingState is the energy ledger. It is persisted and restored as is.
type AccountingState struct {
	TotalDischargedEnergy float64           `json:"total_discharged_energy"`
	TotalChargedEnergy    float64           `json:"total_charged_energy"`
	EnergySinceLastCharge float64           `json:"energy_since_last_charge"`
	ChargeStatus          ChargeStatus      `json:"charge_status"`
	ChargeRateWatts       float64           `json:"charge_rate_watts"`
	StoredEnergy          []float64         `json:"stored_energy"`
	Capacity              []float64         `json:"capacity"`
	LastSampleTimestamp   time.Time         `json:"last_sample_timestamp"`
	LastRawCounters       map[string]uint64 `json:"last_raw_counters,omitempty"`
	UpdatedAt             time.Time         `json:"updated_at"`
}

func NewAccountingState(batteries int, capacity float64) AccountingState {
	s := AccountingState{ChargeStatus: ChargeStatusIdle}
	s.Resize(batteries, capacity)
	return s
}

// Snapshot returns a deep copy.
func (s AccountingState) Snapshot() AccountingState {
	c := s
	c.StoredEnergy = slices.Clone(s.StoredEnergy)
	c.Capacity = slices.Clone(s.Capacity)
	if s.LastRawCounters != nil {
		c.LastRawCounters = maps.Clone(s.LastRawCounters)
	}
	return c
}

func (s AccountingState) Batteries() int {
	return len(s.Capacity)
}

func (s AccountingState) TotalStoredEnergy() float64 {
	var total float64
	for _, v := range s.StoredEnergy {
		total += v
	}
	return total
}

func (s AccountingState) TotalCapacity() float64 {
	var total float64
	for _, v := range s.Capacity {
		total += v
	}
	return total
}

// Resize adapts the per battery slices to the configured battery count.
// Extra batteries are dropped, missing ones get the default capacity and no
// stored energy. Stored energy is kept within [0, capacity].
func (s *AccountingState) Resize(batteries int, capacity float64) {
	stored := make([]float64, batteries)
	caps := make([]float64, batteries)
	for i := 0; i < batteries; i++ {
		caps[i] = capacity
		if i < len(s.Capacity) && s.Capacity[i] > 0 {
			caps[i] = s.Capacity[i]
		}
		if i < len(s.StoredEnergy) {
			stored[i] = clamp(s.StoredEnergy[i], 0, caps[i])
		}
	}
	s.StoredEnergy = stored
	s.Capacity = caps
	if s.ChargeStatus == "" {
		s.ChargeStatus = ChargeStatusIdle
	}
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}

type CounterKind string

const (
	CounterCharge    CounterKind = "charge"
	CounterDischarge CounterKind = "discharge"
)

// RawCounter is a cumulative energy register read from the BMS. It wraps
// at the configured counter max.
type RawCounter struct {
	Name  string
	Kind  CounterKind
	Value uint64
}

// Sample is the input of one accounting tick. PowerWatts is positive while
// charging. StoredEnergy (Wh per battery) and Counters are optional.
type Sample struct {
	Timestamp    time.Time
	PowerWatts   float64
	StoredEnergy []float64
	Counters     []RawCounter
}

type AccountingTickResult struct {
	Status        ChargeStatus
	Elapsed       time.Duration
	ChargedWh     float64
	DischargedWh  float64
	FullCharge    bool
	GapClamped    bool
	CounterSource bool
}
