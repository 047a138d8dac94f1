package domain

import (
	"fmt"
	"time"
)

type SensorUpdateEventMixIn struct {
	Id        string
	Timestamp time.Time
}

type SensorUpdateEvent interface {
	SensorUpdateEvent() string
	SensorId() string
	SensorTimestamp() time.Time
}

func (e SensorUpdateEventMixIn) SensorUpdateEvent() string {
	return fmt.Sprintf("%T", e)
}

func (e SensorUpdateEventMixIn) SensorId() string {
	return e.Id
}

func (e SensorUpdateEventMixIn) SensorTimestamp() time.Time {
	return e.Timestamp
}

type FloatSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
	// Undefined values are published as unknown
	Undefined bool
}

type BinarySensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type TextSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type SelectUpdateEvent struct {
	SensorUpdateEventMixIn
	Value string
}

type BridgeStateUpdateEvent struct {
	SensorUpdateEventMixIn
	Value bool
}

type InputNumberSensorUpdateEvent struct {
	SensorUpdateEventMixIn
	Value    float64
	Decimals uint
}

// ensure interface compliance
var (
	_ SensorUpdateEvent = (*FloatSensorUpdateEvent)(nil)
	_ SensorUpdateEvent = (*TextSensorUpdateEvent)(nil)
	_ SensorUpdateEvent = (*SelectUpdateEvent)(nil)
	_ SensorUpdateEvent = (*InputNumberSensorUpdateEvent)(nil)
)
