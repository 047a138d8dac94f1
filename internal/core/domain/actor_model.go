package domain

import (
	"time"

	"github.com/berfenger/antra2mqtt/pkg/bms"
)

const (
	ACTOR_ID_MASTER       = "master"
	ACTOR_ID_BMS          = "bms"
	ACTOR_ID_ACCOUNTING   = "accounting"
	ACTOR_ID_MQTT         = "mqtt"
	ACTOR_ID_SINK         = "sink"
	ACTOR_ID_HA_DISCOVERY = "hadiscovery"
)

type GetFrameRequest struct {
	ActorRequestMixIn
}

type GetFrameResponse struct {
	ActorResponseMixIn
	Frame *bms.Frame
}

type GetBMSInfoRequest struct {
	ActorRequestMixIn
}

type GetBMSInfoResponse struct {
	ActorResponseMixIn
	Variant       string
	Model         string
	LayoutVersion string
	Batteries     int
	// cells of the first battery
	Cells int
}

type GetAccountingStateRequest struct {
	ActorRequestMixIn
}

type GetAccountingStateResponse struct {
	ActorResponseMixIn
	State AccountingState
	// EstimatedChargeSeconds is nil while the estimate is undefined
	EstimatedChargeSeconds *float64
}

type PersistStateRequest struct {
	ActorRequestMixIn
}

type PersistStateResponse struct {
	ActorResponseMixIn
}

type PublishMessageRequest struct {
	ActorRequestMixIn
	Topic   string
	Payload string
	Retain  bool
}

type PublishMessageResponse struct {
	ActorResponseMixIn
}

type PublishDiscoveryRequest struct {
	ActorRequestMixIn
	Sensors      []GenericSensor
	Buttons      []GenericButton
	Selects      []GenericSelect
	InputNumbers []GenericInputNumber
}

type PublishDiscoveryResponse struct {
	ActorResponseMixIn
}

type ActorHealthRequest struct {
	ActorRequestMixIn
}

type ActorHealthResponse struct {
	ActorResponseMixIn
	Id      string
	Healthy bool
	State   string
}

// Deadline is carried by requests whose caller stops waiting at some point.
// A request handled after its deadline must not be applied.
type Deadline struct {
	Until time.Time
}

func NewDeadline(timeout time.Duration) Deadline {
	return Deadline{Until: time.Now().Add(timeout)}
}

func (d Deadline) Expired(now time.Time) bool {
	return !d.Until.IsZero() && now.After(d.Until)
}
