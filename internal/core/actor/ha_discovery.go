package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type HADiscoveryActor struct {
	config           *config.Config
	behavior         actor.Behavior
	stash            *actorutil.Stash
	bmsActor         *actor.PID
	mqttActor        *actor.PID
	bmsActorHealthy  bool
	mqttActorHealthy bool
	healthyRecv      int

	logger *zap.Logger
}

func NewHADiscoveryActor(config *config.Config, bmsActor *actor.PID, mqttActor *actor.PID, logger *zap.Logger) *HADiscoveryActor {
	act := &HADiscoveryActor{
		config:    config,
		bmsActor:  bmsActor,
		mqttActor: mqttActor,
		behavior:  actor.NewBehavior(),
		stash:     &actorutil.Stash{},
		logger:    actorutil.ActorLogger(domain.ACTOR_ID_HA_DISCOVERY, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *HADiscoveryActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *HADiscoveryActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("hadiscovery@starting started")

		// Check BMS and MQTT actor healthy
		state.healthyRecv = 0
		state.bmsActorHealthy = false
		state.mqttActorHealthy = false
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.bmsActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_BMS,
				Healthy: false,
			}
		})
		actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 2*time.Second), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		state.behavior.Become(state.WaitingHealthyReceive)
	case *actor.Restarting:
	default:
		state.logger.Debug("hadiscovery@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) WaitingHealthyReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthResponse:
		state.logger.Debug("hadiscovery@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.healthyRecv++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_BMS:
				state.bmsActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.mqttActorHealthy = true
			}
		}
		if state.healthyRecv == 2 {
			if state.bmsActorHealthy && state.mqttActorHealthy {
				// the entity list depends on the batteries the BMS reports
				actorutil.PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.bmsActor, domain.GetBMSInfoRequest{}, 10*time.Second), func(err error) any {
					return domain.GetBMSInfoResponse{
						ActorResponseMixIn: domain.ErrorResponse(err),
					}
				})
				state.behavior.Become(state.WaitingInfoReceive)
				state.stash.UnstashAll(ctx)
			} else {
				panic(errors.New("MQTT actor or BMS actor are not healthy"))
			}
		}
	default:
		state.logger.Debug("hadiscovery@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *HADiscoveryActor) Done(ctx actor.Context) {

}

func (state *HADiscoveryActor) WaitingInfoReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetBMSInfoResponse:
		if msg.HasResponseError() {
			panic(msg.GetResponseError())
		}
		state.logger.Debug("hadiscovery@info GetBMSInfoResponse", zap.Any("response", msg))

		ctx.Send(state.mqttActor, DiscoveryRequest(state.config, msg))
		state.behavior.Become(state.Done)
	default:
		state.logger.Debug("hadiscovery@info default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// DiscoveryRequest lists every entity of the bridge. Accounting entities
// follow the configured battery count, telemetry entities the batteries the
// BMS reports.
func DiscoveryRequest(cfg *config.Config, info domain.GetBMSInfoResponse) domain.PublishDiscoveryRequest {
	var sensors []domain.GenericSensor

	bridgeDevice := domain.BridgeDevice(cfg.MQTT.BaseTopic)
	sensors = append(sensors, domain.BridgeSensors(bridgeDevice)...)

	bmsDevice := domain.BMSDevice(cfg.MQTT.BaseTopic, info.Model, info.LayoutVersion)
	bmsDevice.ViaDevice = bridgeDevice.Id
	idDevice := domain.IdDevice(bmsDevice)

	accountingSensors := domain.AccountingSensors(bmsDevice, cfg.Accounting.BatteryCount)
	for i := range accountingSensors {
		// the full device is announced once
		if i > 0 {
			accountingSensors[i].Device = idDevice
		}
		sensors = append(sensors, accountingSensors[i])
	}
	sensors = append(sensors, domain.PackSensors(idDevice)...)
	for n := 1; n <= info.Batteries; n++ {
		sensors = append(sensors, domain.BatterySensors(idDevice, n, info.Cells)...)
	}

	maxCapacity := 4 * cfg.Accounting.BatteryCapacityWh
	return domain.PublishDiscoveryRequest{
		Sensors:      sensors,
		Buttons:      domain.AccountingButtons(idDevice),
		Selects:      domain.AccountingSelects(idDevice),
		InputNumbers: domain.AccountingInputNumbers(idDevice, cfg.Accounting.BatteryCount, maxCapacity),
	}
}
