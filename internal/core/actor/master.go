package actor

import (
	"errors"
	"fmt"
	"log"
	"time"

	adactor "github.com/berfenger/antra2mqtt/internal/adapter/actor"
	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	. "github.com/berfenger/antra2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"go.uber.org/zap"
)

type MQTTActorProvider func(*eventstream.EventStream) *adactor.MQTTActor

type BMSActorProvider func() *adactor.BMSActor

// SinkActorProvider is optional, no sink actor is spawned when nil.
type SinkActorProvider func(*eventstream.EventStream) *adactor.SinkActor

type MasterOfPuppetsActor struct {
	config   config.Config
	behavior actor.Behavior
	stash    *Stash

	currentHealthCheck healthCheckResult
	eventStream        *eventstream.EventStream
	store              port.StateStore
	bmsActor           *actor.PID
	mqttActor          *actor.PID
	accountingActor    *actor.PID
	sinkActor          *actor.PID
	bmsActorProvider   BMSActorProvider
	mqttActorProvider  MQTTActorProvider
	sinkActorProvider  SinkActorProvider
	logger             *zap.Logger
}

type healthCheckResult struct {
	bmsActorHealthy        bool
	mqttActorHealthy       bool
	accountingActorHealthy bool
	checksReceived         int
	respondTo              *actor.PID
}

func NewMasterOfPuppetsActor(config config.Config, eventStream *eventstream.EventStream, store port.StateStore,
	bmsActorProvider BMSActorProvider, mqttActorProvider MQTTActorProvider, sinkActorProvider SinkActorProvider,
	logger *zap.Logger) *MasterOfPuppetsActor {
	if eventStream == nil {
		eventStream = &eventstream.EventStream{}
	}
	act := &MasterOfPuppetsActor{
		config:            config,
		behavior:          actor.NewBehavior(),
		stash:             &Stash{},
		logger:            ActorLogger(domain.ACTOR_ID_MASTER, logger),
		eventStream:       eventStream,
		store:             store,
		bmsActorProvider:  bmsActorProvider,
		mqttActorProvider: mqttActorProvider,
		sinkActorProvider: sinkActorProvider,
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *MasterOfPuppetsActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *MasterOfPuppetsActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("master@starting started")

		state.currentHealthCheck = healthCheckResult{}
		state.currentHealthCheck.reset()

		// start BMS child
		bmsActorPID, err := state.startBMSActor(ctx)
		if err != nil {
			panic(err)
		}
		state.bmsActor = bmsActorPID

		// start MQTT child
		mqttActorPID, err := state.startMQTTActor(ctx)
		if err != nil {
			panic(err)
		}
		state.mqttActor = mqttActorPID

		// start Accounting child
		accountingActorPID, err := state.startAccountingActor(ctx)
		if err != nil {
			panic(err)
		}
		state.accountingActor = accountingActorPID

		// start metric sink
		if state.sinkActorProvider != nil {
			sinkActorPID, err := state.startSinkActor(ctx)
			if err != nil {
				panic(err)
			}
			state.sinkActor = sinkActorPID
		}

		// start HA Discovery
		if state.config.MQTT.HADiscoveryEnable {
			_, err := state.startHADiscoveryActor(ctx)
			if err != nil {
				panic(err)
			}
		}

		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	default:
		state.logger.Debug("master@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("master@default ActorHealthRequest")
		state.currentHealthCheck.reset()
		state.currentHealthCheck.respondTo = ctx.Sender()
		// BMS Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.bmsActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_BMS,
				Healthy: false,
			}
		})
		// MQTT Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.mqttActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_MQTT,
				Healthy: false,
			}
		})
		// Accounting Actor Request
		PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.accountingActor, domain.ActorHealthRequest{}, 500*time.Millisecond), func(err error) any {
			return domain.ActorHealthResponse{
				Id:      domain.ACTOR_ID_ACCOUNTING,
				Healthy: false,
			}
		})

		ctx.SetReceiveTimeout(1 * time.Second)

		state.behavior.BecomeStacked(state.HealthCheckReceive)
	case adactor.ParsedCommand:
		// redirect parsedCommand to the ledger
		state.logger.Debug("master@default parsedCommand", zap.Any("command", msg.Command))
		if msg.Command != nil {
			cmd, err := ParsedMQTTCommandToCommand(*msg.Command)
			if err != nil {
				state.logger.Warn("master@default invalid command", zap.Error(err), zap.String("id", msg.Command.DeviceId))
			} else if cmd != nil {
				ctx.Send(state.accountingActor, cmd)
			}
		}
	case domain.AccountingControlRequest:
		// the ledger responds to the original sender
		state.logger.Debug("master@default AccountingControlRequest", zap.String("command", domain.ControlCommandName(msg)))
		ctx.RequestWithCustomSender(state.accountingActor, msg, ctx.Sender())
	case domain.GetAccountingStateRequest:
		ctx.RequestWithCustomSender(state.accountingActor, msg, ctx.Sender())
	case domain.PersistStateRequest:
		state.logger.Debug("master@default PersistStateRequest")
		ctx.RequestWithCustomSender(state.accountingActor, msg, ctx.Sender())
	case *actor.Terminated:
		// if the BMS actor gives up, terminate
		if msg.Who.Id == fmt.Sprintf("%s/%s", ctx.Self().Id, domain.ACTOR_ID_BMS) {
			state.logger.Error("master@default bms error")
			panic(errors.New("bms terminated"))
		}
	default:
		state.logger.Debug("master@default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *MasterOfPuppetsActor) HealthCheckReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.ReceiveTimeout:
		// if some actor does not respond to healthCheck, assume not healthy
		ctx.SetReceiveTimeout(0)
		state.currentHealthCheck.respond(ctx)
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case domain.ActorHealthResponse:
		state.logger.Debug("master@healthcheck ActorHealthResponse", zap.String("sender", msg.Id), zap.Bool("healthy", msg.Healthy))
		state.currentHealthCheck.checksReceived++
		if msg.Healthy {
			switch msg.Id {
			case domain.ACTOR_ID_BMS:
				state.currentHealthCheck.bmsActorHealthy = true
			case domain.ACTOR_ID_MQTT:
				state.currentHealthCheck.mqttActorHealthy = true
			case domain.ACTOR_ID_ACCOUNTING:
				state.currentHealthCheck.accountingActorHealthy = true
			}
		}
		if state.currentHealthCheck.allReceived() {
			ctx.SetReceiveTimeout(0)
			state.currentHealthCheck.respond(ctx)

			state.behavior.UnbecomeStacked()
			state.stash.UnstashAll(ctx)
		} else {
			ctx.SetReceiveTimeout(1 * time.Second)
		}
	default:
		state.logger.Debug("master@healthcheck stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *MasterOfPuppetsActor) startBMSActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	bmsProps := actor.PropsFromProducer(func() actor.Actor {
		return state.bmsActorProvider()
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(bmsProps, domain.ACTOR_ID_BMS)
}

func (state *MasterOfPuppetsActor) startAccountingActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(3, 10*time.Second, decider)

	accountingProps := actor.PropsFromProducer(func() actor.Actor {
		return NewAccountingActor(&state.config, state.bmsActor, state.store, state.eventStream, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(accountingProps, domain.ACTOR_ID_ACCOUNTING)
}

func (state *MasterOfPuppetsActor) startHADiscoveryActor(ctx actor.Context) (*actor.PID, error) {

	decider := func(reason interface{}) actor.Directive {
		log.Printf("handling failure for child. reason: %v", reason)
		return actor.RestartDirective
	}
	supervisor := actor.NewOneForOneStrategy(1, 10*time.Second, decider)

	haDiscProps := actor.PropsFromProducer(func() actor.Actor {
		return NewHADiscoveryActor(&state.config, state.bmsActor, state.mqttActor, state.logger)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(haDiscProps, domain.ACTOR_ID_HA_DISCOVERY)
}

func (state *MasterOfPuppetsActor) startMQTTActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(10*time.Second, 1*time.Second)

	mqttProps := actor.PropsFromProducer(func() actor.Actor {
		return state.mqttActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(mqttProps, domain.ACTOR_ID_MQTT)
}

func (state *MasterOfPuppetsActor) startSinkActor(ctx actor.Context) (*actor.PID, error) {

	supervisor := actor.NewExponentialBackoffStrategy(30*time.Second, 1*time.Second)

	sinkProps := actor.PropsFromProducer(func() actor.Actor {
		return state.sinkActorProvider(state.eventStream)
	}, actor.WithSupervisor(supervisor))
	return ctx.SpawnNamed(sinkProps, domain.ACTOR_ID_SINK)
}

func (state *healthCheckResult) reset() {
	state.bmsActorHealthy = false
	state.mqttActorHealthy = false
	state.accountingActorHealthy = false
	state.checksReceived = 0
}

func (state *healthCheckResult) allReceived() bool {
	return state.checksReceived == 3
}

func (state *healthCheckResult) allHealthy() bool {
	return state.bmsActorHealthy && state.mqttActorHealthy && state.accountingActorHealthy
}

func (state *healthCheckResult) respond(ctx actor.Context) {
	resp := domain.ActorHealthResponse{
		Id:      domain.ACTOR_ID_MASTER,
		Healthy: state.allHealthy(),
	}
	if state.respondTo != nil {
		ctx.Send(state.respondTo, resp)
	}
}
