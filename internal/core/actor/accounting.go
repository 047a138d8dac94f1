package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/events"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	"github.com/berfenger/antra2mqtt/internal/core/service"
	. "github.com/berfenger/antra2mqtt/internal/util/actorutil"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/asynkron/protoactor-go/scheduler"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const persistTimeout = 5 * time.Second

// AccountingActor owns the accounting engine. Ticks and control commands
// are mailbox messages, so the ledger has a single writer.
type AccountingActor struct {
	ActorWithStates
	scheduler   *scheduler.TimerScheduler
	stash       *Stash
	config      *config.Config
	engine      *service.AccountingEngine
	store       port.StateStore
	bmsActor    *actor.PID
	eventStream *eventstream.EventStream
	now         func() time.Time

	logger *zap.Logger
}

type accountingTick struct {
}

type stateLoaded struct {
	state domain.AccountingState
	ok    bool
	err   error
}

// EngineConfig maps the accounting configuration to the engine settings.
func EngineConfig(cfg config.AccountingConfig) service.EngineConfig {
	return service.EngineConfig{
		BatteryCount:      cfg.BatteryCount,
		BatteryCapacityWh: cfg.BatteryCapacityWh,
		ChargingRateWatts: cfg.ChargingRateWatts,
		PollInterval:      cfg.PollInterval(),
		MaxGapIntervals:   int(cfg.MaxGapIntervals),
		DeadbandWatts:     cfg.DeadbandWatts,
		FullTolerance:     cfg.FullTolerance,
		ScaleFactor:       cfg.ScaleFactor,
		CounterMax:        cfg.CounterMax,
		MaxPowerWatts:     cfg.MaxPowerWatts,
	}
}

func NewAccountingActor(config *config.Config, bmsActor *actor.PID, store port.StateStore, eventStream *eventstream.EventStream, logger *zap.Logger) *AccountingActor {
	act := &AccountingActor{
		config:      config,
		bmsActor:    bmsActor,
		store:       store,
		eventStream: eventStream,
		engine:      service.NewAccountingEngine(EngineConfig(config.Accounting), logger.With(zap.String("component", "engine"))),
		stash:       &Stash{},
		now:         time.Now,
		logger:      ActorLogger(domain.ACTOR_ID_ACCOUNTING, logger),
		ActorWithStates: ActorWithStates{
			Behavior: actor.NewBehavior(),
		},
	}
	act.Become(ACStartingState{
		actor: act,
	})
	return act
}

func (state *AccountingActor) Receive(context actor.Context) {
	state.Behavior.Receive(context)
}

// Starting state

type ACStartingState struct {
	ActorState
	actor *AccountingActor
}

func (state ACStartingState) Name() string {
	return "starting"
}

func (state ACStartingState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.actor.logger.Debug("accounting@starting started")
		state.actor.scheduler = scheduler.NewTimerScheduler(ctx)

		store := state.actor.store
		NewBackgroundTask(ctx, func() (*stateLoaded, error) {
			c, cancel := context.WithTimeout(context.Background(), persistTimeout)
			defer cancel()
			s, ok, err := store.Load(c)
			return &stateLoaded{state: s, ok: ok, err: err}, nil
		}).WithTimeout(persistTimeout).Recover(func(err error) stateLoaded {
			return stateLoaded{err: err}
		}).PipeTo(ctx.Self())
	case stateLoaded:
		if msg.err != nil {
			state.actor.logger.Error("accounting@starting load failed, starting from an empty ledger", zap.Error(msg.err))
		} else if msg.ok {
			state.actor.engine.Restore(msg.state)
			state.actor.logger.Info("accounting@starting state restored",
				zap.Float64("total_charged_wh", msg.state.TotalChargedEnergy),
				zap.Float64("total_discharged_wh", msg.state.TotalDischargedEnergy),
				zap.String("charge_status", string(msg.state.ChargeStatus)))
		} else {
			state.actor.logger.Info("accounting@starting no persisted state")
		}
		state.actor.publishState(state.actor.now())

		delay := state.actor.config.Accounting.StartupDelay()
		state.actor.logger.Debug("accounting@starting first tick scheduled", zap.Duration("delay", delay))
		state.actor.scheduler.RequestOnce(delay, ctx.Self(), accountingTick{})

		state.actor.Become(ACIdleState{
			actor: state.actor,
		})
		state.actor.stash.UnstashAll(ctx)
	case *actor.Restarting:
	default:
		state.actor.logger.Debug("accounting@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

// Idle state

type ACIdleState struct {
	ActorState
	actor *AccountingActor
}

func (state ACIdleState) Name() string {
	return "idle"
}

func (state ACIdleState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("accounting@idle ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ACCOUNTING,
			Healthy: true,
			State:   state.Name(),
		})
	case accountingTick:
		state.actor.logger.Debug("accounting@idle tick")
		// next tick is scheduled at tick start
		state.actor.scheduler.RequestOnce(state.actor.config.Accounting.PollInterval(), ctx.Self(), accountingTick{})
		state.actor.BecomeStacked(ACWaitingFrameState{
			actor: state.actor,
		}.OnEnterAction(ctx))
	case domain.GetAccountingStateRequest:
		state.actor.logger.Debug("accounting@idle GetAccountingStateRequest")
		s := state.actor.engine.State()
		ForRequest(msg).Respond(ctx, domain.GetAccountingStateResponse{
			State:                  s,
			EstimatedChargeSeconds: estimate(s),
		})
	case domain.AccountingControlRequest:
		state.actor.control(ctx, msg)
	case domain.PersistStateRequest:
		state.actor.logger.Debug("accounting@idle PersistStateRequest")
		err := state.actor.persist(ctx)
		if err != nil {
			state.actor.logger.Error("accounting@idle persist failed", zap.Error(err))
		}
		ForRequest(msg).Respond(ctx, domain.PersistStateResponse{ActorResponseMixIn: domain.ErrorResponse(err)})
	case *actor.Stopping:
		state.actor.stop(ctx)
	case *actor.Restarting:
		state.actor.stop(ctx)
	default:
		state.actor.logger.Debug("accounting@idle recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

// Waiting frame state. Everything but health and lifecycle messages waits
// for the frame, ticks included.

type ACWaitingFrameState struct {
	ActorState
	actor *AccountingActor
}

func (state ACWaitingFrameState) Name() string {
	return "waitingFrame"
}

func (state ACWaitingFrameState) Receive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.GetFrameResponse:
		if msg.HasResponseError() {
			state.actor.logger.Warn("accounting@waitingFrame read failed, tick skipped", zap.Error(msg.GetResponseError()))
		} else {
			state.actor.logger.Debug("accounting@waitingFrame GetFrameResponse")
			state.actor.onFrame(msg)
		}
		state.actor.UnbecomeStacked()
		state.actor.stash.UnstashAll(ctx)
	case domain.ActorHealthRequest:
		state.actor.logger.Debug("accounting@waitingFrame ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_ACCOUNTING,
			Healthy: true,
			State:   state.Name(),
		})
	case *actor.Stopping:
		state.actor.stop(ctx)
	case *actor.Restarting:
		state.actor.stop(ctx)
	default:
		state.actor.logger.Debug("accounting@waitingFrame stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.actor.stash.Stash(ctx, msg)
	}
}

func (state ACWaitingFrameState) OnEnterAction(ctx actor.Context) ACWaitingFrameState {
	timeout := 2 * time.Duration(state.actor.config.BMS.ReadTimeoutMillis) * time.Millisecond
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	PipeToSelfWithRecover(ctx, ctx.RequestFuture(state.actor.bmsActor, domain.GetFrameRequest{}, timeout), func(err error) any {
		return domain.GetFrameResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
		}
	})
	return state
}

// Other actor function helpers

func (state *AccountingActor) onFrame(msg domain.GetFrameResponse) {
	frame := msg.Frame
	if frame == nil {
		return
	}
	for _, ev := range events.FrameToUpdateEvents(frame) {
		state.eventStream.Publish(ev)
	}

	sample, err := service.SampleFromFrame(frame, state.config.Accounting.UseRawCounters)
	if err != nil {
		state.logger.Warn("accounting@waitingFrame frame not usable", zap.Error(err))
		return
	}
	result, err := state.engine.Tick(sample)
	switch {
	case errors.Is(err, service.ErrStaleSample):
		state.logger.Warn("accounting@waitingFrame stale sample", zap.Time("timestamp", sample.Timestamp), zap.Error(err))
		return
	case err != nil:
		state.logger.Warn("accounting@waitingFrame sample rejected", zap.Error(err))
		return
	}
	state.logger.Debug("accounting@waitingFrame tick",
		zap.String("status", string(result.Status)),
		zap.Float64("power_watts", sample.PowerWatts),
		zap.Float64("charged_wh", result.ChargedWh),
		zap.Float64("discharged_wh", result.DischargedWh),
		zap.Bool("counters", result.CounterSource))
	if result.GapClamped {
		state.logger.Info("accounting@waitingFrame sample gap clamped", zap.Duration("elapsed", result.Elapsed))
	}
	if result.FullCharge {
		state.logger.Info("accounting@waitingFrame full charge detected")
	}
	state.publishState(sample.Timestamp)
}

func (state *AccountingActor) control(ctx actor.Context, req domain.AccountingControlRequest) {
	command := domain.ControlCommandName(req)
	auditId := uuid.NewString()
	logger := state.logger.With(zap.String("command", command), zap.String("audit_id", auditId))

	if req.ControlDeadline().Expired(state.now()) {
		logger.Warn("accounting@idle control refused, caller deadline passed")
		ForRequest(req).Respond(ctx, domain.AccountingControlResponse{
			ActorResponseMixIn: domain.ErrorResponse(service.ErrBusy),
			AuditId:            auditId,
		})
		return
	}

	var err error
	engine := state.engine
	switch cmd := req.(type) {
	case domain.ResetCountersRequest:
		engine.ResetCounters()
	case domain.ResetEnergySinceChargeRequest:
		engine.ResetEnergySinceCharge()
	case domain.SetChargeStateRequest:
		logger = logger.With(zap.String("status", string(cmd.Status)))
		err = engine.SetChargeState(cmd.Status)
	case domain.AdjustCountersRequest:
		logger = logger.With(zap.Float64("delta_charged", cmd.DeltaCharged), zap.Float64("delta_discharged", cmd.DeltaDischarged))
		err = engine.AdjustCounters(cmd.DeltaCharged, cmd.DeltaDischarged)
	case domain.SetBatteryStoredEnergyRequest:
		logger = logger.With(zap.Int("index", cmd.Index), zap.Float64("value", cmd.Value))
		err = engine.SetBatteryStoredEnergy(cmd.Index, cmd.Value)
	case domain.SetBatteryToFullRequest:
		logger = logger.With(zap.Int("index", cmd.Index))
		err = engine.SetBatteryToFull(cmd.Index)
	case domain.SetBatteryCapacityRequest:
		logger = logger.With(zap.Int("index", cmd.Index), zap.Float64("value", cmd.Value))
		err = engine.SetBatteryCapacity(cmd.Index, cmd.Value)
	default:
		err = fmt.Errorf("%w: unsupported command %s", service.ErrValidation, command)
	}

	if err != nil {
		logger.Warn("accounting@idle control rejected", zap.Error(err))
		ForRequest(req).Respond(ctx, domain.AccountingControlResponse{
			ActorResponseMixIn: domain.ErrorResponse(err),
			AuditId:            auditId,
		})
		return
	}

	logger.Info("accounting@idle control applied")
	s := engine.State()
	ForRequest(req).Respond(ctx, domain.AccountingControlResponse{
		AuditId: auditId,
		State:   s,
	})
	state.publishState(state.now())
}

func (state *AccountingActor) publishState(ts time.Time) {
	s := state.engine.State()
	for _, ev := range events.AccountingStateToUpdateEvents(s, estimate(s), ts) {
		state.eventStream.Publish(ev)
	}
}

// persist saves the ledger and waits for the store.
func (state *AccountingActor) persist(ctx actor.Context) error {
	var result error
	s := state.engine.State()
	store := state.store
	NewBackgroundTaskErr(ctx, func() error {
		c, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		return store.Save(c, s)
	}).WithTimeout(persistTimeout).Recover(func(err error) any {
		return err
	}).OnSuccess(func(v any) {
		if err, ok := v.(error); ok {
			result = err
		}
	}).Run()
	return result
}

func (state *AccountingActor) stop(ctx actor.Context) {
	if err := state.persist(ctx); err != nil {
		state.logger.Error("accounting: persist on stop failed", zap.Error(err))
	} else {
		state.logger.Info("accounting: state persisted on stop")
	}
}

func estimate(s domain.AccountingState) *float64 {
	if seconds, ok := service.EstimateChargeSeconds(s); ok {
		return &seconds
	}
	return nil
}
