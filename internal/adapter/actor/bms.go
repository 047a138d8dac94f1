package actor

import (
	"context"
	"fmt"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"
	"github.com/berfenger/antra2mqtt/pkg/bms"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

// BMSActor serializes every access to the frame source. Reads run in a
// background task and the actor stashes requests until the read finishes.
type BMSActor struct {
	behavior    actor.Behavior
	stash       *actorutil.Stash
	source      port.FrameSource
	readTimeout time.Duration
	lastFrame   *bms.Frame
	logger      *zap.Logger
}

type backgroundTaskResult struct {
	message any
	replyTo *actor.PID
}

type infoFrame struct {
	frame *bms.Frame
}

type opener interface {
	Open() error
}

func NewBMSActor(source port.FrameSource, readTimeout time.Duration, logger *zap.Logger) *BMSActor {
	act := &BMSActor{
		source:      source,
		readTimeout: readTimeout,
		behavior:    actor.NewBehavior(),
		stash:       &actorutil.Stash{},
		logger:      actorutil.ActorLogger(domain.ACTOR_ID_BMS, logger),
	}
	act.behavior.Become(act.StartingReceive)
	return act
}

func (state *BMSActor) Receive(context actor.Context) {
	state.behavior.Receive(context)
}

func (state *BMSActor) StartingReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case *actor.Started:
		state.logger.Debug("bms@starting started", zap.String("variant", state.source.Variant().Name()))
		if o, ok := state.source.(opener); ok {
			if err := o.Open(); err != nil {
				state.logger.Error("bms@starting open failed", zap.Error(err))
				panic(err)
			}
		}
		state.behavior.Become(state.DefaultReceive)
		state.stash.UnstashAll(ctx)
	case *actor.Restarting:
		state.close()
	default:
		state.logger.Debug("bms@starting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BMSActor) DefaultReceive(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case domain.ActorHealthRequest:
		state.logger.Debug("bms@default ActorHealthRequest")
		ctx.Respond(domain.ActorHealthResponse{
			Id:      domain.ACTOR_ID_BMS,
			Healthy: true,
			State:   "idle",
		})
	case domain.GetFrameRequest:
		state.logger.Debug("bms@default GetFrameRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		actorutil.MapBackgroundTask(actorutil.NewBackgroundTask(ctx, state.readFrame),
			mapTaskResult[domain.GetFrameResponse](sender)).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetFrameResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout()).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingBMS)
	case domain.GetBMSInfoRequest:
		state.logger.Debug("bms@default GetBMSInfoRequest")
		sender := actorutil.ForRequest(msg).ReplyTo(ctx)
		if state.lastFrame != nil {
			ctx.Send(sender, state.info(state.lastFrame))
			return
		}
		actorutil.NewBackgroundTask(ctx, func() (*backgroundTaskResult, error) {
			frame, err := state.readFrame()
			if err != nil {
				return nil, err
			}
			return &backgroundTaskResult{message: infoFrame{frame: frame.Frame}, replyTo: sender}, nil
		}).Recover(func(err error) backgroundTaskResult {
			return backgroundTaskResult{
				message: domain.GetBMSInfoResponse{ActorResponseMixIn: domain.ErrorResponse(err)},
				replyTo: sender,
			}
		}).WithTimeout(state.taskTimeout()).PipeTo(ctx.Self())
		state.behavior.BecomeStacked(state.WaitingBMS)
	case *actor.Restarting:
		state.close()
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("bms@default default recv", zap.String("type", fmt.Sprintf("%T", msg)))
	}
}

func (state *BMSActor) WaitingBMS(ctx actor.Context) {
	switch msg := ctx.Message().(type) {
	case backgroundTaskResult:
		state.logger.Debug("bms@waiting backgroundTaskResult", zap.String("type", fmt.Sprintf("%T", msg.message)))
		switch resp := msg.message.(type) {
		case domain.GetFrameResponse:
			if !resp.HasResponseError() {
				state.lastFrame = resp.Frame
			} else {
				state.logger.Warn("bms@waiting read failed", zap.Error(resp.GetResponseError()))
			}
			ctx.Send(msg.replyTo, resp)
		case infoFrame:
			state.lastFrame = resp.frame
			ctx.Send(msg.replyTo, state.info(resp.frame))
		case domain.GetBMSInfoResponse:
			state.logger.Warn("bms@waiting info read failed", zap.Error(resp.GetResponseError()))
			ctx.Send(msg.replyTo, resp)
		}
		state.behavior.UnbecomeStacked()
		state.stash.UnstashAll(ctx)
	case *actor.Stopping:
		state.close()
	default:
		state.logger.Debug("bms@waiting stash", zap.String("type", fmt.Sprintf("%T", msg)))
		state.stash.Stash(ctx, msg)
	}
}

func (state *BMSActor) readFrame() (*domain.GetFrameResponse, error) {
	c, cancel := context.WithTimeout(context.Background(), state.readTimeout)
	defer cancel()
	frame, err := state.source.ReadFrame(c)
	if err != nil {
		return nil, err
	}
	return &domain.GetFrameResponse{Frame: frame}, nil
}

func (state *BMSActor) info(frame *bms.Frame) domain.GetBMSInfoResponse {
	resp := domain.GetBMSInfoResponse{
		Variant:       frame.Variant,
		Model:         frame.Model,
		LayoutVersion: frame.LayoutVersion,
		Batteries:     len(frame.Batteries),
	}
	if len(frame.Batteries) > 0 {
		resp.Cells = len(frame.Batteries[0].Values.Elements(bms.FieldCellVoltages))
	}
	return resp
}

// a serial read may retry once within the read timeout
func (state *BMSActor) taskTimeout() time.Duration {
	return state.readTimeout + state.readTimeout/2
}

func (state *BMSActor) close() {
	if err := state.source.Close(); err != nil {
		state.logger.Warn("bms: close failed", zap.Error(err))
	}
}

func mapTaskResult[T any](sender *actor.PID) func(t *T) *backgroundTaskResult {
	return func(t *T) *backgroundTaskResult {
		return &backgroundTaskResult{
			message: *t,
			replyTo: sender,
		}
	}
}
