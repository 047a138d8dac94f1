package actorutil

import (
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/service"
	"github.com/berfenger/antra2mqtt/internal/mqtt"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/lmittmann/tint"
	"go.uber.org/zap"
)

func PipeToSelfWithRecover(ctx actor.Context, future *actor.Future, mapFn func(error) any) {
	ctx.ReenterAfter(future, func(msg any, err error) {
		if err != nil {
			ctx.Send(ctx.Self(), mapFn(err))
			return
		}
		ctx.Send(ctx.Self(), msg)
	})
}

func NewActorSystemWithZapLogger(logger *zap.Logger) *actor.ActorSystem {
	stdOutLogger := zap.NewStdLog(logger)

	var slogLevel slog.Level = slog.LevelInfo

	switch logger.Level() {
	case zap.DebugLevel:
		slogLevel = slog.LevelDebug
	case zap.InfoLevel:
		slogLevel = slog.LevelInfo
	case zap.WarnLevel:
		slogLevel = slog.LevelWarn
	case zap.ErrorLevel:
		slogLevel = slog.LevelError
	case zap.PanicLevel:
		slogLevel = slog.LevelError
	}

	return actor.NewActorSystem(actor.WithLoggerFactory(func(system *actor.ActorSystem) *slog.Logger {
		return slog.New(tint.NewHandler(stdOutLogger.Writer(), &tint.Options{
			Level:      slogLevel,
			TimeFormat: time.DateTime,
		}))
	}))
}

func ActorLogger(actorName string, logger *zap.Logger) *zap.Logger {
	return logger.With(zap.String("actor", actorName))
}

// ParsedMQTTCommandToCommand maps a command topic message to a ledger
// control request. Unknown entities return nil, nil.
func ParsedMQTTCommandToCommand(cmd mqtt.ParsedMQTTCommand) (domain.AccountingControlRequest, error) {
	switch cmd.Command {
	case mqtt.COMMAND_BUTTON:
		switch cmd.DeviceId {
		case domain.BUTTON_ID_RESET_COUNTERS:
			return domain.ResetCountersRequest{}, nil
		case domain.BUTTON_ID_RESET_ENERGY_SINCE_CHARGE:
			return domain.ResetEnergySinceChargeRequest{}, nil
		case domain.BUTTON_ID_SET_ALL_BATTERIES_FULL:
			return domain.SetBatteryToFullRequest{Index: service.AllBatteries}, nil
		}
	case mqtt.COMMAND_SELECT:
		if cmd.DeviceId == domain.SELECT_ID_CHARGE_STATE {
			status, err := domain.ParseChargeStatus(cmd.Payload)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", service.ErrValidation, err)
			}
			return domain.SetChargeStateRequest{Status: status}, nil
		}
	case mqtt.COMMAND_NUMBER:
		n, kind, ok := domain.ParseBatteryNumberId(cmd.DeviceId)
		if !ok {
			return nil, nil
		}
		value, err := strconv.ParseFloat(cmd.Payload, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s is not a number", service.ErrValidation, cmd.Payload)
		}
		switch kind {
		case "capacity":
			return domain.SetBatteryCapacityRequest{Index: n - 1, Value: value}, nil
		case "set_stored_energy":
			return domain.SetBatteryStoredEnergyRequest{Index: n - 1, Value: value}, nil
		}
	}
	return nil, nil
}
