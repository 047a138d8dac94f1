package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	adactor "github.com/berfenger/antra2mqtt/internal/adapter/actor"
	"github.com/berfenger/antra2mqtt/internal/adapter/metrics"
	"github.com/berfenger/antra2mqtt/internal/adapter/mq"
	"github.com/berfenger/antra2mqtt/internal/adapter/schedule"
	"github.com/berfenger/antra2mqtt/internal/adapter/source"
	"github.com/berfenger/antra2mqtt/internal/adapter/store"
	"github.com/berfenger/antra2mqtt/internal/config"
	"github.com/berfenger/antra2mqtt/internal/core/actor"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/port"
	"github.com/berfenger/antra2mqtt/internal/server"
	"github.com/berfenger/antra2mqtt/internal/util"
	"github.com/berfenger/antra2mqtt/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		os.Exit(1)
	}
	safePrintConfig(*cfg)

	logger, _ := util.NewLogger(cfg.Log, cfg.LogLevel)
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("antra2mqtt stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {

	frameSource, err := source.NewFrameSource(cfg.BMS, logger)
	if err != nil {
		return fmt.Errorf("bms source: %w", err)
	}
	defer frameSource.Close()
	logger.Info("bms source ready", zap.String("variant", frameSource.Variant().Name()),
		zap.String("transport", cfg.BMS.Transport))

	stateStore, err := store.NewStateStore(cfg.Store, logger)
	if err != nil {
		return fmt.Errorf("state store: %w", err)
	}
	defer stateStore.Close()

	sinkProvider, sinkCloser, err := sinkActorProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("metric sink: %w", err)
	}
	defer sinkCloser()

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	defer as.Shutdown()
	ctx := as.Root

	eventStream := &eventstream.EventStream{}
	exporter := metrics.NewExporter()
	exporter.Subscribe(eventStream)
	defer exporter.Unsubscribe(eventStream)

	readTimeout := time.Duration(cfg.BMS.ReadTimeoutMillis) * time.Millisecond
	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterOfPuppetsActor(*cfg, eventStream, stateStore,
			bmsActorProvider(frameSource, readTimeout, logger),
			mqttActorProvider(cfg, logger),
			sinkProvider, logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return err
	}

	persistScheduler, err := schedule.NewPersistScheduler(cfg.Store.PersistCron, func(context.Context) error {
		res, err := ctx.RequestFuture(pid, domain.PersistStateRequest{}, 10*time.Second).Result()
		if err != nil {
			return err
		}
		if resp, ok := res.(domain.PersistStateResponse); ok && resp.HasResponseError() {
			return resp.GetResponseError()
		}
		return nil
	}, logger)
	if err != nil {
		return err
	}

	// Create context that listens for the interrupt signal from the OS.
	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	apiServer := server.NewServer(*cfg, ctx, pid, exporter, logger)
	g, gCtx := errgroup.WithContext(sigCtx)

	persistScheduler.Start(gCtx)

	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", apiServer.Addr))
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down gracefully, press Ctrl+C again to force")
		stop()

		// The context is used to inform the server it has 5 seconds to finish
		// the request it is currently handling
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http server forced to shutdown", zap.Error(err))
		}
		persistScheduler.Stop(shutdownCtx)
		return nil
	})

	err = g.Wait()

	// stopping the master stops the ledger, which persists on stop
	if perr := ctx.PoisonFuture(pid).Wait(); perr != nil {
		logger.Warn("master did not stop cleanly", zap.Error(perr))
	}
	logger.Info("graceful shutdown complete")
	return err
}

func initConfig() (*config.Config, error) {

	// alias PORT => ANTRA_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("ANTRA_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("antra")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := actor.EngineConfig(cfg.Accounting).Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func bmsActorProvider(frameSource port.FrameSource, readTimeout time.Duration, logger *zap.Logger) actor.BMSActorProvider {
	return func() *adactor.BMSActor {
		return adactor.NewBMSActor(frameSource, readTimeout, logger)
	}
}

func mqttActorProvider(cfg *config.Config, logger *zap.Logger) actor.MQTTActorProvider {
	return func(es *eventstream.EventStream) *adactor.MQTTActor {
		return adactor.NewMQTTActor(cfg, es, logger)
	}
}

// sinkActorProvider returns a nil provider when no sink is configured.
func sinkActorProvider(cfg *config.Config, logger *zap.Logger) (actor.SinkActorProvider, func(), error) {
	if cfg.Sink.Type == "" || cfg.Sink.Type == config.SINK_NONE {
		return nil, func() {}, nil
	}
	sink, err := mq.NewProducer(cfg.Sink, logger)
	if err != nil {
		return nil, nil, err
	}
	closer := func() {
		if err := sink.Close(); err != nil {
			logger.Warn("metric sink close failed", zap.Error(err))
		}
	}
	return func(es *eventstream.EventStream) *adactor.SinkActor {
		return adactor.NewSinkActor(sink, cfg.Sink.FlushInterval(), es, logger)
	}, closer, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("log.file", "")
	viper.SetDefault("log.max_size_mb", 50)
	viper.SetDefault("log.max_backups", 3)
	viper.SetDefault("log.max_age_days", 28)
	viper.SetDefault("log.compress", true)
	viper.SetDefault("bms.variant", "antra")
	viper.SetDefault("bms.transport", config.TRANSPORT_SERIAL)
	viper.SetDefault("bms.serial_port", "/dev/ttyUSB0")
	viper.SetDefault("bms.baud_rate", 9600)
	viper.SetDefault("bms.group", 0)
	viper.SetDefault("bms.read_timeout_millis", 2000)
	viper.SetDefault("bms.command_delay_millis", 900)
	viper.SetDefault("bms.layout_file", "")
	viper.SetDefault("bms.modbus.url", "tcp://localhost:502")
	viper.SetDefault("bms.modbus.unit_id", 1)
	viper.SetDefault("bms.modbus.address", 0)
	viper.SetDefault("accounting.battery_count", 1)
	viper.SetDefault("accounting.battery_capacity_wh", 2400)
	viper.SetDefault("accounting.charging_rate_watts", 1500)
	viper.SetDefault("accounting.startup_delay_seconds", 10)
	viper.SetDefault("accounting.scale_factor", 1)
	viper.SetDefault("accounting.poll_interval_seconds", 30)
	viper.SetDefault("accounting.max_gap_intervals", 5)
	viper.SetDefault("accounting.deadband_watts", 50)
	viper.SetDefault("accounting.full_tolerance", 0.02)
	viper.SetDefault("accounting.counter_max", 65535)
	viper.SetDefault("accounting.max_power_watts", 10000)
	viper.SetDefault("accounting.use_raw_counters", false)
	viper.SetDefault("accounting.control_timeout_millis", 2000)
	viper.SetDefault("store.type", config.STORE_FILE)
	viper.SetDefault("store.path", "antra_state.json")
	viper.SetDefault("store.redis.addr", "localhost:6379")
	viper.SetDefault("store.redis.password", "")
	viper.SetDefault("store.redis.db", 0)
	viper.SetDefault("store.redis.key", "antra:accounting")
	viper.SetDefault("store.persist_cron", "0 * * * * *")
	viper.SetDefault("sink.type", config.SINK_NONE)
	viper.SetDefault("sink.topic", "antra-metrics")
	viper.SetDefault("sink.exchange", "antra")
	viper.SetDefault("sink.flush_interval_seconds", 10)
	viper.SetDefault("mqtt.host", "localhost")
	viper.SetDefault("mqtt.port", 1883)
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "antra")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("port", 8080)
	viper.SetDefault("http_log", false)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	cfg.Store.Redis.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
