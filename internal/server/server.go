package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/berfenger/antra2mqtt/internal/adapter/metrics"
	"github.com/berfenger/antra2mqtt/internal/config"

	"github.com/asynkron/protoactor-go/actor"
	"go.uber.org/zap"
)

type Server struct {
	port           uint
	httpLog        bool
	controlTimeout time.Duration
	rootContext    *actor.RootContext
	masterActor    *actor.PID
	exporter       *metrics.Exporter
	logger         *zap.Logger
}

func New(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, exporter *metrics.Exporter, logger *zap.Logger) *Server {
	timeout := cfg.Accounting.ControlTimeout()
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Server{
		port:           cfg.Port,
		httpLog:        cfg.HttpLog,
		controlTimeout: timeout,
		rootContext:    rootContext,
		masterActor:    masterActor,
		exporter:       exporter,
		logger:         logger.With(zap.String("component", "http")),
	}
}

func NewServer(cfg config.Config, rootContext *actor.RootContext, masterActor *actor.PID, exporter *metrics.Exporter, logger *zap.Logger) *http.Server {
	newServer := New(cfg, rootContext, masterActor, exporter, logger)

	// Declare Server config
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", newServer.port),
		Handler:      newServer.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return server
}
