package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/berfenger/antra2mqtt/internal/adapter/metrics"
	"github.com/berfenger/antra2mqtt/internal/core/domain"
	"github.com/berfenger/antra2mqtt/internal/core/service"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

type stateView struct {
	domain.AccountingState
	TotalStoredEnergy      float64  `json:"total_stored_energy"`
	EstimatedChargeSeconds *float64 `json:"estimated_charge_seconds"`
}

type controlView struct {
	AuditId string    `json:"audit_id"`
	State   stateView `json:"state"`
}

type errorView struct {
	Error   string `json:"error"`
	AuditId string `json:"audit_id,omitempty"`
}

type metricsView struct {
	Timestamp time.Time        `json:"timestamp"`
	Metrics   []metrics.Metric `json:"metrics"`
}

type chargeStateBody struct {
	Status string `json:"status"`
}

type adjustCountersBody struct {
	DeltaCharged    float64 `json:"delta_charged"`
	DeltaDischarged float64 `json:"delta_discharged"`
}

type valueBody struct {
	Value *float64 `json:"value"`
}

func (s *Server) RegisterRoutes() http.Handler {
	e := echo.New()
	e.HideBanner = true
	if s.httpLog {
		e.Use(middleware.Logger())
	}
	e.Use(middleware.Recover())

	e.GET("/healthcheck", s.HealthCheckHandler)
	e.GET("/api/state", s.StateHandler)
	e.GET("/api/metrics", s.MetricsHandler)
	if s.exporter != nil {
		e.GET("/metrics", echo.WrapHandler(s.exporter.Handler()))
	}
	e.POST("/api/persist", s.PersistHandler)

	g := e.Group("/api/control")
	g.POST("/reset_counters", s.ResetCountersHandler)
	g.POST("/reset_energy_since_charge", s.ResetEnergySinceChargeHandler)
	g.POST("/charge_state", s.ChargeStateHandler)
	g.POST("/adjust_counters", s.AdjustCountersHandler)
	g.POST("/batteries/full", s.AllBatteriesFullHandler)
	g.POST("/batteries/:index/full", s.BatteryFullHandler)
	g.POST("/batteries/:index/stored_energy", s.BatteryStoredEnergyHandler)
	g.POST("/batteries/:index/capacity", s.BatteryCapacityHandler)

	return e
}

func (s *Server) HealthCheckHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.ActorHealthRequest{}, 10*time.Second).Result()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
	}
	if response, ok := res.(domain.ActorHealthResponse); ok && response.Healthy {
		return c.String(http.StatusOK, "health_check: OK")
	}
	return c.String(http.StatusServiceUnavailable, "health_check: FAIL")
}

func (s *Server) StateHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.GetAccountingStateRequest{}, s.controlTimeout).Result()
	if err != nil {
		return s.errorResponse(c, requestError(err), "")
	}
	resp, ok := res.(domain.GetAccountingStateResponse)
	if !ok {
		return s.errorResponse(c, errors.New("unexpected response"), "")
	}
	return c.JSON(http.StatusOK, stateView{
		AccountingState:        resp.State,
		TotalStoredEnergy:      resp.State.TotalStoredEnergy(),
		EstimatedChargeSeconds: resp.EstimatedChargeSeconds,
	})
}

func (s *Server) MetricsHandler(c echo.Context) error {
	view := metricsView{Timestamp: time.Now(), Metrics: []metrics.Metric{}}
	if s.exporter != nil {
		view.Metrics = s.exporter.Snapshot()
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) PersistHandler(c echo.Context) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, domain.PersistStateRequest{}, 10*time.Second).Result()
	if err != nil {
		return s.errorResponse(c, requestError(err), "")
	}
	if resp, ok := res.(domain.PersistStateResponse); ok && resp.HasResponseError() {
		return s.errorResponse(c, resp.GetResponseError(), "")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) ResetCountersHandler(c echo.Context) error {
	return s.control(c, domain.ResetCountersRequest{AccountingControlRequestMixIn: s.mixIn()})
}

func (s *Server) ResetEnergySinceChargeHandler(c echo.Context) error {
	return s.control(c, domain.ResetEnergySinceChargeRequest{AccountingControlRequestMixIn: s.mixIn()})
}

func (s *Server) ChargeStateHandler(c echo.Context) error {
	var body chargeStateBody
	if err := c.Bind(&body); err != nil {
		return s.errorResponse(c, validation("invalid body"), "")
	}
	status, err := domain.ParseChargeStatus(body.Status)
	if err != nil {
		return s.errorResponse(c, validation(err.Error()), "")
	}
	return s.control(c, domain.SetChargeStateRequest{AccountingControlRequestMixIn: s.mixIn(), Status: status})
}

func (s *Server) AdjustCountersHandler(c echo.Context) error {
	var body adjustCountersBody
	if err := c.Bind(&body); err != nil {
		return s.errorResponse(c, validation("invalid body"), "")
	}
	return s.control(c, domain.AdjustCountersRequest{
		AccountingControlRequestMixIn: s.mixIn(),
		DeltaCharged:                  body.DeltaCharged,
		DeltaDischarged:               body.DeltaDischarged,
	})
}

func (s *Server) AllBatteriesFullHandler(c echo.Context) error {
	return s.control(c, domain.SetBatteryToFullRequest{AccountingControlRequestMixIn: s.mixIn(), Index: service.AllBatteries})
}

func (s *Server) BatteryFullHandler(c echo.Context) error {
	index, err := batteryIndex(c)
	if err != nil {
		return s.errorResponse(c, err, "")
	}
	return s.control(c, domain.SetBatteryToFullRequest{AccountingControlRequestMixIn: s.mixIn(), Index: index})
}

func (s *Server) BatteryStoredEnergyHandler(c echo.Context) error {
	index, value, err := batteryValue(c)
	if err != nil {
		return s.errorResponse(c, err, "")
	}
	return s.control(c, domain.SetBatteryStoredEnergyRequest{AccountingControlRequestMixIn: s.mixIn(), Index: index, Value: value})
}

func (s *Server) BatteryCapacityHandler(c echo.Context) error {
	index, value, err := batteryValue(c)
	if err != nil {
		return s.errorResponse(c, err, "")
	}
	return s.control(c, domain.SetBatteryCapacityRequest{AccountingControlRequestMixIn: s.mixIn(), Index: index, Value: value})
}

// control waits for the ledger at most the control timeout. The deadline in
// the request keeps the ledger from applying it after that.
func (s *Server) control(c echo.Context, req domain.AccountingControlRequest) error {
	res, err := s.rootContext.RequestFuture(s.masterActor, req, s.controlTimeout).Result()
	if err != nil {
		return s.errorResponse(c, requestError(err), "")
	}
	resp, ok := res.(domain.AccountingControlResponse)
	if !ok {
		return s.errorResponse(c, errors.New("unexpected response"), "")
	}
	if resp.HasResponseError() {
		return s.errorResponse(c, resp.GetResponseError(), resp.AuditId)
	}
	estimate, defined := service.EstimateChargeSeconds(resp.State)
	view := controlView{
		AuditId: resp.AuditId,
		State: stateView{
			AccountingState:   resp.State,
			TotalStoredEnergy: resp.State.TotalStoredEnergy(),
		},
	}
	if defined {
		view.State.EstimatedChargeSeconds = &estimate
	}
	return c.JSON(http.StatusOK, view)
}

func (s *Server) mixIn() domain.AccountingControlRequestMixIn {
	return domain.AccountingControlRequestMixIn{Deadline: domain.NewDeadline(s.controlTimeout)}
}

func (s *Server) errorResponse(c echo.Context, err error, auditId string) error {
	code := StatusCode(err)
	if code >= http.StatusInternalServerError {
		s.logger.Warn("http: request failed", zap.String("path", c.Path()), zap.Error(err))
	}
	return c.JSON(code, errorView{Error: err.Error(), AuditId: auditId})
}

// StatusCode maps ledger errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRange):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBusy):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func requestError(err error) error {
	if errors.Is(err, actor.ErrTimeout) {
		return service.ErrBusy
	}
	return err
}

func validation(msg string) error {
	return fmt.Errorf("%w: %s", service.ErrValidation, msg)
}

// batteryIndex reads the 1-based battery number of the path.
func batteryIndex(c echo.Context) (int, error) {
	n, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		return 0, validation("battery index must be a number")
	}
	if n < 1 {
		return 0, fmt.Errorf("%w: battery %d", service.ErrRange, n)
	}
	return n - 1, nil
}

func batteryValue(c echo.Context) (int, float64, error) {
	index, err := batteryIndex(c)
	if err != nil {
		return 0, 0, err
	}
	var body valueBody
	if err := c.Bind(&body); err != nil {
		return 0, 0, validation("invalid body")
	}
	if body.Value == nil {
		return 0, 0, validation("value is required")
	}
	return index, *body.Value, nil
}
