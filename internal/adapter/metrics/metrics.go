package metrics

import (
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/berfenger/antra2mqtt/internal/core/domain"

	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metric is the last published value of a sensor. Value is nil while the
// sensor is undefined; Text is set for text and select sensors.
type Metric struct {
	Id        string    `json:"id"`
	Value     *float64  `json:"value"`
	Text      string    `json:"text,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Exporter follows the sensor events of the event stream and exposes the
// last value of each sensor to Prometheus and as JSON.
type Exporter struct {
	registry *prometheus.Registry
	values   *prometheus.GaugeVec
	defined  *prometheus.GaugeVec
	states   *prometheus.GaugeVec
	updated  *prometheus.GaugeVec

	mu     sync.RWMutex
	latest map[string]Metric
	sub    *eventstream.Subscription
}

func NewExporter() *Exporter {
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "antra",
			Name:      "sensor_value",
			Help:      "Last value of a numeric sensor, -1 while undefined.",
		}, []string{"sensor"}),
		defined: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "antra",
			Name:      "sensor_defined",
			Help:      "1 when the numeric sensor has a defined value.",
		}, []string{"sensor"}),
		states: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "antra",
			Name:      "sensor_state",
			Help:      "Text sensors, 1 for the current value.",
		}, []string{"sensor", "value"}),
		updated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "antra",
			Name:      "sensor_timestamp_seconds",
			Help:      "Timestamp of the last sensor update.",
		}, []string{"sensor"}),
		latest: map[string]Metric{},
	}
	e.registry.MustRegister(e.values, e.defined, e.states, e.updated,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return e
}

func (e *Exporter) Subscribe(es *eventstream.EventStream) {
	e.sub = es.Subscribe(e.Handle)
}

func (e *Exporter) Unsubscribe(es *eventstream.EventStream) {
	if e.sub != nil {
		es.Unsubscribe(e.sub)
		e.sub = nil
	}
}

// Handle records one event. Events that are not sensor updates are ignored.
func (e *Exporter) Handle(event any) {
	switch ev := event.(type) {
	case domain.FloatSensorUpdateEvent:
		e.setFloat(ev.Id, ev.Timestamp, ev.Value, !ev.Undefined)
	case domain.InputNumberSensorUpdateEvent:
		e.setFloat(ev.Id, ev.Timestamp, ev.Value, true)
	case domain.TextSensorUpdateEvent:
		e.setText(ev.Id, ev.Timestamp, ev.Value)
	case domain.SelectUpdateEvent:
		e.setText(ev.Id, ev.Timestamp, ev.Value)
	case domain.BinarySensorUpdateEvent:
		e.setFloat(ev.Id, ev.Timestamp, boolValue(ev.Value), true)
	case domain.BridgeStateUpdateEvent:
		e.setFloat(ev.Id, ev.Timestamp, boolValue(ev.Value), true)
	}
}

func (e *Exporter) setFloat(id string, ts time.Time, value float64, defined bool) {
	m := Metric{Id: id, Timestamp: ts}
	if defined {
		v := value
		m.Value = &v
		e.values.WithLabelValues(id).Set(value)
		e.defined.WithLabelValues(id).Set(1)
	} else {
		e.values.WithLabelValues(id).Set(-1)
		e.defined.WithLabelValues(id).Set(0)
	}
	e.touch(id, ts)
	e.mu.Lock()
	e.latest[id] = m
	e.mu.Unlock()
}

func (e *Exporter) setText(id string, ts time.Time, text string) {
	e.states.DeletePartialMatch(prometheus.Labels{"sensor": id})
	e.states.WithLabelValues(id, text).Set(1)
	e.touch(id, ts)
	e.mu.Lock()
	e.latest[id] = Metric{Id: id, Text: text, Timestamp: ts}
	e.mu.Unlock()
}

func (e *Exporter) touch(id string, ts time.Time) {
	if !ts.IsZero() {
		e.updated.WithLabelValues(id).Set(float64(ts.UnixMilli()) / 1000)
	}
}

// Snapshot returns the last value of every sensor, sorted by id.
func (e *Exporter) Snapshot() []Metric {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Metric, 0, len(e.latest))
	for _, m := range e.latest {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b Metric) int { return strings.Compare(a.Id, b.Id) })
	return out
}

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{Registry: e.registry})
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
