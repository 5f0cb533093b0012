package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// 事件被丢弃的原因（metrics 标签）
const (
	dropDecode          = "decode"
	dropNotJoined       = "not_joined"
	dropEmptyChat       = "empty_chat"
	dropUnknownEvent    = "unknown_event"
	dropInvalidEnvelope = "invalid_envelope"
	dropRateLimited     = "rate_limited"
)

// Metrics 大厅运行期指标，使用独立的 Registry 避免全局状态
type Metrics struct {
	registry *prometheus.Registry

	eventsTotal     *prometheus.CounterVec
	eventsDropped   *prometheus.CounterVec
	eventDuration   *prometheus.HistogramVec
	handlerPanics   prometheus.Counter
	outboundDropped prometheus.Counter
	connections     prometheus.Gauge
	players         prometheus.Gauge
}

// NewMetrics 创建并注册全部指标
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)
	const ns = "lobbyrelay"

	return &Metrics{
		registry: reg,
		eventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_total",
			Help:      "Inbound events processed by the lobby loop.",
		}, []string{"event"}),
		eventsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "events_dropped_total",
			Help:      "Inbound events dropped without producing output.",
		}, []string{"reason"}),
		eventDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: ns,
			Name:      "event_duration_seconds",
			Help:      "Time spent handling one event in the lobby loop.",
			Buckets:   []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
		}, []string{"event"}),
		handlerPanics: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "handler_panics_total",
			Help:      "Panics recovered at the event handler boundary.",
		}),
		outboundDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: ns,
			Name:      "outbound_dropped_total",
			Help:      "Outbound messages discarded because a peer send queue was full.",
		}),
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "connections",
			Help:      "Open transport connections.",
		}),
		players: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: ns,
			Name:      "players",
			Help:      "Connections that have joined the lobby.",
		}),
	}
}

func (m *Metrics) IncEvent(name EventName)  { m.eventsTotal.WithLabelValues(string(name)).Inc() }
func (m *Metrics) IncDropped(reason string) { m.eventsDropped.WithLabelValues(reason).Inc() }
func (m *Metrics) IncPanic()                { m.handlerPanics.Inc() }
func (m *Metrics) IncOutboundDropped()      { m.outboundDropped.Inc() }

func (m *Metrics) ObserveEvent(name EventName, d time.Duration) {
	m.eventDuration.WithLabelValues(string(name)).Observe(d.Seconds())
}

// SetOnline 同步连接数与玩家数
func (m *Metrics) SetOnline(connections, players int) {
	m.connections.Set(float64(connections))
	m.players.Set(float64(players))
}

// Registry 供测试与自定义导出使用
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler Prometheus 文本格式导出
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
