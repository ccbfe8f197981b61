package metrics

import (
	"net/http"

	echo "github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/romashorodok/meeting-signaling/pkg/protocol"
)

const namespace = "signaling"

// Metrics owns a private prometheus registry so tests can build as many as they need.
type Metrics struct {
	registry *prometheus.Registry

	Relayed          *prometheus.CounterVec
	RateLimited      *prometheus.CounterVec
	RoutingMisses    *prometheus.CounterVec
	JoinRejections   *prometheus.CounterVec
	BackplaneFailure *prometheus.CounterVec
	Received         *prometheus.CounterVec
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// GaugeFunc registers a gauge sampled on every scrape.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) error {
	return m.registry.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Relayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relayed_messages_total",
			Help:      "Messages delivered to local connections, by event.",
		}, []string{"event"}),
		Received: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backplane_received_total",
			Help:      "Envelopes received from sibling instances, by kind.",
		}, []string{"kind"}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limited_total",
			Help:      "Events rejected by the rate limiter, by class.",
		}, []string{"class"}),
		RoutingMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_misses_total",
			Help:      "Addressed messages whose target could not be found, by event.",
		}, []string{"event"}),
		JoinRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_rejections_total",
			Help:      "Rejected join attempts, by reason.",
		}, []string{"reason"}),
		BackplaneFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backplane_publish_failures_total",
			Help:      "Backplane publish errors, by kind.",
		}, []string{"kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Relayed,
		m.Received,
		m.RateLimited,
		m.RoutingMisses,
		m.JoinRejections,
		m.BackplaneFailure,
	)
	return m
}

type metricsController struct {
	handler http.Handler
}

func (ctrl *metricsController) Resolve(e *echo.Echo) error {
	e.GET("/metrics", echo.WrapHandler(ctrl.handler))
	return nil
}

var _ protocol.HttpResolvable = (*metricsController)(nil)

func NewMetricsController(m *Metrics) *metricsController {
	return &metricsController{
		handler: promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}),
	}
}
