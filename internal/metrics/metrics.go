package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stake-raffle/internal/models"
	"stake-raffle/internal/services/raffle"
)

const namespace = "stake_raffle"

// LedgerState is the part of the ledger sampled on every scrape.
type LedgerState interface {
	Height() uint64
	FeeBalance() uint64
	OpenRaffles() []models.RaffleSummary
	PendingResolution() []uint64
}

// Metrics owns a private registry so several instances can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry
	events   *prometheus.CounterVec
	errors   *prometheus.CounterVec
	requests *prometheus.HistogramVec
}

func New(state LedgerState) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_events_total",
			Help:      "Ledger events applied, by type.",
		}, []string{"type"}),
		errors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operation_errors_total",
			Help:      "Rejected operations, by operation and error kind.",
		}, []string{"op", "kind"}),
		requests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "status"}),
	}
	m.registry.MustRegister(m.events, m.errors, m.requests)

	if state != nil {
		m.registry.MustRegister(
			gauge("ledger_height", "Number of applied ledger mutations.", func() float64 {
				return float64(state.Height())
			}),
			gauge("oracle_fee_balance", "Fee tokens available for oracle requests.", func() float64 {
				return float64(state.FeeBalance())
			}),
			gauge("raffles_open", "Raffles still accepting stakes.", func() float64 {
				return float64(len(state.OpenRaffles()))
			}),
			gauge("raffles_pending_resolution", "Expired raffles with no random number or request.", func() float64 {
				return float64(len(state.PendingResolution()))
			}),
		)
	}
	return m
}

func gauge(name, help string, f func() float64) prometheus.GaugeFunc {
	return prometheus.NewGaugeFunc(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help}, f)
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveError counts a failed operation under its error kind.
func (m *Metrics) ObserveError(op string, err error) {
	if err == nil {
		return
	}
	m.errors.WithLabelValues(op, raffle.KindOf(err).String()).Inc()
}

// Run counts events until the channel closes or ctx ends.
func (m *Metrics) Run(ctx context.Context, events <-chan raffle.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.events.WithLabelValues(string(ev.Type)).Inc()
		case <-ctx.Done():
			return
		}
	}
}

// Middleware records request latency by route template.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.requests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Observe(time.Since(start).Seconds())
	}
}
