// Package metrics exposes Prometheus collectors for the poster.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multiposter/internal/dispatch"
	"multiposter/internal/eventbus"
)

const namespace = "multiposter"

// Collector owns a private registry so tests and multiple instances don't
// collide on the global one.
type Collector struct {
	reg *prometheus.Registry

	publishes       *prometheus.CounterVec
	publishDuration *prometheus.HistogramVec
	validations     *prometheus.CounterVec
	runState        *prometheus.GaugeVec
	credentials     prometheus.Gauge
	runs            *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

func New(version string) *Collector {
	c := &Collector{reg: prometheus.NewRegistry()}

	c.publishes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "publishes_total",
		Help:      "Publish attempts by item kind and result.",
	}, []string{"kind", "result"})

	c.publishDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "publish_duration_seconds",
		Help:      "Time spent in a single publish call.",
		Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 180},
	}, []string{"kind"})

	c.validations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "credential_validations_total",
		Help:      "Identity checks by result.",
	}, []string{"result"})

	c.runState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "run_state",
		Help:      "1 for the dispatcher's current state, 0 otherwise.",
	}, []string{"state"})

	c.credentials = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "credentials_valid",
		Help:      "Valid credentials in the active pool.",
	})

	c.runs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "runs_started_total",
		Help:      "Runs that reached Running, by kind.",
	}, []string{"kind"})

	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "http_requests_total",
		Help:      "HTTP API requests.",
	}, []string{"method", "route", "status"})

	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP API request duration.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	info := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "build_info",
		Help:      "Build information.",
	}, []string{"version"})
	info.WithLabelValues(version).Set(1)

	c.reg.MustRegister(
		c.publishes, c.publishDuration, c.validations, c.runState,
		c.credentials, c.runs, c.httpRequests, c.httpDuration, info,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	c.setState(dispatch.Idle)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.reg }

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{Registry: c.reg})
}

// ObservePublish implements dispatch.Observer.
func (c *Collector) ObservePublish(_ context.Context, o dispatch.Outcome) {
	result := "ok"
	if !o.OK {
		result = o.FailureKind
		if result == "" {
			result = "error"
		}
	}
	c.publishes.WithLabelValues(string(o.Kind), result).Inc()
	c.publishDuration.WithLabelValues(string(o.Kind)).Observe(o.Took.Seconds())
}

// ObserveValidation implements credential.ValidationObserver.
func (c *Collector) ObserveValidation(valid bool) {
	if valid {
		c.validations.WithLabelValues("valid").Inc()
		return
	}
	c.validations.WithLabelValues("invalid").Inc()
}

func (c *Collector) SetCredentials(n int) { c.credentials.Set(float64(n)) }

func (c *Collector) setState(s dispatch.State) {
	for _, st := range []dispatch.State{dispatch.Idle, dispatch.Starting, dispatch.Running, dispatch.Stopping} {
		v := 0.0
		if st == s {
			v = 1
		}
		c.runState.WithLabelValues(st.String()).Set(v)
	}
}

// Follow tracks dispatcher state changes from the bus until ctx ends.
// poolSize is consulted when a run reaches Running.
func (c *Collector) Follow(ctx context.Context, bus eventbus.Bus, poolSize func() int) {
	ch, unsub := bus.Subscribe(32, dispatch.EventStateChanged)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			sc, ok := e.Data.(dispatch.StateChange)
			if !ok {
				continue
			}
			c.setState(sc.To)
			switch sc.To {
			case dispatch.Running:
				c.runs.WithLabelValues(string(sc.Kind)).Inc()
				if poolSize != nil {
					c.SetCredentials(poolSize())
				}
			case dispatch.Idle:
				c.SetCredentials(0)
			}
		}
	}
}

// Middleware records request counts and latency. route labels the handler
// so path parameters don't explode cardinality.
func (c *Collector) Middleware(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		c.httpRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		c.httpDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }
