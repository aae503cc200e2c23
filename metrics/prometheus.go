// Package metrics records IronAuth request outcomes in Prometheus.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lborres/ironauth/core"
)

// Config configures the Prometheus observer.
type Config struct {
	// Namespace is the metrics namespace (default: "ironauth").
	Namespace string

	// Buckets are the histogram buckets for request duration.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

type Option func(*Config)

func WithNamespace(namespace string) Option {
	return func(c *Config) { c.Namespace = namespace }
}

func WithBuckets(buckets []float64) Option {
	return func(c *Config) { c.Buckets = buckets }
}

func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) { c.Registry = registry }
}

// Prometheus implements core.Observer.
type Prometheus struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errorsTotal     *prometheus.CounterVec
}

var _ core.Observer = (*Prometheus)(nil)

// New registers the metrics:
//   - ironauth_requests_total{method, route, status}
//   - ironauth_request_duration_seconds{route}
//   - ironauth_errors_total{route, code}
func New(opts ...Option) *Prometheus {
	config := Config{
		Namespace: "ironauth",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&config)
	}

	factory := promauto.With(config.Registry)

	return &Prometheus{
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "requests_total",
			Help:      "Total number of auth requests handled",
		}, []string{"method", "route", "status"}),

		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: config.Namespace,
			Name:      "request_duration_seconds",
			Help:      "Auth request duration in seconds",
			Buckets:   config.Buckets,
		}, []string{"route"}),

		errorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "errors_total",
			Help:      "Total number of auth requests that failed, by error code",
		}, []string{"route", "code"}),
	}
}

func (p *Prometheus) ObserveRequest(method, route string, code core.Code, elapsed time.Duration) {
	p.requestsTotal.WithLabelValues(method, route, strconv.Itoa(code.Status())).Inc()
	p.requestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	if code != core.CodeOK {
		p.errorsTotal.WithLabelValues(route, string(code)).Inc()
	}
}
