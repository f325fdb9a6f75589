// Package metrics exports likelihood engine counters to prometheus.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bitbucket.org/Davydov/plh/core"
)

const namespace = "plh"

// Engine holds the engine metrics.
type Engine struct {
	Updates        prometheus.CounterFunc
	Operations     prometheus.CounterFunc
	Matrices       prometheus.CounterFunc
	ScaledPatterns prometheus.CounterFunc
	Accepts        prometheus.CounterFunc
	Rejects        prometheus.CounterFunc
	Rescales       prometheus.CounterFunc
	ScalingActive  prometheus.GaugeFunc
	LogLikelihood  prometheus.GaugeFunc
}

// NewEngine registers engine metrics. stats is called on every scrape
// and must be safe for concurrent use; lnL may be nil.
func NewEngine(reg prometheus.Registerer, stats func() core.Stats, lnL func() float64) *Engine {
	f := promauto.With(reg)
	counter := func(name, help string, v func(core.Stats) uint64) prometheus.CounterFunc {
		return f.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(v(stats())) })
	}
	e := &Engine{
		Updates: counter("updates_total", "Partials update calls.",
			func(s core.Stats) uint64 { return s.Updates }),
		Operations: counter("operations_total", "Executed partials operations.",
			func(s core.Stats) uint64 { return s.Operations }),
		Matrices: counter("matrices_total", "Recomputed branch transition matrices.",
			func(s core.Stats) uint64 { return s.Matrices }),
		ScaledPatterns: counter("scaled_patterns_total", "Rescaled node patterns.",
			func(s core.Stats) uint64 { return s.ScaledPatterns }),
		Accepts: counter("accepts_total", "Accepted states.",
			func(s core.Stats) uint64 { return s.Accepts }),
		Rejects: counter("rejects_total", "Rejected states.",
			func(s core.Stats) uint64 { return s.Rejects }),
		Rescales: counter("rescales_total", "Rescaling switched back on after an underflow.",
			func(s core.Stats) uint64 { return s.Rescales }),
		ScalingActive: f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "core",
			Name:      "scaling_active",
			Help:      "Whether partials are rescaled.",
		}, func() float64 {
			if stats().ScalingActive {
				return 1
			}
			return 0
		}),
	}
	if lnL != nil {
		e.LogLikelihood = f.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "log_likelihood",
			Help:      "Current log-likelihood of the optimizer.",
		}, lnL)
	}
	return e
}

// Handler serves the metrics of a registry.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
