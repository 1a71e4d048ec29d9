// Package metrics exports session activity to Prometheus.
package metrics

import (
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/muurk/loxone/internal/graph"
	"github.com/muurk/loxone/internal/offline"
)

const namespace = "loxone"

// Listener is a session listener that records metrics in its own registry.
type Listener struct {
	registry *prometheus.Registry

	online         prometheus.Gauge
	offline        *prometheus.CounterVec
	configurations prometheus.Counter
	controls       prometheus.Gauge
	updates        prometheus.Counter
	values         *prometheus.GaugeVec
}

// New creates a listener for the Miniserver labelled miniserver.
func New(miniserver string) *Listener {
	labels := prometheus.Labels{"miniserver": miniserver}
	l := &Listener{
		registry: prometheus.NewRegistry(),
		online: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "online",
			Help:        "1 while the Miniserver connection is running.",
			ConstLabels: labels,
		}),
		offline: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "offline_total",
			Help:        "Connections that ended, by reason.",
			ConstLabels: labels,
		}, []string{"reason"}),
		configurations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "configurations_total",
			Help:        "Structure files merged.",
			ConstLabels: labels,
		}),
		controls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "controls",
			Help:        "Controls in the current structure.",
			ConstLabels: labels,
		}),
		updates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "state_updates_total",
			Help:        "State updates routed to controls.",
			ConstLabels: labels,
		}),
		values: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "state_value",
			Help:        "Last numeric value of each control state.",
			ConstLabels: labels,
		}, []string{"control", "name", "state"}),
	}
	l.registry.MustRegister(l.online, l.offline, l.configurations, l.controls, l.updates, l.values)
	return l
}

// Registry returns the registry holding the listener's metrics.
func (l *Listener) Registry() *prometheus.Registry { return l.registry }

// Handler serves the registry in the Prometheus exposition format.
func (l *Listener) Handler() http.Handler {
	return promhttp.HandlerFor(l.registry, promhttp.HandlerOpts{Registry: l.registry})
}

func (l *Listener) OnConfiguration(g *graph.Graph) {
	l.configurations.Inc()
	ctls := g.Controls()
	l.controls.Set(float64(len(ctls)))

	// Drop series of controls that are gone.
	l.values.Reset()
	for _, ctl := range ctls {
		for _, st := range ctl.States() {
			l.record(ctl, st)
		}
	}
}

func (l *Listener) OnServerOnline() { l.online.Set(1) }

func (l *Listener) OnServerOffline(reason offline.Reason, detail string) {
	l.online.Set(0)
	l.offline.WithLabelValues(reasonLabel(reason)).Inc()
}

func (l *Listener) OnStateUpdate(ctl *graph.Control, state string) {
	l.updates.Inc()
	if st := ctl.State(state); st != nil {
		l.record(ctl, st)
	}
}

func (l *Listener) record(ctl *graph.Control, st *graph.State) {
	if v, ok := st.Number(); ok {
		l.values.WithLabelValues(ctl.ID().String(), ctl.Name(), strings.ToLower(st.Name())).Set(v)
	}
}

// reasonLabel turns "Too Many Failed Login Attempts" into
// "too_many_failed_login_attempts".
func reasonLabel(r offline.Reason) string {
	return strings.ReplaceAll(strings.ToLower(r.String()), " ", "_")
}
