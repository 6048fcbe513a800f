// Package metrics exposes the small Prometheus gauge/counter surface
// cmd/kvazzupd serves over /metrics: active dialogs and transactions,
// and transport send/receive counters.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the metrics the demo binary keeps updated, matching
// the teacher's own dependency on prometheus/client_golang (see
// cmd/proxysip in the teacher's tree, which serves promhttp.Handler()
// off the default registry the same way cmd/kvazzupd does).
type Registry struct {
	ActiveDialogs      prometheus.Gauge
	ActiveTransactions prometheus.Gauge
	PacketsSent        prometheus.Counter
	PacketsReceived    prometheus.Counter
}

// NewRegistry constructs and registers every metric against reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	m := &Registry{
		ActiveDialogs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvazzup",
			Name:      "active_dialogs",
			Help:      "Number of dialogs currently tracked by the coordinator.",
		}),
		ActiveTransactions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvazzup",
			Name:      "active_transactions",
			Help:      "Number of live client+server transactions.",
		}),
		PacketsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvazzup",
			Name:      "transport_packets_sent_total",
			Help:      "SIP datagrams/segments written to the wire.",
		}),
		PacketsReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvazzup",
			Name:      "transport_packets_received_total",
			Help:      "SIP datagrams/segments read off the wire.",
		}),
	}
	reg.MustRegister(m.ActiveDialogs, m.ActiveTransactions, m.PacketsSent, m.PacketsReceived)
	return m
}

// OnSent and OnReceived implement transport.MetricsHook without this
// package importing transport: the hook is a two-method interface the
// transport package declares and accepts, and *Registry happens to
// satisfy it structurally.
func (m *Registry) OnSent()     { m.PacketsSent.Inc() }
func (m *Registry) OnReceived() { m.PacketsReceived.Inc() }
