// Package metrics exposes a Prometheus endpoint alongside the
// websocket listener, giving the usage-DB "current" snapshot
// (store.CurrentStats) a live, scrapeable sibling.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsWebsocket = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wormhole",
		Subsystem: "mailbox",
		Name:      "connections_websocket",
		Help:      "Number of connections currently holding an open mailbox listener.",
	})

	Mailboxes = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wormhole",
		Subsystem: "mailbox",
		Name:      "mailboxes_live",
		Help:      "Number of in-memory Mailbox objects currently instantiated.",
	})

	Apps = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "wormhole",
		Subsystem: "mailbox",
		Name:      "apps_live",
		Help:      "Number of AppNamespaces currently registered in the server.",
	})

	PruneRuns = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "wormhole",
		Subsystem: "mailbox",
		Name:      "prune_runs_total",
		Help:      "Number of completed pruning passes.",
	})
)

func init() {
	prometheus.MustRegister(ConnectionsWebsocket, Mailboxes, Apps, PruneRuns)
}

// Handler returns the HTTP handler to mount at /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
