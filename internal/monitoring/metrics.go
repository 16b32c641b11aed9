package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/blockgate/hosting/internal/models"
)

var (
	// Fleet inventory, refreshed by the collector.
	ServersByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockgate_servers",
			Help: "Number of servers per lifecycle status",
		},
		[]string{"status"},
	)

	ServerStatusGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockgate_server_status",
			Help: "Per-server status (0=creating, 1=ready, 2=starting, 3=online, 4=stopping, 5=deleting)",
		},
		[]string{"server_id", "server_name"},
	)

	ServersOnline = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockgate_servers_online",
			Help: "Number of servers currently online",
		},
	)

	PortsAllocated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockgate_ports_allocated",
			Help: "Number of host ports held by server stacks",
		},
	)

	DNSPendingRecords = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "blockgate_dns_pending_records",
			Help: "Number of servers whose SRV record is still awaiting publication",
		},
	)

	ProxiesByStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "blockgate_proxies",
			Help: "Number of fleet proxies per health status",
		},
		[]string{"status"},
	)

	// Operation outcomes
	ServerOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockgate_server_operations_total",
			Help: "Lifecycle operations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	PortAllocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockgate_port_allocations_total",
			Help: "Port allocation attempts by outcome",
		},
		[]string{"outcome"},
	)

	DNSPublicationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockgate_dns_publications_total",
			Help: "SRV record publications by outcome",
		},
		[]string{"outcome"},
	)

	ReconcilePassesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockgate_reconcile_passes_total",
			Help: "Proxy fleet reconciliation passes by outcome",
		},
		[]string{"outcome"},
	)

	ReconcileDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "blockgate_reconcile_duration_seconds",
			Help:    "Duration of one reconciliation pass",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		},
	)

	ExternalFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockgate_external_failures_total",
			Help: "Failed calls to external systems by target",
		},
		[]string{"target"},
	)

	// API surface
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "blockgate_http_requests_total",
			Help: "HTTP requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "blockgate_http_request_duration_seconds",
			Help:    "HTTP request duration by method and route",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

// StatusToFloat maps a server status onto the per-server status gauge.
func StatusToFloat(status models.ServerStatus) float64 {
	switch status {
	case models.StatusCreating:
		return 0
	case models.StatusReady:
		return 1
	case models.StatusStarting:
		return 2
	case models.StatusOnline:
		return 3
	case models.StatusStopping:
		return 4
	case models.StatusDeleting:
		return 5
	default:
		return -1
	}
}

// RecordServerOperation counts one lifecycle operation result.
func RecordServerOperation(operation, outcome string) {
	ServerOperationsTotal.WithLabelValues(operation, outcome).Inc()
}

func RecordPortAllocation(outcome string) {
	PortAllocationsTotal.WithLabelValues(outcome).Inc()
}

func RecordDNSPublication(outcome string) {
	DNSPublicationsTotal.WithLabelValues(outcome).Inc()
}

// RecordExternalFailure counts one exhausted call to an external system.
func RecordExternalFailure(target string) {
	ExternalFailuresTotal.WithLabelValues(target).Inc()
}

// RecordReconcilePass counts a reconciliation pass and observes its duration.
func RecordReconcilePass(outcome string, duration time.Duration) {
	ReconcilePassesTotal.WithLabelValues(outcome).Inc()
	ReconcileDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest feeds the request counter and latency histogram.
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
