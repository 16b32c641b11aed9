package monitoring

import (
	"context"
	"fmt"
	"time"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/repository"
	"github.com/blockgate/hosting/pkg/logger"
)

// FleetHealthSource exposes the reconciler's proxy health snapshot.
type FleetHealthSource interface {
	Health() []models.ProxyHealth
}

// Collector refreshes the inventory gauges from the document store and
// the proxy fleet. Counters are fed at their call sites; gauges describe
// state and need a periodic owner.
type Collector struct {
	servers *repository.ServerRepository
	fleet   FleetHealthSource
}

func NewCollector(servers *repository.ServerRepository, fleet FleetHealthSource) *Collector {
	return &Collector{servers: servers, fleet: fleet}
}

var gaugedStatuses = []models.ServerStatus{
	models.StatusCreating,
	models.StatusReady,
	models.StatusStarting,
	models.StatusOnline,
	models.StatusStopping,
	models.StatusDeleting,
}

// Collect refreshes every inventory gauge once.
func (c *Collector) Collect(ctx context.Context) error {
	servers, err := c.servers.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list servers: %w", err)
	}

	counts := make(map[models.ServerStatus]int)
	var online, dnsPending int

	// Reset drops series for servers deleted since the last pass.
	ServerStatusGauge.Reset()
	for i := range servers {
		server := &servers[i]
		counts[server.Status]++
		if server.Status == models.StatusOnline {
			online++
		}
		if server.DNSPending {
			dnsPending++
		}
		ServerStatusGauge.WithLabelValues(server.UniqueID, server.ServerName).
			Set(StatusToFloat(server.Status))
	}
	for _, status := range gaugedStatuses {
		ServersByStatus.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	ServersOnline.Set(float64(online))
	DNSPendingRecords.Set(float64(dnsPending))

	ports, err := c.servers.AllocatedPorts(ctx)
	if err != nil {
		return fmt.Errorf("failed to count allocated ports: %w", err)
	}
	PortsAllocated.Set(float64(len(ports)))

	if c.fleet != nil {
		proxyCounts := make(map[string]int)
		for _, health := range c.fleet.Health() {
			proxyCounts[health.Status]++
		}
		ProxiesByStatus.Reset()
		for status, count := range proxyCounts {
			ProxiesByStatus.WithLabelValues(status).Set(float64(count))
		}
	}

	return nil
}

// Start refreshes the gauges on a fixed interval until the context ends.
func (c *Collector) Start(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		if err := c.Collect(ctx); err != nil {
			logger.Error("Failed to collect metrics", err, nil)
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := c.Collect(ctx); err != nil {
					logger.Error("Failed to collect metrics", err, nil)
				}
			}
		}
	}()

	logger.Info("Metrics collector started", map[string]interface{}{
		"interval": interval.String(),
	})
}
