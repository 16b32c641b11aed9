package proxy

import (
	"sort"
	"sync"

	"github.com/blockgate/hosting/internal/models"
)

// Proxy health states as reported by Health. Engine-reported running
// counts as healthy; deeper probing is not attempted.
const (
	StatusHealthy   = "healthy"
	StatusDeploying = "deploying"
	StatusStopped   = "stopped"
	StatusFailed    = "failed"
)

// Registry is the reconciler's in-memory view of the proxy fleet.
type Registry struct {
	mu      sync.RWMutex
	proxies map[string]models.ProxyHealth
}

func NewRegistry() *Registry {
	return &Registry{proxies: map[string]models.ProxyHealth{}}
}

// Set records the latest observation for a proxy.
func (r *Registry) Set(health models.ProxyHealth) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[health.ID] = health
}

// Get returns the last observation for a proxy id.
func (r *Registry) Get(id string) (models.ProxyHealth, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.proxies[id]
	return h, ok
}

// Prune drops every proxy whose id is not in keep. Called when the
// definitions file shrinks.
func (r *Registry) Prune(keep map[string]bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id := range r.proxies {
		if !keep[id] {
			delete(r.proxies, id)
		}
	}
}

// Snapshot returns the fleet view sorted by proxy name.
func (r *Registry) Snapshot() []models.ProxyHealth {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]models.ProxyHealth, 0, len(r.proxies))
	for _, h := range r.proxies {
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
