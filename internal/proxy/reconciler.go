package proxy

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	mathrand "math/rand"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/blockgate/hosting/internal/events"
	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/internal/portainer"
	"github.com/blockgate/hosting/internal/webdav"
	"github.com/blockgate/hosting/pkg/logger"
)

const (
	// ProxyEntryPort is the port every proxy listens on inside its
	// container and the port SRV records advertise.
	ProxyEntryPort = 25565

	maxJitter = 30 * time.Second
)

// ContainerEngine is the slice of the container gateway the reconciler
// drives.
type ContainerEngine interface {
	ListContainers(ctx context.Context, environmentID int) ([]portainer.Container, error)
	GetContainer(ctx context.Context, identifier string, environmentID int) (*portainer.Container, error)
	StartContainer(ctx context.Context, containerID string, environmentID int) error
	ListStacks(ctx context.Context) ([]portainer.Stack, error)
	GetStackByName(ctx context.Context, name string) (*portainer.Stack, error)
	CreateStack(ctx context.Context, name, composeContent string, env []portainer.EnvPair, environmentID int) (*portainer.Stack, error)
	StartStack(ctx context.Context, stackID, environmentID int) error
	StopStack(ctx context.Context, stackID, environmentID int) error
	EnsureNetwork(ctx context.Context, name string, environmentID int) error
	Exec(ctx context.Context, containerID string, cmd []string, environmentID int) (*portainer.ExecResult, error)
}

// SharedFS is the slice of the shared filesystem gateway holding proxy
// configuration directories.
type SharedFS interface {
	Exists(ctx context.Context, path string) (bool, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Write(ctx context.Context, path string, data []byte) error
	MkdirAll(ctx context.Context, path string) error
}

// DNSPublisher re-attempts the SRV records of servers whose DNS step is
// still pending.
type DNSPublisher interface {
	EnsureSRV(ctx context.Context, domain, subdomain string, port int, target string, ttl int) (string, error)
}

// ServerStore is the slice of the server repository the reconciler reads.
type ServerStore interface {
	ListAll(ctx context.Context) ([]models.Server, error)
	ListDNSPending(ctx context.Context) ([]models.Server, error)
	ClearDNSPending(ctx context.Context, uniqueID string) error
}

// ServerDeployer re-creates the container stack of a server that exists
// in the database but not on the engine. Implemented by the lifecycle
// service and wired after construction; the reconciler works without one
// and then only reports missing containers.
type ServerDeployer interface {
	RedeployServer(ctx context.Context, server *models.Server) error
}

// ReconcilerConfig carries the fixed settings of the fleet reconciler.
type ReconcilerConfig struct {
	DefinitionsPath string
	RootDomain      string
	NetworkName     string
	EnvironmentID   int
	Interval        time.Duration
}

// Reconciler drives the observed proxy fleet toward the declared one:
// missing proxies are deployed, missing configs synthesized, database
// servers registered everywhere, orphan fleet stacks stopped and pending
// DNS retried. One pass runs at startup and then on a timer; admin
// triggers share the same lock.
type Reconciler struct {
	engine      ContainerEngine
	fs          SharedFS
	dns         DNSPublisher
	servers     ServerStore
	definitions *DefinitionCache
	registry    *Registry
	locks       *configLocks
	cfg         ReconcilerConfig

	mu       sync.Mutex
	deployer ServerDeployer
}

func NewReconciler(engine ContainerEngine, fs SharedFS, dns DNSPublisher, servers ServerStore, cfg ReconcilerConfig) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Minute
	}
	return &Reconciler{
		engine:      engine,
		fs:          fs,
		dns:         dns,
		servers:     servers,
		definitions: NewDefinitionCache(cfg.DefinitionsPath),
		registry:    NewRegistry(),
		locks:       newConfigLocks(),
		cfg:         cfg,
	}
}

// SetServerDeployer wires the lifecycle service in after both sides are
// constructed.
func (r *Reconciler) SetServerDeployer(d ServerDeployer) {
	r.deployer = d
}

// Run executes one pass immediately and then one per interval, each
// delayed by a fresh jitter. A pass that overruns simply delays the next
// one; missed ticks are not queued.
func (r *Reconciler) Run(ctx context.Context) {
	logger.Info("Reconciler started", map[string]interface{}{
		"interval": r.cfg.Interval.String(),
	})
	r.runPass(ctx)
	for {
		jitter := time.Duration(mathrand.Int63n(int64(maxJitter)))
		select {
		case <-ctx.Done():
			logger.Info("Reconciler stopped", nil)
			return
		case <-time.After(r.cfg.Interval + jitter):
			r.runPass(ctx)
		}
	}
}

func (r *Reconciler) runPass(ctx context.Context) {
	started := time.Now()
	err := r.Reconcile(ctx)

	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	monitoring.RecordReconcilePass(outcome, time.Since(started))

	var healthy int
	snapshot := r.registry.Snapshot()
	for _, h := range snapshot {
		if h.Status == StatusHealthy {
			healthy++
		}
	}
	events.PublishProxyReconciled(outcome, healthy, len(snapshot))

	if err != nil {
		logger.Error("Reconcile pass finished with errors", err, map[string]interface{}{
			"duration": time.Since(started).String(),
		})
		return
	}
	logger.Debug("Reconcile pass finished", map[string]interface{}{
		"duration": time.Since(started).String(),
	})
}

// Reconcile runs the full pass: fleet, back-end containers, pending DNS.
// Every duty is attempted regardless of earlier failures; the first error
// is returned.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if err := r.ensureFleet(ctx); err != nil {
		firstErr = err
	}
	if err := r.syncServers(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.retryPendingDNS(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// EnsureFleet reconciles the proxy fleet only.
func (r *Reconciler) EnsureFleet(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureFleet(ctx)
}

// SyncServers reconciles the back-end containers only.
func (r *Reconciler) SyncServers(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.syncServers(ctx)
}

// Health returns the last observed state of every defined proxy.
func (r *Reconciler) Health() []models.ProxyHealth {
	return r.registry.Snapshot()
}

// ProxyNetworks returns the Docker networks game servers must join so
// that every enabled proxy can reach them. Falls back to the default
// network when the definitions file is unreadable or names none.
func (r *Reconciler) ProxyNetworks() []string {
	defs, err := r.definitions.Load()
	if err != nil {
		logger.Warn("Failed to load proxy definitions for network list", map[string]interface{}{
			"error": err.Error(),
		})
		return []string{r.cfg.NetworkName}
	}
	seen := make(map[string]bool)
	var networks []string
	for i := range defs {
		def := &defs[i]
		if !def.IsEnabled() || def.NetworkName == "" || seen[def.NetworkName] {
			continue
		}
		seen[def.NetworkName] = true
		networks = append(networks, def.NetworkName)
	}
	if len(networks) == 0 {
		return []string{r.cfg.NetworkName}
	}
	return networks
}

func (r *Reconciler) ensureFleet(ctx context.Context) error {
	defs, err := r.definitions.Load()
	if err != nil {
		return err
	}

	keep := map[string]bool{}
	for i := range defs {
		keep[defs[i].ID] = true
	}
	r.registry.Prune(keep)

	servers, err := r.servers.ListAll(ctx)
	if err != nil {
		return err
	}

	if err := r.engine.EnsureNetwork(ctx, r.cfg.NetworkName, r.cfg.EnvironmentID); err != nil {
		logger.Warn("Failed to ensure proxy network", map[string]interface{}{
			"network": r.cfg.NetworkName, "error": err.Error(),
		})
	}

	containers, err := r.engine.ListContainers(ctx, r.cfg.EnvironmentID)
	if err != nil {
		return err
	}
	byName := map[string]*portainer.Container{}
	for i := range containers {
		c := &containers[i]
		byName[c.Name()] = c
	}

	var firstErr error
	for i := range defs {
		def := &defs[i]
		if !def.IsEnabled() {
			continue
		}
		if err := r.ensureProxy(ctx, def, defs, byName, servers); err != nil {
			logger.Error("Failed to reconcile proxy", err, map[string]interface{}{
				"proxy": def.Name,
			})
			r.registry.Set(models.ProxyHealth{
				ID: def.ID, Name: def.Name, Type: def.Type,
				Status: StatusFailed, LastChecked: time.Now(),
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if err := r.stopOrphanStacks(ctx, defs); err != nil && firstErr == nil {
		firstErr = err
	}

	for i := range defs {
		def := &defs[i]
		if !def.IsEnabled() {
			continue
		}
		if err := r.applyServers(ctx, def, servers); err != nil {
			logger.Error("Failed to register servers on proxy", err, map[string]interface{}{
				"proxy": def.Name,
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// ensureProxy brings one defined proxy up: config first so a fresh
// container has something to read, then the stack.
func (r *Reconciler) ensureProxy(ctx context.Context, def *models.ProxyDefinition, defs []models.ProxyDefinition, byName map[string]*portainer.Container, servers []models.Server) error {
	if err := r.ensureConfig(ctx, def, defs, servers); err != nil {
		return err
	}

	container := byName[def.Name]
	if container != nil && container.Running() {
		r.registry.Set(models.ProxyHealth{
			ID: def.ID, Name: def.Name, Type: def.Type,
			Status: StatusHealthy, ContainerID: container.ID,
			LastChecked: time.Now(),
		})
		return nil
	}

	stack, err := r.engine.GetStackByName(ctx, def.StackName())
	if err != nil {
		return err
	}
	switch {
	case stack == nil:
		compose, err := portainer.BuildProxyCompose(def, def.ConfigPath)
		if err != nil {
			return err
		}
		if _, err := r.engine.CreateStack(ctx, def.StackName(), compose, nil, r.cfg.EnvironmentID); err != nil {
			return err
		}
		logger.Info("Deployed proxy stack", map[string]interface{}{
			"proxy": def.Name, "stack": def.StackName(),
		})
	case !stack.Active():
		if err := r.engine.StartStack(ctx, stack.ID, r.cfg.EnvironmentID); err != nil {
			return err
		}
		logger.Info("Started proxy stack", map[string]interface{}{
			"proxy": def.Name, "stack": def.StackName(),
		})
	case container != nil:
		if err := r.engine.StartContainer(ctx, container.ID, r.cfg.EnvironmentID); err != nil {
			return err
		}
		logger.Info("Started proxy container", map[string]interface{}{"proxy": def.Name})
	}

	r.registry.Set(models.ProxyHealth{
		ID: def.ID, Name: def.Name, Type: def.Type,
		Status: StatusDeploying, LastChecked: time.Now(),
	})
	return nil
}

// ensureConfig writes a config for the proxy if none exists. A fresh
// config mirrors a sibling when one has data, otherwise it is seeded from
// the database. Either way a fresh forwarding secret lands next to it.
func (r *Reconciler) ensureConfig(ctx context.Context, def *models.ProxyDefinition, defs []models.ProxyDefinition, servers []models.Server) error {
	unlock := r.locks.lock(def.ID)
	defer unlock()

	if err := r.fs.MkdirAll(ctx, def.ConfigPath); err != nil {
		return err
	}
	cfgPath := webdav.JoinPath(def.ConfigPath, def.ConfigFileName())
	exists, err := r.fs.Exists(ctx, cfgPath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	cfg := r.synthesizeConfig(ctx, def, defs, servers)
	data, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if err := r.fs.Write(ctx, cfgPath, data); err != nil {
		return err
	}

	secretPath := webdav.JoinPath(def.ConfigPath, "forwarding.secret")
	if err := r.fs.Write(ctx, secretPath, []byte(randomSecret())); err != nil {
		return err
	}

	logger.Info("Synthesized proxy config", map[string]interface{}{
		"proxy": def.Name, "path": cfgPath, "servers": len(cfg.Backends()),
	})
	return nil
}

func (r *Reconciler) synthesizeConfig(ctx context.Context, def *models.ProxyDefinition, defs []models.ProxyDefinition, servers []models.Server) ProxyConfig {
	cfg := NewConfig(def.Type)

	if r.mirrorSibling(ctx, def, defs, cfg) {
		return cfg
	}

	for i := range servers {
		s := &servers[i]
		cfg.RegisterServer(s.ServerName, s.BackendAddress())
		if s.SubdomainName != "" {
			cfg.AddForcedHost(s.SubdomainName+"."+r.cfg.RootDomain, s.ServerName)
		}
	}
	return cfg
}

// mirrorSibling copies another proxy's back-ends, fallback order and
// forced hosts into dst. Returns false when no sibling has data.
func (r *Reconciler) mirrorSibling(ctx context.Context, def *models.ProxyDefinition, defs []models.ProxyDefinition, dst ProxyConfig) bool {
	for i := range defs {
		sib := &defs[i]
		if sib.ID == def.ID || !sib.IsEnabled() {
			continue
		}
		data, err := r.fs.Read(ctx, webdav.JoinPath(sib.ConfigPath, sib.ConfigFileName()))
		if err != nil {
			continue
		}
		src, err := ParseConfig(sib.Type, data)
		if err != nil {
			logger.Warn("Skipping unparseable sibling config", map[string]interface{}{
				"proxy": sib.Name, "error": err.Error(),
			})
			continue
		}
		backends := src.Backends()
		if len(backends) == 0 {
			continue
		}

		for _, name := range src.FallbackOrder() {
			if addr, ok := backends[name]; ok {
				dst.RegisterServer(name, addr)
			}
		}
		for _, name := range sortedKeys(backends) {
			dst.RegisterServer(name, backends[name])
		}
		for host, names := range src.HostMappings() {
			for _, name := range names {
				dst.AddForcedHost(host, name)
			}
		}

		logger.Info("Mirrored sibling proxy config", map[string]interface{}{
			"proxy": def.Name, "sibling": sib.Name,
		})
		return true
	}
	return false
}

// stopOrphanStacks stops fleet-named stacks that no definition claims.
// Their data stays untouched.
func (r *Reconciler) stopOrphanStacks(ctx context.Context, defs []models.ProxyDefinition) error {
	stacks, err := r.engine.ListStacks(ctx)
	if err != nil {
		return err
	}

	known := map[string]bool{}
	for i := range defs {
		known[defs[i].StackName()] = true
	}

	for i := range stacks {
		s := &stacks[i]
		if s.EndpointID != r.cfg.EnvironmentID {
			continue
		}
		if !strings.HasPrefix(s.Name, models.ProxyStackPrefix) || known[s.Name] {
			continue
		}
		if !s.Active() {
			continue
		}
		if err := r.engine.StopStack(ctx, s.ID, r.cfg.EnvironmentID); err != nil {
			logger.Warn("Failed to stop orphan proxy stack", map[string]interface{}{
				"stack": s.Name, "error": err.Error(),
			})
			continue
		}
		logger.Info("Stopped orphan proxy stack", map[string]interface{}{"stack": s.Name})
	}
	return nil
}

// applyServers registers every database server on one proxy in a single
// read-modify-write.
func (r *Reconciler) applyServers(ctx context.Context, def *models.ProxyDefinition, servers []models.Server) error {
	return r.mutateProxyConfig(ctx, def, func(cfg ProxyConfig) {
		for i := range servers {
			s := &servers[i]
			cfg.RegisterServer(s.ServerName, s.BackendAddress())
			if s.SubdomainName != "" {
				cfg.AddForcedHost(s.SubdomainName+"."+r.cfg.RootDomain, s.ServerName)
			}
		}
	})
}

// AddServerToAllProxies registers a back-end on every enabled proxy of
// the preferred type (velocity). Fleets without a velocity proxy fall
// back to every enabled proxy.
func (r *Reconciler) AddServerToAllProxies(ctx context.Context, server *models.Server) error {
	defs, err := r.definitions.Load()
	if err != nil {
		return err
	}

	targets := make([]*models.ProxyDefinition, 0, len(defs))
	for i := range defs {
		def := &defs[i]
		if def.IsEnabled() && def.Type == models.ProxyTypeVelocity {
			targets = append(targets, def)
		}
	}
	if len(targets) == 0 {
		for i := range defs {
			if defs[i].IsEnabled() {
				targets = append(targets, &defs[i])
			}
		}
	}

	var firstErr error
	registered := 0
	for _, def := range targets {
		err := r.mutateProxyConfig(ctx, def, func(cfg ProxyConfig) {
			cfg.RegisterServer(server.ServerName, server.BackendAddress())
			if server.SubdomainName != "" {
				cfg.AddForcedHost(server.SubdomainName+"."+r.cfg.RootDomain, server.ServerName)
			}
		})
		if err != nil {
			logger.Error("Failed to register server on proxy", err, map[string]interface{}{
				"server": server.ServerName, "proxy": def.Name,
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		registered++
	}

	logger.Info("Registered server on proxy fleet", map[string]interface{}{
		"server": server.ServerName, "proxies": registered,
	})
	return firstErr
}

// RemoveServerFromAllProxies wipes a back-end from every enabled proxy of
// any type. The optional uniqueID additionally removes entries that still
// point at the server's container under another name.
func (r *Reconciler) RemoveServerFromAllProxies(ctx context.Context, serverName, uniqueID string) error {
	defs, err := r.definitions.Load()
	if err != nil {
		return err
	}

	address := ""
	if uniqueID != "" {
		address = models.BackendAddressFor(uniqueID)
	}

	var firstErr error
	for i := range defs {
		def := &defs[i]
		if !def.IsEnabled() {
			continue
		}
		err := r.mutateProxyConfig(ctx, def, func(cfg ProxyConfig) {
			cfg.DeregisterServer(serverName)
			if address == "" {
				return
			}
			for name, addr := range cfg.Backends() {
				if addr == address {
					cfg.DeregisterServer(name)
				}
			}
		})
		if err != nil {
			logger.Error("Failed to deregister server from proxy", err, map[string]interface{}{
				"server": serverName, "proxy": def.Name,
			})
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// mutateProxyConfig runs one read-modify-write under the proxy's config
// lock. The file is only rewritten when the mutation changed it; a
// rewrite on a velocity proxy is followed by a best-effort reload nudge.
func (r *Reconciler) mutateProxyConfig(ctx context.Context, def *models.ProxyDefinition, apply func(ProxyConfig)) error {
	unlock := r.locks.lock(def.ID)
	defer unlock()

	cfgPath := webdav.JoinPath(def.ConfigPath, def.ConfigFileName())
	raw, err := r.fs.Read(ctx, cfgPath)
	var cfg ProxyConfig
	switch {
	case err == nil:
		cfg, err = ParseConfig(def.Type, raw)
		if err != nil {
			return err
		}
	case errors.Is(err, webdav.ErrNotFound):
		if err := r.fs.MkdirAll(ctx, def.ConfigPath); err != nil {
			return err
		}
		cfg = NewConfig(def.Type)
		raw = nil
	default:
		return err
	}

	apply(cfg)

	updated, err := cfg.Marshal()
	if err != nil {
		return err
	}
	if raw != nil && bytes.Equal(raw, updated) {
		return nil
	}
	if err := r.fs.Write(ctx, cfgPath, updated); err != nil {
		return err
	}
	logger.Info("Rewrote proxy config", map[string]interface{}{
		"proxy": def.Name, "path": cfgPath,
	})

	r.reloadProxy(ctx, def)
	return nil
}

// reloadProxy nudges a running velocity container to re-read its config.
// Failures are logged and swallowed; the proxy picks the change up on its
// own eventually. The bungee family reloads by itself.
func (r *Reconciler) reloadProxy(ctx context.Context, def *models.ProxyDefinition) {
	if def.Type != models.ProxyTypeVelocity {
		return
	}
	container, err := r.engine.GetContainer(ctx, def.Name, r.cfg.EnvironmentID)
	if err != nil || container == nil || !container.Running() {
		return
	}
	if _, err := r.engine.Exec(ctx, container.ID, []string{"rcon-cli", "velocity", "reload"}, r.cfg.EnvironmentID); err != nil {
		logger.Warn("Proxy reload nudge failed", map[string]interface{}{
			"proxy": def.Name, "error": err.Error(),
		})
	}
}

// syncServers re-creates containers for database servers that lost
// theirs, and reports containers that match the server naming convention
// without a database row. Orphans are never stopped or destroyed.
func (r *Reconciler) syncServers(ctx context.Context) error {
	servers, err := r.servers.ListAll(ctx)
	if err != nil {
		return err
	}
	containers, err := r.engine.ListContainers(ctx, r.cfg.EnvironmentID)
	if err != nil {
		return err
	}

	byName := map[string]*portainer.Container{}
	for i := range containers {
		c := &containers[i]
		byName[c.Name()] = c
	}

	known := map[string]bool{}
	var firstErr error
	for i := range servers {
		s := &servers[i]
		known[s.ContainerName()] = true
		if byName[s.ContainerName()] != nil {
			continue
		}
		logger.Warn("Server container missing", map[string]interface{}{
			"server": s.ServerName, "container": s.ContainerName(),
		})
		if r.deployer == nil {
			continue
		}
		if err := r.deployer.RedeployServer(ctx, s); err != nil {
			logger.Error("Failed to redeploy server", err, map[string]interface{}{
				"server": s.ServerName,
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		events.PublishServerRedeployed(s.UniqueID)
	}

	for i := range containers {
		c := &containers[i]
		name := c.Name()
		if !strings.HasPrefix(name, "mc-") || strings.HasPrefix(name, models.ProxyStackPrefix) {
			continue
		}
		if known[name] {
			continue
		}
		logger.Warn("Orphan server container has no database row", map[string]interface{}{
			"container": name, "state": c.State,
		})
	}

	return firstErr
}

// retryPendingDNS re-attempts the SRV record of every server whose DNS
// step failed at create time and clears the flag on success.
func (r *Reconciler) retryPendingDNS(ctx context.Context) error {
	pending, err := r.servers.ListDNSPending(ctx)
	if err != nil {
		return err
	}

	var firstErr error
	for i := range pending {
		s := &pending[i]
		if s.SubdomainName == "" {
			if err := r.servers.ClearDNSPending(ctx, s.UniqueID); err != nil && firstErr == nil {
				firstErr = err
			}
			continue
		}
		target := s.SubdomainName + "." + r.cfg.RootDomain
		if _, err := r.dns.EnsureSRV(ctx, r.cfg.RootDomain, s.SubdomainName, ProxyEntryPort, target, 0); err != nil {
			logger.Warn("DNS retry failed", map[string]interface{}{
				"server": s.ServerName, "subdomain": s.SubdomainName, "error": err.Error(),
			})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if err := r.servers.ClearDNSPending(ctx, s.UniqueID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		monitoring.RecordDNSPublication("retried")
		events.PublishDNSRetried(s.UniqueID, s.SubdomainName)
		logger.Info("DNS record published on retry", map[string]interface{}{
			"server": s.ServerName, "subdomain": s.SubdomainName,
		})
	}
	return firstErr
}

// configLocks serializes mutations per proxy id.
type configLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newConfigLocks() *configLocks {
	return &configLocks{locks: map[string]*sync.Mutex{}}
}

func (l *configLocks) lock(id string) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()
	m.Lock()
	return m.Unlock
}

func randomSecret() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return uuid.NewString()
	}
	return hex.EncodeToString(buf)
}
