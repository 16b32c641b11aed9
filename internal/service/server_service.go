package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/blockgate/hosting/internal/events"
	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/internal/portainer"
	"github.com/blockgate/hosting/internal/ports"
	"github.com/blockgate/hosting/internal/proxy"
	"github.com/blockgate/hosting/internal/webdav"
	"github.com/blockgate/hosting/pkg/config"
	"github.com/blockgate/hosting/pkg/logger"
)

// rollbackTimeout bounds the reverse cleanup of a failed create, which
// runs on its own context so a cancelled request still cleans up.
const rollbackTimeout = 30 * time.Second

// reservedSubdomains are infrastructure labels regular accounts may not
// claim. Admin accounts can still assign them.
var reservedSubdomains = map[string]bool{
	"www": true, "mail": true, "smtp": true, "imap": true, "pop": true,
	"ftp": true, "ns1": true, "ns2": true, "api": true, "admin": true,
	"status": true, "proxy": true, "mc": true, "play": true,
}

// ServerStore is the slice of the server repository the lifecycle
// service needs.
type ServerStore interface {
	Create(ctx context.Context, server *models.Server) error
	FindByUniqueID(ctx context.Context, uniqueID string) (*models.Server, error)
	FindBySubdomain(ctx context.Context, subdomain string) (*models.Server, error)
	FindByEmail(ctx context.Context, email string) ([]models.Server, error)
	CountByEmail(ctx context.Context, email string) (int, error)
	ListAll(ctx context.Context) ([]models.Server, error)
	ListTransient(ctx context.Context) ([]models.Server, error)
	Update(ctx context.Context, server *models.Server) error
	UpdateStatus(ctx context.Context, uniqueID string, status models.ServerStatus) error
	Delete(ctx context.Context, uniqueID string) error
}

// UserStore resolves the calling account.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

// ContainerGateway is the slice of the container engine gateway that
// drives game server stacks.
type ContainerGateway interface {
	CreateStack(ctx context.Context, name, composeContent string, env []portainer.EnvPair, environmentID int) (*portainer.Stack, error)
	GetStackByName(ctx context.Context, name string) (*portainer.Stack, error)
	DeleteStack(ctx context.Context, stackID, environmentID int) error
	StartStack(ctx context.Context, stackID, environmentID int) error
	StopStack(ctx context.Context, stackID, environmentID int) error
	GetContainer(ctx context.Context, identifier string, environmentID int) (*portainer.Container, error)
	StartContainer(ctx context.Context, containerID string, environmentID int) error
	StopContainer(ctx context.Context, containerID string, environmentID int) error
	RemoveContainer(ctx context.Context, containerID string, environmentID int, force bool) error
}

// ServerFS is the slice of the shared filesystem gateway holding server
// data directories.
type ServerFS interface {
	Exists(ctx context.Context, path string) (bool, error)
	MkdirAll(ctx context.Context, path string) error
	Move(ctx context.Context, src, dst string) error
	Delete(ctx context.Context, path string) error
}

// DNSManager publishes and withdraws the SRV record of a server.
type DNSManager interface {
	CreateSRV(ctx context.Context, domain, subdomain string, port int, target string, ttl int) (string, error)
	EnsureSRV(ctx context.Context, domain, subdomain string, port int, target string, ttl int) (string, error)
	DeleteSRV(ctx context.Context, domain, subdomain string) (bool, error)
}

// PortAllocator is the slice of the port arbiter the create path drives.
type PortAllocator interface {
	LockEnvironment(environmentID int) func()
	Allocate(ctx context.Context, userEmail string, needsRcon bool, environmentID int) (*ports.Allocation, error)
}

// ProxyFleet registers and deregisters back-ends across the proxy
// fleet. Wired after construction because the reconciler also holds a
// reference back to this service for redeploys; a nil fleet skips
// registration and leaves it to the next reconcile pass.
type ProxyFleet interface {
	AddServerToAllProxies(ctx context.Context, server *models.Server) error
	RemoveServerFromAllProxies(ctx context.Context, serverName, uniqueID string) error
	ProxyNetworks() []string
}

// Archiver offloads archived data directories to cold storage.
type Archiver interface {
	Enabled() bool
	OffloadAsync(sourcePath string)
}

// CreateServerRequest is the payload of a server creation call.
type CreateServerRequest struct {
	ServerName  string              `json:"server-name"`
	Subdomain   string              `json:"subdomain"`
	RconEnabled bool                `json:"rcon-enabled"`
	Config      models.ServerConfig `json:"server-config"`
}

// CreateServerResult is the view returned after a create. Success turns
// false when a non-fatal step (DNS publication) failed; Details then
// names the step.
type CreateServerResult struct {
	UniqueID   string              `json:"unique-id"`
	ServerName string              `json:"server-name"`
	Port       int                 `json:"port"`
	Success    bool                `json:"success"`
	Details    []models.StepReport `json:"details,omitempty"`
}

// DeleteServerResult enumerates every teardown step.
type DeleteServerResult struct {
	Success bool                `json:"success"`
	Details []models.StepReport `json:"details"`
}

// SubdomainCheck is the result of a subdomain availability probe.
type SubdomainCheck struct {
	IsValid    bool `json:"is-valid"`
	IsReserved bool `json:"is-reserved"`
	CanUse     bool `json:"can-use"`
}

// ServerService orchestrates the lifecycle of game servers: the ordered
// create effects (port, data dir, stack, proxies, DNS), the mirrored
// teardown, start/stop transitions, and the redeploy path the fleet
// reconciler calls for vanished containers.
type ServerService struct {
	servers   ServerStore
	users     UserStore
	engine    ContainerGateway
	fs        ServerFS
	dns       DNSManager
	allocator PortAllocator
	cfg       *config.Config

	fleet    ProxyFleet
	archiver Archiver
}

func NewServerService(
	servers ServerStore,
	users UserStore,
	engine ContainerGateway,
	fs ServerFS,
	dns DNSManager,
	allocator PortAllocator,
	cfg *config.Config,
) *ServerService {
	return &ServerService{
		servers:   servers,
		users:     users,
		engine:    engine,
		fs:        fs,
		dns:       dns,
		allocator: allocator,
		cfg:       cfg,
	}
}

// SetProxyFleet wires the fleet reconciler in after both sides are
// constructed.
func (s *ServerService) SetProxyFleet(fleet ProxyFleet) {
	s.fleet = fleet
}

// SetArchiver wires the optional cold storage offloader.
func (s *ServerService) SetArchiver(archiver Archiver) {
	s.archiver = archiver
}

// CreateServer provisions a game server end to end: port, data
// directory, container stack, proxy registration, SRV record, in that
// order. Deployment failures roll the earlier effects back in reverse.
// A DNS failure keeps the server, flags the row for the reconciler and
// reports the step in the result.
func (s *ServerService) CreateServer(ctx context.Context, callerEmail string, req CreateServerRequest) (*CreateServerResult, error) {
	if err := models.ValidateServerName(req.ServerName); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := models.ValidateSubdomain(req.Subdomain); err != nil {
		return nil, models.NewValidationError(err.Error())
	}
	if err := req.Config.Validate(); err != nil {
		return nil, models.NewValidationError(err.Error())
	}

	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}
	if reservedSubdomains[req.Subdomain] && !user.IsAdmin {
		return nil, models.NewAuthorizationError(fmt.Sprintf("subdomain %q is reserved", req.Subdomain))
	}
	count, err := s.servers.CountByEmail(ctx, user.Email)
	if err != nil {
		return nil, err
	}
	if !user.CanAddServer(count) {
		return nil, models.ErrServerQuotaExceeded
	}

	server, err := s.allocateDraft(ctx, user, req)
	if err != nil {
		monitoring.RecordServerOperation("create", "error")
		return nil, err
	}

	if err := s.deployStack(ctx, server); err != nil {
		logger.Error("Server deployment failed, rolling back", err, map[string]interface{}{
			"server": server.UniqueID, "name": server.ServerName,
		})
		s.rollbackCreate(server)
		monitoring.RecordServerOperation("create", "error")
		return nil, err
	}

	server.Status = models.StatusReady
	if err := s.servers.Update(ctx, server); err != nil {
		// The stack is up and the draft row still says Creating; the
		// startup resume pass finishes the job once the database is back.
		monitoring.RecordServerOperation("create", "error")
		return nil, err
	}

	events.PublishServerCreated(server.UniqueID, server.Email, string(server.ServerConfig.ServerType), server.ServerConfig.Port)

	result := &CreateServerResult{
		UniqueID:   server.UniqueID,
		ServerName: server.ServerName,
		Port:       server.ServerConfig.Port,
		Success:    true,
	}
	if err := s.registerAndPublish(ctx, server, false); err != nil {
		result.Success = false
		result.Details = append(result.Details, models.StepReport{
			Step: "publish-dns", Success: false, Error: err.Error(),
		})
		monitoring.RecordServerOperation("create", "partial")
	} else {
		monitoring.RecordServerOperation("create", "success")
	}

	logger.Info("Server created", map[string]interface{}{
		"server": server.UniqueID,
		"name":   server.ServerName,
		"owner":  server.Email,
		"port":   server.ServerConfig.Port,
	})
	return result, nil
}

// allocateDraft reserves a port and persists the draft row while holding
// the per-environment allocation lock, so no concurrent create can pick
// the same port before it becomes visible in the database. The unique
// indexes on server_name and subdomain_name reject duplicates here, the
// only race-free point.
func (s *ServerService) allocateDraft(ctx context.Context, user *models.User, req CreateServerRequest) (*models.Server, error) {
	unlock := s.allocator.LockEnvironment(s.cfg.PortainerEnvID)
	defer unlock()

	alloc, err := s.allocator.Allocate(ctx, user.Email, req.RconEnabled, s.cfg.PortainerEnvID)
	if err != nil {
		outcome := "error"
		if models.KindOf(err) == models.KindConflict {
			outcome = "exhausted"
		}
		monitoring.RecordPortAllocation(outcome)
		return nil, err
	}

	uniqueID := uuid.NewString()[:8]
	now := time.Now().UTC()
	server := &models.Server{
		UniqueID:      uniqueID,
		Email:         models.NormalizeEmail(user.Email),
		ServerName:    req.ServerName,
		SubdomainName: req.Subdomain,
		FolderPath:    webdav.JoinPath(s.cfg.MinecraftPath, models.EmailLocalPart(user.Email), uniqueID),
		Status:        models.StatusCreating,
		CreatedAt:     now,
		UpdatedAt:     now,
		ServerConfig:  req.Config,
	}
	server.ServerConfig.Port = alloc.Port
	server.ServerConfig.RconPort = alloc.RconPort

	if err := s.servers.Create(ctx, server); err != nil {
		return nil, err
	}

	monitoring.RecordPortAllocation("success")
	events.PublishPortAllocated(uniqueID, server.Email, alloc.Port, alloc.RconPort)
	return server, nil
}

// deployStack converges a server's stack to deployed-and-running: the
// data directory and stack are created when absent, a stopped stack or
// container is started, a running one is left alone.
func (s *ServerService) deployStack(ctx context.Context, server *models.Server) error {
	name := server.ContainerName()
	stack, err := s.engine.GetStackByName(ctx, name)
	if err != nil {
		return err
	}
	if stack == nil {
		if err := s.fs.MkdirAll(ctx, server.FolderPath); err != nil {
			return err
		}
		compose, err := portainer.BuildServerCompose(server, server.FolderPath, s.cfg.RconPassword, s.proxyNetworks())
		if err != nil {
			return err
		}
		if _, err := s.engine.CreateStack(ctx, name, compose, nil, s.cfg.PortainerEnvID); err != nil {
			return err
		}
		return nil
	}
	if !stack.Active() {
		return s.engine.StartStack(ctx, stack.ID, s.cfg.PortainerEnvID)
	}
	container, err := s.engine.GetContainer(ctx, name, s.cfg.PortainerEnvID)
	if err != nil {
		return err
	}
	if container == nil {
		// The stack believes it is active but its container is gone;
		// cycling the stack recreates it from the stored compose file.
		if err := s.engine.StopStack(ctx, stack.ID, s.cfg.PortainerEnvID); err != nil {
			return err
		}
		return s.engine.StartStack(ctx, stack.ID, s.cfg.PortainerEnvID)
	}
	if !container.Running() {
		return s.engine.StartContainer(ctx, container.ID, s.cfg.PortainerEnvID)
	}
	return nil
}

// registerAndPublish attaches a server to the proxy fleet and creates
// its SRV record. Registration failures are only logged because the
// reconciler repairs them on its next pass; a DNS failure flags the row
// dns_pending and is returned so callers can report the step. ensure
// selects the idempotent SRV path for resumed creates.
func (s *ServerService) registerAndPublish(ctx context.Context, server *models.Server, ensure bool) error {
	if s.fleet != nil {
		if err := s.fleet.AddServerToAllProxies(ctx, server); err != nil {
			logger.Warn("Failed to register server on proxy fleet", map[string]interface{}{
				"server": server.UniqueID, "error": err.Error(),
			})
		}
	}

	publish := s.dns.CreateSRV
	if ensure {
		publish = s.dns.EnsureSRV
	}
	target := server.SubdomainName + "." + s.cfg.RootDomain
	if _, err := publish(ctx, s.cfg.RootDomain, server.SubdomainName, proxy.ProxyEntryPort, target, 0); err != nil {
		monitoring.RecordDNSPublication("deferred")
		logger.Warn("SRV record creation failed, deferring to reconciler", map[string]interface{}{
			"server": server.UniqueID, "subdomain": server.SubdomainName, "error": err.Error(),
		})
		server.DNSPending = true
		if uerr := s.servers.Update(ctx, server); uerr != nil {
			logger.Error("Failed to flag pending DNS", uerr, map[string]interface{}{
				"server": server.UniqueID,
			})
		}
		return err
	}

	if server.DNSPending {
		server.DNSPending = false
		if err := s.servers.Update(ctx, server); err != nil {
			return err
		}
	}
	monitoring.RecordDNSPublication("published")
	events.PublishDNSPublished(server.UniqueID, server.SubdomainName, proxy.ProxyEntryPort)
	return nil
}

// rollbackCreate removes the partial effects of a failed create in
// reverse order: stack, data directory, then the draft row, which
// releases the port. Runs on a fresh context so it still executes when
// the request was cancelled; every failure is logged and skipped.
func (s *ServerService) rollbackCreate(server *models.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), rollbackTimeout)
	defer cancel()

	if stack, err := s.engine.GetStackByName(ctx, server.ContainerName()); err == nil && stack != nil {
		if err := s.engine.DeleteStack(ctx, stack.ID, s.cfg.PortainerEnvID); err != nil {
			logger.Warn("Rollback left a partial stack behind", map[string]interface{}{
				"server": server.UniqueID, "stack_id": stack.ID, "error": err.Error(),
			})
		}
	}
	if err := s.fs.Delete(ctx, server.FolderPath); err != nil {
		logger.Warn("Rollback left the data directory behind", map[string]interface{}{
			"server": server.UniqueID, "path": server.FolderPath, "error": err.Error(),
		})
	}
	if err := s.servers.Delete(ctx, server.UniqueID); err != nil {
		logger.Warn("Rollback left the draft row behind", map[string]interface{}{
			"server": server.UniqueID, "error": err.Error(),
		})
	}
	logger.Info("Create rolled back", map[string]interface{}{"server": server.UniqueID})
}

// DeleteServer tears a server down in reverse creation order. Every
// step runs regardless of earlier failures, each step tolerates work
// already done, and the report always lists all of them; Success is
// their conjunction.
func (s *ServerService) DeleteServer(ctx context.Context, callerEmail, uniqueID string) (*DeleteServerResult, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}
	server, err := s.servers.FindByUniqueID(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(user, server); err != nil {
		return nil, err
	}

	if err := s.servers.UpdateStatus(ctx, uniqueID, models.StatusDeleting); err != nil {
		return nil, err
	}
	server.Status = models.StatusDeleting

	details := s.teardown(ctx, server)
	success := models.AllSucceeded(details)
	if success {
		monitoring.RecordServerOperation("delete", "success")
	} else {
		monitoring.RecordServerOperation("delete", "partial")
	}
	events.PublishServerDeleted(uniqueID, server.Email, success)
	logger.Info("Server deleted", map[string]interface{}{
		"server": uniqueID, "owner": server.Email, "complete": success,
	})
	return &DeleteServerResult{Success: success, Details: details}, nil
}

// teardown runs every deletion step in order and reports each outcome.
// Shared with the startup resume pass for rows stuck in Deleting.
func (s *ServerService) teardown(ctx context.Context, server *models.Server) []models.StepReport {
	var details []models.StepReport
	step := func(name string, err error) {
		report := models.StepReport{Step: name, Success: err == nil}
		if err != nil {
			report.Error = err.Error()
			logger.Error("Deletion step failed", err, map[string]interface{}{
				"server": server.UniqueID, "step": name,
			})
		}
		details = append(details, report)
	}

	step("remove-stack", s.removeStack(ctx, server))
	step("deregister-proxies", s.deregisterProxies(ctx, server))
	step("delete-dns", s.deleteDNS(ctx, server))
	if s.cfg.DeleteServerFolders {
		step("delete-data", s.fs.Delete(ctx, server.FolderPath))
	} else {
		step("archive-data", s.archiveDataDir(ctx, server))
	}
	step("delete-record", s.servers.Delete(ctx, server.UniqueID))
	return details
}

// removeStack stops and removes the server's stack, falling back to the
// bare container when no stack carries the name. Absence counts as done.
func (s *ServerService) removeStack(ctx context.Context, server *models.Server) error {
	name := server.ContainerName()
	stack, err := s.engine.GetStackByName(ctx, name)
	if err != nil {
		return err
	}
	if stack != nil {
		if stack.Active() {
			if err := s.engine.StopStack(ctx, stack.ID, s.cfg.PortainerEnvID); err != nil && !portainer.IsNotFound(err) {
				logger.Warn("Failed to stop stack before removal", map[string]interface{}{
					"server": server.UniqueID, "stack_id": stack.ID, "error": err.Error(),
				})
			}
		}
		if err := s.engine.DeleteStack(ctx, stack.ID, s.cfg.PortainerEnvID); err != nil && !portainer.IsNotFound(err) {
			return err
		}
		return nil
	}

	container, err := s.engine.GetContainer(ctx, name, s.cfg.PortainerEnvID)
	if err != nil {
		return err
	}
	if container == nil {
		return nil
	}
	if container.Running() {
		if err := s.engine.StopContainer(ctx, container.ID, s.cfg.PortainerEnvID); err != nil && !portainer.IsNotFound(err) {
			logger.Warn("Failed to stop container before removal", map[string]interface{}{
				"server": server.UniqueID, "container": container.ID, "error": err.Error(),
			})
		}
	}
	if err := s.engine.RemoveContainer(ctx, container.ID, s.cfg.PortainerEnvID, true); err != nil && !portainer.IsNotFound(err) {
		return err
	}
	return nil
}

func (s *ServerService) deregisterProxies(ctx context.Context, server *models.Server) error {
	if s.fleet == nil {
		return nil
	}
	return s.fleet.RemoveServerFromAllProxies(ctx, server.ServerName, server.UniqueID)
}

// deleteDNS withdraws the SRV record. No record found is success: the
// create may have never published one.
func (s *ServerService) deleteDNS(ctx context.Context, server *models.Server) error {
	if server.SubdomainName == "" {
		return nil
	}
	_, err := s.dns.DeleteSRV(ctx, s.cfg.RootDomain, server.SubdomainName)
	return err
}

// archiveDataDir renames the data directory to a timestamped archive
// name instead of destroying it, then hands it to cold storage when an
// offloader is configured.
func (s *ServerService) archiveDataDir(ctx context.Context, server *models.Server) error {
	exists, err := s.fs.Exists(ctx, server.FolderPath)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	archived := fmt.Sprintf("%s-deleted-%s", server.FolderPath, time.Now().UTC().Format("2006-01-02_15-04-05"))
	if err := s.fs.Move(ctx, server.FolderPath, archived); err != nil {
		return err
	}
	logger.Info("Data directory archived", map[string]interface{}{
		"server": server.UniqueID, "path": archived,
	})
	if s.archiver != nil && s.archiver.Enabled() {
		s.archiver.OffloadAsync(archived)
	}
	return nil
}

// StartServer brings a stopped server online through the Starting state.
func (s *ServerService) StartServer(ctx context.Context, callerEmail, uniqueID string) (*models.Server, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}
	server, err := s.servers.FindByUniqueID(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(user, server); err != nil {
		return nil, err
	}
	switch server.Status {
	case models.StatusReady:
	case models.StatusOnline:
		return nil, models.NewConflictError("server is already online")
	default:
		return nil, models.NewConflictError(fmt.Sprintf("server is %s", server.Status))
	}

	if err := s.start(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

// StopServer takes a running server offline through the Stopping state.
func (s *ServerService) StopServer(ctx context.Context, callerEmail, uniqueID string) (*models.Server, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}
	server, err := s.servers.FindByUniqueID(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(user, server); err != nil {
		return nil, err
	}
	switch server.Status {
	case models.StatusOnline:
	case models.StatusReady:
		return nil, models.NewConflictError("server is not running")
	default:
		return nil, models.NewConflictError(fmt.Sprintf("server is %s", server.Status))
	}

	if err := s.stop(ctx, server); err != nil {
		return nil, err
	}
	return server, nil
}

func (s *ServerService) start(ctx context.Context, server *models.Server) error {
	if server.Status != models.StatusStarting {
		if err := s.servers.UpdateStatus(ctx, server.UniqueID, models.StatusStarting); err != nil {
			return err
		}
		server.Status = models.StatusStarting
	}

	if err := s.deployStack(ctx, server); err != nil {
		monitoring.RecordServerOperation("start", "error")
		if uerr := s.servers.UpdateStatus(ctx, server.UniqueID, models.StatusReady); uerr != nil {
			logger.Error("Failed to revert status after start failure", uerr, map[string]interface{}{
				"server": server.UniqueID,
			})
		}
		server.Status = models.StatusReady
		return err
	}

	server.IsOnline = true
	server.Status = models.StatusOnline
	if err := s.servers.Update(ctx, server); err != nil {
		return err
	}
	monitoring.RecordServerOperation("start", "success")
	events.PublishServerStarted(server.UniqueID, server.Email)
	logger.Info("Server started", map[string]interface{}{
		"server": server.UniqueID, "name": server.ServerName,
	})
	return nil
}

func (s *ServerService) stop(ctx context.Context, server *models.Server) error {
	if server.Status != models.StatusStopping {
		if err := s.servers.UpdateStatus(ctx, server.UniqueID, models.StatusStopping); err != nil {
			return err
		}
		server.Status = models.StatusStopping
	}

	if err := s.stopStack(ctx, server); err != nil {
		monitoring.RecordServerOperation("stop", "error")
		if uerr := s.servers.UpdateStatus(ctx, server.UniqueID, models.StatusOnline); uerr != nil {
			logger.Error("Failed to revert status after stop failure", uerr, map[string]interface{}{
				"server": server.UniqueID,
			})
		}
		server.Status = models.StatusOnline
		return err
	}

	server.IsOnline = false
	server.Status = models.StatusReady
	if err := s.servers.Update(ctx, server); err != nil {
		return err
	}
	monitoring.RecordServerOperation("stop", "success")
	events.PublishServerStopped(server.UniqueID, server.Email)
	logger.Info("Server stopped", map[string]interface{}{
		"server": server.UniqueID, "name": server.ServerName,
	})
	return nil
}

// stopStack stops the server's stack, falling back to the bare
// container when no stack carries the name. Nothing running counts as
// stopped.
func (s *ServerService) stopStack(ctx context.Context, server *models.Server) error {
	name := server.ContainerName()
	stack, err := s.engine.GetStackByName(ctx, name)
	if err != nil {
		return err
	}
	if stack != nil {
		if !stack.Active() {
			return nil
		}
		if err := s.engine.StopStack(ctx, stack.ID, s.cfg.PortainerEnvID); err != nil && !portainer.IsNotFound(err) {
			return err
		}
		return nil
	}
	container, err := s.engine.GetContainer(ctx, name, s.cfg.PortainerEnvID)
	if err != nil {
		return err
	}
	if container == nil || !container.Running() {
		return nil
	}
	if err := s.engine.StopContainer(ctx, container.ID, s.cfg.PortainerEnvID); err != nil && !portainer.IsNotFound(err) {
		return err
	}
	return nil
}

// RedeployServer re-creates the stack of a server whose container
// vanished from the engine. The fleet reconciler calls this during its
// sync-servers phase.
func (s *ServerService) RedeployServer(ctx context.Context, server *models.Server) error {
	if err := s.deployStack(ctx, server); err != nil {
		monitoring.RecordServerOperation("redeploy", "error")
		return err
	}
	monitoring.RecordServerOperation("redeploy", "success")
	logger.Info("Server stack redeployed", map[string]interface{}{
		"server": server.UniqueID, "name": server.ServerName,
	})
	return nil
}

// GetServer returns one server after an ownership check.
func (s *ServerService) GetServer(ctx context.Context, callerEmail, uniqueID string) (*models.Server, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}
	server, err := s.servers.FindByUniqueID(ctx, uniqueID)
	if err != nil {
		return nil, err
	}
	if err := s.authorize(user, server); err != nil {
		return nil, err
	}
	return server, nil
}

// ListServers returns the caller's servers; admins see the whole fleet.
func (s *ServerService) ListServers(ctx context.Context, callerEmail string) ([]models.Server, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}
	if user.IsAdmin {
		return s.servers.ListAll(ctx)
	}
	return s.servers.FindByEmail(ctx, user.Email)
}

// CheckSubdomain reports whether the caller could claim a subdomain.
func (s *ServerService) CheckSubdomain(ctx context.Context, callerEmail, subdomain string) (*SubdomainCheck, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return nil, err
	}

	check := &SubdomainCheck{
		IsValid:    models.ValidateSubdomain(subdomain) == nil,
		IsReserved: reservedSubdomains[subdomain],
	}
	if !check.IsValid {
		return check, nil
	}

	taken := false
	if _, err := s.servers.FindBySubdomain(ctx, subdomain); err == nil {
		taken = true
	} else if !errors.Is(err, models.ErrServerNotFound) {
		return nil, err
	}
	check.CanUse = !taken && (!check.IsReserved || user.IsAdmin)
	return check, nil
}

func (s *ServerService) proxyNetworks() []string {
	if s.fleet != nil {
		if networks := s.fleet.ProxyNetworks(); len(networks) > 0 {
			return networks
		}
	}
	return []string{s.cfg.VelocityNetworkName}
}

func (s *ServerService) authorize(user *models.User, server *models.Server) error {
	return authorizeOwner(user, server)
}

// authorizeOwner admits the owning account and admins.
func authorizeOwner(user *models.User, server *models.Server) error {
	if user.IsAdmin || models.NormalizeEmail(user.Email) == models.NormalizeEmail(server.Email) {
		return nil
	}
	return models.NewAuthorizationError("not the owner of this server")
}
