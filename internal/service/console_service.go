package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/internal/portainer"
	"github.com/blockgate/hosting/pkg/config"
	"github.com/blockgate/hosting/pkg/logger"
)

// CommandRunner is the slice of the engine gateway used for in-container
// command dispatch.
type CommandRunner interface {
	GetContainer(ctx context.Context, identifier string, environmentID int) (*portainer.Container, error)
	Exec(ctx context.Context, containerID string, cmd []string, environmentID int) (*portainer.ExecResult, error)
}

// RconDialer sends a command over the out-of-band RCON channel.
type RconDialer interface {
	Execute(host string, port int, password, command string) (string, error)
}

// ConsoleService dispatches admin commands into running game servers.
// When RCON_HOST is set and the server publishes an RCON port, commands
// go over the RCON protocol directly; otherwise they run through the
// engine as `rcon-cli` inside the container, which the game image ships.
type ConsoleService struct {
	servers ServerStore
	users   UserStore
	engine  CommandRunner
	rcon    RconDialer
	cfg     *config.Config
}

func NewConsoleService(servers ServerStore, users UserStore, engine CommandRunner, rcon RconDialer, cfg *config.Config) *ConsoleService {
	return &ConsoleService{
		servers: servers,
		users:   users,
		engine:  engine,
		rcon:    rcon,
		cfg:     cfg,
	}
}

// ExecuteCommand runs one command on a server's console and returns its
// response.
func (s *ConsoleService) ExecuteCommand(ctx context.Context, callerEmail, uniqueID, command string) (string, error) {
	user, err := s.users.FindByEmail(ctx, callerEmail)
	if err != nil {
		return "", err
	}
	server, err := s.servers.FindByUniqueID(ctx, uniqueID)
	if err != nil {
		return "", err
	}
	if err := authorizeOwner(user, server); err != nil {
		return "", err
	}
	if !server.IsOnline {
		return "", models.NewConflictError("server is not running")
	}

	if s.directRconAvailable(server) {
		response, err := s.rcon.Execute(s.cfg.RconHost, server.ServerConfig.RconPort, s.cfg.RconPassword, command)
		if err != nil {
			return "", models.NewExternalError("rcon dispatch", err)
		}
		logger.Debug("Command dispatched over RCON", map[string]interface{}{
			"server": server.UniqueID, "command": command,
		})
		return response, nil
	}
	return s.execInContainer(ctx, server, command)
}

func (s *ConsoleService) directRconAvailable(server *models.Server) bool {
	return s.rcon != nil && s.cfg.RconHost != "" && s.cfg.RconPassword != "" && server.ServerConfig.RconPort > 0
}

func (s *ConsoleService) execInContainer(ctx context.Context, server *models.Server, command string) (string, error) {
	container, err := s.engine.GetContainer(ctx, server.ContainerName(), s.cfg.PortainerEnvID)
	if err != nil {
		return "", err
	}
	if container == nil {
		return "", models.NewInconsistentError(fmt.Sprintf("server %s has no container", server.UniqueID))
	}

	result, err := s.engine.Exec(ctx, container.ID, []string{"rcon-cli", command}, s.cfg.PortainerEnvID)
	if err != nil {
		return "", models.NewExternalError("exec rcon-cli", err)
	}
	if result.ExitCode != 0 {
		return "", models.NewExternalError("exec rcon-cli",
			fmt.Errorf("exit code %d: %s", result.ExitCode, strings.TrimSpace(result.Stderr)))
	}
	logger.Debug("Command dispatched through engine exec", map[string]interface{}{
		"server": server.UniqueID, "command": command,
	})
	return strings.TrimSpace(result.Stdout), nil
}
