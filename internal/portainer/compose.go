package portainer

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/blockgate/hosting/internal/models"
)

// Container images the stacks deploy.
const (
	MinecraftServerImage = "itzg/minecraft-server:latest"
	ProxyImage           = "itzg/bungeecord:latest"
)

type composeFile struct {
	Version  string                    `yaml:"version"`
	Services map[string]composeService `yaml:"services"`
	Networks map[string]composeNetwork `yaml:"networks,omitempty"`
}

type composeService struct {
	Image         string            `yaml:"image"`
	ContainerName string            `yaml:"container_name,omitempty"`
	Restart       string            `yaml:"restart,omitempty"`
	Environment   map[string]string `yaml:"environment,omitempty"`
	Ports         []string          `yaml:"ports,omitempty"`
	Volumes       []string          `yaml:"volumes,omitempty"`
	Networks      []string          `yaml:"networks,omitempty"`
	MemLimit      string            `yaml:"mem_limit,omitempty"`
}

type composeNetwork struct {
	External bool `yaml:"external"`
}

// BuildServerCompose synthesizes the compose text for one game server: a
// single service named after the container, attached to every proxy
// network, with the server data directory bound to /data.
func BuildServerCompose(server *models.Server, dataDirHostPath, rconPassword string, networks []string) (string, error) {
	cfg := server.ServerConfig

	env := map[string]string{
		"EULA":    "TRUE",
		"TYPE":    string(cfg.ServerType),
		"VERSION": cfg.Version,
		"MEMORY":  fmt.Sprintf("%dM", cfg.MemoryMB),
		"MOTD":    cfg.Motd,
	}

	// Behind a forwarding proxy the back-end must not re-authenticate.
	if cfg.PlayerInfoForwardingMode == models.ForwardingNone || cfg.PlayerInfoForwardingMode == "" {
		env["ONLINE_MODE"] = "TRUE"
	} else {
		env["ONLINE_MODE"] = "FALSE"
	}

	switch cfg.ServerType {
	case models.ServerTypeForge:
		if cfg.LoaderVersion != "" {
			env["FORGE_VERSION"] = cfg.LoaderVersion
		}
	case models.ServerTypeNeoForge:
		if cfg.LoaderVersion != "" {
			env["NEOFORGE_VERSION"] = cfg.LoaderVersion
		}
	case models.ServerTypeFabric:
		if cfg.FabricLauncherVersion != "" {
			env["FABRIC_LAUNCHER_VERSION"] = cfg.FabricLauncherVersion
		}
	}

	ports := []string{fmt.Sprintf("%d:25565", cfg.Port)}
	if cfg.RconPort > 0 {
		env["ENABLE_RCON"] = "true"
		env["RCON_PORT"] = "25575"
		if rconPassword != "" {
			env["RCON_PASSWORD"] = rconPassword
		}
		ports = append(ports, fmt.Sprintf("%d:25575", cfg.RconPort))
	}

	name := server.ContainerName()
	file := composeFile{
		Version: "3.8",
		Services: map[string]composeService{
			name: {
				Image:         MinecraftServerImage,
				ContainerName: name,
				Restart:       "unless-stopped",
				Environment:   env,
				Ports:         ports,
				Volumes:       []string{dataDirHostPath + ":/data"},
				Networks:      networks,
				// JVM native memory, threads and GC need headroom
				// beyond the heap.
				MemLimit: fmt.Sprintf("%dm", cfg.MemoryMB*5/4),
			},
		},
		Networks: externalNetworks(networks),
	}

	return marshalCompose(file)
}

// BuildProxyCompose synthesizes the compose text for one proxy of the
// fleet. The proxy type rides the image's TYPE switch; the config
// directory is bound over the server directory.
func BuildProxyCompose(def *models.ProxyDefinition, configDirHostPath string) (string, error) {
	env := map[string]string{
		"TYPE": strings.ToUpper(string(def.Type)),
	}
	if def.Memory != "" {
		env["MEMORY"] = def.Memory
	}

	service := composeService{
		Image:         ProxyImage,
		ContainerName: def.Name,
		Restart:       "unless-stopped",
		Environment:   env,
		Ports:         []string{fmt.Sprintf("%d:25565", def.ExternalPort)},
		Volumes:       []string{configDirHostPath + ":/server"},
		Networks:      []string{def.NetworkName},
	}
	if def.Memory != "" {
		service.MemLimit = strings.ToLower(def.Memory)
	}

	file := composeFile{
		Version: "3.8",
		Services: map[string]composeService{
			def.Name: service,
		},
		Networks: externalNetworks([]string{def.NetworkName}),
	}

	return marshalCompose(file)
}

func externalNetworks(names []string) map[string]composeNetwork {
	if len(names) == 0 {
		return nil
	}
	out := make(map[string]composeNetwork, len(names))
	for _, n := range names {
		out[n] = composeNetwork{External: true}
	}
	return out
}

func marshalCompose(file composeFile) (string, error) {
	data, err := yaml.Marshal(file)
	if err != nil {
		return "", fmt.Errorf("failed to marshal compose file: %w", err)
	}
	return string(data), nil
}
