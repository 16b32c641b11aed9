package proxy

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/blockgate/hosting/internal/models"
)

// BungeeServer is one back-end entry of a BungeeCord/Waterfall config.
type BungeeServer struct {
	Motd       string `yaml:"motd,omitempty"`
	Address    string `yaml:"address"`
	Restricted bool   `yaml:"restricted"`
}

// BungeeListener is one listener block. The control plane manages the
// priorities and forced_hosts of every listener; everything else rides
// the inline map untouched.
type BungeeListener struct {
	Host        string                 `yaml:"host"`
	Motd        string                 `yaml:"motd,omitempty"`
	MaxPlayers  int                    `yaml:"max_players,omitempty"`
	Priorities  []string               `yaml:"priorities"`
	ForcedHosts map[string][]string    `yaml:"forced_hosts,omitempty"`
	Extra       map[string]interface{} `yaml:",inline"`
}

// BungeeConfig models config.yml for BungeeCord and Waterfall. Waterfall
// additionally understands modern forwarding with a secret file.
type BungeeConfig struct {
	Listeners               []BungeeListener        `yaml:"listeners"`
	Servers                 map[string]BungeeServer `yaml:"servers"`
	OnlineMode              bool                    `yaml:"online_mode"`
	IPForward               bool                    `yaml:"ip_forward"`
	PreventProxyConnections bool                    `yaml:"prevent_proxy_connections"`
	Timeout                 int                     `yaml:"timeout,omitempty"`
	ConnectionThrottle      int                     `yaml:"connection_throttle,omitempty"`
	ModernForwarding        *bool                   `yaml:"modern_forwarding,omitempty"`
	ForwardingSecretFile    string                  `yaml:"forwarding_secret_file,omitempty"`
	Extra                   map[string]interface{}  `yaml:",inline"`
}

// NewBungeeConfig returns the defaults a synthesized config starts from.
// The listener binds the port the compose mapping publishes.
func NewBungeeConfig(proxyType models.ProxyType) *BungeeConfig {
	cfg := &BungeeConfig{
		Listeners: []BungeeListener{{
			Host:        "0.0.0.0:25565",
			MaxPlayers:  500,
			Priorities:  []string{},
			ForcedHosts: map[string][]string{},
		}},
		Servers:            map[string]BungeeServer{},
		OnlineMode:         true,
		IPForward:          true,
		Timeout:            30000,
		ConnectionThrottle: 4000,
	}
	if proxyType == models.ProxyTypeWaterfall {
		modern := true
		cfg.ModernForwarding = &modern
		cfg.ForwardingSecretFile = "forwarding.secret"
	}
	return cfg
}

// ParseBungeeConfig decodes a config.yml. Unknown keys survive in the
// inline maps.
func ParseBungeeConfig(data []byte) (*BungeeConfig, error) {
	cfg := &BungeeConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse bungee config: %w", err)
	}
	if cfg.Servers == nil {
		cfg.Servers = map[string]BungeeServer{}
	}
	if len(cfg.Listeners) == 0 {
		cfg.Listeners = []BungeeListener{{Host: "0.0.0.0:25565", Priorities: []string{}}}
	}
	for i := range cfg.Listeners {
		if cfg.Listeners[i].Priorities == nil {
			cfg.Listeners[i].Priorities = []string{}
		}
	}
	return cfg, nil
}

// Marshal emits the config. Map keys come out sorted, so rewriting an
// unchanged config is byte-stable.
func (c *BungeeConfig) Marshal() ([]byte, error) {
	data, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal bungee config: %w", err)
	}
	return data, nil
}

// RegisterServer adds or updates a back-end and appends it to every
// listener's priorities. Repeated calls change nothing.
func (c *BungeeConfig) RegisterServer(name, address string) {
	entry := c.Servers[name]
	entry.Address = address
	c.Servers[name] = entry
	for i := range c.Listeners {
		if !containsString(c.Listeners[i].Priorities, name) {
			c.Listeners[i].Priorities = append(c.Listeners[i].Priorities, name)
		}
	}
}

// AddForcedHost maps a hostname onto a back-end on every listener.
func (c *BungeeConfig) AddForcedHost(host, name string) {
	for i := range c.Listeners {
		l := &c.Listeners[i]
		if l.ForcedHosts == nil {
			l.ForcedHosts = map[string][]string{}
		}
		if !containsString(l.ForcedHosts[host], name) {
			l.ForcedHosts[host] = append(l.ForcedHosts[host], name)
		}
	}
}

// DeregisterServer removes the back-end, its priority membership and all
// forced-host mentions, pruning hosts whose list empties out.
func (c *BungeeConfig) DeregisterServer(name string) {
	delete(c.Servers, name)
	for i := range c.Listeners {
		l := &c.Listeners[i]
		l.Priorities = removeString(l.Priorities, name)
		for host, names := range l.ForcedHosts {
			pruned := removeString(names, name)
			if len(pruned) == 0 {
				delete(l.ForcedHosts, host)
			} else {
				l.ForcedHosts[host] = pruned
			}
		}
	}
}

func (c *BungeeConfig) HasServer(name string) bool {
	_, ok := c.Servers[name]
	return ok
}

func (c *BungeeConfig) Backends() map[string]string {
	out := make(map[string]string, len(c.Servers))
	for name, entry := range c.Servers {
		out[name] = entry.Address
	}
	return out
}

func (c *BungeeConfig) FallbackOrder() []string {
	if len(c.Listeners) == 0 {
		return nil
	}
	return c.Listeners[0].Priorities
}

func (c *BungeeConfig) HostMappings() map[string][]string {
	if len(c.Listeners) == 0 {
		return nil
	}
	return c.Listeners[0].ForcedHosts
}
