package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockgate/hosting/internal/models"
)

const sampleBungeeConfig = `listeners:
  - host: 0.0.0.0:25565
    motd: '&1BlockGate'
    max_players: 500
    priorities:
      - lobby
    forced_hosts:
      hub.example.com:
        - lobby
    query_enabled: false
servers:
  lobby:
    motd: Lobby
    address: mc-aaaa1111:25565
    restricted: false
online_mode: true
ip_forward: true
prevent_proxy_connections: false
timeout: 30000
connection_throttle: 4000
groups: {}
`

func TestParseBungeeConfig(t *testing.T) {
	cfg, err := ParseBungeeConfig([]byte(sampleBungeeConfig))
	require.NoError(t, err)

	require.Len(t, cfg.Listeners, 1)
	l := cfg.Listeners[0]
	assert.Equal(t, "0.0.0.0:25565", l.Host)
	assert.Equal(t, 500, l.MaxPlayers)
	assert.Equal(t, []string{"lobby"}, l.Priorities)
	assert.Equal(t, []string{"lobby"}, l.ForcedHosts["hub.example.com"])
	assert.Equal(t, false, l.Extra["query_enabled"], "unknown listener keys survive")

	assert.Equal(t, "mc-aaaa1111:25565", cfg.Servers["lobby"].Address)
	assert.True(t, cfg.OnlineMode)
	assert.True(t, cfg.IPForward)
	assert.Equal(t, 30000, cfg.Timeout)
	assert.Contains(t, cfg.Extra, "groups", "unknown top-level keys survive")
}

func TestBungeeRoundTripIsByteStable(t *testing.T) {
	cfg, err := ParseBungeeConfig([]byte(sampleBungeeConfig))
	require.NoError(t, err)

	once, err := cfg.Marshal()
	require.NoError(t, err)

	reparsed, err := ParseBungeeConfig(once)
	require.NoError(t, err)
	twice, err := reparsed.Marshal()
	require.NoError(t, err)

	assert.Equal(t, string(once), string(twice))
}

func TestBungeeRegisterAndDeregister(t *testing.T) {
	cfg, err := ParseBungeeConfig([]byte(sampleBungeeConfig))
	require.NoError(t, err)

	cfg.RegisterServer("survival", "mc-bbbb2222:25565")
	cfg.AddForcedHost("s.example.com", "survival")
	cfg.RegisterServer("survival", "mc-bbbb2222:25565")

	assert.Equal(t, "mc-bbbb2222:25565", cfg.Servers["survival"].Address)
	assert.Equal(t, []string{"lobby", "survival"}, cfg.Listeners[0].Priorities)
	assert.Equal(t, []string{"survival"}, cfg.Listeners[0].ForcedHosts["s.example.com"])

	cfg.DeregisterServer("survival")

	assert.False(t, cfg.HasServer("survival"))
	assert.Equal(t, []string{"lobby"}, cfg.Listeners[0].Priorities)
	assert.NotContains(t, cfg.Listeners[0].ForcedHosts, "s.example.com")
	assert.Equal(t, []string{"lobby"}, cfg.Listeners[0].ForcedHosts["hub.example.com"])
}

func TestNewBungeeConfigWaterfall(t *testing.T) {
	cfg := NewBungeeConfig(models.ProxyTypeWaterfall)
	require.NotNil(t, cfg.ModernForwarding)
	assert.True(t, *cfg.ModernForwarding)
	assert.Equal(t, "forwarding.secret", cfg.ForwardingSecretFile)
	assert.True(t, cfg.IPForward)

	plain := NewBungeeConfig(models.ProxyTypeBungeeCord)
	assert.Nil(t, plain.ModernForwarding)
	assert.Empty(t, plain.ForwardingSecretFile)
}

func TestBungeeConfigInterfaceViews(t *testing.T) {
	cfg := NewBungeeConfig(models.ProxyTypeBungeeCord)
	cfg.RegisterServer("alpha", "mc-aa:25565")
	cfg.RegisterServer("beta", "mc-bb:25565")
	cfg.AddForcedHost("a.example.com", "alpha")

	assert.Equal(t, map[string]string{
		"alpha": "mc-aa:25565",
		"beta":  "mc-bb:25565",
	}, cfg.Backends())
	assert.Equal(t, []string{"alpha", "beta"}, cfg.FallbackOrder())
	assert.Equal(t, []string{"alpha"}, cfg.HostMappings()["a.example.com"])
}
