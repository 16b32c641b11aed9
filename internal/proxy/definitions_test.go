package proxy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeDefinitionsYAML(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "proxies.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleDefinitions = `proxies:
  - id: proxy-1
    name: velocity-eu
    external_port: 25500
    config_path: /minecraft/proxies/proxy-1
    network_name: minecraft-net
    memory: 1G
    type: velocity
  - id: proxy-2
    name: waterfall-us
    external_port: 25501
    config_path: /minecraft/proxies/proxy-2
    network_name: minecraft-net
    type: waterfall
    enabled: false
`

func TestDefinitionCacheLoads(t *testing.T) {
	path := writeDefinitionsYAML(t, t.TempDir(), sampleDefinitions)
	cache := NewDefinitionCache(path)

	defs, err := cache.Load()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	assert.Equal(t, "proxy-1", defs[0].ID)
	assert.Equal(t, "velocity-eu", defs[0].Name)
	assert.Equal(t, 25500, defs[0].ExternalPort)
	assert.True(t, defs[0].IsEnabled())
	assert.Equal(t, "mc-proxy-velocity-eu", defs[0].StackName())
	assert.Equal(t, "velocity.toml", defs[0].ConfigFileName())

	assert.False(t, defs[1].IsEnabled())
	assert.Equal(t, "config.yml", defs[1].ConfigFileName())
}

func TestDefinitionCacheReloadsOnMtimeChange(t *testing.T) {
	dir := t.TempDir()
	path := writeDefinitionsYAML(t, dir, sampleDefinitions)
	cache := NewDefinitionCache(path)

	base := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, base, base))

	defs, err := cache.Load()
	require.NoError(t, err)
	require.Len(t, defs, 2)

	// Same mtime: the file content is not re-read.
	single := `proxies:
  - id: proxy-9
    name: velocity-solo
    external_port: 25502
    config_path: /minecraft/proxies/proxy-9
    type: velocity
`
	require.NoError(t, os.WriteFile(path, []byte(single), 0o644))
	require.NoError(t, os.Chtimes(path, base, base))
	defs, err = cache.Load()
	require.NoError(t, err)
	assert.Len(t, defs, 2)

	// Bumped mtime: the new content lands.
	require.NoError(t, os.Chtimes(path, base.Add(time.Minute), base.Add(time.Minute)))
	defs, err = cache.Load()
	require.NoError(t, err)
	require.Len(t, defs, 1)
	assert.Equal(t, "proxy-9", defs[0].ID)
}

func TestDefinitionCacheMissingFileIsEmptyFleet(t *testing.T) {
	cache := NewDefinitionCache(filepath.Join(t.TempDir(), "absent.yml"))
	defs, err := cache.Load()
	require.NoError(t, err)
	assert.Empty(t, defs)
}

func TestDefinitionCacheRejectsDuplicateIDs(t *testing.T) {
	content := `proxies:
  - id: proxy-1
    name: a
    external_port: 25500
    config_path: /p/a
    type: velocity
  - id: proxy-1
    name: b
    external_port: 25501
    config_path: /p/b
    type: velocity
`
	cache := NewDefinitionCache(writeDefinitionsYAML(t, t.TempDir(), content))
	_, err := cache.Load()
	assert.ErrorContains(t, err, "duplicate")
}

func TestDefinitionCacheRejectsInvalidDefinition(t *testing.T) {
	content := `proxies:
  - id: proxy-1
    name: a
    external_port: 25500
    config_path: /p/a
    type: spigot
`
	cache := NewDefinitionCache(writeDefinitionsYAML(t, t.TempDir(), content))
	_, err := cache.Load()
	assert.ErrorContains(t, err, "unsupported proxy type")
}
