package proxy

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/blockgate/hosting/internal/models"
	"github.com/blockgate/hosting/pkg/logger"
)

type definitionsFile struct {
	Proxies []models.ProxyDefinition `yaml:"proxies"`
}

// DefinitionCache loads the proxy fleet definitions from a YAML file and
// keeps the parsed snapshot until the file's mtime moves. A missing file
// is an empty fleet, not an error, so the reconciler keeps running its
// other duties.
type DefinitionCache struct {
	path string

	mu    sync.Mutex
	mtime time.Time
	defs  []models.ProxyDefinition
}

func NewDefinitionCache(path string) *DefinitionCache {
	return &DefinitionCache{path: path}
}

// Load returns the current definitions, re-reading the file only when it
// changed on disk. The returned slice is the caller's to keep.
func (c *DefinitionCache) Load() ([]models.ProxyDefinition, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No proxy definitions file", map[string]interface{}{"path": c.path})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to stat proxy definitions: %w", err)
	}

	if c.defs != nil && info.ModTime().Equal(c.mtime) {
		return c.snapshot(), nil
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read proxy definitions: %w", err)
	}

	var file definitionsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse proxy definitions: %w", err)
	}

	seen := map[string]bool{}
	for i := range file.Proxies {
		def := &file.Proxies[i]
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("invalid proxy definition: %w", err)
		}
		if seen[def.ID] {
			return nil, fmt.Errorf("duplicate proxy definition id %q", def.ID)
		}
		seen[def.ID] = true
	}

	c.defs = file.Proxies
	if c.defs == nil {
		c.defs = []models.ProxyDefinition{}
	}
	c.mtime = info.ModTime()
	logger.Info("Loaded proxy definitions", map[string]interface{}{
		"path": c.path, "count": len(c.defs),
	})
	return c.snapshot(), nil
}

func (c *DefinitionCache) snapshot() []models.ProxyDefinition {
	out := make([]models.ProxyDefinition, len(c.defs))
	copy(out, c.defs)
	return out
}
