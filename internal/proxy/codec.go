package proxy

import (
	"sort"

	"github.com/blockgate/hosting/internal/models"
)

// ProxyConfig is the common surface of the two configuration dialects.
// The codec only encodes and decodes; which servers belong in a config is
// the reconciler's decision.
type ProxyConfig interface {
	RegisterServer(name, address string)
	AddForcedHost(host, name string)
	DeregisterServer(name string)
	HasServer(name string) bool
	Backends() map[string]string
	FallbackOrder() []string
	HostMappings() map[string][]string
	Marshal() ([]byte, error)
}

// NewConfig returns an empty default configuration for a proxy type.
func NewConfig(proxyType models.ProxyType) ProxyConfig {
	if proxyType == models.ProxyTypeVelocity {
		return NewVelocityConfig()
	}
	return NewBungeeConfig(proxyType)
}

// ParseConfig decodes the on-disk configuration of a proxy type.
func ParseConfig(proxyType models.ProxyType, data []byte) (ProxyConfig, error) {
	if proxyType == models.ProxyTypeVelocity {
		return ParseVelocityConfig(data)
	}
	return ParseBungeeConfig(data)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
