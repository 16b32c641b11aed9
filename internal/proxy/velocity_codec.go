package proxy

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// VelocityConfig models the parts of velocity.toml the control plane
// manages, plus catch-all maps so everything else survives a rewrite
// byte-for-byte in value terms.
type VelocityConfig struct {
	ConfigVersion            string
	Bind                     string
	Motd                     string
	ShowMaxPlayers           int
	OnlineMode               bool
	PlayerInfoForwardingMode string
	ForwardingSecretFile     string

	// Servers maps back-end name to "host:port". Overrides holds the
	// name-<property> entries of [servers] keyed by back-end name. Try is
	// the fallback order; it lives inside [servers] in the file.
	Servers     map[string]string
	Overrides   map[string]map[string]string
	Try         []string
	ForcedHosts map[string][]string

	// Unparsed remainders, re-emitted on write.
	Unknown        map[string]interface{}
	UnknownTables  map[string]map[string]interface{}
	UnknownServers map[string]interface{}
}

// Per-server override properties recognized inside [servers], longest
// suffix first so splitOverrideKey never matches a shorter property
// embedded in a longer one.
var velocityOverrideProps = []string{
	"player-info-forwarding-mode",
	"forwarding-secret",
	"restricted",
}

func emptyVelocityConfig() *VelocityConfig {
	return &VelocityConfig{
		Servers:        map[string]string{},
		Overrides:      map[string]map[string]string{},
		Try:            []string{},
		ForcedHosts:    map[string][]string{},
		Unknown:        map[string]interface{}{},
		UnknownTables:  map[string]map[string]interface{}{},
		UnknownServers: map[string]interface{}{},
	}
}

// NewVelocityConfig returns the defaults a freshly synthesized proxy
// config starts from: modern forwarding, secret on file, no back-ends.
func NewVelocityConfig() *VelocityConfig {
	cfg := emptyVelocityConfig()
	cfg.ConfigVersion = "2.7"
	cfg.Bind = "0.0.0.0:25565"
	cfg.Motd = "A BlockGate Network"
	cfg.ShowMaxPlayers = 500
	cfg.OnlineMode = true
	cfg.PlayerInfoForwardingMode = "modern"
	cfg.ForwardingSecretFile = "forwarding.secret"
	return cfg
}

// ParseVelocityConfig lifts a velocity.toml into the structured model.
// Keys the model does not cover land in the Unknown maps and are emitted
// back verbatim on Marshal.
func ParseVelocityConfig(data []byte) (*VelocityConfig, error) {
	raw := map[string]interface{}{}
	if err := toml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse velocity config: %w", err)
	}

	cfg := emptyVelocityConfig()
	for key, value := range raw {
		switch key {
		case "config-version":
			cfg.ConfigVersion, _ = value.(string)
		case "bind":
			cfg.Bind, _ = value.(string)
		case "motd":
			cfg.Motd, _ = value.(string)
		case "show-max-players":
			cfg.ShowMaxPlayers = toInt(value)
		case "online-mode":
			cfg.OnlineMode, _ = value.(bool)
		case "player-info-forwarding-mode":
			cfg.PlayerInfoForwardingMode, _ = value.(string)
		case "forwarding-secret-file":
			cfg.ForwardingSecretFile, _ = value.(string)
		case "servers":
			if table, ok := value.(map[string]interface{}); ok {
				cfg.parseServersTable(table)
			}
		case "forced-hosts":
			if table, ok := value.(map[string]interface{}); ok {
				for domain, names := range table {
					cfg.ForcedHosts[domain] = toStringSlice(names)
				}
			}
		default:
			if table, ok := value.(map[string]interface{}); ok {
				cfg.UnknownTables[key] = table
			} else {
				cfg.Unknown[key] = value
			}
		}
	}
	return cfg, nil
}

// parseServersTable classifies the entries of [servers]. Addresses are
// collected first so that override keys can be resolved against the
// registered names; a key whose prefix matches no registered name is
// itself a back-end whose name contains a property suffix.
func (c *VelocityConfig) parseServersTable(table map[string]interface{}) {
	for key, value := range table {
		if key == "try" {
			c.Try = toStringSlice(value)
			continue
		}
		if _, _, ok := splitOverrideKey(key); ok {
			continue
		}
		if addr, ok := value.(string); ok {
			c.Servers[key] = addr
		} else {
			c.UnknownServers[key] = value
		}
	}

	for key, value := range table {
		if key == "try" {
			continue
		}
		name, prop, ok := splitOverrideKey(key)
		if !ok {
			continue
		}
		if _, registered := c.Servers[name]; registered && overrideValueOK(prop, value) {
			if c.Overrides[name] == nil {
				c.Overrides[name] = map[string]string{}
			}
			c.Overrides[name][prop] = overrideValueString(prop, value)
			continue
		}
		if addr, isString := value.(string); isString {
			c.Servers[key] = addr
		} else {
			c.UnknownServers[key] = value
		}
	}
}

// Marshal emits the config in the canonical order: top-level scalars,
// unknown scalars, [servers] with addresses before overrides before try,
// [forced-hosts], then unknown tables.
func (c *VelocityConfig) Marshal() ([]byte, error) {
	var b strings.Builder

	if c.ConfigVersion != "" {
		fmt.Fprintf(&b, "config-version = %s\n", tomlQuote(c.ConfigVersion))
	}
	if c.Bind != "" {
		fmt.Fprintf(&b, "bind = %s\n", tomlQuote(c.Bind))
	}
	if c.Motd != "" {
		fmt.Fprintf(&b, "motd = %s\n", tomlQuote(c.Motd))
	}
	if c.ShowMaxPlayers > 0 {
		fmt.Fprintf(&b, "show-max-players = %d\n", c.ShowMaxPlayers)
	}
	fmt.Fprintf(&b, "online-mode = %t\n", c.OnlineMode)
	if c.PlayerInfoForwardingMode != "" {
		fmt.Fprintf(&b, "player-info-forwarding-mode = %s\n", tomlQuote(c.PlayerInfoForwardingMode))
	}
	if c.ForwardingSecretFile != "" {
		fmt.Fprintf(&b, "forwarding-secret-file = %s\n", tomlQuote(c.ForwardingSecretFile))
	}
	for _, key := range sortedKeys(c.Unknown) {
		fmt.Fprintf(&b, "%s = %s\n", tomlKey(key), tomlValue(c.Unknown[key]))
	}

	b.WriteString("\n[servers]\n")
	for _, name := range sortedKeys(c.Servers) {
		fmt.Fprintf(&b, "%s = %s\n", tomlKey(name), tomlQuote(c.Servers[name]))
	}
	for _, name := range sortedKeys(c.Overrides) {
		for _, prop := range sortedKeys(c.Overrides[name]) {
			value := c.Overrides[name][prop]
			if prop == "restricted" {
				fmt.Fprintf(&b, "%s = %s\n", tomlKey(name+"-"+prop), value)
			} else {
				fmt.Fprintf(&b, "%s = %s\n", tomlKey(name+"-"+prop), tomlQuote(value))
			}
		}
	}
	for _, key := range sortedKeys(c.UnknownServers) {
		fmt.Fprintf(&b, "%s = %s\n", tomlKey(key), tomlValue(c.UnknownServers[key]))
	}
	fmt.Fprintf(&b, "try = %s\n", tomlStringArray(c.Try))

	b.WriteString("\n[forced-hosts]\n")
	for _, domain := range sortedKeys(c.ForcedHosts) {
		fmt.Fprintf(&b, "%s = %s\n", tomlQuote(domain), tomlStringArray(c.ForcedHosts[domain]))
	}

	for _, table := range sortedKeys(c.UnknownTables) {
		fmt.Fprintf(&b, "\n[%s]\n", tomlKey(table))
		for _, key := range sortedKeys(c.UnknownTables[table]) {
			fmt.Fprintf(&b, "%s = %s\n", tomlKey(key), tomlValue(c.UnknownTables[table][key]))
		}
	}

	return []byte(b.String()), nil
}

// RegisterServer adds or updates a back-end address and keeps the try
// list in step. Calling it again with the same arguments changes nothing.
func (c *VelocityConfig) RegisterServer(name, address string) {
	c.Servers[name] = address
	if !containsString(c.Try, name) {
		c.Try = append(c.Try, name)
	}
}

// AddForcedHost maps a hostname onto a back-end name.
func (c *VelocityConfig) AddForcedHost(host, name string) {
	if !containsString(c.ForcedHosts[host], name) {
		c.ForcedHosts[host] = append(c.ForcedHosts[host], name)
	}
}

// DeregisterServer removes every trace of a back-end: its address, its
// overrides, its try membership and all forced-host mentions. Hosts whose
// list empties out are pruned entirely.
func (c *VelocityConfig) DeregisterServer(name string) {
	delete(c.Servers, name)
	delete(c.Overrides, name)
	c.Try = removeString(c.Try, name)
	for host, names := range c.ForcedHosts {
		pruned := removeString(names, name)
		if len(pruned) == 0 {
			delete(c.ForcedHosts, host)
		} else {
			c.ForcedHosts[host] = pruned
		}
	}
}

func (c *VelocityConfig) HasServer(name string) bool {
	_, ok := c.Servers[name]
	return ok
}

func (c *VelocityConfig) Backends() map[string]string { return c.Servers }

func (c *VelocityConfig) FallbackOrder() []string { return c.Try }

func (c *VelocityConfig) HostMappings() map[string][]string { return c.ForcedHosts }

func splitOverrideKey(key string) (name, prop string, ok bool) {
	for _, p := range velocityOverrideProps {
		if strings.HasSuffix(key, "-"+p) && len(key) > len(p)+1 {
			return key[:len(key)-len(p)-1], p, true
		}
	}
	return "", "", false
}

func overrideValueOK(prop string, value interface{}) bool {
	if prop == "restricted" {
		_, ok := value.(bool)
		return ok
	}
	_, ok := value.(string)
	return ok
}

func overrideValueString(prop string, value interface{}) string {
	if prop == "restricted" {
		return strconv.FormatBool(value.(bool))
	}
	return value.(string)
}

var bareTomlKey = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func tomlKey(key string) string {
	if bareTomlKey.MatchString(key) {
		return key
	}
	return tomlQuote(key)
}

func tomlQuote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\t':
			b.WriteString(`\t`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func tomlStringArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = tomlQuote(v)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}

func tomlValue(value interface{}) string {
	switch v := value.(type) {
	case string:
		return tomlQuote(v)
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		s := strconv.FormatFloat(v, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eE") {
			s += ".0"
		}
		return s
	case []interface{}:
		parts := make([]string, len(v))
		for i, item := range v {
			parts[i] = tomlValue(item)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		parts := make([]string, 0, len(v))
		for _, key := range sortedKeys(v) {
			parts = append(parts, fmt.Sprintf("%s = %s", tomlKey(key), tomlValue(v[key])))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt(value interface{}) int {
	switch v := value.(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}

func toStringSlice(value interface{}) []string {
	switch v := value.(type) {
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		return []string{v}
	}
	return nil
}
