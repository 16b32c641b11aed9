package models

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// ServerType represents the type of Minecraft server
type ServerType string

const (
	ServerTypePaper    ServerType = "PAPER"
	ServerTypePurpur   ServerType = "PURPUR"
	ServerTypeNeoForge ServerType = "NEOFORGE"
	ServerTypeForge    ServerType = "FORGE"
	ServerTypeFabric   ServerType = "FABRIC"
)

// ValidServerType reports whether t is one of the supported types.
func ValidServerType(t ServerType) bool {
	switch t {
	case ServerTypePaper, ServerTypePurpur, ServerTypeNeoForge, ServerTypeForge, ServerTypeFabric:
		return true
	}
	return false
}

// ForwardingMode is how player identity is propagated from proxy to back-end.
type ForwardingMode string

const (
	ForwardingNone   ForwardingMode = "none"
	ForwardingLegacy ForwardingMode = "legacy"
	ForwardingModern ForwardingMode = "modern"
)

// ServerStatus represents the current status of a server. Creating,
// Starting, Stopping and Deleting are transient and persisted so an
// interrupted operation can be resumed after a restart.
type ServerStatus string

const (
	StatusCreating ServerStatus = "creating"
	StatusReady    ServerStatus = "ready"
	StatusStarting ServerStatus = "starting"
	StatusOnline   ServerStatus = "online"
	StatusStopping ServerStatus = "stopping"
	StatusDeleting ServerStatus = "deleting"
)

// Transient reports whether the status marks an operation in flight.
func (s ServerStatus) Transient() bool {
	switch s {
	case StatusCreating, StatusStarting, StatusStopping, StatusDeleting:
		return true
	}
	return false
}

// ServerConfig is the per-server configuration document. The type-specific
// fields are only meaningful for their server type.
type ServerConfig struct {
	ServerType               ServerType     `bson:"server_type" json:"server-type"`
	Version                  string         `bson:"version" json:"version"`
	Port                     int            `bson:"port" json:"port"`
	RconPort                 int            `bson:"rcon_port,omitempty" json:"rcon-port,omitempty"`
	MemoryMB                 int            `bson:"memory_mb" json:"memory-mb"`
	Motd                     string         `bson:"motd" json:"motd"`
	PlayerInfoForwardingMode ForwardingMode `bson:"player_info_forwarding_mode" json:"player-info-forwarding-mode"`
	ForwardingSecret         string         `bson:"forwarding_secret,omitempty" json:"forwarding-secret,omitempty"`

	// PAPER / PURPUR
	PaperWorldSettings map[string]interface{} `bson:"paper_world_settings,omitempty" json:"paper-world-settings,omitempty"`

	// FORGE / NEOFORGE
	LoaderVersion string `bson:"loader_version,omitempty" json:"loader-version,omitempty"`

	// FABRIC
	FabricLauncherVersion string `bson:"fabric_launcher_version,omitempty" json:"fabric-launcher-version,omitempty"`
}

// Validate checks the variant-level rules of a server config.
func (c *ServerConfig) Validate() error {
	if !ValidServerType(c.ServerType) {
		return fmt.Errorf("unsupported server type %q", c.ServerType)
	}
	if c.Version == "" {
		return errors.New("version is required")
	}
	if c.MemoryMB < 512 {
		return fmt.Errorf("memory %d MB below minimum 512", c.MemoryMB)
	}
	switch c.PlayerInfoForwardingMode {
	case "", ForwardingNone, ForwardingLegacy:
	case ForwardingModern:
		if c.ForwardingSecret == "" {
			return errors.New("modern forwarding requires a forwarding secret")
		}
	default:
		return fmt.Errorf("unsupported forwarding mode %q", c.PlayerInfoForwardingMode)
	}
	return nil
}

// Server represents one hosted game server. The database row is the source
// of truth; the container stack and proxy entries are derived from it.
type Server struct {
	ID            string       `bson:"_id,omitempty" json:"id"`
	UniqueID      string       `bson:"unique_id" json:"unique-id"`
	Email         string       `bson:"email" json:"email"`
	ServerName    string       `bson:"server_name" json:"server-name"`
	SubdomainName string       `bson:"subdomain_name" json:"subdomain-name"`
	FolderPath    string       `bson:"folder_path" json:"folder-path"`
	IsOnline      bool         `bson:"is_online" json:"is-online"`
	Status        ServerStatus `bson:"status" json:"status"`
	DNSPending    bool         `bson:"dns_pending" json:"dns-pending"`
	CreatedAt     time.Time    `bson:"created_at" json:"created-at"`
	UpdatedAt     time.Time    `bson:"updated_at" json:"updated-at"`
	ServerConfig  ServerConfig `bson:"server_config" json:"server-config"`
}

// ContainerName is the canonical container and stack name for a server.
func (s *Server) ContainerName() string {
	return ContainerNameFor(s.UniqueID)
}

// ContainerNameFor derives the canonical container name from a unique id.
func ContainerNameFor(uniqueID string) string {
	return "mc-" + uniqueID
}

// BackendAddress is the address proxies use to reach the server on the
// overlay network. Game containers always listen on 25565 internally.
func (s *Server) BackendAddress() string {
	return BackendAddressFor(s.UniqueID)
}

// BackendAddressFor derives the overlay address from a unique id alone.
func BackendAddressFor(uniqueID string) string {
	return fmt.Sprintf("%s:25565", ContainerNameFor(uniqueID))
}

var (
	serverNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,50}$`)
	subdomainPattern  = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)
)

// ValidateServerName checks length and charset of a server name.
func ValidateServerName(name string) error {
	if !serverNamePattern.MatchString(name) {
		return errors.New("server name must be 3-50 characters of letters, digits, underscore or hyphen")
	}
	return nil
}

// ValidateSubdomain checks that s is a well-formed lowercase DNS label.
func ValidateSubdomain(s string) error {
	if !subdomainPattern.MatchString(s) {
		return errors.New("subdomain must be a valid lowercase DNS label")
	}
	return nil
}

// Custom errors
var (
	ErrServerNotFound      = errors.New("server not found")
	ErrServerNameTaken     = errors.New("server name already in use")
	ErrSubdomainTaken      = errors.New("subdomain already in use")
	ErrServerQuotaExceeded = errors.New("server quota exceeded")
)
