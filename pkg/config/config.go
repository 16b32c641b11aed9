package config

import (
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Application
	AppName string
	Debug   bool
	Port    string

	// Logging
	LogLevel string
	LogJSON  bool

	// Database
	MongoDBURI string

	// Authentication
	JWTSecret string

	// Portainer (container engine management API)
	PortainerURL      string
	PortainerAPIKey   string
	PortainerUsername string
	PortainerPassword string
	PortainerEnvID    int

	// WebDAV (shared filesystem)
	WebDAVURL            string
	WebDAVUsername       string
	WebDAVPassword       string
	WebDAVServerBasePath string

	// Minecraft data layout
	MinecraftPath       string // base path for per-server data dirs on the shared FS
	DeleteServerFolders bool   // true: destroy data dirs on delete, false: archive-rename

	// DNS (Porkbun registrar)
	RootDomain       string
	PorkbunAPIKey    string
	PorkbunSecretKey string

	// Proxy fleet
	VelocityConfigPath  string // YAML file declaring the proxy fleet
	VelocityNetworkName string // default overlay network for proxies and servers
	RconPassword        string // shared RCON password injected into game containers
	RconHost            string // host where published RCON ports are reachable; empty disables direct RCON

	// Timeouts & reconciliation
	ExternalTimeoutSeconds   int
	ReconcileIntervalMinutes int

	// Archive offload (cold storage over SFTP, disabled when host empty)
	ArchiveSFTPHost     string
	ArchiveSFTPPort     int
	ArchiveSFTPUser     string
	ArchiveSFTPPassword string
	ArchiveSFTPPath     string

	// InfluxDB (time-series event storage, optional)
	InfluxDBURL    string
	InfluxDBToken  string
	InfluxDBOrg    string
	InfluxDBBucket string
}

var AppConfig *Config

// Load loads configuration from environment
func Load() *Config {
	// Load .env file if exists
	_ = godotenv.Load()

	config := &Config{
		AppName:  getEnv("APP_NAME", "BlockGate"),
		Debug:    getEnvBool("DEBUG", false),
		Port:     getEnv("PORT", "8000"),
		LogLevel: getEnv("LOG_LEVEL", "INFO"),
		LogJSON:  getEnvBool("LOG_JSON", false),

		MongoDBURI: getEnv("MONGODB_URI", "mongodb://localhost:27017/blockgate"),

		JWTSecret: getEnv("JWT_SECRET", "change-me-in-production-please-use-a-random-string"),

		PortainerURL:      getEnv("PORTAINER_URL", ""),
		PortainerAPIKey:   getEnv("PORTAINER_API_KEY", ""),
		PortainerUsername: getEnv("PORTAINER_USERNAME", ""),
		PortainerPassword: getEnv("PORTAINER_PASSWORD", ""),
		PortainerEnvID:    getEnvInt("PORTAINER_ENV_ID", 0),

		WebDAVURL:            getEnv("WEBDAV_URL", ""),
		WebDAVUsername:       getEnv("WEBDAV_USERNAME", ""),
		WebDAVPassword:       getEnv("WEBDAV_PASSWORD", ""),
		WebDAVServerBasePath: getEnv("WEBDAV_SERVER_BASE_PATH", "/"),

		MinecraftPath:       getEnv("MINECRAFT_PATH", "/minecraft/servers"),
		DeleteServerFolders: getEnvBool("DELETE_SERVER_FOLDERS", false),

		RootDomain:       getEnv("ROOT_DOMAIN", ""),
		PorkbunAPIKey:    getEnv("PORKBUN_API_KEY", ""),
		PorkbunSecretKey: getEnv("PORKBUN_SECRET_KEY", ""),

		VelocityConfigPath:  getEnv("VELOCITY_CONFIG_PATH", "./proxies.yml"),
		VelocityNetworkName: getEnv("VELOCITY_NETWORK_NAME", "minecraft-net"),
		RconPassword:        getEnv("RCON_PASSWORD", ""),
		RconHost:            getEnv("RCON_HOST", ""),

		ExternalTimeoutSeconds:   getEnvInt("EXTERNAL_TIMEOUT_SECONDS", 10),
		ReconcileIntervalMinutes: getEnvInt("RECONCILE_INTERVAL_MINUTES", 10),

		ArchiveSFTPHost:     getEnv("ARCHIVE_SFTP_HOST", ""),
		ArchiveSFTPPort:     getEnvInt("ARCHIVE_SFTP_PORT", 22),
		ArchiveSFTPUser:     getEnv("ARCHIVE_SFTP_USER", ""),
		ArchiveSFTPPassword: getEnv("ARCHIVE_SFTP_PASSWORD", ""),
		ArchiveSFTPPath:     getEnv("ARCHIVE_SFTP_PATH", "/archives"),

		InfluxDBURL:    getEnv("INFLUXDB_URL", ""),
		InfluxDBToken:  getEnv("INFLUXDB_TOKEN", ""),
		InfluxDBOrg:    getEnv("INFLUXDB_ORG", "blockgate"),
		InfluxDBBucket: getEnv("INFLUXDB_BUCKET", "events"),
	}

	AppConfig = config
	return config
}

// Validate checks that every variable the control plane cannot run without is set.
func (c *Config) Validate() error {
	if c.PortainerURL == "" {
		return fmt.Errorf("PORTAINER_URL is required")
	}
	if c.PortainerAPIKey == "" && (c.PortainerUsername == "" || c.PortainerPassword == "") {
		return fmt.Errorf("either PORTAINER_API_KEY or PORTAINER_USERNAME/PORTAINER_PASSWORD is required")
	}
	if c.WebDAVURL == "" {
		return fmt.Errorf("WEBDAV_URL is required")
	}
	if c.RootDomain == "" {
		return fmt.Errorf("ROOT_DOMAIN is required")
	}
	if c.PorkbunAPIKey == "" || c.PorkbunSecretKey == "" {
		return fmt.Errorf("PORKBUN_API_KEY and PORKBUN_SECRET_KEY are required")
	}
	if c.MongoDBURI == "" {
		return fmt.Errorf("MONGODB_URI is required")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		boolVal, err := strconv.ParseBool(value)
		if err != nil {
			log.Printf("Invalid boolean for %s, using default: %v", key, defaultValue)
			return defaultValue
		}
		return boolVal
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intVal, err := strconv.Atoi(value)
		if err != nil {
			log.Printf("Invalid integer for %s, using default: %d", key, defaultValue)
			return defaultValue
		}
		return intVal
	}
	return defaultValue
}
