package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/blockgate/hosting/internal/api"
	"github.com/blockgate/hosting/internal/archive"
	"github.com/blockgate/hosting/internal/dns"
	"github.com/blockgate/hosting/internal/events"
	"github.com/blockgate/hosting/internal/monitoring"
	"github.com/blockgate/hosting/internal/portainer"
	"github.com/blockgate/hosting/internal/ports"
	"github.com/blockgate/hosting/internal/proxy"
	"github.com/blockgate/hosting/internal/rcon"
	"github.com/blockgate/hosting/internal/repository"
	"github.com/blockgate/hosting/internal/service"
	"github.com/blockgate/hosting/internal/storage"
	"github.com/blockgate/hosting/internal/webdav"
	"github.com/blockgate/hosting/pkg/config"
	"github.com/blockgate/hosting/pkg/logger"
)

func main() {
	cfg := config.Load()

	appLogger := logger.NewLogger(logger.ParseLevel(cfg.LogLevel), os.Stdout, cfg.LogJSON)
	logger.SetDefault(appLogger)

	logger.Info("Starting control plane", map[string]interface{}{
		"app":   cfg.AppName,
		"debug": cfg.Debug,
		"port":  cfg.Port,
	})

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", err, nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	externalTimeout := time.Duration(cfg.ExternalTimeoutSeconds) * time.Second

	// Document store.
	db, err := repository.Connect(ctx, cfg.MongoDBURI)
	if err != nil {
		logger.Fatal("Failed to connect to MongoDB", err, nil)
	}
	defer db.Close(context.Background())
	logger.Info("MongoDB connected", nil)

	serverRepo := repository.NewServerRepository(db)
	userRepo := repository.NewUserRepository(db)

	// Lifecycle events land in MongoDB always, and in InfluxDB when
	// time-series storage is configured.
	var eventStorage events.EventStorage = events.NewMongoEventStorage(db)
	if cfg.InfluxDBURL != "" && cfg.InfluxDBToken != "" {
		influxClient, err := storage.NewInfluxDBClient(storage.InfluxDBConfig{
			URL:    cfg.InfluxDBURL,
			Token:  cfg.InfluxDBToken,
			Org:    cfg.InfluxDBOrg,
			Bucket: cfg.InfluxDBBucket,
		})
		if err != nil {
			logger.Warn("InfluxDB unavailable, events go to MongoDB only", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			defer influxClient.Close()
			eventStorage = events.NewMultiEventStorage(eventStorage, events.NewInfluxDBEventStorage(influxClient))
			logger.Info("Event storage writing to MongoDB and InfluxDB", map[string]interface{}{
				"bucket": cfg.InfluxDBBucket,
			})
		}
	}
	events.SetEventStorage(eventStorage)

	// Container engine management API.
	engine, err := portainer.NewClient(portainer.Config{
		BaseURL:  cfg.PortainerURL,
		APIKey:   cfg.PortainerAPIKey,
		Username: cfg.PortainerUsername,
		Password: cfg.PortainerPassword,
		Timeout:  externalTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to initialize Portainer client", err, nil)
	}

	environmentID := cfg.PortainerEnvID
	if environmentID == 0 {
		environmentID, err = engine.FirstEnvironmentID(ctx)
		if err != nil {
			logger.Fatal("Failed to resolve Portainer environment", err, nil)
		}
		cfg.PortainerEnvID = environmentID
	}
	logger.Info("Portainer client ready", map[string]interface{}{
		"environment_id": environmentID,
	})

	// Shared filesystem behind WebDAV.
	fs, err := webdav.NewClient(webdav.Config{
		URL:      cfg.WebDAVURL,
		Username: cfg.WebDAVUsername,
		Password: cfg.WebDAVPassword,
		BasePath: cfg.WebDAVServerBasePath,
		Timeout:  externalTimeout,
	})
	if err != nil {
		logger.Fatal("Failed to initialize WebDAV client", err, nil)
	}

	// DNS registrar.
	provisioner := dns.NewProvisioner(dns.NewPorkbunClient(dns.PorkbunConfig{
		APIKey:    cfg.PorkbunAPIKey,
		SecretKey: cfg.PorkbunSecretKey,
		Timeout:   externalTimeout,
	}))

	arbiter := ports.NewArbiter(ports.NewDefaultPolicy(), userRepo, serverRepo, engine)

	reconciler := proxy.NewReconciler(engine, fs, provisioner, serverRepo, proxy.ReconcilerConfig{
		DefinitionsPath: cfg.VelocityConfigPath,
		RootDomain:      cfg.RootDomain,
		NetworkName:     cfg.VelocityNetworkName,
		EnvironmentID:   environmentID,
		Interval:        time.Duration(cfg.ReconcileIntervalMinutes) * time.Minute,
	})

	// Cold storage for archived server data, disabled without a host.
	offloader := archive.NewOffloader(fs, archive.Config{
		Host:     cfg.ArchiveSFTPHost,
		Port:     cfg.ArchiveSFTPPort,
		User:     cfg.ArchiveSFTPUser,
		Password: cfg.ArchiveSFTPPassword,
		BasePath: cfg.ArchiveSFTPPath,
	})
	if offloader.Enabled() {
		logger.Info("Archive offload enabled", map[string]interface{}{
			"host": cfg.ArchiveSFTPHost,
		})
	}

	serverService := service.NewServerService(serverRepo, userRepo, engine, fs, provisioner, arbiter, cfg)
	serverService.SetProxyFleet(reconciler)
	serverService.SetArchiver(offloader)
	reconciler.SetServerDeployer(serverService)

	authService := service.NewAuthService(userRepo, cfg)
	portService := service.NewPortService(arbiter, userRepo, cfg)
	consoleService := service.NewConsoleService(serverRepo, userRepo, engine, rcon.NewClient(), cfg)

	// Finish lifecycles a previous shutdown interrupted before taking
	// new requests.
	if err := serverService.ResumeTransientServers(ctx); err != nil {
		logger.Warn("Resume pass reported failures", map[string]interface{}{
			"error": err.Error(),
		})
	}

	go reconciler.Run(ctx)

	collector := monitoring.NewCollector(serverRepo, reconciler)
	collector.Start(ctx, 30*time.Second)

	router := api.SetupRouter(
		api.NewAuthHandler(authService),
		api.NewServerHandler(serverService),
		api.NewPortHandler(portService),
		api.NewConsoleHandler(consoleService),
		api.NewAdminHandler(reconciler),
		api.NewHealthHandler(
			api.Probe{Name: "mongodb", Check: db.Ping},
			api.Probe{Name: "portainer", Check: func(ctx context.Context) error {
				_, err := engine.ListEnvironments(ctx)
				return err
			}},
		),
		authService,
		cfg,
	)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP shutdown failed", err, nil)
		}
	}()

	logger.Info("Control plane listening", map[string]interface{}{
		"address": srv.Addr,
	})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("HTTP server failed", err, nil)
	}
	logger.Info("Shutdown complete", nil)
}
