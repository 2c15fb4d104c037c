package container

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.ApiService/health"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.ApiService/implementation/ingestion"
	config "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Config"
	hub "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Hub"
	"gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.IngestorService/client"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	metrics "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Metrics"
	implementation "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Implementation"
	interfaces "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Repository/Interfaces"
	retention "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Retention"
)

// ApiContainer manages dependencies and their lifecycle for the API service
type ApiContainer struct {
	config *config.Config
	logger *logger.Logger

	registry *prometheus.Registry
	metrics  *metrics.Metrics

	readingRepo   interfaces.ReadingRepository
	hub           *hub.Hub
	ingestion     *ingestion.Service
	sweeper       *retention.Sweeper
	healthChecker *health.HealthChecker

	// Mutex for thread-safe access
	mu sync.Mutex

	// Cleanup functions, run in reverse order
	cleanupFuncs []func() error
}

// NewApiContainer loads configuration from the environment and creates a container
func NewApiContainer() (*ApiContainer, error) {
	cfg, err := config.LoadApiConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load API configuration: %w", err)
	}

	return NewApiContainerWithConfig(cfg, logger.NewLogger(&cfg.Logging)), nil
}

// NewApiContainerWithConfig creates a container from an explicit configuration
func NewApiContainerWithConfig(cfg *config.Config, log *logger.Logger) *ApiContainer {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &ApiContainer{
		config:   cfg,
		logger:   log,
		registry: registry,
		metrics:  metrics.New(registry),
	}
}

// GetConfig returns the configuration
func (c *ApiContainer) GetConfig() *config.Config {
	return c.config
}

// GetLogger returns the logger
func (c *ApiContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetRegistry returns the Prometheus registry backing /metrics
func (c *ApiContainer) GetRegistry() *prometheus.Registry {
	return c.registry
}

// GetMetrics returns the pipeline instruments
func (c *ApiContainer) GetMetrics() *metrics.Metrics {
	return c.metrics
}

// GetReadingRepository returns the configured reading store, connecting on first use
func (c *ApiContainer) GetReadingRepository(ctx context.Context) (interfaces.ReadingRepository, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.readingRepositoryLocked(ctx)
}

func (c *ApiContainer) readingRepositoryLocked(ctx context.Context) (interfaces.ReadingRepository, error) {
	if c.readingRepo != nil {
		return c.readingRepo, nil
	}

	db := &c.config.Database
	switch db.Backend {
	case config.BackendMemory:
		c.logger.Warn("Using in-memory reading store, data is lost on restart")
		c.readingRepo = implementation.NewMemoryReadingRepository(c.config.Retention.Window)

	case config.BackendMongo:
		client, err := health.ConnectMongoWithTimeout(ctx, db, c.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			return client.Disconnect(context.Background())
		})

		repo := implementation.NewMongoReadingRepository(health.GetCollection(client, db), c.config.Retention.Window, db.OpTimeout)
		if err := repo.EnsureIndexes(ctx); err != nil {
			// the sweeper still enforces the window without the TTL index
			c.logger.ErrorWithError(err, "Failed to create reading indexes")
		}
		c.readingRepo = repo
		c.logger.Logger.Info().Str("db", db.DBName).Str("collection", db.CollName).Msg("Connected to MongoDB")

	default:
		return nil, fmt.Errorf("unknown store backend %q", db.Backend)
	}

	return c.readingRepo, nil
}

// GetHub returns the live distribution hub
func (c *ApiContainer) GetHub() *hub.Hub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hubLocked()
}

func (c *ApiContainer) hubLocked() *hub.Hub {
	if c.hub == nil {
		c.hub = hub.New(c.config.Hub.QueueSize, c.logger, c.metrics)
		c.cleanupFuncs = append(c.cleanupFuncs, func() error {
			c.hub.Close()
			return nil
		})
	}
	return c.hub
}

// GetIngestionService returns the ingestion service
func (c *ApiContainer) GetIngestionService(ctx context.Context) (*ingestion.Service, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.ingestion != nil {
		return c.ingestion, nil
	}

	repo, err := c.readingRepositoryLocked(ctx)
	if err != nil {
		return nil, err
	}
	c.ingestion = ingestion.NewService(repo, c.hubLocked(), ingestion.Options{
		AllowEmpty: c.config.Ingest.AllowEmpty,
	}, c.logger, c.metrics)

	return c.ingestion, nil
}

// GetSweeper returns the retention sweeper. It is stopped on Shutdown.
func (c *ApiContainer) GetSweeper(ctx context.Context) (*retention.Sweeper, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sweeper != nil {
		return c.sweeper, nil
	}

	repo, err := c.readingRepositoryLocked(ctx)
	if err != nil {
		return nil, err
	}
	sweeper := retention.NewSweeper(repo, c.config.Retention.Window, c.config.Retention.SweepSchedule, c.logger, c.metrics)
	c.cleanupFuncs = append(c.cleanupFuncs, func() error {
		sweeper.Stop()
		return nil
	})
	c.sweeper = sweeper

	return c.sweeper, nil
}

// GetHealthChecker returns the health checker
func (c *ApiContainer) GetHealthChecker(ctx context.Context) (*health.HealthChecker, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.healthChecker != nil {
		return c.healthChecker, nil
	}

	repo, err := c.readingRepositoryLocked(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get store for health checker: %w", err)
	}
	c.healthChecker = health.NewHealthChecker(repo, c.config.Database.Backend, c.hubLocked())

	return c.healthChecker, nil
}

// AddCleanupFunc adds a cleanup function
func (c *ApiContainer) AddCleanupFunc(fn func() error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cleanupFuncs = append(c.cleanupFuncs, fn)
}

// Shutdown gracefully shuts down the container and all its dependencies
func (c *ApiContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Shutting down container...")

	c.mu.Lock()
	funcs := c.cleanupFuncs
	c.cleanupFuncs = nil
	c.mu.Unlock()

	for i := len(funcs) - 1; i >= 0; i-- {
		if err := funcs[i](); err != nil {
			c.logger.ErrorWithError(err, "Error during cleanup")
		}
	}

	c.logger.Info("Container shutdown complete")
	return nil
}

// IngestorContainer manages dependencies for the MQTT relay service
type IngestorContainer struct {
	config    *config.IngestorConfig
	logger    *logger.Logger
	registry  *prometheus.Registry
	metrics   *metrics.Metrics
	apiClient *client.APIClient
}

// NewIngestorContainer creates a new container for the MQTT relay service
func NewIngestorContainer() (*IngestorContainer, error) {
	cfg, err := config.LoadIngestorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load ingestor configuration: %w", err)
	}

	log := logger.NewLogger(&cfg.Logging).WithService("mqtt-ingestor")
	registry := prometheus.NewRegistry()

	return &IngestorContainer{
		config:    cfg,
		logger:    log,
		registry:  registry,
		metrics:   metrics.New(registry),
		apiClient: client.NewAPIClient(cfg.Client, "lsm-mqtt-ingestor"),
	}, nil
}

// GetConfig returns the ingestor configuration
func (c *IngestorContainer) GetConfig() *config.IngestorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *IngestorContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetRegistry returns the Prometheus registry
func (c *IngestorContainer) GetRegistry() *prometheus.Registry {
	return c.registry
}

// GetMetrics returns the relay instruments
func (c *IngestorContainer) GetMetrics() *metrics.Metrics {
	return c.metrics
}

// GetAPIClient returns the API Service client
func (c *IngestorContainer) GetAPIClient() *client.APIClient {
	return c.apiClient
}

// Shutdown gracefully shuts down the ingestor container
func (c *IngestorContainer) Shutdown(ctx context.Context) error {
	c.logger.Info("Ingestor container shutdown complete")
	return nil
}

// SimulatorContainer manages dependencies for the sensor simulator
type SimulatorContainer struct {
	config    *config.SimulatorConfig
	logger    *logger.Logger
	apiClient *client.APIClient
}

// NewSimulatorContainer creates a new container for the sensor simulator
func NewSimulatorContainer() (*SimulatorContainer, error) {
	cfg, err := config.LoadSimulatorConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load simulator configuration: %w", err)
	}

	return &SimulatorContainer{
		config:    cfg,
		logger:    logger.NewLogger(&cfg.Logging).WithService("simulator"),
		apiClient: client.NewAPIClient(cfg.Client, "lsm-simulator"),
	}, nil
}

// GetConfig returns the simulator configuration
func (c *SimulatorContainer) GetConfig() *config.SimulatorConfig {
	return c.config
}

// GetLogger returns the logger
func (c *SimulatorContainer) GetLogger() *logger.Logger {
	return c.logger
}

// GetAPIClient returns the API Service client
func (c *SimulatorContainer) GetAPIClient() *client.APIClient {
	return c.apiClient
}
