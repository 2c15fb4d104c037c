package health

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	config "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Config"
	logger "gitlab.com/maplesense1/lsm.sensor_server/src/production/LSM.Logger"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const connectAttempts = 5

// Pinger is anything that can report store reachability
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubscriberCounter reports connected live subscribers
type SubscriberCounter interface {
	Count() int
}

// HealthChecker provides health check functionality
type HealthChecker struct {
	store   Pinger
	backend string
	hub     SubscriberCounter
	started time.Time
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(store Pinger, backend string, hub SubscriberCounter) *HealthChecker {
	return &HealthChecker{
		store:   store,
		backend: backend,
		hub:     hub,
		started: time.Now(),
	}
}

// CheckStoreHealth pings the reading store
func (h *HealthChecker) CheckStoreHealth(ctx context.Context) error {
	if h.store == nil {
		return fmt.Errorf("reading store is nil")
	}
	if err := h.store.Ping(ctx); err != nil {
		return fmt.Errorf("store ping failed: %w", err)
	}
	return nil
}

// GetHealthStatus returns the current health status and whether the service is ready
func (h *HealthChecker) GetHealthStatus(ctx context.Context) (map[string]interface{}, bool) {
	store := map[string]interface{}{
		"backend": h.backend,
		"status":  "ok",
	}
	ready := true
	if err := h.CheckStoreHealth(ctx); err != nil {
		store["status"] = "error"
		store["error"] = err.Error()
		ready = false
	}

	subscribers := 0
	if h.hub != nil {
		subscribers = h.hub.Count()
	}

	status := "ready"
	if !ready {
		status = "degraded"
	}

	return map[string]interface{}{
		"status":      status,
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
		"uptime":      time.Since(h.started).Round(time.Second).String(),
		"subscribers": subscribers,
		"checks": map[string]interface{}{
			"store": store,
		},
	}, ready
}

// ConnectMongoWithTimeout connects to MongoDB, retrying with exponential backoff
// until the connect timeout is spent.
func ConnectMongoWithTimeout(ctx context.Context, cfg *config.DatabaseConfig, log *logger.Logger) (*mongo.Client, error) {
	if cfg.URI == "" {
		return nil, fmt.Errorf("MONGODB_URI environment variable not set")
	}

	clientOptions := options.Client().ApplyURI(cfg.URI)
	if strings.HasPrefix(cfg.URI, "mongodb+srv://") {
		// Atlas
		clientOptions.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	clientOptions.SetServerSelectionTimeout(cfg.ConnectTimeout)
	clientOptions.SetConnectTimeout(cfg.ConnectTimeout)

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = cfg.ConnectTimeout

	var client *mongo.Client
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c, err := mongo.Connect(ctx, clientOptions)
		if err != nil {
			return fmt.Errorf("unable to connect to MongoDB: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
		if err := c.Ping(pingCtx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			log.Logger.Warn().Err(err).Int("attempt", attempt).Msg("MongoDB not reachable yet")
			return fmt.Errorf("unable to ping MongoDB: %w", err)
		}

		client = c
		return nil
	}, backoff.WithContext(backoff.WithMaxRetries(bo, connectAttempts-1), ctx))
	if err != nil {
		return nil, err
	}

	return client, nil
}

// GetCollection returns the readings collection
func GetCollection(client *mongo.Client, cfg *config.DatabaseConfig) *mongo.Collection {
	return client.Database(cfg.DBName).Collection(cfg.CollName)
}
