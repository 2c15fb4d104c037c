package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store backends
const (
	BackendMongo  = "mongo"
	BackendMemory = "memory"
)

// Config holds all configuration of the API service
type Config struct {
	// Server configuration
	Server ServerConfig `json:"server"`

	// Database configuration
	Database DatabaseConfig `json:"database"`

	// Retention window and sweep schedule
	Retention RetentionConfig `json:"retention"`

	// Live distribution configuration
	Hub HubConfig `json:"hub"`

	// Ingestion policy
	Ingest IngestConfig `json:"ingest"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`

	// CORS configuration
	CORS CORSConfig `json:"cors"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	StaticDir    string        `json:"static_dir"`
}

// DatabaseConfig holds the reading store configuration
type DatabaseConfig struct {
	Backend        string        `json:"backend"` // mongo or memory
	URI            string        `json:"-"`
	DBName         string        `json:"db_name"`
	CollName       string        `json:"coll_name"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
	OpTimeout      time.Duration `json:"op_timeout"`
}

// RetentionConfig holds the rolling window settings
type RetentionConfig struct {
	Window        time.Duration `json:"window"`
	SweepSchedule string        `json:"sweep_schedule"` // cron expression
}

// HubConfig holds live distribution settings
type HubConfig struct {
	QueueSize    int           `json:"queue_size"`
	PingInterval time.Duration `json:"ping_interval"`
	WriteTimeout time.Duration `json:"write_timeout"`
}

// IngestConfig holds ingestion policy settings
type IngestConfig struct {
	// AllowEmpty persists readings that carry no recognized field instead of rejecting them
	AllowEmpty bool `json:"allow_empty"`
}

// MQTTConfig holds MQTT-related configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"-"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	Topic       string        `json:"topic"`
	ClientID    string        `json:"client_id"`
	SharedGroup string        `json:"shared_group"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
	QueueSize   int           `json:"queue_size"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	ExposedHeaders   []string `json:"exposed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
	MaxAge           int      `json:"max_age"`
}

// ClientConfig holds settings for services that post readings to the API
type ClientConfig struct {
	APIServiceURL   string        `json:"api_service_url"`
	Timeout         time.Duration `json:"timeout"`
	MaxRetries      int           `json:"max_retries"`
	BreakerFailures int           `json:"breaker_failures"`
	BreakerOpenFor  time.Duration `json:"breaker_open_for"`
}

// IngestorConfig holds configuration for the MQTT relay service
type IngestorConfig struct {
	Server  ServerConfig  `json:"server"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Logging LoggingConfig `json:"logging"`
	Client  ClientConfig  `json:"client"`
}

// SimulatorConfig holds configuration for the sensor simulator
type SimulatorConfig struct {
	Interval time.Duration `json:"interval"`
	Logging  LoggingConfig `json:"logging"`
	Client   ClientConfig  `json:"client"`
}

// LoadApiConfig loads configuration for the API service
func LoadApiConfig() (*Config, error) {
	loadDotEnv()

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", "3000"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
			StaticDir:    getEnv("STATIC_DIR", "public"),
		},
		Database: DatabaseConfig{
			Backend:        strings.ToLower(getEnv("STORE_BACKEND", BackendMongo)),
			URI:            getEnv("MONGODB_URI", ""),
			DBName:         getEnv("DB_NAME", "sensors"),
			CollName:       getEnv("COLL_NAME", "readings"),
			ConnectTimeout: getDuration("MONGO_CONNECT_TIMEOUT", 30*time.Second),
			OpTimeout:      getDuration("MONGO_OP_TIMEOUT", 5*time.Second),
		},
		Retention: RetentionConfig{
			Window:        getDuration("RETENTION_WINDOW", time.Hour),
			SweepSchedule: getEnv("SWEEP_SCHEDULE", "0 * * * *"),
		},
		Hub: HubConfig{
			QueueSize:    getInt("HUB_QUEUE_SIZE", 64),
			PingInterval: getDuration("HUB_PING_INTERVAL", 30*time.Second),
			WriteTimeout: getDuration("HUB_WRITE_TIMEOUT", 10*time.Second),
		},
		Ingest: IngestConfig{
			AllowEmpty: getBool("INGEST_ALLOW_EMPTY", false),
		},
		Logging: loadLogging(),
		CORS: CORSConfig{
			AllowedOrigins:   getStringSlice("CORS_ALLOWED_ORIGINS", []string{"*"}),
			AllowedMethods:   getStringSlice("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
			AllowedHeaders:   getStringSlice("CORS_ALLOWED_HEADERS", []string{"Origin", "Content-Type", "Accept"}),
			ExposedHeaders:   getStringSlice("CORS_EXPOSED_HEADERS", []string{"Content-Length"}),
			AllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
			MaxAge:           getInt("CORS_MAX_AGE", 43200), // 12 hours
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadIngestorConfig loads configuration for the MQTT relay service
func LoadIngestorConfig() (*IngestorConfig, error) {
	loadDotEnv()

	config := &IngestorConfig{
		Server: ServerConfig{
			Port:         getEnv("INGESTOR_PORT", "9003"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		MQTT: MQTTConfig{
			BrokerHost:  getEnv("BROKER_HOST", "localhost"),
			BrokerPort:  getInt("BROKER_PORT", 1883),
			BrokerUser:  getEnv("BROKER_USER", ""),
			BrokerPass:  getEnv("BROKER_PASS", ""),
			UseTLS:      getBool("BROKER_TLS", false),
			CACertPath:  getEnv("BROKER_CA_FILE", ""),
			Topic:       getEnv("MQTT_TOPIC", "sensors/+/readings"),
			ClientID:    getEnv("MQTT_CLIENT_ID", "lsm-ingestor"),
			SharedGroup: getEnv("MQTT_SHARED_GROUP", ""),
			KeepAlive:   getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
			PingTimeout: getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
			QueueSize:   getInt("MQTT_QUEUE_SIZE", 1024),
		},
		Logging: loadLogging(),
		Client:  loadClient(),
	}

	if config.Client.APIServiceURL == "" {
		return nil, fmt.Errorf("API_SERVICE_URL is required")
	}
	if config.MQTT.QueueSize < 1 {
		return nil, fmt.Errorf("MQTT_QUEUE_SIZE must be at least 1")
	}

	return config, nil
}

// LoadSimulatorConfig loads configuration for the sensor simulator
func LoadSimulatorConfig() (*SimulatorConfig, error) {
	loadDotEnv()

	config := &SimulatorConfig{
		Interval: getDuration("SIMULATOR_INTERVAL", time.Second),
		Logging:  loadLogging(),
		Client:   loadClient(),
	}

	if config.Client.APIServiceURL == "" {
		return nil, fmt.Errorf("API_SERVICE_URL is required")
	}
	if config.Interval <= 0 {
		return nil, fmt.Errorf("SIMULATOR_INTERVAL must be positive")
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	switch c.Database.Backend {
	case BackendMongo:
		if c.Database.URI == "" {
			return fmt.Errorf("MONGODB_URI is required when STORE_BACKEND=%s", BackendMongo)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown STORE_BACKEND %q (expected %s or %s)", c.Database.Backend, BackendMongo, BackendMemory)
	}
	if c.Retention.Window <= 0 {
		return fmt.Errorf("RETENTION_WINDOW must be positive")
	}
	if c.Retention.SweepSchedule == "" {
		return fmt.Errorf("SWEEP_SCHEDULE is required")
	}
	if c.Hub.QueueSize < 1 {
		return fmt.Errorf("HUB_QUEUE_SIZE must be at least 1")
	}
	if c.Database.OpTimeout <= 0 {
		return fmt.Errorf("MONGO_OP_TIMEOUT must be positive")
	}
	return nil
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *MQTTConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

func loadDotEnv() {
	// A missing .env is fine, variables may be set directly
	_ = godotenv.Load()
}

func loadLogging() LoggingConfig {
	return LoggingConfig{
		Level:        getEnv("LOG_LEVEL", "info"),
		Format:       getEnv("LOG_FORMAT", "text"),
		Output:       getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: getBool("LOG_ENABLE_CALLER", false),
	}
}

func loadClient() ClientConfig {
	return ClientConfig{
		APIServiceURL:   getEnv("API_SERVICE_URL", "http://localhost:3000"),
		Timeout:         getDuration("API_CLIENT_TIMEOUT", 10*time.Second),
		MaxRetries:      getInt("API_CLIENT_MAX_RETRIES", 3),
		BreakerFailures: getInt("API_CLIENT_BREAKER_FAILURES", 5),
		BreakerOpenFor:  getDuration("API_CLIENT_BREAKER_OPEN_FOR", 30*time.Second),
	}
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}

func getStringSlice(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parts := make([]string, 0)
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
