// Package config loads process configuration from the environment, with an
// optional .env file for local runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DefaultJWTSecret is used when JWT_SECRET is unset. Never rely on it outside
// development.
const DefaultJWTSecret = "default-secret-key-change-in-production"

// ServerConfig holds every tunable of the API server.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// StoreBackend is "mongo" or "memory".
	StoreBackend  string
	MongoURI      string
	MongoDatabase string

	JWTSecret string
	JWTExpiry time.Duration

	RedisAddr     string
	RedisPassword string
	RateLimit     int
	RateWindow    time.Duration

	MQTT MQTTConfig

	LogLevel  string
	LogFormat string
	TimeZone  *time.Location
}

// MQTTConfig is shared by the server (publisher) and clients (subscribers).
type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
}

// Enabled reports whether a broker is configured.
func (m MQTTConfig) Enabled() bool { return m.BrokerURL != "" }

// ClientConfig holds settings of the CLI and the simulator.
type ClientConfig struct {
	APIURL   string
	Token    string
	Username string
	Password string
	Timeout  time.Duration

	MQTT MQTTConfig

	LogLevel  string
	LogFormat string
	TimeZone  *time.Location
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		StoreBackend:    "mongo",
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "fleet",
		JWTSecret:       DefaultJWTSecret,
		JWTExpiry:       24 * time.Hour,
		RateLimit:       100,
		RateWindow:      time.Minute,
		MQTT:            MQTTConfig{ClientID: "fleet-api", TopicPrefix: "fleet"},
		LogLevel:        "info",
		LogFormat:       "json",
		TimeZone:        time.UTC,
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		APIURL:    "http://localhost:8080",
		Timeout:   15 * time.Second,
		MQTT:      MQTTConfig{TopicPrefix: "fleet"},
		LogLevel:  "info",
		LogFormat: "text",
		TimeZone:  time.UTC,
	}
}

// LoadDotEnv loads path (default ".env") if it exists. Existing environment
// variables win over file values.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("load %s: %w", strings.Join(existing, ", "), err)
	}
	return nil
}

// LoadServer reads the server configuration. All parse errors are reported
// together.
func LoadServer() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setString(&cfg.HTTPAddr, "HTTP_ADDR")
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("HTTP_ADDR") == "" {
		cfg.HTTPAddr = ":" + port
	}
	setDuration(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDuration(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDuration(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDuration(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	setString(&cfg.StoreBackend, "STORE_BACKEND")
	cfg.StoreBackend = strings.ToLower(cfg.StoreBackend)
	setString(&cfg.MongoURI, "MONGO_URI")
	setString(&cfg.MongoDatabase, "MONGO_DB")

	setString(&cfg.JWTSecret, "JWT_SECRET")
	setDuration(&cfg.JWTExpiry, "JWT_EXPIRY", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setInt(&cfg.RateLimit, "RATE_LIMIT", &errs)
	setDuration(&cfg.RateWindow, "RATE_WINDOW", &errs)

	loadMQTT(&cfg.MQTT)

	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setLocation(&cfg.TimeZone, "FLEET_TZ", &errs)

	if cfg.StoreBackend != "mongo" && cfg.StoreBackend != "memory" {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be mongo or memory, got %q", cfg.StoreBackend))
	}
	if cfg.RateLimit <= 0 {
		errs = append(errs, errors.New("RATE_LIMIT must be > 0"))
	}
	if cfg.JWTExpiry <= 0 {
		errs = append(errs, errors.New("JWT_EXPIRY must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// LoadClient reads the CLI/simulator configuration.
func LoadClient() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setString(&cfg.APIURL, "FLEET_API_URL")
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	cfg.Token = strings.TrimSpace(os.Getenv("FLEET_TOKEN"))
	cfg.Username = strings.TrimSpace(os.Getenv("FLEET_USERNAME"))
	cfg.Password = os.Getenv("FLEET_PASSWORD")
	setDuration(&cfg.Timeout, "FLEET_TIMEOUT", &errs)

	cfg.MQTT.ClientID = "fleetctl-" + strconv.Itoa(os.Getpid())
	loadMQTT(&cfg.MQTT)

	setString(&cfg.LogLevel, "LOG_LEVEL")
	setString(&cfg.LogFormat, "LOG_FORMAT")
	setLocation(&cfg.TimeZone, "FLEET_TZ", &errs)

	return cfg, errors.Join(errs...)
}

func loadMQTT(m *MQTTConfig) {
	m.BrokerURL = strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	setString(&m.ClientID, "MQTT_CLIENT_ID")
	setString(&m.TopicPrefix, "MQTT_TOPIC_PREFIX")
}

func setString(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setInt(target *int, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setLocation(target **time.Location, key string, errs *[]error) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		loc, err := time.LoadLocation(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = loc
	}
}
