package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Backends accepted in COORD_BACKEND.
const (
	BackendZooKeeper = "zookeeper"
	BackendEtcd      = "etcd"
	BackendMemory    = "memory"
)

type Config struct {
	Backend                 string
	ZooKeeperHosts          string
	ZooKeeperSessionTimeout time.Duration
	EtcdEndpoints           []string
	EtcdSessionTTL          int
	OpTimeout               time.Duration

	ContainerIP    string
	ContainerPort  int
	MasterServices []string

	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	PurgeOnDelete        bool

	APIPort        string
	JWTSecret      string
	JWTTokenExpiry time.Duration
	LogLevel       string
	LogEncoding    string
	TracingEnabled bool
	OTLPEndpoint   string
}

// LoadConfig reads the process configuration from the environment. A .env
// file in the working directory is loaded first when present; variables
// already set take precedence over it.
func LoadConfig() *Config {
	_ = godotenv.Load()

	return &Config{
		Backend:                 strings.ToLower(getEnv("COORD_BACKEND", BackendZooKeeper)),
		ZooKeeperHosts:          getEnv("SOA_ZOOKEEPER_HOST", "localhost:2181"),
		ZooKeeperSessionTimeout: getEnvAsDuration("SOA_ZOOKEEPER_SESSION_TIMEOUT", 10*time.Second),
		EtcdEndpoints:           getEnvAsList("ETCD_ENDPOINTS", []string{"localhost:2379"}),
		EtcdSessionTTL:          getEnvAsInt("ETCD_SESSION_TTL", 15),
		OpTimeout:               getEnvAsDuration("COORD_OP_TIMEOUT", 5*time.Second),
		ContainerIP:             getEnv("SOA_CONTAINER_IP", "127.0.0.1"),
		ContainerPort:           getEnvAsInt("SOA_CONTAINER_PORT", 8080),
		MasterServices:          getEnvAsList("SOA_MASTER_SERVICES", nil),
		RetryInitialInterval:    getEnvAsDuration("MASTER_RETRY_INITIAL_INTERVAL", 0),
		RetryMaxInterval:        getEnvAsDuration("MASTER_RETRY_MAX_INTERVAL", 5*time.Second),
		PurgeOnDelete:           getEnvAsBool("MASTER_PURGE_ON_DELETE", false),
		APIPort:                 getEnv("API_PORT", "8081"),
		JWTSecret:               getEnv("JWT_SECRET", ""),
		JWTTokenExpiry:          getEnvAsDuration("JWT_TOKEN_EXPIRY", time.Hour),
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		LogEncoding:             getEnv("LOG_ENCODING", "json"),
		TracingEnabled:          getEnvAsBool("TRACING_ENABLED", false),
		OTLPEndpoint:            getEnv("OTLP_ENDPOINT", "localhost:4318"),
	}
}

// Validate rejects configurations the process cannot start with.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendZooKeeper:
		if c.ZooKeeperHosts == "" {
			return fmt.Errorf("SOA_ZOOKEEPER_HOST is required for the %s backend", c.Backend)
		}
	case BackendEtcd:
		if len(c.EtcdEndpoints) == 0 {
			return fmt.Errorf("ETCD_ENDPOINTS is required for the %s backend", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown COORD_BACKEND %q", c.Backend)
	}
	if c.ContainerPort <= 0 || c.ContainerPort > 65535 {
		return fmt.Errorf("invalid SOA_CONTAINER_PORT %d", c.ContainerPort)
	}
	return nil
}

// Endpoint is the connection string handed to the coordination dialer.
func (c *Config) Endpoint() string {
	if c.Backend == BackendEtcd {
		return strings.Join(c.EtcdEndpoints, ",")
	}
	return c.ZooKeeperHosts
}

// Address is this container's advertised "host:port".
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.ContainerIP, c.ContainerPort)
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(valueStr, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
