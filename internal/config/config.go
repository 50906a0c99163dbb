package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the car counter server.
type Config struct {
	Server   ServerConfig
	Store    StoreConfig
	Database DatabaseConfig
	Dynamo   DynamoConfig
	Redis    RedisConfig
	S3       S3Config
	Analyzer AnalyzerConfig
	Auth     AuthConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

// StoreConfig selects the job record backend. The coordinator never branches
// on this; the concrete store is picked once at startup.
type StoreConfig struct {
	Backend string // "postgres" or "dynamo"
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type DynamoConfig struct {
	Table        string
	PartitionKey string
	Region       string
}

type RedisConfig struct {
	URL string
}

type S3Config struct {
	Bucket     string
	Region     string
	SignedTTL  time.Duration
	PresignTTL time.Duration
}

type AnalyzerConfig struct {
	Python  string
	Script  string
	WorkDir string
}

// AuthConfig carries static API key entries in the form
// "name:bcrypt-hash" or "name:bcrypt-hash:admin", comma separated.
// This stands in for an external identity provider; the rest of the
// service only ever sees the resolved identity.
type AuthConfig struct {
	Keys []KeyEntry
}

type KeyEntry struct {
	Name  string
	Hash  string
	Admin bool
}

const (
	BackendPostgres = "postgres"
	BackendDynamo   = "dynamo"
)

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port: envInt("CARCOUNTER_PORT", 8080),
			Env:  envString("CARCOUNTER_ENV", "development"),
		},
		Store: StoreConfig{
			Backend: envString("STORE_BACKEND", BackendPostgres),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Dynamo: DynamoConfig{
			Table:        envString("DYNAMO_TABLE", "VideoJobs"),
			PartitionKey: os.Getenv("DYNAMO_PARTITION_KEY"),
			Region:       envString("AWS_REGION", "eu-north-1"),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		S3: S3Config{
			Bucket:     os.Getenv("S3_BUCKET"),
			Region:     envString("AWS_REGION", "eu-north-1"),
			SignedTTL:  envDurationSecs("S3_SIGNED_TTL_SECS", time.Hour),
			PresignTTL: envDurationSecs("S3_PRESIGN_TTL_SECS", 10*time.Minute),
		},
		Analyzer: AnalyzerConfig{
			Python:  envString("ANALYZER_PYTHON", "python3"),
			Script:  envString("ANALYZER_SCRIPT", "scripts/carCounting.py"),
			WorkDir: envString("ANALYZER_WORKDIR", os.TempDir()),
		},
	}

	keys, err := parseKeyEntries(os.Getenv("AUTH_API_KEYS"))
	if err != nil {
		return nil, err
	}
	cfg.Auth.Keys = keys

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Backend {
	case BackendPostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE_BACKEND is postgres")
		}
	case BackendDynamo:
		if c.Dynamo.PartitionKey == "" {
			return fmt.Errorf("DYNAMO_PARTITION_KEY is required when STORE_BACKEND is dynamo")
		}
	default:
		return fmt.Errorf("STORE_BACKEND must be postgres or dynamo; got %q", c.Store.Backend)
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.S3.Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}

	if c.Analyzer.Script == "" {
		return fmt.Errorf("ANALYZER_SCRIPT is required")
	}

	if len(c.Auth.Keys) == 0 {
		return fmt.Errorf("AUTH_API_KEYS is required")
	}

	return nil
}

func parseKeyEntries(raw string) ([]KeyEntry, error) {
	if raw == "" {
		return nil, nil
	}
	var keys []KeyEntry
	for _, entry := range strings.Split(raw, ",") {
		parts := strings.SplitN(strings.TrimSpace(entry), ":", 3)
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("AUTH_API_KEYS entry %q must be name:hash or name:hash:admin", entry)
		}
		key := KeyEntry{Name: parts[0], Hash: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "admin" {
				return nil, fmt.Errorf("AUTH_API_KEYS entry %q has unknown role %q", entry, parts[2])
			}
			key.Admin = true
		}
		keys = append(keys, key)
	}
	return keys, nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
