package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB      DBConfig
	JWT     JWTConfig
	Server  ServerConfig
	Storage StorageConfig
	Shares  SharesConfig
}

type DBConfig struct {
	// Driver selects the gorm dialect: "sqlite" (default) or "postgres".
	Driver   string
	Path     string
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port      string
	BodyLimit int
}

type StorageConfig struct {
	// BaseDir is the directory holding one storage-root subdirectory per
	// username. Every path the service touches resolves under it.
	BaseDir string
}

type SharesConfig struct {
	// Store selects the share-registry persistence backend: "db" (rows in
	// the main database) or "json" (whole-file rewrite, the legacy format).
	Store string
	// JSONPath is the state file used when Store is "json".
	JSONPath string
	// SweepInterval is how often the registry drops entries whose backing
	// file vanished, in addition to the sweep before each network listing.
	SweepInterval time.Duration
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "nasvault.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "nasvault"),
			Password: getEnv("DB_PASSWORD", "nasvault_secret"),
			Name:     getEnv("DB_NAME", "nasvault"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 8),
		},
		Server: ServerConfig{
			Port:      getEnv("SERVER_PORT", "8080"),
			BodyLimit: getEnvAsInt("BODY_LIMIT_MB", 500) * 1024 * 1024,
		},
		Storage: StorageConfig{
			BaseDir: getEnv("STORAGE_DIR", "nas_storage"),
		},
		Shares: SharesConfig{
			Store:         getEnv("SHARE_STORE", "db"),
			JSONPath:      getEnv("SHARE_STORE_PATH", "shares.json"),
			SweepInterval: getEnvAsDuration("SHARE_SWEEP_INTERVAL", 15*time.Minute),
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
