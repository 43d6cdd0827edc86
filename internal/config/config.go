package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig
	Backend  BackendConfig
	Catalog  CatalogConfig
	Database DatabaseConfig
	Redis    RedisConfig
}

type ServerConfig struct {
	Port string
	Env  string
}

// BackendConfig configures the client side: where the catalog backend lives
// and how long a single store operation may take.
type BackendConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
}

// CatalogConfig tunes the catalog store.
type CatalogConfig struct {
	PageSize int
	Debounce time.Duration
}

// DatabaseConfig selects and configures catalog storage. Driver is either
// "memory" or "postgres".
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Schema   string
}

// RedisConfig configures the upload rate limiter. An empty Addr disables
// rate limiting entirely.
type RedisConfig struct {
	Addr             string
	UploadsPerMinute int
}

func Load() *Config {
	viper.SetConfigName(".env")
	viper.SetConfigType("env")
	viper.AddConfigPath(".")
	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("SERVER_ENV", "development")
	viper.SetDefault("BACKEND_BASE_URL", "http://localhost:8080")
	viper.SetDefault("BACKEND_TIMEOUT_SECONDS", 30)
	viper.SetDefault("CATALOG_PAGE_SIZE", 20)
	viper.SetDefault("CATALOG_DEBOUNCE_MS", 350)
	viper.SetDefault("DB_DRIVER", "memory")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "5432")
	viper.SetDefault("DB_SCHEMA", "public")
	viper.SetDefault("REDIS_ADDR", "")
	viper.SetDefault("UPLOAD_RATE_PER_MINUTE", 10)

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Could not read config file: %v", err)
	}

	return &Config{
		Server: ServerConfig{
			Port: viper.GetString("SERVER_PORT"),
			Env:  viper.GetString("SERVER_ENV"),
		},
		Backend: BackendConfig{
			BaseURL:        viper.GetString("BACKEND_BASE_URL"),
			RequestTimeout: time.Duration(viper.GetInt("BACKEND_TIMEOUT_SECONDS")) * time.Second,
		},
		Catalog: CatalogConfig{
			PageSize: viper.GetInt("CATALOG_PAGE_SIZE"),
			Debounce: time.Duration(viper.GetInt("CATALOG_DEBOUNCE_MS")) * time.Millisecond,
		},
		Database: DatabaseConfig{
			Driver:   viper.GetString("DB_DRIVER"),
			Host:     viper.GetString("DB_HOST"),
			Port:     viper.GetString("DB_PORT"),
			User:     viper.GetString("DB_USER"),
			Password: viper.GetString("DB_PASSWORD"),
			Database: viper.GetString("DB_DATABASE"),
			Schema:   viper.GetString("DB_SCHEMA"),
		},
		Redis: RedisConfig{
			Addr:             viper.GetString("REDIS_ADDR"),
			UploadsPerMinute: viper.GetInt("UPLOAD_RATE_PER_MINUTE"),
		},
	}
}
