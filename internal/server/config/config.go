package config

import (
	"log"
	"time"

	"github.com/spf13/viper"
)

const devSecret = "dev-secret-change"

// DefaultEnvFile is read by Load when present.
const DefaultEnvFile = ".env"

type Config struct {
	HTTPAddr        string
	DatabaseDSN     string
	JWTSecret       string
	SessionTTL      time.Duration
	MaxRequestBytes int64
}

// Load reads the optional .env file of the working directory, then
// RECORDSYNC_* environment variables over it.
func Load() Config {
	return LoadFile(DefaultEnvFile)
}

// LoadFile is Load with an explicit env file. The file holds unprefixed
// keys (HTTP_ADDR, DATABASE_DSN, ...); a missing file is ignored.
// Environment variables take precedence over the file.
func LoadFile(envFile string) Config {
	v := viper.New()
	if envFile != "" {
		v.SetConfigFile(envFile)
		v.SetConfigType("env")
		if err := v.ReadInConfig(); err == nil {
			log.Printf("config: loaded %s", envFile)
		}
	}
	v.SetEnvPrefix("RECORDSYNC")
	v.AutomaticEnv()

	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("DATABASE_DSN", "file:recordsync.db?cache=shared&mode=rwc")
	v.SetDefault("JWT_SECRET", devSecret)
	v.SetDefault("SESSION_TTL", 24*time.Hour)
	v.SetDefault("MAX_REQUEST_BYTES", 1<<20)

	cfg := Config{
		HTTPAddr:        v.GetString("HTTP_ADDR"),
		DatabaseDSN:     v.GetString("DATABASE_DSN"),
		JWTSecret:       v.GetString("JWT_SECRET"),
		SessionTTL:      v.GetDuration("SESSION_TTL"),
		MaxRequestBytes: v.GetInt64("MAX_REQUEST_BYTES"),
	}
	if cfg.JWTSecret == devSecret {
		log.Println("WARNING: using development JWT secret; set RECORDSYNC_JWT_SECRET")
	}
	return cfg
}
