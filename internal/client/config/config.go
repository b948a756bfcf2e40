package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config is the CLI configuration. Values come from RECORDSYNC_* env
// variables, an optional config file, and the defaults below.
type Config struct {
	ServerURL   string
	SessionPath string
	Timeout     time.Duration
	Notify      bool
}

// Load reads the configuration. configFile may be empty.
func Load(configFile string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("RECORDSYNC")
	v.AutomaticEnv()

	v.SetDefault("SERVER_URL", "http://localhost:8080")
	v.SetDefault("SESSION_PATH", "")
	v.SetDefault("TIMEOUT", 30*time.Second)
	v.SetDefault("NOTIFY", true)

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	return Config{
		ServerURL:   v.GetString("SERVER_URL"),
		SessionPath: v.GetString("SESSION_PATH"),
		Timeout:     v.GetDuration("TIMEOUT"),
		Notify:      v.GetBool("NOTIFY"),
	}, nil
}
