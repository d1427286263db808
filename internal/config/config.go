package config

import (
	"fmt"
	"os"
)

// Config holds environment-based settings
type Config struct {
	Environment      string
	DatabaseURL      string
	MigrationsPath   string
	ServerAddress    string
	RedisAddress     string
	RedisUsername    string
	RedisPassword    string
	MQTTBrokerURL    string
	MQTTTopicPrefix  string
	ProcessorsConfig string
	ChannelName      string
	LogLevel         string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	return &Config{
		Environment:      os.Getenv("APP_ENV"),
		DatabaseURL:      dbURL,
		MigrationsPath:   getenv("MIGRATIONS_PATH", "./migrations"),
		ServerAddress:    getenv("SERVER_ADDRESS", ":8080"),
		RedisAddress:     os.Getenv("REDIS_ADDRESS"),
		RedisUsername:    os.Getenv("REDIS_USERNAME"),
		RedisPassword:    os.Getenv("REDIS_PASSWORD"),
		MQTTBrokerURL:    os.Getenv("MQTT_BROKER_URL"),
		MQTTTopicPrefix:  getenv("MQTT_TOPIC_PREFIX", "playout"),
		ProcessorsConfig: getenv("PROCESSORS_CONFIG", "./processors.yaml"),
		ChannelName:      getenv("CHANNEL_NAME", "default"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
	}, nil
}

// InMemory reports whether DATABASE_URL selects the in-process store.
func (c *Config) InMemory() bool {
	return c.DatabaseURL == "memory"
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
