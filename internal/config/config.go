// README: Config loader with env defaults for HTTP, DB, Redis, Kafka, and dispatch settings.
package config

import (
	"os"
	"strconv"
)

type DispatchConfig struct {
	MaxAttempts      int
	DropoffRadiusKm  float64
	DisruptionPolicy string
}

type Config struct {
	HTTP struct {
		Addr string
	}
	DB struct {
		DSN string
	}
	Redis struct {
		Addr string
	}
	Kafka struct {
		Brokers string
		Topic   string
		GroupID string
	}
	Firebase struct {
		ProjectID       string
		CredentialsFile string
	}
	Dispatch DispatchConfig
	Log      struct {
		Level string
	}
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("TRAM_HTTP_ADDR", ":8080")
	cfg.DB.DSN = envOrDefault("TRAM_DB_DSN", "")
	cfg.Redis.Addr = envOrDefault("TRAM_REDIS_ADDR", "localhost:6379")
	cfg.Kafka.Brokers = envOrDefault("TRAM_KAFKA_BROKERS", "localhost:9092")
	cfg.Kafka.Topic = envOrDefault("TRAM_KAFKA_TOPIC", "driver-locations")
	cfg.Kafka.GroupID = envOrDefault("TRAM_KAFKA_GROUP", "tram-location-consumer")
	cfg.Firebase.ProjectID = envOrDefault("TRAM_FIREBASE_PROJECT", "")
	cfg.Firebase.CredentialsFile = envOrDefault("TRAM_FIREBASE_CREDENTIALS", "")
	cfg.Dispatch.MaxAttempts = envOrDefaultInt("TRAM_MATCH_ATTEMPTS", 4)
	cfg.Dispatch.DropoffRadiusKm = envOrDefaultFloat("TRAM_DROPOFF_RADIUS_KM", 0.05)
	cfg.Dispatch.DisruptionPolicy = envOrDefault("TRAM_DISRUPTION_POLICY", "requeue")
	cfg.Log.Level = envOrDefault("TRAM_LOG_LEVEL", "info")
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			return n
		}
	}
	return def
}
