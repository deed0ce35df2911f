package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Server captures process level configuration.
type Server struct {
	Addr        string
	DatabaseURL string

	// EventSink selects the publisher backing the external quote stream:
	// "kafka", "redis" or "log" (dev fallback, no external stream).
	EventSink    string
	KafkaBrokers []string
	EventTopic   string
	Redis        RedisConfig

	AuthUsername  string
	AuthPassword  string
	JWTSigningKey string
	TokenTTL      time.Duration

	// GeneratorPeriod is the delay between quote generation cycles.
	GeneratorPeriod time.Duration

	// StreamCredit bounds how many outbound frames may be queued per
	// connection before stream handlers block.
	StreamCredit int
}

// RedisConfig holds connection settings for the Redis event sink.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	return Server{
		Addr:        getenv("QUOTEFEED_ADDR", ":8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		EventSink:    getenv("EVENT_SINK", "log"),
		KafkaBrokers: splitList(getenv("KAFKA_BROKERS", "localhost:9092")),
		EventTopic:   getenv("EVENT_TOPIC", "quotes"),
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getint("REDIS_POOL_SIZE", 10),
			MinIdleConns: getint("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getduration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getduration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getduration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},

		AuthUsername:  getenv("AUTH_USERNAME", "user"),
		AuthPassword:  getenv("AUTH_PASSWORD", "password"),
		JWTSigningKey: getenv("JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		TokenTTL:      getduration("TOKEN_TTL", time.Hour),

		GeneratorPeriod: getduration("GENERATOR_PERIOD", time.Minute),
		StreamCredit:    getint("STREAM_CREDIT", 32),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getduration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
