package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config agrupa toda la configuración externa del núcleo de sincronización.
// Las dos constantes tunables del core son BatchSize y MaxRetries; el resto
// es wiring de despliegue.
type Config struct {
	APIBaseURL string

	// Almacenamiento local del outbox
	SQLitePath      string
	PostgresDSN     string
	LocalDeployment bool // true: SQLite del terminal; false: Postgres de tienda

	// Sync engine
	BatchSize    int
	MaxRetries   int
	SyncInterval time.Duration

	// Sesión
	SessionPath       string
	SessionPassphrase string

	// Eventos de integración
	UseKafka     bool
	KafkaBrokers []string
	KafkaTopic   string

	// Caché de lecturas remotas
	RedisAddr string
	CacheTTL  time.Duration

	HTTPPort string
}

func LoadConfig() *Config {
	getEnv := func(key, fallback string) string {
		if v := os.Getenv(key); v != "" {
			return v
		}
		return fallback
	}

	getEnvInt := func(key string, fallback int) int {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return n
			}
		}
		return fallback
	}

	getEnvBool := func(key string, fallback bool) bool {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				return b
			}
		}
		return fallback
	}

	getEnvDuration := func(key string, fallback time.Duration) time.Duration {
		if v := os.Getenv(key); v != "" {
			if d, err := time.ParseDuration(v); err == nil && d > 0 {
				return d
			}
		}
		return fallback
	}

	kafkaBrokers := strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ",")

	return &Config{
		APIBaseURL:        getEnv("API_BASE_URL", "https://api.retailiq.example"),
		SQLitePath:        getEnv("SQLITE_PATH", "./possync_outbox.db"),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		LocalDeployment:   getEnvBool("LOCAL_DEPLOYMENT", true),
		BatchSize:         getEnvInt("BATCH_SIZE", 500),
		MaxRetries:        getEnvInt("MAX_RETRIES", 5),
		SyncInterval:      getEnvDuration("SYNC_INTERVAL", 15*time.Minute),
		SessionPath:       getEnv("SESSION_PATH", "./possync_session.age"),
		SessionPassphrase: getEnv("SESSION_PASSPHRASE", ""),
		UseKafka:          getEnvBool("USE_KAFKA", false),
		KafkaBrokers:      kafkaBrokers,
		KafkaTopic:        getEnv("KAFKA_TOPIC", "pos-sync-events"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		CacheTTL:          getEnvDuration("CACHE_TTL", 5*time.Minute),
		HTTPPort:          getEnv("HTTP_PORT", "8080"),
	}
}
