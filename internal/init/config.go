package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	// App mode & server
	Mode        string
	ServerAddr  string
	TLSCertFile string
	TLSKeyFile  string
	LogLevel    string
	CORSOrigins []string

	// Posts
	SortOrder string
	SeedCount int
	PageSize  int

	// Sessions
	JWTSecret  string
	SessionTTL time.Duration

	// Journal (Kafka + Cassandra)
	JournalEnabled bool

	// Kafka
	KafkaBroker    string
	KafkaTopic     string
	KafkaGroupID   string
	KafkaPartition int
	KafkaReadTO    time.Duration
	KafkaWriteTO   time.Duration

	// Cassandra
	CassandraHost     string
	CassandraKeyspace string
	CassandraUsername string
	CassandraPassword string
	CassandraTimeout  time.Duration
	CassandraDC       string
	MigrationsPath    string

	// Worker
	WorkerCount     int
	WorkerQueueSize int
}

var cfg *Config

// Init loads the config using Viper and returns it
func Init() *Config {
	viper.SetDefault("MODE", "server")
	viper.SetDefault("SERVER_ADDR", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("CORS_ORIGINS", "*")

	viper.SetDefault("SORT_ORDER", "asc")
	viper.SetDefault("SEED_COUNT", 20)
	viper.SetDefault("PAGE_SIZE", 10)

	viper.SetDefault("JWT_SECRET", "")
	viper.SetDefault("SESSION_TTL", "24h")

	viper.SetDefault("JOURNAL_ENABLED", false)

	viper.SetDefault("KAFKA_BROKER", "localhost:29092")
	viper.SetDefault("KAFKA_TOPIC", "photo-post-events")
	viper.SetDefault("KAFKA_GROUP_ID", "journal-worker")
	viper.SetDefault("KAFKA_PARTITION", 0)
	viper.SetDefault("KAFKA_READ_TIMEOUT", "10s")
	viper.SetDefault("KAFKA_WRITE_TIMEOUT", "10s")

	viper.SetDefault("CASSANDRA_HOST", "localhost")
	viper.SetDefault("CASSANDRA_KEYSPACE", "photoposts")
	viper.SetDefault("CASSANDRA_TIMEOUT", "10s")
	viper.SetDefault("MIGRATIONS_PATH", "./migrations/cassandra")
	// Optional: Cassandra username/password/DC can be empty

	viper.SetDefault("WORKER_COUNT", 0)
	viper.SetDefault("WORKER_QUEUE_SIZE", 0)

	// Load env variables
	viper.AutomaticEnv()

	// Optional config file support
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	_ = viper.ReadInConfig() // ignore error if no file

	cfg = &Config{
		Mode:              viper.GetString("MODE"),
		ServerAddr:        viper.GetString("SERVER_ADDR"),
		TLSCertFile:       viper.GetString("TLS_CERT_FILE"),
		TLSKeyFile:        viper.GetString("TLS_KEY_FILE"),
		LogLevel:          viper.GetString("LOG_LEVEL"),
		CORSOrigins:       splitList(viper.GetString("CORS_ORIGINS")),
		SortOrder:         strings.ToLower(viper.GetString("SORT_ORDER")),
		SeedCount:         nonNegative(viper.GetInt("SEED_COUNT")),
		PageSize:          positiveOr(viper.GetInt("PAGE_SIZE"), 10),
		JWTSecret:         viper.GetString("JWT_SECRET"),
		SessionTTL:        parseDuration(viper.GetString("SESSION_TTL"), 24*time.Hour),
		JournalEnabled:    viper.GetBool("JOURNAL_ENABLED"),
		KafkaBroker:       viper.GetString("KAFKA_BROKER"),
		KafkaTopic:        viper.GetString("KAFKA_TOPIC"),
		KafkaGroupID:      viper.GetString("KAFKA_GROUP_ID"),
		KafkaPartition:    viper.GetInt("KAFKA_PARTITION"),
		KafkaReadTO:       parseDuration(viper.GetString("KAFKA_READ_TIMEOUT"), 10*time.Second),
		KafkaWriteTO:      parseDuration(viper.GetString("KAFKA_WRITE_TIMEOUT"), 10*time.Second),
		CassandraHost:     viper.GetString("CASSANDRA_HOST"),
		CassandraKeyspace: viper.GetString("CASSANDRA_KEYSPACE"),
		CassandraUsername: viper.GetString("CASSANDRA_USERNAME"),
		CassandraPassword: viper.GetString("CASSANDRA_PASSWORD"),
		CassandraTimeout:  parseDuration(viper.GetString("CASSANDRA_TIMEOUT"), 10*time.Second),
		CassandraDC:       viper.GetString("CASSANDRA_DC"),
		MigrationsPath:    viper.GetString("MIGRATIONS_PATH"),
		WorkerCount:       nonNegative(viper.GetInt("WORKER_COUNT")),
		WorkerQueueSize:   nonNegative(viper.GetInt("WORKER_QUEUE_SIZE")),
	}

	return cfg
}

func parseDuration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	return def
}

func positiveOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func nonNegative(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Get returns the loaded config instance
func Get() *Config {
	return cfg
}
