package config

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the full process configuration shared by the API and the worker.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Billing  BillingConfig
	Analyzer AnalyzerConfig
	JWT      JWTConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	// Store selects "postgres" or "memory".
	Store string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host            string
	Port            string
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	Migrate         bool
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
}

type QueueConfig struct {
	Stream       string
	Group        string
	DeadLetter   string
	Block        time.Duration
	MinIdle      time.Duration
	ReclaimEvery time.Duration // 0 means MinIdle/2
}

type WorkerConfig struct {
	Count            int
	Instance         string
	AnalysisTimeout  time.Duration
	RequeueInterval  time.Duration
	RequeueAfter     time.Duration
	RequeueBatchSize int
}

type BillingConfig struct {
	DefaultModel string
	DefaultPrice decimal.Decimal
	WordsPerUnit int
}

type AnalyzerConfig struct {
	// Kind selects "heuristic", "remote" or "fallback" (remote, then heuristic).
	Kind     string
	Endpoint string
	Token    string
	Timeout  time.Duration
}

type JWTConfig struct {
	SecretKey string
}

type LogConfig struct {
	Level  string
	Format string
}

// ConnectPolicy bounds the startup reconnect loop.
type ConnectPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

func bindEnv() {
	viper.BindEnv("server.port", "PORT")
	viper.BindEnv("server.store", "STORE")

	viper.BindEnv("database.host", "DATABASE_HOST")
	viper.BindEnv("database.port", "DATABASE_PORT")
	viper.BindEnv("database.user", "DATABASE_USER")
	viper.BindEnv("database.password", "DATABASE_PASSWORD")
	viper.BindEnv("database.name", "DATABASE_NAME")
	viper.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")
	viper.BindEnv("database.migrate", "DATABASE_MIGRATE")

	viper.BindEnv("redis.host", "REDIS_HOST")
	viper.BindEnv("redis.port", "REDIS_PORT")
	viper.BindEnv("redis.password", "REDIS_PASSWORD")
	viper.BindEnv("redis.db", "REDIS_DB")

	viper.BindEnv("queue.stream", "QUEUE_STREAM")
	viper.BindEnv("queue.group", "QUEUE_GROUP")
	viper.BindEnv("queue.min_idle", "QUEUE_MIN_IDLE")
	viper.BindEnv("queue.reclaim_every", "QUEUE_RECLAIM_EVERY")

	viper.BindEnv("worker.count", "WORKER_COUNT")
	viper.BindEnv("worker.instance", "WORKER_INSTANCE")
	viper.BindEnv("worker.analysis_timeout", "WORKER_ANALYSIS_TIMEOUT")
	viper.BindEnv("worker.requeue_after", "WORKER_REQUEUE_AFTER")

	viper.BindEnv("billing.default_model", "BILLING_DEFAULT_MODEL")
	viper.BindEnv("billing.default_price", "BILLING_DEFAULT_PRICE")
	viper.BindEnv("billing.words_per_unit", "BILLING_WORDS_PER_UNIT")

	viper.BindEnv("analyzer.kind", "ANALYZER_KIND")
	viper.BindEnv("analyzer.endpoint", "ANALYZER_ENDPOINT")
	viper.BindEnv("analyzer.token", "ANALYZER_TOKEN")
	viper.BindEnv("analyzer.timeout", "ANALYZER_TIMEOUT")

	viper.BindEnv("jwt.secret_key", "JWT_SECRET_KEY")

	viper.BindEnv("log.level", "LOG_LEVEL")
	viper.BindEnv("log.format", "LOG_FORMAT")
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.read_timeout", 15*time.Second)
	viper.SetDefault("server.write_timeout", 15*time.Second)
	viper.SetDefault("server.shutdown_timeout", 30*time.Second)
	viper.SetDefault("server.store", "postgres")

	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", "5432")
	viper.SetDefault("database.user", "postgres")
	viper.SetDefault("database.password", "password")
	viper.SetDefault("database.name", "riskdesk")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	viper.SetDefault("database.migrate", true)

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", "6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("queue.stream", "ml:tasks")
	viper.SetDefault("queue.group", "ml_workers")
	viper.SetDefault("queue.dead_letter", "ml:tasks:dead")
	viper.SetDefault("queue.block", 5*time.Second)
	viper.SetDefault("queue.min_idle", 5*time.Minute)

	viper.SetDefault("worker.count", 2)
	viper.SetDefault("worker.instance", "")
	viper.SetDefault("worker.analysis_timeout", 60*time.Second)
	viper.SetDefault("worker.requeue_interval", time.Minute)
	viper.SetDefault("worker.requeue_after", 10*time.Minute)
	viper.SetDefault("worker.requeue_batch_size", 100)

	viper.SetDefault("billing.default_model", "default_model")
	viper.SetDefault("billing.default_price", "1")
	viper.SetDefault("billing.words_per_unit", 500)

	viper.SetDefault("analyzer.kind", "heuristic")
	viper.SetDefault("analyzer.timeout", 30*time.Second)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "text")
}

// Load reads .env (when present) and the environment into a Config.
func Load() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	bindEnv()
	setDefaults()

	// a missing .env is fine, the environment and defaults still apply
	_ = viper.ReadInConfig()

	return FromViper(viper.GetViper())
}

// FromViper builds a Config from an already populated viper instance.
func FromViper(v *viper.Viper) (*Config, error) {
	price, err := decimal.NewFromString(v.GetString("billing.default_price"))
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Port:            v.GetString("server.port"),
			ReadTimeout:     v.GetDuration("server.read_timeout"),
			WriteTimeout:    v.GetDuration("server.write_timeout"),
			ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
			Store:           v.GetString("server.store"),
		},
		Database: DatabaseConfig{
			Host:            v.GetString("database.host"),
			Port:            v.GetString("database.port"),
			User:            v.GetString("database.user"),
			Password:        v.GetString("database.password"),
			Name:            v.GetString("database.name"),
			SSLMode:         v.GetString("database.ssl_mode"),
			MaxOpenConns:    v.GetInt("database.max_open_conns"),
			MaxIdleConns:    v.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: v.GetDuration("database.conn_max_lifetime"),
			Migrate:         v.GetBool("database.migrate"),
		},
		Redis: RedisConfig{
			Host:     v.GetString("redis.host"),
			Port:     v.GetString("redis.port"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Queue: QueueConfig{
			Stream:       v.GetString("queue.stream"),
			Group:        v.GetString("queue.group"),
			DeadLetter:   v.GetString("queue.dead_letter"),
			Block:        v.GetDuration("queue.block"),
			MinIdle:      v.GetDuration("queue.min_idle"),
			ReclaimEvery: v.GetDuration("queue.reclaim_every"),
		},
		Worker: WorkerConfig{
			Count:            v.GetInt("worker.count"),
			Instance:         v.GetString("worker.instance"),
			AnalysisTimeout:  v.GetDuration("worker.analysis_timeout"),
			RequeueInterval:  v.GetDuration("worker.requeue_interval"),
			RequeueAfter:     v.GetDuration("worker.requeue_after"),
			RequeueBatchSize: v.GetInt("worker.requeue_batch_size"),
		},
		Billing: BillingConfig{
			DefaultModel: v.GetString("billing.default_model"),
			DefaultPrice: price,
			WordsPerUnit: v.GetInt("billing.words_per_unit"),
		},
		Analyzer: AnalyzerConfig{
			Kind:     v.GetString("analyzer.kind"),
			Endpoint: v.GetString("analyzer.endpoint"),
			Token:    v.GetString("analyzer.token"),
			Timeout:  v.GetDuration("analyzer.timeout"),
		},
		JWT: JWTConfig{
			SecretKey: v.GetString("jwt.secret_key"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}, nil
}

// DefaultConnectPolicy is used for Postgres and Redis at startup.
func DefaultConnectPolicy() ConnectPolicy {
	return ConnectPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
		MaxAttempts:     8,
	}
}
