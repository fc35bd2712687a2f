package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Postgres  PostgresConfig
	Redis     RedisConfig
	Worker    WorkerConfig
	Queue     QueueConfig
	Retry     RetryConfig
	Execution ExecutionConfig
	Metrics   MetricsConfig
	Auth      AuthConfig
	LogLevel  string
}

type ServerConfig struct {
	Host         string
	Port         int
	AdminPort    int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// PostgresConfig configures the pgxpool handle shared by the store, queue,
// dead-letter, dispatcher and engine packages.
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// RedisConfig configures the optional Redis connection shared by the
// notifier's pub/sub hint and the events publisher — it is no longer the
// task queue backbone.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type WorkerConfig struct {
	ID                string
	Concurrency       int
	PollInterval      time.Duration
	BatchSize         int
	HeartbeatInterval time.Duration
	StaleThreshold    time.Duration
	DrainTimeout      time.Duration
	NotifyDebounce    time.Duration
}

type QueueConfig struct {
	LockTimeout    time.Duration
	ReaperInterval time.Duration
	NotifyChannel  string
	RateLimitRPS   int
}

type RetryConfig struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool
}

type ExecutionConfig struct {
	DefaultTimeout       time.Duration
	TimeoutCheckInterval time.Duration
	RetentionDays        int
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	APIKeys   []string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/orchestrator")

	setDefaults()

	viper.SetEnvPrefix("ORCHESTRATOR")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.adminport", 8081)
	viper.SetDefault("server.readtimeout", 30*time.Second)
	viper.SetDefault("server.writetimeout", 30*time.Second)
	viper.SetDefault("server.idletimeout", 120*time.Second)

	viper.SetDefault("postgres.dsn", "postgres://localhost:5432/orchestrator?sslmode=disable")
	viper.SetDefault("postgres.maxconns", int32(20))
	viper.SetDefault("postgres.minconns", int32(2))
	viper.SetDefault("postgres.maxconnlifetime", 1*time.Hour)
	viper.SetDefault("postgres.maxconnidletime", 30*time.Minute)

	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.poolsize", 20)
	viper.SetDefault("redis.minidleconns", 5)
	viper.SetDefault("redis.maxretries", 3)
	viper.SetDefault("redis.dialtimeout", 5*time.Second)
	viper.SetDefault("redis.readtimeout", 3*time.Second)
	viper.SetDefault("redis.writetimeout", 3*time.Second)

	viper.SetDefault("worker.id", "")
	viper.SetDefault("worker.concurrency", 10)
	viper.SetDefault("worker.pollinterval", 200*time.Millisecond)
	viper.SetDefault("worker.batchsize", 10)
	viper.SetDefault("worker.heartbeatinterval", 10*time.Second)
	viper.SetDefault("worker.stalethreshold", 60*time.Second)
	viper.SetDefault("worker.draintimeout", 30*time.Second)
	viper.SetDefault("worker.notifydebounce", 50*time.Millisecond)

	viper.SetDefault("queue.locktimeout", 5*time.Minute)
	viper.SetDefault("queue.reaperinterval", 30*time.Second)
	viper.SetDefault("queue.notifychannel", "orchestrator:tasks-available")
	viper.SetDefault("queue.ratelimitrps", 0)

	viper.SetDefault("retry.maxattempts", 3)
	viper.SetDefault("retry.initialdelay", 1*time.Second)
	viper.SetDefault("retry.maxdelay", 5*time.Minute)
	viper.SetDefault("retry.multiplier", 2.0)
	viper.SetDefault("retry.jitter", true)

	viper.SetDefault("execution.defaulttimeout", 24*time.Hour)
	viper.SetDefault("execution.timeoutcheckinterval", 30*time.Second)
	viper.SetDefault("execution.retentiondays", 30)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.path", "/metrics")

	viper.SetDefault("auth.enabled", false)
	viper.SetDefault("auth.jwtsecret", "")
	viper.SetDefault("auth.apikeys", []string{})

	viper.SetDefault("loglevel", "info")
}
