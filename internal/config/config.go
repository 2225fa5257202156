package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment key, e.g. RASTERKIT_QUEUE_REDIS_ADDR.
const EnvPrefix = "RASTERKIT"

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Webhook   WebhookConfig
	RateLimit RateLimitConfig
	Filter    FilterConfig
}

type APIConfig struct {
	Addr       string
	PresignTTL time.Duration
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency    int
	MaxActiveJobs  int
	LocalOutputDir string
	MetricsAddr    string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	DSN string
}

type TelemetryConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type RateLimitConfig struct {
	Enabled      bool
	Requests     int
	Window       time.Duration
	UserIDHeader string
}

type FilterConfig struct {
	Workers int
}

// New returns a viper instance with defaults and environment binding set up.
// Callers may bind flags into it before calling FromViper.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads defaults, the optional YAML file and the environment, in
// increasing order of precedence.
func Load(file string) (Config, error) {
	v := New()
	if err := ReadFile(v, file); err != nil {
		return Config{}, err
	}
	return FromViper(v), nil
}

// ReadFile merges a config file into v. An empty name is a no-op.
func ReadFile(v *viper.Viper, file string) error {
	if strings.TrimSpace(file) == "" {
		return nil
	}
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", file, err)
	}
	return nil
}

func FromViper(v *viper.Viper) Config {
	return Config{
		API: APIConfig{
			Addr:       v.GetString("api.addr"),
			PresignTTL: v.GetDuration("api.presign_ttl"),
		},
		Queue: QueueConfig{
			RedisAddr:     v.GetString("queue.redis_addr"),
			RedisPassword: v.GetString("queue.redis_password"),
			RedisDB:       v.GetInt("queue.redis_db"),
			Name:          v.GetString("queue.name"),
		},
		Worker: WorkerConfig{
			Concurrency:    v.GetInt("worker.concurrency"),
			MaxActiveJobs:  v.GetInt("worker.max_active_jobs"),
			LocalOutputDir: v.GetString("worker.local_output_dir"),
			MetricsAddr:    v.GetString("worker.metrics_addr"),
		},
		Storage: StorageConfig{
			Endpoint:  v.GetString("storage.endpoint"),
			AccessKey: v.GetString("storage.access_key"),
			SecretKey: v.GetString("storage.secret_key"),
			Bucket:    v.GetString("storage.bucket"),
			UseSSL:    v.GetBool("storage.use_ssl"),
		},
		Database: DatabaseConfig{
			DSN: v.GetString("database.dsn"),
		},
		Telemetry: TelemetryConfig{
			Exporter:     v.GetString("telemetry.exporter"),
			OTLPEndpoint: v.GetString("telemetry.otlp_endpoint"),
			OTLPInsecure: v.GetBool("telemetry.otlp_insecure"),
		},
		Webhook: WebhookConfig{
			SigningSecret:  v.GetString("webhook.signing_secret"),
			Timeout:        v.GetDuration("webhook.timeout"),
			MaxAttempts:    v.GetInt("webhook.max_attempts"),
			InitialBackoff: v.GetDuration("webhook.initial_backoff"),
			MaxBackoff:     v.GetDuration("webhook.max_backoff"),
		},
		RateLimit: RateLimitConfig{
			Enabled:      v.GetBool("ratelimit.enabled"),
			Requests:     v.GetInt("ratelimit.requests"),
			Window:       v.GetDuration("ratelimit.window"),
			UserIDHeader: v.GetString("ratelimit.user_id_header"),
		},
		Filter: FilterConfig{
			Workers: max(1, v.GetInt("filter.workers")),
		},
	}
}

func setDefaults(v *viper.Viper) {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.presign_ttl", 15*time.Minute)

	v.SetDefault("queue.redis_addr", "localhost:6379")
	v.SetDefault("queue.redis_password", "")
	v.SetDefault("queue.redis_db", 0)
	v.SetDefault("queue.name", "default")

	v.SetDefault("worker.concurrency", max(2, runtime.NumCPU()))
	v.SetDefault("worker.max_active_jobs", defaultWorkerSlots)
	v.SetDefault("worker.local_output_dir", "./.rasterkit-output")
	v.SetDefault("worker.metrics_addr", ":9091")

	v.SetDefault("storage.endpoint", "localhost:9000")
	v.SetDefault("storage.access_key", "minioadmin")
	v.SetDefault("storage.secret_key", "minioadmin")
	v.SetDefault("storage.bucket", "rasterkit-jobs")
	v.SetDefault("storage.use_ssl", false)

	v.SetDefault("database.dsn", "")

	v.SetDefault("telemetry.exporter", "none")
	v.SetDefault("telemetry.otlp_endpoint", "")
	v.SetDefault("telemetry.otlp_insecure", false)

	v.SetDefault("webhook.signing_secret", "")
	v.SetDefault("webhook.timeout", 10*time.Second)
	v.SetDefault("webhook.max_attempts", 3)
	v.SetDefault("webhook.initial_backoff", time.Second)
	v.SetDefault("webhook.max_backoff", 10*time.Second)

	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", time.Minute)
	v.SetDefault("ratelimit.user_id_header", "X-User-ID")

	v.SetDefault("filter.workers", 1)
}
