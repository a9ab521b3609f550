package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service and the grading worker.
type Config struct {
	AppName     string
	AppEnv      string
	AppPort     string
	CORSOrigins string
	DatabaseURL string
	RedisURL    string
	NATSURL     string

	NATSEventSubject  string
	NATSStatusSubject string

	JWTSecret     string
	WebhookSecret string
	SessKeyTTL    time.Duration

	HostRelease     int
	HostTablePrefix string
	HostDataRoot    string

	QueueStream       string
	QueueGroup        string
	QueueConsumer     string
	QueueBlock        time.Duration
	QueueClaimIdle    time.Duration
	DeferDelay        time.Duration
	MaxDeferrals      int
	PromoteInterval   time.Duration
	TriggerRateLimit  int
	TriggerRateWindow time.Duration

	WorkerMaxAttempts int
	WorkerRetryDelay  time.Duration
	ProcessingTimeout time.Duration
	PendingTimeout    time.Duration
	SweepSchedule     string
	MaxFileSizeMB     int
	GraderUserID      int64
	WorkerMetricsPort string
	ActivityRetention time.Duration

	AIProvider   string
	OpenAIAPIKey string
	OpenAIModel  string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	return listenAddress(c.AppPort)
}

// WorkerMetricsAddress returns the address of the worker's metrics server.
func (c Config) WorkerMetricsAddress() string {
	return listenAddress(c.WorkerMetricsPort)
}

func listenAddress(port string) string {
	if strings.HasPrefix(port, ":") {
		return port
	}

	return fmt.Sprintf(":%s", port)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("AICHECK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "AI Check API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("cors.origins", "*")
	v.SetDefault("worker.metrics_port", "9091")
	v.SetDefault("nats.event_subject", "moodle.events.assign")
	v.SetDefault("nats.status_subject", "aicheck.records.status")
	v.SetDefault("sesskey.ttl", "2h")
	v.SetDefault("host.release", 2022112800)
	v.SetDefault("host.table_prefix", "mdl_")
	v.SetDefault("host.dataroot", "/var/www/moodledata")
	v.SetDefault("queue.stream", "aicheck:jobs:v1:grading")
	v.SetDefault("queue.group", "aicheck-workers")
	v.SetDefault("queue.block", "5s")
	v.SetDefault("queue.claim_idle", "20m")
	v.SetDefault("queue.defer_delay", "10s")
	v.SetDefault("queue.max_deferrals", 3)
	v.SetDefault("queue.promote_interval", "1s")
	v.SetDefault("trigger.rate_limit", 10)
	v.SetDefault("trigger.rate_window", "1m")
	v.SetDefault("worker.max_attempts", 3)
	v.SetDefault("worker.retry_delay", "30s")
	v.SetDefault("processing.timeout", "15m")
	v.SetDefault("pending.timeout", "1h")
	v.SetDefault("sweep.schedule", "@every 1m")
	v.SetDefault("activity.retention", "2160h")
	v.SetDefault("max_file_size_mb", 5)
	v.SetDefault("ai.provider", "openai")
	v.SetDefault("openai.model", "gpt-4o-mini")

	durations := map[string]time.Duration{}
	for _, key := range []string{"sesskey.ttl", "queue.block", "queue.claim_idle", "queue.defer_delay", "queue.promote_interval", "trigger.rate_window", "worker.retry_delay", "processing.timeout", "pending.timeout", "activity.retention"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid duration for %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:           v.GetString("app.name"),
		AppEnv:            v.GetString("app.env"),
		AppPort:           v.GetString("app.port"),
		CORSOrigins:       v.GetString("cors.origins"),
		DatabaseURL:       v.GetString("database.url"),
		RedisURL:          v.GetString("redis.url"),
		NATSURL:           v.GetString("nats.url"),
		NATSEventSubject:  v.GetString("nats.event_subject"),
		NATSStatusSubject: v.GetString("nats.status_subject"),
		JWTSecret:         v.GetString("jwt.secret"),
		WebhookSecret:     v.GetString("webhook.secret"),
		SessKeyTTL:        durations["sesskey.ttl"],
		HostRelease:       v.GetInt("host.release"),
		HostTablePrefix:   v.GetString("host.table_prefix"),
		HostDataRoot:      v.GetString("host.dataroot"),
		QueueStream:       v.GetString("queue.stream"),
		QueueGroup:        v.GetString("queue.group"),
		QueueConsumer:     v.GetString("queue.consumer"),
		QueueBlock:        durations["queue.block"],
		QueueClaimIdle:    durations["queue.claim_idle"],
		DeferDelay:        durations["queue.defer_delay"],
		MaxDeferrals:      v.GetInt("queue.max_deferrals"),
		PromoteInterval:   durations["queue.promote_interval"],
		TriggerRateLimit:  v.GetInt("trigger.rate_limit"),
		TriggerRateWindow: durations["trigger.rate_window"],
		WorkerMaxAttempts: v.GetInt("worker.max_attempts"),
		WorkerRetryDelay:  durations["worker.retry_delay"],
		ProcessingTimeout: durations["processing.timeout"],
		PendingTimeout:    durations["pending.timeout"],
		SweepSchedule:     v.GetString("sweep.schedule"),
		MaxFileSizeMB:     v.GetInt("max_file_size_mb"),
		GraderUserID:      v.GetInt64("grader_user_id"),
		WorkerMetricsPort: v.GetString("worker.metrics_port"),
		ActivityRetention: durations["activity.retention"],
		AIProvider:        strings.ToLower(v.GetString("ai.provider")),
		OpenAIAPIKey:      v.GetString("openai_api_key"),
		OpenAIModel:       v.GetString("openai.model"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.DeferDelay <= 0 {
		cfg.DeferDelay = 10 * time.Second
	}

	if cfg.MaxDeferrals < 0 {
		cfg.MaxDeferrals = 0
	}

	if cfg.WorkerMaxAttempts <= 0 {
		cfg.WorkerMaxAttempts = 3
	}

	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 5
	}

	return cfg, nil
}
