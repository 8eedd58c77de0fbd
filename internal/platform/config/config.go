// Package config loads runtime configuration from the environment.
//
// Values that differ between deployments (addresses, secrets) have no default;
// timing knobs default to the values the consent flows are tuned for.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Server       Server
	Log          Log
	Redis        RedisConfig
	Postgres     PostgresConfig
	Kafka        KafkaConfig
	Gateway      GatewayConfig
	Correlation  CorrelationConfig
	Consent      ConsentConfig
	Idempotency  IdempotencyConfig
	Notification NotificationConfig
	Scheduler    SchedulerConfig
	Authz        AuthzConfig
}

// Server captures HTTP server level configuration.
type Server struct {
	Addr            string        `envconfig:"CONSENT_MANAGER_ADDR" default:":8080"`
	JWTSigningKey   string        `envconfig:"JWT_SIGNING_KEY" default:"dev-secret-key-change-in-production"`
	JWTIssuer       string        `envconfig:"JWT_ISSUER" default:"consent-manager"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"15s"`
}

type Log struct {
	Level string `envconfig:"LOG_LEVEL" default:"info"`
}

type RedisConfig struct {
	URL          string        `envconfig:"REDIS_URL"`
	PoolSize     int           `envconfig:"REDIS_POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"REDIS_READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"REDIS_WRITE_TIMEOUT" default:"3s"`
}

type PostgresConfig struct {
	DSN             string        `envconfig:"DATABASE_URL"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"30m"`
}

type KafkaConfig struct {
	Brokers       []string `envconfig:"KAFKA_BROKERS"`
	ConsumerGroup string   `envconfig:"KAFKA_CONSUMER_GROUP" default:"consent-manager-notifications"`
	Partitions    int32    `envconfig:"KAFKA_TOPIC_PARTITIONS" default:"3"`
	Replication   int16    `envconfig:"KAFKA_TOPIC_REPLICATION" default:"1"`
}

type GatewayConfig struct {
	BaseURL string        `envconfig:"GATEWAY_BASE_URL" default:"http://localhost:8000"`
	Timeout time.Duration `envconfig:"GATEWAY_HTTP_TIMEOUT" default:"10s"`
	// ClientID is this consent manager's identity towards the Gateway (X-CM-ID).
	ClientID string `envconfig:"GATEWAY_CLIENT_ID" default:"consent-manager"`
}

type CorrelationConfig struct {
	Timeout      time.Duration `envconfig:"CORRELATION_TIMEOUT" default:"5s"`
	PollInterval time.Duration `envconfig:"CORRELATION_POLL_INTERVAL" default:"100ms"`
	TTL          time.Duration `envconfig:"CORRELATION_TTL" default:"2m"`
}

type ConsentConfig struct {
	RequestExpiry      time.Duration `envconfig:"CONSENT_REQUEST_EXPIRY" default:"60m"`
	ArtefactSigningKey string        `envconfig:"CONSENT_ARTEFACT_SIGNING_KEY" default:"dev-artefact-key-change-in-production"`
	// AutoApprovalHIUs lists HIUs whose requests skip patient approval.
	AutoApprovalHIUs []string `envconfig:"CONSENT_AUTO_APPROVAL_HIUS"`
	// AutoApprovalPurposes restricts auto-approval to these purpose codes.
	AutoApprovalPurposes []string `envconfig:"CONSENT_AUTO_APPROVAL_PURPOSES"`
}

type IdempotencyConfig struct {
	Window      time.Duration `envconfig:"IDEMPOTENCY_WINDOW" default:"5m"`
	AllowedSkew time.Duration `envconfig:"IDEMPOTENCY_ALLOWED_SKEW" default:"30s"`
}

type NotificationConfig struct {
	MaxRetries int `envconfig:"NOTIFICATION_MAX_RETRIES" default:"3"`
	// DedupeTTL bounds how long a delivered (request, status, target) is remembered.
	DedupeTTL time.Duration `envconfig:"NOTIFICATION_DEDUPE_TTL" default:"24h"`
}

type SchedulerConfig struct {
	RequestSweep  string `envconfig:"SCHEDULER_REQUEST_SWEEP" default:"@every 1m"`
	ArtefactSweep string `envconfig:"SCHEDULER_ARTEFACT_SWEEP" default:"@every 5m"`
	PageSize      int    `envconfig:"SCHEDULER_PAGE_SIZE" default:"100"`
}

type AuthzConfig struct {
	// SigningKey signs HIP action tokens; distinct from caller bearer tokens.
	SigningKey string        `envconfig:"AUTHZ_SIGNING_KEY" default:"dev-authz-key-change-in-production"`
	ActionTTL  time.Duration `envconfig:"AUTHZ_ACTION_TTL" default:"10m"`
}

// Load reads the environment and validates cross-field rules.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process env config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces relations between settings that tags cannot express.
func (c Config) Validate() error {
	var errs []error
	if c.Correlation.Timeout <= 0 {
		errs = append(errs, errors.New("CORRELATION_TIMEOUT must be positive"))
	}
	if c.Correlation.PollInterval <= 0 || c.Correlation.PollInterval >= c.Correlation.Timeout {
		errs = append(errs, errors.New("CORRELATION_POLL_INTERVAL must be positive and below CORRELATION_TIMEOUT"))
	}
	if c.Correlation.TTL <= c.Correlation.Timeout {
		errs = append(errs, fmt.Errorf("CORRELATION_TTL (%s) must exceed CORRELATION_TIMEOUT (%s)", c.Correlation.TTL, c.Correlation.Timeout))
	}
	if c.Consent.RequestExpiry <= 0 {
		errs = append(errs, errors.New("CONSENT_REQUEST_EXPIRY must be positive"))
	}
	if c.Idempotency.Window <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_WINDOW must be positive"))
	}
	if c.Idempotency.AllowedSkew < 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_ALLOWED_SKEW must not be negative"))
	}
	if c.Notification.MaxRetries < 1 {
		errs = append(errs, errors.New("NOTIFICATION_MAX_RETRIES must be at least 1"))
	}
	if c.Scheduler.PageSize < 1 {
		errs = append(errs, errors.New("SCHEDULER_PAGE_SIZE must be at least 1"))
	}
	return errors.Join(errs...)
}

// NewTestConfig returns a configuration with short timings for tests.
func NewTestConfig() Config {
	return Config{
		Server:       Server{Addr: ":0", JWTSigningKey: "test-key", JWTIssuer: "consent-manager-test"},
		Log:          Log{Level: "error"},
		Gateway:      GatewayConfig{BaseURL: "http://gateway.test", Timeout: time.Second, ClientID: "cm-test"},
		Correlation:  CorrelationConfig{Timeout: 200 * time.Millisecond, PollInterval: 10 * time.Millisecond, TTL: time.Minute},
		Consent:      ConsentConfig{RequestExpiry: 10 * time.Minute, ArtefactSigningKey: "test-artefact-key"},
		Idempotency:  IdempotencyConfig{Window: 5 * time.Minute, AllowedSkew: 30 * time.Second},
		Notification: NotificationConfig{MaxRetries: 3, DedupeTTL: time.Hour},
		Scheduler:    SchedulerConfig{RequestSweep: "@every 1m", ArtefactSweep: "@every 1m", PageSize: 2},
		Authz:        AuthzConfig{SigningKey: "test-authz-signing-key", ActionTTL: 10 * time.Minute},
	}
}
