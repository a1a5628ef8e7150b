package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the full process configuration, read from the environment.
type Config struct {
	Server   ServerConfig    `envconfig:"TUMI"`
	Log      LogConfig       `envconfig:"LOG"`
	Database DatabaseConfig  `envconfig:"DATABASE"`
	Redis    RedisConfig     `envconfig:"REDIS"`
	Stripe   StripeConfig    `envconfig:"STRIPE"`
	Auth     AuthConfig      `envconfig:"AUTH"`
	Events   EventsConfig    `envconfig:"EVENTS"`
	Limits   RateLimitConfig `envconfig:"RATELIMIT"`
	Tracing  TracingConfig   `envconfig:"OTEL"`
}

// ServerConfig captures HTTP server level configuration.
type ServerConfig struct {
	Addr            string        `envconfig:"ADDR" default:":8080"`
	Environment     string        `envconfig:"ENV" default:"development"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`
	// TrustProxy honours X-Forwarded-For for client addresses. Only set it
	// behind a proxy that overwrites the header.
	TrustProxy      bool          `envconfig:"TRUST_PROXY" default:"false"`
}

type LogConfig struct {
	Level  string `envconfig:"LEVEL" default:"info"`
	Format string `envconfig:"FORMAT" default:"json"`
}

type DatabaseConfig struct {
	URL             string        `envconfig:"URL"`
	MaxOpenConns    int           `envconfig:"MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"CONN_MAX_LIFETIME" default:"30m"`
}

// RedisConfig is optional; an empty URL disables Redis and webhook
// deduplication falls back to process memory.
type RedisConfig struct {
	URL          string        `envconfig:"URL"`
	PoolSize     int           `envconfig:"POOL_SIZE" default:"10"`
	MinIdleConns int           `envconfig:"MIN_IDLE_CONNS" default:"2"`
	DialTimeout  time.Duration `envconfig:"DIAL_TIMEOUT" default:"5s"`
	ReadTimeout  time.Duration `envconfig:"READ_TIMEOUT" default:"3s"`
	WriteTimeout time.Duration `envconfig:"WRITE_TIMEOUT" default:"3s"`
}

// StripeConfig keeps the variable names the platform has always used:
// STRIPE_KEY and STRIPE_WH_SECRET.
type StripeConfig struct {
	SecretKey     string        `envconfig:"KEY"`
	WebhookSecret string        `envconfig:"WH_SECRET"`
	Tolerance     time.Duration `envconfig:"TOLERANCE" default:"5m"`
	DedupeTTL     time.Duration `envconfig:"DEDUPE_TTL" default:"72h"`
}

type AuthConfig struct {
	JWTSigningKey string `envconfig:"JWT_SIGNING_KEY"`
	Issuer        string `envconfig:"ISSUER" default:"tumi"`
}

// Broker selects the outbox publisher.
type Broker string

const (
	BrokerNone  Broker = "none"
	BrokerKafka Broker = "kafka"
	BrokerAMQP  Broker = "amqp"
)

type EventsConfig struct {
	Broker         Broker        `envconfig:"BROKER" default:"none"`
	KafkaBrokers   []string      `envconfig:"KAFKA_BROKERS"`
	Topic          string        `envconfig:"TOPIC" default:"tumi.payments"`
	AMQPURL        string        `envconfig:"AMQP_URL"`
	OutboxInterval time.Duration `envconfig:"OUTBOX_INTERVAL" default:"2s"`
	OutboxBatch    int           `envconfig:"OUTBOX_BATCH" default:"100"`
}

// RateLimitConfig bounds GraphQL requests per client IP. Zero disables it.
// The webhook route is never limited; Stripe retries would only pile up.
type RateLimitConfig struct {
	GraphQLRequests int           `envconfig:"GRAPHQL_REQUESTS" default:"300"`
	Window          time.Duration `envconfig:"WINDOW" default:"1m"`
}

// TracingConfig uses the standard OTEL_* names. An empty endpoint keeps the
// global no-op tracer.
type TracingConfig struct {
	Endpoint    string  `envconfig:"EXPORTER_OTLP_ENDPOINT"`
	ServiceName string  `envconfig:"SERVICE_NAME" default:"tumi"`
	SampleRatio float64 `envconfig:"TRACES_SAMPLE_RATIO" default:"1"`
}

// FromEnv builds a Config from environment variables so main stays lean.
func FromEnv() (Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return Config{}, fmt.Errorf("read environment: %w", err)
	}
	return c, nil
}

// IsProduction reports whether the server runs in production mode.
func (c Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Validate enforces the settings the HTTP server cannot start without.
func (c Config) Validate() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Stripe.SecretKey == "" {
		errs = append(errs, errors.New("STRIPE_KEY is required"))
	}
	if c.Stripe.WebhookSecret == "" {
		errs = append(errs, errors.New("STRIPE_WH_SECRET is required"))
	}
	if c.Auth.JWTSigningKey == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("AUTH_JWT_SIGNING_KEY is required in production"))
		}
	}
	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OTEL_TRACES_SAMPLE_RATIO must be within [0,1], got %v", c.Tracing.SampleRatio))
	}
	switch c.Events.Broker {
	case BrokerNone:
	case BrokerKafka:
		if len(c.Events.KafkaBrokers) == 0 {
			errs = append(errs, errors.New("EVENTS_KAFKA_BROKERS is required for the kafka broker"))
		}
	case BrokerAMQP:
		if c.Events.AMQPURL == "" {
			errs = append(errs, errors.New("EVENTS_AMQP_URL is required for the amqp broker"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EVENTS_BROKER %q", c.Events.Broker))
	}
	return errors.Join(errs...)
}

// SigningKey returns the JWT key, substituting a development default outside
// production.
func (c Config) SigningKey() []byte {
	if c.Auth.JWTSigningKey == "" {
		return []byte("dev-secret-key-change-in-production")
	}
	return []byte(c.Auth.JWTSigningKey)
}
