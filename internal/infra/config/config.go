package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "ROOMIE"

type AppConfig struct {
	App          AppSettings          `mapstructure:"app"`
	Postgres     PostgresSettings     `mapstructure:"postgres"`
	Redis        RedisSettings        `mapstructure:"redis"`
	Kafka        KafkaSettings        `mapstructure:"kafka"`
	Telemetry    TelemetrySettings    `mapstructure:"telemetry"`
	RateLimit    RateLimitSettings    `mapstructure:"rate_limit"`
	Argon2       Argon2Settings       `mapstructure:"argon2"`
	Verification VerificationSettings `mapstructure:"verification"`
	Social       SocialSettings       `mapstructure:"social"`
	Session      SessionSettings      `mapstructure:"session"`
}

type AppSettings struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	// PublicURL is the externally visible base URL used in emailed links and OAuth redirects.
	PublicURL      string   `mapstructure:"public_url"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PostgresSettings struct {
	Host              string        `mapstructure:"host"`
	Port              int           `mapstructure:"port"`
	User              string        `mapstructure:"user"`
	Password          string        `mapstructure:"password"`
	Database          string        `mapstructure:"database"`
	SSLMode           string        `mapstructure:"ssl_mode"`
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
}

// RedisSettings configures the Redis connection and key namespace.
type RedisSettings struct {
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	DB         int    `mapstructure:"db"`
	Password   string `mapstructure:"password"`
	TLSEnabled bool   `mapstructure:"tls_enabled"`
	KeyPrefix  string `mapstructure:"key_prefix"`
}

// KafkaSettings configures the notification producer. Empty brokers selects the log-only publisher.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
	Async       bool     `mapstructure:"async"`
}

type TelemetrySettings struct {
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint"`
	ServiceName    string  `mapstructure:"service_name"`
	ServiceVersion string  `mapstructure:"service_version"`
	SamplingRate   float64 `mapstructure:"sampling_rate"`
}

// RateLimitSettings configures sliding windows per operation.
type RateLimitSettings struct {
	WindowDuration           time.Duration `mapstructure:"window_duration"`
	SignInMaxAttempts        int           `mapstructure:"sign_in_max_attempts"`
	RegisterMaxAttempts      int           `mapstructure:"register_max_attempts"`
	PasswordResetMaxAttempts int           `mapstructure:"password_reset_max_attempts"`
	PhoneSendMaxAttempts     int           `mapstructure:"phone_send_max_attempts"`
	PhoneSendWindow          time.Duration `mapstructure:"phone_send_window"`
}

// Argon2Settings configures Argon2id password hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

type VerificationSettings struct {
	CodeTTL          time.Duration `mapstructure:"code_ttl"`
	ChallengeTTL     time.Duration `mapstructure:"challenge_ttl"`
	EmailLinkTTL     time.Duration `mapstructure:"email_link_ttl"`
	PasswordResetTTL time.Duration `mapstructure:"password_reset_ttl"`
	FlowIdleTTL      time.Duration `mapstructure:"flow_idle_ttl"`
	DispatchAnchor   string        `mapstructure:"dispatch_anchor"`
	MinPasswordScore int           `mapstructure:"min_password_score"`
}

type SocialSettings struct {
	Google         GoogleSettings `mapstructure:"google"`
	Apple          AppleSettings  `mapstructure:"apple"`
	ConsentTimeout time.Duration  `mapstructure:"consent_timeout"`
}

type GoogleSettings struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
}

// AppleSettings holds what is needed to mint the ES256 client secret.
type AppleSettings struct {
	ClientID       string `mapstructure:"client_id"`
	TeamID         string `mapstructure:"team_id"`
	KeyID          string `mapstructure:"key_id"`
	PrivateKeyPath string `mapstructure:"private_key_path"`
}

type SessionSettings struct {
	CookieName   string        `mapstructure:"cookie_name"`
	TTL          time.Duration `mapstructure:"ttl"`
	SecureCookie bool          `mapstructure:"secure_cookie"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix(envPrefix)

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
		"app.public_url",
		"app.allowed_origins",
		"postgres.host",
		"postgres.port",
		"postgres.user",
		"postgres.password",
		"postgres.database",
		"postgres.ssl_mode",
		"postgres.max_conns",
		"postgres.min_conns",
		"postgres.max_conn_lifetime",
		"postgres.max_conn_idle_time",
		"postgres.health_check_period",
		"redis.host",
		"redis.port",
		"redis.db",
		"redis.password",
		"redis.tls_enabled",
		"redis.key_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"kafka.async",
		"telemetry.otlp_endpoint",
		"telemetry.service_name",
		"telemetry.service_version",
		"telemetry.sampling_rate",
		"rate_limit.window_duration",
		"rate_limit.sign_in_max_attempts",
		"rate_limit.register_max_attempts",
		"rate_limit.password_reset_max_attempts",
		"rate_limit.phone_send_max_attempts",
		"rate_limit.phone_send_window",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
		"verification.code_ttl",
		"verification.challenge_ttl",
		"verification.email_link_ttl",
		"verification.password_reset_ttl",
		"verification.flow_idle_ttl",
		"verification.dispatch_anchor",
		"verification.min_password_score",
		"social.consent_timeout",
		"social.google.client_id",
		"social.google.client_secret",
		"social.apple.client_id",
		"social.apple.team_id",
		"social.apple.key_id",
		"social.apple.private_key_path",
		"session.cookie_name",
		"session.ttl",
		"session.secure_cookie",
	}); err != nil {
		return nil, err
	}

	v.AutomaticEnv()

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "roomie-identity")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.public_url", "http://localhost:8080")
	v.SetDefault("app.allowed_origins", []string{"http://localhost:5173"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "roomie")
	v.SetDefault("postgres.password", "roomie_password")
	v.SetDefault("postgres.database", "roomie")
	v.SetDefault("postgres.ssl_mode", "disable")
	v.SetDefault("postgres.max_conns", 10)
	v.SetDefault("postgres.min_conns", 2)
	v.SetDefault("postgres.max_conn_lifetime", "60m")
	v.SetDefault("postgres.max_conn_idle_time", "15m")
	v.SetDefault("postgres.health_check_period", "30s")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.tls_enabled", false)
	v.SetDefault("redis.key_prefix", "roomie")

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_prefix", "roomie")
	v.SetDefault("kafka.async", true)

	v.SetDefault("telemetry.otlp_endpoint", "http://localhost:4318")
	v.SetDefault("telemetry.service_name", "roomie-identity")
	v.SetDefault("telemetry.service_version", "dev")
	v.SetDefault("telemetry.sampling_rate", 1.0)

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.sign_in_max_attempts", 5)
	v.SetDefault("rate_limit.register_max_attempts", 3)
	v.SetDefault("rate_limit.password_reset_max_attempts", 3)
	v.SetDefault("rate_limit.phone_send_max_attempts", 5)
	v.SetDefault("rate_limit.phone_send_window", "1h")

	v.SetDefault("argon2.memory", 65536) // 64 MB
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)

	v.SetDefault("verification.code_ttl", "10m")
	v.SetDefault("verification.challenge_ttl", "2m")
	v.SetDefault("verification.email_link_ttl", "24h")
	v.SetDefault("verification.password_reset_ttl", "1h")
	v.SetDefault("verification.flow_idle_ttl", "10m")
	v.SetDefault("verification.dispatch_anchor", "send-code-button")
	v.SetDefault("verification.min_password_score", 0)

	v.SetDefault("social.consent_timeout", "5m")

	v.SetDefault("session.cookie_name", "roomie_session")
	v.SetDefault("session.ttl", "720h")
	v.SetDefault("session.secure_cookie", false)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envPrefix+"_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}

// Addr returns the HTTP listen address.
func (c *AppConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.App.Host, c.App.Port)
}
