package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type AppConfig struct {
	App       AppSettings       `mapstructure:"app"`
	Postgres  PostgresSettings  `mapstructure:"postgres"`
	Redis     RedisSettings     `mapstructure:"redis"`
	Kafka     KafkaSettings     `mapstructure:"kafka"`
	JWT       JWTSettings       `mapstructure:"jwt"`
	Security  SecuritySettings  `mapstructure:"security"`
	Session   SessionSettings   `mapstructure:"session"`
	Notify    NotifySettings    `mapstructure:"notify"`
	RateLimit RateLimitSettings `mapstructure:"rate_limit"`
	Argon2    Argon2Settings    `mapstructure:"argon2"`
}

type AppSettings struct {
	Name           string   `mapstructure:"name"`
	Env            string   `mapstructure:"env"`
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
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

// DSN renders the settings as a pgx connection string.
func (p PostgresSettings) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode)
}

// RedisSettings configures the Redis connection backing rate limiting.
type RedisSettings struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	DB              int    `mapstructure:"db"`
	Password        string `mapstructure:"password"`
	TLSEnabled      bool   `mapstructure:"tls_enabled"`
	RateLimitPrefix string `mapstructure:"rate_limit_prefix"`
}

// KafkaSettings configures the security-event producer.
type KafkaSettings struct {
	Brokers     []string `mapstructure:"brokers"`
	TopicPrefix string   `mapstructure:"topic_prefix"`
}

type JWTSettings struct {
	Secret         string        `mapstructure:"secret"`
	AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
}

// SecuritySettings collects the account security policy constants.
type SecuritySettings struct {
	LockoutThreshold     int           `mapstructure:"lockout_threshold"`
	LoginOTPTTL          time.Duration `mapstructure:"login_otp_ttl"`
	LoginOTPMaxAttempts  int           `mapstructure:"login_otp_max_attempts"`
	OTPLength            int           `mapstructure:"otp_length"`
	UnlockTokenTTL       time.Duration `mapstructure:"unlock_token_ttl"`
	UnlockOTPTTL         time.Duration `mapstructure:"unlock_otp_ttl"`
	UnlockOTPMaxAttempts int           `mapstructure:"unlock_otp_max_attempts"`
	ResetTokenTTL        time.Duration `mapstructure:"reset_token_ttl"`
	PasswordHistoryLimit int           `mapstructure:"password_history_limit"`
	UnlockReasonMinChars int           `mapstructure:"unlock_reason_min_chars"`
}

// SessionSettings configures session lifetime policies.
type SessionSettings struct {
	IdleTimeout   time.Duration `mapstructure:"idle_timeout"`
	Retention     time.Duration `mapstructure:"retention"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// NotifySettings configures the dual-channel delivery gateway.
type NotifySettings struct {
	EmailWebhookURL string        `mapstructure:"email_webhook_url"`
	SMSWebhookURL   string        `mapstructure:"sms_webhook_url"`
	SenderName      string        `mapstructure:"sender_name"`
	ChannelTimeout  time.Duration `mapstructure:"channel_timeout"`
}

// RateLimitSettings configures sliding-window limits per endpoint.
type RateLimitSettings struct {
	WindowDuration    time.Duration `mapstructure:"window_duration"`
	LoginMaxAttempts  int           `mapstructure:"login_max_attempts"`
	UnlockMaxAttempts int           `mapstructure:"unlock_max_attempts"`
}

// Argon2Settings configures Argon2id password hashing parameters.
type Argon2Settings struct {
	Memory      uint32 `mapstructure:"memory"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
	SaltLength  uint32 `mapstructure:"salt_length"`
	KeyLength   uint32 `mapstructure:"key_length"`
}

func Load() (*AppConfig, error) {
	v := viper.New()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("SOCSEC")

	setDefaults(v)

	if err := bindEnvs(v, []string{
		"app.name",
		"app.env",
		"app.host",
		"app.port",
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
		"redis.rate_limit_prefix",
		"kafka.brokers",
		"kafka.topic_prefix",
		"jwt.secret",
		"jwt.access_token_ttl",
		"security.lockout_threshold",
		"security.login_otp_ttl",
		"security.login_otp_max_attempts",
		"security.otp_length",
		"security.unlock_token_ttl",
		"security.unlock_otp_ttl",
		"security.unlock_otp_max_attempts",
		"security.reset_token_ttl",
		"security.password_history_limit",
		"security.unlock_reason_min_chars",
		"session.idle_timeout",
		"session.retention",
		"session.sweep_interval",
		"notify.email_webhook_url",
		"notify.sms_webhook_url",
		"notify.sender_name",
		"notify.channel_timeout",
		"rate_limit.window_duration",
		"rate_limit.login_max_attempts",
		"rate_limit.unlock_max_attempts",
		"argon2.memory",
		"argon2.iterations",
		"argon2.parallelism",
		"argon2.salt_length",
		"argon2.key_length",
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
	v.SetDefault("app.name", "society-security")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("app.allowed_origins", []string{"*"})

	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.user", "socsec")
	v.SetDefault("postgres.password", "socsec_password")
	v.SetDefault("postgres.database", "socsec")
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
	v.SetDefault("redis.rate_limit_prefix", "socsec:rate-limit")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic_prefix", "socsec")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.access_token_ttl", "15m")

	v.SetDefault("security.lockout_threshold", 3)
	v.SetDefault("security.login_otp_ttl", "10m")
	v.SetDefault("security.login_otp_max_attempts", 5)
	v.SetDefault("security.otp_length", 6)
	v.SetDefault("security.unlock_token_ttl", "24h")
	v.SetDefault("security.unlock_otp_ttl", "10m")
	v.SetDefault("security.unlock_otp_max_attempts", 3)
	v.SetDefault("security.reset_token_ttl", "15m")
	v.SetDefault("security.password_history_limit", 5)
	v.SetDefault("security.unlock_reason_min_chars", 10)

	v.SetDefault("session.idle_timeout", "30m")
	v.SetDefault("session.retention", "720h")
	v.SetDefault("session.sweep_interval", "10m")

	v.SetDefault("notify.email_webhook_url", "")
	v.SetDefault("notify.sms_webhook_url", "")
	v.SetDefault("notify.sender_name", "Cooperative Society")
	v.SetDefault("notify.channel_timeout", "5s")

	v.SetDefault("rate_limit.window_duration", "1m")
	v.SetDefault("rate_limit.login_max_attempts", 10)
	v.SetDefault("rate_limit.unlock_max_attempts", 5)

	v.SetDefault("argon2.memory", 65536)
	v.SetDefault("argon2.iterations", 3)
	v.SetDefault("argon2.parallelism", 4)
	v.SetDefault("argon2.salt_length", 16)
	v.SetDefault("argon2.key_length", 32)
}

func bindEnvs(v *viper.Viper, keys []string) error {
	for _, key := range keys {
		envKey := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, "SOCSEC_"+envKey, envKey); err != nil {
			return fmt.Errorf("bind env for %s: %w", key, err)
		}
	}
	return nil
}
