package config

import (
	"time"

	"github.com/caarlos0/env/v10"
)

// Config centraliza la configuración del servicio.
type Config struct {
	HTTPPort    string `env:"HTTP_PORT" envDefault:"8080"`
	DatabaseURL string `env:"DATABASE_URL,required"`

	RedisAddr     string `env:"REDIS_ADDR"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret            string `env:"JWT_SECRET"`
	JWTAccessTTLMinutes  int    `env:"JWT_ACCESS_TTL_MINUTES" envDefault:"15"`
	JWTRefreshTTLMinutes int    `env:"JWT_REFRESH_TTL_MINUTES" envDefault:"43200"`

	OTPTTLMinutes        int `env:"OTP_TTL_MINUTES" envDefault:"5"`
	OTPMaxPerWindow      int `env:"OTP_MAX_PER_WINDOW" envDefault:"3"`
	TokenCacheTTLMinutes int `env:"TOKEN_CACHE_TTL_MINUTES" envDefault:"1440"`

	CacheTimeoutMs      int `env:"CACHE_TIMEOUT_MS" envDefault:"500"`
	StoreTimeoutMs      int `env:"STORE_TIMEOUT_MS" envDefault:"3000"`
	StoreRetryAttempts  int `env:"STORE_RETRY_ATTEMPTS" envDefault:"3"`
	StoreRetryBackoffMs int `env:"STORE_RETRY_BACKOFF_MS" envDefault:"100"`
	UsageQueueSize      int `env:"USAGE_QUEUE_SIZE" envDefault:"256"`

	SMTPHost     string `env:"SMTP_HOST"`
	SMTPPort     int    `env:"SMTP_PORT" envDefault:"587"`
	SMTPUser     string `env:"SMTP_USER"`
	SMTPPass     string `env:"SMTP_PASS"`
	SMTPFrom     string `env:"SMTP_FROM"`
	SMTPFromName string `env:"SMTP_FROM_NAME"`
	SMTPUseTLS   bool   `env:"SMTP_USE_TLS" envDefault:"false"`
}

// LoadConfig carga la configuración desde variables de entorno.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// OTPTTL devuelve el TTL de los códigos OTP.
func (c *Config) OTPTTL() time.Duration {
	return time.Duration(c.OTPTTLMinutes) * time.Minute
}

// TokenCacheTTL devuelve el TTL de las proyecciones de tokens en cache.
func (c *Config) TokenCacheTTL() time.Duration {
	return time.Duration(c.TokenCacheTTLMinutes) * time.Minute
}

// CacheTimeout devuelve el timeout por operación contra la cache.
func (c *Config) CacheTimeout() time.Duration {
	return time.Duration(c.CacheTimeoutMs) * time.Millisecond
}

// StoreTimeout devuelve el timeout por operación contra la base durable.
func (c *Config) StoreTimeout() time.Duration {
	return time.Duration(c.StoreTimeoutMs) * time.Millisecond
}

// StoreRetryBackoff devuelve el backoff base entre reintentos de escritura.
func (c *Config) StoreRetryBackoff() time.Duration {
	return time.Duration(c.StoreRetryBackoffMs) * time.Millisecond
}
