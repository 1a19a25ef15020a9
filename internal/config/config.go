package config

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBSchema       string   `mapstructure:"DB_SCHEMA"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	RedisURL       string   `mapstructure:"REDIS_URL"`
	JWTSecret      string   `mapstructure:"JWT_SECRET"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// Chat
	ChatRateLimitPerMin int           `mapstructure:"CHAT_RATE_LIMIT_PER_MIN"`
	ChatHistoryWindow   int           `mapstructure:"CHAT_HISTORY_WINDOW"`
	AIServiceURL        string        `mapstructure:"AI_SERVICE_URL"`
	AITimeout           time.Duration `mapstructure:"AI_TIMEOUT"`

	// ai-service
	AIServicePort string `mapstructure:"AI_SERVICE_PORT"`
	OpenAIAPIKey  string `mapstructure:"OPENAI_API_KEY"`
	OpenAIBaseURL string `mapstructure:"OPENAI_BASE_URL"`
	AIModel       string `mapstructure:"AI_MODEL"`
	AIMaxTokens   int    `mapstructure:"AI_MAX_TOKENS"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_SCHEMA", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"REDIS_URL", "JWT_SECRET", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"BODY_LIMIT", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST",
	"CHAT_RATE_LIMIT_PER_MIN", "CHAT_HISTORY_WINDOW", "AI_SERVICE_URL", "AI_TIMEOUT",
	"AI_SERVICE_PORT", "OPENAI_API_KEY", "OPENAI_BASE_URL", "AI_MODEL", "AI_MAX_TOKENS",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "3001")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_SCHEMA", "public")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("CORS_ORIGINS", "http://localhost:5173")
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("RATE_LIMIT_RPS", 200.0/900.0) // 200 requests per 15 minutes
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("CHAT_RATE_LIMIT_PER_MIN", 20)
	v.SetDefault("CHAT_HISTORY_WINDOW", 20)
	v.SetDefault("AI_TIMEOUT", "15s")
	v.SetDefault("AI_SERVICE_PORT", "8001")
	v.SetDefault("AI_MODEL", "gpt-4o-mini")
	v.SetDefault("AI_MAX_TOKENS", 800)

	for _, k := range envKeys {
		v.BindEnv(k) //nolint:errcheck // only fails on empty key
	}

	// .env is optional
	_ = v.ReadInConfig()
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	// viper's own slice decoding keeps the spaces after the commas
	cfg.CORSOrigins = splitList(v.GetString("CORS_ORIGINS"))
	return cfg, nil
}

// Load reads configuration for the API server. DATABASE_URL is required.
func Load() (*Config, error) {
	cfg, err := unmarshal(newViper())
	if err != nil {
		return nil, err
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() && cfg.JWTSecret == "" {
		log.Println("WARNING: ENV=development and JWT_SECRET is unset: all requests run as the dev user.")
	}
	return cfg, nil
}

// LoadAIService reads configuration for the ai-service command, which does
// not need a database.
func LoadAIService() (*Config, error) {
	return unmarshal(newViper())
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Validate checks cross-field rules that Load cannot express as defaults.
func (c *Config) Validate() error {
	if !c.IsDev() && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET must be set when ENV=%q", c.Env)
	}
	if c.IsProduction() && len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 bytes in production")
	}
	if c.ChatRateLimitPerMin <= 0 {
		return fmt.Errorf("CHAT_RATE_LIMIT_PER_MIN must be positive, got %d", c.ChatRateLimitPerMin)
	}
	if c.ChatHistoryWindow <= 0 {
		return fmt.Errorf("CHAT_HISTORY_WINDOW must be positive, got %d", c.ChatHistoryWindow)
	}
	if c.AITimeout <= 0 {
		return fmt.Errorf("AI_TIMEOUT must be positive, got %s", c.AITimeout)
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS (%d) exceeds DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
