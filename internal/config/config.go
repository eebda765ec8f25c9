package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DBConfig struct {
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type RateLimitRedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

type RateLimitConfig struct {
	LoginLimit int
	Window     time.Duration
	Redis      RateLimitRedisConfig
}

type Config struct {
	App              AppConfig
	JWTAccessSecret  string
	JWTRefreshSecret string
	JWTIssuer        string
	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	DB               DBConfig
	RateLimit        RateLimitConfig
	CORSOrigins      []string
	MigrationsDir    string
	AutoMigrate      bool
}

func Load() (*Config, error) {
	appCfg, err := loadApp(os.Getenv("WMS_CONFIG"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App:              *appCfg,
		JWTAccessSecret:  envString("WMS_JWT_ACCESS_SECRET", ""),
		JWTRefreshSecret: envString("WMS_JWT_REFRESH_SECRET", ""),
		JWTIssuer:        envString("WMS_JWT_ISSUER", "wms-auth"),
		AccessTokenTTL:   envDuration("WMS_ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:  envDuration("WMS_REFRESH_TOKEN_TTL", 7*24*time.Hour),
		DB: DBConfig{
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "wms"),
			User:     envString("POSTGRES_USER", "wms"),
			Password: envString("POSTGRES_PASSWORD", "wms"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
		},
		RateLimit: RateLimitConfig{
			LoginLimit: envInt("WMS_LOGIN_RATE_LIMIT", 10),
			Window:     envDuration("WMS_LOGIN_RATE_WINDOW", 1*time.Minute),
			Redis: RateLimitRedisConfig{
				Addr:     envString("WMS_RATE_LIMIT_REDIS_ADDR", ""),
				Password: envString("WMS_RATE_LIMIT_REDIS_PASSWORD", ""),
				DB:       envInt("WMS_RATE_LIMIT_REDIS_DB", 0),
				Prefix:   envString("WMS_RATE_LIMIT_REDIS_PREFIX", "wms:auth:rl:"),
			},
		},
		CORSOrigins:   envList("WMS_CORS_ORIGINS", []string{"http://localhost:5173"}),
		MigrationsDir: envString("WMS_MIGRATIONS_DIR", "migrations"),
		AutoMigrate:   envBool("WMS_AUTO_MIGRATE", false),
	}

	if cfg.JWTAccessSecret == "" || cfg.JWTRefreshSecret == "" {
		return nil, fmt.Errorf("WMS_JWT_ACCESS_SECRET and WMS_JWT_REFRESH_SECRET must be set")
	}
	if cfg.JWTAccessSecret == cfg.JWTRefreshSecret {
		return nil, fmt.Errorf("access and refresh signing secrets must differ")
	}

	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}
