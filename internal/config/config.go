// Package config loads service settings from the environment.
package config

import (
	"errors"
	"net"
	"os"
	"strconv"
)

type Config struct {
	AppPort string

	// Postgres DSN for the remote bookkeeping store. Empty disables the
	// remote gateway entirely (snapshot-only mode).
	PostgresDSN string

	RedisAddr string
	RedisPass string
	RedisDB   int

	AuthSecret string

	// Seed back-office credentials, created on boot when the roster is empty.
	AdminUsername string
	AdminPassword string
	AdminName     string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	RateLimitRPS   float64
	RateLimitBurst int
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func Load() *Config {
	c := &Config{
		AppPort:     getenv("APP_PORT", "8080"),
		PostgresDSN: os.Getenv("POSTGRES_DSN"),

		RedisAddr: getenv("REDIS_ADDR", ""),
		RedisPass: os.Getenv("REDIS_PASS"),

		AuthSecret: getenv("AUTH_SECRET", "dev-only-secret"),

		AdminUsername: getenv("ADMIN_USERNAME", "admin"),
		AdminPassword: getenv("ADMIN_PASSWORD", "admin123"),
		AdminName:     getenv("ADMIN_NAME", "Administrador"),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:   os.Getenv("OPENAI_MODEL"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

		RateLimitRPS:   50,
		RateLimitBurst: 100,
	}
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.RedisDB = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			c.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.RateLimitBurst = n
		}
	}
	return c
}

func (c *Config) Validate() error {
	if c.AppPort == "" {
		return errors.New("missing APP_PORT")
	}
	if _, err := net.LookupPort("tcp", c.AppPort); err != nil {
		return errors.New("invalid APP_PORT " + strconv.Quote(c.AppPort))
	}
	if c.AuthSecret == "" {
		return errors.New("missing AUTH_SECRET")
	}
	if c.AdminUsername == "" || c.AdminPassword == "" {
		return errors.New("missing seed admin credentials (ADMIN_USERNAME/ADMIN_PASSWORD)")
	}
	return nil
}
