package utils

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config is built once at startup and handed to components explicitly.
// Nothing outside this file reads the environment.
type Config struct {
	DatabaseURL string
	ServerPort  string

	JWTSecret       string
	JWTIssuer       string
	TokenTTLMinutes int

	SMTPHost string
	SMTPPort int
	SMTPUser string
	SMTPPass string
	MailFrom string
}

func LoadConfig() (*Config, error) {
	// .env is optional outside local development
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:     os.Getenv("DB_URL"),
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		JWTSecret:       os.Getenv("SECRET_KEY"),
		JWTIssuer:       getEnv("JWT_ISSUER", "sehatsethu"),
		TokenTTLMinutes: getEnvInt("TOKEN_TTL_MINUTES", 1440),
		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPUser:        os.Getenv("SMTP_USER"),
		SMTPPass:        os.Getenv("SMTP_PASS"),
		SMTPPort:        getEnvInt("SMTP_PORT", 587),
		MailFrom:        getEnv("MAIL_FROM", os.Getenv("SMTP_USER")),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DB_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
