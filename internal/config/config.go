package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type ServerConfig struct {
	DatabaseURL string
	AuthKey     string
	Env         string
	CredAddr    string
	ChatAddr    string
}

type ClientConfig struct {
	CredAddr       string
	ChatURL        string
	AuthTimeout    time.Duration
	CommandTimeout time.Duration
	AutoReconnect  bool
	ReconnectDelay time.Duration
}

// LoadServer reads server settings from the environment, preferring a local
// .env file when present. Missing critical values abort startup.
func LoadServer() *ServerConfig {
	loadDotenv()

	cfg := &ServerConfig{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		AuthKey:     getEnv("AUTH_KEY", ""),
		Env:         getEnv("APP_ENV", "development"),
		CredAddr:    getEnv("CRED_ADDR", "127.0.0.1:8080"),
		ChatAddr:    getEnv("CHAT_ADDR", "127.0.0.1:8081"),
	}

	log.Printf("[CONFIG] Environment: %s", cfg.Env)
	log.Printf("[CONFIG] Credential service address: %s", cfg.CredAddr)
	log.Printf("[CONFIG] Chat service address: %s", cfg.ChatAddr)

	if cfg.DatabaseURL == "" {
		log.Fatal("[CONFIG] CRITICAL: DATABASE_URL is missing. Server cannot start.")
	}
	log.Printf("[CONFIG] Database URL detected: %s", maskDBSource(cfg.DatabaseURL))

	if cfg.AuthKey == "" {
		log.Fatal("[CONFIG] CRITICAL: AUTH_KEY (JWT secret) is missing. Security cannot be initialized.")
	}

	return cfg
}

// LoadClient reads client settings. Everything has a workable default so the
// reference client runs against a local server with no .env at all.
func LoadClient() *ClientConfig {
	loadDotenv()

	cfg := &ClientConfig{
		CredAddr:       getEnv("CRED_ADDR", "127.0.0.1:8080"),
		ChatURL:        getEnv("CHAT_URL", "ws://127.0.0.1:8081/ws"),
		AuthTimeout:    getDuration("AUTH_TIMEOUT", 10*time.Second),
		CommandTimeout: getDuration("COMMAND_TIMEOUT", 10*time.Second),
		AutoReconnect:  getBool("AUTO_RECONNECT", true),
		ReconnectDelay: getDuration("RECONNECT_DELAY", 2*time.Second),
	}

	log.Printf("[CONFIG] Credential service: %s", cfg.CredAddr)
	log.Printf("[CONFIG] Chat service: %s", cfg.ChatURL)

	return cfg
}

func loadDotenv() {
	if err := godotenv.Load(); err != nil {
		log.Println("[CONFIG] No .env file found, relying on system environment variables")
	}
}

func getEnv(key, defaultValue string) string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	return value
}

func getBool(key string, defaultValue bool) bool {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("[CONFIG] Invalid boolean for %s: %q, using default %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("[CONFIG] Invalid duration for %s: %q, using default %s", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func maskDBSource(dsn string) string {
	parts := strings.Split(dsn, "@")
	if len(parts) < 2 {
		return "invalid-dsn-format"
	}
	return "postgres://****:****@" + parts[1]
}
