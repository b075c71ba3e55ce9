package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// This function will Load the ENVIORNMENT VARIABLES from .env if GO_ENV variable is not set
func LoadENV() error {
	goEnv := os.Getenv("GO_ENV")

	if goEnv == "" || goEnv == "development" {
		err := godotenv.Load()
		if err != nil {
			return err
		}
	}

	return nil
}

type EnviornmentVariable struct {
	// All variables
	GO_ENV       string
	DB_USER_NAME string
	DB_PASSWORD  string
	DB_NAME      string
	DB_HOST      string
	DB_PORT      string
	DB_SSL_MODE  string
	PORT         int
	// Backends: STORE_DRIVER is postgres|memory, REALTIME_DRIVER is local|redis|postgres
	STORE_DRIVER    string
	REALTIME_DRIVER string
	// JWT Configuration
	JWT_SECRET string
	JWT_ISSUER string
	// Redis Configuration (device store and redis realtime driver)
	REDIS_URL string
	// Spaces / S3 Configuration (image messages)
	SPACES_KEY      string
	SPACES_SECRET   string
	SPACES_BUCKET   string
	SPACES_REGION   string
	SPACES_ENDPOINT string
	// Chat and feed behaviour
	DOWNLOAD_DIR         string
	CHAT_RECONCILE_DELAY time.Duration
	FEED_PAGE_SIZE       int
	SESSION_IDLE_TIMEOUT time.Duration
	CRON_ENABLED         bool
	ALLOWED_ORIGINS      string
}

func Get() (*EnviornmentVariable, error) {

	port, err := strconv.Atoi(os.Getenv("PORT"))
	if err != nil {
		port = 8080
	}

	// Database defaults
	dbHost := os.Getenv("DB_HOST")
	if dbHost == "" {
		dbHost = "localhost"
	}

	dbPort := os.Getenv("DB_PORT")
	if dbPort == "" {
		dbPort = "5432"
	}

	sslMode := os.Getenv("DB_SSL_MODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	envVariables := &EnviornmentVariable{
		GO_ENV:       os.Getenv("GO_ENV"),
		DB_USER_NAME: os.Getenv("DB_USER_NAME"),
		DB_PASSWORD:  os.Getenv("DB_PASSWORD"),
		DB_NAME:      os.Getenv("DB_NAME"),
		DB_HOST:      dbHost,
		DB_PORT:      dbPort,
		DB_SSL_MODE:  sslMode,
		PORT:         port,
		// Backends
		STORE_DRIVER:    stringOr("STORE_DRIVER", "postgres"),
		REALTIME_DRIVER: stringOr("REALTIME_DRIVER", "local"),
		// JWT
		JWT_SECRET: os.Getenv("JWT_SECRET"),
		JWT_ISSUER: stringOr("JWT_ISSUER", "school-connect"),
		// Redis
		REDIS_URL: stringOr("REDIS_URL", "redis://localhost:6379/0"),
		// Spaces
		SPACES_KEY:      os.Getenv("SPACES_KEY"),
		SPACES_SECRET:   os.Getenv("SPACES_SECRET"),
		SPACES_BUCKET:   os.Getenv("SPACES_BUCKET"),
		SPACES_REGION:   stringOr("SPACES_REGION", "blr1"),
		SPACES_ENDPOINT: os.Getenv("SPACES_ENDPOINT"),
		// Chat and feed
		DOWNLOAD_DIR:         stringOr("DOWNLOAD_DIR", "./data/downloads"),
		CHAT_RECONCILE_DELAY: durationOr("CHAT_RECONCILE_DELAY", 1500*time.Millisecond),
		FEED_PAGE_SIZE:       intOr("FEED_PAGE_SIZE", 20),
		SESSION_IDLE_TIMEOUT: durationOr("SESSION_IDLE_TIMEOUT", 30*time.Minute),
		CRON_ENABLED:         os.Getenv("CRON_ENABLED") != "false",
		ALLOWED_ORIGINS:      stringOr("ALLOWED_ORIGINS", "*"),
	}

	return envVariables, nil
}

// PostgresDSN builds the connection string shared by GORM and the LISTEN/NOTIFY hub
func (e *EnviornmentVariable) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=UTC",
		e.DB_HOST,
		e.DB_USER_NAME,
		e.DB_PASSWORD,
		e.DB_NAME,
		e.DB_PORT,
		e.DB_SSL_MODE,
	)
}

func stringOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intOr(key string, fallback int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}

func durationOr(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(os.Getenv(key))
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
