package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration for the calendar sync services.
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// Google OAuth
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURI  string
	GoogleScopes       []string

	// Google Calendar API
	CalendarBaseURL    string // override for tests/sandboxes
	CalendarID         string // default calendar, usually "primary"
	CalendarTimeZone   string
	ProviderTimeout    time.Duration
	ProviderMaxRetries int
	ProviderBackoff    time.Duration

	// Credential manager
	TokenExpirySkew time.Duration

	// Sync
	SyncConcurrency    int
	SyncRatePerSecond  float64
	SyncRateBurst      int
	SyncOpTimeout      time.Duration
	UseMemoryQueue     bool
	SyncQueueURL       string
	WorkerCount        int
	WorkerReceiveBatch int
	WorkerReceiveWait  time.Duration

	// Availability defaults
	WorkStartHour       int
	WorkEndHour         int
	SlotStepMinutes     int
	SlotDurationMinutes int

	// API auth
	UserJWTSecret string

	// Optional Redis for cross-replica appointment locks
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	LockTTL       time.Duration

	// AWS (SQS sync queue)
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURI:  getEnv("GOOGLE_REDIRECT_URI", ""),
		GoogleScopes: getEnvAsList("GOOGLE_SCOPES",
			"https://www.googleapis.com/auth/calendar,https://www.googleapis.com/auth/calendar.events"),

		CalendarBaseURL:    getEnv("GOOGLE_CALENDAR_BASE_URL", ""),
		CalendarID:         getEnv("GOOGLE_CALENDAR_ID", "primary"),
		CalendarTimeZone:   getEnv("GOOGLE_CALENDAR_TZ", "America/Sao_Paulo"),
		ProviderTimeout:    getEnvAsDuration("PROVIDER_TIMEOUT", 30*time.Second),
		ProviderMaxRetries: getEnvAsInt("PROVIDER_MAX_RETRIES", 3),
		ProviderBackoff:    getEnvAsDuration("PROVIDER_RETRY_BASE_DELAY", 250*time.Millisecond),

		TokenExpirySkew: getEnvAsDuration("TOKEN_EXPIRY_SKEW", 5*time.Minute),

		SyncConcurrency:    getEnvAsInt("SYNC_CONCURRENCY", 4),
		SyncRatePerSecond:  getEnvAsFloat("SYNC_RATE_PER_SECOND", 5),
		SyncRateBurst:      getEnvAsInt("SYNC_RATE_BURST", 5),
		SyncOpTimeout:      getEnvAsDuration("SYNC_OP_TIMEOUT", 45*time.Second),
		UseMemoryQueue:     getEnvAsBool("USE_MEMORY_QUEUE", false),
		SyncQueueURL:       getEnv("SYNC_QUEUE_URL", ""),
		WorkerCount:        getEnvAsInt("WORKER_COUNT", 2),
		WorkerReceiveBatch: getEnvAsInt("WORKER_RECEIVE_BATCH", 5),
		WorkerReceiveWait:  getEnvAsDuration("WORKER_RECEIVE_WAIT", 10*time.Second),

		WorkStartHour:       getEnvAsInt("WORK_START_HOUR", 8),
		WorkEndHour:         getEnvAsInt("WORK_END_HOUR", 18),
		SlotStepMinutes:     getEnvAsInt("SLOT_STEP_MINUTES", 30),
		SlotDurationMinutes: getEnvAsInt("SLOT_DURATION_MINUTES", 60),

		UserJWTSecret: getEnv("USER_JWT_SECRET", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		LockTTL:       getEnvAsDuration("SYNC_LOCK_TTL", time.Minute),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value, err := strconv.Atoi(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value, err := strconv.ParseFloat(getEnv(key, ""), 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value, err := strconv.ParseBool(getEnv(key, "")); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key, defaultValue string) []string {
	raw := getEnv(key, defaultValue)
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
