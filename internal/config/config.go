package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port           string
	Env            string
	LogLevel       string
	LogFormat      string
	DatabaseURL    string
	AdminJWTSecret string
	AdminRateLimit float64
	AdminRateBurst int

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
	EventsQueueURL      string
	OutboxPollInterval  time.Duration
	OutboxMaxAttempts   int
	OutboxRetention     time.Duration

	// Batch orchestration
	BatchSize        int
	BatchConcurrency int
	StaleProcessing  time.Duration
	AsynqQueue       string
	AsynqConcurrency int
	FanoutCron       string

	// Flow policy
	PreDueOffsets       []int
	Step0CooldownDays   int
	DefaultCooldownDays int
	MinDaysOverdue      int
	Timezone            string
	PhoneRegion         string
	PolicySource        string
	PolicyFile          string
	PolicyCacheTTL      time.Duration

	// Notifier transport
	NotifierTimeout       time.Duration
	NotifierMaxRetries    int
	NotifierBackoff       time.Duration
	NotifierRatePerSecond int

	// SMS
	SMSProvider              string
	AssertivaBaseURL         string
	AssertivaAuthToken       string
	TelnyxAPIKey             string
	TelnyxMessagingProfileID string
	TelnyxFromNumber         string

	// WhatsApp
	WhatsAppProvider string
	DebtAppEndpoint  string
	DebtAppAPIKey    string

	// Email
	EmailProvider    string
	EmailFromAddress string
	EmailFromName    string
	SendGridAPIKey   string
	BrevoAPIKey      string
	SMTPHost         string
	SMTPPort         int
	SMTPUsername     string
	SMTPPassword     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),
		AdminRateLimit: getEnvAsFloat("ADMIN_RATE_LIMIT", 5),
		AdminRateBurst: getEnvAsInt("ADMIN_RATE_BURST", 20),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		AWSRegion:           getEnv("AWS_REGION", "sa-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		EventsQueueURL:      getEnv("EVENTS_QUEUE_URL", ""),
		OutboxPollInterval:  getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		OutboxMaxAttempts:   getEnvAsInt("OUTBOX_MAX_ATTEMPTS", 10),
		OutboxRetention:     getEnvAsDuration("OUTBOX_RETENTION", 7*24*time.Hour),

		BatchSize:        getEnvAsInt("BATCH_SIZE", 100),
		BatchConcurrency: getEnvAsInt("BATCH_CONCURRENCY", 4),
		StaleProcessing:  getEnvAsDuration("STALE_PROCESSING_AFTER", 30*time.Minute),
		AsynqQueue:       getEnv("ASYNQ_QUEUE", "collections"),
		AsynqConcurrency: getEnvAsInt("ASYNQ_CONCURRENCY", 10),
		FanoutCron:       getEnv("FANOUT_CRON", "0 6 * * *"),

		PreDueOffsets:       getEnvAsIntList("PRE_DUE_OFFSETS", []int{7, 5, 2, 1, 0}),
		Step0CooldownDays:   getEnvAsInt("STEP0_COOLDOWN_DAYS", 0),
		DefaultCooldownDays: getEnvAsInt("DEFAULT_COOLDOWN_DAYS", 7),
		MinDaysOverdue:      getEnvAsInt("MIN_DAYS_OVERDUE", 90),
		Timezone:            getEnv("COLLECTIONS_TIMEZONE", "America/Sao_Paulo"),
		PhoneRegion:         strings.ToUpper(getEnv("PHONE_REGION", "BR")),
		PolicySource:        strings.ToLower(strings.TrimSpace(getEnv("POLICY_SOURCE", "database"))),
		PolicyFile:          getEnv("POLICY_FILE", ""),
		PolicyCacheTTL:      getEnvAsDuration("POLICY_CACHE_TTL", 5*time.Minute),

		NotifierTimeout:       getEnvAsDuration("NOTIFIER_TIMEOUT", 5*time.Second),
		NotifierMaxRetries:    getEnvAsInt("NOTIFIER_MAX_RETRIES", 2),
		NotifierBackoff:       getEnvAsDuration("NOTIFIER_BACKOFF", 250*time.Millisecond),
		NotifierRatePerSecond: getEnvAsInt("NOTIFIER_RATE_PER_SECOND", 10),

		SMSProvider:              strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "assertiva"))),
		AssertivaBaseURL:         getEnv("ASSERTIVA_BASE_URL", "https://api.assertivasolucoes.com.br"),
		AssertivaAuthToken:       getEnv("ASSERTIVA_AUTH_TOKEN", ""),
		TelnyxAPIKey:             getEnv("TELNYX_API_KEY", ""),
		TelnyxMessagingProfileID: getEnv("TELNYX_MESSAGING_PROFILE_ID", ""),
		TelnyxFromNumber:         getEnv("TELNYX_FROM_NUMBER", ""),

		WhatsAppProvider: strings.ToLower(strings.TrimSpace(getEnv("WHATSAPP_PROVIDER", "debtapp"))),
		DebtAppEndpoint:  getEnv("DEBTAPP_WHATSAPP_ENDPOINT", ""),
		DebtAppAPIKey:    getEnv("DEBTAPP_WHATSAPP_API_KEY", ""),

		EmailProvider:    strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "sendgrid"))),
		EmailFromAddress: getEnv("EMAIL_FROM_ADDRESS", ""),
		EmailFromName:    getEnv("EMAIL_FROM_NAME", "Cobrança"),
		SendGridAPIKey:   getEnv("SENDGRID_API_KEY", ""),
		BrevoAPIKey:      getEnv("BREVO_API_KEY", ""),
		SMTPHost:         getEnv("SMTP_HOST", ""),
		SMTPPort:         getEnvAsInt("SMTP_PORT", 587),
		SMTPUsername:     getEnv("SMTP_USERNAME", ""),
		SMTPPassword:     getEnv("SMTP_PASSWORD", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
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

// getEnvAsIntList parses a comma separated list. Any malformed entry yields the default.
func getEnvAsIntList(key string, defaultValue []int) []int {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return defaultValue
	}
	parts := strings.Split(valueStr, ",")
	out := make([]int, 0, len(parts))
	for _, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil || v < 0 {
			return defaultValue
		}
		out = append(out, v)
	}
	return out
}
