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
	PublicBaseURL  string
	LogLevel       string
	DatabaseURL    string
	RedisAddr      string
	RedisPassword  string
	RedisTLS       bool
	AdminJWTSecret string

	// Campaign catalog and practice-wide template values
	CampaignsPath          string
	PracticeName           string
	PracticePhone          string
	PracticeTimezone       string
	DefaultAppointmentSlot string
	DefaultService         string

	// Sequencer
	SequencerTickInterval time.Duration
	SendTimeout           time.Duration
	SendMaxAttempts       int
	SendRetryBaseDelay    time.Duration
	SendRatePerSecond     float64
	MaxConcurrentSends    int
	// Quiet hours in practice-local "HH:MM"; automated sends wait while active.
	QuietHoursStart string
	QuietHoursEnd   string

	// SMS
	SMSProvider         string
	TwilioAccountSID    string
	TwilioAuthToken     string
	TwilioFromNumber    string
	TwilioWebhookSecret string

	// Email
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	StaffNotifyEmail  string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Inbound replies
	InboundQueueURL  string
	InboundDedupeTTL time.Duration
	InboundWorkers   int

	// Per-IP throttling of public webhook endpoints
	WebhookRatePerSecond float64
	WebhookRateBurst     int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:           getEnv("PORT", "8080"),
		Env:            getEnv("ENV", "development"),
		PublicBaseURL:  getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		DatabaseURL:    getEnv("DATABASE_URL", ""),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisTLS:       getEnvAsBool("REDIS_TLS", false),
		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CampaignsPath:          getEnv("CAMPAIGNS_PATH", ""),
		PracticeName:           getEnv("PRACTICE_NAME", "Bright Smile Dental"),
		PracticePhone:          getEnv("PRACTICE_PHONE", ""),
		PracticeTimezone:       getEnv("PRACTICE_TIMEZONE", "America/New_York"),
		DefaultAppointmentSlot: getEnv("DEFAULT_APPOINTMENT_SLOT", "3:00 PM"),
		DefaultService:         getEnv("DEFAULT_SERVICE", "New Patient Exam"),

		SequencerTickInterval: getEnvAsDuration("SEQUENCER_TICK_INTERVAL", time.Minute),
		SendTimeout:           getEnvAsDuration("SEND_TIMEOUT", 10*time.Second),
		SendMaxAttempts:       getEnvAsInt("SEND_MAX_ATTEMPTS", 3),
		SendRetryBaseDelay:    getEnvAsDuration("SEND_RETRY_BASE_DELAY", 2*time.Second),
		SendRatePerSecond:     getEnvAsFloat("SEND_RATE_PER_SECOND", 5),
		MaxConcurrentSends:    getEnvAsInt("MAX_CONCURRENT_SENDS", 8),
		QuietHoursStart:       getEnv("QUIET_HOURS_START", "21:00"),
		QuietHoursEnd:         getEnv("QUIET_HOURS_END", "08:00"),

		SMSProvider:         strings.ToLower(strings.TrimSpace(getEnv("SMS_PROVIDER", "auto"))),
		TwilioAccountSID:    getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken:     getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFromNumber:    getEnv("TWILIO_FROM_NUMBER", ""),
		TwilioWebhookSecret: getEnv("TWILIO_WEBHOOK_SECRET", ""),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "auto"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Bright Smile Dental"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		StaffNotifyEmail:  getEnv("STAFF_NOTIFY_EMAIL", ""),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		InboundQueueURL:  getEnv("INBOUND_QUEUE_URL", ""),
		InboundDedupeTTL: getEnvAsDuration("INBOUND_DEDUPE_TTL", 24*time.Hour),
		InboundWorkers:   getEnvAsInt("INBOUND_WORKERS", 2),

		WebhookRatePerSecond: getEnvAsFloat("WEBHOOK_RATE_PER_SECOND", 20),
		WebhookRateBurst:     getEnvAsInt("WEBHOOK_RATE_BURST", 40),
	}
}

// PracticeSettings returns the practice-wide values templates may reference.
func (c *Config) PracticeSettings() map[string]string {
	settings := map[string]string{}
	if c.PracticeName != "" {
		settings["OfficeName"] = c.PracticeName
		settings["PracticeName"] = c.PracticeName
	}
	if c.PracticePhone != "" {
		settings["OfficePhone"] = c.PracticePhone
	}
	return settings
}

// Location resolves PracticeTimezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.PracticeTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
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

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
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
