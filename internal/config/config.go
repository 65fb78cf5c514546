package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	PublicBaseURL string

	StoreDriver string
	DatabaseURL string
	SQLitePath  string
	DBTimeout   time.Duration
	AutoMigrate bool

	JWTSecret string
	JWTIssuer string
	JWTTTL    time.Duration

	BootstrapEmail    string
	BootstrapPassword string

	RedisAddr    string
	KafkaBrokers []string
	KafkaTopic   string
	KafkaGroupID string
	MQTTBroker   string
	AMQPURL      string
	AMQPExchange string

	NoShowGrace     time.Duration
	NoShowInterval  time.Duration
	NoShowBatchSize int

	RateLimitPerMinute      int
	RateLimitBurst          int
	KioskRateLimitPerMinute int
	KioskRateLimitBurst     int
	NotifierProvider        string
	NotifierWebhookURL      string
	NotifierWebhookToken    string
	NotifierMaxAttempts     int
	MailerSendAPIKey        string
	MailerSendFromEmail     string
	MailerSendFromName      string
	MailerSendTemplateID    string
	OTLPEndpoint            string
	LogFile                 string
	LogLevel                string
}

// Load reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		Port:          readString("PORT", "8080"),
		PublicBaseURL: strings.TrimRight(readString("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),

		StoreDriver: strings.ToLower(readString("STORE_DRIVER", "postgres")),
		DatabaseURL: os.Getenv("DB_DSN"),
		SQLitePath:  readString("SQLITE_PATH", "file:servicedesk.db?cache=shared"),
		DBTimeout:   readDurationMillis("DB_TIMEOUT_MS", 3000),
		AutoMigrate: readBool("AUTO_MIGRATE", false),

		JWTSecret: os.Getenv("JWT_SECRET"),
		JWTIssuer: readString("JWT_ISSUER", "servicedesk"),
		JWTTTL:    time.Duration(readInt("JWT_TTL_MINUTES", 480)) * time.Minute,

		BootstrapEmail:    os.Getenv("BOOTSTRAP_SUPERVISOR_EMAIL"),
		BootstrapPassword: os.Getenv("BOOTSTRAP_SUPERVISOR_PASSWORD"),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: readList("KAFKA_BROKERS"),
		KafkaTopic:   readString("KAFKA_TOPIC", "ticket-events"),
		KafkaGroupID: readString("KAFKA_GROUP_ID", "servicedesk-notifier"),
		MQTTBroker:   os.Getenv("MQTT_BROKER"),
		AMQPURL:      os.Getenv("AMQP_URL"),
		AMQPExchange: readString("AMQP_EXCHANGE", "servicedesk.tickets"),

		NoShowGrace:     readDurationSeconds("NO_SHOW_GRACE_SECONDS", 300),
		NoShowInterval:  readDurationSeconds("NO_SHOW_SCAN_INTERVAL_SECONDS", 30),
		NoShowBatchSize: readInt("NO_SHOW_BATCH_SIZE", 100),

		RateLimitPerMinute:      readInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:          readInt("RATE_LIMIT_BURST", 30),
		KioskRateLimitPerMinute: readInt("KIOSK_RATE_LIMIT_PER_MIN", 30),
		KioskRateLimitBurst:     readInt("KIOSK_RATE_LIMIT_BURST", 10),

		NotifierProvider:     readString("NOTIF_PROVIDER", "log"),
		NotifierWebhookURL:   os.Getenv("NOTIF_WEBHOOK_URL"),
		NotifierWebhookToken: os.Getenv("NOTIF_WEBHOOK_TOKEN"),
		NotifierMaxAttempts:  readInt("NOTIF_MAX_ATTEMPTS", 3),
		MailerSendAPIKey:     os.Getenv("MAILERSEND_API_KEY"),
		MailerSendFromEmail:  os.Getenv("MAILERSEND_FROM_EMAIL"),
		MailerSendFromName:   readString("MAILERSEND_FROM_NAME", "Service Desk"),
		MailerSendTemplateID: os.Getenv("MAILERSEND_TEMPLATE_ID"),

		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogFile:      os.Getenv("LOG_FILE"),
		LogLevel:     readString("LOG_LEVEL", "info"),
	}
}

func readString(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func readList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func readDurationSeconds(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Second
}

func readDurationMillis(key string, fallback int) time.Duration {
	value := readInt(key, fallback)
	if value <= 0 {
		return 0
	}
	return time.Duration(value) * time.Millisecond
}

func readInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

func readBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return value
}
