package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Service  string
	Server   ServerConfig
	Database DatabaseConfig
	RabbitMQ RabbitMQConfig
	Services ServiceURLs
	Stripe   StripeConfig
	Email    EmailConfig
	Auth     AuthConfig
	Outbox   OutboxConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port int
}

type DatabaseConfig struct {
	Driver          string
	Host            string
	Port            int
	User            string
	Password        string
	Name            string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RabbitMQConfig struct {
	URL                string
	ConnectionAttempts int
	RetryDelay         time.Duration
	MaxRetryDelay      time.Duration
	Prefetch           int
	PublishRetries     int
	Required           bool
	DeadLetterQueue    string
	DelayExchange      string
	MaxPriority        int
}

type ServiceURLs struct {
	Customer       string
	Order          string
	Delivery       string
	Recommendation string
	Payment        string
	Inventory      string
	Timeout        time.Duration
}

type StripeConfig struct {
	SecretKey      string
	PublishableKey string
	WebhookSecret  string
	Currency       string
	SuccessURL     string
	CancelURL      string
}

type EmailConfig struct {
	SendGridAPIKey string
	FromAddress    string
	FromName       string
}

type AuthConfig struct {
	JWTSecret string
}

func (a AuthConfig) Enabled() bool {
	return a.JWTSecret != ""
}

type OutboxConfig struct {
	PollInterval      time.Duration
	BatchSize         int
	PaymentCheckDelay time.Duration
}

type LogConfig struct {
	Level string
}

var defaultPorts = map[string]int{
	"customer":       5001,
	"order":          5002,
	"delivery":       5003,
	"cart":           5004,
	"email":          5005,
	"refund":         5006,
	"recommendation": 5007,
	"purchase":       5008,
	"payment":        5009,
	"inventory":      5010,
}

// DefaultPort returns the conventional listen port of a service, 8080 for
// anything unknown.
func DefaultPort(service string) int {
	if p, ok := defaultPorts[service]; ok {
		return p
	}
	return 8080
}

// Load reads the configuration of one service from the environment. A .env
// file in the working directory is loaded first when present.
func Load(service string) (*Config, error) {
	_ = godotenv.Load()
	return load(service, viper.New())
}

func load(service string, v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()

	v.SetDefault("PORT", DefaultPort(service))

	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "esduser")
	v.SetDefault("DB_PASSWORD", "esduser")
	v.SetDefault("DB_NAME", service+"_db")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONN_MAX_LIFETIME", "5m")

	v.SetDefault("RABBITMQ_HOST", "localhost")
	v.SetDefault("RABBITMQ_PORT", 5672)
	v.SetDefault("RABBITMQ_USER", "guest")
	v.SetDefault("RABBITMQ_PASSWORD", "guest")
	v.SetDefault("RABBITMQ_CONNECTION_ATTEMPTS", 10)
	v.SetDefault("RABBITMQ_RETRY_DELAY", "1s")
	v.SetDefault("RABBITMQ_MAX_RETRY_DELAY", "30s")
	v.SetDefault("RABBITMQ_PREFETCH", 1)
	v.SetDefault("RABBITMQ_PUBLISH_RETRIES", 3)
	v.SetDefault("RABBITMQ_REQUIRED", true)
	v.SetDefault("DEAD_LETTER_QUEUE", "dead_letter_queue")
	v.SetDefault("DELAY_EXCHANGE", "delay_exchange")

	v.SetDefault("CUSTOMER_SERVICE_URL", "http://customer:5001")
	v.SetDefault("ORDER_SERVICE_URL", "http://order:5002")
	v.SetDefault("DELIVERY_SERVICE_URL", "http://delivery:5003")
	v.SetDefault("RECOMMENDATION_SERVICE_URL", "http://recommendation:5007")
	v.SetDefault("PAYMENT_SERVICE_URL", "http://payment:5009")
	v.SetDefault("OUTSYSTEMS_URL", "https://personal-0careuf6.outsystemscloud.com/ByteMeComponentService/rest/ComponentAPI")
	v.SetDefault("SERVICE_TIMEOUT", "10s")

	v.SetDefault("STRIPE_CURRENCY", "sgd")
	v.SetDefault("DEFAULT_SUCCESS_URL", "http://localhost:3000/success")
	v.SetDefault("DEFAULT_CANCEL_URL", "http://localhost:3000/checkout?canceled=true")

	v.SetDefault("EMAIL_FROM_ADDRESS", "no-reply@byteme.store")
	v.SetDefault("EMAIL_FROM_NAME", "ByteMe Store")

	v.SetDefault("OUTBOX_POLL_INTERVAL", "1s")
	v.SetDefault("OUTBOX_BATCH_SIZE", 50)
	v.SetDefault("PAYMENT_CHECK_DELAY", "15m")

	v.SetDefault("LOG_LEVEL", "info")

	connMaxLifetime, err := duration(v, "DB_CONN_MAX_LIFETIME")
	if err != nil {
		return nil, err
	}
	retryDelay, err := duration(v, "RABBITMQ_RETRY_DELAY")
	if err != nil {
		return nil, err
	}
	maxRetryDelay, err := duration(v, "RABBITMQ_MAX_RETRY_DELAY")
	if err != nil {
		return nil, err
	}
	serviceTimeout, err := duration(v, "SERVICE_TIMEOUT")
	if err != nil {
		return nil, err
	}
	pollInterval, err := duration(v, "OUTBOX_POLL_INTERVAL")
	if err != nil {
		return nil, err
	}
	paymentCheckDelay, err := duration(v, "PAYMENT_CHECK_DELAY")
	if err != nil {
		return nil, err
	}

	rabbitURL := v.GetString("RABBITMQ_URL")
	if rabbitURL == "" {
		rabbitURL = (&url.URL{
			Scheme: "amqp",
			User:   url.UserPassword(v.GetString("RABBITMQ_USER"), v.GetString("RABBITMQ_PASSWORD")),
			Host:   fmt.Sprintf("%s:%d", v.GetString("RABBITMQ_HOST"), v.GetInt("RABBITMQ_PORT")),
			Path:   "/",
		}).String()
	}

	cfg := &Config{
		Service: service,
		Server: ServerConfig{
			Port: v.GetInt("PORT"),
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(v.GetString("DB_DRIVER")),
			Host:            v.GetString("DB_HOST"),
			Port:            v.GetInt("DB_PORT"),
			User:            v.GetString("DB_USER"),
			Password:        secret(v, "DB_PASSWORD"),
			Name:            v.GetString("DB_NAME"),
			SSLMode:         v.GetString("DB_SSLMODE"),
			MaxOpenConns:    v.GetInt("DB_MAX_OPEN_CONNS"),
			MaxIdleConns:    v.GetInt("DB_MAX_IDLE_CONNS"),
			ConnMaxLifetime: connMaxLifetime,
		},
		RabbitMQ: RabbitMQConfig{
			URL:                rabbitURL,
			ConnectionAttempts: v.GetInt("RABBITMQ_CONNECTION_ATTEMPTS"),
			RetryDelay:         retryDelay,
			MaxRetryDelay:      maxRetryDelay,
			Prefetch:           v.GetInt("RABBITMQ_PREFETCH"),
			PublishRetries:     v.GetInt("RABBITMQ_PUBLISH_RETRIES"),
			Required:           v.GetBool("RABBITMQ_REQUIRED"),
			DeadLetterQueue:    v.GetString("DEAD_LETTER_QUEUE"),
			DelayExchange:      v.GetString("DELAY_EXCHANGE"),
			MaxPriority:        10, // 优先级队列最大优先级
		},
		Services: ServiceURLs{
			Customer:       strings.TrimRight(v.GetString("CUSTOMER_SERVICE_URL"), "/"),
			Order:          strings.TrimRight(v.GetString("ORDER_SERVICE_URL"), "/"),
			Delivery:       strings.TrimRight(v.GetString("DELIVERY_SERVICE_URL"), "/"),
			Recommendation: strings.TrimRight(v.GetString("RECOMMENDATION_SERVICE_URL"), "/"),
			Payment:        strings.TrimRight(v.GetString("PAYMENT_SERVICE_URL"), "/"),
			Inventory:      strings.TrimRight(v.GetString("OUTSYSTEMS_URL"), "/"),
			Timeout:        serviceTimeout,
		},
		Stripe: StripeConfig{
			SecretKey:      secret(v, "STRIPE_SECRET_KEY"),
			PublishableKey: v.GetString("STRIPE_PUBLISHABLE_KEY"),
			WebhookSecret:  secret(v, "STRIPE_WEBHOOK_SECRET"),
			Currency:       strings.ToLower(v.GetString("STRIPE_CURRENCY")),
			SuccessURL:     v.GetString("DEFAULT_SUCCESS_URL"),
			CancelURL:      v.GetString("DEFAULT_CANCEL_URL"),
		},
		Email: EmailConfig{
			SendGridAPIKey: secret(v, "SENDGRID_API_KEY"),
			FromAddress:    v.GetString("EMAIL_FROM_ADDRESS"),
			FromName:       v.GetString("EMAIL_FROM_NAME"),
		},
		Auth: AuthConfig{
			JWTSecret: secret(v, "JWT_SECRET"),
		},
		Outbox: OutboxConfig{
			PollInterval:      pollInterval,
			BatchSize:         v.GetInt("OUTBOX_BATCH_SIZE"),
			PaymentCheckDelay: paymentCheckDelay,
		},
		Log: LogConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
	}

	return cfg, nil
}

func duration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return d, nil
}

// secret prefers the contents of the file named by <key>_FILE, as mounted by
// docker secrets, over the plain variable.
func secret(v *viper.Viper, key string) string {
	if filePath := v.GetString(key + "_FILE"); filePath != "" {
		if content, err := os.ReadFile(filePath); err == nil {
			return strings.TrimSpace(string(content))
		}
	}
	return v.GetString(key)
}
