package config

import (
	"flag"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	defaultServerAddress     = ":8080"
	defaultDatabaseDSN       = ""
	defaultLogLevel          = "debug"
	defaultRazorpayBaseURL   = "https://api.razorpay.com"
	defaultQikinkBaseURL     = "https://sandbox.qikink.com"
	defaultEmailFrom         = "noreply@flyemstore.me"
	defaultKafkaTopic        = "orders"
	defaultOutboundTimeout   = 10 * time.Second
	defaultReconcileInterval = 0
)

type Config struct {
	ServerAddr  string
	DatabaseDSN string
	LogLevel    string
	JWTSecret   string

	RazorpayKeyID     string
	RazorpayKeySecret string
	RazorpayBaseURL   string

	QikinkClientID     string
	QikinkClientSecret string
	QikinkBaseURL      string

	ResendAPIKey string
	EmailFrom    string

	KafkaBrokers []string
	KafkaTopic   string
	RedisAddr    string

	TaxRate       string
	ShippingPrice string

	OutboundTimeout   time.Duration
	ReconcileInterval time.Duration
}

// FulfillmentEnabled reports whether print-on-demand sync is configured
func (c *Config) FulfillmentEnabled() bool {
	return c.QikinkClientID != ""
}

var (
	once      sync.Once
	singleton *Config
	parseErr  error
)

// New returns new Config. It parses command line and environment variables only once.
func New() (*Config, error) {
	once.Do(func() {
		cfg := Config{}
		var kafkaBrokers string

		// initialize flags
		flag.StringVar(&cfg.ServerAddr, "a", defaultServerAddress, "storefront server address")
		flag.StringVar(&cfg.DatabaseDSN, "d", defaultDatabaseDSN, "storefront database DSN")
		flag.StringVar(&cfg.LogLevel, "l", defaultLogLevel, "log level")
		flag.StringVar(&cfg.RazorpayBaseURL, "razorpay-url", defaultRazorpayBaseURL, "payment gateway base url")
		flag.StringVar(&cfg.QikinkBaseURL, "qikink-url", defaultQikinkBaseURL, "fulfillment api base url")
		flag.StringVar(&cfg.EmailFrom, "email-from", defaultEmailFrom, "sender address of customer emails")
		flag.StringVar(&kafkaBrokers, "kafka-brokers", "", "comma separated kafka brokers")
		flag.StringVar(&cfg.KafkaTopic, "kafka-topic", defaultKafkaTopic, "kafka topic for order events")
		flag.StringVar(&cfg.RedisAddr, "redis", "", "redis address")
		flag.StringVar(&cfg.TaxRate, "tax-rate", "0", "tax rate applied to discounted items price")
		flag.StringVar(&cfg.ShippingPrice, "shipping-price", "0", "flat shipping price")
		flag.DurationVar(&cfg.OutboundTimeout, "outbound-timeout", defaultOutboundTimeout, "timeout of calls to third parties")
		flag.DurationVar(&cfg.ReconcileInterval, "reconcile-interval", defaultReconcileInterval, "fulfillment reconcile interval, 0 disables")

		flag.Parse()

		// if environment variable is set, then using it
		setString(&cfg.ServerAddr, "RUN_ADDRESS")
		setString(&cfg.DatabaseDSN, "DATABASE_URI")
		setString(&cfg.LogLevel, "LOG_LEVEL")
		setString(&cfg.JWTSecret, "JWT_SECRET")
		setString(&cfg.RazorpayKeyID, "RAZORPAY_KEY_ID")
		setString(&cfg.RazorpayKeySecret, "RAZORPAY_KEY_SECRET")
		setString(&cfg.RazorpayBaseURL, "RAZORPAY_BASE_URL")
		setString(&cfg.QikinkClientID, "QIKINK_CLIENT_ID")
		setString(&cfg.QikinkClientSecret, "QIKINK_CLIENT_SECRET")
		setString(&cfg.QikinkBaseURL, "QIKINK_BASE_URL")
		setString(&cfg.ResendAPIKey, "RESEND_API_KEY")
		setString(&cfg.EmailFrom, "EMAIL_FROM")
		setString(&kafkaBrokers, "KAFKA_BROKERS")
		setString(&cfg.KafkaTopic, "KAFKA_TOPIC")
		setString(&cfg.RedisAddr, "REDIS_ADDR")
		setString(&cfg.TaxRate, "TAX_RATE")
		setString(&cfg.ShippingPrice, "SHIPPING_PRICE")

		if v := os.Getenv("OUTBOUND_TIMEOUT"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				parseErr = err
				return
			}
			cfg.OutboundTimeout = d
		}
		if v := os.Getenv("RECONCILE_INTERVAL"); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				parseErr = err
				return
			}
			cfg.ReconcileInterval = d
		}

		cfg.KafkaBrokers = splitList(kafkaBrokers)

		singleton = &cfg
	})

	return singleton, parseErr
}

func setString(dst *string, env string) {
	if v := os.Getenv(env); v != "" {
		*dst = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
