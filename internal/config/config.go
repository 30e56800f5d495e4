package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	PostgresDSN  string
	MongoURI     string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string

	// Grace windows and cutoffs for the reservation lifecycle.
	SignInGrace  time.Duration
	NoShowGrace  time.Duration
	CancelCutoff time.Duration
	MaxLeave     time.Duration

	HourlyRate  float64
	BillingUnit time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		PostgresDSN:  os.Getenv("POSTGRES_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		SignInGrace:  duration("SIGNIN_GRACE", 10*time.Minute),
		NoShowGrace:  duration("NOSHOW_GRACE", 15*time.Minute),
		CancelCutoff: duration("CANCEL_CUTOFF", 30*time.Minute),
		MaxLeave:     duration("MAX_LEAVE", 30*time.Minute),
		HourlyRate:   float("HOURLY_RATE", 1.0),
		BillingUnit:  duration("BILLING_UNIT", 15*time.Minute),
	}, nil
}

func duration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func float(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 {
		return def
	}
	return f
}
