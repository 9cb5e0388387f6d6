package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr    string // e.g. nsqd:4150
	LookupHTTPAddr string // e.g. http://nsqlookupd:4161
	EventsTopic    string // topic the processing pipeline publishes task state changes to
	EventsChannel  string // channel name for the notifier consumer
	DLQTopic       string // dead letter topic for exhausted deliveries
	PublishDLQ     bool   // whether to publish dead letters to the DLQ topic
}

type Delivery struct {
	MaxAttempts     int             // total attempts per delivery record (first + retries)
	BackoffSchedule []time.Duration // fixed retry delays indexed by attempt number
	HTTPTimeout     time.Duration   // per-attempt outbound request timeout
	Workers         int             // dispatch worker pool size
	QueueSize       int             // dispatch queue buffer size
}

type Scheduler struct {
	Interval     time.Duration // time between sweeps
	BatchSize    int           // max records per sweep
	Parallelism  int           // concurrent attempts within a sweep
	PendingGrace time.Duration // age after which a pending record is rescued by a sweep
}

type Auth struct {
	PublicKeyPEM string // RSA public key for admin API JWT validation; empty disables auth
	Issuer       string
	Audience     string
}

type FakeReceiver struct {
	FailFirstN           int           // Number of requests to fail initially
	EndpointSecret       string        // Secret for webhook signature verification
	SigningLeewaySeconds int           // Allowed timestamp skew in seconds
	ResponseDelayMS      int           // Simulated response delay in milliseconds
	Port                 string        // Server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName      string
	HTTPPort     string // :8080, admin API + health + metrics
	StoreDriver  string // "postgres" or "memory" (memory is for local development only)
	DB           DB
	NSQ          NSQ
	Delivery     Delivery
	Scheduler    Scheduler
	Auth         Auth
	FakeReceiver FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// defaultBackoffSchedule is the fixed retry schedule: attempts past the
// table's length reuse the last interval.
func defaultBackoffSchedule() []time.Duration {
	return []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}
}

func parseBackoffSchedule(schedule string) []time.Duration {
	if schedule == "" {
		return defaultBackoffSchedule()
	}

	parts := strings.Split(schedule, ",")
	durations := make([]time.Duration, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)
		if d, err := time.ParseDuration(part); err == nil {
			durations = append(durations, d)
		}
	}

	if len(durations) == 0 {
		// Fallback to default if parsing failed
		return defaultBackoffSchedule()
	}

	return durations
}

func FromEnv() Config {
	return Config{
		AppName:     getenv("APP_NAME", "docsignal"),
		HTTPPort:    getenv("HTTP_PORT", ":8080"),
		StoreDriver: getenv("STORE_DRIVER", "postgres"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "docsignal"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:    getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr: getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			EventsTopic:    getenv("NSQ_EVENTS_TOPIC", "task_events"),
			EventsChannel:  getenv("NSQ_EVENTS_CHANNEL", "notifier"),
			DLQTopic:       getenv("NSQ_DLQ_TOPIC", "deliveries_dead"),
			PublishDLQ:     getenvBool("PUBLISH_DLQ_TOPIC", false),
		},
		Delivery: Delivery{
			MaxAttempts:     getenvInt("MAX_ATTEMPTS", 4),
			BackoffSchedule: parseBackoffSchedule(getenv("BACKOFF_SCHEDULE", "")),
			HTTPTimeout:     getenvDuration("DELIVERY_HTTP_TIMEOUT", 30*time.Second),
			Workers:         getenvInt("DELIVERY_WORKERS", 8),
			QueueSize:       getenvInt("DELIVERY_QUEUE_SIZE", 1024),
		},
		Scheduler: Scheduler{
			Interval:     getenvDuration("SWEEP_INTERVAL", 15*time.Second),
			BatchSize:    getenvInt("SWEEP_BATCH_SIZE", 100),
			Parallelism:  getenvInt("SWEEP_PARALLELISM", 4),
			PendingGrace: getenvDuration("PENDING_GRACE", 2*time.Minute),
		},
		Auth: Auth{
			PublicKeyPEM: getenv("ADMIN_JWT_PUBLIC_KEY", ""),
			Issuer:       getenv("ADMIN_JWT_ISSUER", "docsignal"),
			Audience:     getenv("ADMIN_JWT_AUDIENCE", "docsignal-admin"),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret:       getenv("ENDPOINT_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 2700),
			ResponseDelayMS:      getenvInt("RESPONSE_DELAY_MS", 0),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
