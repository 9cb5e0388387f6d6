package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnvDefaults(t *testing.T) {
	c := FromEnv()

	if c.AppName != "docsignal" {
		t.Errorf("AppName = %q, want docsignal", c.AppName)
	}
	if c.HTTPPort != ":8080" {
		t.Errorf("HTTPPort = %q, want :8080", c.HTTPPort)
	}
	if c.StoreDriver != "postgres" {
		t.Errorf("StoreDriver = %q, want postgres", c.StoreDriver)
	}
	if c.Delivery.MaxAttempts != 4 {
		t.Errorf("Delivery.MaxAttempts = %d, want 4", c.Delivery.MaxAttempts)
	}
	if c.Delivery.HTTPTimeout != 30*time.Second {
		t.Errorf("Delivery.HTTPTimeout = %v, want 30s", c.Delivery.HTTPTimeout)
	}
	want := []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute}
	if !reflect.DeepEqual(c.Delivery.BackoffSchedule, want) {
		t.Errorf("Delivery.BackoffSchedule = %v, want %v", c.Delivery.BackoffSchedule, want)
	}
	if c.Scheduler.Interval != 15*time.Second {
		t.Errorf("Scheduler.Interval = %v, want 15s", c.Scheduler.Interval)
	}
	if c.Scheduler.BatchSize != 100 {
		t.Errorf("Scheduler.BatchSize = %d, want 100", c.Scheduler.BatchSize)
	}
	if c.NSQ.EventsTopic != "task_events" || c.NSQ.EventsChannel != "notifier" {
		t.Errorf("NSQ topic/channel = %q/%q", c.NSQ.EventsTopic, c.NSQ.EventsChannel)
	}
	if c.NSQ.PublishDLQ {
		t.Errorf("NSQ.PublishDLQ = true, want false by default")
	}
	if c.Auth.PublicKeyPEM != "" {
		t.Errorf("Auth.PublicKeyPEM = %q, want empty (auth disabled)", c.Auth.PublicKeyPEM)
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", ":9090")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MAX_ATTEMPTS", "6")
	t.Setenv("DELIVERY_HTTP_TIMEOUT", "5s")
	t.Setenv("BACKOFF_SCHEDULE", "10s, 1m,2h")
	t.Setenv("SWEEP_INTERVAL", "1m")
	t.Setenv("PUBLISH_DLQ_TOPIC", "true")
	t.Setenv("DB_HOST", "db.internal")

	c := FromEnv()

	if c.HTTPPort != ":9090" {
		t.Errorf("HTTPPort = %q, want :9090", c.HTTPPort)
	}
	if c.StoreDriver != "memory" {
		t.Errorf("StoreDriver = %q, want memory", c.StoreDriver)
	}
	if c.Delivery.MaxAttempts != 6 {
		t.Errorf("Delivery.MaxAttempts = %d, want 6", c.Delivery.MaxAttempts)
	}
	if c.Delivery.HTTPTimeout != 5*time.Second {
		t.Errorf("Delivery.HTTPTimeout = %v, want 5s", c.Delivery.HTTPTimeout)
	}
	want := []time.Duration{10 * time.Second, time.Minute, 2 * time.Hour}
	if !reflect.DeepEqual(c.Delivery.BackoffSchedule, want) {
		t.Errorf("Delivery.BackoffSchedule = %v, want %v", c.Delivery.BackoffSchedule, want)
	}
	if c.Scheduler.Interval != time.Minute {
		t.Errorf("Scheduler.Interval = %v, want 1m", c.Scheduler.Interval)
	}
	if !c.NSQ.PublishDLQ {
		t.Errorf("NSQ.PublishDLQ = false, want true")
	}
	if c.DB.Host != "db.internal" {
		t.Errorf("DB.Host = %q, want db.internal", c.DB.Host)
	}
}

func TestFromEnvInvalidValuesFallBack(t *testing.T) {
	t.Setenv("MAX_ATTEMPTS", "lots")
	t.Setenv("DELIVERY_HTTP_TIMEOUT", "soon")
	t.Setenv("PUBLISH_DLQ_TOPIC", "yep")

	c := FromEnv()

	if c.Delivery.MaxAttempts != 4 {
		t.Errorf("Delivery.MaxAttempts = %d, want default 4", c.Delivery.MaxAttempts)
	}
	if c.Delivery.HTTPTimeout != 30*time.Second {
		t.Errorf("Delivery.HTTPTimeout = %v, want default 30s", c.Delivery.HTTPTimeout)
	}
	if c.NSQ.PublishDLQ {
		t.Errorf("NSQ.PublishDLQ = true, want default false")
	}
}

func TestParseBackoffSchedule(t *testing.T) {
	def := defaultBackoffSchedule()

	tests := []struct {
		name  string
		input string
		want  []time.Duration
	}{
		{"empty uses default", "", def},
		{"single", "45s", []time.Duration{45 * time.Second}},
		{"multiple with spaces", "1m, 5m, 30m", def},
		{"partial garbage kept valid entries", "1m,banana,5m", []time.Duration{time.Minute, 5 * time.Minute}},
		{"all garbage uses default", "banana,apple", def},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := parseBackoffSchedule(tt.input); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseBackoffSchedule(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestDSN(t *testing.T) {
	c := Config{DB: DB{User: "u", Pass: "p", Host: "h", Port: "5433", Name: "n"}}
	want := "postgres://u:p@h:5433/n?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
