package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures all tunable parameters for the tracking server. Values
// load from environment variables with defaults that let the binary run
// locally with nothing but a JWT secret.
type Config struct {
	HTTPAddr        string
	WSPath          string
	GRPCAddr        string
	ShutdownTimeout time.Duration

	JWTSecret string

	RedisAddr     string
	RedisPassword string
	SnapshotTTL   time.Duration

	NATSURL         string
	StatusSubject   string
	LocationSubject string

	GraceWindow           time.Duration
	IdleEviction          time.Duration
	SweepInterval         time.Duration
	SamplePublishInterval time.Duration
	SendQueue             int

	ConnectRate  float64
	ConnectBurst float64
	AdminRate    float64
	AdminBurst   float64
}

func defaults() Config {
	return Config{
		HTTPAddr:              ":8080",
		WSPath:                "/ws/tracking",
		GRPCAddr:              ":9090",
		ShutdownTimeout:       15 * time.Second,
		SnapshotTTL:           2 * time.Minute,
		StatusSubject:         "tracking.ride.status",
		LocationSubject:       "tracking.location",
		GraceWindow:           30 * time.Second,
		IdleEviction:          10 * time.Minute,
		SweepInterval:         time.Minute,
		SamplePublishInterval: time.Second,
		SendQueue:             64,
	}
}

// Load reads configuration from the environment.
func Load() (Config, error) {
	cfg := defaults()
	var errs []error

	setString(&cfg.HTTPAddr, "TRACK_HTTP_ADDR")
	setString(&cfg.WSPath, "TRACK_WS_PATH")
	cfg.GRPCAddr = strings.TrimSpace(envOr("TRACK_GRPC_ADDR", cfg.GRPCAddr))
	setDuration(&cfg.ShutdownTimeout, "TRACK_SHUTDOWN_TIMEOUT", &errs)

	cfg.JWTSecret = os.Getenv("TRACK_JWT_SECRET")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("TRACK_REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("TRACK_REDIS_PASSWORD")
	setDuration(&cfg.SnapshotTTL, "TRACK_SNAPSHOT_TTL", &errs)

	cfg.NATSURL = strings.TrimSpace(os.Getenv("TRACK_NATS_URL"))
	setString(&cfg.StatusSubject, "TRACK_STATUS_SUBJECT")
	setString(&cfg.LocationSubject, "TRACK_LOCATION_SUBJECT")

	setDuration(&cfg.GraceWindow, "TRACK_GRACE_WINDOW", &errs)
	setDuration(&cfg.IdleEviction, "TRACK_IDLE_EVICTION", &errs)
	setDuration(&cfg.SweepInterval, "TRACK_SWEEP_INTERVAL", &errs)
	setDuration(&cfg.SamplePublishInterval, "TRACK_SAMPLE_PUBLISH_INTERVAL", &errs)
	setInt(&cfg.SendQueue, "TRACK_SEND_QUEUE", &errs)

	setFloat(&cfg.ConnectRate, "TRACK_CONNECT_RATE", &errs)
	setFloat(&cfg.ConnectBurst, "TRACK_CONNECT_BURST", &errs)
	setFloat(&cfg.AdminRate, "TRACK_ADMIN_RATE", &errs)
	setFloat(&cfg.AdminBurst, "TRACK_ADMIN_BURST", &errs)

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("TRACK_JWT_SECRET is required"))
	}
	if cfg.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("TRACK_SEND_QUEUE must be > 0"))
	}
	if !strings.HasPrefix(cfg.WSPath, "/") {
		errs = append(errs, fmt.Errorf("TRACK_WS_PATH must start with /"))
	}

	return cfg, errors.Join(errs...)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func setString(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func setDuration(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setInt(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setFloat(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}
