// Package config loads the engine's tunables from the environment into
// a typed struct covering every knob the engine recognizes.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every runtime knob the engine recognizes.
type Config struct {
	// Storage
	DatabaseURL string

	// Bus (Kafka)
	KafkaBrokers []string
	KafkaTopic   string

	// Control plane
	HTTPAddr      string
	ControlSecret string // HS256 bearer secret for the admin API
	DevMode       bool

	// Sync engine knobs
	StuckThreshold     time.Duration
	MaintenanceInterval time.Duration
	ProcessedOpTTL      time.Duration
	TombstoneTTL        time.Duration
	PeerLabelLocal      string
	PeerLabelPeer       string

	// Outbox retry ceiling before an entry is marked unrecoverable
	OutboxMaxAttempts int
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envDurationMs(k string, defMs int64) time.Duration {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return time.Duration(n) * time.Millisecond
		}
	}
	return time.Duration(defMs) * time.Millisecond
}

func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

// FromEnv builds a Config from the process environment, applying a
// sane default wherever a variable is unset.
func FromEnv() Config {
	brokers := env("KAFKA_BROKERS", "localhost:9092")
	return Config{
		DatabaseURL: env("DATABASE_URL", ""),

		KafkaBrokers: splitCSV(brokers),
		KafkaTopic:   env("KAFKA_BUS_TOPIC", "sync.bus"),

		HTTPAddr:      env("HTTP_ADDR", ":8080"),
		ControlSecret: env("CONTROL_HS256_SECRET", "dev-secret-change-in-production"),
		DevMode:       envBool("DEV_MODE", env("ENV", "") == "dev"),

		StuckThreshold:      envDurationMs("STUCK_THRESHOLD_MS", 300_000),
		MaintenanceInterval: envDurationMs("MAINTENANCE_INTERVAL_MS", 900_000),
		ProcessedOpTTL:      envDurationMs("PROCESSED_OP_TTL_MS", 604_800_000),
		TombstoneTTL:        envDurationMs("TOMBSTONE_TTL_MS", 2_592_000_000),
		PeerLabelLocal:      env("PEER_LABEL_LOCAL", "watch"),
		PeerLabelPeer:       env("PEER_LABEL_PEER", "phone"),

		OutboxMaxAttempts: envInt("OUTBOX_MAX_ATTEMPTS", 12),
	}
}

func splitCSV(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if len(out) == 0 {
		return []string{s}
	}
	return out
}
