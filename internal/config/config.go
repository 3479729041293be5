// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds every tunable in the wire configuration table: listener
// bind, websocket framing limits, room/peer admission caps, the heartbeat
// and cleanup sweep periods, logging level, CORS origin and rate limits.
type Config struct {
	Host string
	Port int

	WSPath       string
	WSMaxPayload int64

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	MaxPeersPerRoom int
	MaxRooms        int

	CleanupInterval time.Duration
	PeerTimeout     time.Duration

	LogLevel   string
	CORSOrigin string

	MetricsRoute string

	RendezvousTTL time.Duration

	// Simple per-minute rate limits (0 disables)
	WSRatePerMin   int
	HTTPRatePerMin int

	ReadHeaderTimeout time.Duration
}

func (c Config) BindAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

// FromEnv loads configuration from the process environment, falling back
// to the defaults from the configuration table.
func FromEnv() Config {
	return Config{
		Host: getenv("HOST", "0.0.0.0"),
		Port: getenvInt("PORT", 3001),

		WSPath:       getenv("WS_PATH", "/ws"),
		WSMaxPayload: int64(getenvInt("WS_MAX_PAYLOAD_SIZE", 65536)),

		HeartbeatInterval: getenvDur("HEARTBEAT_INTERVAL", 30*time.Second),
		HeartbeatTimeout:  getenvDur("HEARTBEAT_TIMEOUT", 10*time.Second),

		MaxPeersPerRoom: getenvInt("ROOMS_MAX_PEERS_PER_ROOM", 10),
		MaxRooms:        getenvInt("ROOMS_MAX_ROOMS", 100),

		CleanupInterval: getenvDur("CLEANUP_INTERVAL", 30*time.Second),
		PeerTimeout:     getenvDur("CLEANUP_PEER_TIMEOUT", 60*time.Second),

		LogLevel:   getenv("LOGGING_LEVEL", "info"),
		CORSOrigin: getenv("CORS_ORIGIN", "*"),

		MetricsRoute: getenv("METRICS_ROUTE", "/metrics"),

		RendezvousTTL: getenvDur("RENDEZVOUS_TTL", 15*time.Minute),

		WSRatePerMin:   getenvInt("WS_RATE_PER_MIN", 0),
		HTTPRatePerMin: getenvInt("HTTP_RATE_PER_MIN", 0),

		ReadHeaderTimeout: getenvDur("READ_HEADER_TIMEOUT", 5*time.Second),
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.WSMaxPayload <= 0 {
		return fmt.Errorf("WS_MAX_PAYLOAD_SIZE must be >0")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("HEARTBEAT_INTERVAL must be >0")
	}
	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be >0")
	}
	if c.MaxPeersPerRoom <= 0 {
		return fmt.Errorf("ROOMS_MAX_PEERS_PER_ROOM must be >0")
	}
	if c.MaxRooms <= 0 {
		return fmt.Errorf("ROOMS_MAX_ROOMS must be >0")
	}
	if c.RendezvousTTL <= 0 {
		return fmt.Errorf("RENDEZVOUS_TTL must be >0")
	}
	if c.WSPath == "" || !strings.HasPrefix(c.WSPath, "/") {
		return fmt.Errorf("WS_PATH must start with /")
	}
	return nil
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
