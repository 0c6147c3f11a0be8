// Package config holds the runtime's tunable surface: flag-defined
// defaults, environment overrides and an optional JSON settings file.
package config

import (
	"flag"
	"os"
	"strconv"
)

// Config holds all runtime configuration.
type Config struct {
	Listen        string // primary listen endpoint url
	PollTimeout   int    // milliseconds per poll tick
	RecvCeiling   int    // receive buffer high-water mark, bytes
	MaxWSFrame    int    // WebSocket frame payload cap, bytes
	MaxMQTTPacket int    // MQTT remaining-length cap, bytes
	EnableWakeup  bool   // open the cross-thread wakeup channel
	TLSCert       string
	TLSKey        string
	TLSCA         string
	Env           string // environment (development/production)
}

// New loads configuration from flags with env overrides.
func New() *Config {
	cfg := &Config{}

	flag.StringVar(&cfg.Listen, "listen", "http://0.0.0.0:8080", "listen endpoint url")
	flag.IntVar(&cfg.PollTimeout, "poll-timeout", 100, "poll timeout (milliseconds)")
	flag.IntVar(&cfg.RecvCeiling, "recv-ceiling", 16*1024, "receive buffer high-water mark (bytes)")
	flag.IntVar(&cfg.MaxWSFrame, "max-ws-frame", 1024*1024, "WebSocket frame cap (bytes)")
	flag.IntVar(&cfg.MaxMQTTPacket, "max-mqtt-packet", 256*1024, "MQTT packet cap (bytes)")
	flag.BoolVar(&cfg.EnableWakeup, "wakeup", false, "enable the cross-thread wakeup channel")
	flag.StringVar(&cfg.TLSCert, "tls-cert", "", "TLS certificate file")
	flag.StringVar(&cfg.TLSKey, "tls-key", "", "TLS key file")
	flag.StringVar(&cfg.TLSCA, "tls-ca", "", "TLS CA file")
	flag.StringVar(&cfg.Env, "env", "development", "environment (development/production)")

	flag.Parse()

	if v := os.Getenv("EVNET_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("EVNET_POLL_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PollTimeout = n
		}
	}

	return cfg
}
