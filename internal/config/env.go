// Package config handles environment-based configuration loading for
// Kestrel, grounded on the teacher's internal/config/env.go.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// EnvConfig holds environment-variable-driven settings (spec ยง6's
// configuration surface).
type EnvConfig struct {
	Bind           string
	Concurrency    int
	ServerSoftware string
	KeepAlive      time.Duration
	MiddlewareFile string // optional path to a YAML middleware-chain overlay
}

const (
	defaultBind        = ":8080"
	defaultConcurrency = 256
	defaultServer      = "Kestrel-proxy"
	defaultKeepAlive   = 75 * time.Second
)

// LoadEnvConfig reads EnvConfig from the process environment, applying
// defaults for anything unset.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{
		Bind:           getEnv("KESTREL_BIND", defaultBind),
		Concurrency:    defaultConcurrency,
		ServerSoftware: getEnv("KESTREL_SERVER_SOFTWARE", defaultServer),
		KeepAlive:      defaultKeepAlive,
		MiddlewareFile: os.Getenv("KESTREL_MIDDLEWARE_FILE"),
	}

	if v := os.Getenv("KESTREL_CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("config: invalid KESTREL_CONCURRENCY %q: must be a positive integer", v)
		}
		cfg.Concurrency = n
	}

	if v := os.Getenv("KESTREL_KEEP_ALIVE_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("config: invalid KESTREL_KEEP_ALIVE_SECONDS %q: must be a non-negative integer", v)
		}
		cfg.KeepAlive = time.Duration(n) * time.Second
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
