// Package config loads ccbridge's process configuration from a line-oriented
// KEY=VALUE file and the real process environment, matching spec.md §6's
// external-interfaces contract.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config is the process-wide configuration surface. Fields map 1:1 to the
// environment variables spec.md §6 and §13 name.
type Config struct {
	// PROXY_API_KEY is the bearer token C7 compares requests against.
	ProxyAPIKey string
	// Port the HTTP surface listens on.
	Port string
	// DefaultModel is used by the router when a caller omits "model".
	DefaultModel string
	// NgrokAuthToken is read and ignored: tunnelling is an external collaborator.
	NgrokAuthToken string
	// Debug raises the log level to debug when true.
	Debug bool
	// Fallback, when true, retries a 1M-context upstream failure once
	// against the non-1M model id.
	Fallback bool

	// CloudCodeBaseURL / CloudCodeAPIKey address the upstream Cloud Code
	// service. Not part of spec.md's CLI/env surface verbatim, but required
	// by the "authenticated upstream transport" external collaborator spec.md
	// §1 says is supplied to the core.
	CloudCodeBaseURL string
	CloudCodeAPIKey  string

	// Enable1MContext seeds the router's global 1M-context toggle.
	Enable1MContext bool

	// OTLPEndpoint, when non-empty, turns on OpenTelemetry export.
	OTLPEndpoint string

	// NoBrowser / NoNgrok mirror the corresponding CLI flags; recorded for
	// completeness, never acted on (external collaborators, spec.md §1).
	NoBrowser bool
	NoNgrok   bool
}

// Flags holds the CLI surface spec.md §6 lists for the enclosing program.
type Flags struct {
	Debug     bool
	NoBrowser bool
	NoNgrok   bool
	Fallback  bool
}

// Load reads envPath (if it exists) with godotenv, then layers the real
// process environment on top, then applies any CLI flags, and returns the
// resulting Config. A missing envPath is not an error — env vars and flags
// alone are a valid configuration source.
func Load(envPath string, flags Flags) (*Config, error) {
	if envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			if err := godotenv.Load(envPath); err != nil {
				return nil, err
			}
		}
	}

	cfg := &Config{
		ProxyAPIKey:      os.Getenv("PROXY_API_KEY"),
		Port:             firstNonEmpty(os.Getenv("PORT"), "8080"),
		DefaultModel:     os.Getenv("DEFAULT_MODEL"),
		NgrokAuthToken:   os.Getenv("NGROK_AUTH_TOKEN"),
		Debug:            parseBool(os.Getenv("DEBUG")),
		Fallback:         parseBool(os.Getenv("FALLBACK")),
		CloudCodeBaseURL: os.Getenv("CLOUD_CODE_BASE_URL"),
		CloudCodeAPIKey:  os.Getenv("CLOUD_CODE_API_KEY"),
		Enable1MContext:  parseBool(os.Getenv("ENABLE_1M_CONTEXT")),
		OTLPEndpoint:     os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if flags.Debug {
		cfg.Debug = true
	}
	if flags.Fallback {
		cfg.Fallback = true
	}
	cfg.NoBrowser = flags.NoBrowser
	cfg.NoNgrok = flags.NoNgrok

	return cfg, nil
}

// LogLevel returns the zerolog-compatible level string for this config.
func (c *Config) LogLevel() string {
	if c.Debug {
		return "debug"
	}
	return "info"
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseBool accepts 1/true/yes case-insensitively, matching the teacher's
// lenient boolean-env convention.
func parseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes":
		return true
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return false
}
