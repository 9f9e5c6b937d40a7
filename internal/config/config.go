// Package config loads the service settings from environment variables.
// Load runs once at startup; components receive the values they need and
// never read the environment themselves.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/nocodb-codegen/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "nocodb-codegen")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// NocoDBConfig holds the connection settings for the remote table API.
type NocoDBConfig struct {
	BaseURL    string        // NOCODB_URL, without the /api/v2/tables suffix
	Token      string        // API_TOKEN, sent as xc-token
	PrimaryKey string        // NOCODB_PRIMARY_KEY, usually "Id"
	Timeout    time.Duration // NOCODB_TIMEOUT per remote call
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 120s; a run issues up to MaxLimit writes
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	// Remote table API
	NocoDB NocoDBConfig

	// Code generation
	MaxLimit int // upper bound for the limit query parameter

	// Run history (empty disables persistence)
	DBPath string

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is replayable

	// Observability
	OTEL OTELConfig
}

// Load reads the environment, applies defaults and validates the result.
// Every invalid setting is reported, joined into one error.
func Load() (Config, error) {
	cfg := Config{
		Port:              env("PORT", "3000", parseString),
		ReadTimeout:       env("READ_TIMEOUT", 15*time.Second, time.ParseDuration),
		ReadHeaderTimeout: env("READ_HEADER_TIMEOUT", 10*time.Second, time.ParseDuration),
		WriteTimeout:      env("WRITE_TIMEOUT", 120*time.Second, time.ParseDuration),
		IdleTimeout:       env("IDLE_TIMEOUT", 60*time.Second, time.ParseDuration),
		MaxHeaderBytes:    env("MAX_HEADER_BYTES", 1<<20, strconv.Atoi),
		GinMode:           strings.ToLower(env("GIN_MODE", "release", parseString)),

		LogLevel:  strings.ToLower(env("LOG_LEVEL", "info", parseString)),
		LogPretty: env("LOG_PRETTY", false, parseBool),

		NocoDB: NocoDBConfig{
			BaseURL:    strings.TrimRight(strings.TrimSpace(env("NOCODB_URL", "", parseString)), "/"),
			Token:      env("API_TOKEN", "", parseString),
			PrimaryKey: env("NOCODB_PRIMARY_KEY", "Id", parseString),
			Timeout:    env("NOCODB_TIMEOUT", 30*time.Second, time.ParseDuration),
		},
		MaxLimit: env("MAX_LIMIT", 1000, strconv.Atoi),
		DBPath:   env("DB_PATH", "codegen.db", parseDBPath),

		RateRPS:   env("RATE_RPS", 2.0, parseFloat),
		RateBurst: env("RATE_BURST", 5, strconv.Atoi),

		CORS: CORSConfig{AllowedOrigins: splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS"))},
		Security: SecurityConfig{
			EnableHSTS: env("ENABLE_HSTS", false, parseBool),
			HSTSMaxAge: env("HSTS_MAX_AGE", 180*24*time.Hour, time.ParseDuration),
		},
		IdempotencyTTL: env("IDEMPOTENCY_TTL", 24*time.Hour, time.ParseDuration),

		OTEL: OTELConfig{
			Enabled:     env("OTEL_ENABLED", false, parseBool),
			Endpoint:    env("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317", parseString),
			Insecure:    env("OTEL_EXPORTER_OTLP_INSECURE", true, parseBool),
			ServiceName: env("OTEL_SERVICE_NAME", "nocodb-codegen", parseString),
			SampleRatio: env("OTEL_TRACES_SAMPLER_ARG", 1.0, parseFloat),
		},
	}

	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q must be one of: debug, info, warn, error, fatal, panic", c.LogLevel))
	}
	check(strings.TrimSpace(c.Port) != "", "PORT must not be empty")
	check(c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0,
		"timeouts must be positive durations")
	check(c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0")

	if c.NocoDB.BaseURL == "" {
		errs = append(errs, errors.New("NOCODB_URL must not be empty"))
	} else if u, err := url.Parse(c.NocoDB.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("NOCODB_URL must be an absolute URL, got %q", c.NocoDB.BaseURL))
	}
	check(strings.TrimSpace(c.NocoDB.PrimaryKey) != "", "NOCODB_PRIMARY_KEY must not be empty")
	check(c.NocoDB.Timeout > 0, "NOCODB_TIMEOUT must be > 0")

	check(c.MaxLimit >= 1, "MAX_LIMIT must be >= 1")
	check(c.RateRPS >= 0, "RATE_RPS must be >= 0")
	check(c.RateBurst >= 1, "RATE_BURST must be >= 1")
	check(c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0")
	check(c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0")
	check(c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]")

	return errors.Join(errs...)
}

// HistoryEnabled reports whether runs are persisted to the local database.
func (c Config) HistoryEnabled() bool { return strings.TrimSpace(c.DBPath) != "" }

// env parses the variable k, falling back to def when it is unset, empty or
// does not parse.
func env[T any](k string, def T, parse func(string) (T, error)) T {
	v, ok := os.LookupEnv(k)
	if !ok || v == "" {
		return def
	}
	out, err := parse(v)
	if err != nil {
		return def
	}
	return out
}

func parseString(s string) (string, error) { return s, nil }

func parseFloat(s string) (float64, error) { return strconv.ParseFloat(s, 64) }

func parseBool(s string) (bool, error) {
	switch {
	case sysutil.IsTruthy(s):
		return true, nil
	case sysutil.IsFalsy(s):
		return false, nil
	}
	return false, fmt.Errorf("not a boolean: %q", s)
}

// parseDBPath maps "off" to "", which disables run history.
func parseDBPath(s string) (string, error) {
	if strings.EqualFold(strings.TrimSpace(s), "off") {
		return "", nil
	}
	return s, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
