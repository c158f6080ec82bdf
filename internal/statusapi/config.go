package statusapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":9090"
	defaultAllowedOrigin  = "http://localhost:8000"
	defaultSessionIssuer  = "tauth"
	defaultSessionCookie  = "app_session"
	defaultRequestTimeout = 30 * time.Second
)

// Config aggregates runtime settings for the status API.
type Config struct {
	ListenAddr        string
	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
	RequestTimeout    time.Duration
}

// Validate fills defaults and rejects unusable values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	for _, origin := range cfg.AllowedOrigins {
		if !strings.HasPrefix(origin, "http://") && !strings.HasPrefix(origin, "https://") {
			return fmt.Errorf("allowed origin %q must include http:// or https://", origin)
		}
	}
	return nil
}

// Guarded reports whether /api requires a tauth session.
func (cfg Config) Guarded() bool {
	return strings.TrimSpace(cfg.SessionSigningKey) != ""
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

// ParseAllowedOrigins splits comma-delimited origins into a slice.
func ParseAllowedOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
