package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	baseURL := strings.TrimSpace(cfg.Service.BaseURL)
	if baseURL == "" {
		return nil, fmt.Errorf("service.base_url must not be empty")
	}
	parsed, err := url.Parse(baseURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, fmt.Errorf("service.base_url must be an absolute http(s) URL")
	}
	if cfg.Service.TimeoutMS <= 0 {
		return nil, fmt.Errorf("service.timeout_ms must be > 0")
	}
	if !strings.HasPrefix(strings.TrimSpace(cfg.Service.HealthPath), "/") {
		return nil, fmt.Errorf("service.health_path must start with '/'")
	}
	switch cfg.Service.QuestionRoute {
	case "chat", "legal":
	default:
		return nil, fmt.Errorf("service.question_route must be one of: chat, legal")
	}
	if grpcHealth := strings.TrimSpace(cfg.Service.GRPCHealth); grpcHealth != "" {
		if _, _, err := net.SplitHostPort(grpcHealth); err != nil {
			return nil, fmt.Errorf("service.grpc_health must be host:port: %w", err)
		}
	}
	if !cfg.Session.Language.Valid() {
		return nil, fmt.Errorf("session.language %q is not supported", cfg.Session.Language)
	}

	if cfg.Playback.AutoplayDelayMS < 0 {
		return nil, fmt.Errorf("playback.autoplay_delay_ms must be >= 0")
	}
	if cfg.Playback.CacheTTLMS <= 0 {
		return nil, fmt.Errorf("playback.cache_ttl_ms must be > 0")
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend != "desktop" && backend != "none" {
		return nil, fmt.Errorf("indicator.backend must be one of: desktop, none")
	}
	if backend == "desktop" && cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	if listen := strings.TrimSpace(cfg.Metrics.Listen); listen != "" {
		if _, _, err := net.SplitHostPort(listen); err != nil {
			return nil, fmt.Errorf("metrics.listen must be host:port: %w", err)
		}
	}

	if _, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Log.Level))); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	if cfg.Log.MaxSizeMB <= 0 {
		return nil, fmt.Errorf("log.max_size_mb must be > 0")
	}
	if cfg.Log.MaxBackups < 0 {
		return nil, fmt.Errorf("log.max_backups must be >= 0")
	}

	if strings.HasPrefix(baseURL, "http://") && !isLoopbackURL(parsed) {
		warnings = append(warnings, Warning{Message: fmt.Sprintf("service.base_url %q is not TLS protected", baseURL)})
	}
	if cfg.Session.AutoTranscribe && cfg.Session.InputMode != "voice" {
		warnings = append(warnings, Warning{Message: "session.auto_transcribe has no effect unless session.input_mode=voice"})
	}

	return warnings, nil
}

func isLoopbackURL(u *url.URL) bool {
	host := u.Hostname()
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
