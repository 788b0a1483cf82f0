// Package config resolves, parses, validates, and defaults vakil configuration.
package config

import (
	"time"

	"github.com/rbright/vakil/internal/domain"
)

// Config is the fully materialized runtime configuration used by vakil.
type Config struct {
	Service   ServiceConfig
	Audio     AudioConfig
	Session   SessionConfig
	Playback  PlaybackConfig
	Indicator IndicatorConfig
	Metrics   MetricsConfig
	Log       LogConfig
	Debug     DebugConfig
}

// ServiceConfig locates the legal research service.
type ServiceConfig struct {
	BaseURL       string
	TimeoutMS     int
	HealthPath    string
	QuestionRoute string
	GRPCHealth    string
}

// Timeout returns the per-request deadline.
func (c ServiceConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMS) * time.Millisecond
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// SessionConfig seeds every new or reset session.
type SessionConfig struct {
	Language       domain.Language
	QueryKind      domain.QueryKind
	InputMode      domain.InputMode
	SpeakReply     bool
	AutoTranscribe bool
}

// Defaults converts the session section into domain defaults.
func (c SessionConfig) Defaults() domain.Defaults {
	return domain.Defaults{
		Language:         c.Language,
		InputMode:        c.InputMode,
		QueryKind:        c.QueryKind,
		WantsSpokenReply: c.SpeakReply,
	}
}

// PlaybackConfig controls synthesized reply playback.
type PlaybackConfig struct {
	Enable          bool
	AutoplayDelayMS int
	CacheTTLMS      int
	PlayerCmd       CommandConfig
}

// IndicatorConfig controls desktop notification and audio cue behavior.
type IndicatorConfig struct {
	Enable         bool
	Backend        string
	DesktopAppName string
	SoundEnable    bool
	ErrorTimeoutMS int
}

// MetricsConfig enables the Prometheus listener when Listen is set.
type MetricsConfig struct {
	Listen string
}

// LogConfig controls level and rotation of the JSON log file.
type LogConfig struct {
	Level      string
	MaxSizeMB  int
	MaxBackups int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
