package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/rbright/vakil/internal/domain"
)

type jsoncConfig struct {
	Service   *jsoncService   `json:"service"`
	Audio     *jsoncAudio     `json:"audio"`
	Session   *jsoncSession   `json:"session"`
	Playback  *jsoncPlayback  `json:"playback"`
	Indicator *jsoncIndicator `json:"indicator"`
	Metrics   *jsoncMetrics   `json:"metrics"`
	Log       *jsoncLog       `json:"log"`
	Debug     *jsoncDebug     `json:"debug"`
}

type jsoncService struct {
	BaseURL       *string `json:"base_url"`
	TimeoutMS     *int    `json:"timeout_ms"`
	HealthPath    *string `json:"health_path"`
	QuestionRoute *string `json:"question_route"`
	GRPCHealth    *string `json:"grpc_health"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncSession struct {
	Language       *string `json:"language"`
	QueryKind      *string `json:"query_kind"`
	InputMode      *string `json:"input_mode"`
	SpeakReply     *bool   `json:"speak_reply"`
	AutoTranscribe *bool   `json:"auto_transcribe"`
}

type jsoncPlayback struct {
	Enable          *bool   `json:"enable"`
	AutoplayDelayMS *int    `json:"autoplay_delay_ms"`
	CacheTTLMS      *int    `json:"cache_ttl_ms"`
	PlayerCmd       *string `json:"player_cmd"`
}

type jsoncIndicator struct {
	Enable         *bool   `json:"enable"`
	Backend        *string `json:"backend"`
	DesktopAppName *string `json:"desktop_app_name"`
	SoundEnable    *bool   `json:"sound_enable"`
	ErrorTimeoutMS *int    `json:"error_timeout_ms"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncLog struct {
	Level      *string `json:"level"`
	MaxSizeMB  *int    `json:"max_size_mb"`
	MaxBackups *int    `json:"max_backups"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := standardizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}

	validatedWarnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	warnings = append(warnings, validatedWarnings...)
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if svc := payload.Service; svc != nil {
		setString(&cfg.Service.BaseURL, svc.BaseURL)
		setInt(&cfg.Service.TimeoutMS, svc.TimeoutMS)
		setString(&cfg.Service.HealthPath, svc.HealthPath)
		setString(&cfg.Service.QuestionRoute, svc.QuestionRoute)
		setString(&cfg.Service.GRPCHealth, svc.GRPCHealth)
	}

	if payload.Audio != nil {
		setString(&cfg.Audio.Input, payload.Audio.Input)
		setString(&cfg.Audio.Fallback, payload.Audio.Fallback)
	}

	if session := payload.Session; session != nil {
		if session.Language != nil {
			language, err := domain.ParseLanguage(*session.Language)
			if err != nil {
				return nil, fmt.Errorf("session.language: %w", err)
			}
			cfg.Session.Language = language
		}
		if session.QueryKind != nil {
			kind, err := domain.ParseQueryKind(*session.QueryKind)
			if err != nil {
				return nil, fmt.Errorf("session.query_kind: %w", err)
			}
			cfg.Session.QueryKind = kind
		}
		if session.InputMode != nil {
			mode, err := domain.ParseInputMode(*session.InputMode)
			if err != nil {
				return nil, fmt.Errorf("session.input_mode: %w", err)
			}
			cfg.Session.InputMode = mode
		}
		setBool(&cfg.Session.SpeakReply, session.SpeakReply)
		setBool(&cfg.Session.AutoTranscribe, session.AutoTranscribe)
	}

	if playback := payload.Playback; playback != nil {
		setBool(&cfg.Playback.Enable, playback.Enable)
		setInt(&cfg.Playback.AutoplayDelayMS, playback.AutoplayDelayMS)
		setInt(&cfg.Playback.CacheTTLMS, playback.CacheTTLMS)
		if playback.PlayerCmd != nil {
			raw := *playback.PlayerCmd
			argv, err := parseArgv(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid playback.player_cmd: %w", err)
			}
			cfg.Playback.PlayerCmd = CommandConfig{Raw: raw, Argv: argv}
			if len(argv) == 0 {
				warnings = append(warnings, Warning{Message: "playback.player_cmd is empty; only WAV replies can be played"})
			}
		}
	}

	if indicator := payload.Indicator; indicator != nil {
		setBool(&cfg.Indicator.Enable, indicator.Enable)
		if indicator.Backend != nil {
			cfg.Indicator.Backend = strings.ToLower(strings.TrimSpace(*indicator.Backend))
		}
		if indicator.DesktopAppName != nil {
			cfg.Indicator.DesktopAppName = strings.TrimSpace(*indicator.DesktopAppName)
		}
		setBool(&cfg.Indicator.SoundEnable, indicator.SoundEnable)
		setInt(&cfg.Indicator.ErrorTimeoutMS, indicator.ErrorTimeoutMS)
	}

	if payload.Metrics != nil {
		setString(&cfg.Metrics.Listen, payload.Metrics.Listen)
	}

	if payload.Log != nil {
		setString(&cfg.Log.Level, payload.Log.Level)
		setInt(&cfg.Log.MaxSizeMB, payload.Log.MaxSizeMB)
		setInt(&cfg.Log.MaxBackups, payload.Log.MaxBackups)
	}

	if payload.Debug != nil {
		setBool(&cfg.Debug.EnableAudioDump, payload.Debug.AudioDump)
	}

	return warnings, nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra struct{}
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}
