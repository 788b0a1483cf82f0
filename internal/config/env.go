package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rbright/vakil/internal/domain"
)

const envPrefix = "VAKIL"

// envOverlay lists the settings that may be overridden from the environment.
// Unset variables leave the file value in place.
type envOverlay struct {
	BaseURL        *string `envconfig:"BASE_URL"`
	TimeoutMS      *int    `envconfig:"TIMEOUT_MS"`
	QuestionRoute  *string `envconfig:"QUESTION_ROUTE"`
	GRPCHealth     *string `envconfig:"GRPC_HEALTH"`
	AudioInput     *string `envconfig:"AUDIO_INPUT"`
	Language       *string `envconfig:"LANGUAGE"`
	QueryKind      *string `envconfig:"QUERY_KIND"`
	SpeakReply     *bool   `envconfig:"SPEAK_REPLY"`
	AutoTranscribe *bool   `envconfig:"AUTO_TRANSCRIBE"`
	PlayerCmd      *string `envconfig:"PLAYER_CMD"`
	MetricsListen  *string `envconfig:"METRICS_LISTEN"`
	LogLevel       *string `envconfig:"LOG_LEVEL"`
}

// loadDotEnv reads an optional .env next to the config file without overriding real variables.
func loadDotEnv(configPath string) error {
	path := filepath.Join(filepath.Dir(configPath), ".env")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat %q: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %q: %w", path, err)
	}
	return nil
}

// applyEnv overlays VAKIL_* variables onto cfg.
func applyEnv(cfg *Config) error {
	var env envOverlay
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("read environment: %w", err)
	}

	setString(&cfg.Service.BaseURL, env.BaseURL)
	setInt(&cfg.Service.TimeoutMS, env.TimeoutMS)
	setString(&cfg.Service.QuestionRoute, env.QuestionRoute)
	setString(&cfg.Service.GRPCHealth, env.GRPCHealth)
	setString(&cfg.Audio.Input, env.AudioInput)
	setBool(&cfg.Session.SpeakReply, env.SpeakReply)
	setBool(&cfg.Session.AutoTranscribe, env.AutoTranscribe)
	setString(&cfg.Metrics.Listen, env.MetricsListen)
	setString(&cfg.Log.Level, env.LogLevel)

	if env.Language != nil {
		language, err := domain.ParseLanguage(*env.Language)
		if err != nil {
			return fmt.Errorf("%s_LANGUAGE: %w", envPrefix, err)
		}
		cfg.Session.Language = language
	}
	if env.QueryKind != nil {
		kind, err := domain.ParseQueryKind(*env.QueryKind)
		if err != nil {
			return fmt.Errorf("%s_QUERY_KIND: %w", envPrefix, err)
		}
		cfg.Session.QueryKind = kind
	}
	if env.PlayerCmd != nil {
		argv, err := parseArgv(*env.PlayerCmd)
		if err != nil {
			return fmt.Errorf("%s_PLAYER_CMD: %w", envPrefix, err)
		}
		cfg.Playback.PlayerCmd = CommandConfig{Raw: *env.PlayerCmd, Argv: argv}
	}
	return nil
}
