package config

import "github.com/rbright/vakil/internal/domain"

// Default returns the canonical runtime configuration used when no file is present.
func Default() Config {
	player := "pw-play"

	return Config{
		Service: ServiceConfig{
			BaseURL:       "http://localhost:5000",
			TimeoutMS:     60000,
			HealthPath:    "/",
			QuestionRoute: "chat",
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Session: SessionConfig{
			Language:  domain.LanguageAuto,
			QueryKind: domain.KindComplaint,
			InputMode: domain.InputText,
		},
		Playback: PlaybackConfig{
			Enable:          true,
			AutoplayDelayMS: 500,
			CacheTTLMS:      600000,
			PlayerCmd:       CommandConfig{Raw: player, Argv: mustParseArgv(player)},
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "desktop",
			DesktopAppName: "vakil",
			SoundEnable:    true,
			ErrorTimeoutMS: 1600,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}
