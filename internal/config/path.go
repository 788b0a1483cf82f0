package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// ConfigEnv names the environment variable that points at a config file when
// --config is not given.
const ConfigEnv = "VAKIL_CONFIG"

// ResolvePath picks the config.jsonc location: --config, then $VAKIL_CONFIG,
// then $XDG_CONFIG_HOME/vakil, then ~/.config/vakil.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(ConfigEnv)} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return expandHome(candidate)
		}
	}

	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "vakil", "config.jsonc"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("no config path: neither XDG_CONFIG_HOME nor HOME is set")
	}
	return filepath.Join(home, ".config", "vakil", "config.jsonc"), nil
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.New("cannot expand ~ without HOME")
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
