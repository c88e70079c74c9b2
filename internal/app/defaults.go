package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns client default paths, checking environment variables first.
// Environment variables:
//   - CV_CONFIG_PATH: config file location (default: ~/.config/cv.toml)
//   - CV_HOME: base directory for cv data (default: ~/.local/share/cv)
func GetDefaults() (map[string]string, error) {
	return defaults("CV_CONFIG_PATH", "cv.toml", "CV_HOME", "cv")
}

// GetServerDefaults returns cvserver default paths.
// Environment variables:
//   - CV_SERVER_CONFIG_PATH: config file location (default: ~/.config/cvserver.toml)
//   - CV_SERVER_HOME: base directory for server data (default: ~/.local/share/cvserver)
func GetServerDefaults() (map[string]string, error) {
	return defaults("CV_SERVER_CONFIG_PATH", "cvserver.toml", "CV_SERVER_HOME", "cvserver")
}

func defaults(configEnv, configName, homeEnv, homeName string) (map[string]string, error) {
	configPath, err := envOrHome(configEnv, ".config", configName)
	if err != nil {
		return nil, err
	}

	baseDir, err := envOrHome(homeEnv, ".local", "share", homeName)
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// envOrHome returns the value of env if set, otherwise the path elems
// joined under the user's home directory.
func envOrHome(env string, elems ...string) (string, error) {
	if path := os.Getenv(env); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(append([]string{homeDir}, elems...)...), nil
}
