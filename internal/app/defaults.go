package app

import (
	"fmt"
	"os"
	"path/filepath"
)

// GetDefaults returns application default paths, checking environment variables first.
// Environment variables:
//   - AGRIREG_CONFIG_PATH: config file location (default: ~/.config/agrireg.toml)
//   - AGRIREG_HOME: base directory for agrireg data (default: ~/.local/share/agrireg)
func GetDefaults() (map[string]string, error) {
	configPath, err := getConfigPath()
	if err != nil {
		return nil, err
	}

	baseDir, err := getBaseDir()
	if err != nil {
		return nil, err
	}

	return map[string]string{
		"config_path": configPath,
		"base_dir":    baseDir,
		"log_dir":     filepath.Join(baseDir, "log"),
	}, nil
}

// getConfigPath returns the config file path, checking AGRIREG_CONFIG_PATH first,
// then falling back to the default ~/.config/agrireg.toml.
func getConfigPath() (string, error) {
	if path := os.Getenv("AGRIREG_CONFIG_PATH"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "agrireg.toml"), nil
}

// getBaseDir returns the base directory for agrireg data, checking AGRIREG_HOME
// first, then falling back to the XDG default ~/.local/share/agrireg.
func getBaseDir() (string, error) {
	if path := os.Getenv("AGRIREG_HOME"); path != "" {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cannot determine home directory: %w", err)
	}
	return filepath.Join(homeDir, ".local", "share", "agrireg"), nil
}
