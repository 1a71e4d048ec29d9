package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sync"

	"gopkg.in/yaml.v3"
)

const (
	appName      = "loxone"
	configFile   = "config.yaml"
	settingsFile = "settings.db"
)

// Mutex for file writes
var fileMutex sync.Mutex

// GetConfigDir returns the OS-appropriate configuration directory:
//   - Linux: $XDG_CONFIG_HOME/loxone or $HOME/.config/loxone
//   - macOS: $HOME/.config/loxone
//   - Windows: %LOCALAPPDATA%\loxone
func GetConfigDir() (string, error) {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		localAppData := os.Getenv("LOCALAPPDATA")
		if localAppData == "" {
			userProfile := os.Getenv("USERPROFILE")
			if userProfile == "" {
				return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
			}
			baseDir = filepath.Join(userProfile, "AppData", "Local", appName)
		} else {
			baseDir = filepath.Join(localAppData, appName)
		}

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		baseDir = filepath.Join(homeDir, ".config", appName)

	default:
		xdgConfigHome := os.Getenv("XDG_CONFIG_HOME")
		if xdgConfigHome != "" {
			baseDir = filepath.Join(xdgConfigHome, appName)
		} else {
			homeDir, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("cannot determine home directory: %w", err)
			}
			baseDir = filepath.Join(homeDir, ".config", appName)
		}
	}

	return baseDir, nil
}

// GetConfigPath returns the default path of the configuration file.
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// envPattern matches ${NAME} and ${NAME:default}.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::([^}]*))?\}`)

// ExpandEnv replaces ${NAME} with the environment value of NAME, and
// ${NAME:default} with default when NAME is unset or empty.
func ExpandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(m []byte) []byte {
		parts := envPattern.FindSubmatch(m)
		if v := os.Getenv(string(parts[1])); v != "" {
			return []byte(v)
		}
		return parts[2]
	})
}

// Load reads the configuration at path, or at the default location when
// path is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse expands environment references in data and decodes it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(ExpandEnv(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Keep secrets as written so Save does not persist expanded values.
	var raw struct {
		Miniserver struct {
			Password string `yaml:"password"`
		} `yaml:"miniserver"`
		MQTT struct {
			Password string `yaml:"password"`
		} `yaml:"mqtt"`
	}
	if err := yaml.Unmarshal(data, &raw); err == nil {
		cfg.rawSecrets = [2]string{raw.Miniserver.Password, raw.MQTT.Password}
	}
	return &cfg, nil
}

// Save writes the configuration to path, or to the default location when
// path is empty. The write is atomic.
func (c *Config) Save(path string) error {
	fileMutex.Lock()
	defer fileMutex.Unlock()

	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	out := *c
	if c.rawSecrets != [2]string{} {
		out.Miniserver.Password, out.MQTT.Password = c.rawSecrets[0], c.rawSecrets[1]
	}
	data, err := yaml.Marshal(&out)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	header := []byte(`# loxctl configuration
# Use ${LOXONE_PASSWORD} style references to keep secrets out of this file.

`)
	data = append(header, data...)

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}
	return nil
}
