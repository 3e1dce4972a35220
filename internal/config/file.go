package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/arloliu/go-titan/controller"
	"github.com/arloliu/go-titan/titanconn"
)

const (
	appName    = "titan"
	configFile = "config.yaml"
)

// GetConfigDir returns the OS-appropriate configuration directory.
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if dir := os.Getenv("LOCALAPPDATA"); dir != "" {
			return filepath.Join(dir, appName), nil
		}
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", errors.New("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}

		return filepath.Join(userProfile, "AppData", "Local", appName), nil

	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}

		return filepath.Join(home, ".config", appName), nil

	default:
		if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
			return filepath.Join(dir, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}

		return filepath.Join(home, ".config", appName), nil
	}
}

// GetConfigPath returns the default configuration file path.
func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}

	return filepath.Join(dir, configFile), nil
}

// Load reads the configuration file at path. An empty path selects GetConfigPath; a missing
// file at the default path yields the defaults.
func Load(path string) (*File, error) {
	explicit := path != ""
	if !explicit {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return nil, fmt.Errorf("failed to get config path: %w", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return New(), nil
		}

		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return Parse(data)
}

// Parse decodes and validates configuration file content.
func Parse(data []byte) (*File, error) {
	f := New()
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if f.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", f.Version, CurrentVersion)
	}

	if f.Device.Host != "" {
		if err := titanconn.ValidateHost(f.Device.Host); err != nil {
			return nil, err
		}
	}

	return f, nil
}

// Save writes f to path atomically.
func (f *File) Save(path string) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// ControllerConfig returns the controller configuration of the device section.
func (f *File) ControllerConfig() controller.Config {
	return controller.Config{Host: f.Device.Host, Port: f.Device.Port}
}

// ConnOptions converts the connection section into connection options.
func (f *File) ConnOptions() []titanconn.ConnOption {
	c := f.Connection
	if c == nil {
		return nil
	}

	var opts []titanconn.ConnOption
	if c.KeepAliveInterval > 0 {
		opts = append(opts, titanconn.WithKeepAliveInterval(c.KeepAliveInterval))
	}
	if c.ConnectTimeout > 0 {
		opts = append(opts, titanconn.WithConnectTimeout(c.ConnectTimeout))
	}
	if c.HandshakeTimeout > 0 {
		opts = append(opts, titanconn.WithHandshakeTimeout(c.HandshakeTimeout))
	}
	if c.WriteTimeout > 0 {
		opts = append(opts, titanconn.WithWriteTimeout(c.WriteTimeout))
	}
	if c.MonotonicFrameID {
		opts = append(opts, titanconn.WithMonotonicFrameID())
	}

	return opts
}
