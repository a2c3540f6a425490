package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Settings is the user state persisted between runs.
type Settings struct {
	Window          WindowSettings `yaml:"window,omitempty"`
	LastUpdateCheck time.Time      `yaml:"last_update_check,omitempty"`
	LastVersion     string         `yaml:"last_version,omitempty"`
}

type WindowSettings struct {
	Width  int `yaml:"width,omitempty"`
	Height int `yaml:"height,omitempty"`
}

// LoadSettings reads path and merges what it finds over defaults. A missing
// file yields the defaults.
func LoadSettings(path string, defaults Settings) (Settings, error) {
	out := defaults

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("failed to read settings: %w", err)
	}

	var stored Settings
	if err := yaml.Unmarshal(data, &stored); err != nil {
		return out, fmt.Errorf("failed to parse settings: %w", err)
	}

	if err := mergo.Merge(&out, stored, mergo.WithOverride); err != nil {
		return out, fmt.Errorf("failed to merge settings: %w", err)
	}
	return out, nil
}

func SaveSettings(path string, s Settings) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write settings: %w", err)
	}
	return os.Rename(tmp, path)
}
