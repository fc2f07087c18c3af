// Package config loads missionctl.yaml. A missing file returns defaults
// without error; fields absent from the file keep their defaults. Secrets
// (API keys) never live here; they come from the environment.
package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultBackend     = "gemini"
	DefaultStatePath   = ".missionctl/mission.json"
	DefaultLogPath     = "missionctl.log"
	DefaultStepDelayMs = 1000
	DefaultIdleWaitMs  = 50
)

// Config holds all host configuration for missionctl.
type Config struct {
	Backend     string `yaml:"backend"`
	Model       string `yaml:"model"`
	OllamaHost  string `yaml:"ollama_host"`
	StatePath   string `yaml:"state_path"`
	LogPath     string `yaml:"log_path"`
	StepDelayMs int    `yaml:"step_delay_ms"`
	IdleWaitMs  int    `yaml:"idle_wait_ms"`
}

func defaults() Config {
	return Config{
		Backend:     DefaultBackend,
		StatePath:   DefaultStatePath,
		LogPath:     DefaultLogPath,
		StepDelayMs: DefaultStepDelayMs,
		IdleWaitMs:  DefaultIdleWaitMs,
	}
}

// partialConfig distinguishes an absent field (nil pointer) from a field
// explicitly set to its zero value.
type partialConfig struct {
	Backend     *string `yaml:"backend"`
	Model       *string `yaml:"model"`
	OllamaHost  *string `yaml:"ollama_host"`
	StatePath   *string `yaml:"state_path"`
	LogPath     *string `yaml:"log_path"`
	StepDelayMs *int    `yaml:"step_delay_ms"`
	IdleWaitMs  *int    `yaml:"idle_wait_ms"`
}

// Load reads the config file at path. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &cfg, nil
		}
		return nil, err
	}

	var partial partialConfig
	if err := yaml.Unmarshal(data, &partial); err != nil {
		return nil, err
	}

	if partial.Backend != nil {
		cfg.Backend = *partial.Backend
	}
	if partial.Model != nil {
		cfg.Model = *partial.Model
	}
	if partial.OllamaHost != nil {
		cfg.OllamaHost = *partial.OllamaHost
	}
	if partial.StatePath != nil {
		cfg.StatePath = *partial.StatePath
	}
	if partial.LogPath != nil {
		cfg.LogPath = *partial.LogPath
	}
	if partial.StepDelayMs != nil {
		cfg.StepDelayMs = *partial.StepDelayMs
	}
	if partial.IdleWaitMs != nil {
		cfg.IdleWaitMs = *partial.IdleWaitMs
	}

	return &cfg, nil
}
