package infra

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SecretConfig matches secrets/<mode>.yaml, kept outside the main config.
type SecretConfig struct {
	Kalshi struct {
		KeyID          string `yaml:"key_id"`
		PrivateKeyPath string `yaml:"private_key_path"`
	} `yaml:"kalshi"`
	NATSURL string `yaml:"nats_url"`
}

// LoadSecretConfig loads credentials from a separate yaml file.
// A missing file is an error (Fail Fast).
func LoadSecretConfig(path string) (*SecretConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read secret config: %w", err)
	}

	var sec SecretConfig
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return nil, fmt.Errorf("failed to parse secret config: %w", err)
	}
	return &sec, nil
}

// Apply copies non-empty secrets into cfg.
func (s *SecretConfig) Apply(cfg *Config) {
	if s.Kalshi.KeyID != "" {
		cfg.Kalshi.KeyID = s.Kalshi.KeyID
	}
	if s.Kalshi.PrivateKeyPath != "" {
		cfg.Kalshi.PrivateKeyPath = s.Kalshi.PrivateKeyPath
	}
	if s.NATSURL != "" {
		cfg.Storage.NATSURL = s.NATSURL
	}
}
