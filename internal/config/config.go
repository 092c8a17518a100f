package config

import (
	"encoding/json"
	"os"
)

// Config holds all server configuration
type Config struct {
	Server    ServerConfig    `json:"server"`
	Storage   StorageConfig   `json:"storage"`
	Unlock    UnlockConfig    `json:"unlock"`
	SMTP      SMTPConfig      `json:"smtp"`
	RateLimit RateLimitConfig `json:"rate_limit"`
	// Production hides the unlock code from API responses.
	Production bool `json:"production"`
}

type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir"`
}

type UnlockConfig struct {
	CodeLength        int `json:"code_length"`
	CodeExpiryMinutes int `json:"code_expiry_minutes"`
	DurationMinutes   int `json:"duration_minutes"`
}

type SMTPConfig struct {
	Addr     string `json:"addr"` // empty disables SMTP delivery
	From     string `json:"from"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	UnlockPerMinute   int `json:"unlock_per_minute"`
}

// Load reads configuration from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults if not specified
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./data"
	}
	if cfg.Unlock.CodeLength == 0 {
		cfg.Unlock.CodeLength = 6
	}
	if cfg.Unlock.CodeExpiryMinutes == 0 {
		cfg.Unlock.CodeExpiryMinutes = 10
	}
	if cfg.Unlock.DurationMinutes == 0 {
		cfg.Unlock.DurationMinutes = 15
	}
	if cfg.RateLimit.RequestsPerMinute == 0 {
		cfg.RateLimit.RequestsPerMinute = 120
	}
	if cfg.RateLimit.UnlockPerMinute == 0 {
		cfg.RateLimit.UnlockPerMinute = 3
	}

	return &cfg, nil
}
