package main

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig holds the subset of connection settings a user can pin in a
// config file instead of repeating them as flags on every invocation.
type fileConfig struct {
	Broker    string `yaml:"broker"`
	ClientID  string `yaml:"client_id"`
	KeepAlive int    `yaml:"keepalive"`
	Timeout   int    `yaml:"timeout"`
}

func loadConfigFile(path string) (*fileConfig, error) {
	if path == "" {
		return &fileConfig{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg fileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
