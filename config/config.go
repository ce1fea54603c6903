//
// Tencent is pleased to support the open source community by making data-agent available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// data-agent is licensed under the Apache License Version 2.0.
//
//

// Package config loads gateway configuration from a YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Upstream protocol families.
const (
	ProtocolChatCompletions = "chat_completions"
	ProtocolResponses       = "responses"
)

// Config is the gateway configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string `yaml:"log_level"`
	// Instructions seeds new sessions with system instructions.
	Instructions string `yaml:"instructions"`

	Model   ModelConfig   `yaml:"model"`
	MCP     MCPConfig     `yaml:"mcp"`
	Session SessionConfig `yaml:"session"`
}

// ModelConfig configures the upstream model service.
type ModelConfig struct {
	// Name is the model identifier requested upstream.
	Name string `yaml:"name"`
	// Protocol selects the streaming protocol family.
	Protocol string `yaml:"protocol"`
	APIKey   string `yaml:"api_key"`
	BaseURL  string `yaml:"base_url"`
}

// MCPConfig configures the tool server connection. Either ServerURL (HTTP)
// or Command (stdio subprocess) is set.
type MCPConfig struct {
	ServerURL string            `yaml:"server_url"`
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Headers   map[string]string `yaml:"headers"`
}

// SessionConfig configures session lifecycle management.
type SessionConfig struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxTurns      int           `yaml:"max_turns"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Addr:     ":8000",
		LogLevel: "info",
		Model: ModelConfig{
			Name:     "gpt-4o",
			Protocol: ProtocolChatCompletions,
		},
		Session: SessionConfig{
			IdleTimeout:   30 * time.Minute,
			SweepInterval: 60 * time.Second,
			MaxTurns:      8,
		},
	}
}

// Load reads the configuration file, applies environment overrides and
// validates the result. An empty path skips the file and uses defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the configuration.
func (c *Config) applyEnv() error {
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		c.Addr = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.Model.APIKey = v
	}
	if v := os.Getenv("OPENAI_BASE_URL"); v != "" {
		c.Model.BaseURL = v
	}
	if v := os.Getenv("OPENAI_MODEL"); v != "" {
		c.Model.Name = v
	}
	if v := os.Getenv("OPENAI_PROTOCOL"); v != "" {
		c.Model.Protocol = v
	}
	if v := os.Getenv("MCP_SERVER_URL"); v != "" {
		c.MCP.ServerURL = v
	}
	if v := os.Getenv("SESSION_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SESSION_TIMEOUT: %w", err)
		}
		c.Session.IdleTimeout = d
	}
	if v := os.Getenv("CLEANUP_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid CLEANUP_INTERVAL: %w", err)
		}
		c.Session.SweepInterval = d
	}
	return nil
}

func (c *Config) validate() error {
	switch c.Model.Protocol {
	case ProtocolChatCompletions, ProtocolResponses:
	default:
		return fmt.Errorf("unknown model protocol: %q", c.Model.Protocol)
	}
	if c.Model.Name == "" {
		return fmt.Errorf("model name is required")
	}
	if c.Session.MaxTurns <= 0 {
		return fmt.Errorf("session max_turns must be positive")
	}
	return nil
}
