// Package config loads and watches the gateway's configuration: server
// settings, retry policy, system prompt injection, and the paths of the
// provider pool and model catalogue documents. JSON and YAML are both
// accepted, chosen by file extension.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort           = 6970
	DefaultHost           = "127.0.0.1"
	DefaultConfigFilename = "config.json"

	DefaultMaxRetries  = 3
	DefaultBaseDelayMS = 1000
)

// RetryConfig tunes the upstream retry/backoff loop.
type RetryConfig struct {
	MaxRetries  int `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	BaseDelayMS int `json:"base_delay_ms,omitempty" yaml:"base_delay_ms,omitempty"`
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMS) * time.Millisecond
}

// SystemPromptConfig points at an optional prompt file injected into
// every outbound request. Mode is "append" or "overwrite".
type SystemPromptConfig struct {
	File string `json:"file,omitempty" yaml:"file,omitempty"`
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
}

// ConversationLogConfig selects the conversation logging mode: none,
// console, or file.
type ConversationLogConfig struct {
	Mode string `json:"mode,omitempty" yaml:"mode,omitempty"`
	Dir  string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

type Config struct {
	Host            string                `json:"host,omitempty" yaml:"host,omitempty"`
	Port            int                   `json:"port,omitempty" yaml:"port,omitempty"`
	APIKey          string                `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	DefaultProvider string                `json:"default_provider,omitempty" yaml:"default_provider,omitempty"`
	ProvidersFile   string                `json:"providers_file,omitempty" yaml:"providers_file,omitempty"`
	ModelsFile      string                `json:"models_file,omitempty" yaml:"models_file,omitempty"`
	UsageDB         string                `json:"usage_db,omitempty" yaml:"usage_db,omitempty"`
	Retry           RetryConfig           `json:"retry,omitempty" yaml:"retry,omitempty"`
	SystemPrompt    SystemPromptConfig    `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"`
	ConversationLog ConversationLogConfig `json:"conversation_log,omitempty" yaml:"conversation_log,omitempty"`
}

// Manager holds the active configuration behind an atomic value so
// handlers read a consistent snapshot while reloads swap it whole.
type Manager struct {
	configPath  string
	configValue atomic.Value
}

func NewManager(path string) *Manager {
	return &Manager{configPath: path}
}

func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var cfg Config
	if err := unmarshalByExt(m.configPath, data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()

	m.configValue.Store(&cfg)
	return &cfg, nil
}

func (m *Manager) Get() *Config {
	if v := m.configValue.Load(); v != nil {
		return v.(*Config)
	}

	cfg, err := m.Load()
	if err != nil {
		cfg = &Config{}
		cfg.applyDefaults()
	}
	return cfg
}

func (m *Manager) Save(cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(m.configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	var err error
	if isYAML(m.configPath) {
		data, err = yaml.Marshal(cfg)
	} else {
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(m.configPath, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}

	m.configValue.Store(cfg)
	return nil
}

func (m *Manager) GetPath() string {
	return m.configPath
}

func (m *Manager) Exists() bool {
	_, err := os.Stat(m.configPath)
	return err == nil
}

func (c *Config) applyDefaults() {
	if c.Host == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = DefaultMaxRetries
	}
	if c.Retry.BaseDelayMS == 0 {
		c.Retry.BaseDelayMS = DefaultBaseDelayMS
	}
	if c.SystemPrompt.Mode == "" {
		c.SystemPrompt.Mode = "append"
	}
	if c.ConversationLog.Mode == "" {
		c.ConversationLog.Mode = "none"
	}
}

// ReadSystemPrompt loads the configured prompt file. A missing
// configuration is not an error, just an empty prompt.
func (c *Config) ReadSystemPrompt() (string, error) {
	if c.SystemPrompt.File == "" {
		return "", nil
	}
	data, err := os.ReadFile(c.SystemPrompt.File)
	if err != nil {
		return "", fmt.Errorf("read system prompt file: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

func unmarshalByExt(path string, data []byte, v any) error {
	if isYAML(path) {
		return yaml.Unmarshal(data, v)
	}
	return json.Unmarshal(data, v)
}
