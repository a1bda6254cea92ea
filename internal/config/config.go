// Package config handles Kotori configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/kotori/config.yaml, /etc/kotori/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "kotori", "config.yaml"))
	}

	paths = append(paths, "/etc/kotori/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Kotori configuration.
type Config struct {
	LLM         LLMConfig               `yaml:"llm"`
	Agent       AgentConfig             `yaml:"agent"`
	ToolServers map[string]ServerConfig `yaml:"tool_servers"`
	Pipeline    PipelineConfig          `yaml:"pipeline"`
	Expressions map[string]string       `yaml:"expressions"`
	Outputs     OutputsConfig           `yaml:"outputs"`
	LogLevel    string                  `yaml:"log_level"`
}

// LLMConfig defines the upstream completion endpoint.
type LLMConfig struct {
	// BaseURL is the OpenAI-compatible API root (e.g. "https://api.openai.com/v1").
	BaseURL string `yaml:"base_url"`
	// APIKey authenticates against the endpoint. Ignored when empty.
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// AgentConfig defines orchestrator behavior.
type AgentConfig struct {
	// SystemPrompt is prepended to every completion request.
	SystemPrompt string `yaml:"system_prompt"`
	// MaxToolDepth bounds tool-call/response round trips per turn.
	// Zero means the default of 5.
	MaxToolDepth int `yaml:"max_tool_depth"`
}

// ServerConfig defines one external capability server.
//
// Type selects the transport: "stdio" runs Command as a persistent
// subprocess speaking line-delimited JSON-RPC; "websocket" keeps a
// persistent connection to URL.
type ServerConfig struct {
	Type    string            `yaml:"type"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers"`

	// Per-operation timeouts in seconds. Zero selects the defaults
	// (connect 10s, list 5s, call 30s).
	ConnectTimeoutSec int `yaml:"connect_timeout_sec"`
	ListTimeoutSec    int `yaml:"list_timeout_sec"`
	CallTimeoutSec    int `yaml:"call_timeout_sec"`
}

// ConnectTimeout returns the effective connect/handshake timeout.
func (s ServerConfig) ConnectTimeout() time.Duration {
	return secondsOr(s.ConnectTimeoutSec, 10*time.Second)
}

// ListTimeout returns the effective tool-listing timeout.
func (s ServerConfig) ListTimeout() time.Duration {
	return secondsOr(s.ListTimeoutSec, 5*time.Second)
}

// CallTimeout returns the effective per-call timeout.
func (s ServerConfig) CallTimeout() time.Duration {
	return secondsOr(s.CallTimeoutSec, 30*time.Second)
}

func secondsOr(secs int, def time.Duration) time.Duration {
	if secs <= 0 {
		return def
	}
	return time.Duration(secs) * time.Second
}

// PipelineConfig defines how the text stream is transformed into
// display and speech records.
type PipelineConfig struct {
	// FasterFirstResponse lets the first sentence of a turn break at a
	// weak boundary (comma-class punctuation) to cut perceived latency.
	FasterFirstResponse *bool `yaml:"faster_first_response"`
	// Sanitizer toggles for the speech filter stage.
	Sanitizer SanitizerConfig `yaml:"sanitizer"`
}

// FasterFirst reports the effective faster-first-response setting
// (enabled unless explicitly disabled).
func (p PipelineConfig) FasterFirst() bool {
	return p.FasterFirstResponse == nil || *p.FasterFirstResponse
}

// SanitizerConfig holds independently toggleable speech-text rules.
type SanitizerConfig struct {
	FlattenMarkdown    bool `yaml:"flatten_markdown"`
	RemoveSpecialChars bool `yaml:"remove_special_chars"`
	IgnoreBrackets     bool `yaml:"ignore_brackets"`
	IgnoreParentheses  bool `yaml:"ignore_parentheses"`
	IgnoreAsterisks    bool `yaml:"ignore_asterisks"`
	IgnoreAngleBracket bool `yaml:"ignore_angle_brackets"`
}

// OutputsConfig defines the optional MQTT delivery of final sentence
// records to the presentation and speech collaborators. Disabled when
// Broker is empty.
type OutputsConfig struct {
	Broker     string `yaml:"broker"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			BaseURL:     "http://localhost:11434/v1",
			Model:       "qwen3:4b",
			Temperature: 1.0,
		},
		Agent: AgentConfig{
			MaxToolDepth: 5,
		},
		Pipeline: PipelineConfig{
			Sanitizer: SanitizerConfig{
				RemoveSpecialChars: true,
				IgnoreAsterisks:    true,
			},
		},
		Outputs: OutputsConfig{
			DeviceName: "kotori",
		},
	}
}
