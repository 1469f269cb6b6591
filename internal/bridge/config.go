// Package bridge polls OpenGate for unread notifications on behalf of
// local agent processes and wakes them through a configured mechanism.
// The server never reaches into an agent's machine; the bridge is the
// piece that closes that loop from the agent's side.
package bridge

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// WakeMode selects how an agent is woken.
type WakeMode string

const (
	// WakeStdout renders the summary to the bridge's stdout.
	WakeStdout WakeMode = "stdout"
	// WakeWebhook POSTs the summary JSON to wake_url.
	WakeWebhook WakeMode = "webhook"
	// WakeCommand runs wake_command with the summary text on stdin.
	WakeCommand WakeMode = "command"
	// WakeOpenClaw POSTs to a local OpenClaw gateway hooks endpoint.
	WakeOpenClaw WakeMode = "openclaw"
)

// DefaultOpenClawURL is the conventional local gateway hooks endpoint.
const DefaultOpenClawURL = "http://127.0.0.1:18789/hooks/agent"

// Config is the bridge daemon configuration, read from a TOML file.
type Config struct {
	Server ServerConfig  `mapstructure:"server"`
	Agents []AgentConfig `mapstructure:"agents"`
}

// ServerConfig points the bridge at an OpenGate server.
type ServerConfig struct {
	URL                      string `mapstructure:"url"`
	HeartbeatIntervalSeconds int    `mapstructure:"heartbeat_interval"`
	PollIntervalSeconds      int    `mapstructure:"poll_interval"`
}

// HeartbeatInterval returns the heartbeat cadence.
func (s *ServerConfig) HeartbeatInterval() time.Duration {
	return time.Duration(s.HeartbeatIntervalSeconds) * time.Second
}

// PollInterval returns the notification poll cadence.
func (s *ServerConfig) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalSeconds) * time.Second
}

// AgentConfig is one [[agents]] table: the identity to poll as and the
// wake mechanism to fire when unread notifications appear.
type AgentConfig struct {
	Name       string `mapstructure:"name"`
	APIKey     string `mapstructure:"api_key"`
	APIKeyFile string `mapstructure:"api_key_file"`

	WakeMode           WakeMode `mapstructure:"wake_mode"`
	WakeURL            string   `mapstructure:"wake_url"`
	WakeToken          string   `mapstructure:"wake_token"`
	WakeCommand        []string `mapstructure:"wake_command"`
	WakeTimeoutSeconds int      `mapstructure:"wake_timeout"`
}

// WakeTimeout returns the bound on one wake attempt.
func (a *AgentConfig) WakeTimeout() time.Duration {
	return time.Duration(a.WakeTimeoutSeconds) * time.Second
}

// Key resolves the agent's API key, preferring the inline value and
// falling back to api_key_file.
func (a *AgentConfig) Key() (string, error) {
	if a.APIKey != "" {
		return a.APIKey, nil
	}
	data, err := os.ReadFile(a.APIKeyFile)
	if err != nil {
		return "", fmt.Errorf("read api_key_file for agent %q: %w", a.Name, err)
	}
	key := strings.TrimSpace(string(data))
	if key == "" {
		return "", fmt.Errorf("api_key_file for agent %q is empty", a.Name)
	}
	return key, nil
}

// LoadConfig reads and validates a TOML config file.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	v.SetDefault("server.heartbeat_interval", 60)
	v.SetDefault("server.poll_interval", 15)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read bridge config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse bridge config: %w", err)
	}
	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("bridge config: %w", err)
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.URL == "" {
		return fmt.Errorf("server.url is required")
	}
	cfg.Server.URL = strings.TrimSuffix(cfg.Server.URL, "/")
	if cfg.Server.HeartbeatIntervalSeconds <= 0 {
		return fmt.Errorf("server.heartbeat_interval must be positive")
	}
	if cfg.Server.PollIntervalSeconds <= 0 {
		return fmt.Errorf("server.poll_interval must be positive")
	}
	if len(cfg.Agents) == 0 {
		return fmt.Errorf("at least one [[agents]] entry is required")
	}

	seen := make(map[string]bool, len(cfg.Agents))
	for i := range cfg.Agents {
		a := &cfg.Agents[i]
		if a.Name == "" {
			return fmt.Errorf("agents[%d] has no name", i)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name %q", a.Name)
		}
		seen[a.Name] = true

		if a.APIKey == "" && a.APIKeyFile == "" {
			return fmt.Errorf("agent %q needs api_key or api_key_file", a.Name)
		}
		if a.WakeMode == "" {
			a.WakeMode = WakeStdout
		}
		if a.WakeTimeoutSeconds <= 0 {
			a.WakeTimeoutSeconds = 60
		}

		switch a.WakeMode {
		case WakeStdout:
		case WakeWebhook:
			if a.WakeURL == "" {
				return fmt.Errorf("agent %q wake_mode webhook needs wake_url", a.Name)
			}
		case WakeCommand:
			if len(a.WakeCommand) == 0 {
				return fmt.Errorf("agent %q wake_mode command needs wake_command", a.Name)
			}
		case WakeOpenClaw:
			if a.WakeURL == "" {
				a.WakeURL = DefaultOpenClawURL
			}
		default:
			return fmt.Errorf("agent %q has unknown wake_mode %q", a.Name, a.WakeMode)
		}
	}
	return nil
}
