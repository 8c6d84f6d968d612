// Package config loads the orchestrator's configuration from a YAML file,
// environment variables, and (for secret-bearing fields) GCP Secret
// Manager, via viper — matching the teacher's Load/applyDefaults/Validate
// shape.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/kilnforge/orchestrator/internal/cloud/gcp"
)

// VPSConfig names the remote Docker host the Sandbox Manager drives over
// SSH (spec.md §4.2, §6).
type VPSConfig struct {
	Host         string `mapstructure:"host"`
	User         string `mapstructure:"user"`
	SSHKeySecret string `mapstructure:"ssh_key_secret"` // Secret Manager path, resolved at startup
	SSHKeyPEM    string `mapstructure:"-"`              // populated by ResolveSecrets, never read from YAML
}

// ContainerConfig names the resource limits applied to every sandbox
// container (spec.md §4.2).
type ContainerConfig struct {
	MaxConcurrent  int    `mapstructure:"max_concurrent"`
	CPULimit       string `mapstructure:"cpu_limit"`
	MemoryLimit    string `mapstructure:"memory_limit"`
	DiskLimit      string `mapstructure:"disk_limit"`
	MaxExecutionMS int64  `mapstructure:"max_execution_ms"`
}

// EndpointConfig names one HTTP endpoint of the Chat-Completions provider
// (spec.md §4.4).
type EndpointConfig struct {
	URL          string `mapstructure:"url"`
	APIKeySecret string `mapstructure:"api_key_secret"` // Secret Manager path; empty for the no-auth fallback
	APIKey       string `mapstructure:"-"`
}

// ChatConfig names the primary/fallback Chat-Completions endpoints and
// timeouts (spec.md §4.4, §6).
type ChatConfig struct {
	Primary   EndpointConfig `mapstructure:"primary"`
	Fallback  EndpointConfig `mapstructure:"fallback"`
	TimeoutMS int64          `mapstructure:"timeout_ms"`
}

// BotConfig names the Polling Bot Provider's endpoint (spec.md §4.4).
type BotConfig struct {
	BaseURL      string `mapstructure:"base_url"`
	APIKeySecret string `mapstructure:"api_key_secret"`
	APIKey       string `mapstructure:"-"`
}

// ModelsConfig names the four fixed model identifiers the Gateway's
// adaptive selection table chooses among (spec.md §4.3, §6).
type ModelsConfig struct {
	Large string `mapstructure:"large"`
	Mid   string `mapstructure:"mid"`
	Small string `mapstructure:"small"`
	Fixer string `mapstructure:"fixer"`
}

// GatewayConfig names the Agent Gateway's bounded-concurrency settings
// (spec.md §4.3).
type GatewayConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// ObservabilityConfig names the optional Langfuse-backed trace sink
// (internal/observability). When PublicKey is empty the orchestrator
// runs with a NoOpTracer instead.
type ObservabilityConfig struct {
	PublicKey       string `mapstructure:"public_key"`
	SecretKeySecret string `mapstructure:"secret_key_secret"` // Secret Manager path
	SecretKey       string `mapstructure:"-"`
	BaseURL         string `mapstructure:"base_url"`
}

// HTTPConfig names the API server's listen address.
type HTTPConfig struct {
	Port int `mapstructure:"port"`
}

// SecretManagerConfig names the GCP project backing Secret Manager
// lookups. Empty ProjectID means secret resolution is skipped entirely
// (all *Secret fields must then be empty, or ResolveSecrets is simply
// never called, matching a deployment with no Secret Manager access).
type SecretManagerConfig struct {
	ProjectID string `mapstructure:"project_id"`
}

// Config is the orchestrator's full runtime configuration.
type Config struct {
	VPS           VPSConfig           `mapstructure:"vps"`
	Container     ContainerConfig     `mapstructure:"container"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Bot           BotConfig           `mapstructure:"bot"`
	Models        ModelsConfig        `mapstructure:"models"`
	Gateway       GatewayConfig       `mapstructure:"gateway"`
	Observability ObservabilityConfig `mapstructure:"observability"`
	SecretManager SecretManagerConfig `mapstructure:"secret_manager"`
	HTTP          HTTPConfig          `mapstructure:"http"`
}

// Load reads configuration from the bound viper instance (file +
// environment) and applies defaults. It does not resolve secrets; call
// ResolveSecrets once a Secret Manager client is available.
func Load() (*Config, error) {
	cfg := &Config{}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Container.MaxConcurrent == 0 {
		cfg.Container.MaxConcurrent = 3
	}
	if cfg.Container.CPULimit == "" {
		cfg.Container.CPULimit = "1"
	}
	if cfg.Container.MemoryLimit == "" {
		cfg.Container.MemoryLimit = "2g"
	}
	if cfg.Container.DiskLimit == "" {
		cfg.Container.DiskLimit = "10g"
	}
	if cfg.Container.MaxExecutionMS == 0 {
		cfg.Container.MaxExecutionMS = 900_000
	}
	if cfg.Chat.TimeoutMS == 0 {
		cfg.Chat.TimeoutMS = 120_000
	}
	if cfg.Gateway.Concurrency == 0 {
		cfg.Gateway.Concurrency = 2
	}
	if cfg.HTTP.Port == 0 {
		cfg.HTTP.Port = 8080
	}
}

// ResolveSecrets fetches every Secret Manager-backed field (the VPS SSH
// key, chat API keys, the bot API key) via fetcher and populates the
// corresponding plaintext field. Fields with no configured secret path
// are left empty, matching spec.md §4.4's "no-auth fallback" allowance.
func (c *Config) ResolveSecrets(ctx context.Context, fetcher gcp.SecretFetcher) error {
	resolve := func(path string) (string, error) {
		if path == "" {
			return "", nil
		}
		return fetcher.FetchSecret(ctx, path)
	}

	var err error
	if c.VPS.SSHKeyPEM, err = resolve(c.VPS.SSHKeySecret); err != nil {
		return fmt.Errorf("resolving vps ssh key: %w", err)
	}
	if c.Chat.Primary.APIKey, err = resolve(c.Chat.Primary.APIKeySecret); err != nil {
		return fmt.Errorf("resolving chat primary api key: %w", err)
	}
	if c.Chat.Fallback.APIKey, err = resolve(c.Chat.Fallback.APIKeySecret); err != nil {
		return fmt.Errorf("resolving chat fallback api key: %w", err)
	}
	if c.Bot.APIKey, err = resolve(c.Bot.APIKeySecret); err != nil {
		return fmt.Errorf("resolving bot api key: %w", err)
	}
	if c.Observability.SecretKey, err = resolve(c.Observability.SecretKeySecret); err != nil {
		return fmt.Errorf("resolving observability secret key: %w", err)
	}
	return nil
}

// Validate checks the fields required before the orchestrator can serve
// any execution.
func (c *Config) Validate() error {
	if c.VPS.Host == "" {
		return fmt.Errorf("vps.host is required")
	}
	if c.VPS.User == "" {
		return fmt.Errorf("vps.user is required")
	}
	if c.Container.MaxConcurrent <= 0 {
		return fmt.Errorf("container.max_concurrent must be positive")
	}
	if c.Chat.Primary.URL == "" {
		return fmt.Errorf("chat.primary.url is required")
	}
	if c.Chat.Fallback.URL == "" {
		return fmt.Errorf("chat.fallback.url is required")
	}

	missingModels := []string{}
	if c.Models.Large == "" {
		missingModels = append(missingModels, "large")
	}
	if c.Models.Mid == "" {
		missingModels = append(missingModels, "mid")
	}
	if c.Models.Small == "" {
		missingModels = append(missingModels, "small")
	}
	if c.Models.Fixer == "" {
		missingModels = append(missingModels, "fixer")
	}
	if len(missingModels) > 0 {
		return fmt.Errorf("missing model identifiers: %s", strings.Join(missingModels, ", "))
	}

	return nil
}

// MaxExecutionTime returns the container hard-lifetime as a
// time.Duration, converting from the millisecond config field.
func (c *Config) MaxExecutionTime() time.Duration {
	return time.Duration(c.Container.MaxExecutionMS) * time.Millisecond
}

// ChatTimeout returns the chat-provider timeout as a time.Duration.
func (c *Config) ChatTimeout() time.Duration {
	return time.Duration(c.Chat.TimeoutMS) * time.Millisecond
}
