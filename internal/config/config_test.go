package config

import (
	"context"
	"errors"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		VPS: VPSConfig{Host: "10.0.0.5", User: "deploy"},
		Container: ContainerConfig{
			MaxConcurrent: 3,
		},
		Chat: ChatConfig{
			Primary:  EndpointConfig{URL: "https://chat.example.com/v1"},
			Fallback: EndpointConfig{URL: "https://chat-fallback.example.com/v1"},
		},
		Models: ModelsConfig{Large: "big", Mid: "mid", Small: "small", Fixer: "fix"},
	}
}

func TestValidateAcceptsCompleteConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingVPSHost(t *testing.T) {
	cfg := validConfig()
	cfg.VPS.Host = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing vps.host")
	}
}

func TestValidateRejectsMissingModels(t *testing.T) {
	cfg := validConfig()
	cfg.Models = ModelsConfig{}
	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected error for missing models")
	}
}

func TestApplyDefaultsFillsContainerAndGatewayLimits(t *testing.T) {
	cfg := &Config{}
	applyDefaults(cfg)

	if cfg.Container.MaxConcurrent != 3 {
		t.Errorf("MaxConcurrent = %d, want 3", cfg.Container.MaxConcurrent)
	}
	if cfg.Container.CPULimit != "1" {
		t.Errorf("CPULimit = %q, want 1", cfg.Container.CPULimit)
	}
	if cfg.Container.MemoryLimit != "2g" {
		t.Errorf("MemoryLimit = %q, want 2g", cfg.Container.MemoryLimit)
	}
	if cfg.Container.DiskLimit != "10g" {
		t.Errorf("DiskLimit = %q, want 10g", cfg.Container.DiskLimit)
	}
	if cfg.Container.MaxExecutionMS != 900_000 {
		t.Errorf("MaxExecutionMS = %d, want 900000", cfg.Container.MaxExecutionMS)
	}
	if cfg.Chat.TimeoutMS != 120_000 {
		t.Errorf("Chat.TimeoutMS = %d, want 120000", cfg.Chat.TimeoutMS)
	}
	if cfg.Gateway.Concurrency != 2 {
		t.Errorf("Gateway.Concurrency = %d, want 2", cfg.Gateway.Concurrency)
	}
	if cfg.HTTP.Port != 8080 {
		t.Errorf("HTTP.Port = %d, want 8080", cfg.HTTP.Port)
	}
}

func TestApplyDefaultsDoesNotOverrideSetValues(t *testing.T) {
	cfg := &Config{Container: ContainerConfig{MaxConcurrent: 7}}
	applyDefaults(cfg)
	if cfg.Container.MaxConcurrent != 7 {
		t.Errorf("MaxConcurrent = %d, want 7 (should not be overridden)", cfg.Container.MaxConcurrent)
	}
}

func TestMaxExecutionTimeConvertsMillisecondsToDuration(t *testing.T) {
	cfg := &Config{Container: ContainerConfig{MaxExecutionMS: 900_000}}
	if got := cfg.MaxExecutionTime(); got != 900*time.Second {
		t.Errorf("MaxExecutionTime = %v, want 900s", got)
	}
}

type fakeSecretFetcher struct {
	values map[string]string
	err    error
}

func (f *fakeSecretFetcher) FetchSecret(ctx context.Context, path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.values[path], nil
}

func (f *fakeSecretFetcher) Close() error { return nil }

func TestResolveSecretsPopulatesPlaintextFields(t *testing.T) {
	cfg := &Config{
		VPS:  VPSConfig{SSHKeySecret: "projects/p/secrets/ssh-key/versions/latest"},
		Chat: ChatConfig{Primary: EndpointConfig{APIKeySecret: "projects/p/secrets/chat-key/versions/latest"}},
	}
	fetcher := &fakeSecretFetcher{values: map[string]string{
		"projects/p/secrets/ssh-key/versions/latest":  "-----BEGIN KEY-----",
		"projects/p/secrets/chat-key/versions/latest": "sk-test",
	}}

	if err := cfg.ResolveSecrets(context.Background(), fetcher); err != nil {
		t.Fatalf("ResolveSecrets: %v", err)
	}
	if cfg.VPS.SSHKeyPEM != "-----BEGIN KEY-----" {
		t.Errorf("SSHKeyPEM = %q", cfg.VPS.SSHKeyPEM)
	}
	if cfg.Chat.Primary.APIKey != "sk-test" {
		t.Errorf("Chat.Primary.APIKey = %q", cfg.Chat.Primary.APIKey)
	}
	if cfg.Bot.APIKey != "" {
		t.Errorf("Bot.APIKey = %q, want empty (no secret configured)", cfg.Bot.APIKey)
	}
}

func TestResolveSecretsPropagatesFetchError(t *testing.T) {
	cfg := &Config{VPS: VPSConfig{SSHKeySecret: "projects/p/secrets/ssh-key/versions/latest"}}
	fetcher := &fakeSecretFetcher{err: errors.New("permission denied")}

	if err := cfg.ResolveSecrets(context.Background(), fetcher); err == nil {
		t.Fatal("expected error")
	}
}
