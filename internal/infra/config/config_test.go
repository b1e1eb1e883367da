package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "sqlite")
	}
	if cfg.Router.PollInterval != 30*time.Second {
		t.Errorf("Router.PollInterval = %v, want 30s", cfg.Router.PollInterval)
	}
	if cfg.Router.SimilarityThreshold != 0.7 {
		t.Errorf("Router.SimilarityThreshold = %v, want 0.7", cfg.Router.SimilarityThreshold)
	}
	if cfg.Protocol.ListenInterval != 10*time.Second {
		t.Errorf("Protocol.ListenInterval = %v, want 10s", cfg.Protocol.ListenInterval)
	}
	if cfg.Logger.Level != "info" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "info")
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load("/tmp/nonexistent-config-12345.yaml")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Router.MaxTargets != 5 {
		t.Errorf("expected defaults, got MaxTargets=%d", cfg.Router.MaxTargets)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
store:
  backend: memory
embedding:
  provider: ollama
  model: nomic-embed-text
router:
  poll_interval: 5s
  min_confidence: 0.6
agents:
  - name: volume_team
    capabilities: [pattern_detection]
    specializations: [volume_spike]
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "memory")
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, "ollama")
	}
	if cfg.Router.PollInterval != 5*time.Second {
		t.Errorf("Router.PollInterval = %v, want 5s", cfg.Router.PollInterval)
	}
	if cfg.Router.MinConfidence != 0.6 {
		t.Errorf("Router.MinConfidence = %v, want 0.6", cfg.Router.MinConfidence)
	}
	// Unset fields keep their defaults.
	if cfg.Router.MaxBatch != 100 {
		t.Errorf("Router.MaxBatch = %d, want default 100", cfg.Router.MaxBatch)
	}
	if len(cfg.Agents) != 1 || cfg.Agents[0].Name != "volume_team" {
		t.Errorf("Agents mismatch: %+v", cfg.Agents)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("STRANDBUS_STORE_BACKEND", "memory")
	t.Setenv("STRANDBUS_EMBEDDING_PROVIDER", "ollama")
	t.Setenv("STRANDBUS_LOGGER_LEVEL", "debug")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Store.Backend != "memory" {
		t.Errorf("Store.Backend = %q, want %q", cfg.Store.Backend, "memory")
	}
	if cfg.Embedding.Provider != "ollama" {
		t.Errorf("Embedding.Provider = %q, want %q", cfg.Embedding.Provider, "ollama")
	}
	if cfg.Logger.Level != "debug" {
		t.Errorf("Logger.Level = %q, want %q", cfg.Logger.Level, "debug")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	passphrase := "test-passphrase-123"
	plaintext := "sk-abcdef123456"

	encrypted, err := EncryptValue(plaintext, passphrase)
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}

	decrypted, err := DecryptValue(encrypted, passphrase)
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}

	if decrypted != plaintext {
		t.Errorf("got %q, want %q", decrypted, plaintext)
	}
}

func TestDecryptWrongPassphrase(t *testing.T) {
	encrypted, err := EncryptValue("secret", "correct-pass")
	if err != nil {
		t.Fatal(err)
	}

	_, err = DecryptValue(encrypted, "wrong-pass")
	if err == nil {
		t.Error("expected error with wrong passphrase")
	}
}

func TestLoadDecryptsAPIKey(t *testing.T) {
	passphrase := "test-config-key"
	plainAPIKey := "sk-secret123456"

	encrypted, err := EncryptValue(plainAPIKey, passphrase)
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := "embedding:\n  provider: openai\n  api_key: \"enc:" + encrypted + "\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("STRANDBUS_CONFIG_KEY", passphrase)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Embedding.APIKey != plainAPIKey {
		t.Errorf("APIKey = %q, want decrypted %q", cfg.Embedding.APIKey, plainAPIKey)
	}
}

func TestLoadRejectsWorldWritableFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("store:\n  backend: memory\n"), 0600); err != nil {
		t.Fatal(err)
	}
	// Chmod directly: WriteFile's mode is subject to the umask.
	if err := os.Chmod(path, 0666); err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected error for world-writable config file")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := Defaults()
	cfg.Store.Backend = "etcd"
	cfg.Router.MinConfidence = 1.5
	cfg.Tracer.SampleRatio = 2.0
	cfg.Agents = []AgentConfig{
		{Name: "a"},
		{Name: "a"},
	}

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}

	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected *ValidationError, got %T", err)
	}
	if len(verr.Errors) != 4 {
		t.Errorf("got %d problems, want 4: %v", len(verr.Errors), verr.Errors)
	}
}

func TestValidateOpenAIRequiresKey(t *testing.T) {
	cfg := Defaults()
	cfg.Embedding.Provider = "openai"
	cfg.Embedding.APIKey = ""

	if err := Validate(cfg); err == nil {
		t.Error("expected error for openai without api key")
	}
}

func TestValidateDefaultsPass(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}
