package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Router    RouterConfig    `yaml:"router"`
	Protocol  ProtocolConfig  `yaml:"protocol"`
	Agents    []AgentConfig   `yaml:"agents,omitempty"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
	Cron      CronConfig      `yaml:"cron"`
}

// StoreConfig holds strand store settings.
type StoreConfig struct {
	// Backend selects the store adapter: "sqlite" or "memory".
	Backend string `yaml:"backend"`
	// Path is the SQLite database file for the sqlite backend.
	Path string `yaml:"path"`
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	// Provider selects the backend: "openai", "ollama", "bedrock", "mock".
	Provider   string `yaml:"provider"`
	Model      string `yaml:"model,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
	BaseURL    string `yaml:"base_url,omitempty"`
	// APIKey may be stored encrypted with an "enc:" prefix; it is
	// decrypted at load time using STRANDBUS_CONFIG_KEY.
	APIKey string `yaml:"api_key,omitempty"`
	Region string `yaml:"region,omitempty"` // bedrock

	CacheSize int `yaml:"cache_size"` // LRU entries; 0 disables caching

	// RequestsPerMin rate-limits embedding calls; 0 disables limiting.
	RequestsPerMin float64 `yaml:"requests_per_min"`
	BurstSize      int     `yaml:"burst_size"`

	Breaker BreakerConfig `yaml:"breaker"`

	// MaxSummaryTokens truncates canonical summaries before embedding;
	// 0 disables the guard.
	MaxSummaryTokens int `yaml:"max_summary_tokens"`
}

// BreakerConfig configures the embedding circuit breaker.
type BreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RouterConfig holds central router settings. The scoring weights and
// thresholds are heuristics, not tuned invariants — they ship with the
// historical defaults but are expected to be adjusted per deployment.
type RouterConfig struct {
	PollInterval         time.Duration `yaml:"poll_interval"`
	ScanWindow           time.Duration `yaml:"scan_window"`
	MaxBatch             int           `yaml:"max_batch"`
	TopK                 int           `yaml:"top_k"`
	SimilarityThreshold  float64       `yaml:"similarity_threshold"`
	CapabilityWeight     float64       `yaml:"capability_weight"`
	SpecializationWeight float64       `yaml:"specialization_weight"`
	EffectivenessWeight  float64       `yaml:"effectiveness_weight"`
	MinRelevance         float64       `yaml:"min_relevance"`
	MinConfidence        float64       `yaml:"min_confidence"`
	MaxTargets           int           `yaml:"max_targets"`
	LivenessWindow       time.Duration `yaml:"liveness_window"`
	InactiveAfter        time.Duration `yaml:"inactive_after"`
	ContextWindow        time.Duration `yaml:"context_window"`
	ContextMaxCandidates int           `yaml:"context_max_candidates"`
}

// ProtocolConfig holds per-agent communication protocol settings.
type ProtocolConfig struct {
	ListenInterval time.Duration `yaml:"listen_interval"`
	RecencyWindow  time.Duration `yaml:"recency_window"`
	MaxBatch       int           `yaml:"max_batch"`
	ResponseWindow time.Duration `yaml:"response_window"`
}

// AgentConfig declares one locally hosted agent and its registry entry.
type AgentConfig struct {
	Name            string   `yaml:"name"`
	Capabilities    []string `yaml:"capabilities"`
	Specializations []string `yaml:"specializations,omitempty"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds OpenTelemetry tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // "stdout" or "noop"
	// SampleRatio is the fraction of traces kept; routing cycles fire
	// continuously, so busy deployments sample down. 0 or 1 keeps all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// CronConfig holds maintenance schedule settings.
type CronConfig struct {
	// RetentionPrune is a cron expression for pruning old routed strands
	// from the locally owned store; empty disables pruning.
	RetentionPrune string `yaml:"retention_prune"`
	// RetentionMaxAge is how long routed strands are kept.
	RetentionMaxAge time.Duration `yaml:"retention_max_age"`
}

// Defaults returns a Config populated with the historical defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "strands.db",
		},
		Embedding: EmbeddingConfig{
			Provider:         "mock",
			CacheSize:        1024,
			RequestsPerMin:   0,
			BurstSize:        10,
			MaxSummaryTokens: 512,
			Breaker: BreakerConfig{
				Enabled:     true,
				MaxFailures: 5,
				Timeout:     30 * time.Second,
				Interval:    60 * time.Second,
			},
		},
		Router: RouterConfig{
			PollInterval:         30 * time.Second,
			ScanWindow:           5 * time.Minute,
			MaxBatch:             100,
			TopK:                 10,
			SimilarityThreshold:  0.7,
			CapabilityWeight:     0.3,
			SpecializationWeight: 0.2,
			EffectivenessWeight:  0.2,
			MinRelevance:         0.3,
			MinConfidence:        0.4,
			MaxTargets:           5,
			LivenessWindow:       time.Hour,
			InactiveAfter:        2 * time.Hour,
			ContextWindow:        30 * 24 * time.Hour,
			ContextMaxCandidates: 500,
		},
		Protocol: ProtocolConfig{
			ListenInterval: 10 * time.Second,
			RecencyWindow:  2 * time.Minute,
			MaxBatch:       50,
			ResponseWindow: 5 * time.Minute,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:     false,
			Exporter:    "noop",
			SampleRatio: 1,
		},
		Cron: CronConfig{
			RetentionPrune:  "",
			RetentionMaxAge: 90 * 24 * time.Hour,
		},
	}
}

// Load reads the config file at path, applies env overrides, decrypts
// enc: secrets, and validates. A missing file yields defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := validatePermissions(path); err != nil {
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	ApplyEnvOverrides(cfg)

	passphrase := os.Getenv("STRANDBUS_CONFIG_KEY")
	if passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps STRANDBUS_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("STRANDBUS_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("STRANDBUS_STORE_BACKEND"); v != "" {
		cfg.Store.Backend = v
	}
	if v := os.Getenv("STRANDBUS_EMBEDDING_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("STRANDBUS_EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("STRANDBUS_EMBEDDING_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("STRANDBUS_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("STRANDBUS_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("STRANDBUS_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// decryptSecrets resolves enc:-prefixed values using the passphrase.
func decryptSecrets(cfg *Config, passphrase string) error {
	if strings.HasPrefix(cfg.Embedding.APIKey, "enc:") {
		decrypted, err := DecryptValue(strings.TrimPrefix(cfg.Embedding.APIKey, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("embedding api_key: %w", err)
		}
		cfg.Embedding.APIKey = decrypted
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
