package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"strandbus/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor() error {
	cfgPath := configPath()

	// Try to load config — some checks work without it.
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Strand store", Fn: checkStrandStore},
		{Name: "Embedding credentials", Fn: checkEmbeddingCredentials},
		{Name: "Embedding connectivity", Fn: checkEmbeddingConnectivity},
		{Name: "Agent registry", Fn: checkAgentConfig},
		{Name: "Network", Fn: checkNetwork},
	}

	fmt.Println("strandbus doctor")
	fmt.Println(strings.Repeat("=", 50))
	fmt.Println()

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		icon := statusIcon(result.Status)
		fmt.Printf("  %s %s: %s\n", icon, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Printf("      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Println()
	fmt.Println(strings.Repeat("-", 50))
	fmt.Printf("Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		fmt.Println("\nFix the FAIL issues above to ensure strandbus runs correctly.")
		return fmt.Errorf("%d check(s) failed", fail)
	}
	if warn > 0 {
		fmt.Println("\nstrandbus should work, but consider addressing the warnings.")
	} else {
		fmt.Println("\nAll checks passed! strandbus is ready to run.")
	}
	return nil
}

func statusIcon(s CheckStatus) string {
	switch s {
	case StatusPass:
		return "[PASS]"
	case StatusWarn:
		return "[WARN]"
	case StatusFail:
		return "[FAIL]"
	default:
		return "[????]"
	}
}

// checkConfigFile returns a check that verifies the config file exists and parses correctly.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{
				Status:  StatusWarn,
				Message: fmt.Sprintf("config file not found at %s — built-in defaults apply", cfgPath),
				Fix:     "Create config.yaml or set STRANDBUS_CONFIG",
			}
		}

		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config file parse error: %v", cfgErr),
				Fix:     "Check config.yaml syntax",
			}
		}

		return CheckResult{
			Status:  StatusPass,
			Message: fmt.Sprintf("config loaded from %s", cfgPath),
		}
	}
}

// checkStrandStore verifies the store backend is usable. For sqlite the
// database directory must exist and be writable.
func checkStrandStore(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	switch cfg.Store.Backend {
	case "memory":
		return CheckResult{
			Status:  StatusWarn,
			Message: "memory backend — strands are lost on restart",
		}
	case "sqlite", "":
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("unknown store backend %q", cfg.Store.Backend),
			Fix:     "Set store.backend to sqlite or memory",
		}
	}

	dir := filepath.Dir(cfg.Store.Path)
	absDir, _ := filepath.Abs(dir)

	info, err := os.Stat(absDir)
	if os.IsNotExist(err) {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("database directory %s does not exist", absDir),
			Fix:     fmt.Sprintf("Create the directory: mkdir -p %s", absDir),
		}
	}
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot stat database directory: %v", err),
		}
	}
	if !info.IsDir() {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("%s exists but is not a directory", absDir),
		}
	}

	testFile := filepath.Join(absDir, ".doctor-check")
	if err := os.WriteFile(testFile, []byte("ok"), 0644); err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("database directory %s is not writable: %v", absDir, err),
			Fix:     fmt.Sprintf("Fix permissions: chmod 755 %s", absDir),
		}
	}
	os.Remove(testFile)

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("sqlite database at %s (directory writable)", cfg.Store.Path),
	}
}

// checkEmbeddingCredentials verifies the configured provider has what it
// needs to authenticate.
func checkEmbeddingCredentials(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	switch cfg.Embedding.Provider {
	case "openai":
		if cfg.Embedding.APIKey == "" {
			return CheckResult{
				Status:  StatusFail,
				Message: "openai provider configured but no API key set",
				Fix:     "Set embedding.api_key or STRANDBUS_EMBEDDING_API_KEY",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: "openai API key configured",
		}
	case "ollama":
		return CheckResult{
			Status:  StatusPass,
			Message: "ollama requires no credentials",
		}
	case "bedrock":
		// The AWS SDK resolves credentials from env, profile, or IMDS.
		if os.Getenv("AWS_ACCESS_KEY_ID") == "" && os.Getenv("AWS_PROFILE") == "" {
			return CheckResult{
				Status:  StatusWarn,
				Message: "no AWS credentials in environment — SDK default chain will be tried at runtime",
			}
		}
		return CheckResult{
			Status:  StatusPass,
			Message: "AWS credentials found in environment",
		}
	case "mock", "":
		return CheckResult{
			Status:  StatusWarn,
			Message: "mock embedder — vectors are deterministic hashes, not semantic",
			Fix:     "Set embedding.provider to openai, ollama, or bedrock for production",
		}
	default:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("unknown embedding provider %q", cfg.Embedding.Provider),
		}
	}
}

// checkEmbeddingConnectivity tests if the embedding endpoint is reachable.
func checkEmbeddingConnectivity(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	endpoint := embeddingEndpoint(&cfg.Embedding)
	if endpoint == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("no HTTP endpoint for provider %q — skipping connectivity test", cfg.Embedding.Provider),
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("failed to create request: %v", err),
		}
	}

	resp, err := http.DefaultClient.Do(req)
	latency := time.Since(start)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot reach %s: %v", endpoint, err),
			Fix:     "Check your internet connection and firewall settings",
		}
	}
	resp.Body.Close()

	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%s reachable (latency: %dms)", endpoint, latency.Milliseconds()),
	}
}

// embeddingEndpoint returns a ping URL for the configured provider.
func embeddingEndpoint(e *config.EmbeddingConfig) string {
	switch e.Provider {
	case "openai":
		if e.BaseURL != "" {
			return strings.TrimRight(e.BaseURL, "/")
		}
		return "https://api.openai.com/v1/models"
	case "ollama":
		baseURL := "http://localhost:11434"
		if e.BaseURL != "" {
			baseURL = strings.TrimRight(e.BaseURL, "/")
		}
		return baseURL + "/api/tags"
	default:
		// Bedrock uses signed SDK calls; the mock has no endpoint.
		return ""
	}
}

// checkAgentConfig verifies at least one agent is declared for routing.
func checkAgentConfig(cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{
			Status:  StatusFail,
			Message: "cannot check — config not loaded",
		}
	}

	if len(cfg.Agents) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no agents configured — the router has nothing to route to",
			Fix:     "Declare agents with capabilities under agents: in config.yaml",
		}
	}

	names := make([]string, len(cfg.Agents))
	for i, a := range cfg.Agents {
		names[i] = a.Name
	}
	return CheckResult{
		Status:  StatusPass,
		Message: fmt.Sprintf("%d agent(s): %s", len(cfg.Agents), strings.Join(names, ", ")),
	}
}

// checkNetwork verifies basic internet connectivity.
func checkNetwork(_ *config.Config) CheckResult {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", "1.1.1.1:443")
	if err != nil {
		conn2, err2 := d.DialContext(ctx, "tcp", "8.8.8.8:443")
		if err2 != nil {
			return CheckResult{
				Status:  StatusWarn,
				Message: "no internet connectivity detected — only local providers will work",
			}
		}
		conn2.Close()
	} else {
		conn.Close()
	}

	return CheckResult{
		Status:  StatusPass,
		Message: "internet connectivity OK",
	}
}
