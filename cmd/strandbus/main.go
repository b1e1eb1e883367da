package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"golang.org/x/sync/errgroup"

	"strandbus/internal/adapter/embedding"
	"strandbus/internal/adapter/store/memstore"
	"strandbus/internal/adapter/store/sqlite"
	"strandbus/internal/domain"
	"strandbus/internal/infra/config"
	"strandbus/internal/infra/logger"
	"strandbus/internal/infra/tracer"
	"strandbus/internal/usecase/contextsys"
	"strandbus/internal/usecase/eventbus"
	"strandbus/internal/usecase/maintenance"
	"strandbus/internal/usecase/protocol"
	"strandbus/internal/usecase/router"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		}
	}

	if len(os.Args) < 2 || strings.HasPrefix(os.Args[1], "-") {
		if err := runRouter(); err != nil {
			fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
			os.Exit(1)
		}
		return
	}

	switch os.Args[1] {
	case "router":
		if err := runRouter(); err != nil {
			fmt.Fprintf(os.Stderr, "router: %v\n", err)
			os.Exit(1)
		}
	case "listen":
		if err := runListen(); err != nil {
			fmt.Fprintf(os.Stderr, "listen: %v\n", err)
			os.Exit(1)
		}
	case "doctor":
		if err := runDoctor(); err != nil {
			fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'strandbus --help' for usage information.\n", os.Args[1])
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`strandbus - multi-agent coordination bus

USAGE:
    strandbus [COMMAND] [FLAGS]

COMMANDS:
    router      Run the central router daemon (default)
    listen      Run a protocol listener for one agent
    doctor      Run health checks on your setup

FLAGS:
    -h, --help         Show this help message
    --config PATH      Config file path (default: ./config.yaml)
    --agent NAME       Agent name for 'listen'

CONFIGURATION:
    Config file: ./config.yaml
    Environment: STRANDBUS_* variables override config

EXAMPLES:
    strandbus                      # Run the router with config.yaml
    strandbus --config /etc/strandbus.yaml
    strandbus listen --agent volume_team
    strandbus doctor               # Check store and embedder health`)
}

func configPath() string {
	for i, arg := range os.Args {
		if arg == "--config" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--config=") {
			return strings.TrimPrefix(arg, "--config=")
		}
	}
	if p := os.Getenv("STRANDBUS_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func agentFlag() string {
	for i, arg := range os.Args {
		if arg == "--agent" && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if strings.HasPrefix(arg, "--agent=") {
			return strings.TrimPrefix(arg, "--agent=")
		}
	}
	return ""
}

// buildStore selects the strand store backend. The returned closer is
// nil for the memory backend.
func buildStore(cfg config.StoreConfig, log *slog.Logger) (domain.StrandStore, func() error, error) {
	switch cfg.Backend {
	case "memory":
		return memstore.New(), nil, nil
	case "sqlite", "":
		st, err := sqlite.New(cfg.Path, log)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

// buildEmbedder constructs the configured provider and wraps it with the
// cache, circuit breaker, and rate limiter decorators. Decorator order
// matters: the cache sits innermost-facing so hits never consume breaker
// or limiter budget.
func buildEmbedder(cfg config.EmbeddingConfig, log *slog.Logger) (domain.EmbeddingProvider, error) {
	var provider domain.EmbeddingProvider

	switch cfg.Provider {
	case "openai":
		var opts []embedding.OpenAIOption
		if cfg.Model != "" {
			opts = append(opts, embedding.WithOpenAIModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, embedding.WithOpenAIDimensions(cfg.Dimensions))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOpenAIBaseURL(cfg.BaseURL))
		}
		provider = embedding.NewOpenAIProvider(cfg.APIKey, opts...)
	case "ollama":
		var opts []embedding.OllamaOption
		if cfg.Model != "" {
			opts = append(opts, embedding.WithOllamaModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, embedding.WithOllamaDimensions(cfg.Dimensions))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, embedding.WithOllamaBaseURL(cfg.BaseURL))
		}
		provider = embedding.NewOllamaProvider(opts...)
	case "bedrock":
		var opts []embedding.BedrockOption
		if cfg.Model != "" {
			opts = append(opts, embedding.WithBedrockModel(cfg.Model))
		}
		if cfg.Dimensions > 0 {
			opts = append(opts, embedding.WithBedrockDimensions(cfg.Dimensions))
		}
		p, err := embedding.NewBedrockProvider(cfg.Region, log, opts...)
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		provider = p
	case "mock", "":
		provider = embedding.NewMockProvider(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	provider = embedding.NewCachedEmbedder(provider, cfg.CacheSize)

	if cfg.Breaker.Enabled {
		provider = embedding.NewBreakerEmbedder(provider, embedding.BreakerConfig{
			MaxFailures: cfg.Breaker.MaxFailures,
			Timeout:     cfg.Breaker.Timeout,
			Interval:    cfg.Breaker.Interval,
		}, log)
	}

	if cfg.RequestsPerMin > 0 {
		provider = embedding.NewRateLimitedEmbedder(provider, int(cfg.RequestsPerMin), cfg.BurstSize)
	}

	return provider, nil
}

func runRouter() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	store, storeCloser, err := buildStore(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	embedder, err := buildEmbedder(cfg.Embedding, log)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	bus := eventbus.New(log)
	defer bus.Close()

	indexer := contextsys.NewIndexer(embedder, store, cfg.Embedding.MaxSummaryTokens, log)
	clusterer := contextsys.NewClusterer(0)
	ctxSys := contextsys.NewSystem(store, indexer, clusterer,
		cfg.Router.ContextWindow, cfg.Router.ContextMaxCandidates, log)

	rt := router.New(store, ctxSys, indexer, bus, cfg.Router, log)
	for _, a := range cfg.Agents {
		rt.RegisterAgentCapabilities(a.Name, a.Capabilities, a.Specializations)
	}

	// A protocol instance per locally hosted agent so their default
	// handlers answer routed work and pings.
	protocols := make([]*protocol.Protocol, 0, len(cfg.Agents))
	for _, a := range cfg.Agents {
		p, err := protocol.New(a.Name, store, bus, cfg.Protocol, log)
		if err != nil {
			return fmt.Errorf("protocol %s: %w", a.Name, err)
		}
		protocols = append(protocols, p)
	}

	var maint *maintenance.Manager
	if pruner, ok := store.(maintenance.Pruner); ok {
		maint = maintenance.New(pruner, cfg.Cron, log)
		if err := maint.Start(); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.Start(runCtx)
	for _, p := range protocols {
		p.Start(runCtx)
	}

	log.Info("strandbus starting",
		"store", cfg.Store.Backend,
		"embedder", embedder.Name(),
		"agents", len(cfg.Agents),
		"poll_interval", cfg.Router.PollInterval,
	)

	<-runCtx.Done()
	log.Info("shutting down")

	var g errgroup.Group
	g.Go(func() error {
		rt.Stop()
		return nil
	})
	for _, p := range protocols {
		g.Go(func() error {
			p.Stop()
			return nil
		})
	}
	if maint != nil {
		g.Go(func() error {
			maint.Stop()
			return nil
		})
	}
	return g.Wait()
}

func runListen() error {
	agent := agentFlag()
	if agent == "" {
		return fmt.Errorf("--agent is required")
	}

	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	store, storeCloser, err := buildStore(cfg.Store, log)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if storeCloser != nil {
		defer storeCloser()
	}

	bus := eventbus.New(log)
	defer bus.Close()

	p, err := protocol.New(agent, store, bus, cfg.Protocol, log)
	if err != nil {
		return fmt.Errorf("protocol: %w", err)
	}

	// Replace the default handlers with stdout printers.
	for _, t := range []string{
		domain.MessageInformation,
		domain.MessageActionRequired,
		domain.MessageEscalation,
		domain.MessagePerfAlert,
		domain.MessageLearning,
		domain.MessageSystemControl,
	} {
		p.RegisterHandler(t, printMessage)
	}

	runCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p.Start(runCtx)
	fmt.Printf("listening as %s (store: %s) — Ctrl-C to stop\n", agent, cfg.Store.Backend)

	<-runCtx.Done()
	p.Stop()

	fmt.Printf("received %d message(s), sent %d\n", len(p.ReceivedMessages()), p.SentCount())
	return nil
}

func printMessage(_ context.Context, msg *domain.StrandMessage) error {
	fmt.Printf("[%s] %s from %s: %v\n",
		msg.ReceivedAt.Format("15:04:05"), msg.Type, msg.FromAgent, msg.Content)
	return nil
}
