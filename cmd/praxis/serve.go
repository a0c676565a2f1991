package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/praxisworks/praxis/internal/chat"
	"github.com/praxisworks/praxis/internal/chat/budget"
	"github.com/praxisworks/praxis/internal/chat/providers"
	"github.com/praxisworks/praxis/internal/config"
	"github.com/praxisworks/praxis/internal/gateway"
	"github.com/praxisworks/praxis/internal/identity"
	"github.com/praxisworks/praxis/internal/observability"
	"github.com/praxisworks/praxis/internal/plugins"
	"github.com/praxisworks/praxis/internal/storage"
	"github.com/praxisworks/praxis/internal/tools"
)

// runServe assembles the engine from config and serves HTTP until ctx is
// canceled.
func runServe(ctx context.Context, configPath string, debug bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if debug {
		cfg.Logging.Level = "debug"
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.AddSource,
	})
	metrics := observability.NewMetrics()

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	registry, defaults, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	if len(registry.Names()) == 0 {
		return errors.New("no providers configured; set an API key or enable ollama")
	}
	logger.Info("providers registered", "providers", registry.Names())

	native, err := tools.Native(cfg.Chat.WorkspaceDir)
	if err != nil {
		return err
	}

	var pluginCatalog chat.Catalog
	if cfg.Plugins.Dir != "" {
		pluginRegistry := chat.NewRegistry()
		manager := plugins.NewManager(cfg.Plugins.Dir, pluginRegistry, logger)
		if err := manager.Load(); err != nil {
			return fmt.Errorf("load plugins: %w", err)
		}
		if cfg.Plugins.Watch {
			go func() {
				if err := manager.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Warn("plugin watcher stopped", "error", err)
				}
			}()
		}
		pluginCatalog = pluginRegistry
	}

	selector := tools.NewSelector(native, pluginCatalog, store)
	identitySvc := identity.New(nil, logger)

	orchestratorOpts := []chat.OrchestratorOption{
		chat.WithRecordStore(store),
		chat.WithObserver(metrics),
		chat.WithLogger(logger),
		chat.WithTokenResolver(identitySvc),
	}
	if cfg.Chat.MaxRounds > 0 {
		orchestratorOpts = append(orchestratorOpts, chat.WithMaxRounds(cfg.Chat.MaxRounds))
	}
	if cfg.Chat.KeepRecent > 0 {
		orchestratorOpts = append(orchestratorOpts,
			chat.WithBudget(budget.New(budget.WithKeepRecent(cfg.Chat.KeepRecent), budget.WithLogger(logger))))
	}
	var executorOpts []chat.ExecutorOption
	if cfg.Chat.MaxConcurrentTools > 0 {
		executorOpts = append(executorOpts, chat.WithMaxConcurrency(cfg.Chat.MaxConcurrentTools))
	}
	if cfg.Chat.ToolTimeout > 0 {
		executorOpts = append(executorOpts, chat.WithToolTimeout(cfg.Chat.ToolTimeout))
	}
	if len(executorOpts) > 0 {
		orchestratorOpts = append(orchestratorOpts, chat.WithExecutorOptions(executorOpts...))
	}

	orchestrator := chat.NewOrchestrator(registry, orchestratorOpts...)

	serverOpts := []gateway.Option{
		gateway.WithMetrics(metrics),
		gateway.WithLogger(logger),
		gateway.WithIdentity(identitySvc),
		gateway.WithDefaultProvider(cfg.Providers.Default),
	}
	for provider, model := range defaults {
		serverOpts = append(serverOpts, gateway.WithDefaultModel(provider, model))
	}
	server := gateway.NewServer(orchestrator, selector, store, serverOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      server.Handler(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.Server.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemory(), nil
	default:
		return storage.NewSQLite(cfg.Storage.Path)
	}
}

// buildProviders registers every provider with credentials and returns the
// default model per provider.
func buildProviders(cfg *config.Config) (*chat.ProviderRegistry, map[string]string, error) {
	registry := chat.NewProviderRegistry()
	defaults := make(map[string]string)

	if cfg.Providers.Anthropic.APIKey != "" {
		p, err := providers.NewAnthropic(providers.AnthropicConfig{
			APIKey:  cfg.Providers.Anthropic.APIKey,
			BaseURL: cfg.Providers.Anthropic.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p)
		defaults[p.Name()] = firstModelID(p)
	}
	if cfg.Providers.OpenAI.APIKey != "" {
		p, err := providers.NewOpenAI(providers.OpenAIConfig{
			APIKey:  cfg.Providers.OpenAI.APIKey,
			BaseURL: cfg.Providers.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p)
		defaults[p.Name()] = firstModelID(p)
	}
	if cfg.Providers.Google.APIKey != "" {
		p, err := providers.NewGoogle(providers.GoogleConfig{
			APIKey: cfg.Providers.Google.APIKey,
		})
		if err != nil {
			return nil, nil, err
		}
		registry.Register(p)
		defaults[p.Name()] = firstModelID(p)
	}
	if cfg.Providers.Ollama.Enabled {
		p := providers.NewOllama(providers.OllamaConfig{
			BaseURL: cfg.Providers.Ollama.BaseURL,
		})
		registry.Register(p)
		defaults[p.Name()] = firstModelID(p)
	}
	return registry, defaults, nil
}

func firstModelID(p chat.Provider) string {
	models := p.Models()
	if len(models) == 0 {
		return ""
	}
	return models[0].ID
}
