package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/lodevel/procstudio/artifact"
	"github.com/lodevel/procstudio/config"
	"github.com/lodevel/procstudio/contract"
	"github.com/lodevel/procstudio/llm"
	"github.com/lodevel/procstudio/metrics"
	"github.com/lodevel/procstudio/session"
	"github.com/lodevel/procstudio/trace"
	"github.com/lodevel/procstudio/workflow"
)

// app wires the workspace store, task contracts, model client, and turn
// runner from a validated config. It is built once per command invocation.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     *artifact.Store
	contracts *contract.Table
	sessions  *session.Manager
	runner    *workflow.Runner
	metrics   *metrics.Metrics

	watcher       *artifact.Watcher
	natsConn      *nats.Conn
	metricsServer *http.Server
}

// loadConfig resolves the effective config: an explicit --config path wins,
// otherwise the layered loader discovers user and project files. A
// --workspace flag overrides the configured workspace directory.
func loadConfig(flags *rootFlags, logger *slog.Logger) (*config.Config, error) {
	var cfg *config.Config
	if flags.configPath != "" {
		fileCfg, err := config.LoadFromFile(flags.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config %s: %w", flags.configPath, err)
		}
		cfg = config.DefaultConfig()
		cfg.Merge(fileCfg)
	} else {
		var err error
		cfg, err = config.NewLoader(logger).Load()
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
	}

	if flags.workspaceDir != "" {
		cfg.Workspace.Dir = flags.workspaceDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newApp builds the full application from config: artifact store loaded
// from the workspace, contract table, model registry and client, optional
// NATS call recording, optional file watcher, and the turn runner.
func newApp(ctx context.Context, cfg *config.Config, flags *rootFlags, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		sessions: session.NewManager(),
		metrics:  metrics.New(),
	}

	a.store = artifact.NewStore(artifact.WithLogger(logger))
	loaded, err := artifact.LoadDir(a.store, cfg.Workspace.Dir)
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", cfg.Workspace.Dir, err)
	}
	logger.Info("Workspace loaded", "dir", cfg.Workspace.Dir, "artifacts", len(loaded))

	a.contracts, err = loadContracts(cfg)
	if err != nil {
		return nil, err
	}

	registry, err := cfg.Registry()
	if err != nil {
		return nil, fmt.Errorf("build model registry: %w", err)
	}

	clientOpts := []llm.ClientOption{
		llm.WithLogger(logger),
		llm.WithRetryConfig(cfg.Retry),
		llm.WithHTTPClient(&http.Client{Timeout: cfg.Model.Timeout}),
	}

	// Call recording is optional: without NATS the client still works,
	// it just leaves no audit trail.
	if cfg.NATS.URL != "" {
		if store, err := a.connectCallStore(ctx, cfg.NATS.URL); err != nil {
			logger.Warn("LLM call recording disabled", "error", err)
		} else {
			clientOpts = append(clientOpts, llm.WithCallStore(store))
			logger.Debug("LLM call recording enabled", "url", cfg.NATS.URL)
		}
	}

	client := llm.NewClient(registry, clientOpts...)
	backend := workflow.NewLLMBackend(client)
	temp := cfg.Model.Temperature
	backend.Temperature = &temp

	runnerOpts := []workflow.RunnerOption{
		workflow.WithTracer(trace.NewMapper()),
		workflow.WithMetrics(a.metrics),
		workflow.WithRunnerLogger(logger),
		workflow.WithRules(a.rulesProvider()),
	}
	a.runner = workflow.NewRunner(a.store, a.contracts, backend, runnerOpts...)

	if cfg.Watch.Enabled {
		w, err := artifact.NewWatcher(cfg.Watch, cfg.Workspace.Dir, a.store, logger)
		if err != nil {
			logger.Warn("File watching disabled", "error", err)
		} else if err := w.Start(ctx); err != nil {
			logger.Warn("File watching disabled", "error", err)
		} else {
			a.watcher = w
		}
	}

	if flags.metricsAddr != "" {
		a.serveMetrics(flags.metricsAddr)
	}

	return a, nil
}

// loadContracts returns the built-in contract table unless the config
// names an override file.
func loadContracts(cfg *config.Config) (*contract.Table, error) {
	if cfg.Workspace.ContractsFile == "" {
		return contract.Defaults(), nil
	}
	table, err := contract.LoadFile(cfg.Workspace.ContractsFile)
	if err != nil {
		return nil, fmt.Errorf("load contracts %s: %w", cfg.Workspace.ContractsFile, err)
	}
	return table, nil
}

// rulesProvider reloads the workspace rules on every turn so edits to
// rules files take effect without a restart. The checksum lets the runner
// skip resending unchanged content.
func (a *app) rulesProvider() workflow.RulesProvider {
	return func() (string, string) {
		rules, err := config.LoadRules(a.cfg.Workspace.Dir, a.cfg.Workspace.RulesGlobs)
		if err != nil {
			a.logger.Warn("Failed to load rules", "error", err)
			return "", ""
		}
		if rules.Empty() {
			return "", ""
		}
		return rules.Content, rules.Checksum
	}
}

func (a *app) connectCallStore(ctx context.Context, url string) (*llm.CallStore, error) {
	nc, err := nats.Connect(url,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	store, err := llm.NewCallStore(ctx, js, llm.WithStoreLogger(a.logger))
	if err != nil {
		nc.Close()
		return nil, err
	}
	a.natsConn = nc
	return store, nil
}

func (a *app) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", a.metrics.Handler())
	a.metricsServer = &http.Server{Addr: addr, Handler: mux}
	go func() {
		a.logger.Info("Serving metrics", "addr", addr)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("Metrics server failed", "error", err)
		}
	}()
}

// Close releases everything newApp started.
func (a *app) Close() {
	if a.watcher != nil {
		if err := a.watcher.Stop(); err != nil {
			a.logger.Warn("Failed to stop watcher", "error", err)
		}
	}
	if a.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.metricsServer.Shutdown(shutdownCtx)
	}
	if a.natsConn != nil {
		a.natsConn.Close()
	}
}

// writeFileArtifacts persists accepted artifact changes back to the
// workspace. The watcher sees its own write as a no-op because content
// is unchanged by the time the reload fires.
func (a *app) writeFileArtifacts(kinds []artifact.Kind) {
	for _, kind := range kinds {
		if err := artifact.SaveKind(a.store, a.cfg.Workspace.Dir, kind); err != nil {
			a.logger.Error("Failed to write artifact", "kind", kind, "error", err)
		}
	}
}
