package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"llamagate/internal/audit"
	"llamagate/internal/cliutil"
	"llamagate/internal/config"
	"llamagate/internal/health"
	"llamagate/internal/httpapi"
	"llamagate/internal/logging"
	"llamagate/internal/metrics"
	"llamagate/internal/proxy"
	"llamagate/internal/registry"
	"llamagate/internal/supervisor"
	"llamagate/internal/tracing"
	"llamagate/internal/worker"
)

var workerPathFlag string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cfgFile)
	},
}

func init() {
	serveCmd.Flags().StringVar(&workerPathFlag, "worker-path", "", "path to the llamagate-worker binary (defaults to the sibling of this executable)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(configPath string) error {
	if err := config.Initialize(configPath); err != nil {
		return cliutil.NewConfigError(configPath, err.Error())
	}
	cfg := config.MustGet()

	logger, err := logging.New(logging.Config{
		Level:     cfg.Telemetry.Logging.Level,
		Format:    cfg.Telemetry.Logging.Format,
		AddSource: cfg.Telemetry.Logging.AddSource,
	})
	if err != nil {
		return fmt.Errorf("constructing logger: %w", err)
	}
	logger = logger.With("component", "llamagate")

	tracer, err := tracing.New(tracing.Config{
		Enabled:     cfg.Telemetry.Tracing.Enabled,
		Endpoint:    cfg.Telemetry.Tracing.Endpoint,
		SampleRatio: cfg.Telemetry.Tracing.SampleRatio,
		ServiceName: cfg.Telemetry.Tracing.ServiceName,
	})
	if err != nil {
		return cliutil.NewCommandError("serve", fmt.Errorf("constructing tracer: %w", err))
	}

	collector := metrics.NewCollector(metrics.Config{
		Namespace: cfg.Telemetry.Metrics.Namespace,
		Enabled:   cfg.Telemetry.Metrics.Enabled,
	})

	checker := health.New(5 * time.Second)

	reg, err := registry.Scan(cfg.ModelManager.ModelsDirectory, cfg.ModelManager.DefaultModel)
	if err != nil {
		return cliutil.NewCommandError("serve", fmt.Errorf("scanning models directory: %w", err))
	}
	checker.RegisterCheck("registry", func(ctx context.Context) error {
		if len(reg.List()) == 0 {
			return fmt.Errorf("no models found in %s", reg.Dir())
		}
		return nil
	})

	workerPath, err := resolveWorkerPath(workerPathFlag)
	if err != nil {
		return cliutil.NewCommandError("serve", err)
	}

	var auditRecorder *audit.Recorder
	if cfg.Audit.Enabled {
		storage, err := audit.NewSQLiteStorage(audit.SQLiteConfig{
			Path:         cfg.Audit.Path,
			BusyTimeout:  cfg.Audit.BusyTimeout,
			MaxOpenConns: 1,
		}, logger)
		if err != nil {
			return cliutil.NewCommandError("serve", fmt.Errorf("opening audit store: %w", err))
		}
		auditRecorder = audit.NewRecorder(storage, audit.DefaultRecorderConfig(), logger)
		defer auditRecorder.Close()
	}

	sup := supervisor.New(reg, supervisorConfig(cfg), workerFactory(workerPath, logger), logger)
	if auditRecorder != nil {
		sup.SetAuditRecorder(auditRecorder)
	}
	sup.SetMetrics(collector)
	checker.RegisterCheck("supervisor", func(ctx context.Context) error {
		return nil
	})

	reaper := supervisor.NewReaper(
		sup,
		time.Duration(cfg.ModelManager.CheckInterval)*time.Second,
		time.Duration(cfg.ModelManager.IdleTimeout)*time.Second,
		logger,
	)

	ctx := cliutil.SetupSignalHandler()

	if err := reaper.Start(ctx, time.Duration(cfg.ModelManager.CheckInterval)*time.Second); err != nil {
		return cliutil.NewCommandError("serve", fmt.Errorf("starting reaper: %w", err))
	}
	defer reaper.Stop()

	watcher, err := registry.NewWatcher(cfg.ModelManager.ModelsDirectory, logger)
	if err != nil {
		logger.Warn("model directory watcher disabled", "error", err)
	} else {
		go func() {
			err := watcher.Watch(ctx, func() error {
				if err := reg.Reload(cfg.ModelManager.DefaultModel); err != nil {
					return err
				}
				return sup.UpdateConfig(ctx, supervisorConfig(cfg))
			})
			if err != nil {
				logger.Error("model directory watcher stopped", "error", err)
			}
		}()
		defer watcher.Stop()
	}

	var recorderForHTTP httpapi.AuditRecorder
	if auditRecorder != nil {
		recorderForHTTP = auditRecorder
	}

	server := httpapi.NewServer(cfg.Server, sup, checker, collector, recorderForHTTP, tracer, logger)

	logger.Info("starting llamagate", "listen_address", cfg.Server.ListenAddress, "models_directory", reg.Dir(), "models_found", len(reg.List()))

	if err := server.Start(ctx); err != nil {
		return cliutil.NewCommandError("serve", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := sup.Shutdown(shutdownCtx); err != nil {
		logger.Warn("error unloading active model during shutdown", "error", err)
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown error", "error", err)
	}

	logger.Info("llamagate stopped")
	return nil
}

// supervisorConfig projects the gateway Config down to the subset
// supervisor.Config needs, translating the YAML model_settings map into
// proxy.Overrides keyed the same way the registry keys its entries.
func supervisorConfig(cfg *config.Config) supervisor.Config {
	overrides := make(map[string]proxy.Overrides, len(cfg.ModelSettings))
	for name, o := range cfg.ModelSettings {
		overrides[name] = proxy.Overrides{
			NCtx:           o.NCtx,
			NGPULayers:     o.NGPULayers,
			NThreads:       o.NThreads,
			OverrideTensor: o.OverrideTensor,
			OffloadKQV:     o.OffloadKQV,
		}
	}
	return supervisor.Config{
		ModelsDir:    cfg.ModelManager.ModelsDirectory,
		DefaultModel: cfg.ModelManager.DefaultModel,
		GlobalDefaults: proxy.GlobalDefaults{
			NCtx:       cfg.ModelManager.NCtx,
			NGPULayers: cfg.ModelManager.NGPULayers,
			NThreads:   cfg.ModelManager.NThreads,
		},
		Overrides: overrides,
	}
}

// workerFactory closes over the worker binary path and logger to produce
// supervisor.WorkerFactory, the only place a *proxy.Proxy gets constructed.
func workerFactory(workerPath string, logger *slog.Logger) supervisor.WorkerFactory {
	return func(entry registry.Entry, params worker.LoadParams) supervisor.Worker {
		return proxy.New(proxy.Config{
			WorkerPath:      workerPath,
			ModelPath:       entry.Path,
			ModelName:       entry.Name,
			Params:          params,
			LoadTimeout:     proxy.DefaultLoadTimeout,
			GenerateTimeout: proxy.DefaultGenerateTimeout,
			ChunkTimeout:    proxy.DefaultChunkTimeout,
			TokenizeTimeout: proxy.DefaultTokenizeTimeout,
			Logger:          logger,
		})
	}
}

// resolveWorkerPath finds the llamagate-worker binary: an explicit flag
// wins, then LLAMAGATE_WORKER_PATH, otherwise it looks next to this
// executable, the layout `go build
// ./...` produces when both cmd/llamagate and cmd/llamagate-worker are
// built into the same directory.
func resolveWorkerPath(flagValue string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	if env := os.Getenv("LLAMAGATE_WORKER_PATH"); env != "" {
		return env, nil
	}
	self, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locating own executable to find sibling worker binary: %w", err)
	}
	sibling := filepath.Join(filepath.Dir(self), "llamagate-worker")
	if _, err := os.Stat(sibling); err != nil {
		return "", fmt.Errorf("worker binary not found at %q (set --worker-path or LLAMAGATE_WORKER_PATH): %w", sibling, err)
	}
	return sibling, nil
}
