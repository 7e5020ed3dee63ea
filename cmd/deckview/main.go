// Deckview Server
//
// Features:
// - Live library index with TTL memoization
// - Sandboxed derived-artifact cache (converted PDFs + thumbnails)
// - Debounced filesystem watcher with SSE fan-out
// - On-demand office-to-PDF conversion (LibreOffice)
// - Page thumbnail rendering (Poppler)
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/deckview/deckview/internal/api"
	"github.com/deckview/deckview/internal/cache"
	"github.com/deckview/deckview/internal/config"
	"github.com/deckview/deckview/internal/convert"
	"github.com/deckview/deckview/internal/coordinator"
	"github.com/deckview/deckview/internal/events"
	"github.com/deckview/deckview/internal/library"
	"github.com/deckview/deckview/internal/logging"
	"github.com/deckview/deckview/internal/metrics"
	"github.com/deckview/deckview/internal/registry"
	"github.com/deckview/deckview/internal/render"
	"github.com/deckview/deckview/internal/watcher"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var (
		configPath string
		host       string
		port       int
		noWatch    bool
	)

	cmd := &cobra.Command{
		Use:     "deckview [content-dir]",
		Short:   "Document library server with live index and viewer cache",
		Args:    cobra.MaximumNArgs(1),
		Version: api.Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("configuration error: %w", err)
			}
			if len(args) > 0 {
				cfg.ContentDir = args[0]
			}
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if noWatch {
				cfg.WatchEnabled = false
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "listen host")
	cmd.Flags().IntVarP(&port, "port", "p", 8000, "listen port")
	cmd.Flags().BoolVar(&noWatch, "no-watch", false, "disable the filesystem watcher")

	return cmd
}

func run(cfg *config.Config) error {
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		return fmt.Errorf("logging init error: %w", err)
	}
	defer logging.Sync()

	logging.Info("Deckview Server starting...",
		zap.String("content_dir", cfg.ContentDir),
		zap.String("listen", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("create data directories: %w", err)
	}

	store, err := cache.New(cfg.ConvertedDir(), cfg.ThumbnailDir(), cfg.ScratchDir())
	if err != nil {
		return fmt.Errorf("cache store init: %w", err)
	}

	broadcaster := events.NewBroadcaster()

	var coord *coordinator.Coordinator
	index := library.NewIndex(library.Options{
		Root:       cfg.ContentDir,
		Extensions: cfg.ExtensionSet(),
		IgnoreDirs: cfg.IgnoreSet(),
		TTL:        cfg.ScanTTL,
		OnOrphans:  func(ids []string) { coord.HandleOrphans(ids) },
	})

	converter := convert.Select(cfg.LibreOfficePath, cfg.ConversionTimeout)
	renderer := render.Select(cfg.ThumbnailWidth, cfg.ThumbnailFormat)
	coord = coordinator.New(index, store, converter, renderer, broadcaster, cfg.ThumbnailFormat)

	// Initial scan plus a sweep of artifacts left behind by a previous run.
	coord.Sweep()
	logging.Info("library indexed", zap.Int("files", index.Stats().TotalFiles))

	var watch *watcher.Watcher
	if cfg.WatchEnabled {
		watch = watcher.New(watcher.Config{
			Root:       cfg.ContentDir,
			Extensions: cfg.ExtensionSet(),
			IgnoreDirs: cfg.IgnoreSet(),
			Debounce:   cfg.DebounceDelay,
			OnTick:     coord.NotifyTreeChanged,
		})
		if err := watch.Start(); err != nil {
			logging.Warn("file watcher unavailable; falling back to TTL scans",
				zap.Error(err))
		} else {
			defer watch.Stop()
		}
	}

	registrar := registry.Select(cfg.RegistryEnabled, registry.Config{
		BaseURL:           cfg.RegistryURL,
		ServiceID:         cfg.ServiceID,
		ServiceName:       cfg.ServiceName,
		AdvertiseURL:      fmt.Sprintf("http://%s:%d", cfg.Host, cfg.Port),
		HeartbeatInterval: time.Duration(cfg.HeartbeatSeconds) * time.Second,
	})
	registrar.Start(ctx)
	defer registrar.Stop()

	// Metrics server
	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:    cfg.MetricsAddr,
			Handler: metrics.Handler(),
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	srv := api.NewServer(coord, broadcaster, cfg.HeartbeatInterval)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: srv.Handler(),
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.Info("server listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
