package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/mofadvisor/internal/config"
	"github.com/xxxsen/mofadvisor/internal/handler"
	"github.com/xxxsen/mofadvisor/internal/job"
	"github.com/xxxsen/mofadvisor/internal/middleware"
	"github.com/xxxsen/mofadvisor/internal/schedule"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:          "mofadvisor",
		Short:        "MOF synthesis advisor",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.json")

	load := func() (*config.Config, error) {
		if configPath == "" {
			return nil, fmt.Errorf("--config is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.Init(
			cfg.LogConfig.File,
			cfg.LogConfig.Level,
			int(cfg.LogConfig.FileCount),
			int(cfg.LogConfig.FileSize),
			int(cfg.LogConfig.KeepDays),
			cfg.LogConfig.Console,
		)
		logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", configPath))
		return cfg, nil
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "run the http server and scheduled ingestion",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return runServer(cfg)
		},
	}

	var force bool
	ingestCmd := &cobra.Command{
		Use:   "ingest",
		Short: "ingest documents from the configured source once",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			report, err := a.ingest.IngestSource(ctx, force)
			if err != nil {
				return err
			}
			return printJSON(cmd, report)
		},
	}
	ingestCmd.Flags().BoolVar(&force, "force", false, "clear the index and re-process every document")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "list indexed documents and pending ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			status, err := a.ingest.Status(ctx)
			if err != nil {
				return err
			}
			docs, err := a.ingest.Documents(ctx)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]interface{}{"status": status, "documents": docs})
		},
	}

	var metalSite, linker string
	suggestCmd := &cobra.Command{
		Use:   "suggest",
		Short: "suggest a synthesis route for a metal site and organic linker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			result, err := a.suggest.Suggest(ctx, metalSite, linker)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	suggestCmd.Flags().StringVar(&metalSite, "metal", "", "metal site, e.g. Copper")
	suggestCmd.Flags().StringVar(&linker, "linker", "", "organic linker, e.g. BTC")

	rootCmd.AddCommand(runCmd, ingestCmd, inspectCmd, suggestCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("command failed", zap.Error(err))
	}
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runServer(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	scheduler := schedule.NewCronScheduler()
	if cfg.Ingest.Schedule != "" {
		if err := scheduler.AddJob(job.NewIngestJob(a.ingest), cfg.Ingest.Schedule); err != nil {
			return err
		}
	}
	if a.cacheRepo != nil {
		if err := scheduler.AddJob(job.NewEmbeddingCacheCleanupJob(a.cacheRepo, cfg.Cache.DBCacheMaxAgeDays), "0 4 * * *"); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	maxUpload := cfg.Ingest.MaxUploadMB * 1024 * 1024
	deps := handler.RouterDeps{
		Suggest: handler.NewSuggestHandler(a.suggest),
		Ingest:  handler.NewIngestHandler(a.ingest, maxUpload),
		Properties: handler.NewPropertiesHandler(handler.Properties{
			IndexType:       cfg.Index.Type,
			SourceType:      a.source.Type(),
			TopK:            cfg.Retrieval.TopK,
			Threshold:       cfg.Retrieval.Threshold,
			EmbeddingModel:  a.ai.EmbeddingModelName(),
			MaxUploadSizeMB: cfg.Ingest.MaxUploadMB,
		}),
		SuggestRateLimit: time.Duration(cfg.Server.SuggestRateLimitMs) * time.Millisecond,
	}

	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			middleware.CORS(cfg.Server.CORSAllowlist),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := engine.Run(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		logutil.GetLogger(context.Background()).Error("server error", zap.Error(err))
		return err
	}
	logutil.GetLogger(context.Background()).Info("server stopping...")
	return nil
}
