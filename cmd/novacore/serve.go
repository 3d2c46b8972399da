package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"

	"github.com/novacore/novacore/internal/auth"
	"github.com/novacore/novacore/internal/blobstore"
	"github.com/novacore/novacore/internal/config"
	"github.com/novacore/novacore/internal/dispatch"
	"github.com/novacore/novacore/internal/gateway"
	"github.com/novacore/novacore/internal/logging"
	"github.com/novacore/novacore/internal/logsink"
	"github.com/novacore/novacore/internal/metrics"
	"github.com/novacore/novacore/internal/observability"
	"github.com/novacore/novacore/internal/pkgcache"
	"github.com/novacore/novacore/internal/sandbox"
	"github.com/novacore/novacore/internal/scheduler"
	"github.com/novacore/novacore/internal/secrets"
	"github.com/novacore/novacore/internal/store"
)

func serveCmd() *cobra.Command {
	var httpAddr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server (invocation dispatcher, scheduler trigger, cache management)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cmd.Flags().Changed("http") {
				cfg.Daemon.HTTPAddr = httpAddr
			}

			return runServe(cfg)
		},
	}

	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address (overrides config/env)")
	return cmd
}

func runServe(cfg *config.Config) error {
	ctx := context.Background()

	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	logging.InitStructured(cfg.Observability.Logging.Format, cfg.Observability.Logging.Level)

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Observability.Tracing.Enabled,
		Exporter:    cfg.Observability.Tracing.Exporter,
		Endpoint:    cfg.Observability.Tracing.Endpoint,
		ServiceName: cfg.Observability.Tracing.ServiceName,
		SampleRate:  cfg.Observability.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Observability.Metrics.Enabled {
		metrics.InitPrometheus(cfg.Observability.Metrics.Namespace, cfg.Observability.Metrics.HistogramBuckets)
	}

	metaStore, err := store.NewPostgresStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	st := store.NewStore(metaStore)
	defer st.Close()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BlobStore.Region))
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.BlobStore.Endpoint != "" {
			o.BaseEndpoint = &cfg.BlobStore.Endpoint
			o.UsePathStyle = true
		}
	})
	fetcher := blobstore.NewS3Fetcher(s3Client, blobstore.Config{
		Bucket:      cfg.BlobStore.Bucket,
		MaxRetries:  cfg.BlobStore.MaxRetries,
		BaseBackoff: cfg.BlobStore.BaseBackoff,
		MaxBackoff:  cfg.BlobStore.MaxBackoff,
	})

	cache := pkgcache.New(pkgcache.Config{
		CacheDir:           cfg.Cache.RootDir,
		HighWaterMarkBytes: cfg.Cache.HighWaterMarkBytes,
	}, fetcher)

	host := sandbox.New(sandbox.Config{
		DefaultDeadline:    cfg.Sandbox.DefaultDeadline,
		ModuleLoadDeadline: cfg.Sandbox.ModuleLoadDeadline,
		MemoryCapBytes:     cfg.Sandbox.MemoryCapBytes,
	})

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	keyCache := auth.NewKeyCache(redisClient, 5*time.Minute)

	if err := setupSecrets(cfg, redisClient); err != nil {
		logging.Op().Warn("secrets management unavailable", "error", err)
	}

	sink := logsink.NewPostgresSink(st)

	d := dispatch.New(st, cache, host, sink, keyCache, dispatch.Config{
		DefaultDeadline: cfg.Sandbox.DefaultDeadline,
		Breaker:         cfg.Dispatch.Breaker,
		LogBatcher: dispatch.LogBatcherConfig{
			BatchSize:     cfg.Dispatch.LogBatchSize,
			BufferSize:    cfg.Dispatch.LogBufferSize,
			FlushInterval: cfg.Dispatch.LogFlushInterval,
			Timeout:       cfg.Dispatch.LogTimeout,
		},
	})

	sched := scheduler.NewWithConcurrency(st, d, cfg.Dispatch.MaxConcurrentInvocations)

	gw := gateway.New(d, sched, cache, st)
	handler := observability.HTTPMiddleware(gw.Routes())

	srv := &http.Server{
		Addr:    cfg.Daemon.HTTPAddr,
		Handler: handler,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logging.Op().Info("novacore listening", "addr", cfg.Daemon.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Op().Error("http server error", "error", err)
		}
	}()

	<-sigCh
	logging.Op().Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// setupSecrets wires the env-var secret resolver (an ambient concern) when a
// master key is configured. The resolver is built so function env vars
// containing a $SECRET:name reference can be resolved before reaching the
// sandbox; wiring the resolved values into the guest's process.env is
// tracked as an open scope decision in DESIGN.md.
func setupSecrets(cfg *config.Config, redisClient *redis.Client) error {
	if !cfg.Secrets.Enabled && cfg.Secrets.MasterKey == "" && cfg.Secrets.MasterKeyFile == "" {
		return nil
	}

	var cipher *secrets.Cipher
	var err error
	switch {
	case cfg.Secrets.MasterKey != "":
		cipher, err = secrets.NewCipher(cfg.Secrets.MasterKey)
	case cfg.Secrets.MasterKeyFile != "":
		cipher, err = secrets.NewCipherFromFile(cfg.Secrets.MasterKeyFile)
	default:
		return fmt.Errorf("secrets enabled but no master key configured")
	}
	if err != nil {
		return err
	}

	secretsStore := secrets.NewStore(redisClient, cipher)
	_ = secrets.NewResolver(secretsStore)
	logging.Op().Info("secrets management enabled")
	return nil
}
