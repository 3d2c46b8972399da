package main

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/novacore/novacore/internal/blobstore"
	"github.com/novacore/novacore/internal/config"
	"github.com/novacore/novacore/internal/pkgcache"
)

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect and manage the package cache",
	}
	cmd.AddCommand(cacheStatsCmd(), cacheCleanupCmd(), cacheEvictCmd())
	return cmd
}

func newCacheFromConfig(ctx context.Context, cfg *config.Config) (*pkgcache.Cache, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.BlobStore.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
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
	return pkgcache.New(pkgcache.Config{
		CacheDir:           cfg.Cache.RootDir,
		HighWaterMarkBytes: cfg.Cache.HighWaterMarkBytes,
	}, fetcher), nil
}

func cacheStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print cache entry count, size, and hit/miss counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache, err := newCacheFromConfig(context.Background(), cfg)
			if err != nil {
				return err
			}
			stats := cache.Stats()
			fmt.Printf("entries:     %d\n", stats.EntryCount)
			fmt.Printf("total size:  %d bytes\n", stats.TotalSize)
			fmt.Printf("hits:        %d\n", stats.Hits)
			fmt.Printf("misses:      %d\n", stats.Misses)
			return nil
		},
	}
}

func cacheCleanupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Force an eviction pass against the configured high-water mark",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache, err := newCacheFromConfig(context.Background(), cfg)
			if err != nil {
				return err
			}
			evicted, freed, err := cache.Cleanup()
			if err != nil {
				return err
			}
			fmt.Printf("evicted %d entries, freed %d bytes\n", evicted, freed)
			return nil
		},
	}
}

func cacheEvictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "evict <function-id>",
		Short: "Evict a single function's cache entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cache, err := newCacheFromConfig(context.Background(), cfg)
			if err != nil {
				return err
			}
			if err := cache.Evict(args[0]); err != nil {
				return err
			}
			fmt.Printf("evicted %s\n", args[0])
			return nil
		},
	}
}
