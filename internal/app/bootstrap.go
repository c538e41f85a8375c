package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/config"
	appdb "github.com/xxxsen/retroscrape/internal/db"
	"github.com/xxxsen/retroscrape/internal/metrics"
	"github.com/xxxsen/retroscrape/internal/screenscraper"
	"github.com/xxxsen/retroscrape/internal/storage"
)

var (
	appConfig  *config.Config
	appDB      *appdb.Database
	appMetrics *metrics.ScrapeMetrics
)

// Bootstrap wires the process wide dependencies described by cfg. The
// returned func releases them.
func Bootstrap(ctx context.Context, cfg *config.Config, withDatabase bool) (func(), error) {
	logger := logutil.GetLogger(ctx)
	appConfig = cfg
	cleanups := make([]func(), 0, 2)
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	if withDatabase {
		d, err := appdb.Open(cfg.DB)
		if err != nil {
			return nil, err
		}
		if err := appdb.EnsureSchema(ctx, d); err != nil {
			_ = d.Close()
			return nil, fmt.Errorf("ensure catalog schema: %w", err)
		}
		appdb.SetDefault(d)
		appDB = d
		cleanups = append(cleanups, func() {
			if err := d.Close(); err != nil {
				logger.Warn("close catalog failed", zap.Error(err))
			}
		})
		logger.Debug("catalog opened", zap.String("driver", cfg.DB.Driver))
	}

	if cfg.S3.Enabled() {
		store, err := storage.NewS3Client(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, fmt.Errorf("init object store: %w", err)
		}
		storage.SetDefaultClient(store)
		logger.Debug("object store enabled", zap.String("bucket", cfg.S3.Bucket))
	}

	appMetrics = metrics.New(nil)
	if cfg.Metrics.Listen != "" {
		mctx, cancel := context.WithCancel(ctx)
		cleanups = append(cleanups, cancel)
		go func() {
			if err := appMetrics.Serve(mctx, cfg.Metrics.Listen); err != nil {
				logger.Error("metrics endpoint stopped", zap.Error(err))
			}
		}()
	}
	return cleanup, nil
}

func currentConfig() (*config.Config, error) {
	if appConfig == nil {
		return nil, errors.New("config not initialised")
	}
	return appConfig, nil
}

func currentDB() (*appdb.Database, error) {
	if appDB == nil {
		return nil, errors.New("catalog not initialised")
	}
	return appDB, nil
}

func newScreenScraperClient() (*screenscraper.Client, error) {
	cfg, err := currentConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.RequireScreenScraper(); err != nil {
		return nil, err
	}
	return screenscraper.New(cfg.ScreenScraper)
}
