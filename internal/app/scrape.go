package app

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/model"
	"github.com/xxxsen/retroscrape/internal/scrape"
	"github.com/xxxsen/retroscrape/internal/storage"
)

type ScrapeCommand struct {
	maxWorkers int
	interval   time.Duration
}

func NewScrapeCommand() *ScrapeCommand { return &ScrapeCommand{} }

func (c *ScrapeCommand) Name() string { return "scrape" }

func (c *ScrapeCommand) Desc() string {
	return "刮削所有已勾选的 ROM：匹配 ScreenScraper 元数据、下载媒体并写入 gamelist.xml"
}

func (c *ScrapeCommand) Init(f *pflag.FlagSet) {
	f.IntVar(&c.maxWorkers, "workers", 0, "最大并发数，0 表示使用账号允许的线程数")
	f.DurationVar(&c.interval, "progress-interval", 5*time.Second, "进度日志输出间隔")
}

func (c *ScrapeCommand) PreRun(ctx context.Context) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	if c.maxWorkers == 0 {
		c.maxWorkers = cfg.ScreenScraper.MaxThreads
	}
	return cfg.RequireScreenScraper()
}

func (c *ScrapeCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	d, err := currentDB()
	if err != nil {
		return err
	}
	client, err := newScreenScraperClient()
	if err != nil {
		return err
	}

	mediaOpts := []scrape.MediaOption{scrape.WithMediaMetrics(appMetrics)}
	if store := storage.DefaultClient(); store != nil {
		mediaOpts = append(mediaOpts, scrape.WithMirror(store))
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	orch := scrape.NewOrchestrator(
		scrape.NewDBStore(d),
		client,
		scrape.NewResolver(client),
		scrape.NewMediaFetcher(client, mediaOpts...),
		scrape.Options{
			MaxWorkers:      c.maxWorkers,
			PublishInterval: c.interval,
			Publisher:       scrape.PublisherFunc(logProgress(ctx)),
			Metrics:         appMetrics,
		},
	)
	summary, err := orch.Run(ctx)
	if err != nil {
		return err
	}
	logger.Info("scrape finished",
		zap.Int("queued", summary.Queued),
		zap.Int("workers", summary.Workers),
		zap.Int64("reset", summary.Reset),
		zap.Int("success", summary.Success),
		zap.Int("not_found", summary.NotFound),
		zap.Int("failed", summary.Failed),
		zap.Bool("stopped", summary.Stopped),
	)
	return nil
}

func (c *ScrapeCommand) PostRun(ctx context.Context) error { return nil }

// logProgress renders each published progress table as log lines.
func logProgress(ctx context.Context) func(rows []model.WorkerStatus) {
	logger := logutil.GetLogger(ctx)
	return func(rows []model.WorkerStatus) {
		for _, row := range rows {
			if row.WorkerID == model.TotalProgressID {
				logger.Info(row.Status, zap.Float64("progress", row.Progress))
				continue
			}
			if !row.Active {
				continue
			}
			logger.Info("worker progress",
				zap.Int("worker", row.WorkerID),
				zap.String("entry", row.CurrentEntry),
				zap.String("status", row.Status),
				zap.Float64("progress", row.Progress),
				zap.Int64("received", row.BytesReceived),
				zap.Int64("total", row.TotalBytes),
				zap.Float64("speed", row.Speed),
			)
		}
	}
}

func init() {
	RegisterRunner("scrape", func() IRunner { return NewScrapeCommand() })
}
