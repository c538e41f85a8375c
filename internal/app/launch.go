package app

import (
	"context"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/fetcher"
	"github.com/xxxsen/retroscrape/internal/storage"
)

// LaunchCommand replaces the emulator launcher: it downloads the requested
// rom when it is still a stub, then hands over to the real launcher.
type LaunchCommand struct {
	args []string
}

func NewLaunchCommand() *LaunchCommand { return &LaunchCommand{} }

func (c *LaunchCommand) Name() string { return "launch" }

func (c *LaunchCommand) Desc() string {
	return "模拟器启动器代理：-rom 指向占位文件时先下载解压，再调用原启动器"
}

func (c *LaunchCommand) Init(f *pflag.FlagSet) {}

func (c *LaunchCommand) SetArgs(args []string) { c.args = args }

func (c *LaunchCommand) Standalone() bool { return true }

func (c *LaunchCommand) PreRun(ctx context.Context) error { return nil }

func (c *LaunchCommand) Run(ctx context.Context) error {
	cfg, err := currentConfig()
	if err != nil {
		return err
	}
	opts := []fetcher.Option{fetcher.WithMetrics(appMetrics)}
	if store := storage.DefaultClient(); store != nil {
		opts = append(opts, fetcher.WithStorage(store))
	}
	pipeline := fetcher.NewPipeline(fetcher.NewAria2(cfg.Aria2.Binary, cfg.Aria2.Connections), opts...)
	launcher := fetcher.NewLauncher(cfg.Launcher.Command, pipeline, logDownload(ctx))

	if code := launcher.Launch(ctx, c.args); code != fetcher.ExitOK {
		return &ExitCodeError{Code: code}
	}
	return nil
}

func (c *LaunchCommand) PostRun(ctx context.Context) error { return nil }

// logDownload logs every new status message and each tenth of progress.
func logDownload(ctx context.Context) fetcher.ProgressFunc {
	logger := logutil.GetLogger(ctx)
	lastStep := -1
	lastTask, lastMessage := "", ""
	return func(ev fetcher.Event) {
		if ev.Task != lastTask {
			lastTask, lastStep = ev.Task, -1
		}
		if ev.Message != "" && ev.Message != lastMessage {
			lastMessage = ev.Message
			logger.Info(ev.Message, zap.String("task", ev.Task))
		}
		if ev.Total <= 0 {
			return
		}
		step := int(ev.Percent() / 10)
		if step == lastStep {
			return
		}
		lastStep = step
		logger.Info("transfer progress",
			zap.String("task", ev.Task),
			zap.Int64("received", ev.Received),
			zap.Int64("total", ev.Total),
			zap.Float64("speed", ev.Speed),
			zap.String("eta", ev.ETA),
		)
	}
}

func init() {
	RegisterRunner("launch", func() IRunner { return NewLaunchCommand() })
}
