package cli

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/app"
	"github.com/xxxsen/retroscrape/internal/cli/common"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "retroscrape",
	Short:         "Harvest, scrape and lazily download ROM collections for RetroBat",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		var exitErr *app.ExitCodeError
		if !errors.As(err, &exitErr) {
			logutil.GetLogger(context.Background()).Error("exec cmd failed", zap.Error(err))
		}
		return err
	}
	return nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runRunner(cmd *cobra.Command, runner app.IRunner) error {
	ctx := commandContext(cmd)
	cfg, err := common.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger.Init(cfg.Log.File, cfg.Log.Level, 0, 0, 0, true)

	withDatabase := true
	if s, ok := runner.(app.IStandaloneRunner); ok && s.Standalone() {
		withDatabase = false
	}
	cleanup, err := app.Bootstrap(ctx, cfg, withDatabase)
	if err != nil {
		return err
	}
	defer cleanup()

	if err := runner.PreRun(ctx); err != nil {
		return err
	}
	if err := runner.Run(ctx); err != nil {
		return err
	}
	return runner.PostRun(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, common.ConfigFlag, "", "配置文件路径，默认依次查找 ./config.json、程序目录下的 config.json、/etc/retroscrape.json")

	for _, r := range app.RunnerList() {
		runner := app.MustResolveRunner(r)
		subcmd := &cobra.Command{
			Use:   runner.Name(),
			Short: runner.Desc(),
			RunE: func(cmd *cobra.Command, args []string) error {
				return runRunner(cmd, runner)
			},
		}
		if raw, ok := runner.(app.IRawArgsRunner); ok {
			// emulator launchers pass "-key value" pairs cobra cannot parse
			subcmd.DisableFlagParsing = true
			subcmd.RunE = func(cmd *cobra.Command, args []string) error {
				raw.SetArgs(args)
				return runRunner(cmd, runner)
			}
		}
		runner.Init(subcmd.Flags())
		rootCmd.AddCommand(subcmd)
	}
}
