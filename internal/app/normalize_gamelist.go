package app

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appdb "github.com/xxxsen/retroscrape/internal/db"
	"github.com/xxxsen/retroscrape/internal/metadata"
	"github.com/xxxsen/retroscrape/internal/scrape"
)

type NormalizeGamelistCommand struct {
	dir     string
	replace bool
	dryRun  bool
}

func NewNormalizeGamelistCommand() *NormalizeGamelistCommand {
	return &NormalizeGamelistCommand{}
}

func (c *NormalizeGamelistCommand) Name() string { return "normalize-gamelist" }

func (c *NormalizeGamelistCommand) Desc() string {
	return "扫描并标准化 gamelist.xml 文件"
}

func (c *NormalizeGamelistCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.dir, "dir", "", "ROM 根目录，为空时处理全部平台目录")
	f.BoolVar(&c.replace, "replace", false, "是否直接覆盖 gamelist.xml，默认写入 gamelist.xml.fix")
	f.BoolVar(&c.dryRun, "dryrun", false, "仅模拟执行，不写入任何文件")
}

func (c *NormalizeGamelistCommand) PreRun(ctx context.Context) error {
	logutil.GetLogger(ctx).Info("starting normalize-gamelist",
		zap.String("dir", c.dir),
		zap.Bool("replace", c.replace),
		zap.Bool("dryrun", c.dryRun),
	)
	return nil
}

func (c *NormalizeGamelistCommand) roots(ctx context.Context) ([]string, error) {
	if strings.TrimSpace(c.dir) != "" {
		return []string{c.dir}, nil
	}
	platforms, err := appdb.PlatformDao.List(ctx)
	if err != nil {
		return nil, err
	}
	roots := make([]string, 0, len(platforms))
	for _, p := range platforms {
		roots = append(roots, p.Path)
	}
	return roots, nil
}

func (c *NormalizeGamelistCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	roots, err := c.roots(ctx)
	if err != nil {
		return err
	}
	processed := 0
	written := 0

	walk := func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !strings.EqualFold(d.Name(), metadata.DefaultGamelistFile) {
			return nil
		}

		doc, err := metadata.ParseGamelistFile(path)
		if err != nil {
			return err
		}

		dest := path
		if !c.replace {
			dest = path + ".fix"
		}

		processed++
		if c.dryRun {
			logger.Info("gamelist normalize (dryrun)", zap.String("src", filepath.ToSlash(path)), zap.String("dest", filepath.ToSlash(dest)))
			return nil
		}

		if err := metadata.WriteGamelistFile(dest, doc); err != nil {
			return err
		}
		written++
		logger.Info("gamelist normalized",
			zap.String("src", filepath.ToSlash(path)),
			zap.String("dest", filepath.ToSlash(dest)),
			zap.Bool("replace", c.replace),
		)
		return nil
	}
	for _, root := range roots {
		if err := filepath.WalkDir(root, walk); err != nil {
			return err
		}
	}

	logger.Info("normalize-gamelist completed",
		zap.Int("gamelist_found", processed),
		zap.Int("gamelist_written", written),
		zap.Bool("dry_run", c.dryRun),
	)
	return nil
}

func (c *NormalizeGamelistCommand) PostRun(ctx context.Context) error { return nil }

type GenerateGamelistCommand struct {
	platform string
}

func NewGenerateGamelistCommand() *GenerateGamelistCommand { return &GenerateGamelistCommand{} }

func (c *GenerateGamelistCommand) Name() string { return "generate-gamelist" }

func (c *GenerateGamelistCommand) Desc() string {
	return "根据数据库中已刮削的 ROM 重新生成 gamelist.xml"
}

func (c *GenerateGamelistCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.platform, "platform", "", "平台名称，为空时处理全部平台")
}

func (c *GenerateGamelistCommand) PreRun(ctx context.Context) error { return nil }

func (c *GenerateGamelistCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	platforms, err := selectPlatforms(ctx, c.platform)
	if err != nil {
		return err
	}
	failed := 0
	for _, p := range platforms {
		entries, err := appdb.CatalogEntryDao.ListByPlatform(ctx, p.ID, true)
		if err != nil {
			return err
		}
		n, err := scrape.RegenerateGamelist(entries, p, time.Now())
		if err != nil {
			failed++
			logger.Error("generate gamelist failed", zap.String("platform", p.Name), zap.Error(err))
			continue
		}
		logger.Info("gamelist generated",
			zap.String("platform", p.Name),
			zap.String("path", scrape.GamelistPath(p)),
			zap.Int("games", n),
		)
	}
	logger.Info("generate-gamelist completed", zap.Int("platforms", len(platforms)), zap.Int("failed", failed))
	return nil
}

func (c *GenerateGamelistCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("normalize-gamelist", func() IRunner { return NewNormalizeGamelistCommand() })
	RegisterRunner("generate-gamelist", func() IRunner { return NewGenerateGamelistCommand() })
}
