package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appdb "github.com/xxxsen/retroscrape/internal/db"
	"github.com/xxxsen/retroscrape/internal/harvest"
	"github.com/xxxsen/retroscrape/internal/model"
)

type HarvestCommand struct {
	platform   string
	listingURL string
}

func NewHarvestCommand() *HarvestCommand { return &HarvestCommand{} }

func (c *HarvestCommand) Name() string { return "harvest" }

func (c *HarvestCommand) Desc() string {
	return "抓取平台的目录列表页面，重建该平台的 ROM 清单"
}

func (c *HarvestCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.platform, "platform", "", "平台名称")
	f.StringVar(&c.listingURL, "url", "", "目录列表页面地址，填写后会保存到平台配置")
}

func (c *HarvestCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.platform) == "" {
		return errors.New("harvest requires --platform")
	}
	return nil
}

func (c *HarvestCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	platforms, err := selectPlatforms(ctx, c.platform)
	if err != nil {
		return err
	}
	p := platforms[0]
	if c.listingURL != "" && c.listingURL != p.ListingURL {
		p.ListingURL = c.listingURL
		if err := appdb.PlatformDao.Upsert(ctx, p); err != nil {
			return err
		}
	}
	if p.ListingURL == "" {
		return fmt.Errorf("platform %s has no listing url, pass --url", p.Name)
	}

	links, err := harvest.New().Harvest(ctx, p.ListingURL)
	if err != nil {
		return err
	}
	entries := make([]*model.CatalogEntry, 0, len(links))
	for _, l := range links {
		facets := l.Facets
		entries = append(entries, &model.CatalogEntry{
			ID:         uuid.NewString(),
			PlatformID: p.ID,
			Name:       l.Name,
			FileName:   l.FileName,
			Link:       &facets,
			Status:     model.StatusNotScraped,
		})
	}
	if err := appdb.CatalogEntryDao.ReplaceForPlatform(ctx, p.ID, entries); err != nil {
		return err
	}
	logger.Info("harvest completed",
		zap.String("platform", p.Name),
		zap.String("url", p.ListingURL),
		zap.Int("entries", len(entries)),
	)
	return nil
}

func (c *HarvestCommand) PostRun(ctx context.Context) error { return nil }

type SelectCommand struct {
	platform     string
	all          bool
	none         bool
	regions      string
	languages    string
	tags         string
	untagged     bool
	excludeFlags bool
	syncFolder   bool
	unique       bool
	dryRun       bool
}

func NewSelectCommand() *SelectCommand { return &SelectCommand{} }

func (c *SelectCommand) Name() string { return "select" }

func (c *SelectCommand) Desc() string {
	return "按地区、语言、标签等条件勾选需要刮削的 ROM"
}

func (c *SelectCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.platform, "platform", "", "平台名称")
	f.BoolVar(&c.all, "all", false, "勾选全部")
	f.BoolVar(&c.none, "none", false, "取消全部勾选")
	f.StringVar(&c.regions, "region", "", "地区过滤，逗号分隔，! 前缀表示排除，例如 USA,Europe,!Japan")
	f.StringVar(&c.languages, "language", "", "语言过滤，规则同 --region")
	f.StringVar(&c.tags, "tag", "", "标签过滤，规则同 --region")
	f.BoolVar(&c.untagged, "untagged", false, "只保留没有标签的 ROM")
	f.BoolVar(&c.excludeFlags, "exclude-flags", false, "排除 beta/demo/proto/unl 等非正式版本")
	f.BoolVar(&c.syncFolder, "sync-folder", false, "只勾选平台目录中已存在同名文件的 ROM")
	f.BoolVar(&c.unique, "unique", false, "同名 ROM 只保留一个，按地区、语言优先")
	f.BoolVar(&c.dryRun, "dryrun", false, "仅输出结果，不写入数据库")
}

func (c *SelectCommand) PreRun(ctx context.Context) error {
	if strings.TrimSpace(c.platform) == "" {
		return errors.New("select requires --platform")
	}
	if c.all && c.none {
		return errors.New("--all and --none are exclusive")
	}
	return nil
}

func (c *SelectCommand) filter() entryFilter {
	if c.all {
		return entryFilter{}
	}
	return entryFilter{
		regions:      parseFacetFilter(c.regions),
		languages:    parseFacetFilter(c.languages),
		tags:         parseFacetFilter(c.tags),
		untagged:     c.untagged,
		excludeFlags: c.excludeFlags,
	}
}

// choose returns the entries to include; onDisk is nil unless the folder is synced.
func (c *SelectCommand) choose(entries []*model.CatalogEntry, onDisk map[string]struct{}) []*model.CatalogEntry {
	if c.none {
		return nil
	}
	f := c.filter()
	selected := make([]*model.CatalogEntry, 0, len(entries))
	for _, e := range entries {
		if !f.match(e) {
			continue
		}
		if onDisk != nil {
			if _, ok := onDisk[e.FileName]; !ok {
				continue
			}
		}
		selected = append(selected, e)
	}
	if c.unique {
		selected = pickUnique(selected, f.regions.include, f.languages.include)
	}
	return selected
}

func (c *SelectCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	platforms, err := selectPlatforms(ctx, c.platform)
	if err != nil {
		return err
	}
	p := platforms[0]
	entries, err := appdb.CatalogEntryDao.ListByPlatform(ctx, p.ID, false)
	if err != nil {
		return err
	}

	var onDisk map[string]struct{}
	if c.syncFolder {
		onDisk, err = folderBaseNames(p.Path)
		if err != nil {
			return fmt.Errorf("scan platform folder %s: %w", p.Path, err)
		}
	}
	selected := c.choose(entries, onDisk)

	keep := make(map[string]struct{}, len(selected))
	for _, e := range selected {
		keep[e.ID] = struct{}{}
	}
	var dropped []*model.CatalogEntry
	for _, e := range entries {
		if _, ok := keep[e.ID]; !ok {
			dropped = append(dropped, e)
		}
	}

	logger.Info("selection computed",
		zap.String("platform", p.Name),
		zap.Int("selected", len(selected)),
		zap.Int("total", len(entries)),
		zap.Bool("dryrun", c.dryRun),
	)
	if c.dryRun {
		for _, e := range selected {
			logger.Info("selected", zap.String("name", e.Name), zap.String("file", e.FileName))
		}
		return nil
	}
	if err := appdb.CatalogEntryDao.SetIncluded(ctx, entryIDs(selected), true); err != nil {
		return err
	}
	return appdb.CatalogEntryDao.SetIncluded(ctx, entryIDs(dropped), false)
}

func (c *SelectCommand) PostRun(ctx context.Context) error { return nil }

type CreateStubsCommand struct {
	platform string
}

func NewCreateStubsCommand() *CreateStubsCommand { return &CreateStubsCommand{} }

func (c *CreateStubsCommand) Name() string { return "create-stubs" }

func (c *CreateStubsCommand) Desc() string {
	return "为已勾选的 ROM 生成占位文件（文件内容为下载地址），启动游戏时再下载"
}

func (c *CreateStubsCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.platform, "platform", "", "平台名称，为空时处理全部平台")
}

func (c *CreateStubsCommand) PreRun(ctx context.Context) error { return nil }

func (c *CreateStubsCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	platforms, err := selectPlatforms(ctx, c.platform)
	if err != nil {
		return err
	}
	for _, p := range platforms {
		entries, err := appdb.CatalogEntryDao.ListByPlatform(ctx, p.ID, true)
		if err != nil {
			return err
		}
		created, skipped, err := writeStubs(p, entries)
		if err != nil {
			return err
		}
		logger.Info("stubs written",
			zap.String("platform", p.Name),
			zap.Int("created", created),
			zap.Int("skipped", skipped),
		)
	}
	return nil
}

func (c *CreateStubsCommand) PostRun(ctx context.Context) error { return nil }

// writeStubs puts the download url of every entry into <file>.<ext> unless
// a file with the same base name is already present.
func writeStubs(p *model.Platform, entries []*model.CatalogEntry) (created, skipped int, err error) {
	ext, err := p.BoundExtension()
	if err != nil {
		return 0, 0, err
	}
	if err := os.MkdirAll(p.Path, 0o755); err != nil {
		return 0, 0, fmt.Errorf("create platform dir %s: %w", p.Path, err)
	}
	dirEntries, err := os.ReadDir(p.Path)
	if err != nil {
		return 0, 0, err
	}
	present := make(map[string]struct{}, len(dirEntries))
	for _, d := range dirEntries {
		if d.IsDir() {
			continue
		}
		present[strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))] = struct{}{}
	}
	for _, e := range entries {
		if e.Link == nil || e.Link.URL == "" {
			skipped++
			continue
		}
		if _, ok := present[e.FileName]; ok {
			skipped++
			continue
		}
		dest := filepath.Join(p.Path, e.FileName+"."+ext)
		if err := os.WriteFile(dest, []byte(e.Link.URL), 0o644); err != nil {
			return created, skipped, fmt.Errorf("write stub %s: %w", dest, err)
		}
		present[e.FileName] = struct{}{}
		created++
	}
	return created, skipped, nil
}

func init() {
	RegisterRunner("harvest", func() IRunner { return NewHarvestCommand() })
	RegisterRunner("select", func() IRunner { return NewSelectCommand() })
	RegisterRunner("create-stubs", func() IRunner { return NewCreateStubsCommand() })
}
