package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appdb "github.com/xxxsen/retroscrape/internal/db"
	"github.com/xxxsen/retroscrape/internal/model"
	"github.com/xxxsen/retroscrape/internal/screenscraper"
)

const remotePlatformsSetting = "screenscraper.platforms"

// loadRemotePlatforms returns the remote platform list, served from the
// settings cache unless refresh is set or nothing is cached yet.
func loadRemotePlatforms(ctx context.Context, refresh bool) ([]screenscraper.Platform, error) {
	logger := logutil.GetLogger(ctx)
	if !refresh {
		setting, err := appdb.SettingDao.Get(ctx, remotePlatformsSetting)
		switch {
		case err == nil:
			var cached []screenscraper.Platform
			if err := json.Unmarshal([]byte(setting.Value), &cached); err == nil && len(cached) > 0 {
				return cached, nil
			}
			logger.Warn("cached platform list unreadable, refreshing")
		case !errors.Is(err, appdb.ErrNotFound):
			return nil, err
		}
	}

	client, err := newScreenScraperClient()
	if err != nil {
		return nil, err
	}
	platforms, err := client.Platforms(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch remote platforms: %w", err)
	}
	raw, err := json.Marshal(platforms)
	if err != nil {
		return nil, err
	}
	if err := appdb.SettingDao.Set(ctx, remotePlatformsSetting, string(raw)); err != nil {
		return nil, err
	}
	logger.Info("remote platform list refreshed", zap.Int("count", len(platforms)))
	return platforms, nil
}

// selectPlatforms returns the named platform or every platform when name is empty.
func selectPlatforms(ctx context.Context, name string) ([]*model.Platform, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return appdb.PlatformDao.List(ctx)
	}
	p, err := appdb.PlatformDao.GetByName(ctx, name)
	if errors.Is(err, appdb.ErrNotFound) {
		return nil, fmt.Errorf("platform %s not found, add it with platform-add", name)
	}
	if err != nil {
		return nil, err
	}
	return []*model.Platform{p}, nil
}

type PlatformAddCommand struct {
	name       string
	path       string
	extension  string
	remoteID   int
	listingURL string
}

func NewPlatformAddCommand() *PlatformAddCommand { return &PlatformAddCommand{} }

func (c *PlatformAddCommand) Name() string { return "platform-add" }

func (c *PlatformAddCommand) Desc() string {
	return "新增或更新平台（ROM 目录、扩展名、ScreenScraper 系统 ID、目录列表地址）"
}

func (c *PlatformAddCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.name, "name", "", "平台名称，例如 snes")
	f.StringVar(&c.path, "path", "", "ROM 目录，默认 <retrobat>/roms/<name>")
	f.StringVar(&c.extension, "ext", "", "ROM 扩展名，只能填写一个，例如 .sfc")
	f.IntVar(&c.remoteID, "remote-id", 0, "ScreenScraper 系统 ID")
	f.StringVar(&c.listingURL, "listing-url", "", "目录列表页面地址")
}

func (c *PlatformAddCommand) PreRun(ctx context.Context) error {
	c.name = strings.TrimSpace(c.name)
	if c.name == "" {
		return errors.New("platform-add requires --name")
	}
	if c.remoteID <= 0 {
		return errors.New("platform-add requires a positive --remote-id")
	}
	p := &model.Platform{Name: c.name, Extension: c.extension}
	if _, err := p.BoundExtension(); err != nil {
		return err
	}
	if strings.TrimSpace(c.path) == "" {
		cfg, err := currentConfig()
		if err != nil {
			return err
		}
		if cfg.RetroBat.Path == "" {
			return errors.New("platform-add requires --path when retrobat.path is not configured")
		}
		c.path = filepath.Join(cfg.RetroBat.Path, "roms", c.name)
	}
	return nil
}

func (c *PlatformAddCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)

	p, err := appdb.PlatformDao.GetByName(ctx, c.name)
	switch {
	case errors.Is(err, appdb.ErrNotFound):
		p = &model.Platform{ID: uuid.NewString(), Name: c.name}
	case err != nil:
		return err
	}
	p.Path = c.path
	p.Extension = c.extension
	p.RemoteID = c.remoteID
	if c.listingURL != "" {
		p.ListingURL = c.listingURL
	}

	remote, err := loadRemotePlatforms(ctx, false)
	if err != nil {
		logger.Warn("remote platform list unavailable, aliases left unchanged", zap.Error(err))
	} else {
		p.Aliases = nil
		for _, rp := range remote {
			if rp.ID == c.remoteID {
				p.Aliases = rp.AllNames()
				break
			}
		}
		if p.Aliases == nil {
			logger.Warn("remote id not in platform list", zap.Int("remote_id", c.remoteID))
		}
	}

	if err := os.MkdirAll(p.Path, 0o755); err != nil {
		return fmt.Errorf("create platform dir %s: %w", p.Path, err)
	}
	if err := appdb.PlatformDao.Upsert(ctx, p); err != nil {
		return err
	}
	logger.Info("platform saved",
		zap.String("id", p.ID),
		zap.String("name", p.Name),
		zap.String("path", p.Path),
		zap.String("ext", p.Extension),
		zap.Int("remote_id", p.RemoteID),
		zap.Strings("aliases", p.Aliases),
	)
	return nil
}

func (c *PlatformAddCommand) PostRun(ctx context.Context) error { return nil }

type PlatformListCommand struct {
	remote  bool
	refresh bool
	filter  string
}

func NewPlatformListCommand() *PlatformListCommand { return &PlatformListCommand{} }

func (c *PlatformListCommand) Name() string { return "platform-list" }

func (c *PlatformListCommand) Desc() string {
	return "列出本地平台，或 ScreenScraper 平台及其别名"
}

func (c *PlatformListCommand) Init(f *pflag.FlagSet) {
	f.BoolVar(&c.remote, "remote", false, "列出 ScreenScraper 平台")
	f.BoolVar(&c.refresh, "refresh", false, "重新拉取 ScreenScraper 平台列表并更新缓存")
	f.StringVar(&c.filter, "filter", "", "按名称或别名过滤")
}

func (c *PlatformListCommand) PreRun(ctx context.Context) error {
	if c.refresh {
		c.remote = true
	}
	return nil
}

func (c *PlatformListCommand) Run(ctx context.Context) error {
	if c.remote {
		return c.listRemote(ctx)
	}
	platforms, err := appdb.PlatformDao.List(ctx)
	if err != nil {
		return err
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Name", "Path", "Ext", "Remote ID", "Aliases", "Listing"})
	for _, p := range platforms {
		if !matchesFilter(c.filter, append([]string{p.Name}, p.Aliases...)) {
			continue
		}
		t.AppendRow(table.Row{p.Name, p.Path, p.Extension, p.RemoteID, strings.Join(p.Aliases, ", "), p.ListingURL})
	}
	t.Render()
	return nil
}

func (c *PlatformListCommand) listRemote(ctx context.Context) error {
	platforms, err := loadRemotePlatforms(ctx, c.refresh)
	if err != nil {
		return err
	}
	sort.Slice(platforms, func(i, j int) bool { return platforms[i].ID < platforms[j].ID })
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"ID", "Name", "Aliases"})
	for _, p := range platforms {
		names := p.AllNames()
		if !matchesFilter(c.filter, append(names, strconv.Itoa(p.ID))) {
			continue
		}
		t.AppendRow(table.Row{p.ID, p.DisplayName(), strings.Join(names, ", ")})
	}
	t.Render()
	return nil
}

func (c *PlatformListCommand) PostRun(ctx context.Context) error { return nil }

func matchesFilter(filter string, names []string) bool {
	filter = strings.ToLower(strings.TrimSpace(filter))
	if filter == "" {
		return true
	}
	for _, n := range names {
		if strings.Contains(strings.ToLower(n), filter) {
			return true
		}
	}
	return false
}

func init() {
	RegisterRunner("platform-add", func() IRunner { return NewPlatformAddCommand() })
	RegisterRunner("platform-list", func() IRunner { return NewPlatformListCommand() })
}
