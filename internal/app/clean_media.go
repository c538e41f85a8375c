package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/metadata"
	"github.com/xxxsen/retroscrape/internal/model"
	"github.com/xxxsen/retroscrape/internal/scrape"
)

// CleanMediaCommand finds media files that no gamelist entry points at.
type CleanMediaCommand struct {
	platform string
	remove   bool
}

func NewCleanMediaCommand() *CleanMediaCommand { return &CleanMediaCommand{} }

func (c *CleanMediaCommand) Name() string { return "clean-media" }

func (c *CleanMediaCommand) Desc() string {
	return "扫描平台目录中 gamelist.xml 未引用的媒体文件，可选择删除"
}

func (c *CleanMediaCommand) Init(f *pflag.FlagSet) {
	f.StringVar(&c.platform, "platform", "", "平台名称，为空时处理全部平台")
	f.BoolVar(&c.remove, "delete", false, "删除未引用的媒体文件，默认只输出列表")
}

func (c *CleanMediaCommand) PreRun(ctx context.Context) error {
	logutil.GetLogger(ctx).Info("starting clean-media",
		zap.String("platform", c.platform),
		zap.Bool("delete", c.remove),
	)
	return nil
}

// unlinkedMedia is one orphan file below a platform root.
type unlinkedMedia struct {
	platform string
	rel      string
	full     string
}

func (c *CleanMediaCommand) Run(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	platforms, err := selectPlatforms(ctx, c.platform)
	if err != nil {
		return err
	}
	var found []unlinkedMedia
	for _, p := range platforms {
		files, err := collectUnlinkedMedia(p)
		if err != nil {
			return err
		}
		found = append(found, files...)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Platform", "File"})
	for _, m := range found {
		t.AppendRow(table.Row{m.platform, m.rel})
	}
	t.Render()

	removed := 0
	if c.remove {
		for _, m := range found {
			if err := os.Remove(m.full); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("remove media %s: %w", m.full, err)
			}
			removed++
		}
	}
	logger.Info("clean-media completed",
		zap.Int("platforms", len(platforms)),
		zap.Int("unlinked", len(found)),
		zap.Int("removed", removed),
	)
	return nil
}

func (c *CleanMediaCommand) PostRun(ctx context.Context) error { return nil }

// collectUnlinkedMedia lists the files in the platform media directories that
// the platform gamelist does not reference. A missing gamelist references nothing.
func collectUnlinkedMedia(p *model.Platform) ([]unlinkedMedia, error) {
	gamelist := scrape.GamelistPath(p)
	doc, err := metadata.ParseOrEmptyGamelistFile(gamelist)
	if err != nil {
		return nil, fmt.Errorf("parse gamelist %s: %w", gamelist, err)
	}

	referenced := make(map[string]struct{})
	mediaDirs := make(map[string]struct{})
	for _, kind := range scrape.MediaKinds {
		mediaDirs[filepath.Join(p.Path, kind.Dir)] = struct{}{}
	}
	for _, game := range doc.Games {
		for _, rel := range []string{
			game.Image, game.Thumbnail, game.Marquee, game.Video, game.Manual,
			game.FanArt, game.TitleShot, game.Cartridge, game.Map, game.BoxArt,
			game.Wheel, game.Mix, game.BoxBack, game.Magazine, game.Bezel,
		} {
			full := resolveResourcePath(p.Path, rel)
			if full == "" {
				continue
			}
			referenced[full] = struct{}{}
			if dir := filepath.Dir(full); dir != filepath.Clean(p.Path) {
				mediaDirs[dir] = struct{}{}
			}
		}
	}

	dirs := make([]string, 0, len(mediaDirs))
	for dir := range mediaDirs {
		dirs = append(dirs, dir)
	}
	sort.Strings(dirs)

	var out []unlinkedMedia
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", dir, err)
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			full := filepath.Join(dir, e.Name())
			if _, ok := referenced[full]; ok {
				continue
			}
			rel, err := filepath.Rel(p.Path, full)
			if err != nil {
				rel = full
			}
			out = append(out, unlinkedMedia{platform: p.Name, rel: "./" + filepath.ToSlash(rel), full: full})
		}
	}
	return out, nil
}

// resolveResourcePath turns a gamelist path such as "./images/x.png" into a
// cleaned path below baseDir.
func resolveResourcePath(baseDir, value string) string {
	val := strings.TrimSpace(value)
	if val == "" {
		return ""
	}
	if filepath.IsAbs(val) {
		return filepath.Clean(val)
	}
	val = strings.TrimPrefix(val, "./")
	val = strings.TrimPrefix(val, ".\\")
	return filepath.Join(baseDir, filepath.Clean(filepath.FromSlash(val)))
}

func init() {
	RegisterRunner("clean-media", func() IRunner { return NewCleanMediaCommand() })
}
