package app

import (
	"context"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/pflag"

	appdb "github.com/xxxsen/retroscrape/internal/db"
	"github.com/xxxsen/retroscrape/internal/model"
)

type StatusCommand struct {
	includedOnly bool
}

func NewStatusCommand() *StatusCommand { return &StatusCommand{} }

func (c *StatusCommand) Name() string { return "status" }

func (c *StatusCommand) Desc() string {
	return "按平台统计各刮削状态的 ROM 数量"
}

func (c *StatusCommand) Init(f *pflag.FlagSet) {
	f.BoolVar(&c.includedOnly, "included", false, "只统计已勾选的 ROM")
}

func (c *StatusCommand) PreRun(ctx context.Context) error { return nil }

// statusRow is one platform line of the status table.
type statusRow struct {
	platform string
	counts   map[model.ScrapeStatus]int64
	included int64
	total    int64
}

func buildStatusRows(platforms []*model.Platform, counts []appdb.StatusCount, includedOnly bool) []*statusRow {
	byID := make(map[string]*statusRow, len(platforms))
	rows := make([]*statusRow, 0, len(platforms))
	for _, p := range platforms {
		row := &statusRow{platform: p.Name, counts: make(map[model.ScrapeStatus]int64)}
		byID[p.ID] = row
		rows = append(rows, row)
	}
	for _, sc := range counts {
		row, ok := byID[sc.PlatformID]
		if !ok {
			continue
		}
		if sc.Included != 0 {
			row.included += sc.Count
		} else if includedOnly {
			continue
		}
		row.counts[model.ScrapeStatus(sc.Status)] += sc.Count
		row.total += sc.Count
	}
	return rows
}

func (c *StatusCommand) Run(ctx context.Context) error {
	platforms, err := appdb.PlatformDao.List(ctx)
	if err != nil {
		return err
	}
	counts, err := appdb.CatalogEntryDao.CountByStatus(ctx)
	if err != nil {
		return err
	}
	rows := buildStatusRows(platforms, counts, c.includedOnly)

	header := table.Row{"Platform", "Included", "Total"}
	for _, s := range model.AllStatuses() {
		header = append(header, s.String())
	}
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(header)
	for _, row := range rows {
		line := table.Row{row.platform, row.included, row.total}
		for _, s := range model.AllStatuses() {
			line = append(line, row.counts[s])
		}
		t.AppendRow(line)
	}
	t.Render()
	return nil
}

func (c *StatusCommand) PostRun(ctx context.Context) error { return nil }

func init() {
	RegisterRunner("status", func() IRunner { return NewStatusCommand() })
}
