package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/retroscrape/internal/config"
	"github.com/xxxsen/retroscrape/internal/model"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	d, err := Open(config.DBConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "catalog.db")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = d.Close() })
	require.NoError(t, EnsureSchema(context.Background(), d))
	return d
}

func TestPlatformUpsertAndList(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	dao := newPlatformDao(func() IDatabase { return d })

	p := &model.Platform{ID: "p1", Name: "snes", Path: "/roms/snes", Extension: "sfc", RemoteID: 4, Aliases: []string{"SNES"}}
	require.NoError(t, dao.Upsert(ctx, p))

	p.Extension = "smc"
	require.NoError(t, dao.Upsert(ctx, p))

	got, err := dao.GetByName(ctx, "snes")
	require.NoError(t, err)
	assert.Equal(t, "smc", got.Extension)
	assert.Equal(t, []string{"SNES"}, got.Aliases)

	_, err = dao.Get(ctx, "missing")
	assert.True(t, errors.Is(err, ErrNotFound))

	list, err := dao.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestResetUnfinishedKeepsOnlySuccess(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	dao := newCatalogEntryDao(func() IDatabase { return d })

	entries := []*model.CatalogEntry{
		{ID: "a", PlatformID: "p", Name: "A", FileName: "A", Status: model.StatusSuccess, Included: true, RemoteID: "1", Remote: &model.RemoteGame{ID: "1"}},
		{ID: "b", PlatformID: "p", Name: "B", FileName: "B", Status: model.StatusError, LastError: "boom", Included: true},
		{ID: "c", PlatformID: "p", Name: "C", FileName: "C", Status: model.StatusInProgress, Included: true},
		{ID: "d", PlatformID: "p", Name: "D", FileName: "D", Status: model.StatusNotFound, LastError: "x"},
	}
	require.NoError(t, dao.Insert(ctx, entries))

	n, err := dao.ResetUnfinished(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	list, err := dao.ListByPlatform(ctx, "p", false)
	require.NoError(t, err)
	require.Len(t, list, 4)
	for _, e := range list {
		if e.ID == "a" {
			assert.Equal(t, model.StatusSuccess, e.Status)
			require.NotNil(t, e.Remote)
			assert.Equal(t, "1", e.Remote.ID)
			continue
		}
		assert.Equal(t, model.StatusNotScraped, e.Status, e.ID)
		assert.Empty(t, e.LastError, e.ID)
	}

	pending, err := dao.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "B", pending[0].Name)
	assert.Equal(t, "C", pending[1].Name)
}

func TestReplaceForPlatformInSession(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)

	s, err := d.Session(ctx)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Entries.Insert(ctx, []*model.CatalogEntry{
		{ID: "old", PlatformID: "p", Name: "Old", FileName: "Old"},
		{ID: "other", PlatformID: "q", Name: "Other", FileName: "Other"},
	}))
	link := &model.LinkFacets{URL: "http://host/New.zip", Regions: []string{"USA"}}
	require.NoError(t, s.Entries.ReplaceForPlatform(ctx, "p", []*model.CatalogEntry{
		{ID: "new", PlatformID: "p", Name: "New", FileName: "New", Link: link},
	}))

	list, err := s.Entries.ListByPlatform(ctx, "p", false)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "new", list[0].ID)
	require.NotNil(t, list[0].Link)
	assert.Equal(t, []string{"USA"}, list[0].Link.Regions)

	other, err := s.Entries.Get(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, "Other", other.Name)

	require.NoError(t, s.Entries.SetIncluded(ctx, []string{"new"}, true))
	included, err := s.Entries.ListByPlatform(ctx, "p", true)
	require.NoError(t, err)
	assert.Len(t, included, 1)

	counts, err := s.Entries.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Len(t, counts, 2)
}

func TestUpdateMissingEntry(t *testing.T) {
	d := openTestDB(t)
	dao := newCatalogEntryDao(func() IDatabase { return d })
	err := dao.Update(context.Background(), &model.CatalogEntry{ID: "ghost"})
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSettings(t *testing.T) {
	ctx := context.Background()
	d := openTestDB(t)
	dao := newSettingDao(func() IDatabase { return d })

	_, err := dao.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, dao.Set(ctx, "k", "v1"))
	require.NoError(t, dao.Set(ctx, "k", "v2"))
	s, err := dao.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", s.Value)
}

func TestPostgresRebind(t *testing.T) {
	q := "SELECT `id` FROM t WHERE (`a`=? AND `b` IN (?,?)) AND c = '?'"
	assert.Equal(t, `SELECT "id" FROM t WHERE ("a"=$1 AND "b" IN ($2,$3)) AND c = '?'`, dialectPostgres.rebind(q))
	assert.Equal(t, q, dialectSQLite.rebind(q))
}
