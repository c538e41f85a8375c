package scrape

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/retroscrape/internal/model"
)

func testPlatform(dir string) *model.Platform {
	return &model.Platform{ID: "p1", Name: "snes", Path: dir, Extension: ".SFC", RemoteID: 4}
}

func TestShortQuery(t *testing.T) {
	assert.Equal(t, "Super", ShortQuery("Super Mario World"))
	assert.Equal(t, "A B", ShortQuery("A B Game"))
	assert.Equal(t, "Go", ShortQuery("Go"))
	assert.Equal(t, "", ShortQuery(""))
}

func TestBestMatchPicksSmallestDistance(t *testing.T) {
	far := remoteGame("1", "Sonic Hedgehogxyz")
	near := remoteGame("2", "Sonic Hedgehogs")
	assert.Same(t, near, BestMatch("Sonic Hedgehog", []*model.RemoteGame{far, near}))
}

func TestBestMatchIdenticalNameWinsInAnyOrder(t *testing.T) {
	exact := remoteGame("1", "Zelda II", "Mega Quest")
	other := remoteGame("2", "Mega Quests")
	third := remoteGame("3", "Mega Quest 2")
	assert.Same(t, exact, BestMatch("Mega Quest", []*model.RemoteGame{other, third, exact}))
	assert.Same(t, exact, BestMatch("Mega Quest", []*model.RemoteGame{exact, other, third}))
}

func TestBestMatchFirstMinimumWins(t *testing.T) {
	a := remoteGame("1", "Gamf")
	b := remoteGame("2", "Gamg")
	assert.Same(t, a, BestMatch("Game", []*model.RemoteGame{a, b}))
	assert.Nil(t, BestMatch("Game", nil))
}

func TestResolverStrategiesInOrder(t *testing.T) {
	svc := newFakeService()
	entry := &model.CatalogEntry{Name: "Sonic Hedgehog", FileName: "Sonic Hedgehog (USA)"}
	platform := testPlatform(t.TempDir())

	svc.searches["Sonic"] = []*model.RemoteGame{
		remoteGame("far", "Sonic Hedgehogxyz"),
		remoteGame("near", "Sonic Hedgehogs"),
	}
	game, err := NewResolver(svc).Resolve(context.Background(), entry, platform)
	require.NoError(t, err)
	require.NotNil(t, game)
	assert.Equal(t, "near", game.ID)
	assert.Equal(t, []string{"Sonic Hedgehog (USA).sfc"}, svc.romCalls)
	assert.Equal(t, []string{"Sonic Hedgehog", "Sonic"}, svc.searchCalls)
}

func TestResolverExactLookupShortCircuits(t *testing.T) {
	svc := newFakeService()
	svc.byRom["Sonic (USA).sfc"] = remoteGame("1", "Sonic")
	entry := &model.CatalogEntry{Name: "Sonic", FileName: "Sonic (USA)"}

	game, err := NewResolver(svc).Resolve(context.Background(), entry, testPlatform(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "1", game.ID)
	assert.Empty(t, svc.searchCalls)
}

func TestResolverSearchTakesFirstResult(t *testing.T) {
	svc := newFakeService()
	svc.searches["Sonic"] = []*model.RemoteGame{remoteGame("a", "Sonic 3"), remoteGame("b", "Sonic")}
	entry := &model.CatalogEntry{Name: "Sonic", FileName: "Sonic (USA)"}

	game, err := NewResolver(svc).Resolve(context.Background(), entry, testPlatform(t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, "a", game.ID)
	assert.Len(t, svc.searchCalls, 1)
}

func TestResolverMiss(t *testing.T) {
	svc := newFakeService()
	entry := &model.CatalogEntry{Name: "Nothing Here", FileName: "Nothing Here"}
	game, err := NewResolver(svc).Resolve(context.Background(), entry, testPlatform(t.TempDir()))
	require.NoError(t, err)
	assert.Nil(t, game)
}

func TestResolverRejectsAmbiguousExtension(t *testing.T) {
	svc := newFakeService()
	platform := testPlatform(t.TempDir())
	platform.Extension = "sfc,smc"
	_, err := NewResolver(svc).Resolve(context.Background(), &model.CatalogEntry{Name: "x"}, platform)
	assert.ErrorIs(t, err, model.ErrAmbiguousExtension)
	assert.Empty(t, svc.romCalls)
}

func TestIsNotAGame(t *testing.T) {
	assert.True(t, IsNotAGame("ZZZ(notgame):Utility Cart"))
	assert.False(t, IsNotAGame("Zzz Quest"))
}
