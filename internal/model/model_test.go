package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPreferredNameOrder(t *testing.T) {
	g := &RemoteGame{Names: []RegionText{
		{Region: "jp", Text: "Japanese Name"},
		{Region: "us", Text: "US Name"},
		{Region: "ss", Text: "Canonical Name"},
	}}
	assert.Equal(t, "Canonical Name", g.PreferredName())

	g.Names = g.Names[:2]
	assert.Equal(t, "US Name", g.PreferredName())

	g.Names = g.Names[:1]
	assert.Equal(t, "Japanese Name", g.PreferredName())

	g.Names = nil
	assert.Equal(t, "", g.PreferredName())
}

func TestRemoteFieldPickers(t *testing.T) {
	g := &RemoteGame{
		Synopsis:     []LangText{{Language: "fr", Text: "bonjour"}, {Language: "en", Text: "hello"}},
		ReleaseDates: []RegionText{{Region: "jp", Text: "1990-01-01"}, {Region: "us", Text: "1991-02-02"}},
		Genres: []Genre{
			{ID: "1", Names: []LangText{{Language: "en", Text: "Puzzle"}}},
			{ID: "2", Primary: true, Names: []LangText{{Language: "fr", Text: "Plateforme"}, {Language: "en", Text: "Platform"}}},
		},
		Series: []Series{{ID: "9", Names: []LangText{{Language: "en", Text: "Mario"}}}},
	}
	assert.Equal(t, "hello", g.SynopsisFor("en"))
	assert.Equal(t, "1991-02-02", g.ReleaseDate())
	assert.Equal(t, "Platform", g.PrimaryGenre())
	assert.Equal(t, "Mario", g.Family())

	g.ReleaseDates = g.ReleaseDates[:1]
	assert.Equal(t, "1990-01-01", g.ReleaseDate())
}

func TestPayloadRecordBoundary(t *testing.T) {
	raw, err := MarshalRemote(nil)
	require.NoError(t, err)
	assert.Equal(t, "", raw)

	back, err := RemoteFromRecord("")
	require.NoError(t, err)
	assert.Nil(t, back)

	_, err = LinkFromRecord("{broken")
	assert.Error(t, err)

	link := &LinkFacets{URL: "http://host/a.zip", Regions: []string{"USA"}, IsBeta: true}
	raw, err = MarshalLink(link)
	require.NoError(t, err)
	decoded, err := LinkFromRecord(raw)
	require.NoError(t, err)
	assert.Equal(t, link.URL, decoded.URL)
	assert.True(t, decoded.HasFlags())
}

func TestBoundExtension(t *testing.T) {
	p := &Platform{Name: "snes", Extension: ".SFC"}
	ext, err := p.BoundExtension()
	require.NoError(t, err)
	assert.Equal(t, "sfc", ext)

	p.Extension = "sfc,smc"
	_, err = p.BoundExtension()
	assert.True(t, errors.Is(err, ErrAmbiguousExtension))

	p.Extension = ""
	_, err = p.BoundExtension()
	assert.Error(t, err)
}

func TestExpandAliases(t *testing.T) {
	aliases := ExpandAliases("Super Nintendo", "Super Famicom/SFC", "snes, Super Nintendo")
	assert.Equal(t, []string{"SFC", "Super Famicom", "Super Nintendo", "SuperFamicom", "SuperNintendo", "snes"}, aliases)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "InProgress", StatusInProgress.String())
	assert.Equal(t, "ScrapeStatus(42)", ScrapeStatus(42).String())
}
