package screenscraper

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/retroscrape/internal/config"
)

const gameJSON = `{"response":{"jeu":{
	"id":"1234",
	"noms":[{"region":"wor","text":"Sonic"},{"region":"ss","text":"Sonic The Hedgehog"}],
	"synopsis":[{"langue":"fr","text":"Un herisson"},{"langue":"en","text":"A hedgehog"}],
	"editeur":{"id":"3","text":"Sega"},
	"developpeur":{"id":"4","text":"Sonic Team"},
	"joueurs":{"text":"1"},
	"note":{"text":"17"},
	"dates":[{"region":"jp","text":"1991-07-26"},{"region":"us","text":"1991-06-23"}],
	"genres":[{"id":"7","principale":"0","noms":[{"langue":"en","text":"Action"}]},{"id":"8","principale":"1","noms":[{"langue":"en","text":"Platform"}]}],
	"familles":[{"id":"9","noms":[{"langue":"en","text":"Sonic"}]}],
	"rom":{"romlangues":"en,fr","romregions":"us"}
}}}`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := New(config.ScreenScraperConfig{
		Host:         srv.URL,
		DevID:        "dev",
		DevPassword:  "devpass",
		SoftName:     "retroscrape",
		UserName:     "user",
		UserPassword: "pass",
	})
	require.NoError(t, err)
	return c
}

func TestNewRequiresDevCredentials(t *testing.T) {
	_, err := New(config.ScreenScraperConfig{})
	assert.Error(t, err)
}

func TestGameByRomMapsPayload(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jeuInfos.php", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "1", q.Get("systemeid"))
		assert.Equal(t, "rom", q.Get("romtype"))
		assert.Equal(t, "Sonic (USA).zip", q.Get("romnom"))
		assert.Equal(t, "json", q.Get("output"))
		assert.Equal(t, "user", q.Get("ssid"))
		_, _ = w.Write([]byte(gameJSON))
	})

	g, err := c.GameByRom(context.Background(), 1, "Sonic (USA).zip")
	require.NoError(t, err)
	assert.Equal(t, "1234", g.ID)
	assert.Equal(t, "Sonic The Hedgehog", g.PreferredName())
	assert.Equal(t, "A hedgehog", g.SynopsisFor("en"))
	assert.Equal(t, "1991-06-23", g.ReleaseDate())
	assert.Equal(t, "Platform", g.PrimaryGenre())
	assert.Equal(t, "Sonic", g.Family())
	assert.Equal(t, "Sega", g.Publisher)
	assert.Equal(t, "Sonic Team", g.Developer)
	assert.Equal(t, "17", g.Rating)
	assert.Equal(t, []string{"en", "fr"}, g.RomLanguages)
	assert.Equal(t, "us", g.RomRegion())
}

func TestGameByRomNotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("Erreur : Rom/Iso/Dossier non trouvée !"))
	})
	_, err := c.GameByRom(context.Background(), 1, "x.zip")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSearchSkipsEmptyResult(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/jeuRecherche.php", r.URL.Path)
		assert.Equal(t, "sonic", r.URL.Query().Get("recherche"))
		_, _ = w.Write([]byte(`{"response":{"jeux":[{}]}}`))
	})
	games, err := c.Search(context.Background(), 1, "sonic")
	require.NoError(t, err)
	assert.Empty(t, games)
}

func TestUserInfoThreads(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"ssuser":{"id":"user","maxthreads":"4","requeststoday":12,"maxrequestsperday":"20000"}}}`))
	})
	info, err := c.UserInfo(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 4, info.Threads())
	assert.Equal(t, 12, info.RequestsToday)
	assert.Equal(t, 20000, info.MaxRequestsPerDay)

	var none *UserInfo
	assert.Equal(t, 1, none.Threads())
	assert.Equal(t, 1, (&UserInfo{MaxThreads: -2}).Threads())
}

func TestPlatformsAliases(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":{"systemes":[{"id":4,"noms":{"nom_eu":"Super Nintendo","nom_us":"Super Nintendo","noms_commun":"SNES, Super Famicom","nom_recalbox":"snes"}}]}}`))
	})
	platforms, err := c.Platforms(context.Background())
	require.NoError(t, err)
	require.Len(t, platforms, 1)
	assert.Equal(t, 4, platforms[0].ID)
	assert.Equal(t, "Super Nintendo", platforms[0].DisplayName())
	assert.Contains(t, platforms[0].AllNames(), "SuperFamicom")
	assert.Contains(t, platforms[0].AllNames(), "snes")
}

func TestDownloadMediaStreamsWithProgress(t *testing.T) {
	payload := bytes.Repeat([]byte{0x89}, 100*1024)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/mediaJeu.php", r.URL.Path)
		assert.Equal(t, "wheel(us)", r.URL.Query().Get("media"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	})

	var buf bytes.Buffer
	var last int64
	n, err := c.DownloadMedia(context.Background(), 1, "1234", "wheel(us)", &buf, func(received, total int64) {
		assert.GreaterOrEqual(t, received, last)
		last = received
	})
	require.NoError(t, err)
	assert.EqualValues(t, len(payload), n)
	assert.EqualValues(t, len(payload), last)
	assert.Equal(t, payload, buf.Bytes())
}

func TestDownloadMediaMisses(t *testing.T) {
	for _, body := range []string{"NOMEDIA", "CRCOK", "MD5OK"} {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "text/plain")
			_, _ = w.Write([]byte(body))
		})
		_, err := c.DownloadVideo(context.Background(), 1, "1", "video-normalized", &bytes.Buffer{}, nil)
		assert.True(t, errors.Is(err, ErrNoMedia), body)
	}
}

func TestSanitizeURL(t *testing.T) {
	out := SanitizeURL("https://api.example/jeuInfos.php?devid=me&devpassword=secret&ssid=u&sspassword=p&romnom=a")
	assert.NotContains(t, out, "secret")
	assert.NotContains(t, out, "sspassword=p")
	assert.True(t, strings.Contains(out, "romnom=a"))
}
