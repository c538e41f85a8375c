package screenscraper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/config"
	"github.com/xxxsen/retroscrape/internal/model"
)

const (
	DefaultHost = "https://api.screenscraper.fr/api2"

	RomTypeRom = "rom"

	progressChunk = 32 * 1024
)

var (
	// ErrNotFound is returned when the service has no record for a query.
	ErrNotFound = errors.New("screenscraper: not found")
	// ErrNoMedia is returned when a media of the requested type and region does not exist.
	ErrNoMedia = errors.New("screenscraper: no media")
)

// ProgressFunc receives the bytes written so far and the announced total (0 when unknown).
type ProgressFunc func(received, total int64)

// Client handles ScreenScraper api2 calls.
type Client struct {
	host       string
	params     url.Values
	httpClient *http.Client
}

type Option func(c *Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a client from the screenscraper config section. Developer
// credentials are mandatory, user credentials are optional.
func New(cfg config.ScreenScraperConfig, opts ...Option) (*Client, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		host = DefaultHost
	}
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "https://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid screenscraper host: %w", err)
	}
	if strings.TrimSpace(cfg.DevID) == "" || strings.TrimSpace(cfg.DevPassword) == "" {
		return nil, fmt.Errorf("screenscraper dev_id and dev_password must be provided")
	}
	params := url.Values{}
	params.Set("devid", cfg.DevID)
	params.Set("devpassword", cfg.DevPassword)
	params.Set("softname", cfg.SoftName)
	params.Set("output", "json")
	if cfg.UserName != "" && cfg.UserPassword != "" {
		params.Set("ssid", cfg.UserName)
		params.Set("sspassword", cfg.UserPassword)
	}
	c := &Client{
		host:   strings.TrimSuffix(u.String(), "/"),
		params: params,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SanitizeURL masks the credentials carried in a request url.
func SanitizeURL(s string) string {
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	v := u.Query()
	for _, key := range []string{"devid", "devpassword", "softname", "ssid", "sspassword"} {
		if v.Has(key) {
			v.Set(key, "xxx")
		}
	}
	u.RawQuery = v.Encode()
	return u.String()
}

func (c *Client) endpoint(name string, extra url.Values) string {
	q := url.Values{}
	for k, v := range c.params {
		q[k] = v
	}
	for k, v := range extra {
		q[k] = v
	}
	return c.host + "/" + name + "?" + q.Encode()
}

func (c *Client) get(ctx context.Context, name string, extra url.Values) (*http.Response, error) {
	target := c.endpoint(name, extra)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, */*")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = SanitizeURL(uerr.URL)
			return nil, uerr
		}
		return nil, err
	}
	return resp, nil
}

// getJSON calls an info endpoint and decodes its envelope.
func (c *Client) getJSON(ctx context.Context, name string, extra url.Values) (*envelope, error) {
	resp, err := c.get(ctx, name, extra)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if resp.StatusCode == http.StatusNotFound || isNotFoundBody(body) {
		return nil, ErrNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s: status %d: %s", name, resp.StatusCode, truncate(body))
	}
	env := &envelope{}
	if err := json.Unmarshal(body, env); err != nil {
		return nil, fmt.Errorf("decode %s: %w: %s", name, err, truncate(body))
	}
	return env, nil
}

func isNotFoundBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	return bytes.HasPrefix(trimmed, []byte("Erreur")) || bytes.HasPrefix(trimmed, []byte("Problème"))
}

func truncate(body []byte) string {
	if len(body) > 4096 {
		body = body[:4096]
	}
	return strings.TrimSpace(string(body))
}

// UserInfo returns the profile of the configured account.
func (c *Client) UserInfo(ctx context.Context) (*UserInfo, error) {
	env, err := c.getJSON(ctx, "ssuserInfos.php", nil)
	if err != nil {
		return nil, fmt.Errorf("get user info: %w", err)
	}
	if env.Response.User == nil {
		return nil, fmt.Errorf("get user info: %w", ErrNotFound)
	}
	return env.Response.User.toModel(), nil
}

// Platforms lists every system known to the service.
func (c *Client) Platforms(ctx context.Context) ([]Platform, error) {
	env, err := c.getJSON(ctx, "systemesListe.php", nil)
	if err != nil {
		return nil, fmt.Errorf("list platforms: %w", err)
	}
	out := make([]Platform, 0, len(env.Response.Platforms))
	for i := range env.Response.Platforms {
		out = append(out, env.Response.Platforms[i].toModel())
	}
	return out, nil
}

// GameByRom looks a game up by the rom file name, extension included.
func (c *Client) GameByRom(ctx context.Context, systemID int, romName string) (*model.RemoteGame, error) {
	q := url.Values{}
	q.Set("systemeid", strconv.Itoa(systemID))
	q.Set("romtype", RomTypeRom)
	q.Set("romnom", romName)
	env, err := c.getJSON(ctx, "jeuInfos.php", q)
	if err != nil {
		return nil, err
	}
	if env.Response.Game == nil || env.Response.Game.ID.String() == "" {
		return nil, ErrNotFound
	}
	return env.Response.Game.toModel(), nil
}

// Search runs a free-text search scoped to a system. A miss is an empty result.
func (c *Client) Search(ctx context.Context, systemID int, query string) ([]*model.RemoteGame, error) {
	q := url.Values{}
	q.Set("systemeid", strconv.Itoa(systemID))
	q.Set("recherche", query)
	env, err := c.getJSON(ctx, "jeuRecherche.php", q)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]*model.RemoteGame, 0, len(env.Response.Games))
	for i := range env.Response.Games {
		// an empty search answers with a single empty object
		if env.Response.Games[i].ID.String() == "" {
			continue
		}
		out = append(out, env.Response.Games[i].toModel())
	}
	logutil.GetLogger(ctx).Debug("search finished",
		zap.Int("system", systemID),
		zap.String("query", query),
		zap.Int("results", len(out)),
	)
	return out, nil
}

// DownloadMedia streams one image, e.g. media "wheel(us)", into w.
func (c *Client) DownloadMedia(ctx context.Context, systemID int, gameID, media string, w io.Writer, fn ProgressFunc) (int64, error) {
	return c.download(ctx, "mediaJeu.php", systemID, gameID, media, w, fn)
}

// DownloadVideo streams a game video, e.g. media "video-normalized", into w.
func (c *Client) DownloadVideo(ctx context.Context, systemID int, gameID, media string, w io.Writer, fn ProgressFunc) (int64, error) {
	return c.download(ctx, "mediaVideoJeu.php", systemID, gameID, media, w, fn)
}

func (c *Client) download(ctx context.Context, name string, systemID int, gameID, media string, w io.Writer, fn ProgressFunc) (int64, error) {
	q := url.Values{}
	q.Set("systemeid", strconv.Itoa(systemID))
	q.Set("jeuid", gameID)
	q.Set("media", media)
	resp, err := c.get(ctx, name, q)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return 0, ErrNoMedia
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return 0, fmt.Errorf("download %s %s: status %d: %s", name, media, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	if !isMediaContent(resp.Header.Get("Content-Type")) {
		// NOMEDIA, CRCOK, MD5OK and error texts all land here
		return 0, ErrNoMedia
	}
	return copyWithProgress(ctx, w, resp.Body, resp.ContentLength, fn)
}

func isMediaContent(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "image/") ||
		strings.HasPrefix(ct, "video/") ||
		strings.HasPrefix(ct, "application/octet-stream")
}

// copyWithProgress copies in chunks; cancellation is honored between chunks.
func copyWithProgress(ctx context.Context, w io.Writer, r io.Reader, total int64, fn ProgressFunc) (int64, error) {
	if total < 0 {
		total = 0
	}
	buf := make([]byte, progressChunk)
	var received int64
	for {
		if err := ctx.Err(); err != nil {
			return received, err
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return received, fmt.Errorf("write media: %w", err)
			}
			received += int64(n)
			if fn != nil {
				fn(received, total)
			}
		}
		if errors.Is(rerr, io.EOF) {
			return received, nil
		}
		if rerr != nil {
			return received, fmt.Errorf("read media: %w", rerr)
		}
	}
}
