package harvest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/model"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36"
	biosMarker       = "[bios]"
	maxPageSize      = 64 << 20
)

// Link is one downloadable file found in a directory listing.
type Link struct {
	// Name is the display name with every parenthesized group removed.
	Name string
	// FileName is the decoded file name without extension.
	FileName string
	Facets   model.LinkFacets
}

// Harvester turns directory-listing pages into links.
type Harvester struct {
	httpClient *http.Client
	userAgent  string
}

type Option func(h *Harvester)

func WithHTTPClient(c *http.Client) Option {
	return func(h *Harvester) { h.httpClient = c }
}

func WithUserAgent(ua string) Option {
	return func(h *Harvester) { h.userAgent = ua }
}

func New(opts ...Option) *Harvester {
	h := &Harvester{
		httpClient: &http.Client{Timeout: 2 * time.Minute},
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Harvest downloads the listing page and parses it.
func (h *Harvester) Harvest(ctx context.Context, listingURL string) ([]Link, error) {
	base, err := url.Parse(strings.TrimSpace(listingURL))
	if err != nil {
		return nil, fmt.Errorf("invalid listing url %q: %w", listingURL, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", h.userAgent)

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch listing: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("fetch listing: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	links, err := ParseListing(base, io.LimitReader(resp.Body, maxPageSize))
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("listing harvested",
		zap.String("url", base.String()),
		zap.Int("links", len(links)),
	)
	return links, nil
}

// ParseListing extracts every link cell (td.link > a) of a directory-listing
// page. Hrefs are resolved against base; directories and rows naming a BIOS
// are skipped.
func ParseListing(base *url.URL, page io.Reader) ([]Link, error) {
	doc, err := goquery.NewDocumentFromReader(page)
	if err != nil {
		return nil, fmt.Errorf("parse listing: %w", err)
	}
	var links []Link
	doc.Find("td.link > a").Each(func(_ int, a *goquery.Selection) {
		href, ok := a.Attr("href")
		if !ok || strings.HasSuffix(href, "/") {
			return
		}
		title, _ := a.Attr("title")

		name := a.Text()
		if decoded, err := url.PathUnescape(name); err == nil {
			name = decoded
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.Contains(strings.ToLower(name), biosMarker) {
			return
		}

		link := Link{
			FileName: StripExtension(name),
			Facets: model.LinkFacets{
				URL:   resolveHref(base, strings.TrimSpace(href)),
				Title: strings.TrimSpace(title),
			},
		}
		link.Name = ParseName(link.FileName, &link.Facets)
		links = append(links, link)
	})
	return links, nil
}

func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil || base == nil {
		return href
	}
	if ref.IsAbs() {
		return ref.String()
	}
	dir := *base
	if !strings.HasSuffix(dir.Path, "/") {
		dir.Path += "/"
		dir.RawPath = ""
	}
	return dir.ResolveReference(ref).String()
}
