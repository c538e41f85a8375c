package scrape

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/metrics"
	"github.com/xxxsen/retroscrape/internal/model"
	"github.com/xxxsen/retroscrape/internal/screenscraper"
	"github.com/xxxsen/retroscrape/internal/storage"
)

const (
	imagesDir = "images"
	videosDir = "videos"

	// speedWindow is the shortest span a speed sample is measured over.
	speedWindow = 250 * time.Millisecond
)

// RegionOrder is the order regional media variants are tried in.
var RegionOrder = []string{"wor", "us", "eu", "ss"}

// MediaKind describes one media asset attached to a game.
type MediaKind struct {
	Name     string
	Dir      string
	Ext      string
	Primary  string
	Fallback string
	Regional bool
}

var (
	KindTitle   = MediaKind{Name: "title", Dir: imagesDir, Ext: "png", Primary: "sstitle", Regional: true}
	KindMarquee = MediaKind{Name: "marquee", Dir: imagesDir, Ext: "png", Primary: "wheel", Fallback: "wheel-hd", Regional: true}
	KindThumb   = MediaKind{Name: "thumb", Dir: imagesDir, Ext: "png", Primary: "box-2D", Regional: true}
	KindVideo   = MediaKind{Name: "video", Dir: videosDir, Ext: "mp4", Primary: "video-normalized"}

	// MediaKinds is the fetch order within one entry.
	MediaKinds = []MediaKind{KindTitle, KindMarquee, KindThumb, KindVideo}
)

// RelPath is the gamelist path of the asset, e.g. "./images/Game-title.png".
func (k MediaKind) RelPath(fileName string) string {
	return "./" + k.Dir + "/" + k.fileName(fileName)
}

// Target is the asset location below the platform root.
func (k MediaKind) Target(root, fileName string) string {
	return filepath.Join(root, k.Dir, k.fileName(fileName))
}

func (k MediaKind) fileName(fileName string) string {
	return fmt.Sprintf("%s-%s.%s", fileName, k.Name, k.Ext)
}

// attempts lists the service media names to try, in order.
func (k MediaKind) attempts() []string {
	if !k.Regional {
		return []string{k.Primary}
	}
	var out []string
	for _, typ := range []string{k.Primary, k.Fallback} {
		if typ == "" {
			continue
		}
		for _, region := range RegionOrder {
			out = append(out, fmt.Sprintf("%s(%s)", typ, region))
		}
	}
	return out
}

// MediaSource downloads media of one game.
type MediaSource interface {
	DownloadMedia(ctx context.Context, systemID int, gameID, media string, w io.Writer, fn screenscraper.ProgressFunc) (int64, error)
	DownloadVideo(ctx context.Context, systemID int, gameID, media string, w io.Writer, fn screenscraper.ProgressFunc) (int64, error)
}

// ProgressFunc receives byte progress and the current speed in bytes per second.
type ProgressFunc func(received, total int64, speed float64)

// FetchResult is the outcome of one media kind.
type FetchResult int

const (
	FetchSkipped FetchResult = iota
	FetchDownloaded
	FetchMissed
)

func (r FetchResult) String() string {
	switch r {
	case FetchSkipped:
		return "skipped"
	case FetchDownloaded:
		return "downloaded"
	default:
		return "missed"
	}
}

// MediaFetcher downloads media next to the roms of a platform.
type MediaFetcher struct {
	source  MediaSource
	mirror  storage.Client
	metrics *metrics.ScrapeMetrics
	now     func() time.Time
}

type MediaOption func(f *MediaFetcher)

// WithMirror uploads every downloaded file to the object store.
func WithMirror(c storage.Client) MediaOption {
	return func(f *MediaFetcher) { f.mirror = c }
}

func WithMediaMetrics(m *metrics.ScrapeMetrics) MediaOption {
	return func(f *MediaFetcher) { f.metrics = m }
}

func NewMediaFetcher(source MediaSource, opts ...MediaOption) *MediaFetcher {
	f := &MediaFetcher{source: source, now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads one kind for a resolved entry. A file already on disk is
// never fetched again; a kind the service does not have is a miss, not an error.
func (f *MediaFetcher) Fetch(ctx context.Context, kind MediaKind, platform *model.Platform, entry *model.CatalogEntry, fn ProgressFunc) (FetchResult, error) {
	target := kind.Target(platform.Path, entry.FileName)
	if _, err := os.Stat(target); err == nil {
		f.metrics.MediaFetched(kind.Name, FetchSkipped.String(), 0)
		return FetchSkipped, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return FetchMissed, fmt.Errorf("ensure media dir: %w", err)
	}

	download := f.source.DownloadMedia
	if kind.Dir == videosDir {
		download = f.source.DownloadVideo
	}
	for _, media := range kind.attempts() {
		if err := ctx.Err(); err != nil {
			return FetchMissed, err
		}
		size, err := f.attempt(ctx, download, platform.RemoteID, entry.RemoteID, media, target, fn)
		if errors.Is(err, screenscraper.ErrNoMedia) || errors.Is(err, screenscraper.ErrNotFound) {
			continue
		}
		if err != nil {
			return FetchMissed, fmt.Errorf("fetch %s %s: %w", kind.Name, media, err)
		}
		f.metrics.MediaFetched(kind.Name, FetchDownloaded.String(), size)
		f.upload(ctx, platform, kind, target)
		return FetchDownloaded, nil
	}
	f.metrics.MediaFetched(kind.Name, FetchMissed.String(), 0)
	return FetchMissed, nil
}

type downloadFunc func(ctx context.Context, systemID int, gameID, media string, w io.Writer, fn screenscraper.ProgressFunc) (int64, error)

// attempt streams into a temp sibling and renames it over target on success.
func (f *MediaFetcher) attempt(ctx context.Context, download downloadFunc, systemID int, gameID, media, target string, fn ProgressFunc) (int64, error) {
	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp media file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	meter := newSpeedMeter(f.now)
	size, err := download(ctx, systemID, gameID, media, tmp, func(received, total int64) {
		if fn == nil {
			return
		}
		fn(received, total, meter.update(received))
	})
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close temp media file: %w", cerr)
	}
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, screenscraper.ErrNoMedia
	}
	if err := os.Rename(tmpName, target); err != nil {
		return 0, fmt.Errorf("move media into place: %w", err)
	}
	return size, nil
}

// speedMeter measures the rate of the bytes received since the previous
// sample. Samples closer together than speedWindow repeat the last rate.
type speedMeter struct {
	now      func() time.Time
	lastAt   time.Time
	lastSize int64
	speed    float64
}

func newSpeedMeter(now func() time.Time) *speedMeter {
	return &speedMeter{now: now, lastAt: now()}
}

func (m *speedMeter) update(received int64) float64 {
	at := m.now()
	elapsed := at.Sub(m.lastAt)
	if elapsed < speedWindow {
		return m.speed
	}
	m.speed = float64(received-m.lastSize) / elapsed.Seconds()
	m.lastAt, m.lastSize = at, received
	return m.speed
}

func (f *MediaFetcher) upload(ctx context.Context, platform *model.Platform, kind MediaKind, target string) {
	if f.mirror == nil {
		return
	}
	key := storage.MediaKey(platform.Name, kind.Dir, target)
	if ok, err := f.mirror.Exists(ctx, key); err == nil && ok {
		return
	}
	if err := f.mirror.UploadFile(ctx, key, target, ""); err != nil {
		logutil.GetLogger(ctx).Error("mirror media failed",
			zap.String("key", key),
			zap.Error(err),
		)
	}
}
