package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/metrics"
	"github.com/xxxsen/retroscrape/internal/storage"
)

// StubMaxSize is the size below which a rom file may be a download stub.
const StubMaxSize = 1024

var ErrNotStub = errors.New("file is not a download stub")

// Pipeline replaces download stubs with the rom they point to.
type Pipeline struct {
	downloader Downloader
	store      storage.Client
	metrics    *metrics.ScrapeMetrics
}

type Option func(*Pipeline)

// WithStorage enables s3:// stub sources.
func WithStorage(c storage.Client) Option {
	return func(p *Pipeline) { p.store = c }
}

func WithMetrics(m *metrics.ScrapeMetrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

func NewPipeline(d Downloader, opts ...Option) *Pipeline {
	p := &Pipeline{downloader: d}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ReadStub returns the source a stub points to, or ErrNotStub when path
// is a real rom.
func (p *Pipeline) ReadStub(path string) (string, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if !fi.Mode().IsRegular() || fi.Size() >= StubMaxSize {
		return "", ErrNotStub
	}
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	raw, err := io.ReadAll(io.LimitReader(f, StubMaxSize))
	if err != nil {
		return "", fmt.Errorf("read stub %s: %w", path, err)
	}
	src := strings.TrimSpace(string(raw))
	switch {
	case strings.HasPrefix(src, "http"):
		return src, nil
	case p.store != nil && strings.HasPrefix(src, storage.URIScheme):
		return src, nil
	}
	return "", ErrNotStub
}

// Resolve downloads the source of the stub at path and puts the unpacked
// rom in its place. A failed attempt leaves the stub untouched.
func (p *Pipeline) Resolve(ctx context.Context, path string, fn ProgressFunc) error {
	src, err := p.ReadStub(path)
	if err != nil {
		return err
	}
	logger := logutil.GetLogger(ctx).With(zap.String("rom", path), zap.String("source", src))
	logger.Info("stub found, start download")

	if err := p.resolve(ctx, src, path, fn); err != nil {
		p.metrics.StubResolved("failed")
		logger.Error("resolve stub failed", zap.Error(err))
		return err
	}
	p.metrics.StubResolved("success")
	logger.Info("stub replaced by rom")
	return nil
}

func (p *Pipeline) resolve(ctx context.Context, src, path string, fn ProgressFunc) error {
	part := path + ".part"
	defer func() {
		_ = os.Remove(part)
		_ = os.Remove(part + ".aria2")
	}()

	if strings.HasPrefix(src, storage.URIScheme) {
		_, key, err := storage.ParseURI(src)
		if err != nil {
			return err
		}
		message := "Downloading " + filepath.Base(key)
		if fn != nil {
			fn(Event{Task: TaskDownload, Message: message})
		}
		if err := p.store.DownloadToFile(ctx, key, part, objectProgress(message, fn)); err != nil {
			return fmt.Errorf("download %s: %w", src, err)
		}
	} else {
		if p.downloader == nil {
			return errors.New("no downloader configured")
		}
		if err := p.downloader.Download(ctx, src, filepath.Dir(part), filepath.Base(part), fn); err != nil {
			return err
		}
	}
	return Unpack(ctx, part, path, fn)
}

// objectProgress adapts object store byte counts to download events.
func objectProgress(message string, fn ProgressFunc) storage.ProgressFunc {
	if fn == nil {
		return nil
	}
	start := time.Now()
	return func(received, total int64) {
		ev := Event{Task: TaskDownload, Message: message, Received: received, Total: total}
		if elapsed := time.Since(start).Seconds(); elapsed > 0 {
			ev.Speed = float64(received) / elapsed
		}
		ev.ETA = formatETA(received, total, ev.Speed)
		fn(ev)
	}
}

// formatETA renders the remaining time the way aria2c prints it, e.g. "1m5s".
func formatETA(received, total int64, speed float64) string {
	if speed <= 0 || total <= received {
		return ""
	}
	secs := int64(float64(total-received) / speed)
	return fmt.Sprintf("%dm%ds", secs/60, secs%60)
}
