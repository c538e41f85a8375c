package fetcher

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bodgit/sevenzip"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

var (
	ErrExtensionMismatch = errors.New("extracted file extension does not match the destination")
	ErrUnsupportedFormat = errors.New("unsupported archive format")
)

const (
	formatNone = ""
	formatZip  = ".zip"
	format7z   = ".7z"
)

var (
	zipMagic      = []byte("PK\x03\x04")
	sevenZipMagic = []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C}
)

type archiveEntry struct {
	name string
	size int64
	open func() (io.ReadCloser, error)
}

// detectFormat sniffs the archive type from the leading bytes.
func detectFormat(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, len(sevenZipMagic))
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return "", err
	}
	head = head[:n]
	switch {
	case bytes.HasPrefix(head, zipMagic):
		return formatZip, nil
	case bytes.HasPrefix(head, sevenZipMagic):
		return format7z, nil
	}
	return formatNone, nil
}

// openArchive lists the regular files of a zip or 7z archive.
func openArchive(path, format string) ([]archiveEntry, io.Closer, error) {
	switch format {
	case formatZip:
		zr, err := zip.OpenReader(path)
		if err != nil {
			return nil, nil, err
		}
		files := make([]archiveEntry, 0, len(zr.File))
		for _, f := range zr.File {
			if !f.Mode().IsRegular() {
				continue
			}
			files = append(files, archiveEntry{name: f.Name, size: int64(f.UncompressedSize64), open: f.Open})
		}
		return files, zr, nil
	case format7z:
		sr, err := sevenzip.OpenReader(path)
		if err != nil {
			return nil, nil, err
		}
		files := make([]archiveEntry, 0, len(sr.File))
		for _, f := range sr.File {
			if f.FileInfo().IsDir() {
				continue
			}
			files = append(files, archiveEntry{name: f.Name, size: int64(f.UncompressedSize), open: f.Open})
		}
		return files, sr, nil
	default:
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}
}

// Unpack extracts the single file held by the archive at src and moves it
// over dest. A download that is not a zip or 7z archive is refused with
// ErrUnsupportedFormat. The scratch directory is removed on every path; dest
// is only touched once the extracted file passed the extension check.
func Unpack(ctx context.Context, src, dest string, fn ProgressFunc) error {
	format, err := detectFormat(src)
	if err != nil {
		return fmt.Errorf("inspect download %s: %w", src, err)
	}
	if format == formatNone {
		return fmt.Errorf("%w: %s is neither zip nor 7z", ErrUnsupportedFormat, filepath.Base(src))
	}
	destExt := filepath.Ext(dest)
	// an archive that already is the rom format is used as is
	if strings.EqualFold(destExt, format) {
		return replaceFile(src, dest)
	}

	files, closer, err := openArchive(src, format)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", src, err)
	}
	defer closer.Close()
	if len(files) != 1 {
		return fmt.Errorf("archive %s holds %d files, want exactly one", filepath.Base(src), len(files))
	}
	entry := files[0]
	if ext := filepath.Ext(entry.name); !strings.EqualFold(ext, destExt) {
		return fmt.Errorf("%w: extracted %q, destination %q", ErrExtensionMismatch, ext, destExt)
	}

	scratch, err := os.MkdirTemp(filepath.Dir(dest), ".unpack-*")
	if err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	defer os.RemoveAll(scratch)

	out := filepath.Join(scratch, filepath.Base(entry.name))
	if err := extractEntry(ctx, entry, out, fn); err != nil {
		return err
	}
	logutil.GetLogger(ctx).Debug("archive extracted",
		zap.String("archive", src),
		zap.String("entry", entry.name),
		zap.Int64("size", entry.size),
	)
	return replaceFile(out, dest)
}

func extractEntry(ctx context.Context, entry archiveEntry, out string, fn ProgressFunc) error {
	rc, err := entry.open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.name, err)
	}
	defer rc.Close()
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	start := time.Now()
	var written int64
	buf := make([]byte, 256*1024)
	for {
		if err := ctx.Err(); err != nil {
			_ = f.Close()
			return err
		}
		n, rerr := rc.Read(buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				_ = f.Close()
				return fmt.Errorf("write %s: %w", out, werr)
			}
			written += int64(n)
			if fn != nil {
				fn(Event{
					Task:     TaskUnpack,
					Message:  "Extracting " + filepath.Base(entry.name),
					Received: written,
					Total:    entry.size,
					Speed:    rate(written, time.Since(start)),
				})
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			_ = f.Close()
			return fmt.Errorf("read archive entry %s: %w", entry.name, rerr)
		}
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close %s: %w", out, err)
	}
	return nil
}

func rate(n int64, took time.Duration) float64 {
	if took <= 0 {
		return 0
	}
	return float64(n) / took.Seconds()
}

// replaceFile moves src over dest, removing dest first for platforms where
// rename does not overwrite.
func replaceFile(src, dest string) error {
	if err := os.Rename(src, dest); err == nil {
		return nil
	}
	if err := os.Remove(dest); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", dest, err)
	}
	if err := os.Rename(src, dest); err != nil {
		return fmt.Errorf("move %s to %s: %w", src, dest, err)
	}
	return nil
}
