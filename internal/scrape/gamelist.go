package scrape

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/mozillazg/go-pinyin"

	"github.com/xxxsen/retroscrape/internal/metadata"
	"github.com/xxxsen/retroscrape/internal/model"
)

const (
	recordSource = "ScreenScraper.fr"
	scrapName    = "ScreenScraper"
	scrapLayout  = "20060102T150405"
)

var pinyinArgs = pinyin.NewArgs()

// GamelistPath is the sidecar of a platform directory.
func GamelistPath(platform *model.Platform) string {
	return filepath.Join(platform.Path, metadata.DefaultGamelistFile)
}

// RomPath is the gamelist path of an entry, e.g. "./Game (USA).sfc".
func RomPath(entry *model.CatalogEntry, ext string) string {
	return fmt.Sprintf("./%s.%s", entry.FileName, ext)
}

// applyRecord fills rec from a resolved entry. Media paths are only set when
// the file exists.
func applyRecord(rec *metadata.GamelistRecord, entry *model.CatalogEntry, platform *model.Platform, ext string, now time.Time) {
	g := entry.Remote
	rec.ID = entry.RemoteID
	rec.Source = recordSource
	rec.Path = RomPath(entry, ext)
	rec.Name = entry.Name
	rec.SortName = SortName(entry.Name)
	rec.Description = g.SynopsisFor("en")
	rec.Image = existingMedia(KindTitle, platform, entry)
	rec.Marquee = existingMedia(KindMarquee, platform, entry)
	rec.Thumbnail = existingMedia(KindThumb, platform, entry)
	rec.Video = existingMedia(KindVideo, platform, entry)
	rec.Rating = FormatRating(g.Rating)
	rec.ReleaseDate = g.ReleaseDate()
	rec.Developer = g.Developer
	rec.Publisher = g.Publisher
	rec.Genre = g.PrimaryGenre()
	rec.Family = g.Family()
	rec.Players = g.Players
	rec.Lang = g.RomLanguage()
	rec.Region = g.RomRegion()
	rec.Scrap = &metadata.ScrapInfo{Name: scrapName, Date: now.Format(scrapLayout)}
}

func existingMedia(kind MediaKind, platform *model.Platform, entry *model.CatalogEntry) string {
	if _, err := os.Stat(kind.Target(platform.Path, entry.FileName)); err != nil {
		return ""
	}
	return kind.RelPath(entry.FileName)
}

// FormatRating turns the service's 0-20 note into the 0-1 scale frontends use.
func FormatRating(note string) string {
	note = strings.TrimSpace(note)
	if note == "" {
		return ""
	}
	v, err := strconv.ParseFloat(note, 64)
	if err != nil {
		return ""
	}
	return strconv.FormatFloat(float64(int64(v/20*100+0.5))/100, 'f', -1, 64)
}

// SortName romanizes Han characters so frontends sort such names with latin
// ones. Names without Han characters need no sort name.
func SortName(name string) string {
	hasHan := false
	for _, r := range name {
		if unicode.Is(unicode.Han, r) {
			hasHan = true
			break
		}
	}
	if !hasHan {
		return ""
	}
	var parts []string
	var latin strings.Builder
	flush := func() {
		if s := strings.TrimSpace(latin.String()); s != "" {
			parts = append(parts, s)
		}
		latin.Reset()
	}
	for _, r := range name {
		if !unicode.Is(unicode.Han, r) {
			latin.WriteRune(r)
			continue
		}
		flush()
		if py := pinyin.LazyPinyin(string(r), pinyinArgs); len(py) > 0 {
			parts = append(parts, py[0])
		}
	}
	flush()
	return strings.Join(parts, " ")
}

// MergeEntry upserts one resolved entry into the platform gamelist and
// rewrites the file. Callers serialize merges.
func MergeEntry(entry *model.CatalogEntry, platform *model.Platform, now time.Time) error {
	if !entry.Resolved() {
		return fmt.Errorf("entry %s has no remote record", entry.ID)
	}
	ext, err := platform.BoundExtension()
	if err != nil {
		return err
	}
	path := GamelistPath(platform)
	doc, err := metadata.ParseOrEmptyGamelistFile(path)
	if err != nil {
		return err
	}
	rec := doc.Upsert(entry.RemoteID, RomPath(entry, ext))
	applyRecord(rec, entry, platform, ext, now)
	return metadata.WriteGamelistFile(path, doc)
}

// Regenerate rebuilds the platform gamelist from scratch out of the
// resolved entries given. Unresolved entries are ignored.
func Regenerate(entries []*model.CatalogEntry, platform *model.Platform, now time.Time) (int, error) {
	ext, err := platform.BoundExtension()
	if err != nil {
		return 0, err
	}
	doc := &metadata.GamelistDocument{}
	for _, entry := range entries {
		if !entry.Resolved() {
			continue
		}
		rec := doc.Upsert(entry.RemoteID, RomPath(entry, ext))
		applyRecord(rec, entry, platform, ext, now)
	}
	if err := metadata.WriteGamelistFile(GamelistPath(platform), doc); err != nil {
		return 0, err
	}
	return len(doc.Games), nil
}
