package metadata

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	// DefaultGamelistFile is the sidecar name frontends look for in every rom directory.
	DefaultGamelistFile = "gamelist.xml"

	xmlDeclaration = `<?xml version="1.0" encoding="utf-8" standalone="no"?>` + "\n"
)

// GamelistDocument is the content of one gamelist.xml.
type GamelistDocument struct {
	XMLName  xml.Name         `xml:"gameList"`
	Provider *ProviderInfo    `xml:"provider,omitempty"`
	Folders  []GamelistFolder `xml:"folder,omitempty"`
	Games    []GamelistRecord `xml:"game"`
}

// ProviderInfo describes metadata about the gamelist file creator/source.
type ProviderInfo struct {
	System   string `xml:"System,omitempty"`
	Software string `xml:"software,omitempty"`
	Database string `xml:"database,omitempty"`
	Web      string `xml:"web,omitempty"`
}

// ScrapInfo stores the attributes on the <scrap> tag.
type ScrapInfo struct {
	Name string `xml:"name,attr"`
	Date string `xml:"date,attr"`
}

// GamelistRecord is one <game> element. The scraped fields are written even
// when empty so regenerated files diff cleanly. Fields the frontend maintains
// are only written when set, and elements or attributes this type does not
// declare are carried through Extra and ExtraAttrs untouched.
type GamelistRecord struct {
	ID          string `xml:"id,attr"`
	Source      string `xml:"source,attr"`
	Path        string `xml:"path"`
	Name        string `xml:"name"`
	SortName    string `xml:"sortname"`
	Description string `xml:"desc"`
	Image       string `xml:"image"`
	Video       string `xml:"video"`
	Marquee     string `xml:"marquee"`
	Thumbnail   string `xml:"thumbnail"`
	Manual      string `xml:"manual"`
	Rating      string `xml:"rating"`
	ReleaseDate string `xml:"releasedate"`
	Developer   string `xml:"developer"`
	Publisher   string `xml:"publisher"`
	Genre       string `xml:"genre"`
	Family      string `xml:"family"`
	Players     string `xml:"players"`
	MD5         string `xml:"md5"`
	CRC32       string `xml:"crc32"`
	Lang        string `xml:"lang"`
	Region      string `xml:"region"`

	Emulator         string `xml:"emulator,omitempty"`
	Core             string `xml:"core,omitempty"`
	FanArt           string `xml:"fanart,omitempty"`
	TitleShot        string `xml:"titleshot,omitempty"`
	Cartridge        string `xml:"cartridge,omitempty"`
	Map              string `xml:"map,omitempty"`
	BoxArt           string `xml:"boxart,omitempty"`
	Wheel            string `xml:"wheel,omitempty"`
	Mix              string `xml:"mix,omitempty"`
	BoxBack          string `xml:"boxback,omitempty"`
	Magazine         string `xml:"magazine,omitempty"`
	Bezel            string `xml:"bezel,omitempty"`
	CheevosHash      string `xml:"cheevosHash,omitempty"`
	CheevosID        string `xml:"cheevosId,omitempty"`
	ScraperID        string `xml:"scraperId,omitempty"`
	ArcadeSystemName string `xml:"arcadesystemname,omitempty"`
	GenreIDs         string `xml:"genreIds,omitempty"`
	Favorite         string `xml:"favorite,omitempty"`
	Hidden           string `xml:"hidden,omitempty"`
	KidGame          string `xml:"kidgame,omitempty"`
	PlayCount        string `xml:"playcount,omitempty"`
	LastPlayed       string `xml:"lastplayed,omitempty"`
	GameTime         string `xml:"gametime,omitempty"`

	Scrap      *ScrapInfo     `xml:"scrap,omitempty"`
	Extra      []ExtraElement `xml:",any"`
	ExtraAttrs []xml.Attr     `xml:",any,attr"`
}

// ExtraElement keeps an undeclared child element verbatim.
type ExtraElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   string     `xml:",innerxml"`
}

type GamelistFolder struct {
	Path        string `xml:"path"`
	Name        string `xml:"name"`
	Image       string `xml:"image"`
	Description string `xml:"desc"`
}

// ParseError reports where a gamelist stopped being well formed.
type ParseError struct {
	Path   string
	Line   int
	Column int
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("decode gamelist %s at line %d, column %d: %v", e.Path, e.Line, e.Column, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseGamelistFile reads a gamelist from disk.
func ParseGamelistFile(path string) (*GamelistDocument, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open gamelist %s: %w", path, err)
	}
	defer f.Close()
	return ParseGamelist(path, f)
}

// ParseGamelist decodes a gamelist; name is only used in errors.
func ParseGamelist(name string, r io.Reader) (*GamelistDocument, error) {
	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = passthroughCharset
	var doc GamelistDocument
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return &GamelistDocument{}, nil
		}
		line, col := decoder.InputPos()
		return nil, &ParseError{Path: name, Line: line, Column: col, Err: err}
	}
	for i := range doc.Games {
		trimRecord(&doc.Games[i])
	}
	return &doc, nil
}

// utf-8 declared in lower case or as a windows code page is read as is
func passthroughCharset(charset string, input io.Reader) (io.Reader, error) {
	switch strings.ToLower(charset) {
	case "utf-8", "utf8", "us-ascii", "windows-1252", "iso-8859-1":
		return input, nil
	}
	return nil, fmt.Errorf("unsupported gamelist charset %q", charset)
}

func trimRecord(g *GamelistRecord) {
	for _, field := range []*string{
		&g.ID, &g.Source, &g.Path, &g.Name, &g.SortName, &g.Description, &g.Image, &g.Video,
		&g.Marquee, &g.Thumbnail, &g.Manual, &g.Rating, &g.ReleaseDate, &g.Developer,
		&g.Publisher, &g.Genre, &g.Family, &g.Players, &g.MD5, &g.CRC32, &g.Lang, &g.Region,
		&g.Emulator, &g.Core, &g.FanArt, &g.TitleShot, &g.Cartridge, &g.Map, &g.BoxArt, &g.Wheel,
		&g.Mix, &g.BoxBack, &g.Magazine, &g.Bezel, &g.CheevosHash, &g.CheevosID, &g.ScraperID,
		&g.ArcadeSystemName, &g.GenreIDs, &g.Favorite, &g.Hidden, &g.KidGame, &g.PlayCount,
		&g.LastPlayed, &g.GameTime,
	} {
		*field = strings.TrimSpace(*field)
	}
	if g.Scrap != nil {
		g.Scrap.Name = strings.TrimSpace(g.Scrap.Name)
		g.Scrap.Date = strings.TrimSpace(g.Scrap.Date)
	}
}

// ParseOrEmptyGamelistFile behaves like ParseGamelistFile but treats a missing file as empty.
func ParseOrEmptyGamelistFile(path string) (*GamelistDocument, error) {
	doc, err := ParseGamelistFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return &GamelistDocument{}, nil
	}
	return doc, err
}

// Find returns the record matching the remote id or the relative path.
func (doc *GamelistDocument) Find(id, path string) *GamelistRecord {
	for i := range doc.Games {
		g := &doc.Games[i]
		if (id != "" && g.ID == id) || (path != "" && g.Path == path) {
			return g
		}
	}
	return nil
}

// Upsert returns the record keyed by id or path, appending a new one when
// neither matches. The pointer is valid until the next Upsert.
func (doc *GamelistDocument) Upsert(id, path string) *GamelistRecord {
	if g := doc.Find(id, path); g != nil {
		return g
	}
	doc.Games = append(doc.Games, GamelistRecord{ID: id, Path: path})
	return &doc.Games[len(doc.Games)-1]
}

// SortByPath orders records by relative path, keeping insertion order for equal paths.
func (doc *GamelistDocument) SortByPath() {
	sort.SliceStable(doc.Games, func(i, j int) bool {
		return doc.Games[i].Path < doc.Games[j].Path
	})
}

// WriteGamelistFile serialises the gamelist document to the provided file path.
// Records are sorted by path first.
func WriteGamelistFile(path string, doc *GamelistDocument) error {
	if doc == nil {
		return fmt.Errorf("gamelist document is nil")
	}
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("invalid gamelist output path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure gamelist dir %s: %w", path, err)
	}
	doc.SortByPath()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create gamelist %s: %w", path, err)
	}
	if err := encodeGamelist(f, doc); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close gamelist %s: %w", path, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace gamelist %s: %w", path, err)
	}
	return nil
}

func encodeGamelist(w io.Writer, doc *GamelistDocument) error {
	if _, err := io.WriteString(w, xmlDeclaration); err != nil {
		return fmt.Errorf("write xml header: %w", err)
	}
	out := *doc
	out.XMLName = xml.Name{Local: "gameList"}
	if out.Games == nil {
		out.Games = []GamelistRecord{}
	}
	encoder := xml.NewEncoder(w)
	encoder.Indent("", "\t")
	if err := encoder.Encode(out); err != nil {
		return fmt.Errorf("encode gamelist xml: %w", err)
	}
	if err := encoder.Flush(); err != nil {
		return fmt.Errorf("flush gamelist xml: %w", err)
	}
	if _, err := io.WriteString(w, "\n"); err != nil {
		return fmt.Errorf("terminate gamelist xml: %w", err)
	}
	return nil
}
