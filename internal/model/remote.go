package model

import "strings"

// RegionText is a value tagged with a region code ("ss", "us", "eu", "wor", "jp"...).
type RegionText struct {
	Region string `json:"region"`
	Text   string `json:"text"`
}

// LangText is a value tagged with a language code ("en", "fr"...).
type LangText struct {
	Language string `json:"language"`
	Text     string `json:"text"`
}

// Genre is a remote genre with localized names.
type Genre struct {
	ID      string     `json:"id"`
	Primary bool       `json:"primary"`
	Names   []LangText `json:"names,omitempty"`
}

// Series is a remote game family with localized names.
type Series struct {
	ID    string     `json:"id"`
	Names []LangText `json:"names,omitempty"`
}

// RemoteGame is the canonical game description returned by the metadata service.
type RemoteGame struct {
	ID           string       `json:"id"`
	Names        []RegionText `json:"names,omitempty"`
	Synopsis     []LangText   `json:"synopsis,omitempty"`
	Rating       string       `json:"rating,omitempty"`
	ReleaseDates []RegionText `json:"release_dates,omitempty"`
	Developer    string       `json:"developer,omitempty"`
	Publisher    string       `json:"publisher,omitempty"`
	Genres       []Genre      `json:"genres,omitempty"`
	Series       []Series     `json:"series,omitempty"`
	Players      string       `json:"players,omitempty"`
	RomLanguages []string     `json:"rom_languages,omitempty"`
	RomRegions   []string     `json:"rom_regions,omitempty"`
}

// NameFor returns the first name tagged with region, or "".
func (g *RemoteGame) NameFor(region string) string {
	for _, n := range g.Names {
		if strings.EqualFold(n.Region, region) {
			return n.Text
		}
	}
	return ""
}

// PreferredName picks the canonical region name, then the US one, then the first.
func (g *RemoteGame) PreferredName() string {
	if name := g.NameFor("ss"); name != "" {
		return name
	}
	if name := g.NameFor("us"); name != "" {
		return name
	}
	if len(g.Names) > 0 {
		return g.Names[0].Text
	}
	return ""
}

// SynopsisFor returns the synopsis in the given language, or "".
func (g *RemoteGame) SynopsisFor(lang string) string {
	return pickLang(g.Synopsis, lang)
}

// ReleaseDate prefers the US release and falls back to the first listed.
func (g *RemoteGame) ReleaseDate() string {
	for _, d := range g.ReleaseDates {
		if strings.EqualFold(d.Region, "us") {
			return d.Text
		}
	}
	if len(g.ReleaseDates) > 0 {
		return g.ReleaseDates[0].Text
	}
	return ""
}

// PrimaryGenre returns the english name of the primary genre.
func (g *RemoteGame) PrimaryGenre() string {
	for _, genre := range g.Genres {
		if genre.Primary {
			return pickLang(genre.Names, "en")
		}
	}
	return ""
}

// Family returns the english name of the first series.
func (g *RemoteGame) Family() string {
	if len(g.Series) == 0 {
		return ""
	}
	return pickLang(g.Series[0].Names, "en")
}

func pickLang(items []LangText, lang string) string {
	for _, item := range items {
		if strings.EqualFold(item.Language, lang) {
			return item.Text
		}
	}
	return ""
}

func firstOf(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[0]
}

// RomLanguage is the first language the rom is tagged with.
func (g *RemoteGame) RomLanguage() string { return firstOf(g.RomLanguages) }

// RomRegion is the first region the rom is tagged with.
func (g *RemoteGame) RomRegion() string { return firstOf(g.RomRegions) }
