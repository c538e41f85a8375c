package screenscraper

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/xxxsen/retroscrape/internal/model"
)

// flexString accepts both json strings and numbers; the service is not
// consistent about which one it sends.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*s = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(raw)
	return nil
}

func (s flexString) String() string { return strings.TrimSpace(string(s)) }

func (s flexString) Int() int {
	n, err := strconv.Atoi(s.String())
	if err != nil {
		return 0
	}
	return n
}

type regionText struct {
	Region string     `json:"region"`
	Text   flexString `json:"text"`
}

type langText struct {
	Language string     `json:"langue"`
	Text     flexString `json:"text"`
}

type idText struct {
	ID   flexString `json:"id"`
	Text flexString `json:"text"`
}

type classification struct {
	ID        flexString `json:"id"`
	Principal flexString `json:"principale"`
	Names     []langText `json:"noms"`
}

type romInfo struct {
	Languages flexString `json:"romlangues"`
	Regions   flexString `json:"romregions"`
}

type gamePayload struct {
	ID        flexString       `json:"id"`
	Names     []regionText     `json:"noms"`
	Synopsis  []langText       `json:"synopsis"`
	Publisher idText           `json:"editeur"`
	Developer idText           `json:"developpeur"`
	Players   idText           `json:"joueurs"`
	Rating    idText           `json:"note"`
	Dates     []regionText     `json:"dates"`
	Genres    []classification `json:"genres"`
	Families  []classification `json:"familles"`
	Rom       *romInfo         `json:"rom"`
}

// UserInfo is the account profile; it carries the request allowances.
type UserInfo struct {
	ID                 string
	Level              int
	MaxThreads         int
	MaxDownloadSpeed   int
	RequestsToday      int
	MaxRequestsPerDay  int
	MaxRequestsPerMin  int
	FailedRequestToday int
	FavoriteRegion     string
}

// Threads is the number of parallel requests the account may run, at least 1.
func (u *UserInfo) Threads() int {
	if u == nil || u.MaxThreads < 1 {
		return 1
	}
	return u.MaxThreads
}

type userPayload struct {
	ID                 flexString `json:"id"`
	Level              flexString `json:"niveau"`
	MaxThreads         flexString `json:"maxthreads"`
	MaxDownloadSpeed   flexString `json:"maxdownloadspeed"`
	RequestsToday      flexString `json:"requeststoday"`
	FailedRequestToday flexString `json:"requestskotoday"`
	MaxRequestsPerMin  flexString `json:"maxrequestspermin"`
	MaxRequestsPerDay  flexString `json:"maxrequestsperday"`
	FavoriteRegion     flexString `json:"favregion"`
}

// Platform is one system of the remote taxonomy with its names across frontends.
type Platform struct {
	ID    int           `json:"id"`
	Names PlatformNames `json:"names"`
}

type PlatformNames struct {
	EU        string `json:"eu,omitempty"`
	US        string `json:"us,omitempty"`
	JP        string `json:"jp,omitempty"`
	Common    string `json:"common,omitempty"`
	Recalbox  string `json:"recalbox,omitempty"`
	RetroPie  string `json:"retropie,omitempty"`
	LaunchBox string `json:"launchbox,omitempty"`
	HyperSpin string `json:"hyperspin,omitempty"`
}

// DisplayName is the european name, falling back to the common one.
func (p Platform) DisplayName() string {
	for _, name := range []string{p.Names.EU, p.Names.US, p.Names.Common} {
		if first := strings.TrimSpace(strings.Split(name, ",")[0]); first != "" {
			return first
		}
	}
	return strconv.Itoa(p.ID)
}

// AllNames lists every naming variant of the platform.
func (p Platform) AllNames() []string {
	n := p.Names
	return model.ExpandAliases(n.EU, n.Common, n.HyperSpin, n.JP, n.LaunchBox, n.Recalbox, n.RetroPie, n.US)
}

type platformPayload struct {
	ID    flexString `json:"id"`
	Names struct {
		EU        flexString `json:"nom_eu"`
		US        flexString `json:"nom_us"`
		JP        flexString `json:"nom_jp"`
		Common    flexString `json:"noms_commun"`
		Recalbox  flexString `json:"nom_recalbox"`
		RetroPie  flexString `json:"nom_retropie"`
		LaunchBox flexString `json:"nom_launchbox"`
		HyperSpin flexString `json:"nom_hyperspin"`
	} `json:"noms"`
}

type envelope struct {
	Response struct {
		Game      *gamePayload      `json:"jeu"`
		Games     []gamePayload     `json:"jeux"`
		User      *userPayload      `json:"ssuser"`
		Platforms []platformPayload `json:"systemes"`
	} `json:"response"`
}

func (p *userPayload) toModel() *UserInfo {
	return &UserInfo{
		ID:                 p.ID.String(),
		Level:              p.Level.Int(),
		MaxThreads:         p.MaxThreads.Int(),
		MaxDownloadSpeed:   p.MaxDownloadSpeed.Int(),
		RequestsToday:      p.RequestsToday.Int(),
		FailedRequestToday: p.FailedRequestToday.Int(),
		MaxRequestsPerMin:  p.MaxRequestsPerMin.Int(),
		MaxRequestsPerDay:  p.MaxRequestsPerDay.Int(),
		FavoriteRegion:     p.FavoriteRegion.String(),
	}
}

func (p *platformPayload) toModel() Platform {
	return Platform{
		ID: p.ID.Int(),
		Names: PlatformNames{
			EU:        p.Names.EU.String(),
			US:        p.Names.US.String(),
			JP:        p.Names.JP.String(),
			Common:    p.Names.Common.String(),
			Recalbox:  p.Names.Recalbox.String(),
			RetroPie:  p.Names.RetroPie.String(),
			LaunchBox: p.Names.LaunchBox.String(),
			HyperSpin: p.Names.HyperSpin.String(),
		},
	}
}

func (p *gamePayload) toModel() *model.RemoteGame {
	g := &model.RemoteGame{
		ID:        p.ID.String(),
		Rating:    p.Rating.Text.String(),
		Developer: p.Developer.Text.String(),
		Publisher: p.Publisher.Text.String(),
		Players:   p.Players.Text.String(),
	}
	for _, n := range p.Names {
		g.Names = append(g.Names, model.RegionText{Region: n.Region, Text: n.Text.String()})
	}
	for _, s := range p.Synopsis {
		g.Synopsis = append(g.Synopsis, model.LangText{Language: s.Language, Text: s.Text.String()})
	}
	for _, d := range p.Dates {
		g.ReleaseDates = append(g.ReleaseDates, model.RegionText{Region: d.Region, Text: d.Text.String()})
	}
	for _, genre := range p.Genres {
		g.Genres = append(g.Genres, model.Genre{
			ID:      genre.ID.String(),
			Primary: genre.Principal.String() == "1",
			Names:   langTexts(genre.Names),
		})
	}
	for _, family := range p.Families {
		g.Series = append(g.Series, model.Series{ID: family.ID.String(), Names: langTexts(family.Names)})
	}
	if p.Rom != nil {
		g.RomLanguages = splitList(p.Rom.Languages.String())
		g.RomRegions = splitList(p.Rom.Regions.String())
	}
	return g
}

func langTexts(items []langText) []model.LangText {
	out := make([]model.LangText, 0, len(items))
	for _, item := range items {
		out = append(out, model.LangText{Language: item.Language, Text: item.Text.String()})
	}
	return out
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
