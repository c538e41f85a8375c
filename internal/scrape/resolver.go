package scrape

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/retroscrape/internal/model"
	"github.com/xxxsen/retroscrape/internal/screenscraper"
)

const (
	notGameMarker   = "ZZZ(notgame)"
	notGameMessage  = "Not a game"
	shortQueryLimit = 3
)

// GameSource is the lookup surface of the metadata service.
type GameSource interface {
	GameByRom(ctx context.Context, systemID int, romName string) (*model.RemoteGame, error)
	Search(ctx context.Context, systemID int, query string) ([]*model.RemoteGame, error)
}

type lookup struct {
	systemID int
	romName  string
	name     string
}

// A strategy answers (nil, nil) on a miss.
type strategy struct {
	name    string
	attempt func(ctx context.Context, q lookup) (*model.RemoteGame, error)
}

// Resolver maps catalog entries to remote records.
type Resolver struct {
	source     GameSource
	strategies []strategy
}

func NewResolver(source GameSource) *Resolver {
	r := &Resolver{source: source}
	r.strategies = []strategy{
		{name: "rom", attempt: r.byRomName},
		{name: "search", attempt: r.bySearch},
		{name: "fuzzy", attempt: r.byShortQuery},
	}
	return r
}

// Resolve tries every strategy in order and returns the first hit, or nil
// when all of them miss.
func (r *Resolver) Resolve(ctx context.Context, entry *model.CatalogEntry, platform *model.Platform) (*model.RemoteGame, error) {
	if platform.RemoteID <= 0 {
		return nil, fmt.Errorf("platform %s has no remote system id", platform.Name)
	}
	ext, err := platform.BoundExtension()
	if err != nil {
		return nil, err
	}
	q := lookup{
		systemID: platform.RemoteID,
		romName:  entry.FileName + "." + ext,
		name:     entry.Name,
	}
	for _, s := range r.strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		game, err := s.attempt(ctx, q)
		if err != nil {
			return nil, fmt.Errorf("resolve by %s: %w", s.name, err)
		}
		if game != nil {
			logutil.GetLogger(ctx).Debug("entry resolved",
				zap.String("entry", entry.Name),
				zap.String("strategy", s.name),
				zap.String("remote_id", game.ID),
			)
			return game, nil
		}
	}
	return nil, nil
}

func (r *Resolver) byRomName(ctx context.Context, q lookup) (*model.RemoteGame, error) {
	game, err := r.source.GameByRom(ctx, q.systemID, q.romName)
	if errors.Is(err, screenscraper.ErrNotFound) {
		return nil, nil
	}
	return game, err
}

func (r *Resolver) bySearch(ctx context.Context, q lookup) (*model.RemoteGame, error) {
	results, err := r.search(ctx, q.systemID, q.name)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return results[0], nil
}

func (r *Resolver) byShortQuery(ctx context.Context, q lookup) (*model.RemoteGame, error) {
	short := ShortQuery(q.name)
	if short == "" {
		return nil, nil
	}
	results, err := r.search(ctx, q.systemID, short)
	if err != nil {
		return nil, err
	}
	return BestMatch(q.name, results), nil
}

func (r *Resolver) search(ctx context.Context, systemID int, query string) ([]*model.RemoteGame, error) {
	results, err := r.source.Search(ctx, systemID, query)
	if errors.Is(err, screenscraper.ErrNotFound) {
		return nil, nil
	}
	return results, err
}

// ShortQuery keeps the leading words of name until the query is longer than
// three characters.
func ShortQuery(name string) string {
	var b strings.Builder
	for _, word := range strings.Split(name, " ") {
		b.WriteString(" ")
		b.WriteString(word)
		if b.Len() > shortQueryLimit {
			break
		}
	}
	return strings.TrimSpace(b.String())
}

// BestMatch returns the candidate owning the name variant closest to name.
// The first minimum wins.
func BestMatch(name string, candidates []*model.RemoteGame) *model.RemoteGame {
	var best *model.RemoteGame
	bestScore := 0
	for _, c := range candidates {
		if c == nil {
			continue
		}
		for _, variant := range c.Names {
			d := levenshtein.ComputeDistance(name, variant.Text)
			if best == nil || d < bestScore {
				best = c
				bestScore = d
			}
		}
	}
	return best
}

// IsNotAGame reports whether the service flags the record as a non-game.
func IsNotAGame(name string) bool {
	return strings.Contains(name, notGameMarker)
}
