package app

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xxxsen/retroscrape/internal/model"
)

// facetFilter keeps or drops values of one facet. A value prefixed with "!"
// in the flag is an exclusion.
type facetFilter struct {
	include []string
	exclude []string
}

func parseFacetFilter(raw string) facetFilter {
	var f facetFilter
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if strings.HasPrefix(item, "!") {
			if v := strings.TrimSpace(item[1:]); v != "" {
				f.exclude = append(f.exclude, v)
			}
			continue
		}
		f.include = append(f.include, item)
	}
	return f
}

func (f facetFilter) match(values []string) bool {
	if len(f.include) > 0 && !containsAny(values, f.include) {
		return false
	}
	if len(f.exclude) > 0 && containsAny(values, f.exclude) {
		return false
	}
	return true
}

func containsAny(values, wanted []string) bool {
	for _, v := range values {
		for _, w := range wanted {
			if strings.EqualFold(v, w) {
				return true
			}
		}
	}
	return false
}

// entryFilter decides which catalog entries are part of a selection.
type entryFilter struct {
	regions      facetFilter
	languages    facetFilter
	tags         facetFilter
	untagged     bool
	excludeFlags bool
}

func (f entryFilter) match(e *model.CatalogEntry) bool {
	link := e.Link
	if link == nil {
		link = &model.LinkFacets{}
	}
	if !f.regions.match(link.Regions) || !f.languages.match(link.Languages) || !f.tags.match(link.Tags) {
		return false
	}
	if f.untagged && len(link.Tags) > 0 {
		return false
	}
	if f.excludeFlags && link.HasFlags() {
		return false
	}
	return true
}

// uniqueScore ranks duplicates of one title: region and language match is
// best, then language only, then region only.
func uniqueScore(e *model.CatalogEntry, regions, languages []string) int {
	if e.Link == nil {
		return 0
	}
	hasRegion := len(regions) > 0 && containsAny(e.Link.Regions, regions)
	hasLanguage := len(languages) > 0 && containsAny(e.Link.Languages, languages)
	switch {
	case hasRegion && hasLanguage:
		return 3
	case hasLanguage:
		return 2
	case hasRegion:
		return 1
	}
	return 0
}

// pickUnique keeps the best scored entry per display name. Ties go to the
// entry listed first.
func pickUnique(entries []*model.CatalogEntry, regions, languages []string) []*model.CatalogEntry {
	best := make(map[string]*model.CatalogEntry)
	order := make([]string, 0, len(entries))
	for _, e := range entries {
		key := strings.ToLower(e.Name)
		cur, ok := best[key]
		if !ok {
			best[key] = e
			order = append(order, key)
			continue
		}
		if uniqueScore(e, regions, languages) > uniqueScore(cur, regions, languages) {
			best[key] = e
		}
	}
	out := make([]*model.CatalogEntry, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// folderBaseNames lists the base names without extension of every file
// below dir.
func folderBaseNames(dir string) (map[string]struct{}, error) {
	names := make(map[string]struct{})
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		base := d.Name()
		names[strings.TrimSuffix(base, filepath.Ext(base))] = struct{}{}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

func entryIDs(entries []*model.CatalogEntry) []string {
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	sort.Strings(ids)
	return ids
}
