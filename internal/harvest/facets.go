package harvest

import (
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/xxxsen/retroscrape/internal/model"
)

var (
	groupRegex            = regexp.MustCompile(`\(([^()]*)\)`)
	whitespaceCollapseRgx = regexp.MustCompile(` {2,}`)
	versionRegex          = regexp.MustCompile(`(?i)^v\d+(\.\d+)*[a-z]?$`)
	revisionRegex         = regexp.MustCompile(`(?i)^rev\s*(\d+(\.\d+)*|[a-z])$`)
	isoDateRegex          = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	fileExtRegex          = regexp.MustCompile(`\.[A-Za-z0-9]*[A-Za-z][A-Za-z0-9]*$`)
)

// Region code to the language it implies. An empty language implies nothing.
var regionLanguages = map[string]string{
	"USA":         "English",
	"Japan":       "Japanese",
	"Europe":      "English",
	"Germany":     "German",
	"Australia":   "English",
	"World":       "English",
	"France":      "French",
	"Italy":       "Italian",
	"Spain":       "Spanish",
	"Brazil":      "Portuguese",
	"Korea":       "Korean",
	"China":       "Chinese",
	"Netherlands": "Dutch",
	"Sweden":      "Swedish",
	"Russia":      "Russian",
	"Canada":      "English",
	"UK":          "English",
	"Asia":        "",
	"Unknown":     "",
}

var languageCodes = map[string]string{
	"en": "English",
	"fr": "French",
	"de": "German",
	"es": "Spanish",
	"it": "Italian",
	"ja": "Japanese",
	"nl": "Dutch",
	"sv": "Swedish",
	"pt": "Portuguese",
	"da": "Danish",
	"fi": "Finnish",
	"no": "Norwegian",
	"ko": "Korean",
	"zh": "Chinese",
	"ru": "Russian",
	"pl": "Polish",
}

type flagRule struct {
	keyword string
	set     func(f *model.LinkFacets)
}

var flagRules = []flagRule{
	{"aftermarket", func(f *model.LinkFacets) { f.IsAftermarket = true }},
	{"beta", func(f *model.LinkFacets) { f.IsBeta = true }},
	{"demo", func(f *model.LinkFacets) { f.IsDemo = true }},
	{"kiosk", func(f *model.LinkFacets) { f.IsKiosk = true }},
	{"proto", func(f *model.LinkFacets) { f.IsPrototype = true }},
	{"test program", func(f *model.LinkFacets) { f.IsTestProgram = true }},
	{"unl", func(f *model.LinkFacets) { f.IsUnlicensed = true }},
}

// StripExtension removes a trailing file extension. Numeric suffixes such as
// the ".1" of "v1.1" are kept.
func StripExtension(name string) string {
	loc := fileExtRegex.FindStringIndex(name)
	if loc == nil || loc[1]-loc[0] > 6 {
		return name
	}
	return name[:loc[0]]
}

// ParseName removes every parenthesized group from name, classifying its
// comma separated tokens into facets. The cleaned name is returned.
func ParseName(name string, facets *model.LinkFacets) string {
	for {
		loc := groupRegex.FindStringSubmatchIndex(name)
		if loc == nil {
			break
		}
		for _, token := range strings.Split(name[loc[2]:loc[3]], ",") {
			classifyToken(strings.TrimSpace(token), facets)
		}
		name = name[:loc[0]] + " " + name[loc[1]:]
	}
	name = strings.TrimSpace(whitespaceCollapseRgx.ReplaceAllString(name, " "))
	facets.Languages = sortedUnique(facets.Languages)
	facets.Regions = sortedUnique(facets.Regions)
	return name
}

func classifyToken(token string, f *model.LinkFacets) {
	if token == "" {
		return
	}
	if lang, ok := regionLanguages[token]; ok {
		f.Regions = append(f.Regions, token)
		if lang != "" {
			f.Languages = append(f.Languages, lang)
		}
		return
	}
	if lang, ok := languageCodes[strings.ToLower(token)]; ok {
		f.Languages = append(f.Languages, lang)
		return
	}
	lower := strings.ToLower(token)
	for _, rule := range flagRules {
		if strings.Contains(lower, rule.keyword) {
			rule.set(f)
			return
		}
	}
	if versionRegex.MatchString(token) || revisionRegex.MatchString(token) {
		f.Edition = token
		return
	}
	if isoDateRegex.MatchString(token) {
		if t, err := time.Parse("2006-01-02", token); err == nil {
			f.BuildDate = t
		}
		return
	}
	f.Tags = append(f.Tags, token)
}

func sortedUnique(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}
