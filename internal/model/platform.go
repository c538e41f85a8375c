package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrAmbiguousExtension = errors.New("platform extension is ambiguous")

// Platform is a ROM directory bound to a remote platform id.
type Platform struct {
	ID         string
	Name       string
	Path       string
	Extension  string
	RemoteID   int
	ListingURL string
	Aliases    []string
	CreateTime int64
	UpdateTime int64
}

// BoundExtension returns the single accepted extension without a leading dot.
// A value that still lists several extensions is rejected.
func (p *Platform) BoundExtension() (string, error) {
	ext := strings.TrimPrefix(strings.TrimSpace(p.Extension), ".")
	if ext == "" {
		return "", fmt.Errorf("platform %s has no extension", p.Name)
	}
	if strings.ContainsAny(ext, ",;| \t") {
		return "", fmt.Errorf("platform %s extension %q: %w", p.Name, p.Extension, ErrAmbiguousExtension)
	}
	return strings.ToLower(ext), nil
}

// MarshalAliases converts aliases into the text stored in the catalog.
func (p *Platform) MarshalAliases() (string, error) {
	if len(p.Aliases) == 0 {
		return "", nil
	}
	data, err := json.Marshal(p.Aliases)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// AliasesFromRecord decodes the stored alias text.
func AliasesFromRecord(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var aliases []string
	if err := json.Unmarshal([]byte(raw), &aliases); err != nil {
		return nil, fmt.Errorf("decode platform aliases: %w", err)
	}
	return aliases, nil
}

// ExpandAliases splits every known name on "/" and ",", adds the variant without
// spaces and returns the sorted unique set.
func ExpandAliases(names ...string) []string {
	seen := make(map[string]struct{})
	for _, name := range names {
		for _, part := range strings.FieldsFunc(name, func(r rune) bool { return r == '/' || r == ',' }) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			seen[part] = struct{}{}
			seen[strings.ReplaceAll(part, " ", "")] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Setting is a key/value row.
type Setting struct {
	Key        string
	Value      string
	UpdateTime int64
}
