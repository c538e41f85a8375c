package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ScrapeStatus tracks where a catalog entry is in the scrape lifecycle.
type ScrapeStatus int

const (
	StatusNotScraped ScrapeStatus = iota
	StatusInProgress
	StatusSuccess
	StatusError
	StatusNotFound
)

var statusNames = map[ScrapeStatus]string{
	StatusNotScraped: "NotScraped",
	StatusInProgress: "InProgress",
	StatusSuccess:    "Success",
	StatusError:      "Error",
	StatusNotFound:   "NotFound",
}

func (s ScrapeStatus) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ScrapeStatus(%d)", int(s))
}

// AllStatuses lists every status in lifecycle order.
func AllStatuses() []ScrapeStatus {
	return []ScrapeStatus{StatusNotScraped, StatusInProgress, StatusSuccess, StatusError, StatusNotFound}
}

// CatalogEntry is one tracked ROM.
type CatalogEntry struct {
	ID         string
	RemoteID   string
	PlatformID string
	Name       string
	FileName   string
	Remote     *RemoteGame
	Link       *LinkFacets
	Status     ScrapeStatus
	LastError  string
	Included   bool
	CreateTime int64
	UpdateTime int64
}

// Resolved reports whether the entry carries a remote record.
func (e *CatalogEntry) Resolved() bool {
	return e.Remote != nil && e.RemoteID != ""
}

// Label is the human readable identifier used in progress rows.
func (e *CatalogEntry) Label(platformName string) string {
	if platformName == "" {
		return e.Name
	}
	return fmt.Sprintf("%s (%s)", e.Name, platformName)
}

// LinkFacets holds everything extracted from a harvested directory-listing row.
type LinkFacets struct {
	URL           string    `json:"url"`
	Title         string    `json:"title"`
	Languages     []string  `json:"languages,omitempty"`
	Regions       []string  `json:"regions,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	IsAftermarket bool      `json:"is_aftermarket,omitempty"`
	IsBeta        bool      `json:"is_beta,omitempty"`
	IsDemo        bool      `json:"is_demo,omitempty"`
	IsKiosk       bool      `json:"is_kiosk,omitempty"`
	IsPrototype   bool      `json:"is_prototype,omitempty"`
	IsTestProgram bool      `json:"is_test_program,omitempty"`
	IsUnlicensed  bool      `json:"is_unlicensed,omitempty"`
	Edition       string    `json:"edition,omitempty"`
	BuildDate     time.Time `json:"build_date,omitempty"`
}

// HasFlags reports whether the link is marked as anything but a retail release.
func (f *LinkFacets) HasFlags() bool {
	return f.IsAftermarket || f.IsBeta || f.IsDemo || f.IsKiosk || f.IsPrototype || f.IsTestProgram || f.IsUnlicensed
}

// MarshalLink converts link facets into the text stored in the catalog.
func MarshalLink(f *LinkFacets) (string, error) {
	return marshalPayload(f)
}

// LinkFromRecord rebuilds link facets from the stored text.
func LinkFromRecord(raw string) (*LinkFacets, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var f LinkFacets
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, fmt.Errorf("decode link facets: %w", err)
	}
	return &f, nil
}

// MarshalRemote converts the remote record into the text stored in the catalog.
func MarshalRemote(g *RemoteGame) (string, error) {
	return marshalPayload(g)
}

// RemoteFromRecord rebuilds the remote record from the stored text.
func RemoteFromRecord(raw string) (*RemoteGame, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var g RemoteGame
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("decode remote record: %w", err)
	}
	return &g, nil
}

func marshalPayload(v interface{}) (string, error) {
	switch p := v.(type) {
	case *LinkFacets:
		if p == nil {
			return "", nil
		}
	case *RemoteGame:
		if p == nil {
			return "", nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
