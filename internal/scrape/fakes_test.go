package scrape

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/xxxsen/retroscrape/internal/db"
	"github.com/xxxsen/retroscrape/internal/model"
	"github.com/xxxsen/retroscrape/internal/screenscraper"
)

type memoryStore struct {
	mu        sync.Mutex
	entries   map[string]*model.CatalogEntry
	platforms map[string]*model.Platform
	// number of times each entry was persisted as InProgress
	claims map[string]int
}

func newMemoryStore(platform *model.Platform, entries ...*model.CatalogEntry) *memoryStore {
	s := &memoryStore{
		entries:   make(map[string]*model.CatalogEntry),
		platforms: map[string]*model.Platform{platform.ID: platform},
		claims:    make(map[string]int),
	}
	for _, e := range entries {
		s.entries[e.ID] = e
	}
	return s
}

func (s *memoryStore) ResetUnfinished(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if e.Status != model.StatusSuccess {
			e.Status = model.StatusNotScraped
			e.LastError = ""
			n++
		}
	}
	return n, nil
}

func (s *memoryStore) ListPending(ctx context.Context) ([]*model.CatalogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.CatalogEntry
	for _, e := range s.entries {
		if e.Included && e.Status != model.StatusSuccess {
			c := *e
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *memoryStore) Session(ctx context.Context) (Session, error) {
	return &memorySession{store: s}, nil
}

func (s *memoryStore) entry(id string) model.CatalogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.entries[id]
}

type memorySession struct {
	store *memoryStore
}

func (m *memorySession) GetEntry(ctx context.Context, id string) (*model.CatalogEntry, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	e, ok := m.store.entries[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *e
	return &c, nil
}

func (m *memorySession) UpdateEntry(ctx context.Context, e *model.CatalogEntry) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	prev, ok := m.store.entries[e.ID]
	if !ok {
		return db.ErrNotFound
	}
	// a claim is the move into InProgress, later saves of the same claim do not count
	if e.Status == model.StatusInProgress && prev.Status != model.StatusInProgress {
		m.store.claims[e.ID]++
	}
	c := *e
	m.store.entries[e.ID] = &c
	return nil
}

func (m *memorySession) GetPlatform(ctx context.Context, id string) (*model.Platform, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	p, ok := m.store.platforms[id]
	if !ok {
		return nil, db.ErrNotFound
	}
	c := *p
	return &c, nil
}

func (m *memorySession) Close() error { return nil }

// fakeService stands in for the metadata service.
type fakeService struct {
	mu       sync.Mutex
	byRom    map[string]*model.RemoteGame
	searches map[string][]*model.RemoteGame
	media    map[string][]byte
	threads  int
	panicOn  string

	romCalls    []string
	searchCalls []string
	mediaCalls  []string
}

func newFakeService() *fakeService {
	return &fakeService{
		byRom:    make(map[string]*model.RemoteGame),
		searches: make(map[string][]*model.RemoteGame),
		media:    make(map[string][]byte),
	}
}

func (f *fakeService) GameByRom(ctx context.Context, systemID int, romName string) (*model.RemoteGame, error) {
	f.mu.Lock()
	f.romCalls = append(f.romCalls, romName)
	g, ok := f.byRom[romName]
	panicOn := f.panicOn
	f.mu.Unlock()
	if panicOn != "" && romName == panicOn {
		panic("malformed payload")
	}
	if !ok {
		return nil, screenscraper.ErrNotFound
	}
	return g, nil
}

func (f *fakeService) Search(ctx context.Context, systemID int, query string) ([]*model.RemoteGame, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchCalls = append(f.searchCalls, query)
	return f.searches[query], nil
}

func (f *fakeService) DownloadMedia(ctx context.Context, systemID int, gameID, media string, w io.Writer, fn screenscraper.ProgressFunc) (int64, error) {
	return f.download(gameID, media, w, fn)
}

func (f *fakeService) DownloadVideo(ctx context.Context, systemID int, gameID, media string, w io.Writer, fn screenscraper.ProgressFunc) (int64, error) {
	return f.download(gameID, media, w, fn)
}

func (f *fakeService) download(gameID, media string, w io.Writer, fn screenscraper.ProgressFunc) (int64, error) {
	f.mu.Lock()
	f.mediaCalls = append(f.mediaCalls, media)
	data, ok := f.media[media]
	f.mu.Unlock()
	if !ok {
		return 0, screenscraper.ErrNoMedia
	}
	n, err := w.Write(data)
	if fn != nil {
		fn(int64(n), int64(len(data)))
	}
	return int64(n), err
}

func (f *fakeService) UserInfo(ctx context.Context) (*screenscraper.UserInfo, error) {
	return &screenscraper.UserInfo{MaxThreads: f.threads}, nil
}

func (f *fakeService) mediaCallsWithPrefix(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.mediaCalls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func remoteGame(id string, names ...string) *model.RemoteGame {
	g := &model.RemoteGame{ID: id}
	for i, n := range names {
		region := "wor"
		if i == 0 {
			region = "ss"
		}
		g.Names = append(g.Names, model.RegionText{Region: region, Text: n})
	}
	return g
}

func catalogEntry(i int, platformID string) *model.CatalogEntry {
	return &model.CatalogEntry{
		ID:         fmt.Sprintf("entry-%d", i),
		PlatformID: platformID,
		Name:       fmt.Sprintf("Game %d", i),
		FileName:   fmt.Sprintf("Game %d (USA)", i),
		Included:   true,
	}
}
