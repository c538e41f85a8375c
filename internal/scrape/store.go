package scrape

import (
	"context"

	"github.com/xxxsen/retroscrape/internal/db"
	"github.com/xxxsen/retroscrape/internal/model"
)

// Store is the catalog as seen by a scrape run.
type Store interface {
	ResetUnfinished(ctx context.Context) (int64, error)
	ListPending(ctx context.Context) ([]*model.CatalogEntry, error)
	// Session opens an independent unit of work; it is never shared
	// between workers.
	Session(ctx context.Context) (Session, error)
}

type Session interface {
	GetEntry(ctx context.Context, id string) (*model.CatalogEntry, error)
	UpdateEntry(ctx context.Context, e *model.CatalogEntry) error
	GetPlatform(ctx context.Context, id string) (*model.Platform, error)
	Close() error
}

type dbStore struct {
	db *db.Database
}

// NewDBStore adapts the catalog database to a Store.
func NewDBStore(d *db.Database) Store {
	return &dbStore{db: d}
}

func (s *dbStore) ResetUnfinished(ctx context.Context) (int64, error) {
	sess, err := s.db.Session(ctx)
	if err != nil {
		return 0, err
	}
	defer sess.Close()
	return sess.Entries.ResetUnfinished(ctx)
}

func (s *dbStore) ListPending(ctx context.Context) ([]*model.CatalogEntry, error) {
	sess, err := s.db.Session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Close()
	return sess.Entries.ListPending(ctx)
}

func (s *dbStore) Session(ctx context.Context) (Session, error) {
	sess, err := s.db.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &dbSession{sess: sess}, nil
}

type dbSession struct {
	sess *db.Session
}

func (s *dbSession) GetEntry(ctx context.Context, id string) (*model.CatalogEntry, error) {
	return s.sess.Entries.Get(ctx, id)
}

func (s *dbSession) UpdateEntry(ctx context.Context, e *model.CatalogEntry) error {
	return s.sess.Entries.Update(ctx, e)
}

func (s *dbSession) GetPlatform(ctx context.Context, id string) (*model.Platform, error) {
	return s.sess.Platforms.Get(ctx, id)
}

func (s *dbSession) Close() error {
	return s.sess.Close()
}
