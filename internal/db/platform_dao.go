package db

import (
	"context"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/didi/gendry/scanner"

	"github.com/xxxsen/retroscrape/internal/model"
)

const platformTableName = "platform_tab"

var PlatformDao = newPlatformDao(Default)

var platformFields = []string{"id", "name", "path", "extension", "remote_id", "listing_url", "aliases", "create_time", "update_time"}

type platformDao struct {
	dbGetter DatabaseGetter
}

type platformRecord struct {
	ID         string `ddb:"id"`
	Name       string `ddb:"name"`
	Path       string `ddb:"path"`
	Extension  string `ddb:"extension"`
	RemoteID   int    `ddb:"remote_id"`
	ListingURL string `ddb:"listing_url"`
	Aliases    string `ddb:"aliases"`
	CreateTime int64  `ddb:"create_time"`
	UpdateTime int64  `ddb:"update_time"`
}

func newPlatformDao(getter DatabaseGetter) *platformDao {
	return &platformDao{dbGetter: getter}
}

func (dao *platformDao) db() (IDatabase, error) {
	db := dao.dbGetter()
	if db == nil {
		return nil, fmt.Errorf("platform dao not initialised")
	}
	return db, nil
}

// Upsert inserts the platform or updates the row with the same id.
func (dao *platformDao) Upsert(ctx context.Context, p *model.Platform) error {
	db, err := dao.db()
	if err != nil {
		return err
	}
	aliases, err := p.MarshalAliases()
	if err != nil {
		return err
	}
	now := time.Now().Unix()
	if p.CreateTime == 0 {
		p.CreateTime = now
	}
	p.UpdateTime = now
	payload := []map[string]interface{}{{
		"id":          p.ID,
		"name":        p.Name,
		"path":        p.Path,
		"extension":   p.Extension,
		"remote_id":   p.RemoteID,
		"listing_url": p.ListingURL,
		"aliases":     aliases,
		"create_time": p.CreateTime,
		"update_time": p.UpdateTime,
	}}
	insertSQL, insertArgs, err := builder.BuildInsert(platformTableName, payload)
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertSQL, insertArgs...); err != nil {
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("insert platform: %w", err)
		}
		updateSQL, updateArgs, err := builder.BuildUpdate(platformTableName,
			map[string]interface{}{"id": p.ID},
			map[string]interface{}{
				"name":        p.Name,
				"path":        p.Path,
				"extension":   p.Extension,
				"remote_id":   p.RemoteID,
				"listing_url": p.ListingURL,
				"aliases":     aliases,
				"update_time": p.UpdateTime,
			},
		)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, updateSQL, updateArgs...); err != nil {
			return fmt.Errorf("update platform: %w", err)
		}
	}
	return nil
}

// Get returns the platform by id.
func (dao *platformDao) Get(ctx context.Context, id string) (*model.Platform, error) {
	return dao.getOne(ctx, map[string]interface{}{"id": id})
}

// GetByName returns the platform by its display name.
func (dao *platformDao) GetByName(ctx context.Context, name string) (*model.Platform, error) {
	return dao.getOne(ctx, map[string]interface{}{"name": name})
}

func (dao *platformDao) getOne(ctx context.Context, where map[string]interface{}) (*model.Platform, error) {
	list, err := dao.query(ctx, where)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// List returns every platform ordered by name.
func (dao *platformDao) List(ctx context.Context) ([]*model.Platform, error) {
	return dao.query(ctx, map[string]interface{}{"_orderby": "name asc"})
}

func (dao *platformDao) query(ctx context.Context, where map[string]interface{}) ([]*model.Platform, error) {
	db, err := dao.db()
	if err != nil {
		return nil, err
	}
	query, args, err := builder.BuildSelect(platformTableName, where, platformFields)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query platforms: %w", err)
	}
	var records []platformRecord
	if err := scanner.ScanClose(rows, &records); err != nil {
		return nil, fmt.Errorf("scan platforms: %w", err)
	}
	out := make([]*model.Platform, 0, len(records))
	for _, r := range records {
		aliases, err := model.AliasesFromRecord(r.Aliases)
		if err != nil {
			return nil, err
		}
		out = append(out, &model.Platform{
			ID:         r.ID,
			Name:       r.Name,
			Path:       r.Path,
			Extension:  r.Extension,
			RemoteID:   r.RemoteID,
			ListingURL: r.ListingURL,
			Aliases:    aliases,
			CreateTime: r.CreateTime,
			UpdateTime: r.UpdateTime,
		})
	}
	return out, nil
}
