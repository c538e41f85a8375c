package db

import (
	"context"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/didi/gendry/scanner"

	"github.com/xxxsen/retroscrape/internal/model"
)

const (
	catalogEntryTableName = "catalog_entry_tab"
	insertBatchSize       = 200
)

var CatalogEntryDao = newCatalogEntryDao(Default)

var catalogEntryFields = []string{
	"id", "platform_id", "remote_id", "name", "file_name", "remote_data", "link_data",
	"scrape_status", "scrape_result", "included", "create_time", "update_time",
}

type catalogEntryDao struct {
	dbGetter DatabaseGetter
}

type catalogEntryRecord struct {
	ID           string `ddb:"id"`
	PlatformID   string `ddb:"platform_id"`
	RemoteID     string `ddb:"remote_id"`
	Name         string `ddb:"name"`
	FileName     string `ddb:"file_name"`
	RemoteData   string `ddb:"remote_data"`
	LinkData     string `ddb:"link_data"`
	ScrapeStatus int    `ddb:"scrape_status"`
	ScrapeResult string `ddb:"scrape_result"`
	Included     int    `ddb:"included"`
	CreateTime   int64  `ddb:"create_time"`
	UpdateTime   int64  `ddb:"update_time"`
}

// StatusCount is the number of entries of one platform in one status.
type StatusCount struct {
	PlatformID string `ddb:"platform_id"`
	Status     int    `ddb:"scrape_status"`
	Included   int    `ddb:"included"`
	Count      int64  `ddb:"cnt"`
}

func newCatalogEntryDao(getter DatabaseGetter) *catalogEntryDao {
	return &catalogEntryDao{dbGetter: getter}
}

func (dao *catalogEntryDao) db() (IDatabase, error) {
	db := dao.dbGetter()
	if db == nil {
		return nil, fmt.Errorf("catalog entry dao not initialised")
	}
	return db, nil
}

func entryToRow(e *model.CatalogEntry) (map[string]interface{}, error) {
	remote, err := model.MarshalRemote(e.Remote)
	if err != nil {
		return nil, fmt.Errorf("encode remote record of %s: %w", e.ID, err)
	}
	link, err := model.MarshalLink(e.Link)
	if err != nil {
		return nil, fmt.Errorf("encode link of %s: %w", e.ID, err)
	}
	return map[string]interface{}{
		"id":            e.ID,
		"platform_id":   e.PlatformID,
		"remote_id":     e.RemoteID,
		"name":          e.Name,
		"file_name":     e.FileName,
		"remote_data":   remote,
		"link_data":     link,
		"scrape_status": int(e.Status),
		"scrape_result": e.LastError,
		"included":      boolToInt(e.Included),
		"create_time":   e.CreateTime,
		"update_time":   e.UpdateTime,
	}, nil
}

func recordToEntry(r catalogEntryRecord) (*model.CatalogEntry, error) {
	remote, err := model.RemoteFromRecord(r.RemoteData)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", r.ID, err)
	}
	link, err := model.LinkFromRecord(r.LinkData)
	if err != nil {
		return nil, fmt.Errorf("entry %s: %w", r.ID, err)
	}
	return &model.CatalogEntry{
		ID:         r.ID,
		RemoteID:   r.RemoteID,
		PlatformID: r.PlatformID,
		Name:       r.Name,
		FileName:   r.FileName,
		Remote:     remote,
		Link:       link,
		Status:     model.ScrapeStatus(r.ScrapeStatus),
		LastError:  r.ScrapeResult,
		Included:   r.Included != 0,
		CreateTime: r.CreateTime,
		UpdateTime: r.UpdateTime,
	}, nil
}

// Insert stores new entries in batches.
func (dao *catalogEntryDao) Insert(ctx context.Context, entries []*model.CatalogEntry) error {
	db, err := dao.db()
	if err != nil {
		return err
	}
	return insertEntries(ctx, db, entries)
}

func insertEntries(ctx context.Context, db IQueryExecer, entries []*model.CatalogEntry) error {
	now := time.Now().Unix()
	for start := 0; start < len(entries); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(entries) {
			end = len(entries)
		}
		rows := make([]map[string]interface{}, 0, end-start)
		for _, e := range entries[start:end] {
			if e.CreateTime == 0 {
				e.CreateTime = now
			}
			e.UpdateTime = now
			row, err := entryToRow(e)
			if err != nil {
				return err
			}
			rows = append(rows, row)
		}
		insertSQL, args, err := builder.BuildInsert(catalogEntryTableName, rows)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, insertSQL, args...); err != nil {
			return fmt.Errorf("insert catalog entries: %w", err)
		}
	}
	return nil
}

// ReplaceForPlatform drops every entry of the platform and stores the given ones instead.
func (dao *catalogEntryDao) ReplaceForPlatform(ctx context.Context, platformID string, entries []*model.CatalogEntry) error {
	db, err := dao.db()
	if err != nil {
		return err
	}
	return db.OnTransaction(ctx, func(ctx context.Context, tx IQueryExecer) error {
		deleteSQL, args, err := builder.BuildDelete(catalogEntryTableName, map[string]interface{}{"platform_id": platformID})
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, deleteSQL, args...); err != nil {
			return fmt.Errorf("delete platform entries: %w", err)
		}
		return insertEntries(ctx, tx, entries)
	})
}

// Update writes every mutable column of the entry.
func (dao *catalogEntryDao) Update(ctx context.Context, e *model.CatalogEntry) error {
	db, err := dao.db()
	if err != nil {
		return err
	}
	e.UpdateTime = time.Now().Unix()
	row, err := entryToRow(e)
	if err != nil {
		return err
	}
	delete(row, "id")
	delete(row, "create_time")
	updateSQL, args, err := builder.BuildUpdate(catalogEntryTableName, map[string]interface{}{"id": e.ID}, row)
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, updateSQL, args...)
	if err != nil {
		return fmt.Errorf("update catalog entry %s: %w", e.ID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("update catalog entry %s: %w", e.ID, ErrNotFound)
	}
	return nil
}

// Get returns one entry by id.
func (dao *catalogEntryDao) Get(ctx context.Context, id string) (*model.CatalogEntry, error) {
	list, err := dao.query(ctx, map[string]interface{}{"id": id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, ErrNotFound
	}
	return list[0], nil
}

// ListByPlatform returns the platform's entries ordered by name.
func (dao *catalogEntryDao) ListByPlatform(ctx context.Context, platformID string, includedOnly bool) ([]*model.CatalogEntry, error) {
	where := map[string]interface{}{
		"platform_id": platformID,
		"_orderby":    "name asc",
	}
	if includedOnly {
		where["included"] = 1
	}
	return dao.query(ctx, where)
}

// ListPending returns included entries not yet scraped successfully, ordered by name.
func (dao *catalogEntryDao) ListPending(ctx context.Context) ([]*model.CatalogEntry, error) {
	return dao.query(ctx, map[string]interface{}{
		"included":         1,
		"scrape_status !=": int(model.StatusSuccess),
		"_orderby":         "name asc",
	})
}

// ResetUnfinished moves every entry that is not Success back to NotScraped and clears its error.
func (dao *catalogEntryDao) ResetUnfinished(ctx context.Context) (int64, error) {
	db, err := dao.db()
	if err != nil {
		return 0, err
	}
	updateSQL, args, err := builder.BuildUpdate(catalogEntryTableName,
		map[string]interface{}{"scrape_status !=": int(model.StatusSuccess)},
		map[string]interface{}{
			"scrape_status": int(model.StatusNotScraped),
			"scrape_result": "",
			"update_time":   time.Now().Unix(),
		},
	)
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, updateSQL, args...)
	if err != nil {
		return 0, fmt.Errorf("reset unfinished entries: %w", err)
	}
	return res.RowsAffected()
}

// SetIncluded flips the inclusion flag of the given entries.
func (dao *catalogEntryDao) SetIncluded(ctx context.Context, ids []string, included bool) error {
	if len(ids) == 0 {
		return nil
	}
	db, err := dao.db()
	if err != nil {
		return err
	}
	for start := 0; start < len(ids); start += insertBatchSize {
		end := start + insertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		updateSQL, args, err := builder.BuildUpdate(catalogEntryTableName,
			map[string]interface{}{"id in": ids[start:end]},
			map[string]interface{}{"included": boolToInt(included), "update_time": time.Now().Unix()},
		)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, updateSQL, args...); err != nil {
			return fmt.Errorf("update inclusion: %w", err)
		}
	}
	return nil
}

// CountByStatus groups entries by platform, status and inclusion.
func (dao *catalogEntryDao) CountByStatus(ctx context.Context) ([]StatusCount, error) {
	db, err := dao.db()
	if err != nil {
		return nil, err
	}
	const query = `SELECT platform_id, scrape_status, included, COUNT(*) AS cnt FROM catalog_entry_tab GROUP BY platform_id, scrape_status, included`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count catalog entries: %w", err)
	}
	var result []StatusCount
	if err := scanner.ScanClose(rows, &result); err != nil {
		return nil, fmt.Errorf("scan entry counts: %w", err)
	}
	return result, nil
}

func (dao *catalogEntryDao) query(ctx context.Context, where map[string]interface{}) ([]*model.CatalogEntry, error) {
	db, err := dao.db()
	if err != nil {
		return nil, err
	}
	query, args, err := builder.BuildSelect(catalogEntryTableName, where, catalogEntryFields)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query catalog entries: %w", err)
	}
	var records []catalogEntryRecord
	if err := scanner.ScanClose(rows, &records); err != nil {
		return nil, fmt.Errorf("scan catalog entries: %w", err)
	}
	out := make([]*model.CatalogEntry, 0, len(records))
	for _, r := range records {
		e, err := recordToEntry(r)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
