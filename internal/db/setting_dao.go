package db

import (
	"context"
	"fmt"
	"time"

	"github.com/didi/gendry/builder"
	"github.com/didi/gendry/scanner"

	"github.com/xxxsen/retroscrape/internal/model"
)

const settingTableName = "setting_tab"

var SettingDao = newSettingDao(Default)

type settingDao struct {
	dbGetter DatabaseGetter
}

type settingRecord struct {
	Key        string `ddb:"setting_key"`
	Value      string `ddb:"setting_value"`
	UpdateTime int64  `ddb:"update_time"`
}

func newSettingDao(getter DatabaseGetter) *settingDao {
	return &settingDao{dbGetter: getter}
}

// Get returns the stored setting or ErrNotFound.
func (dao *settingDao) Get(ctx context.Context, key string) (*model.Setting, error) {
	db := dao.dbGetter()
	if db == nil {
		return nil, fmt.Errorf("setting dao not initialised")
	}
	query, args, err := builder.BuildSelect(settingTableName,
		map[string]interface{}{"setting_key": key},
		[]string{"setting_key", "setting_value", "update_time"},
	)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query setting %s: %w", key, err)
	}
	var records []settingRecord
	if err := scanner.ScanClose(rows, &records); err != nil {
		return nil, fmt.Errorf("scan setting %s: %w", key, err)
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	r := records[0]
	return &model.Setting{Key: r.Key, Value: r.Value, UpdateTime: r.UpdateTime}, nil
}

// Set stores or overwrites a setting.
func (dao *settingDao) Set(ctx context.Context, key, value string) error {
	db := dao.dbGetter()
	if db == nil {
		return fmt.Errorf("setting dao not initialised")
	}
	now := time.Now().Unix()
	insertSQL, args, err := builder.BuildInsert(settingTableName, []map[string]interface{}{{
		"setting_key":   key,
		"setting_value": value,
		"update_time":   now,
	}})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, insertSQL, args...); err != nil {
		if !isUniqueConstraintError(err) {
			return fmt.Errorf("insert setting %s: %w", key, err)
		}
		updateSQL, updateArgs, err := builder.BuildUpdate(settingTableName,
			map[string]interface{}{"setting_key": key},
			map[string]interface{}{"setting_value": value, "update_time": now},
		)
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, updateSQL, updateArgs...); err != nil {
			return fmt.Errorf("update setting %s: %w", key, err)
		}
	}
	return nil
}
