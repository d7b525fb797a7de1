// Package sourcedb 素材元数据存储
package sourcedb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowvp/cutline/internal/core/media"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ media.Storer = DB{}

// Source 素材表，探测结果以 json 保存
type Source struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Path      string    `gorm:"column:path;notNull"`
	Meta      string    `gorm:"column:meta;type:text"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (*Source) TableName() string {
	return "sources"
}

type DB struct {
	db *gorm.DB
}

func NewDB(db *gorm.DB) DB {
	return DB{db: db}
}

// AutoMigrate 表迁移
func (d DB) AutoMigrate(ok bool) DB {
	if !ok {
		return d
	}
	if err := d.db.AutoMigrate(new(Source)); err != nil {
		panic(err)
	}
	return d
}

// Save 同一 id 覆盖
func (d DB) Save(ctx context.Context, src media.Source) error {
	src.Degraded = false
	b, err := json.Marshal(src)
	if err != nil {
		return err
	}
	rec := Source{ID: string(src.ID), Path: src.Path, Meta: string(b), CreatedAt: time.Now()}
	return d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"path", "meta"}),
	}).Create(&rec).Error
}

// List 按登记时间排序
func (d DB) List(ctx context.Context) ([]media.Source, error) {
	var records []Source
	if err := d.db.WithContext(ctx).Order("created_at").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]media.Source, 0, len(records))
	for _, rec := range records {
		var src media.Source
		if err := json.Unmarshal([]byte(rec.Meta), &src); err != nil {
			return nil, fmt.Errorf("decode source %s: %w", rec.ID, err)
		}
		src.ID, src.Path = media.SourceID(rec.ID), rec.Path
		out = append(out, src)
	}
	return out, nil
}

func (d DB) Delete(ctx context.Context, id media.SourceID) error {
	return d.db.WithContext(ctx).Where("id = ?", id).Delete(new(Source)).Error
}
