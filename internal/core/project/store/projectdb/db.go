// Package projectdb 项目文档的关系型存储
package projectdb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gowvp/cutline/internal/core/project"
	"github.com/gowvp/cutline/internal/core/timeline"
	"github.com/ixugo/goddd/pkg/orm"
	"github.com/jinzhu/copier"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ project.Storer = DB{}

// Project 项目表
type Project struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"column:name;notNull;default:''"`
	Active    string    `gorm:"column:active;size:64"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime:false"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime:false"`
}

func (*Project) TableName() string {
	return "projects"
}

// Timeline 时间线表，轨道与片段以 json 文档保存
type Timeline struct {
	ID        string `gorm:"primaryKey;size:64"`
	ProjectID string `gorm:"column:project_id;index;size:64"`
	Position  int    `gorm:"column:position"`
	Name      string `gorm:"column:name"`
	Document  string `gorm:"column:document;type:text"`
}

func (*Timeline) TableName() string {
	return "timelines"
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
	if err := d.db.AutoMigrate(new(Project), new(Timeline)); err != nil {
		panic(err)
	}
	return d
}

// Save 覆盖写入项目及其全部时间线
func (d DB) Save(ctx context.Context, doc *project.Document) error {
	var p Project
	if err := copier.Copy(&p, &doc.Project); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	p.Active = string(doc.Active)

	records := make([]Timeline, 0, len(doc.Timelines))
	for i, td := range doc.Timelines {
		b, err := json.Marshal(td)
		if err != nil {
			return fmt.Errorf("encode timeline %s: %w", td.ID, err)
		}
		records = append(records, Timeline{
			ID:        string(td.ID),
			ProjectID: p.ID,
			Position:  i,
			Name:      td.Name,
			Document:  string(b),
		})
	}

	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&p).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", p.ID).Delete(new(Timeline)).Error; err != nil {
			return err
		}
		if len(records) == 0 {
			return nil
		}
		return tx.Create(&records).Error
	})
}

// Load 读取项目文档
func (d DB) Load(ctx context.Context, id project.ID) (*project.Document, error) {
	var p Project
	if err := d.db.WithContext(ctx).Where("id = ?", string(id)).First(&p).Error; err != nil {
		if orm.IsErrRecordNotFound(err) {
			return nil, project.ErrNotFound
		}
		return nil, err
	}
	var records []Timeline
	if err := d.db.WithContext(ctx).Where("project_id = ?", p.ID).Order("position").Find(&records).Error; err != nil {
		return nil, err
	}

	doc := project.Document{Active: timeline.TimelineID(p.Active), Timelines: make([]timeline.Document, 0, len(records))}
	if err := copier.Copy(&doc.Project, &p); err != nil {
		slog.ErrorContext(ctx, "Copy", "err", err)
	}
	for _, r := range records {
		var td timeline.Document
		if err := json.Unmarshal([]byte(r.Document), &td); err != nil {
			return nil, fmt.Errorf("decode timeline %s: %w", r.ID, err)
		}
		doc.Timelines = append(doc.Timelines, td)
	}
	return &doc, nil
}

// List 按更新时间倒序
func (d DB) List(ctx context.Context) ([]project.Project, error) {
	var records []Project
	if err := d.db.WithContext(ctx).Order("updated_at DESC").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make([]project.Project, 0, len(records))
	if err := copier.Copy(&out, &records); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete 删除项目及其时间线
func (d DB) Delete(ctx context.Context, id project.ID) error {
	return d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Where("id = ?", string(id)).Delete(new(Project))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return project.ErrNotFound
		}
		return tx.Where("project_id = ?", string(id)).Delete(new(Timeline)).Error
	})
}
