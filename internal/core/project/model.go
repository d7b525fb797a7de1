package project

import (
	"errors"
	"time"

	"github.com/gowvp/cutline/internal/core/export"
	"github.com/gowvp/cutline/internal/core/timeline"
)

var (
	// ErrBusy 导出进行中，拒绝编辑与第二个导出
	ErrBusy = errors.New("project is busy exporting")
	// ErrNotFound 项目或时间线不存在
	ErrNotFound = errors.New("not found")
	// ErrLastTimeline 项目至少保留一条时间线
	ErrLastTimeline = errors.New("cannot remove the last timeline")
	ErrClosed       = errors.New("project closed")
)

type ID string

// Project 项目元数据
type Project struct {
	ID        ID        `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Document 项目的持久化结构
type Document struct {
	Project
	Active    timeline.TimelineID `json:"active"`
	Timelines []timeline.Document `json:"timelines"`
}

type EventKind string

const (
	EventChange   EventKind = "change"
	EventUndo     EventKind = "undo"
	EventRedo     EventKind = "redo"
	EventTimeline EventKind = "timeline"
	EventExport   EventKind = "export"
	EventSaved    EventKind = "saved"
)

// Event 编辑、撤销、导出等通知
type Event struct {
	Kind     EventKind           `json:"kind"`
	Timeline timeline.TimelineID `json:"timeline_id,omitempty"`
	Command  string              `json:"command,omitempty"`
	Changes  []timeline.Change   `json:"changes,omitempty"`
	Progress *export.Progress    `json:"progress,omitempty"`
	Error    string              `json:"error,omitempty"`
}

// HistoryInfo 撤销栈概要
type HistoryInfo struct {
	Undo    []string `json:"undo"`
	CanUndo bool     `json:"can_undo"`
	CanRedo bool     `json:"can_redo"`
}
