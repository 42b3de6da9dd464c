package models

import (
	"encoding/json"
	"time"
)

// Stage 流水线阶段
type Stage string

const (
	StageSearch   Stage = "search"   // 关键词搜索
	StageDetail   Stage = "detail"   // 详情与作者信息
	StageDownload Stage = "download" // 视频下载
	StageLogin    Stage = "login"    // 账号登录/cookie刷新
	StagePublish  Stage = "publish"  // 洗稿并发布
)

// TaskStatus 单元执行状态
type TaskStatus string

const (
	TaskStatusCompleted TaskStatus = "completed" // 已完成
	TaskStatusFailed    TaskStatus = "failed"    // 失败
	TaskStatusSkipped   TaskStatus = "skipped"   // 无需执行
)

// TaskStats 阶段统计
type TaskStats struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Skipped   int     `json:"skipped"`
	Items     int     `json:"items"`    // 搜索发现的条目数
	Duration  float64 `json:"duration"` // 秒
}

// UnitResult 一个扇出单元的结果
// 搜索单元的 Unit 形如 "体育/篮球#0", 发布单元形如 "<item id>@<phone>"
type UnitResult struct {
	Unit       string     `json:"unit"`
	Status     TaskStatus `json:"status"`
	Items      int        `json:"items,omitempty"`
	Error      string     `json:"error,omitempty"`
	FinishedAt time.Time  `json:"finished_at"`
}

// Add 累加一个单元结果
func (s *TaskStats) Add(r UnitResult) {
	s.Total++
	s.Items += r.Items
	switch r.Status {
	case TaskStatusCompleted:
		s.Completed++
	case TaskStatusFailed:
		s.Failed++
	case TaskStatusSkipped:
		s.Skipped++
	}
}

// ToJSON 序列化为JSON
func (s TaskStats) ToJSON() ([]byte, error) {
	return json.MarshalIndent(s, "", "  ")
}
