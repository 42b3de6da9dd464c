package models

import (
	"encoding/json"
	"time"
)

// RunReport 一次阶段运行的报告
type RunReport struct {
	RunID     string       `json:"run_id"`
	Stage     Stage        `json:"stage"`
	StartTime time.Time    `json:"start_time"`
	EndTime   time.Time    `json:"end_time"`
	Stats     TaskStats    `json:"stats"`
	Results   []UnitResult `json:"results"`
}

// NewRunReport 创建报告并分配运行ID
func NewRunReport(stage Stage) *RunReport {
	now := time.Now()
	return &RunReport{
		RunID:     newRunID(now),
		Stage:     stage,
		StartTime: now,
		Results:   make([]UnitResult, 0),
	}
}

// Record 追加单元结果并更新统计
func (r *RunReport) Record(result UnitResult) {
	if result.FinishedAt.IsZero() {
		result.FinishedAt = time.Now()
	}
	r.Results = append(r.Results, result)
	r.Stats.Add(result)
}

// Finish 记录结束时间
func (r *RunReport) Finish() {
	r.EndTime = time.Now()
	r.Stats.Duration = r.EndTime.Sub(r.StartTime).Seconds()
}

// Failures 失败的单元
func (r *RunReport) Failures() []UnitResult {
	var out []UnitResult
	for _, res := range r.Results {
		if res.Status == TaskStatusFailed {
			out = append(out, res)
		}
	}
	return out
}

// ToJSON 序列化为JSON
func (r *RunReport) ToJSON() ([]byte, error) {
	return json.MarshalIndent(r, "", "  ")
}

// FromJSON 从JSON反序列化
func (r *RunReport) FromJSON(data []byte) error {
	return json.Unmarshal(data, r)
}
