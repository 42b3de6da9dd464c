package utils

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/schollz/progressbar/v3"
)

// Reporter 运行报告生成器
type Reporter struct {
	outputDir string
}

// NewReporter 创建报告生成器
func NewReporter(outputDir string) *Reporter {
	return &Reporter{outputDir: outputDir}
}

// Save 保存一次阶段运行的报告并打印摘要
// 文件名: <stage>_<时间>_<run id前8位>.json
func (r *Reporter) Save(report *models.RunReport) (string, error) {
	if err := os.MkdirAll(r.outputDir, 0755); err != nil {
		return "", fmt.Errorf("创建报告目录失败: %w", err)
	}

	runID := report.RunID
	if len(runID) > 8 {
		runID = runID[:8]
	}
	filename := fmt.Sprintf("%s_%s_%s.json", report.Stage, report.StartTime.Format("20060102_150405"), runID)

	path, err := r.saveJSONReport(r.outputDir, filename, report)
	if err != nil {
		return "", err
	}

	PrintSummary(report)
	Infof("✅ 报告已生成: %s", path)
	return path, nil
}

// PrintSummary 打印阶段摘要和失败单元
func PrintSummary(report *models.RunReport) {
	s := report.Stats
	Info("==================================================")
	Infof("📊 %s 阶段摘要 (run=%s)", report.Stage, report.RunID)
	Info("==================================================")
	Infof("总单元数: %d", s.Total)
	Infof("✅ 成功: %d", s.Completed)
	Infof("❌ 失败: %d", s.Failed)
	Infof("⏭️  跳过: %d", s.Skipped)
	if s.Items > 0 {
		Infof("📦 发现条目: %d", s.Items)
	}
	Infof("⏱️  总耗时: %.2f秒", s.Duration)
	Info("==================================================")

	for _, f := range report.Failures() {
		Warnf("  - %s: %s", f.Unit, f.Error)
	}
}

// saveJSONReport 保存JSON报告
func (r *Reporter) saveJSONReport(dir string, filename string, data interface{}) (string, error) {
	path := filepath.Join(dir, filename)

	jsonData, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("序列化JSON失败: %w", err)
	}

	if err := os.WriteFile(path, jsonData, 0644); err != nil {
		return "", fmt.Errorf("写入报告文件失败: %w", err)
	}

	Debugf("保存报告: %s", path)
	return path, nil
}

// NewProgressBar 创建进度条
func NewProgressBar(max int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(max,
		progressbar.OptionSetDescription(description),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
}
