package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/go-rod/rod/lib/launcher"
	"github.com/spf13/cobra"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/config"
	"github.com/RecoveryAshes/toutiao-repost/internal/store"
)

// check 一项环境检查, fatal 为 false 时只给出警告
type check struct {
	name  string
	fatal bool
	run   func(cmd *cobra.Command, cfg *config.Config) (string, error)
}

var checks = []check{
	{"配置文件", true, func(_ *cobra.Command, cfg *config.Config) (string, error) {
		return cfg.File, nil
	}},
	{"关键词", true, func(_ *cobra.Command, cfg *config.Config) (string, error) {
		kw, err := config.LoadKeywords(cfg.KeywordsFile)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d 个分类, %d 个关键词", len(kw), len(kw.Units("", ""))), nil
	}},
	{"存储", true, func(cmd *cobra.Command, cfg *config.Config) (string, error) {
		s, err := store.Open(cmd.Context(), cfg.Storage.Driver, cfg.Storage.DSN)
		if err != nil {
			return "", err
		}
		defer s.Close()
		accounts, err := s.Accounts(cmd.Context())
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s, %d 个账号", cfg.Storage.Driver, len(accounts)), nil
	}},
	{"浏览器", false, func(_ *cobra.Command, cfg *config.Config) (string, error) {
		if cfg.Browser.Bin != "" {
			if _, err := os.Stat(cfg.Browser.Bin); err != nil {
				return "", err
			}
			return cfg.Browser.Bin, nil
		}
		if path, ok := launcher.LookPath(); ok {
			return path, nil
		}
		return "", fmt.Errorf("未找到 Chromium, 首次运行时会自动下载")
	}},
	{"资源", false, func(_ *cobra.Command, cfg *config.Config) (string, error) {
		monitor := browser.NewResourceMonitor(browser.ResourceMonitorConfig{
			SafetyReserveMemory: int64(cfg.Resource.SafetyReserveMemoryMB) * 1024 * 1024,
			PageMemoryUsage:     int64(cfg.Resource.PageMemoryUsageMB) * 1024 * 1024,
			CPULoadThreshold:    cfg.Resource.CPULoadThreshold,
			MaxPagesLimit:       cfg.Resource.MaxPagesLimit,
		})
		status := monitor.GetMemoryStatus()
		if ok, reason := monitor.CheckResourceAvailability(); !ok {
			return "", fmt.Errorf("%s", reason)
		}
		return fmt.Sprintf("%s/%s, 可用内存 %dMB (%s), 最多 %d 个标签页",
			runtime.GOOS, runtime.GOARCH, status.AvailableMemory/(1024*1024), status.MemoryPressure, monitor.CalculateMaxPages()), nil
	}},
	{"媒体目录", true, func(_ *cobra.Command, cfg *config.Config) (string, error) {
		for _, dir := range []string{cfg.Media.Dir, cfg.Publish.CoverDir, cfg.Reports.Dir} {
			if dir == "" {
				continue
			}
			if err := writable(dir); err != nil {
				return "", err
			}
		}
		return cfg.Media.Dir, nil
	}},
	{"改写服务", false, func(_ *cobra.Command, cfg *config.Config) (string, error) {
		if cfg.Rewrite.APIKey == "" {
			return "", fmt.Errorf("未配置 api_key, 发布时不改写")
		}
		return cfg.Rewrite.BaseURL + " (" + cfg.Rewrite.Model + ")", nil
	}},
}

// writable 目录可创建且可写
func writable(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "检查运行环境",
	RunE: func(cmd *cobra.Command, args []string) error {
		failed := 0
		for _, c := range checks {
			detail, err := c.run(cmd, appConfig)
			switch {
			case err == nil:
				fmt.Printf("✅ %s: %s\n", c.name, detail)
			case c.fatal:
				failed++
				fmt.Printf("❌ %s: %v\n", c.name, err)
			default:
				fmt.Printf("⚠️  %s: %v\n", c.name, err)
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d 项检查未通过", failed)
		}
		fmt.Println("环境检查通过")
		return nil
	},
}
