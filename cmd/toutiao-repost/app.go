package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/config"
	"github.com/RecoveryAshes/toutiao-repost/internal/core"
	"github.com/RecoveryAshes/toutiao-repost/internal/media"
	"github.com/RecoveryAshes/toutiao-repost/internal/operator"
	"github.com/RecoveryAshes/toutiao-repost/internal/publish"
	"github.com/RecoveryAshes/toutiao-repost/internal/rewrite"
	"github.com/RecoveryAshes/toutiao-repost/internal/scrape"
	"github.com/RecoveryAshes/toutiao-repost/internal/session"
	"github.com/RecoveryAshes/toutiao-repost/internal/store"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// needs 子命令需要的组件
type needs struct {
	keywords bool
	pages    bool // 搜索/详情使用的标签页池
	sessions bool // 账号会话
}

// app 一次命令运行期间的所有组件, close 按创建的逆序释放
type app struct {
	cfg     *config.Config
	headers *config.HeaderManager
	store   store.Store
	browser *browser.RodBrowser
	pages   *browser.PagePool
	console *operator.Console
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config, n needs) (a *app, err error) {
	a = &app{cfg: cfg, console: operator.Stdio()}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	a.headers, err = config.NewHeaderManager(cfg.Headers, headers)
	if err != nil {
		return nil, fmt.Errorf("创建HTTP头部管理器失败: %w", err)
	}
	if err := a.headers.Validate(); err != nil {
		return nil, fmt.Errorf("HTTP头部验证失败: %w", err)
	}

	a.store, err = store.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.store.Close)

	if n.pages || n.sessions {
		a.browser, err = browser.Launch(browser.Options{
			Headless: cfg.Browser.Headless,
			Bin:      cfg.Browser.Bin,
			Stealth:  cfg.Browser.Stealth,
			Headers:  a.headers.GetMergedHeaders(),
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.browser.Close)
	}

	if n.pages {
		monitor := browser.NewResourceMonitor(browser.ResourceMonitorConfig{
			SafetyReserveMemory: int64(cfg.Resource.SafetyReserveMemoryMB) * 1024 * 1024,
			PageMemoryUsage:     int64(cfg.Resource.PageMemoryUsageMB) * 1024 * 1024,
			CPULoadThreshold:    cfg.Resource.CPULoadThreshold,
			MaxPagesLimit:       cfg.Resource.MaxPagesLimit,
		})
		status := monitor.GetMemoryStatus()
		utils.Debugf("内存状态: 可用 %dMB, 压力 %s", status.AvailableMemory/(1024*1024), status.MemoryPressure)

		a.pages, err = browser.NewPagePool(ctx, a.browser, cfg.Browser.MaxPages, monitor)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, a.pages.Close)
	}
	return a, nil
}

func (a *app) close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		utils.Warnf("释放资源失败: %v", err)
	}
}

func (a *app) pacer() utils.Pacer {
	return utils.NewPacer(a.cfg.Crawl.DelayMin, a.cfg.Crawl.DelayMax)
}

// pipeline 按已创建的组件组装流水线
func (a *app) pipeline(n needs) (*core.Pipeline, error) {
	cfg := a.cfg
	p := &core.Pipeline{
		Store:    a.store,
		Reporter: utils.NewReporter(cfg.Reports.Dir),
		Options:  core.OptionsFromConfig(cfg),
	}

	if n.keywords {
		kw, err := config.LoadKeywords(cfg.KeywordsFile)
		if err != nil {
			return nil, err
		}
		p.Keywords = kw
	}

	if a.pages != nil {
		s := scrape.New(a.pages, a.store, a.console, scrape.Options{
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			Pacer:             a.pacer(),
		})
		p.Searcher = s
		p.Details = s
	}

	downloader := media.New(a.store, a.headers, media.Options{
		MaxConcurrent: cfg.Media.MaxConcurrent,
		MaxBodySize:   cfg.Media.MaxBodySizeMB * 1024 * 1024,
		Timeout:       cfg.Media.Timeout,
	})
	p.Downloader = downloader

	if n.sessions {
		mgr := session.NewManager(a.browser, session.NewLockTable(), a.store, a.console, session.Options{
			MaxCodeAttempts:   cfg.Session.MaxCodeAttempts,
			NoCodeBackoff:     cfg.Session.NoCodeBackoff,
			StepTimeout:       cfg.Session.StepTimeout,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			Pacer:             a.pacer(),
		})
		p.Sessions = core.Sessions(mgr)

		var rw publish.Rewriter
		if cfg.Rewrite.APIKey != "" {
			rw = rewrite.New(rewrite.Options{
				BaseURL:       cfg.Rewrite.BaseURL,
				APIKey:        cfg.Rewrite.APIKey,
				Model:         cfg.Rewrite.Model,
				Temperature:   cfg.Rewrite.Temperature,
				MaxTokens:     cfg.Rewrite.MaxTokens,
				MaxConcurrent: cfg.Rewrite.MaxConcurrent,
				Timeout:       cfg.Rewrite.Timeout,
			})
		} else {
			utils.Warn("未配置 rewrite.api_key, 发布时不改写")
		}
		p.Publisher = publish.New(rw, downloader, publish.Options{
			StepTimeout:       cfg.Publish.StepTimeout,
			NavigationTimeout: cfg.Browser.NavigationTimeout,
			ConfirmRetries:    cfg.Publish.ConfirmRetries,
			RewriteTitle:      cfg.Publish.RewriteTitle,
			RewriteContent:    cfg.Publish.RewriteContent,
			CoverFallback:     cfg.Publish.CoverFallback,
			VideoCover:        cfg.Publish.VideoCover,
			UploadTimeout:     cfg.Publish.UploadTimeout,
			CoverDir:          cfg.Publish.CoverDir,
			Pacer:             a.pacer(),
		})
	}
	return p, nil
}
