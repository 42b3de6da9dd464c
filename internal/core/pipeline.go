// Package core 编排流水线各阶段: 搜索, 详情, 下载, 登录, 发布。
//
// 每个阶段把工作拆成互相独立的单元, 打乱顺序后并发执行,
// 单元失败只记录在本次运行报告里, 不会中断其他单元。
package core

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/RecoveryAshes/toutiao-repost/internal/config"
	"github.com/RecoveryAshes/toutiao-repost/internal/media"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/publish"
	"github.com/RecoveryAshes/toutiao-repost/internal/scrape"
	"github.com/RecoveryAshes/toutiao-repost/internal/session"
	"github.com/RecoveryAshes/toutiao-repost/internal/store"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// Searcher 搜索阶段
type Searcher interface {
	SearchKind(ctx context.Context, kind models.Kind, category, keyword string, page int) ([]models.Item, error)
}

// DetailFetcher 详情阶段
type DetailFetcher interface {
	FetchDetail(ctx context.Context, item models.Item) (models.Item, error)
}

// Downloader 视频下载
type Downloader interface {
	DownloadVideo(ctx context.Context, item models.Item, dir string) (models.Item, error)
}

// Publisher 发布阶段
type Publisher interface {
	Publish(ctx context.Context, sess publish.Session, item models.Item, sem *semaphore.Weighted, rewrite bool) (bool, error)
	PublishVideo(ctx context.Context, sess publish.Session, item models.Item, sem *semaphore.Weighted) (bool, error)
}

// Session 打开的账号会话
type Session interface {
	publish.Session
	State() session.State
	Close() error
}

// SessionOpener 为账号打开会话
type SessionOpener func(ctx context.Context, account models.Account) (Session, error)

// Sessions 把 session.Manager 适配为 SessionOpener
func Sessions(m *session.Manager) SessionOpener {
	return func(ctx context.Context, account models.Account) (Session, error) {
		s, err := m.Open(ctx, account)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// Options 编排参数
type Options struct {
	Pages              int // 每个关键词搜索的页数
	Kinds              []models.Kind
	PublishConcurrency int
	MinContentLength   int
	MaxUploaderFans    int
	MediaDir           string
	Progress           bool
}

// OptionsFromConfig 从配置生成编排参数
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Pages:              cfg.Crawl.Pages,
		Kinds:              cfg.Kinds(),
		PublishConcurrency: cfg.Publish.MaxConcurrent,
		MinContentLength:   cfg.Publish.MinContentLength,
		MaxUploaderFans:    cfg.Publish.MaxUploaderFans,
		MediaDir:           cfg.Media.Dir,
		Progress:           true,
	}
}

// Pipeline 持有各阶段依赖, 未使用的阶段可以为 nil
type Pipeline struct {
	Store      store.Store
	Keywords   config.Keywords
	Searcher   Searcher
	Details    DetailFetcher
	Downloader Downloader
	Publisher  Publisher
	Sessions   SessionOpener
	Reporter   *utils.Reporter
	Options    Options
}

var errStageUnavailable = errors.New("阶段未配置")

func (p *Pipeline) save(report *models.RunReport) {
	if p.Reporter == nil {
		utils.PrintSummary(report)
		return
	}
	if _, err := p.Reporter.Save(report); err != nil {
		utils.Error(err, "保存运行报告失败")
	}
}

type searchUnit struct {
	config.Unit
	kind models.Kind
	page int
}

func (u searchUnit) String() string {
	return fmt.Sprintf("%s/%s#%d", u.Unit, u.kind, u.page)
}

// RunSearch 按 (分类, 关键词, 类型, 页码) 展开搜索单元并发执行
// category/keyword 为空表示全部
func (p *Pipeline) RunSearch(ctx context.Context, category, keyword string) (*models.RunReport, error) {
	if p.Searcher == nil {
		return nil, fmt.Errorf("搜索: %w", errStageUnavailable)
	}
	base := p.Keywords.Units(category, keyword)
	if len(base) == 0 {
		return nil, fmt.Errorf("没有匹配的关键词: 分类=%q 关键词=%q", category, keyword)
	}
	kinds := p.Options.Kinds
	if len(kinds) == 0 {
		kinds = []models.Kind{models.KindArticle}
	}

	var units []searchUnit
	for _, u := range base {
		for _, kind := range kinds {
			for page := 0; page < p.Options.Pages; page++ {
				units = append(units, searchUnit{Unit: u, kind: kind, page: page})
			}
		}
	}
	utils.Shuffle(units)
	utils.Infof("🚀 开始搜索: %d个关键词, %d个单元", len(base), len(units))

	report := models.NewRunReport(models.StageSearch)
	fanOut(ctx, report, units, searchUnit.String, 0, p.Options.Progress, func(ctx context.Context, u searchUnit) (int, error) {
		items, err := p.Searcher.SearchKind(ctx, u.kind, u.Category, u.Keyword, u.page)
		return len(items), err
	})
	p.save(report)
	return report, nil
}

// loadItems 读取条目, filter 为空时读取所有配置的类型
func (p *Pipeline) loadItems(ctx context.Context, filter store.Filter) ([]models.Item, error) {
	if filter.Category != "" || filter.Keyword != "" {
		return p.Store.ItemsBy(ctx, filter)
	}
	kinds := p.Options.Kinds
	if filter.Kind != "" {
		kinds = []models.Kind{filter.Kind}
	}
	var out []models.Item
	for _, kind := range kinds {
		items, err := p.Store.Items(ctx, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, items...)
	}
	return out, nil
}

func itemName(it models.Item) string {
	return string(it.Kind) + ":" + it.ID
}

// RunDetail 为存根补全详情, 已抓取的条目跳过
func (p *Pipeline) RunDetail(ctx context.Context, filter store.Filter) (*models.RunReport, error) {
	if p.Details == nil {
		return nil, fmt.Errorf("详情: %w", errStageUnavailable)
	}
	items, err := p.loadItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("读取条目失败: %w", err)
	}
	utils.Shuffle(items)
	utils.Infof("🚀 开始获取详情: %d个条目", len(items))

	report := models.NewRunReport(models.StageDetail)
	fanOut(ctx, report, items, itemName, 0, p.Options.Progress, func(ctx context.Context, it models.Item) (int, error) {
		if it.DetailFetched() {
			return 0, skip("详情已获取")
		}
		_, err := p.Details.FetchDetail(ctx, it)
		if scrape.IsIncomplete(err) {
			return 0, skip("%v", err)
		}
		return 0, err
	})
	p.save(report)
	return report, nil
}

// RunDownload 下载已获取链接的视频
func (p *Pipeline) RunDownload(ctx context.Context, filter store.Filter) (*models.RunReport, error) {
	if p.Downloader == nil {
		return nil, fmt.Errorf("下载: %w", errStageUnavailable)
	}
	filter.Kind = models.KindVideo
	items, err := p.loadItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("读取视频失败: %w", err)
	}
	var videos []models.Item
	for _, it := range items {
		if it.Kind == models.KindVideo {
			videos = append(videos, it)
		}
	}
	utils.Shuffle(videos)
	utils.Infof("🚀 开始下载视频: %d个", len(videos))

	report := models.NewRunReport(models.StageDownload)
	fanOut(ctx, report, videos, itemName, 0, p.Options.Progress, func(ctx context.Context, it models.Item) (int, error) {
		switch {
		case it.DownloadURL == "":
			return 0, skip("还没有下载链接")
		case media.Downloaded(it):
			return 0, skip("已下载")
		}
		_, err := p.Downloader.DownloadVideo(ctx, it, p.Options.MediaDir)
		return 0, err
	})
	p.save(report)
	return report, nil
}

// accounts 读取账号, phone 非空时只取该账号
func (p *Pipeline) accounts(ctx context.Context, phone string) ([]models.Account, error) {
	if phone == "" {
		return p.Store.Accounts(ctx)
	}
	acc, err := p.Store.Account(ctx, phone)
	if err != nil {
		return nil, err
	}
	return []models.Account{acc}, nil
}

// RunLogin 校验或刷新账号cookies
func (p *Pipeline) RunLogin(ctx context.Context, phone string) (*models.RunReport, error) {
	if p.Sessions == nil {
		return nil, fmt.Errorf("登录: %w", errStageUnavailable)
	}
	accounts, err := p.accounts(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("没有账号, 请先执行 account add")
	}

	report := models.NewRunReport(models.StageLogin)
	name := func(a models.Account) string { return a.Phone }
	fanOut(ctx, report, accounts, name, 0, false, func(ctx context.Context, a models.Account) (int, error) {
		sess, err := p.Sessions(ctx, a)
		if err != nil {
			return 0, err
		}
		state := sess.State()
		if err := sess.Close(); err != nil {
			utils.Warnf("关闭账号 %s 的会话失败: %v", a.Phone, err)
		}
		if state == session.AuthenticatedReuse {
			return 0, skip("cookies仍然有效")
		}
		return 0, nil
	})
	p.save(report)
	return report, nil
}

type publishUnit struct {
	item    models.Item
	account models.Account
}

func (u publishUnit) String() string {
	return u.item.ID + "@" + u.account.Phone
}

// RunPublish 把筛选后的每个条目用每个账号各发布一次
// 文章要求正文足够长, 视频要求已下载; 改写只作用于文章
func (p *Pipeline) RunPublish(ctx context.Context, filter store.Filter, phone string, rewrite bool) (*models.RunReport, error) {
	if p.Publisher == nil || p.Sessions == nil {
		return nil, fmt.Errorf("发布: %w", errStageUnavailable)
	}
	candidates, err := p.loadItems(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("读取条目失败: %w", err)
	}
	items := publish.Filter(candidates, p.Options.MinContentLength, p.Options.MaxUploaderFans)
	articles := len(items)
	items = append(items, publish.FilterVideos(candidates, p.Options.MaxUploaderFans)...)
	accounts, err := p.accounts(ctx, phone)
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("没有账号, 请先执行 account add")
	}
	utils.Shuffle(items)

	var units []publishUnit
	for _, it := range items {
		for _, a := range accounts {
			units = append(units, publishUnit{item: it, account: a})
		}
	}
	utils.Infof("🚀 开始发布: %d篇文章, %d个视频 x %d个账号", articles, len(items)-articles, len(accounts))

	concurrency := p.Options.PublishConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	report := models.NewRunReport(models.StagePublish)
	fanOut(ctx, report, units, publishUnit.String, 0, p.Options.Progress, func(ctx context.Context, u publishUnit) (int, error) {
		sess, err := p.Sessions(ctx, u.account)
		if err != nil {
			return 0, err
		}
		defer sess.Close()
		if u.item.Kind == models.KindVideo {
			_, err = p.Publisher.PublishVideo(ctx, sess, u.item, sem)
		} else {
			_, err = p.Publisher.Publish(ctx, sess, u.item, sem, rewrite)
		}
		if errors.Is(err, publish.ErrUnverified) {
			return 0, skip("%v", err)
		}
		return 0, err
	})
	p.save(report)
	return report, nil
}
