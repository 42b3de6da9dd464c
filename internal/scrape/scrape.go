// Package scrape 实现搜索与详情两个抓取阶段。
//
// 两个阶段都从标签页池借用标签页, 只在导航和取快照期间持有,
// 解析和写库之前归还。
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// Domain 头条主站
const Domain = "https://www.toutiao.com"

// Pages 标签页来源, *browser.PagePool 满足该接口
type Pages interface {
	Acquire(ctx context.Context) (browser.Page, error)
	Release(browser.Page)
}

// ItemStore 抓取阶段需要的存储操作
type ItemStore interface {
	InsertItem(ctx context.Context, item models.Item) (bool, error)
	UpdateItem(ctx context.Context, item models.Item) (bool, error)
}

// Intervener 遇到反爬时挂起, 等待人工在浏览器里处理
type Intervener interface {
	Intervene(ctx context.Context, reason string) error
}

// IncompleteError 详情页缺少预期的区块, 条目保持存根状态, 下次运行重试
type IncompleteError struct {
	ItemID  string
	Section string
}

func (e *IncompleteError) Error() string {
	return fmt.Sprintf("条目 %s 详情不完整: 缺少%s", e.ItemID, e.Section)
}

// IsIncomplete 判断是否为详情不完整
func IsIncomplete(err error) bool {
	var ie *IncompleteError
	return errors.As(err, &ie)
}

// Options 抓取参数
type Options struct {
	NavigationTimeout time.Duration
	Pacer             utils.Pacer
}

// Scraper 搜索与详情阶段
type Scraper struct {
	pages      Pages
	store      ItemStore
	intervener Intervener
	opts       Options

	policy    *bluemonday.Policy
	converter *converter.Converter
}

// New 创建抓取器, intervener 可以为空(反爬时不重试)
func New(pages Pages, store ItemStore, intervener Intervener, opts Options) *Scraper {
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 3 * time.Minute
	}
	return &Scraper{
		pages:      pages,
		store:      store,
		intervener: intervener,
		opts:       opts,
		policy:     bluemonday.UGCPolicy(),
		converter: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
	}
}

// withPage 借用一个标签页执行 fn, 任何退出路径都会归还
func (s *Scraper) withPage(ctx context.Context, fn func(browser.Page) error) error {
	page, err := s.pages.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("获取标签页失败: %w", err)
	}
	defer s.pages.Release(page)
	return fn(page)
}

// open 导航并取快照, 之后随机停顿
func (s *Scraper) open(ctx context.Context, page browser.Page, url string, until browser.WaitUntil, ready string) (string, error) {
	navCtx, cancel := context.WithTimeout(ctx, s.opts.NavigationTimeout)
	defer cancel()

	if err := page.Navigate(navCtx, url, until); err != nil {
		return "", err
	}
	if ready != "" {
		if err := page.WaitVisible(navCtx, ready); err != nil {
			return "", err
		}
	}
	html, err := page.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("读取页面内容失败 [%s]: %w", url, err)
	}
	if err := s.opts.Pacer.Sleep(ctx); err != nil {
		return "", err
	}
	return html, nil
}

// toMarkdown 清洗后转换为 markdown
func (s *Scraper) toMarkdown(html string) (string, error) {
	clean := s.policy.Sanitize(html)
	md, err := s.converter.ConvertString(clean, converter.WithDomain(Domain))
	if err != nil {
		return "", fmt.Errorf("转换markdown失败: %w", err)
	}
	return md, nil
}
