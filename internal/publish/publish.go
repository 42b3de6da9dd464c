// Package publish 把文章和视频通过已登录的会话发布到创作者平台。
package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// ComposeURL 图文发布页
const ComposeURL = "https://mp.toutiao.com/profile_v4/graphic/publish"

// 发布页元素
const (
	selTitle        = "div.editor-title textarea"
	selBody         = "div.ProseMirror"
	selCoverAdd     = "div.article-cover-add"
	selCoverInput   = `div.upload-handler input[type="file"]`
	selCoverConfirm = "button.btn-sure"
	selNoCover      = "label, span"
	noCoverText     = "^无封面$"
	selButton       = "button"
	previewText     = "^预览并发布$"
	confirmText     = "^确认发布$"
	composePath     = "/graphic/publish"
)

var (
	// ErrStepTimeout 某一步在限定时间内没有完成
	ErrStepTimeout = errors.New("发布步骤超时")

	// ErrUnconfirmed 多次点击发布后页面仍停留在编辑页
	ErrUnconfirmed = errors.New("发布未确认")
)

// Session 发布需要的会话能力
type Session interface {
	Phone() string
	Page() browser.Page
}

// Rewriter 发布前改写标题/正文
type Rewriter interface {
	RewriteItem(ctx context.Context, item models.Item, title, content bool) models.Item
}

// CoverSource 下载封面图片
type CoverSource interface {
	FetchImage(ctx context.Context, rawURL, dir string) (string, error)
}

// Options 发布参数
type Options struct {
	StepTimeout       time.Duration
	NavigationTimeout time.Duration
	ConfirmRetries    int
	RewriteTitle      bool
	RewriteContent    bool
	CoverFallback     string // 文章没有图片时使用的本地封面
	CoverDir          string
	VideoCover        string        // 视频封面, 为空时使用 CoverFallback
	UploadTimeout     time.Duration // 等待视频上传完成
	Pacer             utils.Pacer
}

// Publisher 发布阶段
type Publisher struct {
	rewriter Rewriter
	covers   CoverSource
	opts     Options
}

// New 创建发布器, rewriter 和 covers 可以为 nil
func New(rewriter Rewriter, covers CoverSource, opts Options) *Publisher {
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 5 * time.Minute
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 3 * time.Minute
	}
	if opts.ConfirmRetries <= 0 {
		opts.ConfirmRetries = 3
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 5 * time.Minute
	}
	return &Publisher{rewriter: rewriter, covers: covers, opts: opts}
}

// Publish 用会话发布一篇文章
// 先从 sem 获取名额; 返回 true 表示页面离开了编辑页
func (p *Publisher) Publish(ctx context.Context, sess Session, item models.Item, sem *semaphore.Weighted, rewrite bool) (bool, error) {
	if err := sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer sem.Release(1)

	log := utils.With("publish").Str("phone", sess.Phone()).Str("item", item.ID).Logger()

	cover := p.cover(ctx, item, log)

	if rewrite && p.rewriter != nil {
		item = p.rewriter.RewriteItem(ctx, item, p.opts.RewriteTitle, p.opts.RewriteContent)
	}
	body := Sanitize(item.Content)

	page := sess.Page()
	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"打开发布页", func(ctx context.Context) error {
			navCtx, cancel := context.WithTimeout(ctx, p.opts.NavigationTimeout)
			defer cancel()
			if err := page.Navigate(navCtx, ComposeURL, browser.WaitNetworkIdle); err != nil {
				return err
			}
			return page.WaitVisible(ctx, selTitle)
		}},
		{"填写标题", func(ctx context.Context) error {
			return page.Fill(ctx, selTitle, item.Title)
		}},
		{"填写正文", func(ctx context.Context) error {
			if err := page.WaitVisible(ctx, selBody); err != nil {
				return err
			}
			return page.Type(ctx, selBody, body)
		}},
		{"选择封面", func(ctx context.Context) error {
			return p.pickCover(ctx, page, cover)
		}},
		{"预览", func(ctx context.Context) error {
			return page.ClickText(ctx, selButton, previewText)
		}},
	}
	for _, st := range steps {
		if err := p.step(ctx, st.name, st.fn); err != nil {
			log.Error().Err(err).Msg("发布失败")
			return false, err
		}
	}

	if err := p.confirm(ctx, page, log); err != nil {
		log.Error().Err(err).Msg("发布失败")
		return false, err
	}
	log.Info().Str("title", item.Title).Msg("发布成功")
	return true, nil
}

// step 带超时执行一步, 超时转换为 ErrStepTimeout
func (p *Publisher) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return p.stepWithin(ctx, name, p.opts.StepTimeout, fn)
}

func (p *Publisher) stepWithin(ctx context.Context, name string, timeout time.Duration, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := fn(stepCtx); err != nil {
		if ctx.Err() == nil && errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s: %v", ErrStepTimeout, name, err)
		}
		return fmt.Errorf("%s失败: %w", name, err)
	}
	return p.opts.Pacer.Sleep(ctx)
}

// cover 准备封面文件, 失败时退回配置的默认封面
func (p *Publisher) cover(ctx context.Context, item models.Item, log zerolog.Logger) string {
	src := FirstImage(item.Content)
	if src == "" || p.covers == nil {
		return p.opts.CoverFallback
	}
	path, err := p.covers.FetchImage(ctx, src, p.opts.CoverDir)
	if err != nil {
		log.Warn().Err(err).Msg("下载封面失败, 使用默认封面")
		return p.opts.CoverFallback
	}
	return path
}

func (p *Publisher) pickCover(ctx context.Context, page browser.Page, cover string) error {
	if cover == "" {
		return page.ClickText(ctx, selNoCover, noCoverText)
	}
	if err := page.Click(ctx, selCoverAdd); err != nil {
		return err
	}
	if err := page.SetFiles(ctx, selCoverInput, []string{cover}); err != nil {
		return err
	}
	return page.Click(ctx, selCoverConfirm)
}

// confirm 点击确认发布, 页面没有离开编辑页时重试
func (p *Publisher) confirm(ctx context.Context, page browser.Page, log zerolog.Logger) error {
	for attempt := 1; attempt <= p.opts.ConfirmRetries; attempt++ {
		err := p.step(ctx, "确认发布", func(ctx context.Context) error {
			if err := page.ClickText(ctx, selButton, confirmText); err != nil {
				return err
			}
			return waitLeave(ctx, page)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Int("attempt", attempt).Msg("发布未确认, 重试")
	}
	return fmt.Errorf("%w: 重试%d次后仍停留在编辑页", ErrUnconfirmed, p.opts.ConfirmRetries)
}

// waitLeave 轮询直到页面离开编辑页
func waitLeave(ctx context.Context, page browser.Page) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !strings.Contains(page.URL(), composePath) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
