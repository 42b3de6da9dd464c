package publish

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// UploadURL 视频上传页
const UploadURL = "https://mp.toutiao.com/profile_v4/xigua/upload-video?from=toutiao_pc"

// 上传页元素
const (
	selVideoInput      = `input[type="file"]`
	selVideoPublish    = "div.video-batch-footer button"
	videoPublishText   = "^发布$"
	selModal           = "div.byte-modal-content"
	unverifiedText     = "账号信息未完善"
	selUploadPercent   = "span.percent"
	uploadDoneText     = "上传成功"
	selVideoCoverOpen  = "div.fake-upload-trigger"
	selCoverLocalTab   = "ul.header li:nth-child(2)"
	selVideoCoverInput = `div.m-content input[type="file"]`
	selClipDone        = "div.clip-btn-content"
	selCoverDone       = "button.undefined"
)

var (
	// ErrUnverified 账号未实名, 平台不允许发布视频
	ErrUnverified = errors.New("账号未实名认证, 无法发布视频")

	// ErrNoVideoCover 没有配置视频封面
	ErrNoVideoCover = errors.New("未配置视频封面 (publish.video_cover 或 publish.cover_fallback)")
)

// PublishVideo 上传已下载的视频并发布
// 平台在第一次点击发布时检查实名, 未实名返回 ErrUnverified
func (p *Publisher) PublishVideo(ctx context.Context, sess Session, item models.Item, sem *semaphore.Weighted) (bool, error) {
	if !item.Downloaded() {
		return false, fmt.Errorf("视频 %s 还没有下载", item.ID)
	}
	cover := p.opts.VideoCover
	if cover == "" {
		cover = p.opts.CoverFallback
	}
	if cover == "" {
		return false, ErrNoVideoCover
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer sem.Release(1)

	log := utils.With("publish").Str("phone", sess.Phone()).Str("item", item.ID).Logger()
	page := sess.Page()

	upload := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"打开上传页", func(ctx context.Context) error {
			navCtx, cancel := context.WithTimeout(ctx, p.opts.NavigationTimeout)
			defer cancel()
			return page.Navigate(navCtx, UploadURL, browser.WaitNetworkIdle)
		}},
		{"选择视频", func(ctx context.Context) error {
			return page.SetFiles(ctx, selVideoInput, []string{item.Path})
		}},
		{"检查实名", func(ctx context.Context) error {
			return page.ClickText(ctx, selVideoPublish, videoPublishText)
		}},
	}
	for _, st := range upload {
		if err := p.step(ctx, st.name, st.fn); err != nil {
			log.Error().Err(err).Msg("发布视频失败")
			return false, err
		}
	}

	if unverified(ctx, page) {
		log.Warn().Msg("账号未实名认证, 跳过视频")
		return false, ErrUnverified
	}

	if err := p.stepWithin(ctx, "等待上传", p.opts.UploadTimeout, func(ctx context.Context) error {
		return waitText(ctx, page, selUploadPercent, uploadDoneText)
	}); err != nil {
		log.Error().Err(err).Msg("视频上传失败")
		return false, err
	}
	log.Info().Str("file", item.Path).Msg("视频上传成功")

	finish := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"打开封面", func(ctx context.Context) error { return page.Click(ctx, selVideoCoverOpen) }},
		{"本地上传", func(ctx context.Context) error { return page.Click(ctx, selCoverLocalTab) }},
		{"上传封面", func(ctx context.Context) error {
			return page.SetFiles(ctx, selVideoCoverInput, []string{cover})
		}},
		{"完成剪裁", func(ctx context.Context) error { return page.Click(ctx, selClipDone) }},
		{"确定封面", func(ctx context.Context) error { return page.Click(ctx, selCoverConfirm) }},
		{"再次确定", func(ctx context.Context) error { return page.Click(ctx, selCoverDone) }},
		{"发布", func(ctx context.Context) error {
			return page.ClickText(ctx, selVideoPublish, videoPublishText)
		}},
	}
	for _, st := range finish {
		if err := p.step(ctx, st.name, st.fn); err != nil {
			log.Error().Err(err).Msg("发布视频失败")
			return false, err
		}
	}
	log.Info().Str("title", item.Title).Msg("视频发布成功")
	return true, nil
}

// unverified 检查实名提示弹窗
func unverified(ctx context.Context, page browser.Page) bool {
	has, err := page.Has(ctx, selModal)
	if err != nil || !has {
		return false
	}
	text, err := page.Text(ctx, selModal)
	return err == nil && strings.Contains(text, unverifiedText)
}

// waitText 轮询直到 selector 的文本包含 text
func waitText(ctx context.Context, page browser.Page, selector, text string) error {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		if has, err := page.Has(ctx, selector); err == nil && has {
			if got, err := page.Text(ctx, selector); err == nil && strings.Contains(got, text) {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
