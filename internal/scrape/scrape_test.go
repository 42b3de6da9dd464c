package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/browser/browsertest"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/pool"
	"github.com/RecoveryAshes/toutiao-repost/internal/store"
)

// countingPages 记录借用次数
type countingPages struct {
	*pool.Pool[browser.Page]
	acquired atomic.Int32
}

func (c *countingPages) Acquire(ctx context.Context) (browser.Page, error) {
	c.acquired.Add(1)
	return c.Pool.Acquire(ctx)
}

type fixture struct {
	browser *browsertest.Browser
	pages   *countingPages
	store   store.Store
	scraper *Scraper
}

func newFixture(t *testing.T, routes map[string]string, intervener Intervener) *fixture {
	t.Helper()
	ctx := context.Background()

	b := browsertest.NewBrowser(browsertest.Routes(routes))
	var handles []browser.Page
	for i := 0; i < 2; i++ {
		p, err := b.NewPage(ctx)
		require.NoError(t, err)
		handles = append(handles, p)
	}
	pages := &countingPages{Pool: pool.New(handles)}

	s, err := store.OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return &fixture{
		browser: b,
		pages:   pages,
		store:   s,
		scraper: New(pages, s, intervener, Options{NavigationTimeout: time.Second}),
	}
}

func jumpAnchor(target, title string) string {
	href := "/search/jump?url=" + url.QueryEscape(target) + "&aid=24"
	return fmt.Sprintf(`<a class="text-underline-hover" href="%s">%s</a>`, href, title)
}

func searchPage(n int) string {
	var b strings.Builder
	b.WriteString("<html><body><div class='result'>")
	for i := 1; i <= n; i++ {
		b.WriteString(jumpAnchor(fmt.Sprintf("https://www.toutiao.com/article/73%02d/", i), fmt.Sprintf("标题%d", i)))
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

func TestSearchInsertsStubs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		SearchURL(models.KindArticle, "篮球", 0): searchPage(5),
	}, nil)

	items, err := f.scraper.Search(ctx, "体育", "篮球", 0)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, int32(1), f.pages.acquired.Load(), "每次搜索只借用一个标签页")
	assert.Equal(t, 2, f.pages.Available(), "标签页应已归还")

	rows, err := f.store.ItemsBy(ctx, store.Filter{Category: "体育", Keyword: "篮球"})
	require.NoError(t, err)
	require.Len(t, rows, 5)
	for _, r := range rows {
		assert.Equal(t, "体育", r.Category)
		assert.Equal(t, "篮球", r.Keyword)
		assert.True(t, strings.HasPrefix(r.ID, "article/73"))
		assert.Empty(t, r.Content)
	}
	assert.Equal(t, "https://www.toutiao.com/article/7301/", items[0].URL)
	assert.Equal(t, "标题1", items[0].Title)
}

func TestSearchDedupAcrossKeywords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		SearchURL(models.KindArticle, "篮球", 0): searchPage(3),
		SearchURL(models.KindArticle, "NBA", 0):  searchPage(4),
	}, nil)

	_, err := f.scraper.Search(ctx, "体育", "篮球", 0)
	require.NoError(t, err)
	_, err = f.scraper.Search(ctx, "娱乐", "NBA", 0)
	require.NoError(t, err)

	all, err := f.store.Items(ctx, "")
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, it := range all[:3] {
		assert.Equal(t, "篮球", it.Keyword, "先写入者为准")
	}
	assert.Equal(t, "NBA", all[3].Keyword)
}

func TestSearchNegativePage(t *testing.T) {
	f := newFixture(t, nil, nil)

	items, err := f.scraper.Search(context.Background(), "体育", "篮球", -1)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, f.pages.acquired.Load())
}

type interveneFunc func(ctx context.Context, reason string) error

func (f interveneFunc) Intervene(ctx context.Context, reason string) error { return f(ctx, reason) }

func TestSearchManualIntervention(t *testing.T) {
	ctx := context.Background()
	var f *fixture
	calls := 0
	var reasons []string
	f = newFixture(t, map[string]string{
		SearchURL(models.KindArticle, "篮球", 1): searchPage(1),
	}, interveneFunc(func(ctx context.Context, reason string) error {
		calls++
		reasons = append(reasons, reason)
		// 人工处理后页面刷新为正常结果
		for _, p := range f.browser.Pages() {
			if len(p.Navigations()) > 0 {
				p.SetHTML(searchPage(6))
			}
		}
		return nil
	}))

	items, err := f.scraper.Search(ctx, "体育", "篮球", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, []string{"搜索 体育 分类 篮球 第 2 页遇到反爬, 请在浏览器中完成验证"}, reasons)
	assert.Len(t, items, 6)
	assert.Equal(t, int32(1), f.pages.acquired.Load(), "重新解析使用同一次借用")
	assert.Equal(t, 1, f.browser.Navigations(), "重新解析不重新导航")
}

func TestSearchInterventionError(t *testing.T) {
	f := newFixture(t, map[string]string{
		SearchURL(models.KindArticle, "篮球", 0): searchPage(0),
	}, interveneFunc(func(ctx context.Context, reason string) error {
		return context.Canceled
	}))

	_, err := f.scraper.Search(context.Background(), "体育", "篮球", 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 2, f.pages.Available())
}

func TestSearchNavigationFailureReleasesPage(t *testing.T) {
	f := newFixture(t, nil, nil)

	_, err := f.scraper.Search(context.Background(), "体育", "篮球", 0)
	assert.Error(t, err)
	assert.Equal(t, 2, f.pages.Available())
}

const (
	articleURL = "https://www.toutiao.com/article/7301/"
	profileURL = "https://www.toutiao.com/c/user/token/MS4wLjABAAAA/"
)

func detailPage(interaction string) string {
	return `<html><body>
<div class="article-meta"><span>2024-05-01 10:30</span><span>·</span><span>头条号</span></div>
<article class="syl-article-base"><h1>小标题</h1><p>第一段正文</p><p>第二段<script>alert(1)</script></p></article>
` + interaction + `
<a class="user-name" href="/c/user/token/MS4wLjABAAAA/">作者</a>
</body></html>`
}

const interactionBlock = `<div class="detail-side-interaction">
  <div class="detail-like"><span>1,234</span></div>
  <div class="detail-interaction-comment"><span>评论</span></div>
  <div class="detail-interaction-collect"><span>56</span></div>
</div>`

const profilePage = `<html><body>
<button class="stat-item"><span class="num">10</span><span class="label">关注</span></button>
<button class="stat-item"><span class="num">1.2<span class="unit">万</span></span><span class="label">粉丝</span></button>
</body></html>`

func seedStub(t *testing.T, s store.Store) models.Item {
	t.Helper()
	stub := models.NewStub(models.KindArticle, "article/7301", "标题", articleURL, "体育", "篮球")
	_, err := s.InsertItem(context.Background(), stub)
	require.NoError(t, err)
	return stub
}

func TestFetchDetail(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		articleURL: detailPage(interactionBlock),
		profileURL: profilePage,
	}, nil)
	stub := seedStub(t, f.store)

	item, err := f.scraper.FetchDetail(ctx, stub)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.pages.acquired.Load(), "详情页和作者主页各借用一次")

	assert.Contains(t, item.Content, "第一段正文")
	assert.NotContains(t, item.Content, "alert")
	// 千分位先去掉再解析, 非数字按0
	assert.Equal(t, 1234, item.Counters.Like)
	assert.Equal(t, 0, item.Counters.Comment)
	assert.Equal(t, 56, item.Counters.Collect)
	assert.Equal(t, models.Unknown, item.Counters.View)
	assert.Equal(t, "MS4wLjABAAAA", item.Uploader)
	assert.Equal(t, 12000, item.UploaderFans)

	stored, err := f.store.Item(ctx, stub.ID)
	require.NoError(t, err)
	assert.Equal(t, item.Content, stored.Content)
	assert.Equal(t, 1234, stored.Counters.Like)
	assert.Equal(t, 0, stored.Counters.Comment)
	assert.Equal(t, 12000, stored.UploaderFans)
	require.NotNil(t, stored.UploadTime)
	assert.True(t, stored.UploadTime.Equal(time.Date(2024, 5, 1, 2, 30, 0, 0, time.UTC)))
	assert.Equal(t, "体育", stored.Category)
}

func TestFetchDetailSkipsFetched(t *testing.T) {
	f := newFixture(t, nil, nil)
	item := models.NewStub(models.KindArticle, "1", "t", articleURL, "体育", "篮球")
	item.Content = "existing text"

	got, err := f.scraper.FetchDetail(context.Background(), item)
	require.NoError(t, err)
	assert.Equal(t, item, got)
	assert.Zero(t, f.pages.acquired.Load())
	assert.Zero(t, f.browser.Navigations())
}

func TestFetchDetailIncomplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, map[string]string{
		articleURL: detailPage(""),
		profileURL: profilePage,
	}, nil)
	stub := seedStub(t, f.store)

	item, err := f.scraper.FetchDetail(ctx, stub)
	require.Error(t, err)
	assert.True(t, IsIncomplete(err))
	assert.Contains(t, err.Error(), "互动数")

	// 已解析的部分留在返回值里, 计数保持哨兵值
	assert.NotEmpty(t, item.Content)
	assert.NotNil(t, item.UploadTime)
	assert.Equal(t, models.UnknownCounters(), item.Counters)
	assert.Equal(t, int32(1), f.pages.acquired.Load(), "不应打开作者主页")

	stored, err := f.store.Item(ctx, stub.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Content, "不完整时不写库")
}

func TestFetchVideoDetail(t *testing.T) {
	ctx := context.Background()
	videoURL := "https://www.toutiao.com/video/7302/"
	f := newFixture(t, map[string]string{
		videoURL: `<html><body><div id="root"><video src="//v3-web.toutiao.com/video.mp4?x=1"></video></div></body></html>`,
	}, nil)
	stub := models.NewStub(models.KindVideo, "video/7302", "视频", videoURL, "体育", "篮球")
	_, err := f.store.InsertItem(ctx, stub)
	require.NoError(t, err)

	item, err := f.scraper.FetchDetail(ctx, stub)
	require.NoError(t, err)
	assert.Equal(t, "https://v3-web.toutiao.com/video.mp4?x=1", item.DownloadURL)

	stored, err := f.store.Item(ctx, stub.ID)
	require.NoError(t, err)
	assert.Equal(t, item.DownloadURL, stored.DownloadURL)

	// 已有下载链接时跳过
	f.pages.acquired.Store(0)
	_, err = f.scraper.FetchDetail(ctx, stored)
	require.NoError(t, err)
	assert.Zero(t, f.pages.acquired.Load())
}
