package scrape

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// 页面上的时间都是北京时间
var beijing = time.FixedZone("CST", 8*60*60)

var publishLayouts = []string{"2006-01-02 15:04:05", "2006-01-02 15:04"}

// 粉丝数单位, 未识别的单位按1计
var fanUnits = map[string]float64{
	"万": 10000,
}

// FetchDetail 补全条目详情并合并写回存储
//
// 正文非空(视频为下载链接非空)时直接返回, 不借用标签页。
// 文章按顺序抓取 正文 -> 发布时间 -> 互动数 -> 作者 -> 作者主页粉丝数,
// 任何一步缺少区块都返回已填充的部分和 *IncompleteError, 不写库。
func (s *Scraper) FetchDetail(ctx context.Context, item models.Item) (models.Item, error) {
	if item.DetailFetched() {
		utils.Debugf("条目 %s 详情已获取, 跳过", item.ID)
		return item, nil
	}
	if item.Kind == models.KindVideo {
		return s.fetchVideo(ctx, item)
	}
	return s.fetchArticle(ctx, item)
}

func (s *Scraper) snapshot(ctx context.Context, target string, until browser.WaitUntil, ready string) (*goquery.Document, error) {
	var html string
	err := s.withPage(ctx, func(p browser.Page) error {
		var err error
		html, err = s.open(ctx, p, target, until, ready)
		return err
	})
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("解析页面失败 [%s]: %w", target, err)
	}
	return doc, nil
}

func (s *Scraper) fetchArticle(ctx context.Context, item models.Item) (models.Item, error) {
	log := utils.With("detail").Str("id", item.ID).Logger()
	incomplete := func(section string) (models.Item, error) {
		log.Warn().Str("section", section).Msg("详情不完整")
		return item, &IncompleteError{ItemID: item.ID, Section: section}
	}

	log.Info().Str("title", truncate(item.Title, 20)).Msg("获取文章详情")
	doc, err := s.snapshot(ctx, item.URL, browser.WaitNetworkIdle, "")
	if err != nil {
		return item, err
	}

	// 正文
	article := doc.Find("article.syl-article-base").First()
	if article.Length() == 0 {
		return incomplete("正文")
	}
	body, err := goquery.OuterHtml(article)
	if err != nil {
		return item, err
	}
	content, err := s.toMarkdown(body)
	if err != nil {
		return item, err
	}
	item.Content = content

	// 发布时间
	meta := doc.Find("div.article-meta").First()
	if meta.Length() == 0 {
		return incomplete("元数据")
	}
	parts := strings.Split(strings.TrimSpace(meta.Text()), "·")
	if len(parts) < 2 {
		return incomplete("元数据")
	}
	if t, ok := ParsePublishTime(parts[0]); ok {
		item.UploadTime = &t
	} else {
		log.Warn().Str("meta", parts[0]).Msg("无法解析发布时间")
	}

	// 互动数, 区块存在后单项非数字按0计
	interaction := doc.Find("div.detail-side-interaction").First()
	if interaction.Length() == 0 {
		return incomplete("互动数")
	}
	for _, c := range []struct {
		selector string
		section  string
		dst      *int
	}{
		{"div.detail-like span", "点赞数", &item.Counters.Like},
		{"div.detail-interaction-comment span", "评论数", &item.Counters.Comment},
		{"div.detail-interaction-collect span", "收藏数", &item.Counters.Collect},
	} {
		span := interaction.Find(c.selector).First()
		if span.Length() == 0 {
			return incomplete(c.section)
		}
		*c.dst = ParseCount(span.Text())
	}

	// 作者
	userLink := doc.Find("a.user-name").First()
	if userLink.Length() == 0 {
		return incomplete("作者信息")
	}
	href, _ := userLink.Attr("href")
	homepage, uploader := uploaderFromHref(href)
	if uploader == "" {
		return incomplete("作者主页")
	}
	item.Uploader = uploader

	log.Info().Str("uploader", uploader).Msg("已获取文章详情, 打开作者主页")

	// 作者主页, 第二次借用标签页
	profile, err := s.snapshot(ctx, homepage, browser.WaitNetworkIdle, "")
	if err != nil {
		return item, err
	}
	fans, ok := ParseFans(profile)
	if !ok {
		return incomplete("粉丝数")
	}
	item.UploaderFans = fans

	return s.persist(ctx, item, log)
}

func (s *Scraper) fetchVideo(ctx context.Context, item models.Item) (models.Item, error) {
	log := utils.With("detail").Str("id", item.ID).Str("kind", "video").Logger()

	log.Info().Str("url", truncate(item.URL, 100)).Msg("获取视频下载链接")
	doc, err := s.snapshot(ctx, item.URL, browser.WaitDOMContentLoaded, "#root")
	if err != nil {
		return item, err
	}
	src := VideoSource(doc)
	if src == "" {
		log.Warn().Msg("未找到视频标签")
		return item, &IncompleteError{ItemID: item.ID, Section: "视频地址"}
	}
	item.DownloadURL = src
	return s.persist(ctx, item, log)
}

func (s *Scraper) persist(ctx context.Context, item models.Item, log zerolog.Logger) (models.Item, error) {
	ok, err := s.store.UpdateItem(ctx, item)
	if err != nil {
		return item, err
	}
	if !ok {
		log.Warn().Msg("数据库中没有该条目, 未更新")
		return item, nil
	}
	log.Info().Msg("数据库详情已更新")
	return item, nil
}

// ParsePublishTime 解析 "2024-05-01 10:30" 形式的发布时间
func ParsePublishTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range publishLayouts {
		if t, err := time.ParseInLocation(layout, s, beijing); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ParseCount 解析互动数: 去掉千分位后全是数字才取值, 否则为0
func ParseCount(text string) int {
	text = strings.ReplaceAll(strings.TrimSpace(text), ",", "")
	if text == "" {
		return 0
	}
	for _, r := range text {
		if r < '0' || r > '9' {
			return 0
		}
	}
	n, err := strconv.Atoi(text)
	if err != nil {
		return 0
	}
	return n
}

// ParseFans 作者主页第二个统计项是粉丝数, 形如 "1.2万" 或 "3,456"
func ParseFans(doc *goquery.Document) (int, bool) {
	nums := doc.Find("button.stat-item span.num")
	if nums.Length() < 2 {
		return 0, false
	}
	num := nums.Eq(1)

	text := strings.TrimSpace(num.Text())
	unit := 1.0
	if u := num.Find("span.unit"); u.Length() > 0 {
		name := strings.TrimSpace(u.Text())
		if scale, ok := fanUnits[name]; ok {
			unit = scale
		}
		text = strings.Replace(text, name, "", 1)
	} else {
		for name, scale := range fanUnits {
			if strings.HasSuffix(text, name) {
				text, unit = strings.TrimSuffix(text, name), scale
			}
		}
	}
	text = strings.ReplaceAll(text, ",", "")
	value, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, false
	}
	return int(math.Round(value * unit)), true
}

// VideoSource 视频页里 video 标签的地址
func VideoSource(doc *goquery.Document) string {
	src, _ := doc.Find("#root video").First().Attr("src")
	src = strings.TrimSpace(src)
	if strings.HasPrefix(src, "//") {
		return "https:" + src
	}
	return src
}

// uploaderFromHref 作者主页地址和作者标识(路径最后一段)
func uploaderFromHref(href string) (string, string) {
	homepage := absolute(href)
	u, err := url.Parse(homepage)
	if err != nil {
		return homepage, ""
	}
	var last string
	for _, seg := range strings.Split(u.Path, "/") {
		if seg != "" {
			last = seg
		}
	}
	return homepage, last
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
