package scrape

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// 结果数不超过该值时认为遇到了反爬
const minPlausibleAnchors = 2

const anchorSelector = "a.text-underline-hover"

// SearchURL 搜索结果页地址, page 从0开始
func SearchURL(kind models.Kind, keyword string, page int) string {
	tab := "news"
	pd := "information"
	if kind == models.KindVideo {
		tab, pd = "video", "video"
	}
	q := url.Values{}
	q.Set("source", "search_subtab_switch")
	q.Set("keyword", keyword)
	q.Set("dvpf", "pc")
	q.Set("enable_druid_v2", "1")
	q.Set("pd", pd)
	q.Set("action_type", "search_subtab_switch")
	q.Set("page_num", strconv.Itoa(page))
	q.Set("from", tab)
	q.Set("cur_tab_title", tab)
	return Domain + "/search?" + q.Encode()
}

// Search 搜索文章
func (s *Scraper) Search(ctx context.Context, category, keyword string, page int) ([]models.Item, error) {
	return s.SearchKind(ctx, models.KindArticle, category, keyword, page)
}

// SearchKind 搜索一页结果并以存根写入存储(按 id 插入或忽略)
// page 为负数时直接返回空, 不借用标签页
func (s *Scraper) SearchKind(ctx context.Context, kind models.Kind, category, keyword string, page int) ([]models.Item, error) {
	if page < 0 {
		return nil, nil
	}
	log := utils.With("search").
		Str("kind", string(kind)).
		Str("category", category).
		Str("keyword", keyword).
		Int("page", page+1).
		Logger()

	target := SearchURL(kind, keyword, page)
	until, ready := browser.WaitNetworkIdle, ""
	if kind == models.KindVideo {
		until, ready = browser.WaitDOMContentLoaded, anchorSelector
	}

	var items []models.Item
	err := s.withPage(ctx, func(p browser.Page) error {
		log.Info().Msg("搜索")
		html, err := s.open(ctx, p, target, until, ready)
		if err != nil {
			return err
		}
		var anchors int
		items, anchors, err = ParseSearch(html, kind, category, keyword)
		if err != nil {
			return err
		}
		if anchors > minPlausibleAnchors || s.intervener == nil {
			return nil
		}

		log.Warn().Int("anchors", anchors).Msg("搜索结果过少, 可能遇到反爬, 等待人工处理")
		reason := fmt.Sprintf("搜索 %s 分类 %s 第 %d 页遇到反爬, 请在浏览器中完成验证", category, keyword, page+1)
		if err := s.intervener.Intervene(ctx, reason); err != nil {
			return err
		}
		html, err = p.HTML(ctx)
		if err != nil {
			return fmt.Errorf("读取页面内容失败 [%s]: %w", target, err)
		}
		items, _, err = ParseSearch(html, kind, category, keyword)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("搜索 %s/%s 第%d页失败: %w", category, keyword, page+1, err)
	}

	log.Info().Int("items", len(items)).Msg("已获取搜索结果")
	inserted := 0
	for _, item := range items {
		ok, err := s.store.InsertItem(ctx, item)
		if err != nil {
			return items, err
		}
		if ok {
			inserted++
		}
	}
	log.Info().Int("inserted", inserted).Int("duplicates", len(items)-inserted).Msg("已存入数据库")
	return items, nil
}

// ParseSearch 解析搜索结果页, 返回存根和命中的链接数
func ParseSearch(html string, kind models.Kind, category, keyword string) ([]models.Item, int, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, 0, fmt.Errorf("解析搜索结果失败: %w", err)
	}

	anchors := doc.Find(anchorSelector)
	seen := make(map[string]bool)
	var items []models.Item
	anchors.Each(func(i int, a *goquery.Selection) {
		href, _ := a.Attr("href")
		target, ok := resolveJump(href)
		if !ok {
			return
		}
		id := strings.Trim(target.Path, "/")
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		items = append(items, models.NewStub(kind, id, strings.TrimSpace(a.Text()), target.String(), category, keyword))
	})
	return items, anchors.Length(), nil
}

// absolute 把站内相对链接补全为主站地址
func absolute(href string) string {
	if strings.HasPrefix(href, Domain+"/") {
		return href
	}
	if !strings.HasPrefix(href, "/") {
		href = "/" + href
	}
	return Domain + href
}

// resolveJump 搜索结果链接是跳转页, 真实地址在 url 参数里
func resolveJump(href string) (*url.URL, bool) {
	href = absolute(href)
	if href == Domain+"/javascript:void(0)" || href == Domain+"/"+Domain {
		return nil, false
	}
	u, err := url.Parse(href)
	if err != nil {
		return nil, false
	}
	raw := u.Query().Get("url")
	if raw == "" {
		return nil, false
	}
	if unescaped, err := url.PathUnescape(raw); err == nil {
		raw = unescaped
	}
	target, err := url.Parse(raw)
	if err != nil || target.Host == "" {
		return nil, false
	}
	// 广告等站外结果
	site, err := publicsuffix.EffectiveTLDPlusOne(target.Hostname())
	if err != nil || site != "toutiao.com" {
		return nil, false
	}
	return target, true
}
