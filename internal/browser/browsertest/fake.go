// Package browsertest 提供内存中的假浏览器, 按 URL 返回固定的 HTML。
//
// 选择器在当前 HTML 上用 goquery 求值; 点击等动作可以通过 OnClick
// 钩子改变页面状态(例如跳转到另一个站点)。
package browsertest

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

// Router 返回 URL 对应的页面 HTML
type Router func(url string) (string, error)

// Routes 固定路由表, 未命中的 URL 返回错误
func Routes(m map[string]string) Router {
	return func(u string) (string, error) {
		if html, ok := m[u]; ok {
			return html, nil
		}
		return "", fmt.Errorf("没有路由: %s", u)
	}
}

// Browser 假浏览器
type Browser struct {
	Router Router

	// OnClick 在 Click/ClickText 之后调用, text 仅 ClickText 时非空
	OnClick func(p *Page, selector, text string) error

	// CookieJar 按 host 导出cookies, 未设置时返回上下文预置的cookies
	CookieJar func(p *Page, host string) []models.Cookie

	mu       sync.Mutex
	pages    []*Page
	contexts []*Context
	closed   bool
}

// NewBrowser 创建假浏览器
func NewBrowser(router Router) *Browser {
	return &Browser{Router: router}
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	return b.newPage(nil)
}

func (b *Browser) NewContext(ctx context.Context, cookies []models.Cookie) (browser.Context, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, browser.ErrBrowserClosed
	}
	c := &Context{b: b, Seeded: append([]models.Cookie(nil), cookies...)}
	b.contexts = append(b.contexts, c)
	return c, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *Browser) newPage(c *Context) (*Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, browser.ErrBrowserClosed
	}
	p := &Page{
		b:      b,
		ctx:    c,
		Filled: make(map[string]string),
		Typed:  make(map[string]string),
		Files:  make(map[string][]string),
	}
	b.pages = append(b.pages, p)
	return p, nil
}

// Pages 所有创建过的标签页
func (b *Browser) Pages() []*Page {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Page(nil), b.pages...)
}

// Contexts 所有创建过的上下文
func (b *Browser) Contexts() []*Context {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Context(nil), b.contexts...)
}

// Navigations 所有标签页的导航次数之和
func (b *Browser) Navigations() int {
	n := 0
	for _, p := range b.Pages() {
		n += len(p.Navigations())
	}
	return n
}

// Context 假的隔离上下文
type Context struct {
	b      *Browser
	Seeded []models.Cookie

	mu     sync.Mutex
	closed bool
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	return c.b.newPage(c)
}

func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// Closed 上下文是否已关闭
func (c *Context) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Page 假标签页
type Page struct {
	b   *Browser
	ctx *Context

	mu          sync.Mutex
	url         string
	html        string
	navigations []string
	clicks      []string
	closed      bool

	Filled map[string]string
	Typed  map[string]string
	Files  map[string][]string
}

// SetHTML 替换当前页面内容, 供钩子使用
func (p *Page) SetHTML(html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.html = html
}

// SetURL 修改当前URL而不触发导航
func (p *Page) SetURL(u string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = u
}

// Context 所属上下文, 默认上下文时为 nil
func (p *Page) Context() *Context {
	return p.ctx
}

// Navigations 导航过的URL
func (p *Page) Navigations() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigations...)
}

// Clicks 点击过的目标
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Closed 是否已关闭
func (p *Page) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func (p *Page) Navigate(ctx context.Context, u string, until browser.WaitUntil) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	html, err := p.b.Router(u)
	p.mu.Lock()
	p.navigations = append(p.navigations, u)
	p.mu.Unlock()
	if err != nil {
		return fmt.Errorf("导航失败 [%s]: %w", u, err)
	}
	p.mu.Lock()
	p.url = u
	p.html = html
	p.mu.Unlock()
	return nil
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) doc() (*goquery.Document, error) {
	p.mu.Lock()
	html := p.html
	p.mu.Unlock()
	return goquery.NewDocumentFromReader(strings.NewReader(html))
}

func (p *Page) find(selector string) (*goquery.Selection, error) {
	doc, err := p.doc()
	if err != nil {
		return nil, err
	}
	return doc.Find(selector), nil
}

func (p *Page) Has(ctx context.Context, selector string) (bool, error) {
	sel, err := p.find(selector)
	if err != nil {
		return false, err
	}
	return sel.Length() > 0, nil
}

// waitFor 轮询直到选择器命中或 ctx 结束
func (p *Page) waitFor(ctx context.Context, selector string, match func(*goquery.Selection) *goquery.Selection) (*goquery.Selection, error) {
	for {
		sel, err := p.find(selector)
		if err != nil {
			return nil, err
		}
		if match != nil {
			sel = match(sel)
		}
		if sel.Length() > 0 {
			return sel, nil
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("等待元素失败 [%s]: %w", selector, ctx.Err())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	_, err := p.waitFor(ctx, selector, nil)
	return err
}

func (p *Page) Click(ctx context.Context, selector string) error {
	if _, err := p.waitFor(ctx, selector, nil); err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	p.mu.Unlock()
	if p.b.OnClick != nil {
		return p.b.OnClick(p, selector, "")
	}
	return nil
}

func (p *Page) ClickText(ctx context.Context, selector, text string) error {
	re, err := regexp.Compile(text)
	if err != nil {
		return err
	}
	_, err = p.waitFor(ctx, selector, func(s *goquery.Selection) *goquery.Selection {
		return s.FilterFunction(func(_ int, el *goquery.Selection) bool {
			return re.MatchString(strings.TrimSpace(el.Text()))
		})
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.clicks = append(p.clicks, selector+"|"+text)
	p.mu.Unlock()
	if p.b.OnClick != nil {
		return p.b.OnClick(p, selector, text)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	if _, err := p.waitFor(ctx, selector, nil); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Filled[selector] = value
	return nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	if _, err := p.waitFor(ctx, selector, nil); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Typed[selector] += text
	return nil
}

func (p *Page) SetFiles(ctx context.Context, selector string, paths []string) error {
	if _, err := p.waitFor(ctx, selector, nil); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Files[selector] = append([]string(nil), paths...)
	return nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	sel, err := p.waitFor(ctx, selector, nil)
	if err != nil {
		return "", err
	}
	return sel.First().Text(), nil
}

func (p *Page) Cookies(ctx context.Context, urls ...string) ([]models.Cookie, error) {
	var out []models.Cookie
	for _, raw := range urls {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, err
		}
		if p.b.CookieJar != nil {
			out = append(out, p.b.CookieJar(p, u.Hostname())...)
			continue
		}
		if p.ctx != nil {
			acc := models.Account{Cookies: p.ctx.Seeded}
			out = append(out, acc.CookiesFor(u.Hostname())...)
		}
	}
	return out, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}
