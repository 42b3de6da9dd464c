package browser

import (
	"context"
	"fmt"
	"net/http"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// Options 浏览器启动参数
type Options struct {
	Headless bool
	Bin      string      // 浏览器可执行文件, 为空时由 launcher 自动下载/查找
	Stealth  bool        // 使用 go-rod/stealth 创建标签页
	Headers  http.Header // 每个标签页附加的请求头
}

// RodBrowser 基于 go-rod 的 Browser 实现
type RodBrowser struct {
	browser  *rod.Browser
	launcher *launcher.Launcher
	opts     Options
}

// Launch 启动本地 Chromium 并连接
func Launch(opts Options) (*RodBrowser, error) {
	l := launcher.New().
		Headless(opts.Headless).
		Set("ignore-certificate-errors").
		Set("disable-blink-features", "AutomationControlled")
	if opts.Bin != "" {
		l = l.Bin(opts.Bin)
	}

	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("启动浏览器失败: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("连接浏览器失败: %w", err)
	}

	utils.Debugf("浏览器已启动: %s (headless=%v, stealth=%v)", controlURL, opts.Headless, opts.Stealth)
	return &RodBrowser{browser: b, launcher: l, opts: opts}, nil
}

// NewPage 在默认上下文中打开标签页
func (rb *RodBrowser) NewPage(ctx context.Context) (Page, error) {
	return rb.openPage(rb.browser.Context(ctx))
}

// NewContext 创建隐身上下文并写入cookies
func (rb *RodBrowser) NewContext(ctx context.Context, cookies []models.Cookie) (Context, error) {
	inc, err := rb.browser.Context(ctx).Incognito()
	if err != nil {
		return nil, fmt.Errorf("创建浏览器上下文失败: %w", err)
	}
	if len(cookies) > 0 {
		if err := inc.SetCookies(toCookieParams(cookies)); err != nil {
			_ = inc.Close()
			return nil, fmt.Errorf("写入cookies失败: %w", err)
		}
	}
	return &rodContext{owner: rb, browser: inc}, nil
}

// Close 关闭浏览器进程
func (rb *RodBrowser) Close() error {
	err := rb.browser.Close()
	rb.launcher.Cleanup()
	if err != nil {
		return fmt.Errorf("关闭浏览器失败: %w", err)
	}
	utils.Debugf("浏览器已关闭")
	return nil
}

func (rb *RodBrowser) openPage(b *rod.Browser) (Page, error) {
	var (
		p   *rod.Page
		err error
	)
	if rb.opts.Stealth {
		p, err = stealth.Page(b)
	} else {
		p, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return nil, fmt.Errorf("创建标签页失败(浏览器可能已崩溃): %w", err)
	}

	if dict := flattenHeaders(rb.opts.Headers); len(dict) > 0 {
		if _, err := p.SetExtraHeaders(dict); err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("设置请求头失败: %w", err)
		}
	}
	return &rodPage{page: p}, nil
}

type rodContext struct {
	owner   *RodBrowser
	browser *rod.Browser
}

func (rc *rodContext) NewPage(ctx context.Context) (Page, error) {
	return rc.owner.openPage(rc.browser.Context(ctx))
}

// Close 对隐身上下文只销毁上下文本身
func (rc *rodContext) Close() error {
	return rc.browser.Close()
}

type rodPage struct {
	page *rod.Page
}

func (rp *rodPage) Navigate(ctx context.Context, url string, until WaitUntil) error {
	p := rp.page.Context(ctx)

	var wait func()
	switch until {
	case WaitNetworkIdle:
		wait = p.WaitNavigation(proto.PageLifecycleEventNameNetworkAlmostIdle)
	case WaitDOMContentLoaded:
		wait = p.WaitNavigation(proto.PageLifecycleEventNameDOMContentLoaded)
	}

	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("导航失败 [%s]: %w", url, err)
	}

	if wait == nil {
		if err := p.WaitLoad(); err != nil {
			return fmt.Errorf("等待页面加载失败 [%s]: %w", url, err)
		}
		return nil
	}
	wait()
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("等待页面加载超时 [%s]: %w", url, err)
	}
	return nil
}

func (rp *rodPage) HTML(ctx context.Context) (string, error) {
	return rp.page.Context(ctx).HTML()
}

func (rp *rodPage) URL() string {
	info, err := rp.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (rp *rodPage) Has(ctx context.Context, selector string) (bool, error) {
	has, _, err := rp.page.Context(ctx).Has(selector)
	return has, err
}

func (rp *rodPage) element(ctx context.Context, selector string) (*rod.Element, error) {
	el, err := rp.page.Context(ctx).Element(selector)
	if err != nil {
		return nil, fmt.Errorf("查找元素失败 [%s]: %w", selector, err)
	}
	return el, nil
}

func (rp *rodPage) WaitVisible(ctx context.Context, selector string) error {
	el, err := rp.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.WaitVisible(); err != nil {
		return fmt.Errorf("等待元素可见失败 [%s]: %w", selector, err)
	}
	return nil
}

func (rp *rodPage) Click(ctx context.Context, selector string) error {
	el, err := rp.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (rp *rodPage) ClickText(ctx context.Context, selector, text string) error {
	el, err := rp.page.Context(ctx).ElementR(selector, text)
	if err != nil {
		return fmt.Errorf("查找元素失败 [%s /%s/]: %w", selector, text, err)
	}
	return el.Click(proto.InputMouseButtonLeft, 1)
}

func (rp *rodPage) Fill(ctx context.Context, selector, value string) error {
	el, err := rp.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.SelectAllText(); err != nil {
		return fmt.Errorf("选中已有内容失败 [%s]: %w", selector, err)
	}
	return el.Input(value)
}

func (rp *rodPage) Type(ctx context.Context, selector, text string) error {
	el, err := rp.element(ctx, selector)
	if err != nil {
		return err
	}
	if err := el.Focus(); err != nil {
		return fmt.Errorf("聚焦失败 [%s]: %w", selector, err)
	}
	return rp.page.Context(ctx).InsertText(text)
}

func (rp *rodPage) SetFiles(ctx context.Context, selector string, paths []string) error {
	el, err := rp.element(ctx, selector)
	if err != nil {
		return err
	}
	return el.SetFiles(paths)
}

func (rp *rodPage) Text(ctx context.Context, selector string) (string, error) {
	el, err := rp.element(ctx, selector)
	if err != nil {
		return "", err
	}
	return el.Text()
}

func (rp *rodPage) Cookies(ctx context.Context, urls ...string) ([]models.Cookie, error) {
	raw, err := rp.page.Context(ctx).Cookies(urls)
	if err != nil {
		return nil, fmt.Errorf("读取cookies失败: %w", err)
	}
	return fromNetworkCookies(raw), nil
}

func (rp *rodPage) Close() error {
	return rp.page.Close()
}

func toCookieParams(cookies []models.Cookie) []*proto.NetworkCookieParam {
	out := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		path := c.Path
		if path == "" {
			path = "/"
		}
		out = append(out, &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			SameSite: proto.NetworkCookieSameSite(c.SameSite),
			Expires:  proto.TimeSinceEpoch(c.Expires),
		})
	}
	return out
}

func fromNetworkCookies(raw []*proto.NetworkCookie) []models.Cookie {
	out := make([]models.Cookie, 0, len(raw))
	for _, c := range raw {
		out = append(out, models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  float64(c.Expires),
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		})
	}
	return out
}

// flattenHeaders 转成 rod SetExtraHeaders 需要的 key, value, key, value...
func flattenHeaders(h http.Header) []string {
	dict := make([]string, 0, len(h)*2)
	for name, values := range h {
		if len(values) == 0 {
			continue
		}
		dict = append(dict, name, values[0])
	}
	return dict
}
