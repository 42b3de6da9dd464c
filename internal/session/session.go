// Package session 管理发布账号的登录会话。
//
// 一个账号同一时间只能有一个打开的会话: 从获取锁到 Session.Close
// 之间, 同账号的其他调用方都会阻塞。
package session

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/store"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

const (
	WWW = "https://www.toutiao.com/"
	MP  = "https://mp.toutiao.com/"

	mpHost = "mp.toutiao.com"
)

// 页面元素
const (
	selLoggedIn     = "div.user-icon"
	selLoginEntry   = "a.login-button"
	selPhoneInput   = `input[name="normal-input"]`
	selAgreement    = "span.web-login-confirm-info__checkbox"
	selSendCode     = "span, button"
	sendCodeText    = "^(获取验证码|重新发送)$"
	selCodeInput    = `input[name="button-input"]`
	selLoginConfirm = "button.web-login-button"
	publishEntry    = "^发布作品$"
)

var (
	// ErrPartialCookies 只拿到了一个域名的cookies
	ErrPartialCookies = errors.New("cookies不完整: 主站和创作者平台必须同时获取")

	// ErrTooManyAttempts 验证码尝试次数用尽
	ErrTooManyAttempts = errors.New("验证码尝试次数过多")

	// ErrNoCode 用户表示没有收到验证码
	ErrNoCode = errors.New("未收到验证码")
)

var codePattern = regexp.MustCompile(`^\d{4,8}$`)

// CodeSource 验证码来源, 没收到验证码时返回 ErrNoCode
type CodeSource interface {
	Code(ctx context.Context, phone string, attempt int) (string, error)
}

// CookieStore 会话需要的存储操作
type CookieStore interface {
	// Account 读取账号当前保存的cookies, 不存在时返回 store.ErrNotFound
	Account(ctx context.Context, phone string) (models.Account, error)
	ReplaceCookies(ctx context.Context, phone string, cookies []models.Cookie) error
}

// Options 会话参数
type Options struct {
	MaxCodeAttempts   int
	NoCodeBackoff     time.Duration
	StepTimeout       time.Duration // 单个页面元素的最长等待
	ProbeTimeout      time.Duration // 登录状态探测的最长等待
	NavigationTimeout time.Duration
	Pacer             utils.Pacer
	Observer          Observer
}

// Manager 打开账号会话
type Manager struct {
	browser browser.Browser
	locks   *LockTable
	store   CookieStore
	codes   CodeSource
	opts    Options
}

// NewManager 创建会话管理器, locks 应在进程内共享
func NewManager(b browser.Browser, locks *LockTable, cookies CookieStore, codes CodeSource, opts Options) *Manager {
	if opts.MaxCodeAttempts <= 0 {
		opts.MaxCodeAttempts = 5
	}
	if opts.StepTimeout <= 0 {
		opts.StepTimeout = 30 * time.Second
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 10 * time.Second
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 3 * time.Minute
	}
	return &Manager{browser: b, locks: locks, store: cookies, codes: codes, opts: opts}
}

// Session 已认证的执行上下文, 持有账号锁直到 Close
type Session struct {
	Account models.Account

	state   State
	bctx    browser.Context
	page    browser.Page
	unlock  func()
	once    sync.Once
	manager *Manager
	log     zerolog.Logger
}

// State 当前状态
func (s *Session) State() State {
	return s.state
}

// Phone 账号手机号
func (s *Session) Phone() string {
	return s.Account.Phone
}

// Page 会话的标签页
func (s *Session) Page() browser.Page {
	return s.page
}

// Close 关闭标签页和上下文并释放账号锁, 可重复调用
func (s *Session) Close() error {
	var err error
	s.once.Do(func() {
		if s.page != nil {
			err = errors.Join(err, s.page.Close())
		}
		if s.bctx != nil {
			err = errors.Join(err, s.bctx.Close())
		}
		if s.unlock != nil {
			s.unlock()
		}
		s.log.Debug().Msg("会话已关闭")
	})
	return err
}

func (s *Session) transition(to State) {
	from := s.state
	s.state = to
	s.log.Info().Str("from", from.String()).Str("to", to.String()).Msg("会话状态变化")
	if s.manager.opts.Observer != nil {
		s.manager.opts.Observer(s.Account.Phone, from, to)
	}
}

// Open 获取账号锁, 复用有效cookies或走登录流程
// 成功返回的会话处于 AuthenticatedReuse 或 Persisted, 调用方必须 Close
func (m *Manager) Open(ctx context.Context, account models.Account) (*Session, error) {
	s := &Session{
		Account: account,
		manager: m,
		log:     utils.With("session").Str("phone", account.Phone).Logger(),
	}

	s.transition(AcquiringLock)
	unlock, err := m.locks.Lock(ctx, account.Phone)
	if err != nil {
		return nil, err
	}
	s.unlock = unlock

	// 等锁期间前一个会话可能刚登录过, 以存储中的cookies为准
	fresh, err := m.store.Account(ctx, account.Phone)
	switch {
	case err == nil:
		s.Account = fresh
	case !errors.Is(err, store.ErrNotFound):
		_ = s.Close()
		return nil, fmt.Errorf("账号 %s: %w", account.Phone, err)
	}

	if err := m.run(ctx, s); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("账号 %s: %w", account.Phone, err)
	}
	return s, nil
}

func (m *Manager) run(ctx context.Context, s *Session) error {
	bctx, err := m.browser.NewContext(ctx, s.Account.Cookies)
	if err != nil {
		return err
	}
	s.bctx = bctx
	page, err := bctx.NewPage(ctx)
	if err != nil {
		return err
	}
	s.page = page

	s.transition(CheckingCookies)
	if m.probe(ctx, s) {
		s.log.Info().Msg("cookies有效, 无需再次登录")
		s.transition(AuthenticatedReuse)
		return nil
	}

	s.transition(NeedsLogin)
	return m.login(ctx, s)
}

// probe 登录状态探测, 任何不确定的结果都视为需要登录
func (m *Manager) probe(ctx context.Context, s *Session) bool {
	if !s.Account.LoggedIn() {
		s.log.Info().Msg("账号第一次登录")
		return false
	}
	if !s.Account.HasScopedCookies(mpHost) {
		s.log.Warn().Msg("缺少创作者平台cookies")
		return false
	}
	if err := m.navigate(ctx, s.page, WWW); err != nil {
		s.log.Warn().Err(err).Msg("探测登录状态时导航失败")
		return false
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.opts.ProbeTimeout)
	defer cancel()
	if err := s.page.WaitVisible(probeCtx, selLoggedIn); err != nil {
		s.log.Warn().Msg("cookies已过期")
		return false
	}
	return true
}

func (m *Manager) navigate(ctx context.Context, page browser.Page, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, m.opts.NavigationTimeout)
	defer cancel()
	return page.Navigate(navCtx, url, browser.WaitDOMContentLoaded)
}

// step 带超时执行一个页面操作, 之后随机停顿
func (m *Manager) step(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	stepCtx, cancel := context.WithTimeout(ctx, m.opts.StepTimeout)
	defer cancel()
	if err := fn(stepCtx); err != nil {
		return fmt.Errorf("%s失败: %w", name, err)
	}
	return m.opts.Pacer.Sleep(ctx)
}

func (m *Manager) login(ctx context.Context, s *Session) error {
	page := s.page
	if page.URL() != WWW {
		if err := m.navigate(ctx, page, WWW); err != nil {
			return err
		}
	}

	steps := []struct {
		name string
		fn   func(ctx context.Context) error
	}{
		{"点击登录", func(ctx context.Context) error { return page.Click(ctx, selLoginEntry) }},
		{"填写手机号", func(ctx context.Context) error { return page.Fill(ctx, selPhoneInput, s.Account.Phone) }},
		{"勾选协议", func(ctx context.Context) error { return page.Click(ctx, selAgreement) }},
	}
	for _, st := range steps {
		if err := m.step(ctx, st.name, st.fn); err != nil {
			return err
		}
	}

	s.transition(AwaitingVerificationCode)
	if err := m.enterCode(ctx, s); err != nil {
		return err
	}

	return m.capture(ctx, s)
}

// enterCode 请求验证码并提交, 直到登录成功或次数用尽
func (m *Manager) enterCode(ctx context.Context, s *Session) error {
	page := s.page
	resend := true
	for attempt := 1; attempt <= m.opts.MaxCodeAttempts; attempt++ {
		if resend {
			if err := m.step(ctx, "发送验证码", func(ctx context.Context) error {
				return page.ClickText(ctx, selSendCode, sendCodeText)
			}); err != nil {
				return err
			}
		}

		code, err := m.codes.Code(ctx, s.Account.Phone, attempt)
		if errors.Is(err, ErrNoCode) {
			s.log.Warn().Dur("backoff", m.opts.NoCodeBackoff).Msg("未收到验证码, 稍后重新发送")
			if err := sleep(ctx, m.opts.NoCodeBackoff); err != nil {
				return err
			}
			resend = true
			continue
		}
		if err != nil {
			return err
		}
		resend = false
		if !codePattern.MatchString(code) {
			s.log.Warn().Int("attempt", attempt).Msg("验证码格式错误, 请重新输入")
			continue
		}

		if s.state != LoggingIn {
			s.transition(LoggingIn)
		}
		if err := m.step(ctx, "填写验证码", func(ctx context.Context) error {
			return page.Fill(ctx, selCodeInput, code)
		}); err != nil {
			return err
		}
		if err := m.step(ctx, "提交登录", func(ctx context.Context) error {
			return page.Click(ctx, selLoginConfirm)
		}); err != nil {
			return err
		}

		verifyCtx, cancel := context.WithTimeout(ctx, m.opts.StepTimeout)
		err = page.WaitVisible(verifyCtx, selLoggedIn)
		cancel()
		if err == nil {
			s.log.Info().Int("attempt", attempt).Msg("登录成功")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.log.Warn().Int("attempt", attempt).Msg("验证码错误或已过期")
	}
	return ErrTooManyAttempts
}

// capture 依次获取主站和创作者平台的cookies, 两者齐全才整体替换
func (m *Manager) capture(ctx context.Context, s *Session) error {
	page := s.page
	www, err := page.Cookies(ctx, WWW)
	if err != nil {
		return err
	}
	s.log.Info().Str("cookies", utils.SummarizeCookies(www)).Msg("已获取主站cookies")

	if err := m.step(ctx, "跳转创作者平台", func(ctx context.Context) error {
		if err := page.ClickText(ctx, "a", publishEntry); err != nil {
			return err
		}
		return waitHost(ctx, page, mpHost)
	}); err != nil {
		return err
	}

	mp, err := page.Cookies(ctx, MP)
	if err != nil {
		return err
	}
	s.log.Info().Str("cookies", utils.SummarizeCookies(mp)).Msg("已获取创作者平台cookies")

	// 导出 mp 的cookies时父域 .toutiao.com 的也会带上, 必须有 mp 自己的
	if len(www) == 0 || !(models.Account{Cookies: mp}).HasScopedCookies(mpHost) {
		return ErrPartialCookies
	}
	cookies := mergeCookies(www, mp)
	s.transition(CookiesCaptured)

	if err := m.store.ReplaceCookies(ctx, s.Account.Phone, cookies); err != nil {
		return err
	}
	s.Account.Cookies = cookies
	s.transition(Persisted)
	return nil
}

// waitHost 等待标签页跳转到 host
func waitHost(ctx context.Context, page browser.Page, host string) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		if u, err := url.Parse(page.URL()); err == nil && u.Hostname() == host {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("未跳转到 %s (当前 %s): %w", host, page.URL(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// mergeCookies 按 name+domain+path 去重, 后出现的覆盖先出现的
func mergeCookies(sets ...[]models.Cookie) []models.Cookie {
	index := make(map[string]int)
	var out []models.Cookie
	for _, set := range sets {
		for _, c := range set {
			key := c.Name + "|" + c.Domain + "|" + c.Path
			if i, ok := index[key]; ok {
				out[i] = c
				continue
			}
			index[key] = len(out)
			out = append(out, c)
		}
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
