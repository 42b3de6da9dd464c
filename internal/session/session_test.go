package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RecoveryAshes/toutiao-repost/internal/browser/browsertest"
	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/store"
)

const (
	loginHTML = `<html><body>
<a class="login-button">登录</a>
<input name="normal-input"/>
<span class="web-login-confirm-info__checkbox"></span>
<span>获取验证码</span>
<input name="button-input"/>
<button class="web-login-button">登录</button>
</body></html>`

	homeHTML = `<html><body><div class="user-icon"></div><a href="https://mp.toutiao.com/">发布作品</a></body></html>`
)

type fakeCookieStore struct {
	mu       sync.Mutex
	replaced map[string][]models.Cookie
	calls    int
	loadErr  error
}

func (f *fakeCookieStore) Account(ctx context.Context, phone string) (models.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return models.Account{}, f.loadErr
	}
	cookies, ok := f.replaced[phone]
	if !ok {
		return models.Account{}, fmt.Errorf("账号 %s: %w", phone, store.ErrNotFound)
	}
	return models.Account{Phone: phone, Cookies: cookies}, nil
}

func (f *fakeCookieStore) saved(phone string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.replaced[phone]
	return ok
}

func (f *fakeCookieStore) ReplaceCookies(ctx context.Context, phone string, cookies []models.Cookie) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.replaced == nil {
		f.replaced = make(map[string][]models.Cookie)
	}
	f.replaced[phone] = cookies
	f.calls++
	return nil
}

// scriptedCodes 依次返回预设的验证码, 用完后一直返回最后一个
type scriptedCodes struct {
	mu      sync.Mutex
	answers []string
	asked   int
}

func (s *scriptedCodes) Code(ctx context.Context, phone string, attempt int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.asked
	if i >= len(s.answers) {
		i = len(s.answers) - 1
	}
	s.asked++
	if s.answers[i] == "" {
		return "", ErrNoCode
	}
	return s.answers[i], nil
}

type recorder struct {
	mu     sync.Mutex
	states []State
}

func (r *recorder) observe(phone string, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *recorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

var (
	wwwCookie = models.Cookie{Name: "sessionid", Value: "w", Domain: ".toutiao.com", Path: "/"}
	mpCookie  = models.Cookie{Name: "mp_sid", Value: "m", Domain: "mp.toutiao.com", Path: "/"}
)

// newLoginBrowser 验证码为 valid 时登录成功; mpCookies=false 模拟创作者平台cookies缺失
func newLoginBrowser(valid string, mpCookies bool) *browsertest.Browser {
	b := browsertest.NewBrowser(browsertest.Routes(map[string]string{WWW: loginHTML}))
	b.OnClick = func(p *browsertest.Page, selector, text string) error {
		switch {
		case selector == selLoginConfirm && p.Filled[selCodeInput] == valid:
			p.SetHTML(homeHTML)
		case text == publishEntry:
			p.SetURL(MP)
		}
		return nil
	}
	b.CookieJar = func(p *browsertest.Page, host string) []models.Cookie {
		switch host {
		case "www.toutiao.com":
			if p.Filled[selCodeInput] == valid {
				return []models.Cookie{wwwCookie}
			}
		case "mp.toutiao.com":
			if mpCookies && p.URL() == MP {
				return []models.Cookie{mpCookie}
			}
		}
		return nil
	}
	return b
}

func testOptions(r *recorder) Options {
	return Options{
		MaxCodeAttempts:   3,
		NoCodeBackoff:     10 * time.Millisecond,
		StepTimeout:       100 * time.Millisecond,
		ProbeTimeout:      50 * time.Millisecond,
		NavigationTimeout: time.Second,
		Observer:          r.observe,
	}
}

func TestOpenLoginPersistsCookies(t *testing.T) {
	b := newLoginBrowser("123456", true)
	st := &fakeCookieStore{}
	rec := &recorder{}
	m := NewManager(b, NewLockTable(), st, &scriptedCodes{answers: []string{"123456"}}, testOptions(rec))

	sess, err := m.Open(context.Background(), models.Account{Phone: "13800138000"})
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, Persisted, sess.State())
	assert.Equal(t, []State{
		AcquiringLock, CheckingCookies, NeedsLogin, AwaitingVerificationCode,
		LoggingIn, CookiesCaptured, Persisted,
	}, rec.seen())

	assert.Equal(t, 1, st.calls)
	assert.ElementsMatch(t, []models.Cookie{wwwCookie, mpCookie}, st.replaced["13800138000"])
	assert.ElementsMatch(t, []models.Cookie{wwwCookie, mpCookie}, sess.Account.Cookies)

	page := b.Pages()[0]
	assert.Equal(t, "13800138000", page.Filled[selPhoneInput])
}

func TestOpenPartialCookiesNotPersisted(t *testing.T) {
	b := newLoginBrowser("123456", false)
	st := &fakeCookieStore{}
	rec := &recorder{}
	m := NewManager(b, NewLockTable(), st, &scriptedCodes{answers: []string{"123456"}}, testOptions(rec))

	_, err := m.Open(context.Background(), models.Account{Phone: "13800138000"})
	require.ErrorIs(t, err, ErrPartialCookies)
	assert.Zero(t, st.calls)
	assert.NotContains(t, rec.seen(), CookiesCaptured)

	// 失败后页面, 上下文和锁都已释放
	assert.True(t, b.Pages()[0].Closed())
	assert.True(t, b.Contexts()[0].Closed())
	unlock, err := m.locks.Lock(context.Background(), "13800138000")
	require.NoError(t, err)
	unlock()
}

func TestOpenReusesValidCookies(t *testing.T) {
	b := browsertest.NewBrowser(browsertest.Routes(map[string]string{WWW: homeHTML}))
	st := &fakeCookieStore{}
	rec := &recorder{}
	m := NewManager(b, NewLockTable(), st, &scriptedCodes{answers: []string{""}}, testOptions(rec))

	acc := models.Account{Phone: "13800138000", Cookies: []models.Cookie{wwwCookie, mpCookie}}
	sess, err := m.Open(context.Background(), acc)
	require.NoError(t, err)
	defer sess.Close()

	assert.Equal(t, AuthenticatedReuse, sess.State())
	assert.Zero(t, st.calls)
	assert.Equal(t, []models.Cookie{wwwCookie, mpCookie}, b.Contexts()[0].Seeded)
}

func TestProbeFailsClosed(t *testing.T) {
	tests := []struct {
		name    string
		routes  map[string]string
		cookies []models.Cookie
	}{
		{"缺少创作者平台cookies", map[string]string{WWW: homeHTML}, []models.Cookie{wwwCookie}},
		{"只有父域cookies", map[string]string{WWW: homeHTML}, []models.Cookie{wwwCookie, {Name: "ttwid", Value: "t", Domain: ".toutiao.com", Path: "/"}}},
		{"登录标记不存在", map[string]string{WWW: loginHTML}, []models.Cookie{wwwCookie, mpCookie}},
		{"导航失败", map[string]string{}, []models.Cookie{wwwCookie, mpCookie}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := browsertest.NewBrowser(browsertest.Routes(tt.routes))
			m := NewManager(b, NewLockTable(), &fakeCookieStore{}, nil, testOptions(&recorder{}))
			bctx, err := b.NewContext(context.Background(), tt.cookies)
			require.NoError(t, err)
			page, err := bctx.NewPage(context.Background())
			require.NoError(t, err)

			s := &Session{Account: models.Account{Phone: "13800138000", Cookies: tt.cookies}, manager: m, page: page, log: zerolog.Nop()}
			assert.False(t, m.probe(context.Background(), s))
		})
	}
}

func TestOpenTooManyAttempts(t *testing.T) {
	b := newLoginBrowser("123456", true)
	st := &fakeCookieStore{}
	codes := &scriptedCodes{answers: []string{"abc", "000000"}}
	m := NewManager(b, NewLockTable(), st, codes, testOptions(&recorder{}))

	_, err := m.Open(context.Background(), models.Account{Phone: "13800138000"})
	require.ErrorIs(t, err, ErrTooManyAttempts)
	assert.Equal(t, 3, codes.asked)
	assert.Zero(t, st.calls)

	// 格式错误的输入不会重新发送验证码
	sends := 0
	for _, c := range b.Pages()[0].Clicks() {
		if c == selSendCode+"|"+sendCodeText {
			sends++
		}
	}
	assert.Equal(t, 1, sends)
}

func TestOpenNoCodeResends(t *testing.T) {
	b := newLoginBrowser("123456", true)
	codes := &scriptedCodes{answers: []string{"", "123456"}}
	m := NewManager(b, NewLockTable(), &fakeCookieStore{}, codes, testOptions(&recorder{}))

	start := time.Now()
	sess, err := m.Open(context.Background(), models.Account{Phone: "13800138000"})
	require.NoError(t, err)
	defer sess.Close()
	assert.GreaterOrEqual(t, time.Since(start), 10*time.Millisecond)

	sends := 0
	for _, c := range b.Pages()[0].Clicks() {
		if c == selSendCode+"|"+sendCodeText {
			sends++
		}
	}
	assert.Equal(t, 2, sends)
}

func TestSameAccountSerialized(t *testing.T) {
	b := browsertest.NewBrowser(browsertest.Routes(map[string]string{WWW: homeHTML}))
	m := NewManager(b, NewLockTable(), &fakeCookieStore{}, nil, testOptions(&recorder{}))
	acc := func(phone string) models.Account {
		return models.Account{Phone: phone, Cookies: []models.Cookie{wwwCookie, mpCookie}}
	}

	first, err := m.Open(context.Background(), acc("13800138000"))
	require.NoError(t, err)

	// 其他账号不受影响
	other, err := m.Open(context.Background(), acc("13900139000"))
	require.NoError(t, err)
	require.NoError(t, other.Close())

	opened := make(chan *Session, 1)
	go func() {
		s, err := m.Open(context.Background(), acc("13800138000"))
		if err == nil {
			opened <- s
		}
		close(opened)
	}()

	select {
	case <-opened:
		t.Fatal("同一账号的第二个会话不应在第一个关闭前打开")
	case <-time.After(50 * time.Millisecond):
	}

	require.NoError(t, first.Close())
	select {
	case s, ok := <-opened:
		require.True(t, ok)
		require.NoError(t, s.Close())
	case <-time.After(2 * time.Second):
		t.Fatal("第一个会话关闭后第二个会话应当打开")
	}
}

func TestLockCancel(t *testing.T) {
	locks := NewLockTable()
	unlock, err := locks.Lock(context.Background(), "13800138000")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = locks.Lock(ctx, "13800138000")
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	unlock()
	unlock()
	again, err := locks.Lock(context.Background(), "13800138000")
	require.NoError(t, err)
	again()
}

func TestMergeCookies(t *testing.T) {
	updated := wwwCookie
	updated.Value = "new"
	got := mergeCookies([]models.Cookie{wwwCookie, mpCookie}, []models.Cookie{updated})
	assert.Equal(t, []models.Cookie{updated, mpCookie}, got)
}

// 浏览器导出 mp 的cookies时会带上父域 .toutiao.com 的cookies,
// 这些不能当作创作者平台已登录
func TestOpenParentDomainCookiesNotEnough(t *testing.T) {
	b := newLoginBrowser("123456", false)
	b.CookieJar = func(p *browsertest.Page, host string) []models.Cookie {
		if p.Filled[selCodeInput] != "123456" {
			return nil
		}
		// 与真实浏览器一致: 按 host 匹配域名
		acc := models.Account{Cookies: []models.Cookie{wwwCookie}}
		return acc.CookiesFor(host)
	}
	st := &fakeCookieStore{}
	rec := &recorder{}
	m := NewManager(b, NewLockTable(), st, &scriptedCodes{answers: []string{"123456"}}, testOptions(rec))

	_, err := m.Open(context.Background(), models.Account{Phone: "13800138000"})
	require.ErrorIs(t, err, ErrPartialCookies)
	assert.Zero(t, st.calls)
	assert.NotContains(t, rec.seen(), Persisted)
}

func TestOpenWaitsForCreatorPlatform(t *testing.T) {
	b := newLoginBrowser("123456", true)
	onClick := b.OnClick
	b.OnClick = func(p *browsertest.Page, selector, text string) error {
		if text == publishEntry {
			// 点击后没有跳转
			return nil
		}
		return onClick(p, selector, text)
	}
	st := &fakeCookieStore{}
	m := NewManager(b, NewLockTable(), st, &scriptedCodes{answers: []string{"123456"}}, testOptions(&recorder{}))

	_, err := m.Open(context.Background(), models.Account{Phone: "13800138000"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "跳转创作者平台")
	assert.Zero(t, st.calls)
}

// 调用方拿着登录前的账号快照排队, 前一个会话登录后后面的会话应直接复用
func TestOpenReloadsCookiesAfterLock(t *testing.T) {
	st := &fakeCookieStore{}
	b := newLoginBrowser("123456", true)
	b.Router = func(u string) (string, error) {
		if u != WWW {
			return "", fmt.Errorf("没有路由: %s", u)
		}
		if st.saved("13800138000") {
			return homeHTML, nil
		}
		return loginHTML, nil
	}
	codes := &scriptedCodes{answers: []string{"123456"}}
	m := NewManager(b, NewLockTable(), st, codes, testOptions(&recorder{}))
	stale := models.Account{Phone: "13800138000"}

	first, err := m.Open(context.Background(), stale)
	require.NoError(t, err)
	require.Equal(t, Persisted, first.State())

	opened := make(chan *Session, 1)
	go func() {
		s, err := m.Open(context.Background(), stale)
		if err == nil {
			opened <- s
		}
		close(opened)
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, first.Close())

	second, ok := <-opened
	require.True(t, ok)
	defer second.Close()
	assert.Equal(t, AuthenticatedReuse, second.State())
	assert.Equal(t, 1, codes.asked)
	assert.Equal(t, 1, st.calls)
	assert.ElementsMatch(t, []models.Cookie{wwwCookie, mpCookie}, b.Contexts()[1].Seeded)
}

func TestOpenStoreErrorReleasesLock(t *testing.T) {
	st := &fakeCookieStore{loadErr: errors.New("database is locked")}
	b := browsertest.NewBrowser(browsertest.Routes(map[string]string{WWW: homeHTML}))
	m := NewManager(b, NewLockTable(), st, nil, testOptions(&recorder{}))

	_, err := m.Open(context.Background(), models.Account{Phone: "13800138000"})
	require.ErrorContains(t, err, "database is locked")
	assert.Empty(t, b.Contexts())

	unlock, err := m.locks.Lock(context.Background(), "13800138000")
	require.NoError(t, err)
	unlock()
}
