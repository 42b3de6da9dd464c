package models

import (
	"regexp"
	"strings"
)

var phonePattern = regexp.MustCompile(`^1[3-9]\d{9}$`)

// Cookie 结构化的会话cookie
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires,omitempty"` // unix秒, 0 表示会话cookie
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// MatchDomain cookie 是否作用于给定主机
func (c Cookie) MatchDomain(host string) bool {
	d := strings.TrimPrefix(c.Domain, ".")
	return host == d || strings.HasSuffix(host, "."+d)
}

// ScopedTo cookie 是否由 host 或其子域设置
// 与 MatchDomain 相反, 父域cookie(如 .toutiao.com)不算
func (c Cookie) ScopedTo(host string) bool {
	d := strings.TrimPrefix(c.Domain, ".")
	return d == host || strings.HasSuffix(d, "."+host)
}

// Account 发布账号,以手机号为主键
type Account struct {
	Phone    string   `json:"phone"`
	Password string   `json:"-"`
	Cookies  []Cookie `json:"cookies"`
}

// LoggedIn cookies 为空即从未登录过
func (a Account) LoggedIn() bool {
	return len(a.Cookies) > 0
}

// CookiesFor 返回作用于 host 的cookies
func (a Account) CookiesFor(host string) []Cookie {
	var out []Cookie
	for _, c := range a.Cookies {
		if c.MatchDomain(host) {
			out = append(out, c)
		}
	}
	return out
}

// HasScopedCookies 是否持有 host 自己的cookies
func (a Account) HasScopedCookies(host string) bool {
	for _, c := range a.Cookies {
		if c.ScopedTo(host) {
			return true
		}
	}
	return false
}

// ValidatePhone 校验11位手机号
func ValidatePhone(phone string) error {
	if !phonePattern.MatchString(phone) {
		return &ValidationError{
			Field:      "phone",
			Name:       phone,
			Reason:     "手机号格式无效",
			Suggestion: "使用11位大陆手机号, 如 13800138000",
		}
	}
	return nil
}
