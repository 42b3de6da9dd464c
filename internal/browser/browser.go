// Package browser 定义流水线依赖的浏览器抽象, 并提供基于 go-rod 的实现。
//
// 各阶段只依赖 Page/Context/Browser 接口, 测试使用 browsertest 中的假实现。
package browser

import (
	"context"
	"errors"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

// WaitUntil 导航完成的判定条件
type WaitUntil int

const (
	WaitLoad             WaitUntil = iota // load 事件
	WaitDOMContentLoaded                  // DOMContentLoaded
	WaitNetworkIdle                       // 网络基本空闲
)

// ErrBrowserClosed 浏览器已关闭
var ErrBrowserClosed = errors.New("浏览器已关闭")

// Page 一个浏览器标签页
// 所有带 ctx 的方法在 ctx 结束时返回 ctx 的错误, 元素相关方法会等待元素出现
type Page interface {
	Navigate(ctx context.Context, url string, until WaitUntil) error
	HTML(ctx context.Context) (string, error)
	URL() string

	Has(ctx context.Context, selector string) (bool, error)
	WaitVisible(ctx context.Context, selector string) error
	Click(ctx context.Context, selector string) error
	// ClickText 点击 selector 中文本匹配正则 text 的元素
	ClickText(ctx context.Context, selector, text string) error
	// Fill 清空后输入
	Fill(ctx context.Context, selector, value string) error
	// Type 聚焦后追加输入, 用于富文本编辑器
	Type(ctx context.Context, selector, text string) error
	SetFiles(ctx context.Context, selector string, paths []string) error
	Text(ctx context.Context, selector string) (string, error)

	// Cookies 导出作用于给定URL的cookies
	Cookies(ctx context.Context, urls ...string) ([]models.Cookie, error)
	Close() error
}

// Context 隔离的浏览器上下文, 拥有自己的cookie存储
type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Browser 浏览器实例
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	// NewContext 创建预置了cookies的隔离上下文
	NewContext(ctx context.Context, cookies []models.Cookie) (Context, error)
	Close() error
}
