// Package operator 在终端上与操作员交互: 输入短信验证码, 处理反爬验证。
//
// 所有提示共用一把锁, 多个账号或多个标签页同时需要人工介入时依次排队,
// 不会在终端上交错输出。
package operator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/RecoveryAshes/toutiao-repost/internal/session"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// Console 基于终端的验证码来源和人工介入等待器
type Console struct {
	mu  sync.Mutex
	out io.Writer

	in    io.Reader
	once  sync.Once
	lines chan string
}

// NewConsole 从 in 读取输入, 提示写到 out
func NewConsole(in io.Reader, out io.Writer) *Console {
	return &Console{in: in, out: out}
}

// Stdio 标准输入输出上的控制台
func Stdio() *Console {
	return NewConsole(os.Stdin, os.Stdout)
}

// readLoop 后台读取输入, 读取本身无法取消, 因此放在单独的 goroutine
func (c *Console) readLoop() {
	c.lines = make(chan string)
	go func() {
		defer close(c.lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			c.lines <- strings.TrimSpace(scanner.Text())
		}
	}()
}

func (c *Console) readLine(ctx context.Context) (string, error) {
	c.once.Do(c.readLoop)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return "", io.EOF
		}
		return line, nil
	}
}

// Code 提示输入验证码; 输入 n 表示没有收到, 返回 session.ErrNoCode
func (c *Console) Code(ctx context.Context, phone string, attempt int) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "[%s] 第%d次 请输入短信验证码(没有收到请输入 n): ", phone, attempt)
	line, err := c.readLine(ctx)
	if err != nil {
		return "", fmt.Errorf("读取验证码失败: %w", err)
	}
	if strings.EqualFold(line, "n") {
		return "", session.ErrNoCode
	}
	utils.Debugf("账号 %s 已输入验证码", phone)
	return line, nil
}

// Intervene 提示操作员在浏览器中完成验证后按回车
func (c *Console) Intervene(ctx context.Context, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	utils.Warnf("需要人工介入: %s", reason)
	fmt.Fprintf(c.out, "%s\n请在浏览器中完成验证, 完成后按回车继续: ", reason)
	if _, err := c.readLine(ctx); err != nil {
		return fmt.Errorf("等待人工介入失败: %w", err)
	}
	return nil
}
