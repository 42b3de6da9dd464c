// Package rewrite 调用 OpenAI 兼容接口改写标题和正文。
package rewrite

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// Options 客户端参数
type Options struct {
	BaseURL       string
	APIKey        string
	Model         string
	Temperature   float64
	MaxTokens     int
	MaxConcurrent int
	Timeout       time.Duration

	HTTPClient *http.Client
}

// Client 改写服务客户端, 所有调用共享一个并发上限
type Client struct {
	opts Options
	api  *openai.Client
	sem  *semaphore.Weighted
}

// New 创建客户端
func New(opts Options) *Client {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = 4096
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	}
	return &Client{
		opts: opts,
		api:  openai.NewClientWithConfig(cfg),
		sem:  semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// Rewrite 改写一段文本, 任何错误都转成 Failure
func (c *Client) Rewrite(ctx context.Context, text string, variant Variant) Result {
	if strings.TrimSpace(text) == "" {
		return Failure("%s为空", variant)
	}
	if c.opts.BaseURL == "" || c.opts.Model == "" {
		return Failure("改写服务未配置")
	}

	if err := c.sem.Acquire(ctx, 1); err != nil {
		return Failure("等待改写配额失败: %v", err)
	}
	defer c.sem.Release(1)

	utils.Debugf("调用改写接口(%s): %s", variant, preview(text))

	ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.opts.Model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: variant.Prompt() + text},
		},
		Temperature: float32(c.opts.Temperature),
		MaxTokens:   c.opts.MaxTokens,
	})
	if err != nil {
		return failure(err)
	}
	if len(resp.Choices) == 0 {
		return Failure("响应中没有内容")
	}
	answer := strings.TrimSpace(resp.Choices[0].Message.Content)
	if answer == "" {
		return Failure("改写结果为空")
	}
	return Success(answer)
}

// failure 按错误类型给出原因
func failure(err error) Result {
	var (
		apiErr    *openai.APIError
		reqErr    *openai.RequestError
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
	)
	switch {
	case errors.As(err, &apiErr):
		return Failure("接口返回 %d: %s", apiErr.HTTPStatusCode, apiErr.Message)
	case errors.As(err, &reqErr):
		return Failure("接口返回 %d: %v", reqErr.HTTPStatusCode, reqErr.Err)
	case errors.As(err, &syntaxErr), errors.As(err, &typeErr):
		return Failure("解析响应失败: %v", err)
	}
	return Failure("请求失败: %v", err)
}

// RewriteItem 返回改写后的副本, 标题和正文并发改写, 失败的一项保留原文
// 原条目不会被修改, 也不会写回存储
func (c *Client) RewriteItem(ctx context.Context, item models.Item, title, content bool) models.Item {
	out := item
	if !title && !content {
		utils.Warn("未指定需要改写的字段")
		return out
	}

	var titleResult, contentResult Result
	g, gctx := errgroup.WithContext(ctx)
	if title {
		g.Go(func() error {
			titleResult = c.Rewrite(gctx, item.Title, VariantTitle)
			return nil
		})
	}
	if content {
		g.Go(func() error {
			contentResult = c.Rewrite(gctx, item.Content, VariantContent)
			return nil
		})
	}
	_ = g.Wait()

	log := utils.With("rewrite").Str("id", item.ID).Logger()
	if title {
		if !titleResult.OK() {
			log.Error().Str("reason", titleResult.Reason()).Msg("改写标题失败, 使用原标题")
		}
		out.Title = titleResult.Or(item.Title)
	}
	if content {
		if !contentResult.OK() {
			log.Error().Str("reason", contentResult.Reason()).Msg("改写正文失败, 使用原文")
		}
		out.Content = contentResult.Or(item.Content)
	}
	return out
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= 40 {
		return s
	}
	return string(r[:20]) + "……" + string(r[len(r)-20:])
}
