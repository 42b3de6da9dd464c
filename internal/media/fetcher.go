// Package media 下载视频和封面图片。
package media

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gocolly/colly/v2"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

// acceptEncoding 与浏览器一致, 响应体由 decompressResponse 解压
const acceptEncoding = "gzip, deflate, br"

// Options 下载参数
type Options struct {
	MaxConcurrent int
	MaxBodySize   int // 字节, 0 表示不限制
	Timeout       time.Duration

	// Transport 为空时使用跳过证书校验的默认传输
	Transport http.RoundTripper
}

// response 一次下载的结果, Body 已解压
type response struct {
	StatusCode  int
	ContentType string
	Body        []byte
}

// fetcher 基于 colly 的单次请求封装, 每次请求使用新的 collector
type fetcher struct {
	headers   models.HeaderProvider
	opts      Options
	transport http.RoundTripper
}

func newFetcher(headers models.HeaderProvider, opts Options) *fetcher {
	transport := opts.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:           http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}
	return &fetcher{headers: headers, opts: opts, transport: transport}
}

// get 下载 rawURL, 非2xx 也返回响应以便调用方记录状态码
func (f *fetcher) get(ctx context.Context, rawURL string) (*response, error) {
	if f.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.opts.Timeout)
		defer cancel()
	}

	c := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
		colly.MaxBodySize(f.opts.MaxBodySize),
	)
	c.WithTransport(f.transport)
	if f.opts.Timeout > 0 {
		c.SetRequestTimeout(f.opts.Timeout)
	}

	c.OnRequest(func(r *colly.Request) {
		if f.headers != nil {
			headers, err := f.headers.GetHeaders()
			if err != nil {
				utils.Warnf("获取HTTP头部失败: %v", err)
			} else {
				for name, values := range headers {
					if len(values) > 0 {
						r.Headers.Set(name, values[0])
					}
				}
			}
		}
		r.Headers.Set("Accept-Encoding", acceptEncoding)
		utils.Debugf("下载: %s", r.URL.String())
	})

	var (
		resp    *response
		respErr error
	)
	c.OnResponse(func(r *colly.Response) {
		body := r.Body
		if enc := r.Headers.Get("Content-Encoding"); enc != "" {
			decompressed, err := decompressResponse(enc, r.Body)
			if err != nil {
				utils.Warnf("解压响应失败 [%s] (编码=%s): %v", r.Request.URL, enc, err)
			} else {
				body = decompressed
			}
		}
		resp = &response{
			StatusCode:  r.StatusCode,
			ContentType: r.Headers.Get("Content-Type"),
			Body:        body,
		}
	})
	c.OnError(func(r *colly.Response, err error) {
		respErr = err
	})

	if err := c.Visit(rawURL); err != nil && respErr == nil {
		respErr = err
	}
	if resp == nil {
		if respErr == nil {
			respErr = fmt.Errorf("没有响应")
		}
		return nil, fmt.Errorf("下载失败 [%s]: %w", rawURL, respErr)
	}
	return resp, nil
}

// decompressResponse 根据Content-Encoding头部解压响应体
// colly 会自行解压 gzip, 因此 gzip 只在数据仍带魔数时处理
func decompressResponse(contentEncoding string, body []byte) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(contentEncoding)) {
	case "gzip":
		if len(body) < 2 || body[0] != 0x1f || body[1] != 0x8b {
			return body, nil
		}
		reader, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("gzip解压失败: %w", err)
		}
		defer reader.Close()
		return readAll(reader, "gzip")

	case "deflate":
		reader := flate.NewReader(bytes.NewReader(body))
		defer reader.Close()
		return readAll(reader, "deflate")

	case "br":
		return readAll(brotli.NewReader(bytes.NewReader(body)), "brotli")

	case "", "identity":
		return body, nil

	default:
		utils.Warnf("未知的Content-Encoding: %s", contentEncoding)
		return body, nil
	}
}

func readAll(r io.Reader, name string) ([]byte, error) {
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s读取失败: %w", name, err)
	}
	return out, nil
}
