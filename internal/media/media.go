package media

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"mime"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
	"github.com/RecoveryAshes/toutiao-repost/internal/utils"
)

var (
	// ErrNotHTTPS 只下载 https 地址, blob 等其他协议跳过
	ErrNotHTTPS = errors.New("不是https地址")

	// ErrUnexpectedType 响应的 Content-Type 与预期不符
	ErrUnexpectedType = errors.New("响应类型不符")
)

// ItemStore 下载完成后回写 md5/path
type ItemStore interface {
	UpdateItem(ctx context.Context, item models.Item) (bool, error)
}

// Downloader 视频和图片下载器, 同时进行的下载数受信号量限制
type Downloader struct {
	fetch *fetcher
	store ItemStore
	sem   *semaphore.Weighted
}

// New 创建下载器
func New(store ItemStore, headers models.HeaderProvider, opts Options) *Downloader {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	return &Downloader{
		fetch: newFetcher(headers, opts),
		store: store,
		sem:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
	}
}

// VideoFileName 视频文件名 {id}--{md5}.mp4
func VideoFileName(id, sum string) string {
	return fmt.Sprintf("%s--%s.mp4", id, sum)
}

// Downloaded 视频文件是否已在本地
func Downloaded(item models.Item) bool {
	if item.Path == "" {
		return false
	}
	_, err := os.Stat(item.Path)
	return err == nil
}

// DownloadVideo 下载视频到 dir 并回写 md5/path
// 已下载的视频直接返回
func (d *Downloader) DownloadVideo(ctx context.Context, item models.Item, dir string) (models.Item, error) {
	if Downloaded(item) {
		utils.Debugf("视频已下载, 跳过: %s", item.Path)
		return item, nil
	}
	if err := checkHTTPS(item.DownloadURL); err != nil {
		return item, fmt.Errorf("视频 %s: %w", item.ID, err)
	}

	body, err := d.get(ctx, item.DownloadURL, "video/")
	if err != nil {
		return item, fmt.Errorf("视频 %s: %w", item.ID, err)
	}

	sum := md5.Sum(body)
	item.MD5 = hex.EncodeToString(sum[:])
	item.Path = filepath.Join(dir, VideoFileName(item.ID, item.MD5))
	if err := writeFile(item.Path, body); err != nil {
		return item, err
	}

	if _, err := d.store.UpdateItem(ctx, item); err != nil {
		return item, fmt.Errorf("保存下载结果失败: %w", err)
	}
	utils.Infof("📥 视频下载成功: %s (%d bytes)", filepath.Base(item.Path), len(body))
	return item, nil
}

// FetchImage 下载图片到 dir, 返回本地路径
func (d *Downloader) FetchImage(ctx context.Context, rawURL, dir string) (string, error) {
	if strings.HasPrefix(rawURL, "//") {
		rawURL = "https:" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("无效的图片地址: %s", rawURL)
	}

	body, contentType, err := d.getTyped(ctx, rawURL, "image/")
	if err != nil {
		return "", err
	}

	name := uuid.NewString() + imageExt(u.Path, contentType)
	p := filepath.Join(dir, name)
	if err := writeFile(p, body); err != nil {
		return "", err
	}
	utils.Debugf("图片已下载: %s -> %s", rawURL, p)
	return p, nil
}

func (d *Downloader) get(ctx context.Context, rawURL, typePrefix string) ([]byte, error) {
	body, _, err := d.getTyped(ctx, rawURL, typePrefix)
	return body, err
}

func (d *Downloader) getTyped(ctx context.Context, rawURL, typePrefix string) ([]byte, string, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, "", err
	}
	defer d.sem.Release(1)

	resp, err := d.fetch.get(ctx, rawURL)
	if err != nil {
		return nil, "", err
	}
	if resp.StatusCode != 200 {
		return nil, "", fmt.Errorf("下载失败 [%s]: HTTP %d", rawURL, resp.StatusCode)
	}
	if !strings.HasPrefix(strings.ToLower(resp.ContentType), typePrefix) {
		return nil, "", fmt.Errorf("%w: %s 的类型为 %q", ErrUnexpectedType, rawURL, resp.ContentType)
	}
	return resp.Body, resp.ContentType, nil
}

func checkHTTPS(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme != "https" {
		return fmt.Errorf("%w: %q", ErrNotHTTPS, rawURL)
	}
	// 详情页没有找到视频时链接会停留在首页
	if strings.Trim(u.Path, "/") == "" {
		return fmt.Errorf("%w: %q 不是视频地址", ErrNotHTTPS, rawURL)
	}
	return nil
}

func imageExt(urlPath, contentType string) string {
	if ext := path.Ext(urlPath); ext != "" && len(ext) <= 5 {
		return ext
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".jpg"
}

func writeFile(p string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("创建目录失败: %w", err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("写入文件失败: %w", err)
	}
	return nil
}
