package models

import (
	"fmt"
	"time"
)

// Kind 内容类型
type Kind string

const (
	KindArticle Kind = "article" // 图文
	KindVideo   Kind = "video"   // 视频
)

// Unknown 计数类字段的哨兵值,表示尚未抓取
const Unknown = -1

// ParseKind 解析内容类型
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindArticle, KindVideo:
		return Kind(s), nil
	case "":
		return KindArticle, nil
	}
	return "", fmt.Errorf("未知的内容类型: %s (有效值: article, video)", s)
}

// Counters 互动计数,-1 表示未知
type Counters struct {
	Like    int `json:"like"`
	Comment int `json:"comment"`
	Collect int `json:"collect"`
	View    int `json:"view"`
}

// UnknownCounters 全部为哨兵值的计数
func UnknownCounters() Counters {
	return Counters{Like: Unknown, Comment: Unknown, Collect: Unknown, View: Unknown}
}

// Item 头条上的一篇文章或一个视频
//
// 搜索阶段只写入 id/title/url/category/keyword(存根),
// 详情阶段再补全其余字段。
type Item struct {
	ID       string `json:"id"`
	Kind     Kind   `json:"kind"`
	Title    string `json:"title"`
	URL      string `json:"url"`
	Category string `json:"category"`
	Keyword  string `json:"keyword"`

	Content      string     `json:"content,omitempty"` // markdown 正文
	Counters     Counters   `json:"counters"`
	Uploader     string     `json:"uploader,omitempty"`
	UploaderFans int        `json:"uploader_fans"`
	UploadTime   *time.Time `json:"upload_time,omitempty"`

	// 仅视频使用
	DownloadURL string `json:"download_url,omitempty"`
	MD5         string `json:"md5,omitempty"`
	Path        string `json:"path,omitempty"`
}

// NewStub 创建存根
func NewStub(kind Kind, id, title, url, category, keyword string) Item {
	return Item{
		ID:           id,
		Kind:         kind,
		Title:        title,
		URL:          url,
		Category:     category,
		Keyword:      keyword,
		Counters:     UnknownCounters(),
		UploaderFans: Unknown,
	}
}

// DetailFetched 详情是否已抓取完成
// 文章看正文,视频看下载链接
func (i Item) DetailFetched() bool {
	if i.Kind == KindVideo {
		return i.DownloadURL != ""
	}
	return i.Content != ""
}

// Downloaded 视频是否已下载到本地
func (i Item) Downloaded() bool {
	return i.MD5 != "" && i.Path != ""
}
