package publish

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

var (
	fencePattern   = regexp.MustCompile("`{3,}[\\w+-]*")
	imagePattern   = regexp.MustCompile(`!\[[^\]]*\]\(([^)\s]*)[^)]*\)`)
	linkPattern    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	blankLinesExpr = regexp.MustCompile(`\n{3,}`)
)

// Sanitize 整理成编辑器能接受的正文
// 编辑器会把 ``` 自动排版成代码块, 也不支持图片和链接
func Sanitize(markdown string) string {
	s := fencePattern.ReplaceAllString(markdown, "")
	// 先去图片, 否则 ![alt](src) 会被当作链接留下 "!alt"
	s = imagePattern.ReplaceAllString(s, "")
	s = linkPattern.ReplaceAllString(s, "$1")
	s = blankLinesExpr.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// FirstImage 正文中第一张图片的地址
func FirstImage(markdown string) string {
	m := imagePattern.FindStringSubmatch(markdown)
	if m == nil {
		return ""
	}
	return m[1]
}

// Filter 筛选可以发布的文章: 正文足够长且原作者粉丝不多
func Filter(items []models.Item, minContentLength, maxUploaderFans int) []models.Item {
	var out []models.Item
	for _, it := range items {
		if it.Kind != models.KindArticle {
			continue
		}
		if utf8.RuneCountInString(it.Content) <= minContentLength {
			continue
		}
		if it.UploaderFans >= maxUploaderFans {
			continue
		}
		out = append(out, it)
	}
	return out
}

// FilterVideos 筛选可以发布的视频: 已下载且原作者粉丝不多
func FilterVideos(items []models.Item, maxUploaderFans int) []models.Item {
	var out []models.Item
	for _, it := range items {
		if it.Kind != models.KindVideo || !it.Downloaded() {
			continue
		}
		if it.UploaderFans >= maxUploaderFans {
			continue
		}
		out = append(out, it)
	}
	return out
}
