package publish

import (
	"strings"
	"testing"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"纯文本", "你好", "你好"},
		{"代码围栏", "```python\nprint(1)\n```", "print(1)"},
		{"连续反引号", "a ```` b", "a  b"},
		{"图片", "前![图](https://a.com/1.png)后", "前后"},
		{"链接保留文字", "看[这里](https://a.com)吧", "看这里吧"},
		{"图片链接", "[![图](https://a.com/1.png)](https://a.com)", ""},
		{"多余空行", "a\n\n\n\nb", "a\n\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Sanitize(tt.in); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, 期望 %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFirstImage(t *testing.T) {
	md := "文字\n![a](https://p3.toutiaoimg.com/1.jpg \"标题\")\n![b](https://p3.toutiaoimg.com/2.jpg)"
	if got := FirstImage(md); got != "https://p3.toutiaoimg.com/1.jpg" {
		t.Errorf("FirstImage = %q", got)
	}
	if got := FirstImage("没有图片"); got != "" {
		t.Errorf("FirstImage = %q, 期望空", got)
	}
}

func TestFilter(t *testing.T) {
	long := strings.Repeat("字", 101)
	mk := func(id string, kind models.Kind, content string, fans int) models.Item {
		it := models.NewStub(kind, id, "", "", "", "")
		it.Content = content
		it.UploaderFans = fans
		return it
	}
	items := []models.Item{
		mk("ok", models.KindArticle, long, 500),
		mk("unknown-fans", models.KindArticle, long, models.Unknown),
		mk("short", models.KindArticle, strings.Repeat("字", 100), 500),
		mk("famous", models.KindArticle, long, 100000),
		mk("video", models.KindVideo, long, 500),
	}

	got := Filter(items, 100, 100000)
	var ids []string
	for _, it := range got {
		ids = append(ids, it.ID)
	}
	if strings.Join(ids, ",") != "ok,unknown-fans" {
		t.Errorf("Filter = %v", ids)
	}
}

func TestFilterVideos(t *testing.T) {
	mk := func(id string, kind models.Kind, downloaded bool, fans int) models.Item {
		it := models.NewStub(kind, id, "", "", "", "")
		it.UploaderFans = fans
		if downloaded {
			it.MD5 = "d41d8cd98f00b204e9800998ecf8427e"
			it.Path = "videos/" + id + ".mp4"
		}
		return it
	}
	items := []models.Item{
		mk("ok", models.KindVideo, true, 500),
		mk("unknown-fans", models.KindVideo, true, models.Unknown),
		mk("not-downloaded", models.KindVideo, false, 500),
		mk("famous", models.KindVideo, true, 100000),
		mk("article", models.KindArticle, true, 500),
	}

	var ids []string
	for _, it := range FilterVideos(items, 100000) {
		ids = append(ids, it.ID)
	}
	if strings.Join(ids, ",") != "ok,unknown-fans" {
		t.Errorf("FilterVideos = %v", ids)
	}
}
