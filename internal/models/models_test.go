package models

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"有效的HTTP URL", "http://example.com", false},
		{"有效的HTTPS URL", "https://www.toutiao.com/article/7300000000000000000/", false},
		{"无效的协议", "ftp://example.com", true},
		{"无效的URL", "not a url", true},
		{"空URL", "", true},
		{"无协议", "example.com", true},
		{"缺少主机名", "https:///path", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			var ve *ValidationError
			if err != nil && !errors.As(err, &ve) {
				t.Errorf("期望 *ValidationError, 实际 %T", err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	tests := []struct {
		in      string
		want    Kind
		wantErr bool
	}{
		{"article", KindArticle, false},
		{"video", KindVideo, false},
		{"", KindArticle, false},
		{"audio", "", true},
	}
	for _, tt := range tests {
		got, err := ParseKind(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseKind(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseKind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNewStub(t *testing.T) {
	item := NewStub(KindArticle, "7301", "标题", "https://www.toutiao.com/article/7301/", "体育", "篮球")

	if item.Counters != UnknownCounters() {
		t.Errorf("存根计数应全部为哨兵值, got %+v", item.Counters)
	}
	if item.UploaderFans != Unknown {
		t.Errorf("存根粉丝数应为 %d, got %d", Unknown, item.UploaderFans)
	}
	if item.UploadTime != nil || item.Content != "" || item.Uploader != "" {
		t.Errorf("存根不应包含详情字段: %+v", item)
	}
	if item.DetailFetched() {
		t.Error("存根不应被视为详情已抓取")
	}
}

func TestItem_DetailFetched(t *testing.T) {
	tests := []struct {
		name string
		item Item
		want bool
	}{
		{"文章有正文", Item{Kind: KindArticle, Content: "正文"}, true},
		{"文章无正文", Item{Kind: KindArticle}, false},
		{"视频有下载链接", Item{Kind: KindVideo, DownloadURL: "https://v.example.com/a.mp4"}, true},
		{"视频只有正文不算", Item{Kind: KindVideo, Content: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.item.DetailFetched(); got != tt.want {
				t.Errorf("DetailFetched() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		phone   string
		wantErr bool
	}{
		{"13800138000", false},
		{"19912345678", false},
		{"12800138000", true},
		{"1380013800", true},
		{"138001380001", true},
		{"1380013800a", true},
		{"", true},
	}
	for _, tt := range tests {
		err := ValidatePhone(tt.phone)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidatePhone(%q) error = %v, wantErr %v", tt.phone, err, tt.wantErr)
		}
		var vErr *ValidationError
		if err != nil && !errors.As(err, &vErr) {
			t.Errorf("应返回 *ValidationError, got %T", err)
		}
	}
}

func TestAccount_CookiesFor(t *testing.T) {
	acc := Account{
		Phone: "13800138000",
		Cookies: []Cookie{
			{Name: "sid", Value: "a", Domain: ".toutiao.com", Path: "/"},
			{Name: "mp", Value: "b", Domain: "mp.toutiao.com", Path: "/"},
			{Name: "other", Value: "c", Domain: "example.com", Path: "/"},
		},
	}

	if !acc.LoggedIn() {
		t.Fatal("有cookies的账号应视为登录过")
	}
	if got := len(acc.CookiesFor("www.toutiao.com")); got != 1 {
		t.Errorf("www 应匹配1个cookie, got %d", got)
	}
	if got := len(acc.CookiesFor("mp.toutiao.com")); got != 2 {
		t.Errorf("mp 应匹配2个cookie, got %d", got)
	}
	if (Account{}).LoggedIn() {
		t.Error("空cookies应视为从未登录")
	}

	if !acc.HasScopedCookies("mp.toutiao.com") {
		t.Error("mp.toutiao.com 自己的cookie应被识别")
	}
	parentOnly := Account{Cookies: acc.Cookies[:1]}
	if len(parentOnly.CookiesFor("mp.toutiao.com")) != 1 || parentOnly.HasScopedCookies("mp.toutiao.com") {
		t.Error("父域cookie作用于 mp, 但不算 mp 自己的cookie")
	}
	sub := Cookie{Domain: ".creator.mp.toutiao.com"}
	if !sub.ScopedTo("mp.toutiao.com") || sub.ScopedTo("www.toutiao.com") {
		t.Error("子域cookie归属判断错误")
	}
}

func TestRunReport_Record(t *testing.T) {
	report := NewRunReport(StageSearch)
	if report.RunID == "" {
		t.Fatal("RunID 不应为空")
	}

	report.Record(UnitResult{Unit: "体育/篮球#0", Status: TaskStatusCompleted, Items: 5})
	report.Record(UnitResult{Unit: "体育/足球#0", Status: TaskStatusFailed, Error: "导航超时"})
	report.Record(UnitResult{Unit: "体育/排球#-1", Status: TaskStatusSkipped})
	report.Finish()

	if report.Stats.Total != 3 || report.Stats.Completed != 1 || report.Stats.Failed != 1 || report.Stats.Skipped != 1 {
		t.Errorf("统计不正确: %+v", report.Stats)
	}
	if report.Stats.Items != 5 {
		t.Errorf("Items = %d, want 5", report.Stats.Items)
	}
	if len(report.Failures()) != 1 {
		t.Errorf("Failures() = %d, want 1", len(report.Failures()))
	}

	data, err := report.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	var decoded RunReport
	if err := decoded.FromJSON(data); err != nil {
		t.Fatalf("FromJSON() error = %v", err)
	}
	if decoded.RunID != report.RunID || len(decoded.Results) != 3 {
		t.Errorf("反序列化结果不一致: %+v", decoded)
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{Field: "name", Name: "X Bad", Reason: "非法字符", Suggestion: "去掉空格"}
	msg := err.Error()
	if !strings.Contains(msg, "X Bad") || !strings.Contains(msg, "建议") {
		t.Errorf("错误信息缺少关键内容: %s", msg)
	}
}

func TestNewRunID(t *testing.T) {
	at := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	a, b := newRunID(at), newRunID(at)
	if !strings.HasPrefix(a, "20240305-140709-") || len(a) != len("20240305-140709-")+8 {
		t.Errorf("运行编号格式错误: %s", a)
	}
	if a == b {
		t.Error("同一秒内的运行编号也不应重复")
	}
}

func TestCliHeaders_Parse(t *testing.T) {
	headers, err := CliHeaders{"  User-Agent  :  Mozilla/5.0  ", "X-Url: https://mp.toutiao.com:443/a", "X-Empty:"}.Parse()
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := headers.Get("User-Agent"); got != "Mozilla/5.0" {
		t.Errorf("名称和值应去除首尾空格, got %q", got)
	}
	if got := headers.Get("X-Url"); got != "https://mp.toutiao.com:443/a" {
		t.Errorf("只按第一个冒号切分, got %q", got)
	}
	if _, ok := headers["X-Empty"]; !ok {
		t.Error("空值头部应保留")
	}

	for _, bad := range []string{"User-Agent Mozilla/5.0", ": value"} {
		if _, err := (CliHeaders{"X-Ok: 1", bad}).Parse(); err == nil || !strings.Contains(err.Error(), "第2项") {
			t.Errorf("%q 应报告第2项格式错误, got %v", bad, err)
		}
	}
}
