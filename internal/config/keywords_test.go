package config

import (
	"errors"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

func TestLoadKeywords(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Keywords
		wantErr bool
	}{
		{
			name:    "正常文件",
			content: "体育:\n  - 篮球\n  - 足球\n财经:\n  - 股票\n",
			want:    Keywords{"体育": {"篮球", "足球"}, "财经": {"股票"}},
		},
		{
			name:    "去重和去空白",
			content: "体育:\n  - \" 篮球 \"\n  - 篮球\n  - \"\"\n",
			want:    Keywords{"体育": {"篮球"}},
		},
		{name: "空文件", content: "", wantErr: true},
		{name: "分类没有关键词", content: "体育: []\n", wantErr: true},
		{name: "格式错误", content: "体育: [篮球\n", wantErr: true},
		{name: "不是映射", content: "- 篮球\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "keywords.yaml")
			writeFile(t, path, tt.content)

			got, err := LoadKeywords(path)
			if tt.wantErr {
				var cfgErr *models.ConfigError
				if !errors.As(err, &cfgErr) {
					t.Fatalf("期望 ConfigError, 实际 %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("加载失败: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("期望 %v, 实际 %v", tt.want, got)
			}
		})
	}
}

func TestKeywordsUnits(t *testing.T) {
	kw := Keywords{"财经": {"股票"}, "体育": {"篮球", "足球"}}

	all := kw.Units("", "")
	want := []Unit{{"体育", "篮球"}, {"体育", "足球"}, {"财经", "股票"}}
	if !reflect.DeepEqual(all, want) {
		t.Errorf("期望 %v, 实际 %v", want, all)
	}

	if got := kw.Units("体育", ""); len(got) != 2 {
		t.Errorf("按分类筛选应得到2个单元, 实际 %v", got)
	}
	if got := kw.Units("", "股票"); len(got) != 1 || got[0].Category != "财经" {
		t.Errorf("按关键词筛选错误: %v", got)
	}
	if got := kw.Units("娱乐", ""); len(got) != 0 {
		t.Errorf("不存在的分类应返回空, 实际 %v", got)
	}
	if s := want[0].String(); s != "体育/篮球" {
		t.Errorf("Unit.String() = %s", s)
	}
}
