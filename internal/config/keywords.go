package config

import (
	"bytes"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

// Keywords 分类 -> 关键词列表
//
//	体育:
//	  - 篮球
//	  - 足球
type Keywords map[string][]string

// Unit 一个 (分类, 关键词) 搜索单元
type Unit struct {
	Category string
	Keyword  string
}

func (u Unit) String() string {
	return u.Category + "/" + u.Keyword
}

// LoadKeywords 读取并校验关键词文件
func LoadKeywords(path string) (Keywords, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &models.ConfigError{FilePath: path, Cause: err}
	}
	if len(data) > MaxConfigFileSize {
		return nil, &models.ConfigError{FilePath: path, Cause: fmt.Errorf("关键词文件过大: %d 字节", len(data))}
	}

	var kw Keywords
	dec := yaml.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&kw); err != nil {
		return nil, &models.ConfigError{FilePath: path, Cause: fmt.Errorf("解析关键词文件失败: %w", err)}
	}
	kw = kw.normalize()
	if err := kw.Validate(); err != nil {
		return nil, &models.ConfigError{FilePath: path, Cause: err}
	}
	return kw, nil
}

// normalize 去掉首尾空白和重复关键词
func (k Keywords) normalize() Keywords {
	out := make(Keywords, len(k))
	for category, words := range k {
		category = strings.TrimSpace(category)
		seen := make(map[string]bool, len(words))
		for _, w := range words {
			w = strings.TrimSpace(w)
			if w == "" || seen[w] {
				continue
			}
			seen[w] = true
			out[category] = append(out[category], w)
		}
		if _, ok := out[category]; !ok {
			out[category] = nil
		}
	}
	return out
}

// Validate 至少一个分类, 每个分类至少一个关键词
func (k Keywords) Validate() error {
	if len(k) == 0 {
		return fmt.Errorf("关键词文件为空")
	}
	for category, words := range k {
		if category == "" {
			return fmt.Errorf("分类名称不能为空")
		}
		if len(words) == 0 {
			return fmt.Errorf("分类 %s 没有关键词", category)
		}
	}
	return nil
}

// Units 展开为搜索单元, 按分类和关键词排序
// category/keyword 非空时只保留匹配的单元
func (k Keywords) Units(category, keyword string) []Unit {
	categories := make([]string, 0, len(k))
	for c := range k {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	var out []Unit
	for _, c := range categories {
		if category != "" && c != category {
			continue
		}
		for _, w := range k[c] {
			if keyword != "" && w != keyword {
				continue
			}
			out = append(out, Unit{Category: c, Keyword: w})
		}
	}
	return out
}
