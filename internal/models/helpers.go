package models

import (
	"net/url"
	"time"

	"github.com/google/uuid"
)

// ValidateURL 校验绝对的 http(s) 地址, 用于改写服务地址和 Referer 头
func ValidateURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return &ValidationError{Field: "url", Name: raw, Reason: "无法解析的地址"}
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return &ValidationError{Field: "url", Name: raw, Reason: "只支持 http/https 地址", Suggestion: "例如 https://www.toutiao.com/"}
	case u.Host == "":
		return &ValidationError{Field: "url", Name: raw, Reason: "缺少主机名"}
	}
	return nil
}

// newRunID 运行编号, 时间前缀让报告文件按名字排序即按时间排序
func newRunID(now time.Time) string {
	return now.Format("20060102-150405") + "-" + uuid.NewString()[:8]
}
