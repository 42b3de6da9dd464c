package utils

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"

	"github.com/RecoveryAshes/toutiao-repost/internal/models"
)

const (
	// MaxHeaderValueLength 头部值最大长度 (8KB)
	MaxHeaderValueLength = 8192
)

// managedHeaders 不允许用户配置的头部, 值为拒绝原因
var managedHeaders = map[string]string{
	"host":              "由浏览器按目标地址设置",
	"content-length":    "由浏览器按请求体设置",
	"transfer-encoding": "由浏览器按请求体设置",
	"connection":        "由浏览器管理连接",
	"cookie":            "cookies 按账号保存并由会话注入, 全局配置会让所有账号共用同一会话",
	"accept-encoding":   "媒体下载器只解码 gzip/deflate/br, 由下载器自行设置",
}

// HeaderValidator 校验浏览器标签页和媒体下载共用的请求头部
type HeaderValidator struct {
	nameRegex      *regexp.Regexp
	valueRegex     *regexp.Regexp
	maxValueLength int
}

// NewHeaderValidator 创建验证器
func NewHeaderValidator() *HeaderValidator {
	return &HeaderValidator{
		nameRegex: regexp.MustCompile(`^[A-Za-z0-9-]+$`),
		// CDP 的 Network.setExtraHTTPHeaders 只接受可打印 ASCII
		valueRegex:     regexp.MustCompile(`^[\x20-\x7E\t]*$`),
		maxValueLength: MaxHeaderValueLength,
	}
}

// ValidateName 验证头部名称
func (hv *HeaderValidator) ValidateName(name string) error {
	if name == "" {
		return &models.ValidationError{
			Field:  "name",
			Name:   name,
			Reason: "头部名称不能为空",
		}
	}
	if !hv.nameRegex.MatchString(name) {
		return &models.ValidationError{
			Field:      "name",
			Name:       name,
			Reason:     "头部名称包含非法字符 (仅允许字母、数字和连字符)",
			Suggestion: "例如 'User-Agent', 'X-Requested-With'",
		}
	}
	return nil
}

// ValidateValue 验证头部值, Referer 与 User-Agent 有额外要求
func (hv *HeaderValidator) ValidateValue(name, value string) error {
	if len(value) > hv.maxValueLength {
		return &models.ValidationError{
			Field:      "value",
			Name:       name,
			Reason:     fmt.Sprintf("头部值过长: %d 字节 (最大 %d)", len(value), hv.maxValueLength),
			Suggestion: fmt.Sprintf("将值缩短至 %d 字节以内", hv.maxValueLength),
		}
	}
	if !hv.valueRegex.MatchString(value) {
		return &models.ValidationError{
			Field:      "value",
			Name:       name,
			Reason:     "头部值包含非法字符 (仅允许可打印ASCII字符)",
			Suggestion: "移除控制字符和非ASCII字符",
		}
	}

	switch http.CanonicalHeaderKey(name) {
	case "Referer":
		if err := models.ValidateURL(value); err != nil {
			var ve *models.ValidationError
			if errors.As(err, &ve) {
				return &models.ValidationError{
					Field:      "value",
					Name:       name,
					Reason:     "Referer 不是合法地址: " + ve.Reason,
					Suggestion: ve.Suggestion,
				}
			}
			return err
		}
	case "User-Agent":
		if strings.TrimSpace(value) == "" {
			return &models.ValidationError{
				Field:      "value",
				Name:       name,
				Reason:     "User-Agent 不能为空",
				Suggestion: "删除该配置以使用默认 User-Agent",
			}
		}
	}
	return nil
}

// ValidateHeader 验证头部名称+值
func (hv *HeaderValidator) ValidateHeader(name, value string) error {
	if reason, ok := managedHeaders[strings.ToLower(name)]; ok {
		return &models.ValidationError{
			Field:      "name",
			Name:       name,
			Reason:     "不允许自定义: " + reason,
			Suggestion: fmt.Sprintf("移除 '%s' 头部配置", name),
		}
	}
	if err := hv.ValidateName(name); err != nil {
		return err
	}
	return hv.ValidateValue(name, value)
}

// IsForbidden 检查头部是否由程序自行管理
func (hv *HeaderValidator) IsForbidden(name string) bool {
	_, ok := managedHeaders[strings.ToLower(name)]
	return ok
}

// Validate 验证所有头部, 按名称排序汇总全部错误
func (hv *HeaderValidator) Validate(headers http.Header) error {
	names := make([]string, 0, len(headers))
	for name := range headers {
		names = append(names, name)
	}
	sort.Strings(names)

	var errs []error
	for _, name := range names {
		for _, value := range headers[name] {
			if err := hv.ValidateHeader(name, value); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}
